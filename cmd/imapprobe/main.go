// Command imapprobe checks one IMAP account the way the daemon would use it: it reports
// the server capabilities that decide which code paths run, lists folders, threads the
// newest conversations of a folder and fetches one body.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/models"
)

// capabilities the engine changes behavior for.
var probedCapabilities = []string{"THREAD=REFERENCES", "MOVE", "IDLE", "X-GM-EXT-1", "UIDPLUS", "SPECIAL-USE"}

type probeConfig struct {
	account  *models.Account
	password string
	folder   string
	threads  int
	timeout  time.Duration
}

// Credentials implements imap.CredentialSource for the probed account.
func (c *probeConfig) Credentials(context.Context, string) (*models.Account, string, error) {
	return c.account, c.password, nil
}

func main() {
	cfg, err := loadProbeConfig(os.Getenv)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		log.Fatalf("Probe failed: %v", err)
	}
	log.Println("IMAP probe completed successfully")
}

// loadProbeConfig reads IMAP_SERVER (host:port), IMAP_USER, IMAP_PASSWORD and the optional
// IMAP_TLS (default true), IMAP_FOLDER (default INBOX) and IMAP_THREADS (default 10).
func loadProbeConfig(getenv func(string) string) (*probeConfig, error) {
	server := getenv("IMAP_SERVER")
	user := getenv("IMAP_USER")
	password := getenv("IMAP_PASSWORD")
	if server == "" || user == "" || password == "" {
		return nil, errors.New("IMAP_SERVER, IMAP_USER, and IMAP_PASSWORD environment variables are required")
	}

	host, portText, err := net.SplitHostPort(server)
	if err != nil {
		return nil, fmt.Errorf("IMAP_SERVER must be host:port: %w", err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("IMAP_SERVER has an invalid port %q", portText)
	}

	useTLS := true
	if v := getenv("IMAP_TLS"); v != "" {
		if useTLS, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("IMAP_TLS is not a boolean: %w", err)
		}
	}

	threads := 10
	if v := getenv("IMAP_THREADS"); v != "" {
		if threads, err = strconv.Atoi(v); err != nil || threads <= 0 {
			return nil, fmt.Errorf("IMAP_THREADS must be a positive integer")
		}
	}

	folder := getenv("IMAP_FOLDER")
	if folder == "" {
		folder = "INBOX"
	}

	return &probeConfig{
		account: &models.Account{
			Email:    user,
			Username: user,
			IMAPHost: host,
			IMAPPort: port,
			UseTLS:   useTLS,
		},
		password: password,
		folder:   folder,
		threads:  threads,
		timeout:  imap.DefaultTimeout,
	}, nil
}

func run(ctx context.Context, cfg *probeConfig, out io.Writer) error {
	if err := checkCapabilities(ctx, cfg, out); err != nil {
		return err
	}

	conn := imap.NewConnection(cfg.account.Email, cfg, cfg.timeout)
	defer conn.Logout()

	folders, err := conn.ListFolders(ctx)
	if err != nil {
		return fmt.Errorf("failed to list folders: %w", err)
	}
	_, _ = fmt.Fprintf(out, "Folders (%d):\n", len(folders))
	for _, f := range folders {
		_, _ = fmt.Fprintf(out, "  %s %v\n", f.Name, f.Flags)
	}

	uids, err := conn.SearchUIDsAfter(ctx, cfg.folder, 0)
	if err != nil {
		return fmt.Errorf("failed to search %s: %w", cfg.folder, err)
	}
	_, _ = fmt.Fprintf(out, "%s: %d messages\n", cfg.folder, len(uids))
	if len(uids) == 0 {
		return nil
	}

	start := time.Now()
	roots, err := conn.FetchThreads(ctx, cfg.folder, cfg.threads, 0)
	if err != nil {
		return fmt.Errorf("failed to thread %s: %w", cfg.folder, err)
	}
	_, _ = fmt.Fprintf(out, "Newest %d threads (%s):\n", len(roots), time.Since(start).Round(time.Millisecond))
	printForest(out, roots)

	newest := uids[len(uids)-1]
	body, _, err := conn.FetchEmailBody(ctx, cfg.folder, newest)
	if err != nil {
		return fmt.Errorf("failed to fetch body of UID %d: %w", newest, err)
	}
	_, _ = fmt.Fprintf(out, "Body of UID %d: %d chars text, %d chars html, %d attachments\n",
		newest, len(body.Text), len(body.HTML), len(body.Attachments))
	return nil
}

// checkCapabilities logs in with a bare client and reports the capabilities the engine uses.
func checkCapabilities(ctx context.Context, cfg *probeConfig, out io.Writer) error {
	log.Printf("Connecting to %s...", cfg.account.IMAPAddress())
	c, err := imap.ConnectToIMAP(ctx, cfg.account.IMAPAddress(), cfg.account.UseTLS)
	if err != nil {
		return err
	}
	defer func() { _ = c.Logout() }()

	if err := imap.Login(c, cfg.account.LoginName(), cfg.password); err != nil {
		return err
	}

	caps, err := c.Capability()
	if err != nil {
		return fmt.Errorf("failed to get capabilities: %w", err)
	}

	_, _ = fmt.Fprintln(out, "Capabilities:")
	for _, name := range probedCapabilities {
		mark := "no"
		if caps[name] {
			mark = "yes"
		}
		_, _ = fmt.Fprintf(out, "  %-18s %s\n", name, mark)
	}
	return nil
}

// printForest writes one line per message, indented by depth.
func printForest(out io.Writer, roots []*models.ThreadNode) {
	var walk func(n *models.ThreadNode, depth int)
	walk = func(n *models.ThreadNode, depth int) {
		_, _ = fmt.Fprintf(out, "%s- [%d] %s (%s, %s)\n",
			strings.Repeat("  ", depth+1), n.Message.UID, n.Message.Subject,
			n.Message.Sender, n.Message.Date.Format(time.RFC3339))
		for _, child := range n.Children {
			walk(child, depth+1)
		}
	}
	for _, root := range roots {
		walk(root, 0)
	}
}
