package testutil

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
	"github.com/vdavid/mailsync/internal/models"
)

// TestIMAPServer represents a test IMAP server instance.
type TestIMAPServer struct {
	Server   *server.Server
	Address  string
	Backend  *memory.Backend
	cleanup  func()
	username string
	password string
}

// NewTestIMAPServer creates a new test IMAP server with an in-memory backend.
// The memory backend creates a default user with username "username" and password "password"
// whose INBOX already holds one message. The server is closed when the test ends.
// It does not advertise THREAD, so clients thread from headers.
func NewTestIMAPServer(t *testing.T) *TestIMAPServer {
	t.Helper()

	be := memory.New()

	s := server.New(be)
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	go func() {
		if err := s.Serve(listener); err != nil {
			t.Logf("IMAP server stopped: %v", err)
		}
	}()

	srv := &TestIMAPServer{
		Server:   s,
		Address:  listener.Addr().String(),
		Backend:  be,
		cleanup:  func() { _ = s.Close() },
		username: "username",
		password: "password",
	}
	t.Cleanup(srv.Close)
	return srv
}

// Close shuts down the test IMAP server.
func (s *TestIMAPServer) Close() {
	if s.cleanup != nil {
		s.cleanup()
		s.cleanup = nil
	}
}

// Username returns the default test username.
func (s *TestIMAPServer) Username() string {
	return s.username
}

// Password returns the default test password.
func (s *TestIMAPServer) Password() string {
	return s.password
}

// Account returns an account configuration pointing at this server without TLS.
func (s *TestIMAPServer) Account(email string) *models.Account {
	host, portText, _ := net.SplitHostPort(s.Address)
	port, _ := strconv.Atoi(portText)
	return &models.Account{
		Email:    email,
		Username: s.username,
		IMAPHost: host,
		IMAPPort: port,
		SMTPHost: host,
		SMTPPort: 25,
		UseTLS:   false,
	}
}

// Credentials implements the IMAP credential source for accounts served by this server.
func (s *TestIMAPServer) Credentials(_ context.Context, email string) (*models.Account, string, error) {
	return s.Account(email), s.password, nil
}

// Connect creates a new IMAP client connection to the test server.
func (s *TestIMAPServer) Connect(t *testing.T) (*imapclient.Client, func()) {
	t.Helper()

	client, err := imapclient.Dial(s.Address)
	if err != nil {
		t.Fatalf("Failed to connect to test server: %v", err)
	}

	if err := client.Login(s.username, s.password); err != nil {
		_ = client.Logout()
		t.Fatalf("Failed to login: %v", err)
	}

	cleanup := func() {
		_ = client.Logout()
	}

	return client, cleanup
}

// CreateFolder creates a mailbox for the default user.
func (s *TestIMAPServer) CreateFolder(t *testing.T, name string) {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	if err := client.Create(name); err != nil {
		t.Fatalf("Failed to create folder %s: %v", name, err)
	}
}

// TestMessage describes a message to append. Empty fields are left out of the headers.
type TestMessage struct {
	MessageID  string
	Subject    string
	From       string
	To         string
	Cc         string
	InReplyTo  string
	References []string
	Date       time.Time
	Flags      []string
	Body       string
}

func (m TestMessage) rfc822() string {
	var b strings.Builder
	header := func(name, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\r\n", name, value)
		}
	}

	date := m.Date
	if date.IsZero() {
		date = time.Now()
	}
	body := m.Body
	if body == "" {
		body = "Test message body."
	}

	header("Message-ID", m.MessageID)
	header("Date", date.Format(time.RFC1123Z))
	header("From", m.From)
	header("To", m.To)
	header("Cc", m.Cc)
	header("Subject", m.Subject)
	header("In-Reply-To", m.InReplyTo)
	header("References", strings.Join(m.References, " "))
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return b.String()
}

// Append adds msg to folderName and returns its UID.
func (s *TestIMAPServer) Append(t *testing.T, folderName string, msg TestMessage) uint32 {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	date := msg.Date
	if date.IsZero() {
		date = time.Now()
	}
	if err := client.Append(folderName, msg.Flags, date, strings.NewReader(msg.rfc822())); err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}

	status, err := client.Select(folderName, true)
	if err != nil {
		t.Fatalf("Failed to select folder: %v", err)
	}
	if status.Messages == 0 {
		t.Fatalf("Message not found after append")
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(status.Messages)
	messages := make(chan *imap.Message, 1)
	if err := client.Fetch(seqSet, []imap.FetchItem{imap.FetchUid}, messages); err != nil {
		t.Fatalf("Failed to fetch UID of appended message: %v", err)
	}
	last := <-messages
	if last == nil {
		t.Fatalf("Server did not return the appended message")
	}
	return last.Uid
}

// AddMessage adds a simple seen message to the specified folder and returns its UID.
func (s *TestIMAPServer) AddMessage(t *testing.T, folderName, messageID, subject, from, to string, sentAt time.Time) uint32 {
	t.Helper()

	return s.Append(t, folderName, TestMessage{
		MessageID: messageID,
		Subject:   subject,
		From:      from,
		To:        to,
		Date:      sentAt,
		Flags:     []string{imap.SeenFlag},
	})
}
