package imap

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/threading"
	"golang.org/x/time/rate"
)

// DefaultTimeout is the per-command timeout when none is configured.
const DefaultTimeout = 30 * time.Second

// reconnectInterval and reconnectBurst throttle logins after the connection drops.
const (
	reconnectInterval = 2 * time.Second
	reconnectBurst    = 3
)

// State is the lifecycle state of a Connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

// CredentialSource resolves the account configuration and password for login.
type CredentialSource interface {
	Credentials(ctx context.Context, email string) (*models.Account, string, error)
}

// Connection is the single logged-in session for one account.
// Every command sequence (select plus the command using the selection) runs under mu,
// so concurrent callers never interleave on the wire.
type Connection struct {
	email   string
	creds   CredentialSource
	dial    dialFunc
	timeout time.Duration
	limiter *rate.Limiter

	mu               sync.Mutex
	sess             session
	state            State
	selected         string
	selectedReadOnly bool
	lastUsed         time.Time
}

// NewConnection creates a disconnected Connection. It logs in on first use.
func NewConnection(email string, creds CredentialSource, timeout time.Duration) *Connection {
	return newConnection(email, creds, timeout, dialSession)
}

func newConnection(email string, creds CredentialSource, timeout time.Duration, dial dialFunc) *Connection {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Connection{
		email:   email,
		creds:   creds,
		dial:    dial,
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Every(reconnectInterval), reconnectBurst),
	}
}

// Email returns the account this connection belongs to.
func (c *Connection) Email() string {
	return c.email
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastUsed returns when a command last ran.
func (c *Connection) LastUsed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed
}

// withSession ensures the connection is ready and runs fn under the lock.
func (c *Connection) withSession(ctx context.Context, fn func(s session) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.ensureReady(ctx); err != nil {
		return err
	}

	c.lastUsed = time.Now()
	err := fn(c.sess)
	if err != nil {
		c.checkTransport()
	}
	return err
}

// ensureReady connects when there is no live session. Caller holds mu.
func (c *Connection) ensureReady(ctx context.Context) error {
	if c.state == StateReady && c.sess != nil && alive(c.sess.State()) {
		return nil
	}
	c.drop()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("reconnect throttled: %w", err)
	}

	c.state = StateConnecting
	account, password, err := c.creds.Credentials(ctx, c.email)
	if err != nil {
		c.state = StateDisconnected
		return fmt.Errorf("failed to get credentials for %s: %w", c.email, err)
	}

	sess, err := c.dial(ctx, account, password, c.timeout)
	if err != nil {
		c.state = StateDisconnected
		log.Printf("IMAP: failed to connect %s: %v", c.email, err)
		return fmt.Errorf("failed to connect to %s: %w", account.IMAPAddress(), err)
	}

	c.sess = sess
	c.state = StateReady
	log.Printf("IMAP: connected %s", c.email)
	return nil
}

// checkTransport drops the session if the last failure closed it. Caller holds mu.
func (c *Connection) checkTransport() {
	if c.sess != nil && !alive(c.sess.State()) {
		log.Printf("IMAP: connection for %s lost", c.email)
		c.drop()
	}
}

// drop forgets the session without talking to the server. Caller holds mu.
func (c *Connection) drop() {
	c.sess = nil
	c.state = StateDisconnected
	c.selected = ""
}

func alive(state imap.ConnState) bool {
	return state&(imap.AuthenticatedState|imap.SelectedState) != 0
}

// selectFolder selects folder unless it is already selected in the same mode. Caller holds mu.
func (c *Connection) selectFolder(s session, folder string, readOnly bool) error {
	if c.selected == folder && c.selectedReadOnly == readOnly {
		return nil
	}
	if _, err := s.Select(folder, readOnly); err != nil {
		c.selected = ""
		return fmt.Errorf("failed to select folder %s: %w", folder, err)
	}
	c.selected = folder
	c.selectedReadOnly = readOnly
	return nil
}

func (c *Connection) supports(s session, capability string) bool {
	ok, err := s.Support(capability)
	if err != nil {
		log.Printf("IMAP: capability check %s failed for %s: %v", capability, c.email, err)
		return false
	}
	return ok
}

// ListFolders lists every mailbox on the server.
func (c *Connection) ListFolders(ctx context.Context) ([]models.FolderInfo, error) {
	var folders []models.FolderInfo
	err := c.withSession(ctx, func(s session) error {
		var err error
		folders, err = listFolders(s)
		return err
	})
	return folders, err
}

// FetchThreads returns one page of the folder's conversation forest.
// The server's THREAD command is used when available; otherwise, or when it fails,
// every message's headers are fetched and threaded locally.
func (c *Connection) FetchThreads(ctx context.Context, folder string, limit, offset int) ([]*models.ThreadNode, error) {
	var roots []*models.ThreadNode
	err := c.withSession(ctx, func(s session) error {
		if err := c.selectFolder(s, folder, true); err != nil {
			return err
		}

		withThreadID := c.supports(s, "X-GM-EXT-1")

		if c.supports(s, threadCapability) {
			native, err := serverThreads(s, folder, withThreadID)
			if err == nil {
				roots = native
				return nil
			}
			log.Printf("IMAP: THREAD failed for %s/%s, threading from headers: %v", c.email, folder, err)
			if !alive(s.State()) {
				return err
			}
		}

		var err error
		roots, err = headerThreads(s, folder, withThreadID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return threading.Paginate(roots, limit, offset), nil
}

// FetchEmailBody fetches and parses one full message. A missing UID yields an
// empty body, a nil message and no error.
func (c *Connection) FetchEmailBody(ctx context.Context, folder string, uid uint32) (*models.MessageBody, *models.Message, error) {
	var body *models.MessageBody
	var msg *models.Message
	err := c.withSession(ctx, func(s session) error {
		if err := c.selectFolder(s, folder, true); err != nil {
			return err
		}
		var err error
		body, msg, err = fetchFullMessage(s, folder, uid)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	if body == nil {
		body = &models.MessageBody{Headers: map[string]string{}, Attachments: []models.Attachment{}}
	}
	return body, msg, nil
}

// MoveEmails moves uids from folder to target, falling back to copy, flag and expunge
// when the server lacks MOVE.
func (c *Connection) MoveEmails(ctx context.Context, folder string, uids []uint32, target string) error {
	if len(uids) == 0 {
		return nil
	}
	return c.withSession(ctx, func(s session) error {
		if err := c.selectFolder(s, folder, false); err != nil {
			return err
		}
		// The selected mailbox changes content either way.
		defer func() { c.selected = "" }()

		set := uidSet(uids)
		if c.supports(s, "MOVE") {
			err := s.UidMove(set, target)
			if err == nil {
				return nil
			}
			if !alive(s.State()) {
				return fmt.Errorf("failed to move messages to %s: %w", target, err)
			}
			// Some servers advertise MOVE and still refuse it.
			log.Printf("IMAP: MOVE to %s refused for %s, copying instead: %v", target, c.email, err)
		}

		if err := s.UidCopy(set, target); err != nil {
			return fmt.Errorf("failed to copy messages to %s: %w", target, err)
		}
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := s.UidStore(set, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
			return fmt.Errorf("failed to flag moved messages: %w", err)
		}
		if err := s.Expunge(nil); err != nil {
			return fmt.Errorf("failed to expunge moved messages: %w", err)
		}
		return nil
	})
}

// CopyEmails copies uids from folder to target.
func (c *Connection) CopyEmails(ctx context.Context, folder string, uids []uint32, target string) error {
	if len(uids) == 0 {
		return nil
	}
	return c.withSession(ctx, func(s session) error {
		if err := c.selectFolder(s, folder, true); err != nil {
			return err
		}
		if err := s.UidCopy(uidSet(uids), target); err != nil {
			return fmt.Errorf("failed to copy messages to %s: %w", target, err)
		}
		return nil
	})
}

// AddFlags adds flags to uids in folder.
func (c *Connection) AddFlags(ctx context.Context, folder string, uids []uint32, flags []string) error {
	return c.storeFlags(ctx, folder, uids, flags, imap.AddFlags)
}

// RemoveFlags removes flags from uids in folder.
func (c *Connection) RemoveFlags(ctx context.Context, folder string, uids []uint32, flags []string) error {
	return c.storeFlags(ctx, folder, uids, flags, imap.RemoveFlags)
}

func (c *Connection) storeFlags(ctx context.Context, folder string, uids []uint32, flags []string, op imap.FlagsOp) error {
	if len(uids) == 0 || len(flags) == 0 {
		return nil
	}
	values := make([]interface{}, len(flags))
	for i, f := range flags {
		values[i] = f
	}

	return c.withSession(ctx, func(s session) error {
		if err := c.selectFolder(s, folder, false); err != nil {
			return err
		}
		if err := s.UidStore(uidSet(uids), imap.FormatFlagsOp(op, true), values, nil); err != nil {
			return fmt.Errorf("failed to store flags: %w", err)
		}
		return nil
	})
}

// CreateFolder creates a mailbox.
func (c *Connection) CreateFolder(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("folder name is empty")
	}
	return c.withSession(ctx, func(s session) error {
		if err := s.Create(name); err != nil {
			return fmt.Errorf("failed to create folder %s: %w", name, err)
		}
		return nil
	})
}

// SearchUIDsAfter returns the UIDs in folder strictly greater than after, ascending.
func (c *Connection) SearchUIDsAfter(ctx context.Context, folder string, after uint32) ([]uint32, error) {
	var uids []uint32
	err := c.withSession(ctx, func(s session) error {
		if err := c.selectFolder(s, folder, true); err != nil {
			return err
		}
		var err error
		uids, err = searchUIDsAfter(s, after)
		return err
	})
	return uids, err
}

// FetchMessages returns headers and flags of uids in folder.
func (c *Connection) FetchMessages(ctx context.Context, folder string, uids []uint32) ([]*models.Message, error) {
	var messages []*models.Message
	err := c.withSession(ctx, func(s session) error {
		if err := c.selectFolder(s, folder, true); err != nil {
			return err
		}
		var err error
		messages, err = fetchHeaders(s, folder, uids, c.supports(s, "X-GM-EXT-1"))
		return err
	})
	return messages, err
}

// Logout closes the session. Errors are ignored.
func (c *Connection) Logout() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil {
		if err := c.sess.Logout(); err != nil {
			log.Printf("IMAP: logout for %s: %v", c.email, err)
		}
	}
	c.drop()
}
