package imap

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap"
	sortthread "github.com/emersion/go-imap-sortthread"
	"github.com/emersion/go-imap/client"
	"github.com/vdavid/mailsync/internal/models"
)

// dialTimeout bounds the TCP (and TLS) handshake.
const dialTimeout = 10 * time.Second

// session is the subset of a logged-in go-imap client the Connection drives.
// *clientSession implements it over the network; tests substitute fakes.
type session interface {
	State() imap.ConnState
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	List(ref, name string, ch chan *imap.MailboxInfo) error
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidCopy(seqset *imap.SeqSet, dest string) error
	UidMove(seqset *imap.SeqSet, dest string) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	Expunge(ch chan uint32) error
	Support(capability string) (bool, error)
	Create(name string) error
	Logout() error
	// Thread runs UID THREAD REFERENCES over the selected mailbox.
	Thread(criteria *imap.SearchCriteria) ([]*sortthread.Thread, error)
}

// dialFunc opens and authenticates a session for the account.
type dialFunc func(ctx context.Context, account *models.Account, password string, timeout time.Duration) (session, error)

// clientSession adds THREAD support to a go-imap client.
type clientSession struct {
	*client.Client
}

func (s *clientSession) Thread(criteria *imap.SearchCriteria) ([]*sortthread.Thread, error) {
	threads, err := sortthread.NewThreadClient(s.Client).UidThread(sortthread.References, criteria)
	if err != nil {
		return nil, fmt.Errorf("THREAD command returned error: %w", err)
	}
	return threads, nil
}

// ConnectToIMAP dials the server. useTLS is false only for local test servers.
func ConnectToIMAP(ctx context.Context, server string, useTLS bool) (*client.Client, error) {
	dialer := &net.Dialer{
		Timeout: dialTimeout,
	}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	if useTLS {
		c, err := client.DialWithDialerTLS(dialer, server, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to dial with TLS: %w", err)
		}
		return c, nil
	}

	c, err := client.DialWithDialer(dialer, server)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	return c, nil
}

// Login authenticates with the IMAP server.
func Login(c *client.Client, username, password string) error {
	if err := c.Login(username, password); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}
	return nil
}

// openClient dials and logs in, leaving a client in the authenticated state.
func openClient(ctx context.Context, account *models.Account, password string, timeout time.Duration) (*client.Client, error) {
	c, err := ConnectToIMAP(ctx, account.IMAPAddress(), account.UseTLS)
	if err != nil {
		return nil, err
	}
	c.Timeout = timeout

	if err := Login(c, account.LoginName(), password); err != nil {
		_ = c.Logout()
		return nil, err
	}
	return c, nil
}

func dialSession(ctx context.Context, account *models.Account, password string, timeout time.Duration) (session, error) {
	c, err := openClient(ctx, account, password, timeout)
	if err != nil {
		return nil, err
	}
	return &clientSession{Client: c}, nil
}
