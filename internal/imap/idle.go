package imap

import (
	"context"
	"log"
	"sync"
	"time"

	idle "github.com/emersion/go-imap-idle"
	imapclient "github.com/emersion/go-imap/client"
)

// idleListenerSleep is the backoff duration after an error before retrying IDLE.
const idleListenerSleep = 10 * time.Second

// idlePollInterval is used by servers without IDLE support.
const idlePollInterval = 5 * time.Second

// IdleListener watches INBOX of each account and reports new mail as it arrives.
type IdleListener struct {
	pool      *Pool
	onNewMail func(email string)
	backoff   time.Duration

	mu      sync.Mutex
	ctx     context.Context
	running map[string]context.CancelFunc
}

// NewIdleListener creates a listener that calls onNewMail when INBOX grows.
func NewIdleListener(pool *Pool, onNewMail func(email string)) *IdleListener {
	return &IdleListener{
		pool:      pool,
		onNewMail: onNewMail,
		backoff:   idleListenerSleep,
		running:   make(map[string]context.CancelFunc),
	}
}

// Start watches every email in emails, and any later passed to Watch, until ctx is canceled.
func (l *IdleListener) Start(ctx context.Context, emails []string) {
	l.mu.Lock()
	l.ctx = ctx
	l.mu.Unlock()
	for _, email := range emails {
		l.Watch(email)
	}
}

// Watch starts a listener for email unless one is already running. It does nothing before Start.
func (l *IdleListener) Watch(email string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx == nil || l.ctx.Err() != nil {
		return
	}
	if _, ok := l.running[email]; ok {
		return
	}
	ctx, cancel := context.WithCancel(l.ctx)
	l.running[email] = cancel
	go l.Run(ctx, email)
}

// Unwatch stops the listener of email, if any.
func (l *IdleListener) Unwatch(email string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cancel, ok := l.running[email]; ok {
		cancel()
		delete(l.running, email)
	}
}

// Watching reports whether a listener runs for email.
func (l *IdleListener) Watching(email string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.running[email]
	return ok
}

// Run keeps an IDLE session open for email until ctx is canceled, reconnecting after failures.
func (l *IdleListener) Run(ctx context.Context, email string) {
	for {
		if ctx.Err() != nil {
			return
		}

		c, err := l.pool.openListener(ctx, email)
		if err != nil {
			log.Printf("IMAP IDLE: %v", err)
		} else {
			l.runIdleLoop(ctx, email, c)
			_ = c.Logout()
		}

		// Small backoff before trying again.
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.backoff):
		}
	}
}

// runIdleLoop runs the IDLE command and handles mailbox updates until it ends.
func (l *IdleListener) runIdleLoop(ctx context.Context, email string, client *imapclient.Client) {
	status, err := client.Select("INBOX", true)
	if err != nil {
		log.Printf("IMAP IDLE: failed to select INBOX for %s: %v", email, err)
		return
	}
	inbox := &existsTracker{count: status.Messages}

	updates := make(chan imapclient.Update, 10)
	client.Updates = updates

	idleClient := idle.NewClient(client)
	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- idleClient.IdleWithFallback(stop, idlePollInterval)
	}()

	for {
		select {
		case <-ctx.Done():
			close(stop)
			l.drain(updates, done)
			return
		case err := <-done:
			if err != nil {
				log.Printf("IMAP IDLE: idle loop ended with error for %s: %v", email, err)
			}
			return
		case update := <-updates:
			if inbox.grew(update) {
				l.onNewMail(email)
			}
		}
	}
}

// drain discards updates until IDLE has ended, so the client never blocks on a full channel.
func (l *IdleListener) drain(updates <-chan imapclient.Update, done <-chan error) {
	for {
		select {
		case <-done:
			return
		case <-updates:
		}
	}
}

// existsTracker follows the INBOX message count through IDLE updates.
// EXPUNGE lowers the count, so only an EXISTS above it means new mail.
type existsTracker struct {
	count uint32
}

// grew applies update and reports whether INBOX now holds more messages than before.
func (t *existsTracker) grew(update imapclient.Update) bool {
	switch u := update.(type) {
	case *imapclient.ExpungeUpdate:
		if t.count > 0 {
			t.count--
		}
	case *imapclient.MailboxUpdate:
		if u.Mailbox == nil || u.Mailbox.Name != "INBOX" {
			return false
		}
		messages := u.Mailbox.Messages
		grew := messages > t.count
		t.count = messages
		return grew
	}
	return false
}
