// Package poller watches every account's INBOX for messages that arrived since
// the last check and announces them.
package poller

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/events"
	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/notify"
	"golang.org/x/sync/errgroup"
)

const (
	// Folder is the only folder the poller watches.
	Folder = "INBOX"

	// DefaultInterval is the time between polls when none is configured.
	DefaultInterval = 60 * time.Second

	// DefaultMaxNotifications is how many of the newest arrivals per account and poll are announced.
	DefaultMaxNotifications = 3

	// concurrency bounds how many accounts are polled at once.
	concurrency = 4
)

// AccountLister lists the configured accounts.
type AccountLister interface {
	List(ctx context.Context) ([]*models.Account, error)
}

// ConnectionSource hands out the shared connection of an account.
type ConnectionSource interface {
	Get(email string) imap.IMAPConnection
}

// Options tunes a Poller. Zero values take the defaults.
type Options struct {
	Interval         time.Duration
	MaxNotifications int
}

// Poller checks INBOX of every account on a fixed interval or when triggered.
// The first successful check of an account only records its highest UID, so mail
// that was already there is never announced.
type Poller struct {
	accounts  AccountLister
	conns     ConnectionSource
	database  *db.DB
	notifier  notify.Notifier
	publisher events.Publisher
	interval  time.Duration
	maxNotify int

	mu         sync.Mutex
	watermarks map[string]uint32 // email -> highest UID seen in INBOX

	trigger   chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a stopped Poller. notifier and publisher may be nil.
func New(accounts AccountLister, conns ConnectionSource, database *db.DB, notifier notify.Notifier, publisher events.Publisher, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxNotifications <= 0 {
		opts.MaxNotifications = DefaultMaxNotifications
	}
	return &Poller{
		accounts:   accounts,
		conns:      conns,
		database:   database,
		notifier:   notifier,
		publisher:  publisher,
		interval:   opts.Interval,
		maxNotify:  opts.MaxNotifications,
		watermarks: make(map[string]uint32),
		trigger:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Start takes the initial snapshot and begins polling in the background.
func (p *Poller) Start() {
	p.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		p.cancel = cancel
		go p.run(ctx)
		log.Printf("Poller: started, interval %s", p.interval)
	})
}

// Stop ends the loop and waits for the running poll to finish. It is safe to call
// more than once, and before Start.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		// A Start after Stop does nothing.
		p.startOnce.Do(func() {})
		if p.cancel == nil {
			return
		}
		p.cancel()
		<-p.done
		log.Printf("Poller: stopped")
	})
}

// Trigger asks for a poll as soon as possible. Triggers during a poll coalesce into one.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Watermark returns the highest INBOX UID recorded for email.
func (p *Poller) Watermark(email string) (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	uid, ok := p.watermarks[email]
	return uid, ok
}

func (p *Poller) setWatermark(email string, uid uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watermarks[email] = uid
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	// Initial pass records the watermarks silently.
	p.Poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.trigger:
		}
		p.Poll(ctx)
	}
}

// Poll checks every account once. One account failing does not affect the others.
func (p *Poller) Poll(ctx context.Context) {
	accounts, err := p.accounts.List(ctx)
	if err != nil {
		log.Printf("Poller: failed to list accounts: %v", err)
		return
	}

	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(concurrency)
	for _, account := range accounts {
		grp.Go(func() error {
			if err := p.pollAccount(ctx, account); err != nil {
				log.Printf("Poller: %s: %v", account.Email, err)
			}
			return nil
		})
	}
	_ = grp.Wait()
}

func (p *Poller) pollAccount(ctx context.Context, account *models.Account) error {
	conn := p.conns.Get(account.Email)

	watermark, known := p.Watermark(account.Email)
	if !known {
		uids, err := conn.SearchUIDsAfter(ctx, Folder, 0)
		if err != nil {
			return fmt.Errorf("failed to take initial snapshot: %w", err)
		}
		var highest uint32
		if len(uids) > 0 {
			highest = uids[len(uids)-1]
		}
		p.setWatermark(account.Email, highest)
		log.Printf("Poller: %s: INBOX snapshot at UID %d", account.Email, highest)
		return nil
	}

	uids, err := conn.SearchUIDsAfter(ctx, Folder, watermark)
	if err != nil {
		return fmt.Errorf("failed to search for new mail: %w", err)
	}
	if len(uids) == 0 {
		return nil
	}

	log.Printf("Poller: %s: %d new messages", account.Email, len(uids))
	p.setWatermark(account.Email, uids[len(uids)-1])

	newest := uids
	if len(newest) > p.maxNotify {
		newest = newest[len(newest)-p.maxNotify:]
	}

	messages, err := conn.FetchMessages(ctx, Folder, newest)
	if err != nil {
		return fmt.Errorf("failed to fetch new messages: %w", err)
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].UID < messages[j].UID })

	p.cache(ctx, account, messages)
	p.announce(account, messages)
	return nil
}

// cache stores the new messages in the INBOX cache without bodies.
func (p *Poller) cache(ctx context.Context, account *models.Account, messages []*models.Message) {
	if p.database == nil || len(messages) == 0 {
		return
	}

	folder, err := db.GetOrCreateFolder(ctx, p.database, account.ID, Folder)
	if err != nil {
		log.Printf("Poller: %s: failed to cache INBOX: %v", account.Email, err)
		return
	}

	rows := make([]*models.Message, 0, len(messages))
	for _, m := range messages {
		row := *m
		row.AccountID = account.ID
		row.FolderID = folder.ID
		row.Folder = Folder
		row.BodyText = nil
		row.BodyHTML = nil
		rows = append(rows, &row)
	}
	if err := db.UpsertMessages(ctx, p.database, rows); err != nil {
		log.Printf("Poller: %s: failed to cache new messages: %v", account.Email, err)
	}
}

func (p *Poller) announce(account *models.Account, messages []*models.Message) {
	for _, m := range messages {
		if p.notifier != nil {
			p.notifier.Notify("New Email: "+m.Sender, m.Subject)
		}
		if p.publisher != nil {
			ev := events.New(events.TypeNewMail, account.Email, Folder)
			ev.UID = m.UID
			ev.Data = map[string]any{"sender": m.Sender, "subject": m.Subject}
			p.publisher.Publish(ev)
		}
	}
}
