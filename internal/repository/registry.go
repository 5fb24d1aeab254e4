package repository

import (
	"context"
	"sync"

	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/events"
	"github.com/vdavid/mailsync/internal/imap"
)

// Registry hands out one Repository per account email, all backed by the pool's
// shared connection for that account.
type Registry struct {
	pool      imap.IMAPPool
	database  *db.DB
	accounts  AccountSource
	publisher events.Publisher

	mu    sync.Mutex
	repos map[string]*Repository
}

// NewRegistry creates an empty registry.
func NewRegistry(pool imap.IMAPPool, database *db.DB, accounts AccountSource, publisher events.Publisher) *Registry {
	return &Registry{
		pool:      pool,
		database:  database,
		accounts:  accounts,
		publisher: publisher,
		repos:     make(map[string]*Repository),
	}
}

// Get returns the Repository for email, creating it on first use.
func (r *Registry) Get(ctx context.Context, email string) (*Repository, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if repo, ok := r.repos[email]; ok {
		return repo, nil
	}

	repo, err := New(ctx, email, r.pool.Get(email), r.database, r.accounts, r.publisher)
	if err != nil {
		return nil, err
	}
	r.repos[email] = repo
	return repo, nil
}

// Forget drops the Repository and the pooled connection of email. The next Get
// starts over with the current account configuration.
func (r *Registry) Forget(email string) {
	r.mu.Lock()
	delete(r.repos, email)
	r.mu.Unlock()

	r.pool.Remove(email)
}
