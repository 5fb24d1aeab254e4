package imap

import (
	"context"
	"sync"
	"time"
)

// idleTimeout is how long a connection may sit unused before the pool logs it out.
// A logged-out Connection reconnects on its next command.
const idleTimeout = 10 * time.Minute

// Pool holds one shared Connection per account email.
// The poller and every repository of an account use the same Connection,
// so its mutex is what serializes them.
type Pool struct {
	creds   CredentialSource
	timeout time.Duration
	dial    dialFunc

	mu          sync.Mutex
	connections map[string]*Connection

	cleanupCtx    context.Context
	cleanupCancel context.CancelFunc
}

// NewPool creates a pool and starts its idle cleanup goroutine.
func NewPool(creds CredentialSource, timeout time.Duration) *Pool {
	return newPool(creds, timeout, dialSession)
}

func newPool(creds CredentialSource, timeout time.Duration, dial dialFunc) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		creds:         creds,
		timeout:       timeout,
		dial:          dial,
		connections:   make(map[string]*Connection),
		cleanupCtx:    ctx,
		cleanupCancel: cancel,
	}
	p.startCleanupGoroutine()
	return p
}

// Get returns the Connection for email, creating it on first use.
// Creation does not dial; the Connection logs in on its first command.
func (p *Pool) Get(email string) IMAPConnection {
	return p.connection(email)
}

func (p *Pool) connection(email string) *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.connections[email]; ok {
		return conn
	}
	conn := newConnection(email, p.creds, p.timeout, p.dial)
	p.connections[email] = conn
	return conn
}

// Remove logs out and forgets the Connection for email.
func (p *Pool) Remove(email string) {
	p.mu.Lock()
	conn, ok := p.connections[email]
	delete(p.connections, email)
	p.mu.Unlock()

	if ok {
		conn.Logout()
	}
}

// Close logs out every connection and stops the cleanup goroutine.
func (p *Pool) Close() {
	p.cleanupCancel()

	p.mu.Lock()
	connections := p.connections
	p.connections = make(map[string]*Connection)
	p.mu.Unlock()

	for _, conn := range connections {
		conn.Logout()
	}
}

// Ensure Pool implements IMAPPool interface
var _ IMAPPool = (*Pool)(nil)
