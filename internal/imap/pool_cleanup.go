package imap

import (
	"log"
	"time"
)

// startCleanupGoroutine periodically logs out idle connections until cleanupCtx is canceled.
func (p *Pool) startCleanupGoroutine() {
	ticker := time.NewTicker(1 * time.Minute)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-p.cleanupCtx.Done():
				return
			case <-ticker.C:
				p.cleanupIdleConnections(time.Now())
			}
		}
	}()
}

// cleanupIdleConnections logs out connections that have not run a command since idleTimeout.
// They stay in the pool and reconnect when next used.
func (p *Pool) cleanupIdleConnections(now time.Time) {
	p.mu.Lock()
	connections := make([]*Connection, 0, len(p.connections))
	for _, conn := range p.connections {
		connections = append(connections, conn)
	}
	p.mu.Unlock()

	for _, conn := range connections {
		last := conn.LastUsed()
		if last.IsZero() || now.Sub(last) <= idleTimeout || conn.State() != StateReady {
			continue
		}
		log.Printf("IMAP: logging out idle connection for %s", conn.Email())
		conn.Logout()
	}
}
