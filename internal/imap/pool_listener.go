package imap

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap/client"
)

// openListener dials a dedicated client for IDLE. It is never shared with the
// pooled Connection, because IDLE holds the session for as long as it runs.
func (p *Pool) openListener(ctx context.Context, email string) (*client.Client, error) {
	account, password, err := p.creds.Credentials(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials for %s: %w", email, err)
	}

	c, err := openClient(ctx, account, password, p.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open listener for %s: %w", email, err)
	}
	return c, nil
}
