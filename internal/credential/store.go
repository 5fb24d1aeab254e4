// Package credential stores account passwords outside the cache tables.
package credential

import (
	"context"
	"errors"
)

// ServiceName scopes every stored secret.
const ServiceName = "mailsync"

// ErrNotFound is returned when no password is stored for an email.
var ErrNotFound = errors.New("credential not found")

// Store keeps one password per account email.
type Store interface {
	Get(ctx context.Context, email string) (string, error)
	Set(ctx context.Context, email, password string) error
	// Delete removes the password. A missing entry is not an error.
	Delete(ctx context.Context, email string) error
}

func storageKey(email string) string {
	return ServiceName + ":" + email
}
