// Package accounts manages configured mail accounts and their passwords.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"

	"github.com/vdavid/mailsync/internal/credential"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/models"
)

var (
	// ErrAccountExists is returned when adding (or renaming to) an email that is already configured.
	ErrAccountExists = errors.New("account already exists")
	// ErrInvalidAccount wraps validation failures of an account request.
	ErrInvalidAccount = errors.New("invalid account")
)

// Manager is the account configuration store. Rows live in the cache database,
// passwords in the secret store.
type Manager struct {
	database *db.DB
	secrets  credential.Store
}

// NewManager creates a manager.
func NewManager(database *db.DB, secrets credential.Store) *Manager {
	return &Manager{database: database, secrets: secrets}
}

func validate(req *models.AccountRequest, requirePassword bool) error {
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return fmt.Errorf("%w: email %q is not an address", ErrInvalidAccount, req.Email)
	}
	if strings.TrimSpace(req.IMAPHost) == "" {
		return fmt.Errorf("%w: imap_host is required", ErrInvalidAccount)
	}
	if req.IMAPPort < 0 || req.IMAPPort > 65535 || req.SMTPPort < 0 || req.SMTPPort > 65535 {
		return fmt.Errorf("%w: port out of range", ErrInvalidAccount)
	}
	if requirePassword && req.Password == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidAccount)
	}
	return nil
}

// Add stores a new account and its password.
func (m *Manager) Add(ctx context.Context, req *models.AccountRequest) (*models.Account, error) {
	if err := validate(req, true); err != nil {
		return nil, err
	}

	if _, err := db.GetAccountByEmail(ctx, m.database, req.Email); err == nil {
		return nil, ErrAccountExists
	} else if !errors.Is(err, db.ErrAccountNotFound) {
		return nil, err
	}

	account := req.ToAccount()
	if err := db.CreateAccount(ctx, m.database, account); err != nil {
		return nil, err
	}

	if err := m.secrets.Set(ctx, account.Email, req.Password); err != nil {
		if delErr := db.DeleteAccount(ctx, m.database, account.Email); delErr != nil {
			log.Printf("Accounts: failed to roll back account %s: %v", account.Email, delErr)
		}
		return nil, fmt.Errorf("failed to store password: %w", err)
	}

	log.Printf("Accounts: added %s", account.Email)
	return account, nil
}

// Update edits the account known as oldEmail. An empty password keeps the stored one.
// Renaming moves the stored password to the new email.
func (m *Manager) Update(ctx context.Context, oldEmail string, req *models.AccountRequest) (*models.Account, error) {
	if err := validate(req, false); err != nil {
		return nil, err
	}

	if req.Email != oldEmail {
		if _, err := db.GetAccountByEmail(ctx, m.database, req.Email); err == nil {
			return nil, ErrAccountExists
		} else if !errors.Is(err, db.ErrAccountNotFound) {
			return nil, err
		}
	}

	password := req.Password
	if password == "" && req.Email != oldEmail {
		current, err := m.secrets.Get(ctx, oldEmail)
		if err != nil && !errors.Is(err, credential.ErrNotFound) {
			return nil, fmt.Errorf("failed to read password for %s: %w", oldEmail, err)
		}
		password = current
	}

	account := req.ToAccount()
	if err := db.UpdateAccount(ctx, m.database, oldEmail, account); err != nil {
		return nil, err
	}

	if password != "" {
		if err := m.secrets.Set(ctx, account.Email, password); err != nil {
			return nil, fmt.Errorf("failed to store password: %w", err)
		}
	}
	if req.Email != oldEmail {
		if err := m.secrets.Delete(ctx, oldEmail); err != nil {
			log.Printf("Accounts: failed to remove old password for %s: %v", oldEmail, err)
		}
	}

	log.Printf("Accounts: updated %s (now %s)", oldEmail, account.Email)
	return m.Get(ctx, account.Email)
}

// Get returns the account configuration for email.
func (m *Manager) Get(ctx context.Context, email string) (*models.Account, error) {
	return db.GetAccountByEmail(ctx, m.database, email)
}

// List returns every configured account.
func (m *Manager) List(ctx context.Context) ([]*models.Account, error) {
	return db.ListAccounts(ctx, m.database)
}

// Password returns the stored password for email.
func (m *Manager) Password(ctx context.Context, email string) (string, error) {
	return m.secrets.Get(ctx, email)
}

// Credentials returns the account and its password, ready for login.
func (m *Manager) Credentials(ctx context.Context, email string) (*models.Account, string, error) {
	account, err := m.Get(ctx, email)
	if err != nil {
		return nil, "", err
	}
	password, err := m.Password(ctx, email)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get password for %s: %w", email, err)
	}
	return account, password, nil
}

// Delete removes the account, its cached mail and its password.
func (m *Manager) Delete(ctx context.Context, email string) error {
	if err := db.DeleteAccount(ctx, m.database, email); err != nil {
		return err
	}
	if err := m.secrets.Delete(ctx, email); err != nil {
		log.Printf("Accounts: failed to remove password for %s: %v", email, err)
	}
	log.Printf("Accounts: deleted %s", email)
	return nil
}
