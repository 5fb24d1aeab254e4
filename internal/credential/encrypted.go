package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/vdavid/mailsync/internal/crypto"
	"github.com/vdavid/mailsync/internal/db"
)

// EncryptedStore keeps AES-GCM sealed passwords in the cache database's secrets table.
// It is used where no OS keyring exists, such as containers.
type EncryptedStore struct {
	database  *db.DB
	encryptor *crypto.Encryptor
}

// NewEncryptedStore creates a store on the given database.
func NewEncryptedStore(database *db.DB, encryptor *crypto.Encryptor) *EncryptedStore {
	return &EncryptedStore{database: database, encryptor: encryptor}
}

// Get returns the password stored for email.
func (s *EncryptedStore) Get(ctx context.Context, email string) (string, error) {
	key := storageKey(email)
	sealed, err := db.GetSecret(ctx, s.database, key)
	if errors.Is(err, db.ErrSecretNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	password, err := s.encryptor.Open(key, sealed)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credential for %s: %w", email, err)
	}
	return password, nil
}

// Set seals and stores the password for email.
func (s *EncryptedStore) Set(ctx context.Context, email, password string) error {
	key := storageKey(email)
	sealed, err := s.encryptor.Seal(key, password)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential for %s: %w", email, err)
	}
	return db.PutSecret(ctx, s.database, key, sealed)
}

// Delete removes the password for email.
func (s *EncryptedStore) Delete(ctx context.Context, email string) error {
	return db.DeleteSecret(ctx, s.database, storageKey(email))
}
