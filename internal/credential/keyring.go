package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

// KeyringStore keeps passwords in the OS keychain (or an encrypted file as a last resort).
type KeyringStore struct {
	ring keyring.Keyring
}

// OpenKeyring opens the platform keyring for ServiceName. fileDir and filePassword
// configure the file backend used when no OS keychain is available.
func OpenKeyring(fileDir, filePassword string) (*KeyringStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: ServiceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(filePassword),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return NewKeyringStore(ring), nil
}

// NewKeyringStore wraps an already opened keyring.
func NewKeyringStore(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring}
}

// Get returns the password stored for email.
func (s *KeyringStore) Get(_ context.Context, email string) (string, error) {
	item, err := s.ring.Get(storageKey(email))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get credential for %s: %w", email, err)
	}
	return string(item.Data), nil
}

// Set stores the password for email.
func (s *KeyringStore) Set(_ context.Context, email, password string) error {
	err := s.ring.Set(keyring.Item{
		Key:   storageKey(email),
		Data:  []byte(password),
		Label: ServiceName + " " + email,
	})
	if err != nil {
		return fmt.Errorf("failed to set credential for %s: %w", email, err)
	}
	return nil
}

// Delete removes the password for email.
func (s *KeyringStore) Delete(_ context.Context, email string) error {
	err := s.ring.Remove(storageKey(email))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete credential for %s: %w", email, err)
	}
	return nil
}
