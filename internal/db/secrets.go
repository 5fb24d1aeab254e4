package db

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrSecretNotFound is returned when no secret is stored under the key.
var ErrSecretNotFound = errors.New("secret not found")

// PutSecret stores already-encrypted bytes under key.
func PutSecret(ctx context.Context, database *DB, key string, ciphertext []byte) error {
	_, err := database.ExecContext(ctx, database.Rebind(`
		INSERT INTO secrets (secret_key, ciphertext) VALUES (?, ?)
		ON CONFLICT (secret_key) DO UPDATE SET ciphertext = excluded.ciphertext
	`), key, base64.StdEncoding.EncodeToString(ciphertext))
	if err != nil {
		return fmt.Errorf("failed to store secret: %w", err)
	}
	return nil
}

// GetSecret returns the encrypted bytes stored under key.
func GetSecret(ctx context.Context, database *DB, key string) ([]byte, error) {
	var encoded string
	err := database.GetContext(ctx, &encoded, database.Rebind(`SELECT ciphertext FROM secrets WHERE secret_key = ?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSecretNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get secret: %w", err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode secret: %w", err)
	}
	return ciphertext, nil
}

// DeleteSecret removes the secret under key. Deleting a missing key is not an error.
func DeleteSecret(ctx context.Context, database *DB, key string) error {
	if _, err := database.ExecContext(ctx, database.Rebind(`DELETE FROM secrets WHERE secret_key = ?`), key); err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}
