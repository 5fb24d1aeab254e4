package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vdavid/mailsync/internal/models"
)

// ErrAccountNotFound is returned when no account row matches.
var ErrAccountNotFound = errors.New("account not found")

type accountRow struct {
	ID        int64     `db:"id"`
	Email     string    `db:"email"`
	Username  string    `db:"username"`
	IMAPHost  string    `db:"imap_host"`
	IMAPPort  int       `db:"imap_port"`
	SMTPHost  string    `db:"smtp_host"`
	SMTPPort  int       `db:"smtp_port"`
	UseTLS    bool      `db:"use_tls"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *accountRow) toModel() *models.Account {
	return &models.Account{
		ID:        r.ID,
		Email:     r.Email,
		Username:  r.Username,
		IMAPHost:  r.IMAPHost,
		IMAPPort:  r.IMAPPort,
		SMTPHost:  r.SMTPHost,
		SMTPPort:  r.SMTPPort,
		UseTLS:    r.UseTLS,
		CreatedAt: r.CreatedAt,
	}
}

const accountColumns = `id, email, username, imap_host, imap_port, smtp_host, smtp_port, use_tls, created_at`

// CreateAccount inserts the account and sets its ID.
func CreateAccount(ctx context.Context, database *DB, account *models.Account) error {
	err := database.QueryRowxContext(ctx, database.Rebind(`
		INSERT INTO accounts (email, username, imap_host, imap_port, smtp_host, smtp_port, use_tls)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`),
		account.Email,
		account.Username,
		account.IMAPHost,
		account.IMAPPort,
		account.SMTPHost,
		account.SMTPPort,
		account.UseTLS,
	).Scan(&account.ID)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// GetAccountByEmail returns the account with the given email.
func GetAccountByEmail(ctx context.Context, database *DB, email string) (*models.Account, error) {
	var row accountRow
	err := database.GetContext(ctx, &row, database.Rebind(
		`SELECT `+accountColumns+` FROM accounts WHERE email = ?`,
	), email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return row.toModel(), nil
}

// ListAccounts returns every account ordered by id.
func ListAccounts(ctx context.Context, database *DB) ([]*models.Account, error) {
	var rows []accountRow
	if err := database.SelectContext(ctx, &rows, `SELECT `+accountColumns+` FROM accounts ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	accounts := make([]*models.Account, 0, len(rows))
	for i := range rows {
		accounts = append(accounts, rows[i].toModel())
	}
	return accounts, nil
}

// UpdateAccount overwrites the row currently stored under oldEmail.
func UpdateAccount(ctx context.Context, database *DB, oldEmail string, account *models.Account) error {
	result, err := database.ExecContext(ctx, database.Rebind(`
		UPDATE accounts SET
			email = ?,
			username = ?,
			imap_host = ?,
			imap_port = ?,
			smtp_host = ?,
			smtp_port = ?,
			use_tls = ?
		WHERE email = ?
	`),
		account.Email,
		account.Username,
		account.IMAPHost,
		account.IMAPPort,
		account.SMTPHost,
		account.SMTPPort,
		account.UseTLS,
		oldEmail,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// DeleteAccount removes the account together with its rules, folders and messages.
func DeleteAccount(ctx context.Context, database *DB, email string) error {
	tx, err := database.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.GetContext(ctx, &id, tx.Rebind(`SELECT id FROM accounts WHERE email = ?`), email)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up account: %w", err)
	}

	for _, stmt := range []string{
		`DELETE FROM emails WHERE account_id = ?`,
		`DELETE FROM folders WHERE account_id = ?`,
		`DELETE FROM rules WHERE account_id = ?`,
		`DELETE FROM accounts WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, tx.Rebind(stmt), id); err != nil {
			return fmt.Errorf("failed to delete account data: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit account deletion: %w", err)
	}
	return nil
}
