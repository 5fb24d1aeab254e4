package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vdavid/mailsync/internal/models"
)

// ErrFolderNotFound is returned when a folder has never been cached.
var ErrFolderNotFound = errors.New("folder not found")

type folderRow struct {
	ID        int64  `db:"id"`
	AccountID int64  `db:"account_id"`
	Name      string `db:"name"`
	RemoteID  string `db:"remote_id"`
}

func (r *folderRow) toModel() *models.Folder {
	return &models.Folder{ID: r.ID, AccountID: r.AccountID, Name: r.Name, RemoteID: r.RemoteID}
}

// GetOrCreateFolder returns the folder row for the name, creating it on first use.
func GetOrCreateFolder(ctx context.Context, database *DB, accountID int64, name string) (*models.Folder, error) {
	var row folderRow
	err := database.QueryRowxContext(ctx, database.Rebind(`
		INSERT INTO folders (account_id, name, remote_id)
		VALUES (?, ?, ?)
		ON CONFLICT (account_id, name) DO UPDATE SET name = excluded.name
		RETURNING id, account_id, name, remote_id
	`), accountID, name, name).StructScan(&row)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create folder: %w", err)
	}
	return row.toModel(), nil
}

// GetFolderByName returns an existing folder row.
func GetFolderByName(ctx context.Context, database *DB, accountID int64, name string) (*models.Folder, error) {
	var row folderRow
	err := database.GetContext(ctx, &row, database.Rebind(
		`SELECT id, account_id, name, remote_id FROM folders WHERE account_id = ? AND name = ?`,
	), accountID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFolderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get folder: %w", err)
	}
	return row.toModel(), nil
}

// ListFolders returns the cached folders of an account ordered by name.
func ListFolders(ctx context.Context, database *DB, accountID int64) ([]*models.Folder, error) {
	var rows []folderRow
	err := database.SelectContext(ctx, &rows, database.Rebind(
		`SELECT id, account_id, name, remote_id FROM folders WHERE account_id = ? ORDER BY name`,
	), accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	folders := make([]*models.Folder, 0, len(rows))
	for i := range rows {
		folders = append(folders, rows[i].toModel())
	}
	return folders, nil
}
