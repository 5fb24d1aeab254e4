package imap

import (
	"context"

	"github.com/vdavid/mailsync/internal/models"
)

// IMAPConnection is what repositories and the poller need from a per-account connection.
// This allows them to be tested with mock implementations.
// Note: The stutter in the naming is intentional because we have a struct called Connection.
//
//goland:noinspection GoNameStartsWithPackageName
type IMAPConnection interface {
	ListFolders(ctx context.Context) ([]models.FolderInfo, error)
	FetchThreads(ctx context.Context, folder string, limit, offset int) ([]*models.ThreadNode, error)
	FetchEmailBody(ctx context.Context, folder string, uid uint32) (*models.MessageBody, *models.Message, error)
	MoveEmails(ctx context.Context, folder string, uids []uint32, target string) error
	CopyEmails(ctx context.Context, folder string, uids []uint32, target string) error
	AddFlags(ctx context.Context, folder string, uids []uint32, flags []string) error
	RemoveFlags(ctx context.Context, folder string, uids []uint32, flags []string) error
	CreateFolder(ctx context.Context, name string) error
	SearchUIDsAfter(ctx context.Context, folder string, after uint32) ([]uint32, error)
	FetchMessages(ctx context.Context, folder string, uids []uint32) ([]*models.Message, error)
	Logout()
}

// IMAPPool hands out the shared connection of each account.
// Note: The stutter in the naming is intentional because we have a struct called Pool.
//
//goland:noinspection GoNameStartsWithPackageName
type IMAPPool interface {
	Get(email string) IMAPConnection
	// Remove logs out and forgets the connection (used when an account is edited or deleted).
	Remove(email string)
	Close()
}

// Ensure Connection implements IMAPConnection interface
var _ IMAPConnection = (*Connection)(nil)
