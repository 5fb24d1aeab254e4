package db

import (
	"context"
	"fmt"

	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/threading"
)

// ReconstructThreadsFromCache threads one cached page of a folder by headers and subject.
// Only the page is visible: a reply whose parent lies outside the page becomes a root of
// this page. Page boundaries therefore follow message counts, not thread counts.
func ReconstructThreadsFromCache(ctx context.Context, database *DB, accountID, folderID int64, limit, offset int) ([]*models.ThreadNode, error) {
	messages, err := GetMessagesPage(ctx, database, accountID, folderID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to load cached page: %w", err)
	}

	return threading.BuildFromHeaders(messages), nil
}
