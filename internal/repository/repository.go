// Package repository combines the live IMAP connection of an account with its local
// cache. Reads try the server first and fall back to the cache; writes go to the
// server first and are mirrored into the cache only when the server accepted them.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/events"
	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/models"
)

// AccountSource returns the configured account for an email. It is consulted when
// the cache has no row for the account.
type AccountSource interface {
	Get(ctx context.Context, email string) (*models.Account, error)
}

// Repository is the offline-first view of one account.
type Repository struct {
	email     string
	accountID int64
	conn      imap.IMAPConnection
	database  *db.DB
	publisher events.Publisher
}

// New resolves the account row for email, restoring it from accounts when the
// cache lost it. publisher may be nil.
func New(ctx context.Context, email string, conn imap.IMAPConnection, database *db.DB, accounts AccountSource, publisher events.Publisher) (*Repository, error) {
	accountID, err := resolveAccountID(ctx, database, accounts, email)
	if err != nil {
		return nil, err
	}
	return &Repository{
		email:     email,
		accountID: accountID,
		conn:      conn,
		database:  database,
		publisher: publisher,
	}, nil
}

func resolveAccountID(ctx context.Context, database *db.DB, accounts AccountSource, email string) (int64, error) {
	account, err := db.GetAccountByEmail(ctx, database, email)
	if err == nil {
		return account.ID, nil
	}
	if !errors.Is(err, db.ErrAccountNotFound) || accounts == nil {
		return 0, fmt.Errorf("failed to resolve account %s: %w", email, err)
	}

	configured, err := accounts.Get(ctx, email)
	if err != nil {
		return 0, fmt.Errorf("account %s is not configured: %w", email, err)
	}

	restored := *configured
	restored.ID = 0
	restored.Email = email
	if err := db.CreateAccount(ctx, database, &restored); err != nil {
		return 0, fmt.Errorf("failed to restore account %s: %w", email, err)
	}
	log.Printf("Repository: restored missing account row for %s", email)
	return restored.ID, nil
}

// Email returns the account email.
func (r *Repository) Email() string {
	return r.email
}

// AccountID returns the cache id of the account.
func (r *Repository) AccountID() int64 {
	return r.accountID
}

func (r *Repository) publish(ev events.Event) {
	if r.publisher != nil {
		r.publisher.Publish(ev)
	}
}

// FetchThreads returns one page of the folder's conversations. The live result is
// cached as a whole; without a server the page is rebuilt from the cache.
func (r *Repository) FetchThreads(ctx context.Context, folder string, limit, offset int) []*models.ThreadNode {
	roots, err := r.conn.FetchThreads(ctx, folder, limit, offset)
	if err != nil {
		log.Printf("Repository: live thread fetch failed for %s/%s, using cache: %v", r.email, folder, err)
		return r.GetCachedThreads(ctx, folder, limit, offset)
	}

	r.cacheForest(ctx, folder, roots)

	ev := events.New(events.TypeThreadListReady, r.email, folder)
	ev.Data = map[string]any{"threads": len(roots), "limit": limit, "offset": offset}
	r.publish(ev)
	return roots
}

// cacheForest stores every message of the forest without touching cached bodies.
func (r *Repository) cacheForest(ctx context.Context, folder string, roots []*models.ThreadNode) {
	messages := models.FlattenForest(roots)
	if len(messages) == 0 {
		return
	}

	f, err := db.GetOrCreateFolder(ctx, r.database, r.accountID, folder)
	if err != nil {
		log.Printf("Repository: failed to cache folder %s for %s: %v", folder, r.email, err)
		return
	}

	rows := make([]*models.Message, 0, len(messages))
	for _, m := range messages {
		row := *m
		row.AccountID = r.accountID
		row.FolderID = f.ID
		row.Folder = folder
		row.BodyText = nil
		row.BodyHTML = nil
		rows = append(rows, &row)
	}
	if err := db.UpsertMessages(ctx, r.database, rows); err != nil {
		log.Printf("Repository: failed to cache %d messages of %s/%s: %v", len(rows), r.email, folder, err)
	}
}

// GetCachedThreads threads one page of the cache without contacting the server.
func (r *Repository) GetCachedThreads(ctx context.Context, folder string, limit, offset int) []*models.ThreadNode {
	f, err := db.GetFolderByName(ctx, r.database, r.accountID, folder)
	if err != nil {
		if !errors.Is(err, db.ErrFolderNotFound) {
			log.Printf("Repository: failed to read cached folder %s for %s: %v", folder, r.email, err)
		}
		return []*models.ThreadNode{}
	}

	roots, err := db.ReconstructThreadsFromCache(ctx, r.database, r.accountID, f.ID, limit, offset)
	if err != nil {
		log.Printf("Repository: failed to rebuild threads of %s/%s: %v", r.email, folder, err)
		return []*models.ThreadNode{}
	}
	return roots
}

// FetchEmailBody returns the message content: live and written through to the cache,
// otherwise cached, otherwise an empty body.
func (r *Repository) FetchEmailBody(ctx context.Context, folder string, uid uint32) *models.MessageBody {
	body, msg, err := r.conn.FetchEmailBody(ctx, folder, uid)
	if err != nil {
		log.Printf("Repository: live body fetch failed for %s/%s/%d, using cache: %v", r.email, folder, uid, err)
	} else if !body.Empty() {
		r.cacheBody(ctx, folder, body, msg)

		ev := events.New(events.TypeBodyReady, r.email, folder)
		ev.UID = uid
		r.publish(ev)
		return body
	}

	if cached := r.cachedBody(ctx, folder, uid); cached != nil {
		return cached
	}
	return &models.MessageBody{Headers: map[string]string{}, Attachments: []models.Attachment{}}
}

func (r *Repository) cacheBody(ctx context.Context, folder string, body *models.MessageBody, msg *models.Message) {
	if msg == nil {
		return
	}

	f, err := db.GetOrCreateFolder(ctx, r.database, r.accountID, folder)
	if err != nil {
		log.Printf("Repository: failed to cache folder %s for %s: %v", folder, r.email, err)
		return
	}

	row := *msg
	row.AccountID = r.accountID
	row.FolderID = f.ID
	row.Folder = folder
	text, html := body.Text, body.HTML
	row.BodyText = &text
	row.BodyHTML = &html
	if err := db.UpsertMessage(ctx, r.database, &row); err != nil {
		log.Printf("Repository: failed to cache body of %s/%s/%d: %v", r.email, folder, msg.UID, err)
	}
}

func (r *Repository) cachedBody(ctx context.Context, folder string, uid uint32) *models.MessageBody {
	f, err := db.GetFolderByName(ctx, r.database, r.accountID, folder)
	if err != nil {
		return nil
	}
	body, err := db.GetMessageBody(ctx, r.database, r.accountID, f.ID, uid)
	if err != nil {
		if !errors.Is(err, db.ErrMessageNotFound) && !errors.Is(err, db.ErrBodyNotCached) {
			log.Printf("Repository: failed to read cached body of %s/%s/%d: %v", r.email, folder, uid, err)
		}
		return nil
	}
	if body.Attachments == nil {
		body.Attachments = []models.Attachment{}
	}
	return body
}

// ListFolders returns the server's folders and records them in the cache, or the
// cached folder names when the server is unavailable.
func (r *Repository) ListFolders(ctx context.Context) []models.FolderInfo {
	folders, err := r.conn.ListFolders(ctx)
	if err == nil {
		for _, f := range folders {
			if _, err := db.GetOrCreateFolder(ctx, r.database, r.accountID, f.Name); err != nil {
				log.Printf("Repository: failed to cache folder %s for %s: %v", f.Name, r.email, err)
			}
		}
		return folders
	}

	log.Printf("Repository: live folder list failed for %s, using cache: %v", r.email, err)
	cached, err := db.ListFolders(ctx, r.database, r.accountID)
	if err != nil {
		log.Printf("Repository: failed to read cached folders for %s: %v", r.email, err)
		return []models.FolderInfo{}
	}

	result := make([]models.FolderInfo, 0, len(cached))
	for _, f := range cached {
		count, err := db.CountMessages(ctx, r.database, r.accountID, f.ID)
		if err != nil {
			log.Printf("Repository: failed to count cached messages in %s for %s: %v", f.Name, r.email, err)
		}
		result = append(result, models.FolderInfo{Name: f.Name, Flags: []string{}, Cached: count})
	}
	return result
}
