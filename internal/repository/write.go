package repository

import (
	"context"
	"log"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/models"
)

// MoveEmails moves uids from folder to target on the server, then reassigns the
// cached rows. It reports whether the server accepted the move.
func (r *Repository) MoveEmails(ctx context.Context, folder string, uids []uint32, target string) bool {
	if len(uids) == 0 {
		return true
	}
	if err := r.conn.MoveEmails(ctx, folder, uids, target); err != nil {
		log.Printf("Repository: move of %d messages %s -> %s failed for %s: %v", len(uids), folder, target, r.email, err)
		return false
	}

	from, err := db.GetOrCreateFolder(ctx, r.database, r.accountID, folder)
	if err != nil {
		log.Printf("Repository: failed to mirror move for %s: %v", r.email, err)
		return true
	}
	to, err := db.GetOrCreateFolder(ctx, r.database, r.accountID, target)
	if err != nil {
		log.Printf("Repository: failed to mirror move for %s: %v", r.email, err)
		return true
	}
	if err := db.MoveMessages(ctx, r.database, r.accountID, from.ID, to.ID, uids); err != nil {
		log.Printf("Repository: failed to mirror move for %s: %v", r.email, err)
	}
	return true
}

var (
	trashFolders   = []string{"Trash", "Bin", "Deleted Items", "Deleted", "[Gmail]/Trash"}
	archiveFolders = []string{"Archive", "Archives", "All Mail", "[Gmail]/All Mail"}
)

// DeleteEmails moves uids to the account's trash folder. Without one, or when folder
// is the trash itself, the messages get the \Deleted flag and leave the cache.
func (r *Repository) DeleteEmails(ctx context.Context, folder string, uids []uint32) bool {
	if len(uids) == 0 {
		return true
	}
	trash, ok, err := r.findFolder(ctx, trashFolders)
	if err != nil {
		log.Printf("Repository: delete in %s failed for %s: %v", folder, r.email, err)
		return false
	}
	if ok && trash != folder {
		return r.MoveEmails(ctx, folder, uids, trash)
	}

	if err := r.conn.AddFlags(ctx, folder, uids, []string{imap.DeletedFlag}); err != nil {
		log.Printf("Repository: flagging %d messages deleted failed for %s/%s: %v", len(uids), r.email, folder, err)
		return false
	}
	f, err := db.GetFolderByName(ctx, r.database, r.accountID, folder)
	if err != nil {
		return true
	}
	if err := db.DeleteMessages(ctx, r.database, r.accountID, f.ID, uids); err != nil {
		log.Printf("Repository: failed to mirror delete for %s/%s: %v", r.email, folder, err)
	}
	return true
}

// ArchiveEmails moves uids to the account's archive folder. It fails when the
// server has none.
func (r *Repository) ArchiveEmails(ctx context.Context, folder string, uids []uint32) bool {
	if len(uids) == 0 {
		return true
	}
	archive, ok, err := r.findFolder(ctx, archiveFolders)
	if err != nil {
		log.Printf("Repository: archive from %s failed for %s: %v", folder, r.email, err)
		return false
	}
	if !ok {
		log.Printf("Repository: no archive folder for %s", r.email)
		return false
	}
	if archive == folder {
		return true
	}
	return r.MoveEmails(ctx, folder, uids, archive)
}

// findFolder returns the server folder matching the first candidate, trying exact
// names before case-insensitive ones.
func (r *Repository) findFolder(ctx context.Context, candidates []string) (string, bool, error) {
	folders, err := r.conn.ListFolders(ctx)
	if err != nil {
		return "", false, err
	}
	for _, candidate := range candidates {
		for _, f := range folders {
			if f.Name == candidate {
				return f.Name, true, nil
			}
		}
	}
	for _, candidate := range candidates {
		for _, f := range folders {
			if strings.EqualFold(f.Name, candidate) {
				return f.Name, true, nil
			}
		}
	}
	return "", false, nil
}

// CopyEmails copies uids from folder to target on the server. The copies get UIDs
// that only the next fetch of target learns, so the cache is left as is.
func (r *Repository) CopyEmails(ctx context.Context, folder string, uids []uint32, target string) bool {
	if len(uids) == 0 {
		return true
	}
	if err := r.conn.CopyEmails(ctx, folder, uids, target); err != nil {
		log.Printf("Repository: copy of %d messages %s -> %s failed for %s: %v", len(uids), folder, target, r.email, err)
		return false
	}
	return true
}

// AddFlags adds flags on the server and unions them into the cached flag sets.
func (r *Repository) AddFlags(ctx context.Context, folder string, uids []uint32, flags []string) bool {
	if err := r.conn.AddFlags(ctx, folder, uids, flags); err != nil {
		log.Printf("Repository: adding flags %v failed for %s/%s: %v", flags, r.email, folder, err)
		return false
	}
	r.mirrorFlags(ctx, folder, uids, func(current []string) []string {
		return models.UnionFlags(current, flags)
	})
	return true
}

// RemoveFlags removes flags on the server and from the cached flag sets.
func (r *Repository) RemoveFlags(ctx context.Context, folder string, uids []uint32, flags []string) bool {
	if err := r.conn.RemoveFlags(ctx, folder, uids, flags); err != nil {
		log.Printf("Repository: removing flags %v failed for %s/%s: %v", flags, r.email, folder, err)
		return false
	}
	r.mirrorFlags(ctx, folder, uids, func(current []string) []string {
		return models.SubtractFlags(current, flags)
	})
	return true
}

func (r *Repository) mirrorFlags(ctx context.Context, folder string, uids []uint32, fn func([]string) []string) {
	if len(uids) == 0 {
		return
	}
	f, err := db.GetFolderByName(ctx, r.database, r.accountID, folder)
	if err != nil {
		// Nothing cached for the folder yet.
		return
	}
	if err := db.UpdateFlags(ctx, r.database, r.accountID, f.ID, uids, fn); err != nil {
		log.Printf("Repository: failed to mirror flags for %s/%s: %v", r.email, folder, err)
	}
}

// CreateFolder creates a folder on the server and records it in the cache.
func (r *Repository) CreateFolder(ctx context.Context, name string) bool {
	name = strings.TrimSpace(name)
	if err := r.conn.CreateFolder(ctx, name); err != nil {
		log.Printf("Repository: creating folder %q failed for %s: %v", name, r.email, err)
		return false
	}
	if _, err := db.GetOrCreateFolder(ctx, r.database, r.accountID, name); err != nil {
		log.Printf("Repository: failed to cache new folder %q for %s: %v", name, r.email, err)
	}
	return true
}
