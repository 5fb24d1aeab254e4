package imap

import (
	"fmt"

	"github.com/emersion/go-imap"
	"github.com/vdavid/mailsync/internal/models"
)

// listFolders lists all folders on the IMAP server.
func listFolders(s session) ([]models.FolderInfo, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	go func() {
		done <- s.List("", "*", mailboxes)
	}()

	folders := []models.FolderInfo{}
	for m := range mailboxes {
		folders = append(folders, models.FolderInfo{
			Name:      m.Name,
			Flags:     append([]string{}, m.Attributes...),
			Delimiter: m.Delimiter,
		})
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	return folders, nil
}
