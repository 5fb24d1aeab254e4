package testutil

import (
	"context"
	"testing"

	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/models"
)

// CreateAccount inserts an account row pointing at a local test server.
func CreateAccount(t *testing.T, database *db.DB, email string) *models.Account {
	t.Helper()

	account := &models.Account{
		Email:    email,
		IMAPHost: "127.0.0.1",
		IMAPPort: 143,
		SMTPHost: "127.0.0.1",
		SMTPPort: 25,
	}
	if err := db.CreateAccount(context.Background(), database, account); err != nil {
		t.Fatalf("Failed to create account: %v", err)
	}
	return account
}

// CreateAccountWithFolder inserts an account and one folder for it.
func CreateAccountWithFolder(t *testing.T, database *db.DB, email, folderName string) (*models.Account, *models.Folder) {
	t.Helper()

	account := CreateAccount(t, database, email)
	folder, err := db.GetOrCreateFolder(context.Background(), database, account.ID, folderName)
	if err != nil {
		t.Fatalf("Failed to create folder: %v", err)
	}
	return account, folder
}
