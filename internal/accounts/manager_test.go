package accounts

import (
	"context"
	"errors"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailsync/internal/credential"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/testutil"
)

func newManager(t *testing.T) (*Manager, *db.DB, credential.Store) {
	t.Helper()
	database := testutil.NewTestDB(t)
	store := credential.NewKeyringStore(keyring.NewArrayKeyring(nil))
	return NewManager(database, store), database, store
}

func request(email, password string) *models.AccountRequest {
	return &models.AccountRequest{
		Email:    email,
		Password: password,
		IMAPHost: "imap.example.com",
		IMAPPort: 993,
		SMTPHost: "smtp.example.com",
		SMTPPort: 587,
	}
}

func TestManagerAdd(t *testing.T) {
	ctx := context.Background()
	manager, _, _ := newManager(t)

	account, err := manager.Add(ctx, request("a@example.com", "pw"))
	require.NoError(t, err)
	assert.NotZero(t, account.ID)
	assert.True(t, account.UseTLS)

	_, err = manager.Add(ctx, request("a@example.com", "pw2"))
	assert.ErrorIs(t, err, ErrAccountExists)

	got, password, err := manager.Credentials(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "imap.example.com", got.IMAPHost)
	assert.Equal(t, "pw", password)
}

func TestManagerAddValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *models.AccountRequest)
	}{
		{name: "bad email", mutate: func(r *models.AccountRequest) { r.Email = "not an email" }},
		{name: "missing host", mutate: func(r *models.AccountRequest) { r.IMAPHost = " " }},
		{name: "bad port", mutate: func(r *models.AccountRequest) { r.IMAPPort = 70000 }},
		{name: "missing password", mutate: func(r *models.AccountRequest) { r.Password = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager, _, _ := newManager(t)
			req := request("a@example.com", "pw")
			tt.mutate(req)

			_, err := manager.Add(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidAccount)
		})
	}
}

type failingStore struct{ credential.Store }

func (failingStore) Set(context.Context, string, string) error { return errors.New("locked") }

func TestManagerAddRollsBackWhenPasswordFails(t *testing.T) {
	ctx := context.Background()
	database := testutil.NewTestDB(t)
	manager := NewManager(database, failingStore{})

	_, err := manager.Add(ctx, request("a@example.com", "pw"))
	require.Error(t, err)

	_, err = db.GetAccountByEmail(ctx, database, "a@example.com")
	assert.ErrorIs(t, err, db.ErrAccountNotFound)
}

func TestManagerUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("keeps password when blank", func(t *testing.T) {
		manager, _, _ := newManager(t)
		_, err := manager.Add(ctx, request("a@example.com", "pw"))
		require.NoError(t, err)

		req := request("a@example.com", "")
		req.IMAPHost = "imap2.example.com"
		updated, err := manager.Update(ctx, "a@example.com", req)
		require.NoError(t, err)
		assert.Equal(t, "imap2.example.com", updated.IMAPHost)
		assert.NotZero(t, updated.ID)

		password, err := manager.Password(ctx, "a@example.com")
		require.NoError(t, err)
		assert.Equal(t, "pw", password)
	})

	t.Run("rename moves the password", func(t *testing.T) {
		manager, _, store := newManager(t)
		_, err := manager.Add(ctx, request("a@example.com", "pw"))
		require.NoError(t, err)

		_, err = manager.Update(ctx, "a@example.com", request("b@example.com", ""))
		require.NoError(t, err)

		password, err := store.Get(ctx, "b@example.com")
		require.NoError(t, err)
		assert.Equal(t, "pw", password)

		_, err = store.Get(ctx, "a@example.com")
		assert.ErrorIs(t, err, credential.ErrNotFound)
	})

	t.Run("rename onto existing account fails", func(t *testing.T) {
		manager, _, _ := newManager(t)
		_, err := manager.Add(ctx, request("a@example.com", "pw"))
		require.NoError(t, err)
		_, err = manager.Add(ctx, request("b@example.com", "pw"))
		require.NoError(t, err)

		_, err = manager.Update(ctx, "a@example.com", request("b@example.com", ""))
		assert.ErrorIs(t, err, ErrAccountExists)
	})

	t.Run("unknown account", func(t *testing.T) {
		manager, _, _ := newManager(t)
		_, err := manager.Update(ctx, "ghost@example.com", request("ghost@example.com", "pw"))
		assert.ErrorIs(t, err, db.ErrAccountNotFound)
	})
}

func TestManagerDelete(t *testing.T) {
	ctx := context.Background()
	manager, _, store := newManager(t)

	_, err := manager.Add(ctx, request("a@example.com", "pw"))
	require.NoError(t, err)
	_, err = manager.Add(ctx, request("b@example.com", "pw"))
	require.NoError(t, err)

	require.NoError(t, manager.Delete(ctx, "a@example.com"))

	list, err := manager.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b@example.com", list[0].Email)

	_, err = store.Get(ctx, "a@example.com")
	assert.ErrorIs(t, err, credential.ErrNotFound)

	assert.ErrorIs(t, manager.Delete(ctx, "a@example.com"), db.ErrAccountNotFound)
}
