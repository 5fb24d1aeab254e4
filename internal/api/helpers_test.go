package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailsync/internal/accounts"
	"github.com/vdavid/mailsync/internal/credential"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/events"
	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/repository"
	"github.com/vdavid/mailsync/internal/testutil"
)

var errOffline = errors.New("dial tcp: connection refused")

// fakeConnection answers from fixed data. With offline set every call fails.
type fakeConnection struct {
	mu      sync.Mutex
	offline bool
	folders []models.FolderInfo
	threads map[string][]*models.ThreadNode
	body    *models.MessageBody
	calls   []string
}

func (c *fakeConnection) record(call string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
	if c.offline {
		return errOffline
	}
	return nil
}

func (c *fakeConnection) setOffline(offline bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offline = offline
}

func (c *fakeConnection) recorded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.calls...)
}

func (c *fakeConnection) ListFolders(context.Context) ([]models.FolderInfo, error) {
	if err := c.record("list"); err != nil {
		return nil, err
	}
	return append([]models.FolderInfo{}, c.folders...), nil
}

func (c *fakeConnection) FetchThreads(_ context.Context, folder string, _, _ int) ([]*models.ThreadNode, error) {
	if err := c.record("threads " + folder); err != nil {
		return nil, err
	}
	if threads, ok := c.threads[folder]; ok {
		return threads, nil
	}
	return []*models.ThreadNode{}, nil
}

func (c *fakeConnection) FetchEmailBody(_ context.Context, folder string, uid uint32) (*models.MessageBody, *models.Message, error) {
	if err := c.record("body " + folder); err != nil {
		return nil, nil, err
	}
	if c.body == nil {
		return &models.MessageBody{}, nil, nil
	}
	return c.body, &models.Message{UID: uid, Folder: folder, Subject: "Body", Date: time.Now()}, nil
}

func (c *fakeConnection) MoveEmails(_ context.Context, _ string, _ []uint32, target string) error {
	return c.record("move " + target)
}

func (c *fakeConnection) CopyEmails(_ context.Context, _ string, _ []uint32, target string) error {
	return c.record("copy " + target)
}

func (c *fakeConnection) AddFlags(context.Context, string, []uint32, []string) error {
	return c.record("add flags")
}

func (c *fakeConnection) RemoveFlags(context.Context, string, []uint32, []string) error {
	return c.record("remove flags")
}

func (c *fakeConnection) CreateFolder(_ context.Context, name string) error {
	return c.record("create " + name)
}

func (c *fakeConnection) SearchUIDsAfter(context.Context, string, uint32) ([]uint32, error) {
	return nil, c.record("search")
}

func (c *fakeConnection) FetchMessages(context.Context, string, []uint32) ([]*models.Message, error) {
	return nil, c.record("fetch")
}

func (c *fakeConnection) Logout() {}

// fakePool hands the same connection to every account and records removals.
type fakePool struct {
	conn    *fakeConnection
	mu      sync.Mutex
	removed []string
}

func (p *fakePool) Get(string) imap.IMAPConnection { return p.conn }

func (p *fakePool) Remove(email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = append(p.removed, email)
}

func (p *fakePool) Close() {}

type fixture struct {
	database *db.DB
	conn     *fakeConnection
	pool     *fakePool
	hub      *events.Hub
	accounts *accounts.Manager
	registry *repository.Registry
}

const testAccount = "user@example.com"

// newFixture wires real SQLite, account manager and registry around a fake connection,
// with testAccount configured.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	database := testutil.NewTestDB(t)
	conn := &fakeConnection{threads: map[string][]*models.ThreadNode{}}
	pool := &fakePool{conn: conn}
	hub := events.NewHub(8, 4)
	manager := accounts.NewManager(database, credential.NewEncryptedStore(database, testutil.GetTestEncryptor(t)))

	_, err := manager.Add(context.Background(), &models.AccountRequest{
		Email:    testAccount,
		Password: "secret",
		IMAPHost: "imap.example.com",
		IMAPPort: 993,
	})
	require.NoError(t, err)

	return &fixture{
		database: database,
		conn:     conn,
		pool:     pool,
		hub:      hub,
		accounts: manager,
		registry: repository.NewRegistry(pool, database, manager, hub),
	}
}

func node(uid uint32, subject string, date time.Time, children ...*models.ThreadNode) *models.ThreadNode {
	return &models.ThreadNode{
		Message: &models.Message{
			UID:       uid,
			Subject:   subject,
			Sender:    "alice@example.com",
			Date:      date,
			Flags:     []string{},
			MessageID: subject + "@example.com",
		},
		Children: children,
	}
}

// do runs handler on a request and returns the recorder.
func do(handler http.HandlerFunc, method, target string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	rr := httptest.NewRecorder()
	handler(rr, httptest.NewRequest(method, target, reader))
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), rr.Body.String())
	return v
}

// FailingResponseWriter is a ResponseWriter that fails on Write to test error handling.
type FailingResponseWriter struct {
	http.ResponseWriter
	WriteShouldFail bool
}

func (f *FailingResponseWriter) Write(p []byte) (int, error) {
	if f.WriteShouldFail {
		return 0, errors.New("write failed")
	}
	return f.ResponseWriter.Write(p)
}
