package poller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/events"
	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/testutil"
)

// fakeMailbox is an INBOX that tests add messages to.
type fakeMailbox struct {
	mu       sync.Mutex
	messages map[uint32]*models.Message
	err      error
}

func newFakeMailbox(uids ...uint32) *fakeMailbox {
	m := &fakeMailbox{messages: map[uint32]*models.Message{}}
	for _, uid := range uids {
		m.deliver(uid)
	}
	return m
}

func (m *fakeMailbox) deliver(uid uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[uid] = &models.Message{
		UID:     uid,
		Folder:  Folder,
		Subject: fmt.Sprintf("Message %d", uid),
		Sender:  fmt.Sprintf("sender%d@example.com", uid),
		Date:    time.Date(2026, 3, 1, 0, 0, int(uid), 0, time.UTC),
		Flags:   []string{},
	}
}

func (m *fakeMailbox) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *fakeMailbox) SearchUIDsAfter(_ context.Context, folder string, after uint32) ([]uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if folder != Folder {
		return nil, fmt.Errorf("unexpected folder %s", folder)
	}
	uids := []uint32{}
	for uid := range m.messages {
		if uid > after {
			uids = append(uids, uid)
		}
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (m *fakeMailbox) FetchMessages(_ context.Context, _ string, uids []uint32) ([]*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	// Reverse order, as servers are free to answer in any order.
	var result []*models.Message
	for i := len(uids) - 1; i >= 0; i-- {
		if msg, ok := m.messages[uids[i]]; ok {
			copied := *msg
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (m *fakeMailbox) ListFolders(context.Context) ([]models.FolderInfo, error) { return nil, nil }
func (m *fakeMailbox) FetchThreads(context.Context, string, int, int) ([]*models.ThreadNode, error) {
	return nil, nil
}
func (m *fakeMailbox) FetchEmailBody(context.Context, string, uint32) (*models.MessageBody, *models.Message, error) {
	return nil, nil, nil
}
func (m *fakeMailbox) MoveEmails(context.Context, string, []uint32, string) error   { return nil }
func (m *fakeMailbox) CopyEmails(context.Context, string, []uint32, string) error   { return nil }
func (m *fakeMailbox) AddFlags(context.Context, string, []uint32, []string) error    { return nil }
func (m *fakeMailbox) RemoveFlags(context.Context, string, []uint32, []string) error { return nil }
func (m *fakeMailbox) CreateFolder(context.Context, string) error                    { return nil }
func (m *fakeMailbox) Logout()                                                       {}

var _ imap.IMAPConnection = (*fakeMailbox)(nil)

type fakeConns map[string]*fakeMailbox

func (f fakeConns) Get(email string) imap.IMAPConnection {
	return f[email]
}

type staticAccounts []*models.Account

func (s staticAccounts) List(context.Context) ([]*models.Account, error) {
	return s, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	shown [][2]string
}

func (n *recordingNotifier) Notify(title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shown = append(n.shown, [2]string{title, message})
}

func (n *recordingNotifier) all() [][2]string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][2]string{}, n.shown...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) uids() []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var result []uint32
	for _, ev := range p.events {
		result = append(result, ev.UID)
	}
	return result
}

type fixture struct {
	poller    *Poller
	database  *db.DB
	notifier  *recordingNotifier
	publisher *recordingPublisher
	accounts  staticAccounts
}

func newFixture(t *testing.T, mailboxes fakeConns, emails ...string) *fixture {
	t.Helper()

	database := testutil.NewTestDB(t)
	var accounts staticAccounts
	for _, email := range emails {
		accounts = append(accounts, testutil.CreateAccount(t, database, email))
	}
	notifier := &recordingNotifier{}
	publisher := &recordingPublisher{}

	p := New(accounts, mailboxes, database, notifier, publisher, Options{Interval: time.Hour})
	return &fixture{poller: p, database: database, notifier: notifier, publisher: publisher, accounts: accounts}
}

func TestColdStartIsSilent(t *testing.T) {
	inbox := newFakeMailbox(1, 2, 3, 4, 5)
	f := newFixture(t, fakeConns{"a@example.com": inbox}, "a@example.com")
	ctx := context.Background()

	f.poller.Poll(ctx)
	assert.Empty(t, f.notifier.all())
	watermark, ok := f.poller.Watermark("a@example.com")
	require.True(t, ok)
	assert.Equal(t, uint32(5), watermark)

	// Nothing new: still silent.
	f.poller.Poll(ctx)
	assert.Empty(t, f.notifier.all())

	inbox.deliver(6)
	inbox.deliver(7)
	f.poller.Poll(ctx)

	assert.Equal(t, [][2]string{
		{"New Email: sender6@example.com", "Message 6"},
		{"New Email: sender7@example.com", "Message 7"},
	}, f.notifier.all())
	assert.Equal(t, []uint32{6, 7}, f.publisher.uids())

	watermark, _ = f.poller.Watermark("a@example.com")
	assert.Equal(t, uint32(7), watermark)

	folder, err := db.GetFolderByName(ctx, f.database, f.accounts[0].ID, Folder)
	require.NoError(t, err)
	cached, err := db.GetMessage(ctx, f.database, f.accounts[0].ID, folder.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, "Message 7", cached.Subject)
	assert.Nil(t, cached.BodyText)
}

func TestEmptyInboxThenFirstMessage(t *testing.T) {
	inbox := newFakeMailbox()
	f := newFixture(t, fakeConns{"a@example.com": inbox}, "a@example.com")
	ctx := context.Background()

	f.poller.Poll(ctx)
	watermark, ok := f.poller.Watermark("a@example.com")
	require.True(t, ok)
	assert.Zero(t, watermark)

	inbox.deliver(1)
	f.poller.Poll(ctx)
	assert.Len(t, f.notifier.all(), 1)
}

func TestOnlyNewestAreAnnounced(t *testing.T) {
	inbox := newFakeMailbox(1)
	f := newFixture(t, fakeConns{"a@example.com": inbox}, "a@example.com")
	ctx := context.Background()

	f.poller.Poll(ctx)
	for uid := uint32(2); uid <= 11; uid++ {
		inbox.deliver(uid)
	}
	f.poller.Poll(ctx)

	assert.Equal(t, []uint32{9, 10, 11}, f.publisher.uids())
	assert.Len(t, f.notifier.all(), 3)
	watermark, _ := f.poller.Watermark("a@example.com")
	assert.Equal(t, uint32(11), watermark)
}

func TestAccountFailuresAreIsolated(t *testing.T) {
	healthy := newFakeMailbox(1)
	broken := newFakeMailbox(1, 2)
	broken.setErr(errors.New("connection refused"))
	f := newFixture(t, fakeConns{"ok@example.com": healthy, "broken@example.com": broken},
		"ok@example.com", "broken@example.com")
	ctx := context.Background()

	f.poller.Poll(ctx)
	_, ok := f.poller.Watermark("broken@example.com")
	assert.False(t, ok, "failed snapshot leaves no watermark")

	healthy.deliver(2)
	broken.deliver(3)
	f.poller.Poll(ctx)
	assert.Equal(t, []uint32{2}, f.publisher.uids())

	// The recovered account snapshots silently first.
	broken.setErr(nil)
	f.poller.Poll(ctx)
	assert.Equal(t, []uint32{2}, f.publisher.uids())
	watermark, ok := f.poller.Watermark("broken@example.com")
	require.True(t, ok)
	assert.Equal(t, uint32(3), watermark)

	broken.deliver(4)
	f.poller.Poll(ctx)
	assert.Equal(t, []uint32{2, 4}, f.publisher.uids())
}

func TestStartTriggerStop(t *testing.T) {
	inbox := newFakeMailbox(1)
	f := newFixture(t, fakeConns{"a@example.com": inbox}, "a@example.com")

	f.poller.Start()
	f.poller.Start()

	assert.Eventually(t, func() bool {
		_, ok := f.poller.Watermark("a@example.com")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	inbox.deliver(2)
	f.poller.Trigger()

	assert.Eventually(t, func() bool {
		return len(f.notifier.all()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.poller.Stop()
	f.poller.Stop()

	inbox.deliver(3)
	f.poller.Trigger()
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, f.notifier.all(), 1, "no polling after Stop")
}

func TestStopBeforeStart(t *testing.T) {
	f := newFixture(t, fakeConns{})
	f.poller.Stop()
	f.poller.Start()
	f.poller.Stop()
}
