package repository

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
	"github.com/vdavid/mailsync/internal/events"
	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/models"
)

// mockConnection is a mock implementation of imap.IMAPConnection for testing.
type mockConnection struct {
	mock.Mock
}

func (m *mockConnection) ListFolders(ctx context.Context) ([]models.FolderInfo, error) {
	args := m.Called(ctx)
	folders, _ := args.Get(0).([]models.FolderInfo)
	return folders, args.Error(1)
}

func (m *mockConnection) FetchThreads(ctx context.Context, folder string, limit, offset int) ([]*models.ThreadNode, error) {
	args := m.Called(ctx, folder, limit, offset)
	roots, _ := args.Get(0).([]*models.ThreadNode)
	return roots, args.Error(1)
}

func (m *mockConnection) FetchEmailBody(ctx context.Context, folder string, uid uint32) (*models.MessageBody, *models.Message, error) {
	args := m.Called(ctx, folder, uid)
	body, _ := args.Get(0).(*models.MessageBody)
	msg, _ := args.Get(1).(*models.Message)
	return body, msg, args.Error(2)
}

func (m *mockConnection) MoveEmails(ctx context.Context, folder string, uids []uint32, target string) error {
	return m.Called(ctx, folder, uids, target).Error(0)
}

func (m *mockConnection) CopyEmails(ctx context.Context, folder string, uids []uint32, target string) error {
	return m.Called(ctx, folder, uids, target).Error(0)
}

func (m *mockConnection) AddFlags(ctx context.Context, folder string, uids []uint32, flags []string) error {
	return m.Called(ctx, folder, uids, flags).Error(0)
}

func (m *mockConnection) RemoveFlags(ctx context.Context, folder string, uids []uint32, flags []string) error {
	return m.Called(ctx, folder, uids, flags).Error(0)
}

func (m *mockConnection) CreateFolder(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *mockConnection) SearchUIDsAfter(ctx context.Context, folder string, after uint32) ([]uint32, error) {
	args := m.Called(ctx, folder, after)
	uids, _ := args.Get(0).([]uint32)
	return uids, args.Error(1)
}

func (m *mockConnection) FetchMessages(ctx context.Context, folder string, uids []uint32) ([]*models.Message, error) {
	args := m.Called(ctx, folder, uids)
	messages, _ := args.Get(0).([]*models.Message)
	return messages, args.Error(1)
}

func (m *mockConnection) Logout() {
	m.Called()
}

// mockPool is a mock implementation of imap.IMAPPool for testing.
type mockPool struct {
	mock.Mock
}

func (m *mockPool) Get(email string) imap.IMAPConnection {
	return m.Called(email).Get(0).(imap.IMAPConnection)
}

func (m *mockPool) Remove(email string) {
	m.Called(email)
}

func (m *mockPool) Close() {
	m.Called()
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]events.Type, 0, len(p.events))
	for _, ev := range p.events {
		result = append(result, ev.Type)
	}
	return result
}

// staticAccounts serves fixed account configurations.
type staticAccounts map[string]*models.Account

func (s staticAccounts) Get(_ context.Context, email string) (*models.Account, error) {
	if account, ok := s[email]; ok {
		return account, nil
	}
	return nil, errNotConfigured
}
