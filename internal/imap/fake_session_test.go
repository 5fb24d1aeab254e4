package imap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emersion/go-imap"
	sortthread "github.com/emersion/go-imap-sortthread"
	"github.com/vdavid/mailsync/internal/models"
)

// fakeSession is an in-process session with optional per-command delay.
// It records every command and the highest number of commands that ran at once.
type fakeSession struct {
	mu       sync.Mutex
	state    imap.ConnState
	caps     map[string]bool
	folders  map[string][]*imap.Message
	selected string
	log      []string
	delay    time.Duration
	threads  []*sortthread.Thread
	threadErr error
	failNext error
	// reject fails every run of the exact command entry with the mapped error.
	reject map[string]error

	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeSession(caps ...string) *fakeSession {
	s := &fakeSession{
		state:   imap.AuthenticatedState,
		caps:    map[string]bool{},
		folders: map[string][]*imap.Message{},
	}
	for _, c := range caps {
		s.caps[c] = true
	}
	return s
}

func (s *fakeSession) add(folder string, uid uint32, subject string, date time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders[folder] = append(s.folders[folder], &imap.Message{
		Uid:   uid,
		Flags: []string{},
		Envelope: &imap.Envelope{
			Subject:   subject,
			MessageId: fmt.Sprintf("<%s-%d@test>", folder, uid),
			Date:      date,
		},
	})
}

// enter marks a command as running and sleeps for the configured delay.
func (s *fakeSession) enter(entry string) error {
	n := s.active.Add(1)
	for {
		max := s.maxActive.Load()
		if n <= max || s.maxActive.CompareAndSwap(max, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	s.log = append(s.log, entry)
	err := s.failNext
	s.failNext = nil
	if err == nil {
		err = s.reject[entry]
	}
	if err != nil && errors.Is(err, errTransport) {
		s.state = imap.LogoutState
	}
	s.mu.Unlock()
	return err
}

func (s *fakeSession) leave() { s.active.Add(-1) }

var errTransport = errors.New("connection reset")

func (s *fakeSession) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.log...)
}

func (s *fakeSession) State() imap.ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSession) Select(name string, readOnly bool) (*imap.MailboxStatus, error) {
	defer s.leave()
	if err := s.enter("SELECT " + name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.folders[name]; !ok {
		return nil, fmt.Errorf("no such mailbox %s", name)
	}
	s.selected = name
	s.state = imap.SelectedState
	return &imap.MailboxStatus{Name: name, ReadOnly: readOnly, Messages: uint32(len(s.folders[name]))}, nil
}

func (s *fakeSession) List(_, _ string, ch chan *imap.MailboxInfo) error {
	defer close(ch)
	defer s.leave()
	if err := s.enter("LIST"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.folders {
		ch <- &imap.MailboxInfo{Name: name, Delimiter: "/"}
	}
	return nil
}

func (s *fakeSession) UidSearch(criteria *imap.SearchCriteria) ([]uint32, error) {
	defer s.leave()
	s.mu.Lock()
	selected := s.selected
	s.mu.Unlock()

	entry := "SEARCH " + selected
	if criteria.Uid != nil {
		entry += " " + criteria.Uid.String()
	}
	if err := s.enter(entry); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var uids []uint32
	for _, m := range s.folders[s.selected] {
		if criteria.Uid == nil || criteria.Uid.Contains(m.Uid) {
			uids = append(uids, m.Uid)
		}
	}
	// Servers answer n:* with the last message even when its UID is below n.
	if criteria.Uid != nil && len(uids) == 0 && len(s.folders[s.selected]) > 0 {
		msgs := s.folders[s.selected]
		uids = append(uids, msgs[len(msgs)-1].Uid)
	}
	return uids, nil
}

func (s *fakeSession) UidFetch(seqset *imap.SeqSet, _ []imap.FetchItem, ch chan *imap.Message) error {
	defer close(ch)
	defer s.leave()
	if err := s.enter("FETCH " + s.currentFolder()); err != nil {
		return err
	}
	s.mu.Lock()
	var found []*imap.Message
	for _, m := range s.folders[s.selected] {
		if seqset.Contains(m.Uid) {
			found = append(found, m)
		}
	}
	s.mu.Unlock()
	for _, m := range found {
		ch <- m
	}
	return nil
}

func (s *fakeSession) currentFolder() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

func (s *fakeSession) UidCopy(_ *imap.SeqSet, dest string) error {
	defer s.leave()
	return s.enter("COPY " + dest)
}

func (s *fakeSession) UidMove(_ *imap.SeqSet, dest string) error {
	defer s.leave()
	return s.enter("MOVE " + dest)
}

func (s *fakeSession) UidStore(_ *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error {
	if ch != nil {
		defer close(ch)
	}
	defer s.leave()
	return s.enter(fmt.Sprintf("STORE %s %v", item, value))
}

func (s *fakeSession) Expunge(ch chan uint32) error {
	if ch != nil {
		defer close(ch)
	}
	defer s.leave()
	return s.enter("EXPUNGE")
}

func (s *fakeSession) Support(capability string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps[capability], nil
}

func (s *fakeSession) Create(name string) error {
	defer s.leave()
	if err := s.enter("CREATE " + name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders[name] = nil
	return nil
}

func (s *fakeSession) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = imap.LogoutState
	return nil
}

func (s *fakeSession) Thread(_ *imap.SearchCriteria) ([]*sortthread.Thread, error) {
	defer s.leave()
	if err := s.enter("THREAD " + s.currentFolder()); err != nil {
		return nil, err
	}
	if s.threadErr != nil {
		return nil, s.threadErr
	}
	return s.threads, nil
}

// fakeCreds hands out a fixed account.
type fakeCreds struct{ err error }

func (f fakeCreds) Credentials(_ context.Context, email string) (*models.Account, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return &models.Account{Email: email, IMAPHost: "fake", IMAPPort: 993, UseTLS: true}, "secret", nil
}

// fakeDialer returns the sessions in order and counts dials.
type fakeDialer struct {
	mu       sync.Mutex
	sessions []*fakeSession
	dials    int
	err      error
}

func (d *fakeDialer) dial(_ context.Context, _ *models.Account, _ string, _ time.Duration) (session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	if len(d.sessions) == 0 {
		return nil, errors.New("no more sessions")
	}
	s := d.sessions[0]
	if len(d.sessions) > 1 {
		d.sessions = d.sessions[1:]
	}
	return s, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}
