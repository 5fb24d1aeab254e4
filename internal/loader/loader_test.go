package loader

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailsync/internal/models"
)

func thread(uid uint32, sender string) *models.ThreadNode {
	return &models.ThreadNode{Message: &models.Message{UID: uid, Sender: sender, Subject: "s"}}
}

// fakeSource serves fixed forests. FetchThreads of a folder in block waits for release.
type fakeSource struct {
	mu      sync.Mutex
	cached  map[string][]*models.ThreadNode
	live    map[string][][]*models.ThreadNode // successive live answers
	fetches map[string]int
	moved   []uint32
	block   map[string]chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		cached:  map[string][]*models.ThreadNode{},
		live:    map[string][][]*models.ThreadNode{},
		fetches: map[string]int{},
		block:   map[string]chan struct{}{},
	}
}

func (s *fakeSource) GetCachedThreads(_ context.Context, folder string, _, _ int) []*models.ThreadNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cached[folder]
}

func (s *fakeSource) FetchThreads(_ context.Context, folder string, _, _ int) []*models.ThreadNode {
	s.mu.Lock()
	wait := s.block[folder]
	s.mu.Unlock()
	if wait != nil {
		<-wait
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	answers := s.live[folder]
	n := s.fetches[folder]
	s.fetches[folder]++
	if len(answers) == 0 {
		return []*models.ThreadNode{}
	}
	if n >= len(answers) {
		n = len(answers) - 1
	}
	return answers[n]
}

func (s *fakeSource) MoveEmails(_ context.Context, _ string, uids []uint32, _ string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moved = append(s.moved, uids...)
	return true
}

func (s *fakeSource) CopyEmails(context.Context, string, []uint32, string) bool {
	return true
}

type staticRules []*models.Rule

func (r staticRules) ForAccount(context.Context, int64) ([]*models.Rule, error) {
	return r, nil
}

func next(t *testing.T, l *FolderLoader) Result {
	t.Helper()
	select {
	case r := <-l.Results():
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no result delivered")
		return Result{}
	}
}

func TestLoadDeliversCachedThenLive(t *testing.T) {
	source := newFakeSource()
	source.cached["INBOX"] = []*models.ThreadNode{thread(1, "a@x")}
	source.live["INBOX"] = [][]*models.ThreadNode{{thread(2, "b@x"), thread(1, "a@x")}}
	l := New(source, nil, 1, 0)

	token := l.Load(context.Background(), "INBOX", 50, 0)
	assert.Equal(t, uint64(1), token)
	assert.Equal(t, token, l.Current())

	cached := next(t, l)
	assert.Equal(t, PhaseCached, cached.Phase)
	assert.Len(t, cached.Threads, 1)

	live := next(t, l)
	assert.Equal(t, PhaseLive, live.Phase)
	assert.Equal(t, token, live.Token)
	assert.Len(t, live.Threads, 2)
}

func TestStaleLoadIsDiscarded(t *testing.T) {
	source := newFakeSource()
	release := make(chan struct{})
	source.block["Slow"] = release
	source.live["Slow"] = [][]*models.ThreadNode{{thread(9, "slow@x")}}
	source.live["Fast"] = [][]*models.ThreadNode{{thread(1, "fast@x")}}
	l := New(source, nil, 1, 0)
	ctx := context.Background()

	first := l.Load(ctx, "Slow", 50, 0)
	assert.Equal(t, PhaseCached, next(t, l).Phase)

	second := l.Load(ctx, "Fast", 50, 0)
	require.Greater(t, second, first)

	got := []Result{next(t, l), next(t, l)}
	for _, r := range got {
		assert.Equal(t, second, r.Token)
		assert.Equal(t, "Fast", r.Folder)
	}

	close(release)
	select {
	case r := <-l.Results():
		t.Fatalf("stale result delivered: %+v", r)
	case <-time.After(100 * time.Millisecond):
	}

	source.mu.Lock()
	defer source.mu.Unlock()
	assert.Equal(t, 1, source.fetches["Slow"], "the stale network call still ran to completion")
}

func TestBufferedResultOfSupersededLoadIsDropped(t *testing.T) {
	source := newFakeSource()
	source.cached["A"] = []*models.ThreadNode{thread(1, "a@x")}
	source.block["A"] = make(chan struct{})
	source.live["B"] = [][]*models.ThreadNode{{thread(2, "b@x")}}
	l := New(source, nil, 1, 0)
	ctx := context.Background()

	first := l.Load(ctx, "A", 50, 0)
	require.Eventually(t, func() bool { return len(l.Results()) == 1 }, 2*time.Second, 5*time.Millisecond)

	second := l.Load(ctx, "B", 50, 0)
	require.Greater(t, second, first)

	buffered := <-l.Results()
	assert.Equal(t, first, buffered.Token)
	assert.True(t, l.Stale(buffered))

	receiveCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for _, phase := range []Phase{PhaseCached, PhaseLive} {
		r, ok := l.Receive(receiveCtx)
		require.True(t, ok)
		assert.Equal(t, second, r.Token)
		assert.Equal(t, "B", r.Folder)
		assert.Equal(t, phase, r.Phase)
		assert.False(t, l.Stale(r))
	}
}

func TestReceiveSkipsStaleResults(t *testing.T) {
	source := newFakeSource()
	source.cached["A"] = []*models.ThreadNode{thread(1, "a@x")}
	source.block["A"] = make(chan struct{})
	source.block["B"] = make(chan struct{})
	l := New(source, nil, 1, 0)
	ctx := context.Background()

	l.Load(ctx, "A", 50, 0)
	require.Eventually(t, func() bool { return len(l.Results()) == 1 }, 2*time.Second, 5*time.Millisecond)
	l.Load(ctx, "B", 50, 0)

	r, ok := l.Receive(ctx)
	require.True(t, ok)
	assert.Equal(t, "B", r.Folder)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, ok = l.Receive(cancelled)
	assert.False(t, ok)
}

func TestLoadAppliesRulesAndReloads(t *testing.T) {
	source := newFakeSource()
	source.live["INBOX"] = [][]*models.ThreadNode{
		{thread(1, "news@list.example"), thread(2, "friend@example.com")},
		{thread(2, "friend@example.com")},
	}
	news := &models.Rule{
		ID:         1,
		Name:       "news",
		Conditions: map[string]string{"sender": "news@"},
		Actions:    models.RuleAction{MoveTo: "News", Exclusive: true},
		IsActive:   true,
	}
	l := New(source, staticRules{news}, 1, 0)

	l.Load(context.Background(), "INBOX", 50, 0)
	next(t, l)
	live := next(t, l)

	assert.Equal(t, 1, live.Rules.Moved)
	require.Len(t, live.Threads, 1)
	assert.Equal(t, uint32(2), live.Threads[0].Message.UID)

	source.mu.Lock()
	defer source.mu.Unlock()
	assert.Equal(t, []uint32{1}, source.moved)
	assert.Equal(t, 2, source.fetches["INBOX"])
}

func TestLoadWithoutRuleMatchesDoesNotReload(t *testing.T) {
	source := newFakeSource()
	source.live["INBOX"] = [][]*models.ThreadNode{{thread(1, "friend@example.com")}}
	l := New(source, staticRules{}, 1, 0)

	l.Load(context.Background(), "INBOX", 50, 0)
	next(t, l)
	live := next(t, l)
	assert.False(t, live.Rules.Changed())

	source.mu.Lock()
	defer source.mu.Unlock()
	assert.Equal(t, 1, source.fetches["INBOX"])
}
