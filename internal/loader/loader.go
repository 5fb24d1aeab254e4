// Package loader loads folder views in the background. Every load gets a token from
// a counter; a result is delivered only while its token is still the newest, so a
// slow load never overwrites the view the user switched to afterwards.
package loader

import (
	"context"
	"log"
	"sync/atomic"

	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/rules"
)

// Source is what a load reads from and where rule actions are written. The
// repository implements it.
type Source interface {
	GetCachedThreads(ctx context.Context, folder string, limit, offset int) []*models.ThreadNode
	FetchThreads(ctx context.Context, folder string, limit, offset int) []*models.ThreadNode
	rules.Mover
}

// RuleSource returns the active rules of an account.
type RuleSource interface {
	ForAccount(ctx context.Context, accountID int64) ([]*models.Rule, error)
}

// Phase says which step of a load produced a Result.
type Phase string

const (
	PhaseCached Phase = "cached"
	PhaseLive   Phase = "live"
)

// Result is one delivered view of a folder.
type Result struct {
	Token   uint64
	Folder  string
	Phase   Phase
	Threads []*models.ThreadNode
	Rules   rules.Result
}

// FolderLoader runs loads for one account.
type FolderLoader struct {
	source    Source
	rules     RuleSource
	accountID int64

	generation atomic.Uint64
	results    chan Result
}

// New creates a loader. ruleSource may be nil to skip rule application.
func New(source Source, ruleSource RuleSource, accountID int64, buffer int) *FolderLoader {
	if buffer <= 0 {
		buffer = 4
	}
	return &FolderLoader{
		source:    source,
		rules:     ruleSource,
		accountID: accountID,
		results:   make(chan Result, buffer),
	}
}

// Results returns the channel results are delivered on. A result may already sit in
// the channel when a newer load starts, so consumers check Stale on arrival or use Receive.
func (l *FolderLoader) Results() <-chan Result {
	return l.results
}

// Stale reports whether result belongs to a load that has since been superseded.
func (l *FolderLoader) Stale(result Result) bool {
	return !l.fresh(result.Token)
}

// Receive waits for the next result of the newest load, dropping stale ones.
func (l *FolderLoader) Receive(ctx context.Context) (Result, bool) {
	for {
		select {
		case result := <-l.results:
			if l.Stale(result) {
				continue
			}
			return result, true
		case <-ctx.Done():
			return Result{}, false
		}
	}
}

// Current returns the token of the newest load.
func (l *FolderLoader) Current() uint64 {
	return l.generation.Load()
}

// Load starts loading a page of folder and returns its token. The cached view is
// delivered first, then the live one after rules ran over it.
func (l *FolderLoader) Load(ctx context.Context, folder string, limit, offset int) uint64 {
	token := l.generation.Add(1)
	go l.run(ctx, token, folder, limit, offset)
	return token
}

func (l *FolderLoader) run(ctx context.Context, token uint64, folder string, limit, offset int) {
	cached := l.source.GetCachedThreads(ctx, folder, limit, offset)
	if !l.deliver(ctx, Result{Token: token, Folder: folder, Phase: PhaseCached, Threads: cached}) {
		return
	}

	live := l.source.FetchThreads(ctx, folder, limit, offset)

	applied := l.applyRules(ctx, folder, live)
	if applied.Changed() && l.fresh(token) {
		live = l.source.FetchThreads(ctx, folder, limit, offset)
	}

	l.deliver(ctx, Result{Token: token, Folder: folder, Phase: PhaseLive, Threads: live, Rules: applied})
}

func (l *FolderLoader) applyRules(ctx context.Context, folder string, forest []*models.ThreadNode) rules.Result {
	if l.rules == nil || len(forest) == 0 {
		return rules.Result{}
	}
	active, err := l.rules.ForAccount(ctx, l.accountID)
	if err != nil {
		log.Printf("Loader: failed to load rules: %v", err)
		return rules.Result{}
	}
	return rules.NewApplier(l.source, active).Apply(ctx, folder, forest)
}

func (l *FolderLoader) fresh(token uint64) bool {
	return token == l.generation.Load()
}

// deliver sends result unless a newer load started. It reports whether the load is still current.
func (l *FolderLoader) deliver(ctx context.Context, result Result) bool {
	if !l.fresh(result.Token) {
		return false
	}
	select {
	case l.results <- result:
		return true
	case <-ctx.Done():
		return false
	}
}
