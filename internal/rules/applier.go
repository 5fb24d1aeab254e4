package rules

import (
	"context"
	"log"
	"strings"

	"github.com/vdavid/mailsync/internal/models"
)

// Mover performs the server-side writes a rule asks for. The repository implements it.
type Mover interface {
	MoveEmails(ctx context.Context, folder string, uids []uint32, target string) bool
	CopyEmails(ctx context.Context, folder string, uids []uint32, target string) bool
}

// Result counts the messages a pass of Apply relocated.
type Result struct {
	Moved  int
	Copied int
}

// Changed reports whether anything left or was added to another folder.
func (r Result) Changed() bool {
	return r.Moved > 0 || r.Copied > 0
}

// Applier runs a fixed rule list against thread forests.
type Applier struct {
	mover Mover
	rules []*models.Rule
}

// NewApplier creates an Applier. rules are evaluated in the given order.
func NewApplier(mover Mover, rules []*models.Rule) *Applier {
	return &Applier{mover: mover, rules: rules}
}

type batchKey struct {
	target    string
	exclusive bool
}

// Apply evaluates every message of forest and moves (exclusive actions) or copies
// the matches, one server call per target and mode. Targets equal to folder are skipped.
func (a *Applier) Apply(ctx context.Context, folder string, forest []*models.ThreadNode) Result {
	var result Result
	if len(a.rules) == 0 {
		return result
	}

	batches := make(map[batchKey][]uint32)
	var order []batchKey
	for _, msg := range models.FlattenForest(forest) {
		action, ok := Evaluate(a.rules, msg)
		if !ok {
			continue
		}
		target := strings.TrimSpace(action.MoveTo)
		if target == "" || strings.EqualFold(target, folder) {
			continue
		}

		key := batchKey{target: target, exclusive: action.Exclusive}
		if _, ok := batches[key]; !ok {
			order = append(order, key)
		}
		batches[key] = append(batches[key], msg.UID)
	}

	for _, key := range order {
		uids := batches[key]
		if key.exclusive {
			if a.mover.MoveEmails(ctx, folder, uids, key.target) {
				result.Moved += len(uids)
			}
			continue
		}
		if a.mover.CopyEmails(ctx, folder, uids, key.target) {
			result.Copied += len(uids)
		}
	}

	if result.Changed() {
		log.Printf("Rules: %s: moved %d, copied %d messages", folder, result.Moved, result.Copied)
	}
	return result
}
