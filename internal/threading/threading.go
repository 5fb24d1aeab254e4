// Package threading turns a flat set of messages into a forest of conversations.
//
// Structure is taken from the first tier that applies to the whole folder:
// a server-native THREAD tree, Gmail thread ids, or References/In-Reply-To headers.
// Roots that remain are then merged by normalized subject, sorted newest first,
// and paginated.
package threading

import (
	"sort"
	"strings"
	"time"

	"github.com/vdavid/mailsync/internal/models"
)

// NativeThread is one node of a server-returned THREAD response, keyed by UID.
type NativeThread struct {
	UID      uint32
	Children []*NativeThread
}

// FromNative builds the forest from a server-native thread tree. The tree's own
// parent/child structure is kept. UIDs without message data are dropped and their
// children become roots. Messages the tree does not mention are roots as well.
func FromNative(native []*NativeThread, messages []*models.Message) []*models.ThreadNode {
	a := newArena(messages)

	byUID := make(map[uint32]int, len(messages))
	for i, m := range messages {
		if _, ok := byUID[m.UID]; !ok {
			byUID[m.UID] = i
		}
	}

	placed := make(map[int]bool, len(messages))
	var place func(node *NativeThread, parent int)
	place = func(node *NativeThread, parent int) {
		if node == nil {
			return
		}
		idx, ok := byUID[node.UID]
		if ok && !placed[idx] {
			placed[idx] = true
			if parent >= 0 {
				a.attach(idx, parent)
			}
		} else {
			// Missing or repeated id: its children are orphans.
			idx = -1
		}
		for _, child := range node.Children {
			place(child, idx)
		}
	}
	for _, root := range native {
		place(root, -1)
	}

	roots := a.mergeSubjects(a.roots())
	return a.forest(roots)
}

// Build threads messages without server help. Gmail thread ids are used when any
// message carries one, reference headers otherwise.
func Build(messages []*models.Message) []*models.ThreadNode {
	for _, m := range messages {
		if m.GmThreadID != "" {
			return buildByThreadID(messages)
		}
	}
	return BuildFromHeaders(messages)
}

// BuildFromHeaders threads by References/In-Reply-To and then by subject. It is the
// only path available offline.
func BuildFromHeaders(messages []*models.Message) []*models.ThreadNode {
	a := newArena(messages)
	a.linkByReferences()
	a.sortChildren()
	roots := a.mergeSubjects(a.roots())
	return a.forest(roots)
}

func buildByThreadID(messages []*models.Message) []*models.ThreadNode {
	a := newArena(messages)

	groups := make(map[string][]int)
	var order []string
	for i, m := range messages {
		if m.GmThreadID == "" {
			continue
		}
		if _, ok := groups[m.GmThreadID]; !ok {
			order = append(order, m.GmThreadID)
		}
		groups[m.GmThreadID] = append(groups[m.GmThreadID], i)
	}

	for _, id := range order {
		members := a.byDate(groups[id])
		for _, member := range members[1:] {
			a.attach(member, members[0])
		}
	}

	roots := a.mergeSubjects(a.roots())
	return a.forest(roots)
}

// Paginate returns roots[offset:offset+limit], clamped. A non-positive limit means
// everything from offset on.
func Paginate(roots []*models.ThreadNode, limit, offset int) []*models.ThreadNode {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(roots) {
		return []*models.ThreadNode{}
	}
	end := len(roots)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return roots[offset:end]
}

// NormalizeMessageID strips whitespace and angle brackets.
func NormalizeMessageID(id string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(id), "<>"))
}

// arena holds the tree as index lists so re-parenting never aliases nodes.
type arena struct {
	msgs     []*models.Message
	parent   []int
	children [][]int
}

func newArena(messages []*models.Message) *arena {
	a := &arena{
		msgs:     messages,
		parent:   make([]int, len(messages)),
		children: make([][]int, len(messages)),
	}
	for i := range a.parent {
		a.parent[i] = -1
	}
	return a
}

func (a *arena) attach(child, parent int) {
	if old := a.parent[child]; old >= 0 {
		siblings := a.children[old]
		for i, c := range siblings {
			if c == child {
				a.children[old] = append(siblings[:i:i], siblings[i+1:]...)
				break
			}
		}
	}
	a.parent[child] = parent
	a.children[parent] = append(a.children[parent], child)
}

// createsCycle reports whether making parent the parent of child would close a loop.
func (a *arena) createsCycle(child, parent int) bool {
	for p := parent; p >= 0; p = a.parent[p] {
		if p == child {
			return true
		}
	}
	return false
}

func (a *arena) roots() []int {
	var roots []int
	for i, p := range a.parent {
		if p < 0 {
			roots = append(roots, i)
		}
	}
	return roots
}

func (a *arena) linkByReferences() {
	index := make(map[string]int, len(a.msgs))
	for i, m := range a.msgs {
		id := NormalizeMessageID(m.MessageID)
		if id == "" {
			continue
		}
		if _, ok := index[id]; !ok {
			index[id] = i
		}
	}

	for i, m := range a.msgs {
		candidates := make([]string, 0, len(m.References)+1)
		for j := len(m.References) - 1; j >= 0; j-- {
			candidates = append(candidates, m.References[j])
		}
		candidates = append(candidates, m.InReplyTo)

		for _, ref := range candidates {
			p, ok := index[NormalizeMessageID(ref)]
			if !ok || p == i || a.createsCycle(i, p) {
				continue
			}
			a.attach(i, p)
			break
		}
	}
}

func (a *arena) sortChildren() {
	for i := range a.children {
		if len(a.children[i]) > 1 {
			a.children[i] = a.byDate(a.children[i])
		}
	}
}

// byDate returns idxs ordered oldest first. Equal dates keep their input order.
func (a *arena) byDate(idxs []int) []int {
	sorted := append([]int(nil), idxs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return a.msgs[sorted[i]].Date.Before(a.msgs[sorted[j]].Date)
	})
	return sorted
}

// mergeSubjects folds roots sharing a normalized subject into the oldest of them.
func (a *arena) mergeSubjects(roots []int) []int {
	groups := make(map[string][]int)
	var order []string
	for _, r := range roots {
		key := NormalizeSubject(a.msgs[r].Subject)
		if !mergeableSubject(key) {
			continue
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}

	merged := make(map[int]bool)
	for _, key := range order {
		members := groups[key]
		if len(members) < 2 {
			continue
		}
		members = a.byDate(members)
		for _, m := range members[1:] {
			a.attach(m, members[0])
			merged[m] = true
		}
	}

	remaining := roots[:0:0]
	for _, r := range roots {
		if !merged[r] {
			remaining = append(remaining, r)
		}
	}
	return remaining
}

func (a *arena) newest(idx int) time.Time {
	newest := a.msgs[idx].Date
	for _, c := range a.children[idx] {
		if d := a.newest(c); d.After(newest) {
			newest = d
		}
	}
	return newest
}

// forest sorts roots newest first and materializes them as ThreadNodes.
func (a *arena) forest(roots []int) []*models.ThreadNode {
	newest := make(map[int]time.Time, len(roots))
	for _, r := range roots {
		newest[r] = a.newest(r)
	}
	sort.SliceStable(roots, func(i, j int) bool {
		ni, nj := newest[roots[i]], newest[roots[j]]
		if !ni.Equal(nj) {
			return ni.After(nj)
		}
		return a.msgs[roots[i]].UID > a.msgs[roots[j]].UID
	})

	result := make([]*models.ThreadNode, 0, len(roots))
	for _, r := range roots {
		result = append(result, a.node(r))
	}
	return result
}

func (a *arena) node(idx int) *models.ThreadNode {
	n := &models.ThreadNode{Message: a.msgs[idx]}
	for _, c := range a.children[idx] {
		n.Children = append(n.Children, a.node(c))
	}
	return n
}
