package threading

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/vdavid/mailsync/internal/models"
)

// shape is a comparable view of a forest: UIDs only.
type shape struct {
	UID      uint32
	Children []shape
}

func shapeOf(roots []*models.ThreadNode) []shape {
	result := make([]shape, 0, len(roots))
	for _, r := range roots {
		s := shape{UID: r.Message.UID}
		if len(r.Children) > 0 {
			s.Children = shapeOf(r.Children)
		}
		result = append(result, s)
	}
	return result
}

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func msg(uid uint32, subject string, hoursAfter int) *models.Message {
	return &models.Message{
		UID:       uid,
		Subject:   subject,
		Date:      base.Add(time.Duration(hoursAfter) * time.Hour),
		MessageID: idFor(uid),
	}
}

func idFor(uid uint32) string {
	return "<" + string(rune('a'+uid)) + "@example.com>"
}

func TestBuildFromHeaders(t *testing.T) {
	tests := []struct {
		name     string
		messages func() []*models.Message
		expected []shape
	}{
		{
			name: "in-reply-to links a reply under its parent",
			messages: func() []*models.Message {
				reply := msg(2, "Re: Hello", 1)
				reply.InReplyTo = idFor(1)
				return []*models.Message{msg(1, "Hello", 0), reply}
			},
			expected: []shape{{UID: 1, Children: []shape{{UID: 2}}}},
		},
		{
			name: "references are walked from the end",
			messages: func() []*models.Message {
				child := msg(3, "Plan", 2)
				child.References = []string{idFor(1), idFor(2)}
				return []*models.Message{msg(1, "Plan A", 0), msg(2, "Plan B", 1), child}
			},
			expected: []shape{{UID: 2, Children: []shape{{UID: 3}}}, {UID: 1}},
		},
		{
			name: "unknown reference falls back to in-reply-to",
			messages: func() []*models.Message {
				child := msg(2, "x", 1)
				child.References = []string{"<missing@example.com>"}
				child.InReplyTo = idFor(1)
				return []*models.Message{msg(1, "y", 0), child}
			},
			expected: []shape{{UID: 1, Children: []shape{{UID: 2}}}},
		},
		{
			name: "self reference is ignored",
			messages: func() []*models.Message {
				m := msg(1, "solo", 0)
				m.InReplyTo = idFor(1)
				return []*models.Message{m}
			},
			expected: []shape{{UID: 1}},
		},
		{
			name: "reference cycle keeps one message as root",
			messages: func() []*models.Message {
				a := msg(1, "ab", 0)
				b := msg(2, "cd", 1)
				a.InReplyTo = idFor(2)
				b.InReplyTo = idFor(1)
				return []*models.Message{a, b}
			},
			expected: []shape{{UID: 2, Children: []shape{{UID: 1}}}},
		},
		{
			name: "bracketless ids still match",
			messages: func() []*models.Message {
				reply := msg(2, "z", 1)
				reply.InReplyTo = " b@example.com "
				return []*models.Message{msg(1, "w", 0), reply}
			},
			expected: []shape{{UID: 1, Children: []shape{{UID: 2}}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := shapeOf(BuildFromHeaders(tt.messages()))
			if diff := cmp.Diff(tt.expected, got); diff != "" {
				t.Errorf("forest mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSubjectMerge(t *testing.T) {
	tests := []struct {
		name     string
		messages []*models.Message
		expected []shape
	}{
		{
			name:     "reply prefix merges into the oldest root",
			messages: []*models.Message{msg(1, "Meeting", 0), msg(2, "Re: Meeting", 1)},
			expected: []shape{{UID: 1, Children: []shape{{UID: 2}}}},
		},
		{
			name:     "oldest wins even when listed last",
			messages: []*models.Message{msg(5, "RE: re: Budget", 3), msg(4, "budget", 1)},
			expected: []shape{{UID: 4, Children: []shape{{UID: 5}}}},
		},
		{
			name:     "forward prefixes are stripped",
			messages: []*models.Message{msg(1, "Offsite", 0), msg(2, "Fwd: Offsite", 1), msg(3, "FW: Offsite", 2)},
			expected: []shape{{UID: 1, Children: []shape{{UID: 2}, {UID: 3}}}},
		},
		{
			name:     "short subjects are not merged",
			messages: []*models.Message{msg(1, "Hi", 0), msg(2, "Re: Hi", 1)},
			expected: []shape{{UID: 2}, {UID: 1}},
		},
		{
			name:     "empty subjects are not merged",
			messages: []*models.Message{msg(1, "", 0), msg(2, "", 1)},
			expected: []shape{{UID: 2}, {UID: 1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := shapeOf(BuildFromHeaders(tt.messages))
			if diff := cmp.Diff(tt.expected, got); diff != "" {
				t.Errorf("forest mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSubjectMergeMovesSubtrees(t *testing.T) {
	root := msg(1, "Quarterly report", 0)
	other := msg(2, "Re: Quarterly report", 1)
	reply := msg(3, "thanks", 2)
	reply.InReplyTo = idFor(2)

	got := shapeOf(BuildFromHeaders([]*models.Message{root, other, reply}))

	expected := []shape{{UID: 1, Children: []shape{{UID: 2, Children: []shape{{UID: 3}}}}}}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("forest mismatch (-want +got):\n%s", diff)
	}

	total := 0
	for _, r := range BuildFromHeaders([]*models.Message{root, other, reply}) {
		total += r.Size()
	}
	assert.Equal(t, 3, total, "no message may be duplicated or lost")
}

func TestBuildUsesThreadIDs(t *testing.T) {
	a := msg(1, "first", 2)
	a.GmThreadID = "100"
	b := msg(2, "second", 0)
	b.GmThreadID = "100"
	c := msg(3, "third", 1)
	c.GmThreadID = "100"
	loose := msg(4, "loose", 5)
	// Headers would link loose under a, but the thread id tier wins for the folder.
	loose.InReplyTo = idFor(1)

	got := shapeOf(Build([]*models.Message{a, b, c, loose}))

	expected := []shape{
		{UID: 4},
		{UID: 2, Children: []shape{{UID: 3}, {UID: 1}}},
	}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("forest mismatch (-want +got):\n%s", diff)
	}
}

func TestFromNative(t *testing.T) {
	messages := []*models.Message{
		msg(1, "alpha", 0),
		msg(2, "beta", 1),
		msg(3, "gamma", 2),
		msg(5, "delta", 3),
		msg(6, "epsilon", 4),
	}

	native := []*NativeThread{
		{UID: 1, Children: []*NativeThread{
			{UID: 2, Children: []*NativeThread{{UID: 3}}},
		}},
		{UID: 4, Children: []*NativeThread{{UID: 5}}},
		{UID: 6},
	}

	got := shapeOf(FromNative(native, messages))

	expected := []shape{
		{UID: 6},
		{UID: 5},
		{UID: 1, Children: []shape{{UID: 2, Children: []shape{{UID: 3}}}}},
	}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("forest mismatch (-want +got):\n%s", diff)
	}
}

func TestFromNativeAppliesSubjectMerge(t *testing.T) {
	messages := []*models.Message{msg(1, "Lunch plans", 0), msg(2, "Re: Lunch plans", 1)}
	native := []*NativeThread{{UID: 1}, {UID: 2}}

	got := shapeOf(FromNative(native, messages))

	assert.Equal(t, []shape{{UID: 1, Children: []shape{{UID: 2}}}}, got)
}

func TestRootsSortedByNewestDescendant(t *testing.T) {
	old := msg(1, "old thread", 0)
	fresh := msg(2, "fresh", 5)
	lateReply := msg(3, "late", 10)
	lateReply.InReplyTo = idFor(1)

	got := shapeOf(BuildFromHeaders([]*models.Message{old, fresh, lateReply}))

	assert.Equal(t, uint32(1), got[0].UID, "a thread with the newest reply sorts first")
	assert.Equal(t, uint32(2), got[1].UID)
}

func TestPaginateStability(t *testing.T) {
	var messages []*models.Message
	for i := 1; i <= 10; i++ {
		messages = append(messages, msg(uint32(i), "", i))
	}
	all := BuildFromHeaders(messages)
	assert.Len(t, all, 10)

	page := Paginate(all, 3, 3)
	assert.Equal(t, []uint32{7, 6, 5}, uids(page), "ranks 4 to 6")

	for _, size := range []int{1, 3, 4, 7, 10, 15} {
		var seen []uint32
		for offset := 0; offset < len(all); offset += size {
			seen = append(seen, uids(Paginate(all, size, offset))...)
		}
		assert.Equal(t, uids(all), seen, "page size %d must neither skip nor duplicate", size)
	}
}

func TestPaginateBounds(t *testing.T) {
	all := BuildFromHeaders([]*models.Message{msg(1, "", 0), msg(2, "", 1)})

	assert.Empty(t, Paginate(all, 5, 10))
	assert.NotNil(t, Paginate(all, 5, 10))
	assert.Len(t, Paginate(all, 0, 0), 2)
	assert.Len(t, Paginate(all, 5, -1), 2)
}

func TestNormalizeSubject(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello", "hello"},
		{"Re: Hello", "hello"},
		{"RE: Re: FWD: fw: Hello ", "hello"},
		{"Re : spaced", "spaced"},
		{"Regarding the plan", "regarding the plan"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeSubject(tt.input))
		})
	}
}

func uids(roots []*models.ThreadNode) []uint32 {
	result := make([]uint32, 0, len(roots))
	for _, r := range roots {
		result = append(result, r.Message.UID)
	}
	return result
}
