package models

import (
	"sort"
	"strings"
	"time"
)

// Folder is a cached mailbox row. RemoteID defaults to Name.
type Folder struct {
	ID        int64  `json:"id"`
	AccountID int64  `json:"account_id"`
	Name      string `json:"name"`
	RemoteID  string `json:"remote_id"`
}

// FolderInfo describes a mailbox as listed by the server.
type FolderInfo struct {
	Name      string   `json:"name"`
	Flags     []string `json:"flags"`
	Delimiter string   `json:"delimiter"`
	// Cached is the number of cached messages, filled only when listing offline.
	Cached int `json:"cached,omitempty"`
}

// Message is one email as seen in one folder.
// (AccountID, FolderID, UID) is unique. UID changes when a message moves to another folder.
// BodyText and BodyHTML are nil when the body was not fetched.
type Message struct {
	AccountID  int64     `json:"account_id"`
	FolderID   int64     `json:"folder_id"`
	Folder     string    `json:"folder"`
	UID        uint32    `json:"uid"`
	Subject    string    `json:"subject"`
	Sender     string    `json:"sender"`
	To         []string  `json:"to"`
	Cc         []string  `json:"cc"`
	Date       time.Time `json:"date"`
	Flags      []string  `json:"flags"`
	MessageID  string    `json:"message_id"`
	InReplyTo  string    `json:"in_reply_to,omitempty"`
	References []string  `json:"references,omitempty"`
	GmThreadID string    `json:"gm_thread_id,omitempty"`
	BodyText   *string   `json:"body_text,omitempty"`
	BodyHTML   *string   `json:"body_html,omitempty"`
}

// HasFlag reports whether the message carries the flag (case-insensitive, as IMAP flags are).
func (m *Message) HasFlag(flag string) bool {
	for _, f := range m.Flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

// Recipients joins To and Cc the way rule matching expects them.
func (m *Message) Recipients() string {
	all := make([]string, 0, len(m.To)+len(m.Cc))
	all = append(all, m.To...)
	all = append(all, m.Cc...)
	return strings.Join(all, ", ")
}

// MessageBody is the parsed content of a message.
type MessageBody struct {
	Text        string            `json:"text"`
	HTML        string            `json:"html"`
	Headers     map[string]string `json:"headers"`
	Attachments []Attachment      `json:"attachments"`
}

// Empty reports that no content is available.
func (b *MessageBody) Empty() bool {
	return b == nil || (b.Text == "" && b.HTML == "" && len(b.Attachments) == 0 && len(b.Headers) == 0)
}

type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	IsInline    bool   `json:"is_inline"`
	ContentID   string `json:"content_id,omitempty"`
}

// UnionFlags returns the sorted, de-duplicated union of both flag sets.
func UnionFlags(current, added []string) []string {
	set := make(map[string]struct{}, len(current)+len(added))
	for _, f := range current {
		set[f] = struct{}{}
	}
	for _, f := range added {
		set[f] = struct{}{}
	}
	return sortedFlags(set)
}

// SubtractFlags returns current without any of removed.
func SubtractFlags(current, removed []string) []string {
	set := make(map[string]struct{}, len(current))
	for _, f := range current {
		set[f] = struct{}{}
	}
	for _, f := range removed {
		delete(set, f)
	}
	return sortedFlags(set)
}

func sortedFlags(set map[string]struct{}) []string {
	result := make([]string, 0, len(set))
	for f := range set {
		result = append(result, f)
	}
	sort.Strings(result)
	return result
}
