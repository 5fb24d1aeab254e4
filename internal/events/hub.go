// Package events is the in-process surface through which the engine tells its
// front ends that something changed: new mail arrived, a thread list or a message
// body finished loading.
package events

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type names an event kind on the wire.
type Type string

const (
	TypeNewMail         Type = "new_mail"
	TypeThreadListReady Type = "thread_list_ready"
	TypeBodyReady       Type = "body_ready"
)

// Event is one notification. Account is the account email.
type Event struct {
	ID      string         `json:"id"`
	Type    Type           `json:"type"`
	Account string         `json:"account"`
	Folder  string         `json:"folder,omitempty"`
	UID     uint32         `json:"uid,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Time    time.Time      `json:"time"`
}

// New returns an event with a fresh id and the current time.
func New(eventType Type, account, folder string) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    eventType,
		Account: account,
		Folder:  folder,
		Time:    time.Now().UTC(),
	}
}

// Publisher accepts events. Publish must not block.
type Publisher interface {
	Publish(ev Event)
}

// ErrTooManySubscribers is returned when an account already has the maximum number of subscribers.
var ErrTooManySubscribers = errors.New("too many subscribers")

// Subscription receives events for one account, or for every account when the account is empty.
type Subscription struct {
	account string
	ch      chan Event
}

// C returns the channel events are delivered on. It is closed on Unsubscribe.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Hub fans events out to subscribers. Delivery never blocks the publisher:
// a subscriber whose buffer is full misses the event.
type Hub struct {
	mu            sync.RWMutex
	subscribers   map[string]map[*Subscription]struct{} // account -> set of subscriptions
	bufferSize    int
	maxPerAccount int
}

// NewHub creates a Hub with a per-subscriber buffer and a per-account subscriber limit.
func NewHub(bufferSize, maxPerAccount int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	if maxPerAccount <= 0 {
		maxPerAccount = 10
	}
	return &Hub{
		subscribers:   make(map[string]map[*Subscription]struct{}),
		bufferSize:    bufferSize,
		maxPerAccount: maxPerAccount,
	}
}

// Subscribe registers a subscriber for account ("" for all accounts).
func (h *Hub) Subscribe(account string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[account]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.subscribers[account] = subs
	}

	if len(subs) >= h.maxPerAccount {
		log.Printf("Events: account %q exceeded max subscribers (%d)", account, h.maxPerAccount)
		return nil, ErrTooManySubscribers
	}

	sub := &Subscription{account: account, ch: make(chan Event, h.bufferSize)}
	subs[sub] = struct{}{}
	return sub, nil
}

// Unsubscribe removes the subscription and closes its channel. It is safe to call twice.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[sub.account]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}

	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.subscribers, sub.account)
	}
	close(sub.ch)
}

// Publish delivers ev to the subscribers of its account and to the catch-all subscribers.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.deliver(h.subscribers[ev.Account], ev)
	if ev.Account != "" {
		h.deliver(h.subscribers[""], ev)
	}
}

// deliver sends without blocking. Caller holds at least the read lock.
func (h *Hub) deliver(subs map[*Subscription]struct{}, ev Event) {
	for sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			log.Printf("Events: dropped %s event for %q, subscriber is full", ev.Type, sub.account)
		}
	}
}

// Subscribers returns the number of subscribers registered for account.
func (h *Hub) Subscribers(account string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subscribers[account])
}

// Ensure Hub implements Publisher
var _ Publisher = (*Hub)(nil)
