// Package notify delivers user-facing notifications. Delivery itself (toasts, sounds)
// belongs to the front end, which learns of new mail from events; the daemon only logs.
package notify

import (
	"log"
	"sync/atomic"
)

// Notifier shows one notification.
type Notifier interface {
	Notify(title, message string)
}

// LogNotifier writes notifications to the process log.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(title, message string) {
	log.Printf("Notify: %s: %s", title, message)
}

// Multi sends every notification to all of its notifiers in order.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(title, message string) {
	for _, n := range m {
		if n != nil {
			n.Notify(title, message)
		}
	}
}

// Silencer drops notifications while silent mode is on.
type Silencer struct {
	next   Notifier
	silent atomic.Bool
}

// NewSilencer wraps next. It starts silent when silent is true.
func NewSilencer(next Notifier, silent bool) *Silencer {
	s := &Silencer{next: next}
	s.silent.Store(silent)
	return s
}

// SetSilent turns silent mode on or off.
func (s *Silencer) SetSilent(silent bool) {
	s.silent.Store(silent)
	log.Printf("Notify: silent mode set to %t", silent)
}

// Silent reports whether silent mode is on.
func (s *Silencer) Silent() bool {
	return s.silent.Load()
}

// Notify implements Notifier.
func (s *Silencer) Notify(title, message string) {
	if s.silent.Load() {
		return
	}
	s.next.Notify(title, message)
}
