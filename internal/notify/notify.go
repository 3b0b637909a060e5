// Package notify keeps the advisory notification feed raised by the push
// stream: newest-first entries, an unread badge, and an optional alert hook.
package notify

import (
	"sync"
	"time"

	"github.com/ashureev/jobpilot/internal/domain"
	"github.com/google/uuid"
)

// KindSystem marks feed entries about the feed itself, such as a lost
// push connection.
const KindSystem = "system"

// Notification is one entry in the activity stream.
type Notification struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	JobID   string    `json:"job_id,omitempty"`
	At      time.Time `json:"at"`
}

// Feed is the bounded notification surface. It never blocks producers.
type Feed struct {
	mu      sync.Mutex
	entries []Notification
	unread  bool
	maxSize int
	alert   func()
}

// NewFeed creates a feed holding at most maxSize entries. alert, when
// non-nil, fires once per pushed entry (the UI plays a tone).
func NewFeed(maxSize int, alert func()) *Feed {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &Feed{maxSize: maxSize, alert: alert}
}

// Push records an advisory entry for a push event and sets the badge.
func (f *Feed) Push(ev domain.PushEvent) {
	f.add(Notification{
		ID:      uuid.NewString(),
		Kind:    string(ev.Type),
		Message: ev.Message,
		JobID:   ev.JobID,
		At:      time.Now(),
	})
}

// ConnectionLost surfaces a dropped push connection as a single advisory
// entry. The conversation is never interrupted for this.
func (f *Feed) ConnectionLost(err error) {
	f.add(Notification{
		ID:      uuid.NewString(),
		Kind:    KindSystem,
		Message: "Live updates disconnected: " + err.Error(),
		At:      time.Now(),
	})
}

func (f *Feed) add(n Notification) {
	f.mu.Lock()
	f.entries = append([]Notification{n}, f.entries...)
	if len(f.entries) > f.maxSize {
		f.entries = f.entries[:f.maxSize]
	}
	f.unread = true
	alert := f.alert
	f.mu.Unlock()

	if alert != nil {
		alert()
	}
}

// Notifications returns a newest-first snapshot of the feed.
func (f *Feed) Notifications() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notification(nil), f.entries...)
}

// HasUnread reports whether the badge is set.
func (f *Feed) HasUnread() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread
}

// MarkRead clears the badge; entries stay in the feed.
func (f *Feed) MarkRead() {
	f.mu.Lock()
	f.unread = false
	f.mu.Unlock()
}
