// Package conversation maintains the ordered chat transcript for one
// session, including the pending-clarification state.
package conversation

import (
	"sync"

	"github.com/ashureev/jobpilot/internal/domain"
)

// Store is the message log. It guarantees the transcript never holds two
// adjacent assistant messages: one server reply corresponds to at most one
// visible assistant utterance.
type Store struct {
	mu        sync.Mutex
	messages  []domain.Message
	interrupt *domain.PendingInterrupt
}

// NewStore creates an empty transcript.
func NewStore() *Store {
	return &Store{}
}

// Seed loads restored messages into an empty store. Restored transcripts
// pass through the same trailing-assistant collapse as live ones.
func (s *Store) Seed(msgs []domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		s.insertLocked(m)
	}
}

// AppendUser appends a user message. This is the sole entry point for user
// turns and must run before the turn call is issued. A user turn answers
// any pending clarification, but the interrupt itself stays set until the
// reply resolves it: a failed turn leaves it untouched so the banner
// persists and the user can retry.
func (s *Store) AppendUser(text string) domain.Message {
	m := domain.NewMessage(domain.SenderUser, text)
	s.mu.Lock()
	s.messages = append(s.messages, m)
	s.mu.Unlock()
	return m
}

// UpsertAssistant records an assistant message. If the transcript ends with
// an assistant message it is replaced in place (fresh id and timestamp);
// otherwise the message is appended.
func (s *Store) UpsertAssistant(text string) domain.Message {
	m := domain.NewMessage(domain.SenderAssistant, text)
	s.mu.Lock()
	s.insertLocked(m)
	s.mu.Unlock()
	return m
}

func (s *Store) insertLocked(m domain.Message) {
	if m.Sender == domain.SenderAssistant {
		if n := len(s.messages); n > 0 && s.messages[n-1].Sender == domain.SenderAssistant {
			s.messages[n-1] = m
			return
		}
	}
	s.messages = append(s.messages, m)
}

// SetInterrupt records or clears the pending clarification.
func (s *Store) SetInterrupt(p *domain.PendingInterrupt) {
	s.mu.Lock()
	if p == nil {
		s.interrupt = nil
	} else {
		cp := *p
		s.interrupt = &cp
	}
	s.mu.Unlock()
}

// Messages returns a snapshot of the transcript.
func (s *Store) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages...)
}

// Interrupt returns a copy of the pending clarification, nil when idle.
func (s *Store) Interrupt() *domain.PendingInterrupt {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interrupt == nil {
		return nil
	}
	cp := *s.interrupt
	return &cp
}

// Len reports the transcript length.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}
