// Package domain contains core domain types for the jobpilot session engine.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Sender identifies who authored a chat message.
type Sender string

const (
	// SenderUser marks a message typed by the user.
	SenderUser Sender = "user"
	// SenderAssistant marks a message produced by the backend assistant.
	SenderAssistant Sender = "assistant"
)

// Message is a single entry in the conversation transcript.
// Messages are immutable once created; ordering is insertion order.
type Message struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage creates a message with a fresh id and timestamp.
func NewMessage(sender Sender, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

// PendingInterrupt is a clarification the backend is waiting on.
// The payload is opaque to the engine; it is carried for display only.
type PendingInterrupt struct {
	Question string `json:"question"`
	Payload  []byte `json:"payload,omitempty"`
}
