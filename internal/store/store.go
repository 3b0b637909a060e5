// Package store provides optional persistence for session transcripts and
// job snapshots. The engine runs without it; the surrounding app decides
// whether sessions survive a restart.
package store

import (
	"context"

	"github.com/ashureev/jobpilot/internal/domain"
)

// Repository defines the interface for persisting session data.
type Repository interface {
	// SaveMessage appends a message to a session transcript.
	SaveMessage(ctx context.Context, sessionID string, m domain.Message) error

	// Messages retrieves a session transcript in insertion order.
	Messages(ctx context.Context, sessionID string) ([]domain.Message, error)

	// SaveJobState stores the latest reconciled job state for a user.
	SaveJobState(ctx context.Context, userID string, s domain.JobState) error

	// JobState retrieves the stored job state for a user, nil when absent.
	JobState(ctx context.Context, userID string) (*domain.JobState, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// SessionArchive binds a repository to one session and user, matching the
// archiver surface the session controller consumes.
type SessionArchive struct {
	repo      Repository
	sessionID string
	userID    string
}

// NewSessionArchive creates an archive scoped to one session.
func NewSessionArchive(repo Repository, sessionID, userID string) *SessionArchive {
	return &SessionArchive{repo: repo, sessionID: sessionID, userID: userID}
}

// SaveMessage persists one transcript message.
func (a *SessionArchive) SaveMessage(ctx context.Context, m domain.Message) error {
	return a.repo.SaveMessage(ctx, a.sessionID, m)
}

// SaveJobState persists the reconciled job state.
func (a *SessionArchive) SaveJobState(ctx context.Context, s domain.JobState) error {
	return a.repo.SaveJobState(ctx, a.userID, s)
}

// Messages restores the archived transcript for this session.
func (a *SessionArchive) Messages(ctx context.Context) ([]domain.Message, error) {
	return a.repo.Messages(ctx, a.sessionID)
}
