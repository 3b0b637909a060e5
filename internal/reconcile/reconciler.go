// Package reconcile merges the job-state sources (poll snapshots,
// interpreter replies, push events) into one applied/rejected view.
//
// Polls and interpreter replies are authoritative full-state sources and
// replace buckets wholesale. Push events are low-latency but partial: they
// append advisory records so the sidebar reacts immediately, while full
// correctness is restored by the next authoritative merge.
package reconcile

import (
	"log/slog"
	"sync"

	"github.com/ashureev/jobpilot/internal/domain"
)

// Reconciler owns the reconciled JobState. All mutation goes through its
// merge operations; reads are snapshot copies.
type Reconciler struct {
	mu     sync.Mutex
	state  domain.JobState
	closed bool

	// Last known bucket lengths, the cheap change gate for poll merges.
	lastApplied  int
	lastRejected int

	changes chan struct{}
	logger  *slog.Logger
}

// New creates a reconciler with empty buckets.
func New(logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		changes: make(chan struct{}, 1),
		logger:  logger,
	}
}

// MergeFromPoll applies a full snapshot from the poll feed. When both bucket
// lengths match the last known lengths the merge is a no-op and signals no
// change, so a quiet poll tick causes no UI churn. Returns whether a change
// was signaled.
func (r *Reconciler) MergeFromPoll(snap domain.JobState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}

	if len(snap.Applied) == r.lastApplied && len(snap.Rejected) == r.lastRejected {
		return false
	}

	r.state = snap.Clone()
	r.lastApplied = len(snap.Applied)
	r.lastRejected = len(snap.Rejected)
	r.signalLocked()
	return true
}

// MergeFromInterpreter replaces one bucket wholesale. Interpreter-sourced
// updates are authoritative and rarer than polls, so they always signal.
func (r *Reconciler) MergeFromInterpreter(bucket domain.Outcome, items []domain.JobRecord) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}

	replaced := append([]domain.JobRecord(nil), items...)
	switch bucket {
	case domain.OutcomeApplied:
		r.state.Applied = replaced
		r.lastApplied = len(replaced)
	case domain.OutcomeRejected:
		r.state.Rejected = replaced
		r.lastRejected = len(replaced)
	default:
		return false
	}
	r.signalLocked()
	return true
}

// MergeFromPush appends a lightweight advisory record when the event names
// a known bucket. The advisory does not count toward the poll change gate:
// the next authoritative snapshot replaces it either way.
func (r *Reconciler) MergeFromPush(ev domain.PushEvent) bool {
	bucket, ok := ev.Outcome()
	if !ok {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}

	rec := domain.JobRecord{ID: ev.JobID, Title: ev.Message, Advisory: true}
	switch bucket {
	case domain.OutcomeApplied:
		r.state.Applied = append(r.state.Applied, rec)
	case domain.OutcomeRejected:
		r.state.Rejected = append(r.state.Rejected, rec)
	}
	r.signalLocked()
	return true
}

// Snapshot returns a copy of the reconciled state.
func (r *Reconciler) Snapshot() domain.JobState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// Changes returns the coalescing change-notification channel. At most one
// signal is pending at a time; readers re-snapshot after each receive.
func (r *Reconciler) Changes() <-chan struct{} {
	return r.changes
}

// Close stops the reconciler. Merge calls arriving after Close, such as an
// in-flight poll resolving after teardown, are discarded.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *Reconciler) signalLocked() {
	select {
	case r.changes <- struct{}{}:
	default:
	}
}
