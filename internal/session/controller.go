// Package session orchestrates chat turns against the assistant backend and
// wires the out-of-band job feeds into one consistent session view.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/jobpilot/internal/conversation"
	"github.com/ashureev/jobpilot/internal/domain"
	"github.com/ashureev/jobpilot/internal/interpret"
	"github.com/ashureev/jobpilot/internal/notify"
	"github.com/ashureev/jobpilot/internal/reconcile"
	"github.com/ashureev/jobpilot/internal/transport"
)

var (
	// ErrEmptyInput indicates a submit with no text after trimming.
	ErrEmptyInput = errors.New("session: empty input")
	// ErrNoTurnCaller indicates the controller was built without a backend.
	ErrNoTurnCaller = errors.New("session: turn caller is required")
)

// TurnCaller issues one request/response turn against the backend.
type TurnCaller interface {
	Turn(ctx context.Context, req transport.TurnRequest) (json.RawMessage, error)
}

// JobsFetcher retrieves the authoritative applied/rejected snapshot.
type JobsFetcher interface {
	FetchJobs(ctx context.Context, userID string) (domain.JobState, error)
}

// PushStream is an open push feed connection.
type PushStream interface {
	Events() <-chan domain.PushEvent
	Err() error
	Close() error
}

// OpenPushFunc dials the push feed. Reconnect policy stays with the caller.
type OpenPushFunc func(ctx context.Context) (PushStream, error)

// Archiver persists the transcript and job snapshots. All archive calls are
// best-effort: failures are logged, never surfaced in the conversation.
type Archiver interface {
	SaveMessage(ctx context.Context, m domain.Message) error
	SaveJobState(ctx context.Context, s domain.JobState) error
}

// Options configures a Controller.
type Options struct {
	UserID   string
	ThreadID string
	Profile  json.RawMessage

	Turns    TurnCaller
	Jobs     JobsFetcher
	OpenPush OpenPushFunc
	Archive  Archiver

	PollInterval time.Duration
	Alert        func()
	Logger       *slog.Logger

	// InitialMessages seeds the transcript from a restored archive.
	InitialMessages []domain.Message
}

// Listing is the quick-display state of the most recent list reply.
type Listing struct {
	Bucket domain.Outcome
	Items  []domain.JobRecord
}

// Controller is the aggregate root of one chat session. It is the only
// writer of session state; the presentation layer reads snapshots.
type Controller struct {
	userID   string
	threadID string
	profile  json.RawMessage

	turns    TurnCaller
	jobs     JobsFetcher
	openPush OpenPushFunc
	archive  Archiver

	conv *conversation.Store
	rec  *reconcile.Reconciler
	feed *notify.Feed

	pollInterval time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	running bool
	gen     int
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	listing      *Listing
	quickApplied []domain.JobRecord
}

// New creates a session controller. Jobs, OpenPush and Archive are optional;
// the engine runs turn-only without them.
func New(opts Options) (*Controller, error) {
	if opts.Turns == nil {
		return nil, ErrNoTurnCaller
	}
	if opts.UserID == "" {
		return nil, errors.New("session: user id is required")
	}
	if opts.ThreadID == "" {
		opts.ThreadID = opts.UserID
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	conv := conversation.NewStore()
	if len(opts.InitialMessages) > 0 {
		conv.Seed(opts.InitialMessages)
	}

	return &Controller{
		userID:       opts.UserID,
		threadID:     opts.ThreadID,
		profile:      opts.Profile,
		turns:        opts.Turns,
		jobs:         opts.Jobs,
		openPush:     opts.OpenPush,
		archive:      opts.Archive,
		conv:         conv,
		rec:          reconcile.New(opts.Logger),
		feed:         notify.NewFeed(0, opts.Alert),
		pollInterval: opts.PollInterval,
		logger:       opts.Logger,
	}, nil
}

// Submit sends one user turn. Empty input after trimming is a no-op. The
// user message is echoed into the transcript before the turn call; a
// transport failure becomes a single inline assistant error bubble and
// leaves the pending clarification untouched.
func (c *Controller) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyInput
	}

	c.mu.Lock()
	c.listing = nil
	c.quickApplied = nil
	c.mu.Unlock()

	userMsg := c.conv.AppendUser(text)
	c.archiveMessage(ctx, userMsg)

	raw, err := c.turns.Turn(ctx, transport.TurnRequest{
		UserID:         c.userID,
		ThreadID:       c.threadID,
		UserProfile:    c.profile,
		UserResponse:   text,
		UserIntentHint: intentHint(text),
	})
	if err != nil {
		bubble := "Network error: " + err.Error()
		if errors.Is(err, transport.ErrStatus) {
			bubble = "Server error: " + err.Error()
		}
		c.archiveMessage(ctx, c.conv.UpsertAssistant(bubble))
		return fmt.Errorf("submit turn: %w", err)
	}

	c.apply(ctx, interpret.Classify(raw))
	return nil
}

// apply routes one classified reply into the conversation store, the
// reconciler, and the quick-display state.
func (c *Controller) apply(ctx context.Context, res interpret.Result) {
	switch res.Kind {
	case interpret.KindClarification:
		c.archiveMessage(ctx, c.conv.UpsertAssistant(res.Message))
		c.conv.SetInterrupt(res.Interrupt)
		if len(res.Applied) > 0 {
			c.rec.MergeFromInterpreter(domain.OutcomeApplied, res.Applied)
			c.setQuickApplied(res.Applied)
		}
		c.setListing(nil)

	case interpret.KindList:
		if res.Message != "" {
			c.archiveMessage(ctx, c.conv.UpsertAssistant(res.Message))
		}
		if res.Bucket != "" {
			c.rec.MergeFromInterpreter(res.Bucket, res.Items)
			if res.Bucket == domain.OutcomeApplied {
				c.setQuickApplied(res.Items)
			}
		}
		c.setListing(&Listing{Bucket: res.Bucket, Items: res.Items})

	case interpret.KindSuccess:
		if len(res.Applied) > 0 {
			c.rec.MergeFromInterpreter(domain.OutcomeApplied, res.Applied)
			c.setQuickApplied(res.Applied)
		}
		if res.Message != "" {
			c.archiveMessage(ctx, c.conv.UpsertAssistant(res.Message))
		}
		c.conv.SetInterrupt(nil)
		c.setListing(nil)

	case interpret.KindGeneric:
		if res.Message != "" {
			c.archiveMessage(ctx, c.conv.UpsertAssistant(res.Message))
		}
	}
	c.archiveJobState(ctx)
}

// Start wires the poll loop and push feed. Calling Start on a running
// session is a no-op.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	gen := c.gen

	if c.jobs != nil {
		c.wg.Add(1)
		go c.pollLoop(runCtx, gen)
	}
	if c.openPush != nil {
		c.wg.Add(1)
		go c.pushLoop(runCtx, gen)
	}
}

// Stop tears the feeds down. Results of in-flight fetches resolving after
// Stop are discarded. Calling Stop on a stopped session is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.gen++
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	cancel()
	c.wg.Wait()
}

func (c *Controller) pollLoop(ctx context.Context, gen int) {
	defer c.wg.Done()

	// First snapshot immediately, then on the fixed interval.
	c.pollOnce(ctx, gen)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx, gen)
		}
	}
}

func (c *Controller) pollOnce(ctx context.Context, gen int) {
	snap, err := c.jobs.FetchJobs(ctx, c.userID)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("jobs poll failed", "user_id", c.userID, "error", err)
		}
		return
	}
	c.mergeSnapshot(ctx, gen, snap)
}

// mergeSnapshot applies an authoritative snapshot unless the session was
// stopped while the fetch was in flight.
func (c *Controller) mergeSnapshot(ctx context.Context, gen int, snap domain.JobState) {
	c.mu.Lock()
	stale := !c.running || c.gen != gen
	c.mu.Unlock()
	if stale {
		return
	}
	if c.rec.MergeFromPoll(snap) {
		c.archiveJobState(ctx)
	}
}

func (c *Controller) pushLoop(ctx context.Context, gen int) {
	defer c.wg.Done()

	stream, err := c.openPush(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("push feed unavailable", "user_id", c.userID, "error", err)
			c.feed.ConnectionLost(err)
		}
		return
	}
	defer func() {
		if closeErr := stream.Close(); closeErr != nil {
			c.logger.Debug("failed to close push stream", "error", closeErr)
		}
	}()

	for ev := range stream.Events() {
		if ev.Type == domain.PushInitial {
			c.mergeSnapshot(ctx, gen, domain.JobState{Applied: ev.Applied, Rejected: ev.Rejected})
			continue
		}
		c.feed.Push(ev)
		c.rec.MergeFromPush(ev)
	}

	if err := stream.Err(); err != nil && ctx.Err() == nil {
		c.logger.Warn("push feed disconnected", "user_id", c.userID, "error", err)
		c.feed.ConnectionLost(err)
	}
}

// Messages returns a snapshot of the transcript.
func (c *Controller) Messages() []domain.Message { return c.conv.Messages() }

// Interrupt returns the pending clarification, nil when idle.
func (c *Controller) Interrupt() *domain.PendingInterrupt { return c.conv.Interrupt() }

// JobState returns the reconciled applied/rejected view.
func (c *Controller) JobState() domain.JobState { return c.rec.Snapshot() }

// Changes returns the coalescing job-state change channel.
func (c *Controller) Changes() <-chan struct{} { return c.rec.Changes() }

// Feed returns the advisory notification surface.
func (c *Controller) Feed() *notify.Feed { return c.feed }

// Listing returns the quick-display state of the latest list reply, nil
// after any non-list turn.
func (c *Controller) Listing() *Listing {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listing == nil {
		return nil
	}
	cp := *c.listing
	cp.Items = append([]domain.JobRecord(nil), c.listing.Items...)
	return &cp
}

// QuickApplied returns the applied list cached from the latest reply, nil
// when the reply carried none or a new turn started.
func (c *Controller) QuickApplied() []domain.JobRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.JobRecord(nil), c.quickApplied...)
}

func (c *Controller) setListing(l *Listing) {
	c.mu.Lock()
	c.listing = l
	c.mu.Unlock()
}

func (c *Controller) setQuickApplied(items []domain.JobRecord) {
	c.mu.Lock()
	c.quickApplied = append([]domain.JobRecord(nil), items...)
	c.mu.Unlock()
}

func (c *Controller) archiveMessage(ctx context.Context, m domain.Message) {
	if c.archive == nil {
		return
	}
	if err := c.archive.SaveMessage(ctx, m); err != nil {
		c.logger.Warn("failed to archive message", "message_id", m.ID, "error", err)
	}
}

func (c *Controller) archiveJobState(ctx context.Context) {
	if c.archive == nil {
		return
	}
	if err := c.archive.SaveJobState(ctx, c.rec.Snapshot()); err != nil {
		c.logger.Warn("failed to archive job state", "error", err)
	}
}

// greetingWords triggers the chat intent hint: short greetings should not
// accidentally start an application run.
var greetingWords = map[string]bool{
	"hi": true, "hello": true, "hey": true, "hiya": true, "yo": true,
}

func intentHint(text string) string {
	words := strings.Fields(strings.ToLower(text))
	if len(words) > 0 && len(words) <= 2 && greetingWords[words[0]] {
		return "CHAT"
	}
	return ""
}
