package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/jobpilot/internal/domain"
	"github.com/ashureev/jobpilot/internal/transport"
)

type fakeTurns struct {
	mu    sync.Mutex
	calls []transport.TurnRequest
	reply json.RawMessage
	err   error
}

func (f *fakeTurns) Turn(_ context.Context, req transport.TurnRequest) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.reply, f.err
}

func (f *fakeTurns) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeJobs struct {
	mu    sync.Mutex
	snap  domain.JobState
	err   error
	calls int
}

func (f *fakeJobs) FetchJobs(context.Context, string) (domain.JobState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.snap.Clone(), f.err
}

type fakeStream struct {
	events chan domain.PushEvent
	err    error
}

func (s *fakeStream) Events() <-chan domain.PushEvent { return s.events }
func (s *fakeStream) Err() error                      { return s.err }
func (s *fakeStream) Close() error                    { return nil }

func newController(t *testing.T, turns *fakeTurns, opts func(*Options)) *Controller {
	t.Helper()
	o := Options{
		UserID:       "user@example.com",
		Turns:        turns,
		PollInterval: 10 * time.Millisecond,
	}
	if opts != nil {
		opts(&o)
	}
	c, err := New(o)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func TestSubmitEmptyInputIsNoOp(t *testing.T) {
	t.Parallel()

	turns := &fakeTurns{reply: json.RawMessage(`{"message": "hi"}`)}
	c := newController(t, turns, nil)

	for _, input := range []string{"", "   ", "\t\n"} {
		if err := c.Submit(context.Background(), input); !errors.Is(err, ErrEmptyInput) {
			t.Errorf("Submit(%q) = %v, want ErrEmptyInput", input, err)
		}
	}
	if turns.callCount() != 0 {
		t.Error("empty submits must not issue turn calls")
	}
	if len(c.Messages()) != 0 {
		t.Error("empty submits must not produce messages")
	}
}

func TestSubmitClarificationTurn(t *testing.T) {
	t.Parallel()

	turns := &fakeTurns{reply: json.RawMessage(`{
		"status": "waiting_for_clarification",
		"question": "Relocate to Pune?",
		"interrupt": {"job": "job_7"}
	}`)}
	c := newController(t, turns, nil)

	if err := c.Submit(context.Background(), "apply to jobs"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want user echo + one assistant message", len(msgs))
	}
	if msgs[0].Sender != domain.SenderUser || msgs[0].Text != "apply to jobs" {
		t.Errorf("first message = %+v, want optimistic user echo", msgs[0])
	}
	if msgs[1].Sender != domain.SenderAssistant || msgs[1].Text != "Relocate to Pune?" {
		t.Errorf("second message = %+v, want the question", msgs[1])
	}
	if c.Interrupt() == nil {
		t.Error("pendingInterrupt should be set")
	}
}

func TestSubmitClarificationWithoutPayloadStillBlocks(t *testing.T) {
	t.Parallel()

	turns := &fakeTurns{reply: json.RawMessage(`{
		"status": "waiting_for_clarification",
		"question": "Relocate to Pune?"
	}`)}
	c := newController(t, turns, nil)

	if err := c.Submit(context.Background(), "apply to jobs"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	intr := c.Interrupt()
	if intr == nil {
		t.Fatal("pendingInterrupt must be set after any clarification reply")
	}
	if intr.Question != "Relocate to Pune?" {
		t.Errorf("question = %q", intr.Question)
	}
	if intr.Payload != nil {
		t.Errorf("payload = %s, want none", intr.Payload)
	}
}

func TestSubmitSuccessClearsInterrupt(t *testing.T) {
	t.Parallel()

	turns := &fakeTurns{reply: json.RawMessage(`{
		"status": "waiting_for_clarification",
		"question": "Which city?"
	}`)}
	c := newController(t, turns, nil)

	if err := c.Submit(context.Background(), "start applying"); err != nil {
		t.Fatal(err)
	}

	turns.mu.Lock()
	turns.reply = json.RawMessage(`{
		"status": "success",
		"message": "Applied to 3 jobs",
		"companies_applied": [{"id": "a"}, {"id": "b"}, {"id": "c"}]
	}`)
	turns.mu.Unlock()

	if err := c.Submit(context.Background(), "Pune"); err != nil {
		t.Fatal(err)
	}

	if c.Interrupt() != nil {
		t.Error("success must clear the pending interrupt")
	}
	if got := len(c.JobState().Applied); got != 3 {
		t.Errorf("applied = %d, want 3", got)
	}
	msgs := c.Messages()
	if last := msgs[len(msgs)-1]; last.Text != "Applied to 3 jobs" {
		t.Errorf("last message = %q", last.Text)
	}
}

func TestSubmitListWithoutMessage(t *testing.T) {
	t.Parallel()

	turns := &fakeTurns{reply: json.RawMessage(`{
		"status": "list", "kind": "rejected", "items": [{"id": "job_1"}]
	}`)}
	c := newController(t, turns, nil)

	if err := c.Submit(context.Background(), "show rejected"); err != nil {
		t.Fatal(err)
	}

	// No assistant bubble: a list reply without message is state-only.
	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].Sender != domain.SenderUser {
		t.Errorf("messages = %+v, want only the user echo", msgs)
	}
	rejected := c.JobState().Rejected
	if len(rejected) != 1 || rejected[0].ID != "job_1" {
		t.Errorf("rejected = %+v", rejected)
	}
	if l := c.Listing(); l == nil || l.Bucket != domain.OutcomeRejected {
		t.Errorf("listing = %+v", l)
	}
}

func TestSubmitTransportFailure(t *testing.T) {
	t.Parallel()

	turns := &fakeTurns{err: fmt.Errorf("%w: 502 upstream down", transport.ErrStatus)}
	c := newController(t, turns, nil)
	c.conv.SetInterrupt(&domain.PendingInterrupt{Question: "pending"})

	if err := c.Submit(context.Background(), "apply"); err == nil {
		t.Fatal("Submit should surface the transport error")
	}

	msgs := c.Messages()
	last := msgs[len(msgs)-1]
	if last.Sender != domain.SenderAssistant || !strings.Contains(last.Text, "Server error") {
		t.Errorf("last message = %+v, want inline error bubble", last)
	}
	if c.Interrupt() == nil {
		t.Error("a failed turn must leave pendingInterrupt untouched")
	}
}

func TestSubmitNetworkFailureBubble(t *testing.T) {
	t.Parallel()

	turns := &fakeTurns{err: errors.New("dial tcp: connection refused")}
	c := newController(t, turns, nil)

	_ = c.Submit(context.Background(), "apply")
	msgs := c.Messages()
	if last := msgs[len(msgs)-1]; !strings.Contains(last.Text, "Network error") {
		t.Errorf("last message = %q, want network error bubble", last.Text)
	}
}

func TestSubmitGreetingIntentHint(t *testing.T) {
	t.Parallel()

	turns := &fakeTurns{reply: json.RawMessage(`{"message": "hello"}`)}
	c := newController(t, turns, nil)

	_ = c.Submit(context.Background(), "hey there")
	_ = c.Submit(context.Background(), "apply to jobs please")

	turns.mu.Lock()
	defer turns.mu.Unlock()
	if turns.calls[0].UserIntentHint != "CHAT" {
		t.Errorf("greeting hint = %q, want CHAT", turns.calls[0].UserIntentHint)
	}
	if turns.calls[1].UserIntentHint != "" {
		t.Errorf("non-greeting hint = %q, want empty", turns.calls[1].UserIntentHint)
	}
}

func TestStartPollsImmediately(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobs{snap: domain.JobState{Applied: []domain.JobRecord{{ID: "a"}}}}
	c := newController(t, &fakeTurns{}, func(o *Options) { o.Jobs = jobs })

	c.Start(context.Background())
	defer c.Stop()

	waitFor(t, func() bool { return len(c.JobState().Applied) == 1 })
}

func TestStopDiscardsInFlightPoll(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobs{snap: domain.JobState{Applied: []domain.JobRecord{{ID: "a"}}}}
	c := newController(t, &fakeTurns{}, func(o *Options) { o.Jobs = jobs })

	c.Start(context.Background())
	waitFor(t, func() bool { return len(c.JobState().Applied) == 1 })
	c.Stop()

	// A snapshot resolving after Stop must not mutate state.
	c.mergeSnapshot(context.Background(), 0, domain.JobState{
		Applied: []domain.JobRecord{{ID: "a"}, {ID: "b"}},
	})
	if got := len(c.JobState().Applied); got != 1 {
		t.Errorf("applied = %d, state mutated after teardown", got)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()

	c := newController(t, &fakeTurns{}, func(o *Options) {
		o.Jobs = &fakeJobs{}
	})

	ctx := context.Background()
	c.Start(ctx)
	c.Start(ctx)
	c.Stop()
	c.Stop()
}

func TestPushEventsRouteToFeedAndReconciler(t *testing.T) {
	t.Parallel()

	stream := &fakeStream{events: make(chan domain.PushEvent, 4)}
	alerts := make(chan struct{}, 8)
	c := newController(t, &fakeTurns{}, func(o *Options) {
		o.Alert = func() { alerts <- struct{}{} }
		o.OpenPush = func(context.Context) (PushStream, error) { return stream, nil }
	})

	c.Start(context.Background())
	defer c.Stop()

	stream.events <- domain.PushEvent{
		Type:     domain.PushInitial,
		Applied:  []domain.JobRecord{{ID: "a"}},
		Rejected: []domain.JobRecord{{ID: "r"}},
	}
	stream.events <- domain.PushEvent{Type: domain.PushApplied, JobID: "job_2", Message: "Applied at Acme"}
	close(stream.events)

	waitFor(t, func() bool { return len(c.JobState().Applied) == 2 })

	state := c.JobState()
	if len(state.Rejected) != 1 {
		t.Errorf("rejected = %d, want initial snapshot merged", len(state.Rejected))
	}
	if !state.Applied[1].Advisory {
		t.Error("push record should be advisory")
	}

	notes := c.Feed().Notifications()
	if len(notes) != 1 || notes[0].Kind != string(domain.PushApplied) {
		t.Errorf("notifications = %+v", notes)
	}
	if !c.Feed().HasUnread() {
		t.Error("badge should be set")
	}
	select {
	case <-alerts:
	default:
		t.Error("alert hook should fire for push events")
	}
}

func TestPushDisconnectSurfacesAdvisory(t *testing.T) {
	t.Parallel()

	stream := &fakeStream{events: make(chan domain.PushEvent), err: errors.New("connection reset")}
	c := newController(t, &fakeTurns{}, func(o *Options) {
		o.OpenPush = func(context.Context) (PushStream, error) { return stream, nil }
	})

	c.Start(context.Background())
	close(stream.events)

	waitFor(t, func() bool { return len(c.Feed().Notifications()) == 1 })
	c.Stop()

	notes := c.Feed().Notifications()
	if notes[0].Kind != "system" {
		t.Errorf("kind = %q, want system advisory", notes[0].Kind)
	}
}

func TestQuickStateClearedOnSubmit(t *testing.T) {
	t.Parallel()

	turns := &fakeTurns{reply: json.RawMessage(`{
		"status": "list", "kind": "applied", "items": [{"id": "x"}]
	}`)}
	c := newController(t, turns, nil)

	_ = c.Submit(context.Background(), "list applied")
	if c.Listing() == nil || c.QuickApplied() == nil {
		t.Fatal("quick-display state should be set after a list reply")
	}

	turns.mu.Lock()
	turns.reply = json.RawMessage(`{"message": "just chatting"}`)
	turns.mu.Unlock()

	_ = c.Submit(context.Background(), "hello?")
	if c.Listing() != nil {
		t.Error("listing should clear on a new turn")
	}
	if len(c.QuickApplied()) != 0 {
		t.Error("quick applied cache should clear on a new turn")
	}
}
