package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/jobpilot/internal/domain"
	"github.com/coder/websocket"
)

// pushServer upgrades /ws/{userID} and sends the given frames.
func pushServer(t *testing.T, frames []string, thenClose bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		for _, f := range frames {
			if err := conn.Write(r.Context(), websocket.MessageText, []byte(f)); err != nil {
				t.Errorf("write: %v", err)
				return
			}
		}
		if thenClose {
			_ = conn.Close(websocket.StatusNormalClosure, "done")
			return
		}
		// Hold the connection open until the client goes away.
		_, _, _ = conn.Read(r.Context())
	}))
}

func recvEvent(t *testing.T, feed *PushFeed) domain.PushEvent {
	t.Helper()
	select {
	case ev, ok := <-feed.Events():
		if !ok {
			t.Fatal("event channel closed early")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for push event")
	}
	return domain.PushEvent{}
}

func TestPushFeedDeliversEvents(t *testing.T) {
	t.Parallel()

	srv := pushServer(t, []string{
		`{"type": "initial", "applied": [{"id": "a"}], "rejected": []}`,
		`{"type": "applied", "message": "Applied at Acme", "job_id": "job_1"}`,
		`{"type": "update", "payload": {"type": "rejected", "message": "No match", "job_id": 42}}`,
		`{"type": "heartbeat"}`,
		`{"type": "clarify", "message": "Need your input"}`,
	}, false)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed, err := DialPush(ctx, srv.URL, "u1", nil)
	if err != nil {
		t.Fatalf("DialPush failed: %v", err)
	}
	defer func() { _ = feed.Close() }()

	initial := recvEvent(t, feed)
	if initial.Type != domain.PushInitial || len(initial.Applied) != 1 {
		t.Errorf("initial = %+v", initial)
	}

	applied := recvEvent(t, feed)
	if applied.Type != domain.PushApplied || applied.JobID != "job_1" {
		t.Errorf("applied = %+v", applied)
	}

	// Enveloped events are unwrapped; numeric job ids become text.
	rejected := recvEvent(t, feed)
	if rejected.Type != domain.PushRejected || rejected.JobID != "42" {
		t.Errorf("rejected = %+v", rejected)
	}

	// The unknown heartbeat frame is skipped entirely.
	clarify := recvEvent(t, feed)
	if clarify.Type != domain.PushClarify || clarify.Message != "Need your input" {
		t.Errorf("clarify = %+v", clarify)
	}
}

func TestPushFeedCleanLocalClose(t *testing.T) {
	t.Parallel()

	srv := pushServer(t, nil, false)
	defer srv.Close()

	feed, err := DialPush(context.Background(), srv.URL, "u1", nil)
	if err != nil {
		t.Fatalf("DialPush failed: %v", err)
	}
	if err := feed.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	waitClosed(t, feed)
	if err := feed.Err(); err != nil {
		t.Errorf("local close should not record an error, got %v", err)
	}
}

func TestPushFeedServerDropRecordsError(t *testing.T) {
	t.Parallel()

	srv := pushServer(t, nil, true)
	defer srv.Close()

	feed, err := DialPush(context.Background(), srv.URL, "u1", nil)
	if err != nil {
		t.Fatalf("DialPush failed: %v", err)
	}
	defer func() { _ = feed.Close() }()

	waitClosed(t, feed)
	if feed.Err() == nil {
		t.Error("server-side close should surface through Err")
	}
}

func waitClosed(t *testing.T, feed *PushFeed) {
	t.Helper()
	select {
	case _, ok := <-feed.Events():
		if ok {
			t.Fatal("unexpected event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for feed to close")
	}
}

func TestPushURLDerivation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:8000", "ws://localhost:8000/ws/u@1"},
		{"https://api.example.com", "wss://api.example.com/ws/u@1"},
		{"https://api.example.com/v1/", "wss://api.example.com/v1/ws/u@1"},
	}
	for _, tt := range tests {
		got, err := pushURL(tt.base, "u@1")
		if err != nil {
			t.Fatalf("pushURL(%q): %v", tt.base, err)
		}
		if got != tt.want {
			t.Errorf("pushURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}
