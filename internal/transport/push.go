package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/ashureev/jobpilot/internal/domain"
	"github.com/coder/websocket"
)

var (
	// ErrFeedClosed indicates the push feed was closed locally.
	ErrFeedClosed = errors.New("push feed closed")
)

// PushFeed is the persistent server-initiated notification stream, keyed by
// user identifier. Events are delivered at most once while connected; the
// feed does not reconnect on its own.
type PushFeed struct {
	conn   *websocket.Conn
	events chan domain.PushEvent
	logger *slog.Logger

	closeOnce sync.Once
	done      chan struct{}

	mu  sync.Mutex
	err error
}

// pushFrame is the wire shape of a push message. Some server paths wrap the
// event in an "update" envelope; others send it flat.
type pushFrame struct {
	Type     string             `json:"type"`
	Message  json.RawMessage    `json:"message,omitempty"`
	JobID    json.RawMessage    `json:"job_id,omitempty"`
	Payload  json.RawMessage    `json:"payload,omitempty"`
	Applied  []domain.JobRecord `json:"applied,omitempty"`
	Rejected []domain.JobRecord `json:"rejected,omitempty"`
}

// DialPush connects the push feed for a user and starts its read loop.
// The websocket URL is derived from the backend base URL.
func DialPush(ctx context.Context, baseURL, userID string, logger *slog.Logger) (*PushFeed, error) {
	if logger == nil {
		logger = slog.Default()
	}

	wsURL, err := pushURL(baseURL, userID)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial push feed: %w", err)
	}

	f := &PushFeed{
		conn:   conn,
		events: make(chan domain.PushEvent, 32),
		logger: logger,
		done:   make(chan struct{}),
	}
	go f.readLoop(ctx)
	return f, nil
}

// Events returns the inbound event channel. It is closed when the
// connection drops or the feed is closed; check Err afterwards.
func (f *PushFeed) Events() <-chan domain.PushEvent {
	return f.events
}

// Err reports why the read loop exited, nil for a clean local close.
func (f *PushFeed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Close tears the connection down. Safe to call more than once.
func (f *PushFeed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		err = f.conn.Close(websocket.StatusNormalClosure, "session ended")
	})
	return err
}

func (f *PushFeed) readLoop(ctx context.Context) {
	defer close(f.events)

	for {
		_, data, err := f.conn.Read(ctx)
		if err != nil {
			select {
			case <-f.done:
				// Local close, not a connection failure.
			case <-ctx.Done():
			default:
				f.setErr(fmt.Errorf("push feed read: %w", err))
				f.logger.Warn("push feed connection lost", "error", err)
			}
			return
		}

		ev, ok := decodePushFrame(data)
		if !ok {
			f.logger.Debug("ignoring unrecognized push frame", "frame", string(data))
			continue
		}

		select {
		case f.events <- ev:
		case <-ctx.Done():
			return
		case <-f.done:
			return
		}
	}
}

func (f *PushFeed) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func decodePushFrame(data []byte) (domain.PushEvent, bool) {
	var frame pushFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return domain.PushEvent{}, false
	}
	if frame.Type == "update" && len(frame.Payload) > 0 {
		// Unwrap the envelope and decode the inner event.
		if err := json.Unmarshal(frame.Payload, &frame); err != nil {
			return domain.PushEvent{}, false
		}
	}

	switch domain.PushEventType(frame.Type) {
	case domain.PushApplied, domain.PushRejected, domain.PushClarify:
		return domain.PushEvent{
			Type:    domain.PushEventType(frame.Type),
			Message: rawToString(frame.Message),
			JobID:   rawToString(frame.JobID),
		}, true
	case domain.PushInitial:
		return domain.PushEvent{
			Type:     domain.PushInitial,
			Applied:  frame.Applied,
			Rejected: frame.Rejected,
		}, true
	default:
		return domain.PushEvent{}, false
	}
}

// rawToString renders a JSON value as display text: strings verbatim,
// everything else as compact JSON. Job ids in particular arrive both as
// strings and as numbers.
func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func pushURL(baseURL, userID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse backend url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + userID
	return u.String(), nil
}
