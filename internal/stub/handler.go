package stub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/ashureev/jobpilot/internal/domain"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// maxRequestBodySize caps inbound request bodies (1MB).
const maxRequestBodySize = 1 << 20

// Handler serves the scripted backend.
type Handler struct {
	hub *Hub

	mu      sync.Mutex
	states  map[string]*domain.JobState
	pending map[string]bool // user ids awaiting a clarification answer
	applied int             // counter for generated job ids
}

// NewHandler creates a stub backend handler.
func NewHandler() *Handler {
	return &Handler{
		hub:     NewHub(),
		states:  make(map[string]*domain.JobState),
		pending: make(map[string]bool),
	}
}

// Router builds the chi router with all stub routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(cors)

	r.Post("/chat", h.handleChat)
	r.Get("/api/jobs/{userID}", h.handleJobs)
	r.Post("/api/jobs/{userID}/events", h.handleInjectEvent)
	r.Get("/ws/{userID}", h.handleWS)
	return r
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

type chatRequest struct {
	UserID         string `json:"user_id"`
	UserResponse   string `json:"user_response"`
	UserIntentHint string `json:"user_intent_hint"`
}

// handleChat scripts the four reply shapes. "apply" asks for a clarification
// on the first turn and succeeds on the answer; "list applied"/"list
// rejected" return listings; anything else is a generic chat reply.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		Error(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil || req.UserID == "" {
		Error(w, http.StatusBadRequest, "invalid chat request")
		return
	}

	text := strings.ToLower(strings.TrimSpace(req.UserResponse))

	h.mu.Lock()
	defer h.mu.Unlock()
	state := h.stateLocked(req.UserID)

	switch {
	case h.pending[req.UserID]:
		h.pending[req.UserID] = false
		jobs := h.applyJobsLocked(req.UserID, state, 3)
		JSON(w, http.StatusOK, map[string]any{
			"status":            "success",
			"message":           fmt.Sprintf("Applied to %d jobs", len(jobs)),
			"companies_applied": jobs,
		})

	case req.UserIntentHint == "CHAT":
		JSON(w, http.StatusOK, map[string]any{
			"message": "Hello! Ask me to apply, or to list applied or rejected jobs.",
		})

	case strings.Contains(text, "rejected"):
		JSON(w, http.StatusOK, map[string]any{
			"status": "list",
			"kind":   "rejected",
			"items":  state.Rejected,
		})

	case strings.Contains(text, "applied") || strings.Contains(text, "list"):
		JSON(w, http.StatusOK, map[string]any{
			"status":  "list",
			"kind":    "applied",
			"message": fmt.Sprintf("You have %d applications in flight.", len(state.Applied)),
			"items":   state.Applied,
		})

	case strings.Contains(text, "apply"):
		h.pending[req.UserID] = true
		JSON(w, http.StatusOK, map[string]any{
			"status":         "waiting_for_clarification",
			"question":       "Are you open to relocating for these roles?",
			"interrupt":      map[string]string{"reason": "relocation_preference"},
			"applied_so_far": state.Applied,
		})

	default:
		JSON(w, http.StatusOK, map[string]any{
			"message": "I can apply to jobs for you, or list what I've done so far.",
		})
	}
}

// handleJobs serves the poll snapshot.
func (h *Handler) handleJobs(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	h.mu.Lock()
	state := h.stateLocked(userID).Clone()
	h.mu.Unlock()
	JSON(w, http.StatusOK, state)
}

// handleInjectEvent lets tests and developers fake a background job event:
// the record lands in the named bucket and a push notification goes out.
func (h *Handler) handleInjectEvent(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var ev struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		JobID   string `json:"job_id"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize)).Decode(&ev); err != nil {
		Error(w, http.StatusBadRequest, "invalid event")
		return
	}

	h.mu.Lock()
	state := h.stateLocked(userID)
	rec := domain.JobRecord{ID: ev.JobID}
	switch ev.Type {
	case string(domain.PushApplied):
		state.Applied = append(state.Applied, rec)
	case string(domain.PushRejected):
		state.Rejected = append(state.Rejected, rec)
	case string(domain.PushClarify):
		// No bucket change; notification only.
	default:
		h.mu.Unlock()
		Error(w, http.StatusBadRequest, "unknown event type")
		return
	}
	h.mu.Unlock()

	h.hub.SendToUser(r.Context(), userID, map[string]string{
		"type":    ev.Type,
		"message": ev.Message,
		"job_id":  ev.JobID,
	})
	JSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
}

// handleWS accepts a push feed connection, sends the initial snapshot, and
// holds the connection open until the client goes away.
func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("failed to accept push connection", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := conn.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("failed to close push connection", "error", closeErr, "user_id", userID)
		}
	}()

	h.hub.Register(userID, conn)
	defer h.hub.Unregister(userID, conn)

	h.mu.Lock()
	state := h.stateLocked(userID).Clone()
	h.mu.Unlock()
	h.hub.SendToUser(r.Context(), userID, map[string]any{
		"type":     "initial",
		"applied":  state.Applied,
		"rejected": state.Rejected,
	})

	// The push feed is one-way; drain inbound frames until the peer closes.
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}

func (h *Handler) stateLocked(userID string) *domain.JobState {
	if h.states[userID] == nil {
		h.states[userID] = &domain.JobState{
			Applied:  []domain.JobRecord{},
			Rejected: []domain.JobRecord{},
		}
	}
	return h.states[userID]
}

// applyJobsLocked fabricates n applied records, appends them to the user's
// bucket, and announces each over the push feed.
func (h *Handler) applyJobsLocked(userID string, state *domain.JobState, n int) []domain.JobRecord {
	jobs := make([]domain.JobRecord, 0, n)
	for i := 0; i < n; i++ {
		h.applied++
		jobs = append(jobs, domain.JobRecord{
			ID:      fmt.Sprintf("job_%d", h.applied),
			Company: fmt.Sprintf("Acme %d", h.applied),
			Title:   "Software Engineer",
		})
	}
	state.Applied = append(state.Applied, jobs...)

	go func() {
		for _, j := range jobs {
			h.hub.SendToUser(context.Background(), userID, map[string]string{
				"type":    string(domain.PushApplied),
				"message": "Applied at " + j.Company,
				"job_id":  j.ID,
			})
		}
	}()
	return jobs
}
