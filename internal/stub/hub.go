// Package stub implements a local development backend for the jobpilot
// client: the chat turn endpoint, the jobs poll endpoint, and the per-user
// push feed. It runs no real agent; replies are scripted.
package stub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Hub tracks open push connections by user id and fans events out to them.
type Hub struct {
	mu    sync.Mutex
	conns map[string]map[*websocket.Conn]struct{}
}

// NewHub creates an empty connection registry.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]map[*websocket.Conn]struct{})}
}

// Register adds a connection for a user.
func (h *Hub) Register(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*websocket.Conn]struct{})
	}
	h.conns[userID][conn] = struct{}{}
}

// Unregister removes a connection for a user.
func (h *Hub) Unregister(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set := h.conns[userID]; set != nil {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.conns, userID)
		}
	}
}

// SendToUser delivers a JSON payload to every open connection of a user.
// Send errors are logged and otherwise ignored; disconnect cleans up later.
func (h *Hub) SendToUser(ctx context.Context, userID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to encode push payload", "error", err)
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns[userID]))
	for conn := range h.conns[userID] {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("push write failed", "user_id", userID, "error", err)
		}
	}
}
