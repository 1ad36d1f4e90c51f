// ABOUTME: Server-Sent Events transport for push delivery.
// ABOUTME: Opening the stream registers the caller; closing it unregisters.

package push

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/2389/vault-gateway/internal/registry"
)

// SSEHandler serves GET /api/vault/stream for clients that cannot hold a websocket.
type SSEHandler struct {
	registry   *registry.Registry
	identify   IdentifyFunc
	heartbeat  time.Duration
	outboxSize int
	logger     *slog.Logger
}

// NewSSEHandler creates the stream handler. A zero heartbeat defaults to 30s.
func NewSSEHandler(reg *registry.Registry, identify IdentifyFunc, heartbeat time.Duration, outboxSize int, logger *slog.Logger) *SSEHandler {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &SSEHandler{
		registry:   reg,
		identify:   identify,
		heartbeat:  heartbeat,
		outboxSize: outboxSize,
		logger:     logger,
	}
}

func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	userID, ok := h.identify(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	conn := newConnection(uuid.NewString(), h.outboxSize, nil)
	defer conn.Close()

	h.registry.Register(userID, conn)
	defer h.registry.Unregister(conn)

	if err := writeSSEFrame(w, registeredFrame(userID, conn.ID())); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", "user_id", userID, "conn_id", conn.ID())
			return
		case <-conn.Done():
			return
		case frame := <-conn.outbox:
			if err := writeSSEFrame(w, frame); err != nil {
				h.logger.Debug("SSE write failed", "user_id", userID, "error", err)
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEFrame writes one frame as event: <type>\ndata: <frame>\n\n.
func writeSSEFrame(w http.ResponseWriter, frame []byte) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frameType(frame), frame)
	return err
}
