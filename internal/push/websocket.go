// ABOUTME: Websocket transport for push delivery built on coder/websocket.
// ABOUTME: Clients send a register frame; disconnect unregisters the connection.

package push

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/2389/vault-gateway/internal/registry"
)

// maxClientFrame bounds what a client may send; register frames are tiny.
const maxClientFrame = 4096

// IdentifyFunc returns the authenticated user for a request.
type IdentifyFunc func(r *http.Request) (userID string, ok bool)

// WebSocketConfig tunes the websocket transport.
type WebSocketConfig struct {
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	RegisterTimeout time.Duration
	OutboxSize      int
	OriginPatterns  []string
}

func (c WebSocketConfig) withDefaults() WebSocketConfig {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.RegisterTimeout <= 0 {
		c.RegisterTimeout = 10 * time.Second
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = defaultOutboxSize
	}
	return c
}

// WebSocketHandler upgrades authenticated requests and keeps the registry in
// sync with the connection's lifetime.
type WebSocketHandler struct {
	registry *registry.Registry
	identify IdentifyFunc
	cfg      WebSocketConfig
	logger   *slog.Logger
}

// NewWebSocketHandler creates the /ws handler.
func NewWebSocketHandler(reg *registry.Registry, identify IdentifyFunc, cfg WebSocketConfig, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		registry: reg,
		identify: identify,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identify(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.OriginPatterns,
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	ws.SetReadLimit(maxClientFrame)

	conn := newConnection(uuid.NewString(), h.cfg.OutboxSize, func() { ws.CloseNow() })
	logger := h.logger.With("user_id", userID, "conn_id", conn.ID())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer conn.Close()

	if err := h.awaitRegister(ctx, ws, userID); err != nil {
		logger.Debug("websocket closed before register", "error", err)
		ws.Close(websocket.StatusPolicyViolation, "register required")
		return
	}

	h.registry.Register(userID, conn)
	defer h.registry.Unregister(conn)

	if err := h.write(ctx, ws, registeredFrame(userID, conn.ID())); err != nil {
		logger.Debug("failed to confirm registration", "error", err)
		return
	}

	go func() {
		if err := h.writeLoop(ctx, ws, conn); err != nil && !errors.Is(err, context.Canceled) {
			logger.Debug("websocket writer stopped", "error", err)
		}
		cancel()
	}()

	err = h.readLoop(ctx, ws, userID, conn)
	logger.Debug("websocket reader stopped", "error", err, "status", websocket.CloseStatus(err))
}

// awaitRegister reads client frames until a valid register arrives.
func (h *WebSocketHandler) awaitRegister(ctx context.Context, ws *websocket.Conn, userID string) error {
	rctx, cancel := context.WithTimeout(ctx, h.cfg.RegisterTimeout)
	defer cancel()

	for {
		_, data, err := ws.Read(rctx)
		if err != nil {
			return err
		}
		if h.checkRegister(ctx, ws, data, userID) {
			return nil
		}
	}
}

// readLoop keeps reading so control frames are processed and a disconnect is
// noticed. Repeat register frames re-assert the registration.
func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, userID string, conn *connection) error {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return err
		}
		if h.checkRegister(ctx, ws, data, userID) {
			h.registry.Register(userID, conn)
			if err := h.write(ctx, ws, registeredFrame(userID, conn.ID())); err != nil {
				return err
			}
		}
	}
}

// checkRegister validates a client frame and answers invalid ones with an error frame.
func (h *WebSocketHandler) checkRegister(ctx context.Context, ws *websocket.Conn, data []byte, userID string) bool {
	var f clientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		h.write(ctx, ws, errorFrame("invalid frame"))
		return false
	}
	if f.Type != FrameRegister {
		h.write(ctx, ws, errorFrame("unsupported frame type"))
		return false
	}
	if f.UserID != "" && f.UserID != userID {
		h.logger.Warn("register rejected: identity mismatch", "user_id", userID, "claimed", f.UserID)
		h.write(ctx, ws, errorFrame("user id does not match credentials"))
		return false
	}
	return true
}

// writeLoop drains the outbox and keeps the connection alive with pings.
func (h *WebSocketHandler) writeLoop(ctx context.Context, ws *websocket.Conn, conn *connection) error {
	var pings <-chan time.Time
	if h.cfg.PingInterval > 0 {
		ticker := time.NewTicker(h.cfg.PingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-conn.Done():
			return ErrConnectionClosed
		case frame := <-conn.outbox:
			if err := h.write(ctx, ws, frame); err != nil {
				return err
			}
		case <-pings:
			pctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
			err := ws.Ping(pctx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (h *WebSocketHandler) write(ctx context.Context, ws *websocket.Conn, frame []byte) error {
	wctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
	defer cancel()
	return ws.Write(wctx, websocket.MessageText, frame)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
