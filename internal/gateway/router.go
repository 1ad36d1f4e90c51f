// ABOUTME: Route table and HTTP middleware for vault-gateway
// ABOUTME: Mounts the vault API and push transports behind auth, CORS and access logging

package gateway

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/cors"

	"github.com/2389/vault-gateway/internal/auth"
	"github.com/2389/vault-gateway/internal/push"
)

// routes builds the full handler. Health endpoints are public; everything
// else goes through requireAuth.
func (g *Gateway) routes(requireAuth func(http.Handler) http.Handler) http.Handler {
	cfg := g.config
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	protect := func(h http.HandlerFunc) http.Handler { return requireAuth(h) }
	mux.Handle("POST /api/vault", protect(g.handleCreate))
	mux.Handle("GET /api/vault/delivered", protect(g.handleDelivered))
	mux.Handle("GET /api/vault/upcoming", protect(g.handleUpcoming))
	mux.Handle("GET /api/vault/{id}", protect(g.handleGet))
	mux.Handle("PATCH /api/vault/{id}", protect(g.handleUpdate))
	mux.Handle("DELETE /api/vault/{id}", protect(g.handleDelete))

	pushLogger := g.logger.With("component", "push")
	mux.Handle("GET /api/vault/stream", requireAuth(push.NewSSEHandler(
		g.registry, auth.UserID, cfg.Push.SSEHeartbeat, cfg.Push.OutboxSize, pushLogger,
	)))
	mux.Handle("GET /ws", requireAuth(push.NewWebSocketHandler(g.registry, auth.UserID, push.WebSocketConfig{
		WriteTimeout:    cfg.Push.WriteTimeout,
		PingInterval:    cfg.Push.PingInterval,
		RegisterTimeout: cfg.Push.RegisterTimeout,
		OutboxSize:      cfg.Push.OutboxSize,
		OriginPatterns:  originPatterns(cfg.CORS.AllowedOrigins),
	}, pushLogger)))

	var handler http.Handler = mux
	if len(cfg.CORS.AllowedOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", auth.UserIDHeader},
			AllowCredentials: true,
		}).Handler(handler)
	}
	return accessLog(handler, g.logger.With("component", "http"))
}

// originPatterns turns CORS origins (scheme://host[:port]) into the host
// patterns the websocket origin check expects.
func originPatterns(origins []string) []string {
	var patterns []string
	for _, o := range origins {
		if o == "*" {
			patterns = append(patterns, "*")
			continue
		}
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			continue
		}
		patterns = append(patterns, u.Host)
	}
	return patterns
}

// statusRecorder captures the response status for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working through the recorder.
func (rec *statusRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack keeps websocket upgrades working through the recorder.
func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rec.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

// accessLog logs one line per request. Health probes log at debug.
func accessLog(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		if strings.HasPrefix(r.URL.Path, "/health") {
			level = slog.LevelDebug
		}
		logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
