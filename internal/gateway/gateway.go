// ABOUTME: Gateway wires the vault store, live-connection registry, push transports and scheduler
// ABOUTME: Owns the HTTP server (TCP or Tailscale) and the ordered shutdown of every component

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/vault-gateway/internal/auth"
	"github.com/2389/vault-gateway/internal/config"
	"github.com/2389/vault-gateway/internal/dedupe"
	"github.com/2389/vault-gateway/internal/delivery"
	"github.com/2389/vault-gateway/internal/push"
	"github.com/2389/vault-gateway/internal/registry"
	"github.com/2389/vault-gateway/internal/store"
	"github.com/2389/vault-gateway/internal/vault"
)

// Gateway is the vault-gateway server.
type Gateway struct {
	config      *config.Config
	store       store.Store
	registry    *registry.Registry
	channel     *push.Channel
	dedupe      *dedupe.Cache
	scheduler   *delivery.Scheduler
	vault       *vault.Service
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	schedCancel context.CancelFunc
	schedDone   chan struct{}
}

// initStore opens the store selected by database.driver.
func initStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		s, err := store.NewPostgresStore(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("creating postgres store: %w", err)
		}
		return s, nil
	case config.DriverSQLite, "":
		s, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("creating sqlite store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// authMiddleware picks JWT auth when a secret is configured, header trust otherwise.
func authMiddleware(cfg *config.Config, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth disabled - no jwt_secret configured, trusting " + auth.UserIDHeader)
		return auth.NoAuthMiddleware(), nil
	}
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}
	logger.Info("HTTP auth middleware enabled")
	return auth.HTTPAuthMiddleware(verifier), nil
}

// New creates a Gateway from cfg. The store is opened immediately; servers
// and the scheduler start in Run.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	return NewWithStore(cfg, nil, logger)
}

// NewWithStore is New with a caller-supplied store. A nil st opens the
// configured one.
func NewWithStore(cfg *config.Config, st store.Store, logger *slog.Logger) (*Gateway, error) {
	if st == nil {
		var err error
		st, err = initStore(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
	}

	requireAuth, err := authMiddleware(cfg, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	reg := registry.New(logger.With("component", "registry"))
	channel := push.NewChannel(reg, cfg.Scheduler.NotifyTimeout, logger.With("component", "push"))

	dedupeTTL := cfg.Scheduler.DedupeTTL
	if dedupeTTL <= 0 {
		dedupeTTL = 10 * time.Minute
	}
	dedupeCache := dedupe.New(dedupeTTL, dedupe.DefaultMaxSize)

	scheduler := delivery.New(st, channel, delivery.Config{
		Period:        cfg.Scheduler.TickPeriod,
		Workers:       cfg.Scheduler.Workers,
		BatchSize:     cfg.Scheduler.BatchSize,
		ShutdownGrace: cfg.Scheduler.ShutdownGrace,
	}, logger.With("component", "scheduler"), delivery.WithDedupe(dedupeCache))

	gw := &Gateway{
		config:    cfg,
		store:     st,
		registry:  reg,
		channel:   channel,
		dedupe:    dedupeCache,
		scheduler: scheduler,
		vault:     vault.NewService(st, nil, logger),
		logger:    logger.With("component", "gateway"),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(requireAuth),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Long-lived SSE and websocket handlers never go idle on their own.
	gw.httpServer.RegisterOnShutdown(reg.CloseAll)

	return gw, nil
}

// Handler returns the fully wrapped HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupTCPListener creates the standard HTTP listener.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr,
			)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// startScheduler runs the delivery loop until stopScheduler.
func (g *Gateway) startScheduler() {
	ctx, cancel := context.WithCancel(context.Background())
	g.schedCancel = cancel
	g.schedDone = make(chan struct{})

	go func() {
		defer close(g.schedDone)
		if err := g.scheduler.Run(ctx); err != nil {
			g.logger.Error("scheduler stopped", "error", err)
		}
	}()
}

// stopScheduler cancels the loop and waits for the in-flight tick, bounded by ctx.
func (g *Gateway) stopScheduler(ctx context.Context) error {
	if g.schedCancel == nil {
		return nil
	}
	g.schedCancel()
	select {
	case <-g.schedDone:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for scheduler: %w", ctx.Err())
	}
}

// startServer serves HTTP in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	return errCh
}

// Run starts the HTTP server and the delivery scheduler and blocks until ctx
// is cancelled or the server fails. It always shuts everything down before
// returning.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := g.startServer(ln)
	g.startScheduler()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown runs Shutdown on a fresh context; the Run context is already done.
func (g *Gateway) gracefulShutdown() error {
	grace := g.config.Scheduler.ShutdownGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace+5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "vault-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or TS_AUTHKEY.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener joins the tailnet and listens for HTTP there.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	if tsCfg.Funnel {
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	}
	return g.createTailscaleTLSListener()
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleTLSListener serves HTTPS on :443 with Tailscale's certificates.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the scheduler first so no tick starts against a closing
// store, then drains HTTP, drops live connections and releases storage.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "scheduler stop", g.stopScheduler(ctx))
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	g.registry.CloseAll()

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())
	g.dedupe.Close()

	return errors.Join(errs...)
}
