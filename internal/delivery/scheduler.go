// ABOUTME: Delivery scheduler that turns due vault messages into delivered ones.
// ABOUTME: Each tick finds due messages, pushes best-effort, then persists delivered=true.

package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/vault-gateway/internal/dedupe"
	"github.com/2389/vault-gateway/internal/push"
	"github.com/2389/vault-gateway/internal/store"
)

// Notifier pushes an event to a user's live connection, if there is one.
type Notifier interface {
	Notify(ctx context.Context, userID string, event *push.Event) (push.Outcome, error)
}

// Config tunes the scheduler.
type Config struct {
	Period        time.Duration // time between ticks
	Workers       int           // messages handled in parallel within a tick
	BatchSize     int           // max due messages fetched per tick
	ShutdownGrace time.Duration // how long an in-flight tick may run after shutdown starts
}

func (c Config) withDefaults() Config {
	if c.Period <= 0 {
		c.Period = time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 10 * time.Second
	}
	return c
}

// Option configures optional scheduler collaborators.
type Option func(*Scheduler)

// WithClock overrides time.Now for due-time decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithDedupe suppresses a second push of a message whose delivered flag
// could not be persisted on an earlier tick.
func WithDedupe(cache *dedupe.Cache) Option {
	return func(s *Scheduler) { s.pushed = cache }
}

// Scheduler periodically delivers due vault messages.
type Scheduler struct {
	store    store.DueStore
	notifier Notifier
	pushed   *dedupe.Cache
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger

	// tickMu is held for the whole of a tick; ticks never overlap.
	tickMu sync.Mutex

	stats    counters
	lastMu   sync.Mutex
	lastTick time.Time
	lastDur  time.Duration
}

// New creates a Scheduler. Call Run to start ticking.
func New(st store.DueStore, notifier Notifier, cfg Config, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    st,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ticks once immediately and then every Period until ctx is cancelled.
// A tick that is running when ctx is cancelled is allowed to finish within
// ShutdownGrace.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("delivery scheduler started",
		"period", s.cfg.Period,
		"workers", s.cfg.Workers,
		"batch_size", s.cfg.BatchSize,
	)

	ticker := time.NewTicker(s.cfg.Period)
	defer ticker.Stop()

	s.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("delivery scheduler stopped")
			return nil
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

// runTick detaches the tick from parent so shutdown does not abort it
// mid-entry, then cancels it if it overruns the grace period.
func (s *Scheduler) runTick(parent context.Context) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	defer cancel()

	stop := context.AfterFunc(parent, func() {
		timer := time.NewTimer(s.cfg.ShutdownGrace)
		defer timer.Stop()
		select {
		case <-timer.C:
			s.logger.Warn("in-flight tick exceeded shutdown grace, cancelling")
			cancel()
		case <-ctx.Done():
		}
	})
	defer stop()

	s.Tick(ctx)
}

// TickResult summarizes one tick.
type TickResult struct {
	Skipped          bool
	Due              int
	Delivered        int
	AlreadyDelivered int
	Pushed           int
	NoConnection     int
	PushFailed       int
	PushSuppressed   int
	PersistFailed    int
}

type tickCounters struct {
	delivered, alreadyDelivered      atomic.Int64
	pushed, noConnection, pushFailed atomic.Int64
	pushSuppressed, persistFailed    atomic.Int64
}

// Tick runs one delivery pass. If another tick is in flight it returns
// immediately with Skipped set. Errors are logged and counted, never returned.
func (s *Scheduler) Tick(ctx context.Context) TickResult {
	if !s.tickMu.TryLock() {
		s.stats.skippedTicks.Add(1)
		s.logger.Warn("previous tick still running, skipping")
		return TickResult{Skipped: true}
	}
	defer s.tickMu.Unlock()

	start := time.Now()
	now := s.now()
	s.stats.ticks.Add(1)

	due, err := s.store.ListDueVaultMessages(ctx, now, s.cfg.BatchSize)
	if err != nil {
		s.stats.listFailures.Add(1)
		s.logger.Error("failed to list due messages, will retry next tick", "error", err)
		s.recordTick(now, time.Since(start))
		return TickResult{}
	}

	var tc tickCounters
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for _, msg := range due {
		g.Go(func() error {
			s.deliver(ctx, msg, &tc)
			return nil
		})
	}
	g.Wait()

	result := TickResult{
		Due:              len(due),
		Delivered:        int(tc.delivered.Load()),
		AlreadyDelivered: int(tc.alreadyDelivered.Load()),
		Pushed:           int(tc.pushed.Load()),
		NoConnection:     int(tc.noConnection.Load()),
		PushFailed:       int(tc.pushFailed.Load()),
		PushSuppressed:   int(tc.pushSuppressed.Load()),
		PersistFailed:    int(tc.persistFailed.Load()),
	}
	s.stats.add(result)
	s.recordTick(now, time.Since(start))

	if result.Due > 0 {
		s.logger.Info("delivery tick complete",
			"due", result.Due,
			"delivered", result.Delivered,
			"pushed", result.Pushed,
			"no_connection", result.NoConnection,
			"push_failed", result.PushFailed,
			"persist_failed", result.PersistFailed,
			"duration", time.Since(start),
		)
	}
	return result
}

// deliver handles one due message: notify, then mark delivered. A failure
// here never affects other messages in the tick.
func (s *Scheduler) deliver(ctx context.Context, msg *store.VaultMessage, tc *tickCounters) {
	logger := s.logger.With("message_id", msg.ID, "user_id", msg.OwnerID)

	defer func() {
		if r := recover(); r != nil {
			tc.persistFailed.Add(1)
			logger.Error("panic delivering message", "panic", fmt.Sprint(r))
		}
	}()

	if s.pushed != nil && s.pushed.Seen(msg.ID) {
		tc.pushSuppressed.Add(1)
		logger.Debug("already pushed, skipping notify")
	} else {
		event := push.NewDeliveredEvent(msg.ID, msg.Message, msg.DeliverAt)
		outcome, err := s.notifier.Notify(ctx, msg.OwnerID, event)
		switch outcome {
		case push.OutcomePushed:
			tc.pushed.Add(1)
			if s.pushed != nil {
				s.pushed.Mark(msg.ID)
			}
		case push.OutcomeNoConnection:
			tc.noConnection.Add(1)
			logger.Debug("user offline, message will be seen on next fetch")
		default:
			tc.pushFailed.Add(1)
			logger.Warn("push failed, delivering anyway", "error", err)
		}
	}

	changed, err := s.store.MarkVaultMessageDelivered(ctx, msg.ID, s.now())
	if err != nil {
		tc.persistFailed.Add(1)
		logger.Error("failed to mark message delivered, will retry next tick", "error", err)
		return
	}
	if s.pushed != nil {
		s.pushed.Forget(msg.ID)
	}
	if changed {
		tc.delivered.Add(1)
	} else {
		tc.alreadyDelivered.Add(1)
	}
}

func (s *Scheduler) recordTick(at time.Time, d time.Duration) {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	s.lastTick = at
	s.lastDur = d
}
