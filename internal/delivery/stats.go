// ABOUTME: Cumulative scheduler counters exposed on the readiness endpoint
// ABOUTME: Counters are atomics folded in once per tick and read as a snapshot

package delivery

import (
	"sync/atomic"
	"time"
)

type counters struct {
	ticks, skippedTicks, listFailures    atomic.Uint64
	dueSeen, delivered, alreadyDelivered atomic.Uint64
	pushed, noConnection, pushFailed     atomic.Uint64
	pushSuppressed, persistFailed        atomic.Uint64
}

func (c *counters) add(r TickResult) {
	c.dueSeen.Add(uint64(r.Due))
	c.delivered.Add(uint64(r.Delivered))
	c.alreadyDelivered.Add(uint64(r.AlreadyDelivered))
	c.pushed.Add(uint64(r.Pushed))
	c.noConnection.Add(uint64(r.NoConnection))
	c.pushFailed.Add(uint64(r.PushFailed))
	c.pushSuppressed.Add(uint64(r.PushSuppressed))
	c.persistFailed.Add(uint64(r.PersistFailed))
}

// Stats is a snapshot of everything the scheduler has done since start.
type Stats struct {
	Ticks            uint64        `json:"ticks"`
	SkippedTicks     uint64        `json:"skippedTicks"`
	ListFailures     uint64        `json:"listFailures"`
	DueSeen          uint64        `json:"dueSeen"`
	Delivered        uint64        `json:"delivered"`
	AlreadyDelivered uint64        `json:"alreadyDelivered"`
	Pushed           uint64        `json:"pushed"`
	NoConnection     uint64        `json:"noConnection"`
	PushFailed       uint64        `json:"pushFailed"`
	PushSuppressed   uint64        `json:"pushSuppressed"`
	PersistFailed    uint64        `json:"persistFailed"`
	LastTickAt       time.Time     `json:"lastTickAt"`
	LastTickDuration time.Duration `json:"lastTickDurationNs"`
}

// Stats returns the current counters.
func (s *Scheduler) Stats() Stats {
	s.lastMu.Lock()
	last, dur := s.lastTick, s.lastDur
	s.lastMu.Unlock()

	return Stats{
		Ticks:            s.stats.ticks.Load(),
		SkippedTicks:     s.stats.skippedTicks.Load(),
		ListFailures:     s.stats.listFailures.Load(),
		DueSeen:          s.stats.dueSeen.Load(),
		Delivered:        s.stats.delivered.Load(),
		AlreadyDelivered: s.stats.alreadyDelivered.Load(),
		Pushed:           s.stats.pushed.Load(),
		NoConnection:     s.stats.noConnection.Load(),
		PushFailed:       s.stats.pushFailed.Load(),
		PushSuppressed:   s.stats.pushSuppressed.Load(),
		PersistFailed:    s.stats.persistFailed.Load(),
		LastTickAt:       last,
		LastTickDuration: dur,
	}
}
