// ABOUTME: Best-effort push of delivery events to a user's live connection.
// ABOUTME: A user without a connection is a normal outcome, not an error.

package push

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/vault-gateway/internal/registry"
)

// Outcome reports what happened to a single notify attempt.
type Outcome int

const (
	// OutcomeNoConnection means the user had no live connection.
	OutcomeNoConnection Outcome = iota
	// OutcomePushed means the frame was handed to the user's connection.
	OutcomePushed
	// OutcomeFailed means a connection existed but the send failed or timed out.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePushed:
		return "pushed"
	case OutcomeNoConnection:
		return "no_connection"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Channel delivers events to whichever connection the registry holds for a user.
type Channel struct {
	registry    *registry.Registry
	sendTimeout time.Duration
	logger      *slog.Logger
}

// NewChannel creates a Channel. A zero sendTimeout leaves the caller's deadline in charge.
func NewChannel(reg *registry.Registry, sendTimeout time.Duration, logger *slog.Logger) *Channel {
	return &Channel{
		registry:    reg,
		sendTimeout: sendTimeout,
		logger:      logger,
	}
}

// Notify pushes event to userID. It never blocks longer than the send timeout.
func (c *Channel) Notify(ctx context.Context, userID string, event *Event) (Outcome, error) {
	conn, ok := c.registry.Lookup(userID)
	if !ok {
		return OutcomeNoConnection, nil
	}

	frame, err := event.Encode()
	if err != nil {
		return OutcomeFailed, err
	}

	if c.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.sendTimeout)
		defer cancel()
	}

	if err := conn.Send(ctx, frame); err != nil {
		return OutcomeFailed, fmt.Errorf("sending to connection %s: %w", conn.ID(), err)
	}

	c.logger.Debug("pushed event", "user_id", userID, "conn_id", conn.ID(), "type", event.Type, "message_id", event.MessageID)
	return OutcomePushed, nil
}
