// ABOUTME: Store interface and data types for vault-gateway persistence
// ABOUTME: Defines VaultMessage, list filters, patches and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrAlreadyDelivered is returned when mutating a message that has been delivered
var ErrAlreadyDelivered = errors.New("message already delivered")

// MaxMessageLength is the maximum number of characters in a vault message body.
const MaxMessageLength = 2000

// VaultMessage is a message written "to the future". It stays hidden from the
// owner's delivered list until DeliverAt, after which the delivery scheduler
// flips Delivered to true. Delivered never goes back to false.
type VaultMessage struct {
	ID          string
	OwnerID     string
	Message     string
	DeliverAt   time.Time
	Delivered   bool
	DeliveredAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsDue reports whether the message should be delivered at now.
func (m *VaultMessage) IsDue(now time.Time) bool {
	return !m.Delivered && !m.DeliverAt.After(now)
}

// VaultStatus selects which part of an owner's vault a listing returns.
type VaultStatus string

const (
	VaultStatusAll       VaultStatus = "all"
	VaultStatusUpcoming  VaultStatus = "upcoming"  // deliver_at > now, soonest first
	VaultStatusDelivered VaultStatus = "delivered" // deliver_at <= now, newest first
)

// Pagination defaults and caps for owner listings.
const (
	DefaultPageLimit = 15
	MaxPageLimit     = 100
)

// VaultFilter describes an owner-scoped, paginated listing.
type VaultFilter struct {
	OwnerID string
	Status  VaultStatus
	Now     time.Time
	Page    int // 1-based
	Limit   int
}

// normalize fills in pagination defaults and clamps the limit.
func (f VaultFilter) normalize() VaultFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	if f.Status == "" {
		f.Status = VaultStatusAll
	}
	if f.Now.IsZero() {
		f.Now = time.Now()
	}
	return f
}

func (f VaultFilter) offset() int {
	return (f.Page - 1) * f.Limit
}

// VaultPage is one page of an owner listing together with the total match count.
type VaultPage struct {
	Messages []*VaultMessage
	Total    int
	Page     int
	Limit    int
}

// VaultPatch carries the mutable fields of an undelivered message.
// Nil fields are left unchanged.
type VaultPatch struct {
	Message   *string
	DeliverAt *time.Time
}

// IsEmpty reports whether the patch changes nothing.
func (p VaultPatch) IsEmpty() bool {
	return p.Message == nil && p.DeliverAt == nil
}

// DueStore is the slice of Store the delivery scheduler depends on.
type DueStore interface {
	ListDueVaultMessages(ctx context.Context, now time.Time, limit int) ([]*VaultMessage, error)
	MarkVaultMessageDelivered(ctx context.Context, id string, at time.Time) (bool, error)
}

// Store defines the interface for vault message persistence
type Store interface {
	DueStore

	CreateVaultMessage(ctx context.Context, msg *VaultMessage) error
	GetVaultMessage(ctx context.Context, id string) (*VaultMessage, error)
	ListVaultMessages(ctx context.Context, filter VaultFilter) (*VaultPage, error)

	// UpdateVaultMessage applies patch only while the message is undelivered.
	// Returns ErrNotFound or ErrAlreadyDelivered.
	UpdateVaultMessage(ctx context.Context, id string, patch VaultPatch, updatedAt time.Time) (*VaultMessage, error)

	// MarkOwnerDueDelivered transitions every due message of one owner and
	// returns how many rows changed.
	MarkOwnerDueDelivered(ctx context.Context, ownerID string, now time.Time) (int, error)

	DeleteVaultMessage(ctx context.Context, id string) (*VaultMessage, error)

	// Close releases any resources held by the store
	Close() error
}
