// ABOUTME: Vault API operations: create, edit, delete and list time-locked messages.
// ABOUTME: Enforces ownership, body validation, and that delivered messages are immutable.

package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/2389/vault-gateway/internal/store"
)

// Validation and state errors. The HTTP layer maps these to status codes.
var (
	ErrEmptyMessage       = errors.New("message cannot be empty")
	ErrMessageTooLong     = fmt.Errorf("message cannot exceed %d characters", store.MaxMessageLength)
	ErrDeliverAtRequired  = errors.New("invalid or missing delivery date")
	ErrDeliverAtNotFuture = errors.New("delivery date must be in the future")
	ErrNoChanges          = errors.New("provide message or deliverAt to update")
	ErrInvalidID          = errors.New("invalid message id")
	ErrNotFound           = errors.New("message not found")
	ErrAlreadyDelivered   = errors.New("cannot update a message that has already been delivered")
)

// Service implements vault operations for an authenticated owner.
type Service struct {
	store  store.Store
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a Service. A nil now uses time.Now.
func NewService(st store.Store, now func() time.Time, logger *slog.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:  st,
		now:    now,
		logger: logger.With("component", "vault"),
	}
}

// Patch holds the fields a caller wants to change. Nil means unchanged.
type Patch struct {
	Message   *string
	DeliverAt *time.Time
}

// Page is one page of an owner listing.
type Page struct {
	Messages []*store.VaultMessage
	Total    int
	Page     int
	Limit    int
}

// Create stores a new message that will be delivered at deliverAt.
func (s *Service) Create(ctx context.Context, ownerID, message string, deliverAt time.Time) (*store.VaultMessage, error) {
	body, err := validateBody(message)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := validateDeliverAt(deliverAt, now); err != nil {
		return nil, err
	}

	msg := &store.VaultMessage{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Message:   body,
		DeliverAt: deliverAt.UTC(),
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	if err := s.store.CreateVaultMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("creating vault message: %w", err)
	}

	s.logger.Info("vault message created", "id", msg.ID, "owner_id", ownerID, "deliver_at", msg.DeliverAt)
	return msg, nil
}

// Get returns one of the owner's messages. Another owner's message is reported
// as not found.
func (s *Service) Get(ctx context.Context, ownerID, id string) (*store.VaultMessage, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	msg, err := s.store.GetVaultMessage(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading vault message: %w", err)
	}
	if msg.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return msg, nil
}

// Update edits an undelivered message. At least one field must be set, and
// any field that is set is validated like on create.
func (s *Service) Update(ctx context.Context, ownerID, id string, patch Patch) (*store.VaultMessage, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if patch.Message == nil && patch.DeliverAt == nil {
		return nil, ErrNoChanges
	}

	current, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if current.Delivered {
		return nil, ErrAlreadyDelivered
	}

	now := s.now()
	var sp store.VaultPatch
	if patch.Message != nil {
		body, err := validateBody(*patch.Message)
		if err != nil {
			return nil, err
		}
		sp.Message = &body
	}
	if patch.DeliverAt != nil {
		if err := validateDeliverAt(*patch.DeliverAt, now); err != nil {
			return nil, err
		}
		at := patch.DeliverAt.UTC()
		sp.DeliverAt = &at
	}

	// The store re-checks delivered, closing the race with the scheduler.
	updated, err := s.store.UpdateVaultMessage(ctx, id, sp, now.UTC())
	switch {
	case errors.Is(err, store.ErrAlreadyDelivered):
		return nil, ErrAlreadyDelivered
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("updating vault message: %w", err)
	}

	s.logger.Info("vault message updated", "id", id, "owner_id", ownerID)
	return updated, nil
}

// Delete removes one of the owner's messages, delivered or not.
func (s *Service) Delete(ctx context.Context, ownerID, id string) (*store.VaultMessage, error) {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}

	deleted, err := s.store.DeleteVaultMessage(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("deleting vault message: %w", err)
	}

	s.logger.Info("vault message deleted", "id", id, "owner_id", ownerID)
	return deleted, nil
}

// ListDelivered returns messages whose delivery time has passed, newest first.
// Due messages the scheduler has not reached yet are marked delivered first,
// so a user who fetches never waits for the next tick.
func (s *Service) ListDelivered(ctx context.Context, ownerID string, page, limit int) (*Page, error) {
	now := s.now()
	if _, err := s.store.MarkOwnerDueDelivered(ctx, ownerID, now); err != nil {
		return nil, fmt.Errorf("marking due messages delivered: %w", err)
	}
	return s.list(ctx, ownerID, store.VaultStatusDelivered, now, page, limit)
}

// ListUpcoming returns messages still locked, soonest first.
func (s *Service) ListUpcoming(ctx context.Context, ownerID string, page, limit int) (*Page, error) {
	return s.list(ctx, ownerID, store.VaultStatusUpcoming, s.now(), page, limit)
}

func (s *Service) list(ctx context.Context, ownerID string, status store.VaultStatus, now time.Time, page, limit int) (*Page, error) {
	result, err := s.store.ListVaultMessages(ctx, store.VaultFilter{
		OwnerID: ownerID,
		Status:  status,
		Now:     now,
		Page:    page,
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s messages: %w", status, err)
	}

	messages := result.Messages
	if messages == nil {
		messages = []*store.VaultMessage{}
	}
	return &Page{
		Messages: messages,
		Total:    result.Total,
		Page:     result.Page,
		Limit:    result.Limit,
	}, nil
}

func validateBody(message string) (string, error) {
	body := strings.TrimSpace(message)
	if body == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(body) > store.MaxMessageLength {
		return "", ErrMessageTooLong
	}
	return body, nil
}

func validateDeliverAt(deliverAt, now time.Time) error {
	if deliverAt.IsZero() {
		return ErrDeliverAtRequired
	}
	if !deliverAt.After(now) {
		return ErrDeliverAtNotFuture
	}
	return nil
}

func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidID
	}
	return nil
}
