// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject write failures

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrInjected is the default error returned by MockStore failure hooks.
var ErrInjected = errors.New("injected store failure")

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	messages map[string]*VaultMessage // keyed by message ID

	// FailMarkDelivered, when set, is consulted before every
	// MarkVaultMessageDelivered call; a non-nil return fails that call.
	FailMarkDelivered func(id string) error

	// FailListDue, when set, fails ListDueVaultMessages.
	FailListDue error

	// OnListDue, when set, runs at the start of every ListDueVaultMessages call.
	OnListDue func()

	markCalls int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		messages: make(map[string]*VaultMessage),
	}
}

func copyMessage(m *VaultMessage) *VaultMessage {
	c := *m
	if m.DeliveredAt != nil {
		t := *m.DeliveredAt
		c.DeliveredAt = &t
	}
	return &c
}

// CreateVaultMessage stores a new message.
func (m *MockStore) CreateVaultMessage(ctx context.Context, msg *VaultMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.messages[msg.ID]; exists {
		return errors.New("vault message already exists")
	}
	m.messages[msg.ID] = copyMessage(msg)
	return nil
}

// GetVaultMessage retrieves a message by ID.
func (m *MockStore) GetVaultMessage(ctx context.Context, id string) (*VaultMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMessage(msg), nil
}

// ListVaultMessages returns one page of an owner's messages.
func (m *MockStore) ListVaultMessages(ctx context.Context, filter VaultFilter) (*VaultPage, error) {
	f := filter.normalize()

	m.mu.RLock()
	var matched []*VaultMessage
	for _, msg := range m.messages {
		if msg.OwnerID != f.OwnerID {
			continue
		}
		switch f.Status {
		case VaultStatusUpcoming:
			if !msg.DeliverAt.After(f.Now) {
				continue
			}
		case VaultStatusDelivered:
			if msg.DeliverAt.After(f.Now) {
				continue
			}
		}
		matched = append(matched, copyMessage(msg))
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		switch f.Status {
		case VaultStatusUpcoming:
			return matched[i].DeliverAt.Before(matched[j].DeliverAt)
		case VaultStatusDelivered:
			return matched[i].DeliverAt.After(matched[j].DeliverAt)
		default:
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
	})

	page := &VaultPage{Total: len(matched), Page: f.Page, Limit: f.Limit}
	start := f.offset()
	if start < len(matched) {
		end := min(start+f.Limit, len(matched))
		page.Messages = matched[start:end]
	}
	return page, nil
}

// ListDueVaultMessages returns undelivered messages due at now, oldest first.
func (m *MockStore) ListDueVaultMessages(ctx context.Context, now time.Time, limit int) ([]*VaultMessage, error) {
	if m.OnListDue != nil {
		m.OnListDue()
	}
	if m.FailListDue != nil {
		return nil, m.FailListDue
	}

	m.mu.RLock()
	var due []*VaultMessage
	for _, msg := range m.messages {
		if msg.IsDue(now) {
			due = append(due, copyMessage(msg))
		}
	}
	m.mu.RUnlock()

	sort.Slice(due, func(i, j int) bool {
		return due[i].DeliverAt.Before(due[j].DeliverAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// MarkVaultMessageDelivered flips delivered to true if it is still false.
func (m *MockStore) MarkVaultMessageDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.markCalls++
	if m.FailMarkDelivered != nil {
		if err := m.FailMarkDelivered(id); err != nil {
			return false, err
		}
	}

	msg, ok := m.messages[id]
	if !ok || msg.Delivered {
		return false, nil
	}
	msg.Delivered = true
	msg.DeliveredAt = &at
	msg.UpdatedAt = at
	return true, nil
}

// MarkCalls returns how many times MarkVaultMessageDelivered has been called.
func (m *MockStore) MarkCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.markCalls
}

// MarkOwnerDueDelivered transitions all of an owner's due messages.
func (m *MockStore) MarkOwnerDueDelivered(ctx context.Context, ownerID string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, msg := range m.messages {
		if msg.OwnerID == ownerID && msg.IsDue(now) {
			at := now
			msg.Delivered = true
			msg.DeliveredAt = &at
			msg.UpdatedAt = now
			count++
		}
	}
	return count, nil
}

// UpdateVaultMessage applies patch to an undelivered message.
func (m *MockStore) UpdateVaultMessage(ctx context.Context, id string, patch VaultPatch, updatedAt time.Time) (*VaultMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	if msg.Delivered {
		return nil, ErrAlreadyDelivered
	}
	if patch.Message != nil {
		msg.Message = *patch.Message
	}
	if patch.DeliverAt != nil {
		msg.DeliverAt = *patch.DeliverAt
	}
	msg.UpdatedAt = updatedAt
	return copyMessage(msg), nil
}

// DeleteVaultMessage removes a message.
func (m *MockStore) DeleteVaultMessage(ctx context.Context, id string) (*VaultMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.messages, id)
	return msg, nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)
