// ABOUTME: Tests for the vault service against the in-memory store.
// ABOUTME: Covers validation, ownership, the delivered lock, and listing.

package vault

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/vault-gateway/internal/store"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func setupService(t *testing.T) (*Service, *store.MockStore) {
	t.Helper()
	st := store.NewMockStore()
	svc := NewService(st, func() time.Time { return now }, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, st
}

func ptr[T any](v T) *T { return &v }

func TestCreate(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	msg, err := svc.Create(ctx, "alice", "  see you next year  ", now.Add(24*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, "see you next year", msg.Message, "body is trimmed")
	assert.Equal(t, "alice", msg.OwnerID)
	assert.False(t, msg.Delivered)
	_, err = uuid.Parse(msg.ID)
	assert.NoError(t, err)

	got, err := svc.Get(ctx, "alice", msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.Message, got.Message)
}

func TestCreate_Validation(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		message   string
		deliverAt time.Time
		wantErr   error
	}{
		{"empty", "", now.Add(time.Hour), ErrEmptyMessage},
		{"whitespace only", " \n\t ", now.Add(time.Hour), ErrEmptyMessage},
		{"too long", strings.Repeat("a", store.MaxMessageLength+1), now.Add(time.Hour), ErrMessageTooLong},
		{"missing deliverAt", "hi", time.Time{}, ErrDeliverAtRequired},
		{"deliverAt now", "hi", now, ErrDeliverAtNotFuture},
		{"deliverAt past", "hi", now.Add(-time.Second), ErrDeliverAtNotFuture},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, "alice", tt.message, tt.deliverAt)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCreate_LengthCountsCharacters(t *testing.T) {
	svc, _ := setupService(t)

	// Multi-byte characters count once each.
	_, err := svc.Create(context.Background(), "alice", strings.Repeat("é", store.MaxMessageLength), now.Add(time.Hour))
	assert.NoError(t, err)
}

func TestGet_OtherOwnerIsNotFound(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	msg, err := svc.Create(ctx, "alice", "mine", now.Add(time.Hour))
	require.NoError(t, err)

	_, err = svc.Get(ctx, "mallory", msg.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet_InvalidID(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.Get(context.Background(), "alice", "not-a-uuid")
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = svc.Get(context.Background(), "alice", uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	msg, err := svc.Create(ctx, "alice", "draft", now.Add(time.Hour))
	require.NoError(t, err)

	updated, err := svc.Update(ctx, "alice", msg.ID, Patch{Message: ptr(" final ")})
	require.NoError(t, err)
	assert.Equal(t, "final", updated.Message)
	assert.True(t, updated.DeliverAt.Equal(msg.DeliverAt))

	later := now.Add(48 * time.Hour)
	updated, err = svc.Update(ctx, "alice", msg.ID, Patch{DeliverAt: &later})
	require.NoError(t, err)
	assert.True(t, updated.DeliverAt.Equal(later))
	assert.Equal(t, "final", updated.Message)
}

func TestUpdate_Validation(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	msg, err := svc.Create(ctx, "alice", "draft", now.Add(time.Hour))
	require.NoError(t, err)

	_, err = svc.Update(ctx, "alice", msg.ID, Patch{})
	assert.ErrorIs(t, err, ErrNoChanges)

	_, err = svc.Update(ctx, "alice", msg.ID, Patch{Message: ptr("   ")})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = svc.Update(ctx, "alice", msg.ID, Patch{DeliverAt: ptr(now.Add(-time.Minute))})
	assert.ErrorIs(t, err, ErrDeliverAtNotFuture)

	_, err = svc.Update(ctx, "mallory", msg.ID, Patch{Message: ptr("hijack")})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Update(ctx, "alice", "bogus", Patch{Message: ptr("x")})
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestUpdate_DeliveredMessageIsLocked(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	msg, err := svc.Create(ctx, "alice", "original", now.Add(time.Hour))
	require.NoError(t, err)

	// The scheduler delivers it.
	changed, err := st.MarkVaultMessageDelivered(ctx, msg.ID, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.True(t, changed)

	_, err = svc.Update(ctx, "alice", msg.ID, Patch{Message: ptr("rewritten")})
	assert.ErrorIs(t, err, ErrAlreadyDelivered)

	got, err := svc.Get(ctx, "alice", msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", got.Message)
	assert.True(t, got.Delivered)
}

func TestDelete(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	msg, err := svc.Create(ctx, "alice", "bye", now.Add(time.Hour))
	require.NoError(t, err)

	_, err = svc.Delete(ctx, "mallory", msg.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Delivered messages may still be deleted.
	_, err = st.MarkVaultMessageDelivered(ctx, msg.ID, now)
	require.NoError(t, err)

	deleted, err := svc.Delete(ctx, "alice", msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, deleted.ID)

	_, err = svc.Get(ctx, "alice", msg.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListDelivered_MarksDueMessages(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	// Seed directly; Create refuses past delivery times.
	for i, at := range []time.Time{now.Add(-3 * time.Hour), now.Add(-time.Hour), now.Add(time.Hour)} {
		require.NoError(t, st.CreateVaultMessage(ctx, &store.VaultMessage{
			ID:        uuid.NewString(),
			OwnerID:   "alice",
			Message:   []string{"oldest", "recent", "future"}[i],
			DeliverAt: at,
			CreatedAt: now.Add(-24 * time.Hour),
			UpdatedAt: now.Add(-24 * time.Hour),
		}))
	}

	page, err := svc.ListDelivered(ctx, "alice", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, store.DefaultPageLimit, page.Limit)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "recent", page.Messages[0].Message, "newest first")
	for _, m := range page.Messages {
		assert.True(t, m.Delivered)
	}

	upcoming, err := svc.ListUpcoming(ctx, "alice", 1, 10)
	require.NoError(t, err)
	require.Len(t, upcoming.Messages, 1)
	assert.Equal(t, "future", upcoming.Messages[0].Message)
	assert.False(t, upcoming.Messages[0].Delivered)
}

func TestListUpcoming_Empty(t *testing.T) {
	svc, _ := setupService(t)

	page, err := svc.ListUpcoming(context.Background(), "nobody", 1, 10)
	require.NoError(t, err)
	assert.NotNil(t, page.Messages)
	assert.Empty(t, page.Messages)
	assert.Equal(t, 0, page.Total)
}
