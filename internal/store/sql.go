// ABOUTME: Vault message queries shared by the SQLite and Postgres stores
// ABOUTME: A small dialect layer handles placeholders and timestamp encoding

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// timestampLayout is fixed-width so TEXT timestamps compare correctly in SQLite.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// dialect captures the few places where SQLite and Postgres differ.
type dialect struct {
	name       string
	numbered   bool // $1, $2 placeholders instead of ?
	encodeTime func(time.Time) any
}

var sqliteDialect = dialect{
	name: "sqlite",
	encodeTime: func(t time.Time) any {
		return t.UTC().Format(timestampLayout)
	},
}

var postgresDialect = dialect{
	name:     "postgres",
	numbered: true,
	encodeTime: func(t time.Time) any {
		return t.UTC()
	},
}

// rebind rewrites ? placeholders for dialects that number their parameters.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// dbTime scans both native timestamps and the TEXT encoding used by SQLite.
type dbTime struct {
	Time  time.Time
	Valid bool
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (t *dbTime) parse(s string) error {
	parsed, err := time.Parse(timestampLayout, s)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parsing timestamp %q: %w", s, err)
		}
	}
	t.Time, t.Valid = parsed.UTC(), true
	return nil
}

// sqlStore implements Store over database/sql for any supported dialect.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

const vaultColumns = `id, owner_id, message, deliver_at, delivered, delivered_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVaultMessage(row rowScanner) (*VaultMessage, error) {
	var msg VaultMessage
	var deliverAt, deliveredAt, createdAt, updatedAt dbTime

	if err := row.Scan(
		&msg.ID,
		&msg.OwnerID,
		&msg.Message,
		&deliverAt,
		&msg.Delivered,
		&deliveredAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	msg.DeliverAt = deliverAt.Time
	msg.CreatedAt = createdAt.Time
	msg.UpdatedAt = updatedAt.Time
	if deliveredAt.Valid {
		t := deliveredAt.Time
		msg.DeliveredAt = &t
	}
	return &msg, nil
}

func (s *sqlStore) queryMessages(ctx context.Context, query string, args ...any) ([]*VaultMessage, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying vault messages: %w", err)
	}
	defer rows.Close()

	var messages []*VaultMessage
	for rows.Next() {
		msg, err := scanVaultMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning vault message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vault message rows: %w", err)
	}
	return messages, nil
}

// CreateVaultMessage inserts a new message.
func (s *sqlStore) CreateVaultMessage(ctx context.Context, msg *VaultMessage) error {
	query := `
		INSERT INTO vault_messages (` + vaultColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	var deliveredAt any
	if msg.DeliveredAt != nil {
		deliveredAt = s.dialect.encodeTime(*msg.DeliveredAt)
	}

	_, err := s.db.ExecContext(ctx, s.dialect.rebind(query),
		msg.ID,
		msg.OwnerID,
		msg.Message,
		s.dialect.encodeTime(msg.DeliverAt),
		msg.Delivered,
		deliveredAt,
		s.dialect.encodeTime(msg.CreatedAt),
		s.dialect.encodeTime(msg.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting vault message: %w", err)
	}

	s.logger.Debug("created vault message", "id", msg.ID, "owner_id", msg.OwnerID, "deliver_at", msg.DeliverAt)
	return nil
}

// GetVaultMessage retrieves a message by ID.
// Returns ErrNotFound if the message doesn't exist.
func (s *sqlStore) GetVaultMessage(ctx context.Context, id string) (*VaultMessage, error) {
	query := `SELECT ` + vaultColumns + ` FROM vault_messages WHERE id = ?`

	msg, err := scanVaultMessage(s.db.QueryRowContext(ctx, s.dialect.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying vault message: %w", err)
	}
	return msg, nil
}

// ListVaultMessages returns one page of an owner's messages.
func (s *sqlStore) ListVaultMessages(ctx context.Context, filter VaultFilter) (*VaultPage, error) {
	f := filter.normalize()

	where := `owner_id = ?`
	args := []any{f.OwnerID}
	order := `created_at DESC`

	switch f.Status {
	case VaultStatusUpcoming:
		where += ` AND deliver_at > ?`
		args = append(args, s.dialect.encodeTime(f.Now))
		order = `deliver_at ASC`
	case VaultStatusDelivered:
		where += ` AND deliver_at <= ?`
		args = append(args, s.dialect.encodeTime(f.Now))
		order = `deliver_at DESC`
	case VaultStatusAll:
	default:
		return nil, fmt.Errorf("unknown vault status %q", f.Status)
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM vault_messages WHERE ` + where
	if err := s.db.QueryRowContext(ctx, s.dialect.rebind(countQuery), args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting vault messages: %w", err)
	}

	listQuery := `SELECT ` + vaultColumns + ` FROM vault_messages WHERE ` + where +
		` ORDER BY ` + order + ` LIMIT ? OFFSET ?`
	messages, err := s.queryMessages(ctx, listQuery, append(args, f.Limit, f.offset())...)
	if err != nil {
		return nil, err
	}

	return &VaultPage{
		Messages: messages,
		Total:    total,
		Page:     f.Page,
		Limit:    f.Limit,
	}, nil
}

// ListDueVaultMessages returns undelivered messages whose delivery instant has
// passed, oldest first. Served by the (delivered, deliver_at) index.
func (s *sqlStore) ListDueVaultMessages(ctx context.Context, now time.Time, limit int) ([]*VaultMessage, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `
		SELECT ` + vaultColumns + `
		FROM vault_messages
		WHERE delivered = FALSE AND deliver_at <= ?
		ORDER BY deliver_at ASC
		LIMIT ?
	`
	return s.queryMessages(ctx, query, s.dialect.encodeTime(now), limit)
}

// MarkVaultMessageDelivered flips delivered to true if it is still false.
// Returns false without error when the message was already delivered or is gone.
func (s *sqlStore) MarkVaultMessageDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `
		UPDATE vault_messages
		SET delivered = TRUE, delivered_at = ?, updated_at = ?
		WHERE id = ? AND delivered = FALSE
	`

	result, err := s.db.ExecContext(ctx, s.dialect.rebind(query),
		s.dialect.encodeTime(at),
		s.dialect.encodeTime(at),
		id,
	)
	if err != nil {
		return false, fmt.Errorf("marking vault message delivered: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// MarkOwnerDueDelivered transitions all of an owner's due messages at once.
func (s *sqlStore) MarkOwnerDueDelivered(ctx context.Context, ownerID string, now time.Time) (int, error) {
	query := `
		UPDATE vault_messages
		SET delivered = TRUE, delivered_at = ?, updated_at = ?
		WHERE owner_id = ? AND delivered = FALSE AND deliver_at <= ?
	`

	result, err := s.db.ExecContext(ctx, s.dialect.rebind(query),
		s.dialect.encodeTime(now),
		s.dialect.encodeTime(now),
		ownerID,
		s.dialect.encodeTime(now),
	)
	if err != nil {
		return 0, fmt.Errorf("marking owner messages delivered: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected > 0 {
		s.logger.Debug("marked due messages delivered on fetch", "owner_id", ownerID, "count", rowsAffected)
	}
	return int(rowsAffected), nil
}

// UpdateVaultMessage applies patch to an undelivered message and returns the result.
func (s *sqlStore) UpdateVaultMessage(ctx context.Context, id string, patch VaultPatch, updatedAt time.Time) (*VaultMessage, error) {
	var message, deliverAt any
	if patch.Message != nil {
		message = *patch.Message
	}
	if patch.DeliverAt != nil {
		deliverAt = s.dialect.encodeTime(*patch.DeliverAt)
	}

	query := `
		UPDATE vault_messages
		SET message = COALESCE(?, message),
		    deliver_at = COALESCE(?, deliver_at),
		    updated_at = ?
		WHERE id = ? AND delivered = FALSE
	`

	result, err := s.db.ExecContext(ctx, s.dialect.rebind(query),
		message,
		deliverAt,
		s.dialect.encodeTime(updatedAt),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating vault message: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}

	current, err := s.GetVaultMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 && current.Delivered {
		return nil, ErrAlreadyDelivered
	}

	s.logger.Debug("updated vault message", "id", id)
	return current, nil
}

// DeleteVaultMessage removes a message and returns what was deleted.
// Returns ErrNotFound if the message doesn't exist.
func (s *sqlStore) DeleteVaultMessage(ctx context.Context, id string) (*VaultMessage, error) {
	msg, err := s.GetVaultMessage(ctx, id)
	if err != nil {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx, s.dialect.rebind(`DELETE FROM vault_messages WHERE id = ?`), id)
	if err != nil {
		return nil, fmt.Errorf("deleting vault message: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrNotFound
	}

	s.logger.Debug("deleted vault message", "id", id)
	return msg, nil
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	s.logger.Info("closing store", "driver", s.dialect.name)
	return s.db.Close()
}
