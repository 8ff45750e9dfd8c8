package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// OutboxStore implements domain.NotificationOutbox. Payloads are stored as
// JSONB and decoded by kind on read.
type OutboxStore struct {
	q querier
}

const outboxSelectCols = `id, user_id, item_id, kind, payload, message, link,
	attempts, last_error, dispatched_at, created_at`

func scanNotification(row interface{ Scan(dest ...any) error }) (domain.Notification, error) {
	var n domain.Notification
	var kind string
	var payload []byte
	if err := row.Scan(&n.ID, &n.UserID, &n.ItemID, &kind, &payload, &n.Message, &n.Link,
		&n.Attempts, &n.LastError, &n.DispatchedAt, &n.CreatedAt); err != nil {
		return domain.Notification{}, err
	}
	n.Kind = domain.NotificationKind(kind)
	p, err := domain.DecodePayload(n.Kind, payload)
	if err != nil {
		return domain.Notification{}, err
	}
	n.Payload = p
	return n, nil
}

// Enqueue inserts notifications in one batch. Re-enqueueing an ID is a no-op.
func (s *OutboxStore) Enqueue(ctx context.Context, notifications ...domain.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	const query = `
		INSERT INTO notification_outbox (id, user_id, item_id, kind, payload, message, link, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, n := range notifications {
		payload, err := json.Marshal(n.Payload)
		if err != nil {
			return fmt.Errorf("postgres: marshal %s payload: %w", n.Kind, err)
		}
		batch.Queue(query, n.ID, n.UserID, n.ItemID, string(n.Kind), payload, n.Message, n.Link, n.CreatedAt)
	}

	br := s.q.SendBatch(ctx, batch)
	defer br.Close()
	for range notifications {
		if _, err := br.Exec(); err != nil {
			return classify("enqueue notification", err)
		}
	}
	return nil
}

func (s *OutboxStore) list(ctx context.Context, op, query string, args ...any) ([]domain.Notification, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

func (s *OutboxStore) ListPending(ctx context.Context, limit, maxAttempts int) ([]domain.Notification, error) {
	query := `SELECT ` + outboxSelectCols + ` FROM notification_outbox WHERE dispatched_at IS NULL`
	var args []any
	if maxAttempts > 0 {
		args = append(args, maxAttempts)
		query += fmt.Sprintf(" AND attempts < $%d", len(args))
	}
	query += " ORDER BY created_at ASC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return s.list(ctx, "list pending notifications", query, args...)
}

func (s *OutboxStore) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx, "mark dispatched "+id,
		`UPDATE notification_outbox SET dispatched_at = $2, last_error = '' WHERE id = $1`, id, at)
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id string, reason string) error {
	return s.exec(ctx, "mark failed "+id,
		`UPDATE notification_outbox SET attempts = attempts + 1, last_error = $2 WHERE id = $1`, id, reason)
}

func (s *OutboxStore) exec(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.q.Exec(ctx, query, args...)
	if err != nil {
		return classify(op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: %s: %w", op, domain.ErrNotFound)
	}
	return nil
}

func (s *OutboxStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Notification, error) {
	query, args := withListOpts(
		`SELECT `+outboxSelectCols+` FROM notification_outbox WHERE user_id = $1`,
		[]any{userID}, opts,
	)
	return s.list(ctx, "list notifications "+userID, query, args...)
}

var _ domain.NotificationOutbox = (*OutboxStore)(nil)
