package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// ItemStore implements domain.ItemStore using PostgreSQL.
type ItemStore struct {
	q        querier
	lockRows bool
}

const itemSelectCols = `id, seller_id, title, start_price, reserve_price, buy_now_price,
	start_time, end_time, current_price, leader_id, leader_ceiling, status,
	extension_count, version, created_at, updated_at`

func scanItem(row interface{ Scan(dest ...any) error }) (domain.Item, error) {
	var it domain.Item
	var status string
	err := row.Scan(
		&it.ID, &it.SellerID, &it.Title,
		&it.StartPrice, &it.ReservePrice, &it.BuyNowPrice,
		&it.StartTime, &it.EndTime,
		&it.CurrentPrice, &it.LeaderID, &it.LeaderCeiling, &status,
		&it.ExtensionCount, &it.Version, &it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		return domain.Item{}, err
	}
	it.Status = domain.ItemStatus(status)
	return it, nil
}

// Create inserts a new item.
func (s *ItemStore) Create(ctx context.Context, it domain.Item) error {
	const query = `
		INSERT INTO items (
			id, seller_id, title, start_price, reserve_price, buy_now_price,
			start_time, end_time, current_price, leader_id, leader_ceiling, status,
			extension_count, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := s.q.Exec(ctx, query,
		it.ID, it.SellerID, it.Title, it.StartPrice, it.ReservePrice, it.BuyNowPrice,
		it.StartTime, it.EndTime, it.CurrentPrice, it.LeaderID, it.LeaderCeiling, string(it.Status),
		it.ExtensionCount, it.Version, it.CreatedAt, it.UpdatedAt,
	)
	return classify("create item "+it.ID, err)
}

// GetByID reads one item. Inside a transaction the row is locked until
// commit.
func (s *ItemStore) GetByID(ctx context.Context, id string) (domain.Item, error) {
	query := `SELECT ` + itemSelectCols + ` FROM items WHERE id = $1`
	if s.lockRows {
		query += ` FOR UPDATE`
	}
	it, err := scanItem(s.q.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Item{}, classify("get item "+id, err)
	}
	return it, nil
}

// Update writes the mutable columns when the stored version matches.
func (s *ItemStore) Update(ctx context.Context, it domain.Item) (domain.Item, error) {
	const query = `
		UPDATE items SET
			current_price = $3, leader_id = $4, leader_ceiling = $5, status = $6,
			end_time = $7, extension_count = $8, updated_at = $9,
			version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version`

	updatedAt := it.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	var version int64
	err := s.q.QueryRow(ctx, query,
		it.ID, it.Version,
		it.CurrentPrice, it.LeaderID, it.LeaderCeiling, string(it.Status),
		it.EndTime, it.ExtensionCount, updatedAt,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := s.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM items WHERE id = $1)`, it.ID).Scan(&exists); err != nil {
			return domain.Item{}, classify("update item "+it.ID, err)
		}
		if !exists {
			return domain.Item{}, fmt.Errorf("postgres: update item %s: %w", it.ID, domain.ErrNotFound)
		}
		return domain.Item{}, fmt.Errorf("postgres: update item %s: %w", it.ID, domain.ErrConflict)
	}
	if err != nil {
		return domain.Item{}, classify("update item "+it.ID, err)
	}
	it.Version = version
	it.UpdatedAt = updatedAt
	return it, nil
}

func (s *ItemStore) list(ctx context.Context, op, query string, args ...any) ([]domain.Item, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return items, nil
}

// ListDue returns active items that have reached their end time.
func (s *ItemStore) ListDue(ctx context.Context, now time.Time, after domain.Cursor, limit int) ([]domain.Item, error) {
	return s.listAfter(ctx, "list due items", "active", "end_time", now, after, limit)
}

// ListPendingStart returns pending items whose start time has passed.
func (s *ItemStore) ListPendingStart(ctx context.Context, now time.Time, after domain.Cursor, limit int) ([]domain.Item, error) {
	return s.listAfter(ctx, "list pending items", "pending", "start_time", now, after, limit)
}

// listAfter pages items in status whose timeCol is at or before now, keyed on
// (timeCol, id) so rows behind a stuck one are still reached.
func (s *ItemStore) listAfter(
	ctx context.Context,
	op, status, timeCol string,
	now time.Time,
	after domain.Cursor,
	limit int,
) ([]domain.Item, error) {
	query := `SELECT ` + itemSelectCols + ` FROM items
		WHERE status = $1 AND ` + timeCol + ` <= $2`
	args := []any{status, now}
	if !after.IsZero() {
		query += fmt.Sprintf(` AND (%s, id) > ($3, $4)`, timeCol)
		args = append(args, after.At, after.ID)
	}
	query += ` ORDER BY ` + timeCol + ` ASC, id ASC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}
	return s.list(ctx, op, query, args...)
}

var _ domain.ItemStore = (*ItemStore)(nil)
