package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// BidLedger implements domain.BidLedger. The seq column orders bids.
type BidLedger struct {
	q querier
}

func (l *BidLedger) Append(ctx context.Context, b domain.Bid) error {
	const query = `
		INSERT INTO bids (id, item_id, bidder_id, amount, proxy_ceiling, resolved_as_leader, kind, placed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := l.q.Exec(ctx, query,
		b.ID, b.ItemID, b.BidderID, b.Amount, b.ProxyCeiling, b.ResolvedAsLeader, string(b.Kind), b.PlacedAt,
	)
	return classify("append bid "+b.ID, err)
}

func (l *BidLedger) ListByItem(ctx context.Context, itemID string) ([]domain.Bid, error) {
	const query = `
		SELECT id, item_id, bidder_id, amount, proxy_ceiling, resolved_as_leader, kind, placed_at
		FROM bids WHERE item_id = $1 ORDER BY seq ASC`
	rows, err := l.q.Query(ctx, query, itemID)
	if err != nil {
		return nil, classify("list bids "+itemID, err)
	}
	defer rows.Close()

	var bids []domain.Bid
	for rows.Next() {
		var b domain.Bid
		var kind string
		if err := rows.Scan(&b.ID, &b.ItemID, &b.BidderID, &b.Amount, &b.ProxyCeiling,
			&b.ResolvedAsLeader, &kind, &b.PlacedAt); err != nil {
			return nil, classify("scan bid", err)
		}
		b.Kind = domain.BidKind(kind)
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list bids "+itemID, err)
	}
	return bids, nil
}

func (l *BidLedger) ListBidders(ctx context.Context, itemID string) ([]string, error) {
	const query = `
		SELECT bidder_id FROM bids WHERE item_id = $1
		GROUP BY bidder_id ORDER BY MIN(seq) ASC`
	rows, err := l.q.Query(ctx, query, itemID)
	if err != nil {
		return nil, classify("list bidders "+itemID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify("scan bidder", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list bidders "+itemID, err)
	}
	return out, nil
}

// SaleLedger implements domain.SaleLedger.
type SaleLedger struct {
	q querier
}

const saleSelectCols = `item_id, seller_id, buyer_id, final_price, kind, source, closed_at, archived_at`

func scanSale(row interface{ Scan(dest ...any) error }) (domain.SaleOutcome, error) {
	var o domain.SaleOutcome
	var kind, source string
	if err := row.Scan(&o.ItemID, &o.SellerID, &o.BuyerID, &o.FinalPrice, &kind, &source,
		&o.ClosedAt, &o.ArchivedAt); err != nil {
		return domain.SaleOutcome{}, err
	}
	o.Kind = domain.SaleKind(kind)
	o.Source = domain.SaleSource(source)
	return o, nil
}

// Record inserts the outcome; the item_id primary key enforces once-only.
func (l *SaleLedger) Record(ctx context.Context, o domain.SaleOutcome) error {
	const query = `
		INSERT INTO sale_outcomes (item_id, seller_id, buyer_id, final_price, kind, source, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := l.q.Exec(ctx, query,
		o.ItemID, o.SellerID, o.BuyerID, o.FinalPrice, string(o.Kind), string(o.Source), o.ClosedAt,
	)
	return classify("record sale "+o.ItemID, err)
}

func (l *SaleLedger) GetByItem(ctx context.Context, itemID string) (domain.SaleOutcome, error) {
	o, err := scanSale(l.q.QueryRow(ctx,
		`SELECT `+saleSelectCols+` FROM sale_outcomes WHERE item_id = $1`, itemID))
	if err != nil {
		return domain.SaleOutcome{}, classify("get sale "+itemID, err)
	}
	return o, nil
}

func (l *SaleLedger) ListUnarchived(ctx context.Context, limit int) ([]domain.SaleOutcome, error) {
	query := `SELECT ` + saleSelectCols + ` FROM sale_outcomes
		WHERE archived_at IS NULL ORDER BY closed_at ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := l.q.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list unarchived sales", err)
	}
	defer rows.Close()

	var out []domain.SaleOutcome
	for rows.Next() {
		o, err := scanSale(rows)
		if err != nil {
			return nil, classify("scan sale", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list unarchived sales", err)
	}
	return out, nil
}

func (l *SaleLedger) MarkArchived(ctx context.Context, itemID string, at time.Time) error {
	tag, err := l.q.Exec(ctx, `UPDATE sale_outcomes SET archived_at = $2 WHERE item_id = $1`, itemID, at)
	if err != nil {
		return classify("mark archived "+itemID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark archived %s: %w", itemID, domain.ErrNotFound)
	}
	return nil
}

var (
	_ domain.BidLedger  = (*BidLedger)(nil)
	_ domain.SaleLedger = (*SaleLedger)(nil)
)
