package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// ArchiveService copies finalized auctions to cold storage and marks them
// archived in the sale ledger.
type ArchiveService struct {
	store     domain.Store
	archiver  domain.Archiver
	interval  time.Duration
	batchSize int
	now       func() time.Time
	logger    *slog.Logger
}

// NewArchiveService creates an ArchiveService.
func NewArchiveService(
	store domain.Store,
	archiver domain.Archiver,
	interval time.Duration,
	batchSize int,
	logger *slog.Logger,
) *ArchiveService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &ArchiveService{
		store:     store,
		archiver:  archiver,
		interval:  interval,
		batchSize: batchSize,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "archive_service")),
	}
}

// Run archives on every tick until ctx is done.
func (a *ArchiveService) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.RunOnce(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce archives one batch of outcomes and returns how many were written.
func (a *ArchiveService) RunOnce(ctx context.Context) (int, error) {
	outcomes, err := a.store.Sales().ListUnarchived(ctx, a.batchSize)
	if err != nil {
		return 0, fmt.Errorf("archive_service: list unarchived: %w", err)
	}

	archived := 0
	for _, o := range outcomes {
		if ctx.Err() != nil {
			break
		}
		path, err := a.archiveOne(ctx, o)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive auction failed",
				slog.String("item_id", o.ItemID),
				slog.String("error", err.Error()),
			)
			continue
		}
		archived++
		a.logger.InfoContext(ctx, "auction archived",
			slog.String("item_id", o.ItemID),
			slog.String("path", path),
		)
	}
	return archived, nil
}

// Archived returns the cold-storage record for itemID. Items that are not
// finalized, or not yet archived, yield domain.ErrNotFound.
func (a *ArchiveService) Archived(ctx context.Context, itemID string) (domain.AuctionRecord, error) {
	sale, err := a.store.Sales().GetByItem(ctx, itemID)
	if err != nil {
		return domain.AuctionRecord{}, fmt.Errorf("archive_service: archived %s: %w", itemID, err)
	}
	if sale.ArchivedAt == nil {
		return domain.AuctionRecord{}, fmt.Errorf("archive_service: %s not archived yet: %w", itemID, domain.ErrNotFound)
	}
	rec, err := a.archiver.LoadAuction(ctx, itemID, sale.ClosedAt)
	if err != nil {
		return domain.AuctionRecord{}, fmt.Errorf("archive_service: archived %s: %w", itemID, err)
	}
	return rec, nil
}

func (a *ArchiveService) archiveOne(ctx context.Context, o domain.SaleOutcome) (string, error) {
	it, err := a.store.Items().GetByID(ctx, o.ItemID)
	if err != nil {
		return "", err
	}
	bids, err := a.store.Bids().ListByItem(ctx, o.ItemID)
	if err != nil {
		return "", err
	}
	path, err := a.archiver.ArchiveAuction(ctx, domain.AuctionRecord{Item: it, Outcome: o, Bids: bids})
	if err != nil {
		return "", err
	}
	if err := a.store.Sales().MarkArchived(ctx, o.ItemID, a.now()); err != nil {
		return "", err
	}
	return path, nil
}
