package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// AuctionCloser finalizes due auctions on demand.
type AuctionCloser interface {
	CloseDueAuctions(ctx context.Context, now time.Time) ([]domain.SaleOutcome, error)
}

// AuctionHandler exposes the closing pass for operators.
type AuctionHandler struct {
	closer AuctionCloser
	now    func() time.Time
	logger *slog.Logger
}

func NewAuctionHandler(closer AuctionCloser, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{
		closer: closer,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

type closeResponse struct {
	Closed   int                  `json:"closed"`
	Outcomes []domain.SaleOutcome `json:"outcomes"`
	RanAt    time.Time            `json:"ran_at"`
}

// CloseDue runs one closing pass synchronously. Safe to call alongside the
// background closer; each item is finalized once.
// POST /api/auctions/close
func (h *AuctionHandler) CloseDue(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	h.logger.InfoContext(r.Context(), "handler: close pass requested")

	outcomes, err := h.closer.CloseDueAuctions(r.Context(), now)
	if err != nil {
		writeServiceError(w, r, h.logger, "close auctions", err)
		return
	}
	if outcomes == nil {
		outcomes = []domain.SaleOutcome{}
	}
	writeJSON(w, http.StatusOK, closeResponse{Closed: len(outcomes), Outcomes: outcomes, RanAt: now})
}
