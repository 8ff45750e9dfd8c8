package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// ArchiveReader returns archived auction records.
type ArchiveReader interface {
	Archived(ctx context.Context, itemID string) (domain.AuctionRecord, error)
}

// ArchiveHandler serves finalized auctions from cold storage.
type ArchiveHandler struct {
	archive ArchiveReader
	logger  *slog.Logger
}

func NewArchiveHandler(archive ArchiveReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archive: archive, logger: logger}
}

type archivedAuctionResponse struct {
	Item    itemView           `json:"item"`
	Outcome domain.SaleOutcome `json:"outcome"`
	Bids    []bidView          `json:"bids"`
}

// GetArchived returns the archived record with ceilings hidden.
// GET /api/items/{id}/archive
func (h *ArchiveHandler) GetArchived(w http.ResponseWriter, r *http.Request) {
	rec, err := h.archive.Archived(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get archived auction", err)
		return
	}
	writeJSON(w, http.StatusOK, archivedAuctionResponse{
		Item:    newItemView(rec.Item, decimal.Zero),
		Outcome: rec.Outcome,
		Bids:    newBidViews(rec.Bids),
	})
}
