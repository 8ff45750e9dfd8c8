package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bidengine/internal/domain"
	"github.com/alanyoungcy/bidengine/internal/service"
)

// BidService is the subset of the bid service the bid endpoints use.
type BidService interface {
	PlaceBid(ctx context.Context, req service.PlaceBidRequest) (domain.BidResult, error)
	BuyNow(ctx context.Context, itemID, buyerID string) (domain.SaleOutcome, error)
	BidHistory(ctx context.Context, itemID string) ([]domain.Bid, error)
}

// BidHandler serves bidding endpoints.
type BidHandler struct {
	bids   BidService
	logger *slog.Logger
}

func NewBidHandler(bids BidService, logger *slog.Logger) *BidHandler {
	return &BidHandler{bids: bids, logger: logger}
}

type placeBidRequest struct {
	BidderID     string              `json:"bidder_id"`
	Amount       decimal.Decimal     `json:"amount"`
	ProxyCeiling decimal.NullDecimal `json:"proxy_ceiling"`
}

// PlaceBid submits a bid, optionally with a proxy ceiling.
// POST /api/items/{id}/bids
func (h *BidHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	var req placeBidRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.BidderID == "" {
		writeError(w, http.StatusBadRequest, "bidder_id is required")
		return
	}

	res, err := h.bids.PlaceBid(r.Context(), service.PlaceBidRequest{
		ItemID:       pathParam(r, "id"),
		BidderID:     req.BidderID,
		Amount:       req.Amount,
		ProxyCeiling: req.ProxyCeiling,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "place bid", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type listBidsResponse struct {
	ItemID string    `json:"item_id"`
	Bids   []bidView `json:"bids"`
}

// ListBids returns the bid history in placement order.
// GET /api/items/{id}/bids
func (h *BidHandler) ListBids(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	bids, err := h.bids.BidHistory(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "list bids", err)
		return
	}
	writeJSON(w, http.StatusOK, listBidsResponse{ItemID: id, Bids: newBidViews(bids)})
}

type buyNowRequest struct {
	BuyerID string `json:"buyer_id"`
}

// BuyNow purchases the item at its buy-now price and closes it.
// POST /api/items/{id}/buy-now
func (h *BidHandler) BuyNow(w http.ResponseWriter, r *http.Request) {
	var req buyNowRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.BuyerID == "" {
		writeError(w, http.StatusBadRequest, "buyer_id is required")
		return
	}

	out, err := h.bids.BuyNow(r.Context(), pathParam(r, "id"), req.BuyerID)
	if err != nil {
		writeServiceError(w, r, h.logger, "buy now", err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}
