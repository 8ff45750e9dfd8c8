package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bidengine/internal/domain"
	"github.com/alanyoungcy/bidengine/internal/service"
)

// ItemService is the subset of the bid service the item endpoints use.
type ItemService interface {
	RegisterItem(ctx context.Context, req service.RegisterItemRequest) (domain.Item, error)
	GetItem(ctx context.Context, itemID string) (domain.Item, error)
	MinimumNextBid(ctx context.Context, itemID string) (decimal.Decimal, error)
}

// Canceller withdraws an item before it closes.
type Canceller interface {
	CancelAuction(ctx context.Context, itemID string) (domain.Item, error)
}

// ItemHandler serves item listing endpoints.
type ItemHandler struct {
	items    ItemService
	closer   Canceller
	minimums func(decimal.Decimal) decimal.Decimal
	logger   *slog.Logger
}

// NewItemHandler creates an ItemHandler. minimumNext computes the next
// acceptable bid from a current price.
func NewItemHandler(items ItemService, closer Canceller, minimumNext func(decimal.Decimal) decimal.Decimal, logger *slog.Logger) *ItemHandler {
	return &ItemHandler{items: items, closer: closer, minimums: minimumNext, logger: logger}
}

type registerItemRequest struct {
	ID           string              `json:"id"`
	SellerID     string              `json:"seller_id"`
	Title        string              `json:"title"`
	StartPrice   decimal.Decimal     `json:"start_price"`
	ReservePrice decimal.NullDecimal `json:"reserve_price"`
	BuyNowPrice  decimal.NullDecimal `json:"buy_now_price"`
	StartTime    time.Time           `json:"start_time"`
	EndTime      time.Time           `json:"end_time"`
}

// RegisterItem lists a new item.
// POST /api/items
func (h *ItemHandler) RegisterItem(w http.ResponseWriter, r *http.Request) {
	var req registerItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.StartTime.IsZero() {
		req.StartTime = time.Now().UTC()
	}

	it, err := h.items.RegisterItem(r.Context(), service.RegisterItemRequest{
		ID:           req.ID,
		SellerID:     req.SellerID,
		Title:        req.Title,
		StartPrice:   req.StartPrice,
		ReservePrice: req.ReservePrice,
		BuyNowPrice:  req.BuyNowPrice,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "register item", err)
		return
	}
	writeJSON(w, http.StatusCreated, newItemView(it, h.minimums(it.CurrentPrice)))
}

// GetItem returns the public view of an item.
// GET /api/items/{id}
func (h *ItemHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	it, err := h.items.GetItem(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get item", err)
		return
	}
	writeJSON(w, http.StatusOK, newItemView(it, h.minimums(it.CurrentPrice)))
}

// MinimumBid returns the lowest acceptable next bid.
// GET /api/items/{id}/minimum-bid
func (h *ItemHandler) MinimumBid(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	minimum, err := h.items.MinimumNextBid(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "minimum bid", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"item_id":      id,
		"minimum_next": minimum,
	})
}

// CancelItem withdraws a pending or active item. No outcome is recorded.
// POST /api/items/{id}/cancel
func (h *ItemHandler) CancelItem(w http.ResponseWriter, r *http.Request) {
	it, err := h.closer.CancelAuction(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "cancel item", err)
		return
	}
	writeJSON(w, http.StatusOK, newItemView(it, h.minimums(it.CurrentPrice)))
}
