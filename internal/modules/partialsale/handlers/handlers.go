// Package handlers provides HTTP handlers for allocation and sale workflows.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tradelab/ledger/internal/domain"
	"github.com/tradelab/ledger/internal/modules/liquidity"
	"github.com/tradelab/ledger/internal/modules/partialsale"
)

// SaleHandlers contains HTTP handlers for the orchestrated workflows
type SaleHandlers struct {
	service *partialsale.Service
	pools   *liquidity.Service
	log     zerolog.Logger
}

// NewSaleHandlers creates a new sale handlers instance
func NewSaleHandlers(service *partialsale.Service, pools *liquidity.Service, log zerolog.Logger) *SaleHandlers {
	return &SaleHandlers{
		service: service,
		pools:   pools,
		log:     log.With().Str("handler", "partialsale").Logger(),
	}
}

// HandleAllocate commits pool capital to a position and mirrors the
// allocation onto the position record
// POST /api/allocations
func (h *SaleHandlers) HandleAllocate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner      string          `json:"owner"`
		Channel    string          `json:"channel"`
		PositionID string          `json:"position_id"`
		Symbol     string          `json:"symbol"`
		Percentage decimal.Decimal `json:"percentage"`
		Amount     decimal.Decimal `json:"amount"`
		EntryPrice decimal.Decimal `json:"entry_price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Owner == "" || req.Symbol == "" {
		respondError(w, http.StatusBadRequest, "owner and symbol are required")
		return
	}

	result, err := h.service.Allocate(partialsale.AllocateRequest{
		Owner:      req.Owner,
		Channel:    domain.Channel(req.Channel),
		PositionID: req.PositionID,
		Symbol:     req.Symbol,
		Percentage: req.Percentage,
		Amount:     req.Amount,
		EntryPrice: req.EntryPrice,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, result)
}

// HandleSell liquidates an explicit share count at a price
// POST /api/allocations/sell
func (h *SaleHandlers) HandleSell(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner      string          `json:"owner"`
		Channel    string          `json:"channel"`
		PositionID string          `json:"position_id"`
		Shares     decimal.Decimal `json:"shares"`
		Price      decimal.Decimal `json:"price"`
		Executor   string          `json:"executor"`
		Note       string          `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	outcome, err := h.service.ExecuteSale(partialsale.SaleRequest{
		Owner:      req.Owner,
		Channel:    domain.Channel(req.Channel),
		PositionID: req.PositionID,
		Shares:     req.Shares,
		Price:      req.Price,
		Executor:   req.Executor,
		Note:       req.Note,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, outcome)
}

// HandleMarkPrice records the latest market price for an active allocation
// POST /api/allocations/price
func (h *SaleHandlers) HandleMarkPrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner        string          `json:"owner"`
		Channel      string          `json:"channel"`
		PositionID   string          `json:"position_id"`
		CurrentPrice decimal.Decimal `json:"current_price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.pools.MarkPrice(req.Owner, domain.Channel(req.Channel), req.PositionID, req.CurrentPrice); err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "marked"})
}

// HandlePartialSale runs the percentage-based partial-sale workflow
// POST /api/partial-sales
func (h *SaleHandlers) HandlePartialSale(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner      string          `json:"owner"`
		Channel    string          `json:"channel"`
		PositionID string          `json:"position_id"`
		Percentage decimal.Decimal `json:"percentage"`
		Price      decimal.Decimal `json:"price"`
		PriceLow   decimal.Decimal `json:"price_low"`
		PriceHigh  decimal.Decimal `json:"price_high"`
		Executor   string          `json:"executor"`
		Note       string          `json:"note"`
		ImageRef   string          `json:"image_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	outcome, err := h.service.ExecuteSale(partialsale.SaleRequest{
		Owner:      req.Owner,
		Channel:    domain.Channel(req.Channel),
		PositionID: req.PositionID,
		Percentage: req.Percentage,
		Price:      req.Price,
		PriceLow:   req.PriceLow,
		PriceHigh:  req.PriceHigh,
		Executor:   req.Executor,
		Note:       req.Note,
		ImageRef:   req.ImageRef,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, outcome)
}

// HandleRemove deletes a position's distribution and clears the mirror
// DELETE /api/allocations/{owner}/{channel}/{positionID}
func (h *SaleHandlers) HandleRemove(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	channel := domain.Channel(chi.URLParam(r, "channel"))
	positionID := chi.URLParam(r, "positionID")

	if err := h.service.Remove(owner, channel, positionID); err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "removed"})
}

// respondServiceError maps domain errors to HTTP status codes
func (h *SaleHandlers) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrPoolNotFound),
		errors.Is(err, domain.ErrDistributionNotFound),
		errors.Is(err, domain.ErrPositionNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInsufficientTotalCapital),
		errors.Is(err, domain.ErrInsufficientShares):
		respondError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error().Err(err).Msg("Sale workflow failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError writes a JSON error response
func respondError(w http.ResponseWriter, status int, reason string) {
	respondJSON(w, status, map[string]string{"error": reason})
}
