// Package handlers provides HTTP handlers for the liquidity pool API.
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
)

// PoolHandlers contains HTTP handlers for the pool API
type PoolHandlers struct {
	service *liquidity.Service
	log     zerolog.Logger
}

// NewPoolHandlers creates a new pool handlers instance
func NewPoolHandlers(service *liquidity.Service, log zerolog.Logger) *PoolHandlers {
	return &PoolHandlers{
		service: service,
		log:     log.With().Str("handler", "liquidity").Logger(),
	}
}

// HandleCreatePool initializes a pool for (owner, channel)
// POST /api/pools
func (h *PoolHandlers) HandleCreatePool(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner          string          `json:"owner"`
		Channel        string          `json:"channel"`
		InitialCapital decimal.Decimal `json:"initial_capital"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Owner == "" {
		respondError(w, http.StatusBadRequest, "owner is required")
		return
	}

	pool, err := h.service.CreatePool(req.Owner, domain.Channel(req.Channel), req.InitialCapital)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, pool)
}

// HandleGetPool returns the full pool state
// GET /api/pools/{owner}/{channel}
func (h *PoolHandlers) HandleGetPool(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	channel := domain.Channel(chi.URLParam(r, "channel"))

	pool, err := h.service.GetPool(owner, channel)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, pool)
}

// HandleSetCapital applies an admin top-up/edit of the base capital
// PUT /api/pools/{owner}/{channel}/capital
func (h *PoolHandlers) HandleSetCapital(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	channel := domain.Channel(chi.URLParam(r, "channel"))

	var req struct {
		InitialCapital decimal.Decimal `json:"initial_capital"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pool, err := h.service.SetInitialCapital(owner, channel, req.InitialCapital)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, pool)
}

// HandleReconcile forces a recomputation of the pool's derived fields
// POST /api/pools/{owner}/{channel}/reconcile
func (h *PoolHandlers) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	channel := domain.Channel(chi.URLParam(r, "channel"))

	pool, err := h.service.Reconcile(owner, channel)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, pool)
}

// HandleGetSummary returns the single-channel display projection
// GET /api/pools/{owner}/{channel}/summary
func (h *PoolHandlers) HandleGetSummary(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	channel := domain.Channel(chi.URLParam(r, "channel"))

	summary, err := h.service.GetSummary(owner, channel)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

// HandleGetOwnerSummary aggregates the owner's pools across all channels
// GET /api/pools/{owner}/summary
func (h *PoolHandlers) HandleGetOwnerSummary(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	summary, err := h.service.GetOwnerSummary(owner)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

// respondServiceError maps domain errors to HTTP status codes
func (h *PoolHandlers) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrPoolNotFound),
		errors.Is(err, domain.ErrDistributionNotFound),
		errors.Is(err, domain.ErrPositionNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInsufficientTotalCapital),
		errors.Is(err, domain.ErrInsufficientShares),
		errors.Is(err, domain.ErrPoolExists):
		respondError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error().Err(err).Msg("Pool operation failed")
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
