// Package handlers provides HTTP handlers for position lookups.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/tradelab/ledger/internal/domain"
	"github.com/tradelab/ledger/internal/modules/positions"
)

// PositionHandlers contains HTTP handlers for position records
type PositionHandlers struct {
	repo *positions.Repository
	log  zerolog.Logger
}

// NewPositionHandlers creates a new position handlers instance
func NewPositionHandlers(repo *positions.Repository, log zerolog.Logger) *PositionHandlers {
	return &PositionHandlers{
		repo: repo,
		log:  log.With().Str("handler", "positions").Logger(),
	}
}

// HandleGetPosition returns a position with its sale history
// GET /api/positions/{id}
func (h *PositionHandlers) HandleGetPosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	pos, err := h.repo.GetByID(id)
	if err != nil {
		if errors.Is(err, domain.ErrPositionNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		h.log.Error().Err(err).Str("position_id", id).Msg("Failed to load position")
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	respondJSON(w, http.StatusOK, pos)
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
