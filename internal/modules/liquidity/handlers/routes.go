package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all pool routes
func (h *PoolHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/pools", func(r chi.Router) {
		r.Post("/", h.HandleCreatePool)
		r.Get("/{owner}/summary", h.HandleGetOwnerSummary)
		r.Get("/{owner}/{channel}", h.HandleGetPool)
		r.Put("/{owner}/{channel}/capital", h.HandleSetCapital)
		r.Post("/{owner}/{channel}/reconcile", h.HandleReconcile)
		r.Get("/{owner}/{channel}/summary", h.HandleGetSummary)
	})
}
