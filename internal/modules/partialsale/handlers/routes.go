package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers allocation and sale workflow routes
func (h *SaleHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/allocations", func(r chi.Router) {
		r.Post("/", h.HandleAllocate)
		r.Post("/sell", h.HandleSell)
		r.Post("/price", h.HandleMarkPrice)
		r.Delete("/{owner}/{channel}/{positionID}", h.HandleRemove)
	})

	r.Post("/partial-sales", h.HandlePartialSale)
}
