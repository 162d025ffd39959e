package ledger

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers product routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/{id}", h.Show)
	r.Get("/{id}/adjustments", h.Adjustments)
	r.Get("/{id}/reconcile", h.Reconcile)
}
