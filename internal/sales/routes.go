package sales

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers sale routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Show)
	r.Post("/{id}/cancel", h.Cancel)
}
