package returns

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers exchange and return routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/stats", h.Stats)
	r.Get("/{id}", h.Show)
	r.Post("/{id}/status", h.UpdateStatus)
	r.Patch("/{id}", h.UpdateFields)
	r.Delete("/{id}", h.Delete)
}
