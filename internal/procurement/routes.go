package procurement

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers purchase order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/{id}", h.Show)
	r.Post("/", h.Create)
	r.Post("/{id}/status", h.UpdateStatus)
	r.Post("/{id}/receive", h.Receive)
	r.Post("/{id}/payment-status", h.UpdatePaymentStatus)
	r.Delete("/{id}", h.Delete)
}
