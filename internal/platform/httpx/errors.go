// Package httpx provides HTTP response utilities.
package httpx

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// StatusFor maps the error taxonomy onto stable HTTP status codes.
func StatusFor(err error) int {
	switch shared.KindOf(err) {
	case shared.KindValidation:
		return http.StatusBadRequest
	case shared.KindNotFound:
		return http.StatusNotFound
	case shared.KindInsufficientStock, shared.KindInvalidTransition, shared.KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// RespondError maps domain errors to HTTP responses using RFC7807. Errors
// that land on 500 are logged with full detail and reported generically.
func RespondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := StatusFor(err)
	kind := shared.KindOf(err)
	if status == http.StatusInternalServerError {
		kind = shared.KindStore
		if logger != nil {
			logger.Error("request failed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Any("error", err))
		}
	}
	if kind == shared.KindConflict {
		w.Header().Set("Retry-After", "1")
	}
	JSON(w, status, ProblemDetail{
		Title:  http.StatusText(status),
		Status: status,
		Kind:   string(kind),
		Detail: shared.UserSafeMessage(err),
	})
}
