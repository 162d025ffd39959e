package sales

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Handler exposes the sale workflow over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

type saleListResponse struct {
	Data       []Sale            `json:"data"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSaleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	input := CreateInput{
		Discount:       Discount{Percent: req.DiscountPercent, Flat: req.DiscountFlat},
		PaymentMethod:  req.PaymentMethod,
		CustomerName:   req.CustomerName,
		Notes:          req.Notes,
		ActorID:        shared.ActorFromContext(r.Context()).ID,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, LineInput{ProductID: line.ProductID, Quantity: line.Quantity, UnitPrice: line.UnitPrice})
	}
	sale, err := h.service.Create(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sale)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, perPage := shared.PageFromQuery(q)
	filter := ListFilter{Status: Status(q.Get("status")), Limit: perPage, Offset: shared.NewPagination(page, perPage, 0).Offset()}
	if v := q.Get("date_from"); v != "" {
		from, err := time.Parse(time.DateOnly, v)
		if err != nil {
			httpx.RespondError(w, r, h.logger, shared.Validationf("invalid date_from %q", v))
			return
		}
		filter.From = from
	}
	if v := q.Get("date_to"); v != "" {
		to, err := time.Parse(time.DateOnly, v)
		if err != nil {
			httpx.RespondError(w, r, h.logger, shared.Validationf("invalid date_to %q", v))
			return
		}
		filter.To = to.AddDate(0, 0, 1)
	}
	sales, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if sales == nil {
		sales = []Sale{}
	}
	httpx.JSON(w, http.StatusOK, saleListResponse{Data: sales, Pagination: shared.NewPagination(page, perPage, total)})
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	sale, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var req CancelSaleRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, r, h.logger, err)
			return
		}
	}
	sale, err := h.service.Cancel(r.Context(), id, shared.ActorFromContext(r.Context()).ID, req.Reason)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}
