package returns

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Handler exposes exchanges and returns over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

type listResponse struct {
	Data       []ExchangeReturn  `json:"data"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateReturnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	input := CreateInput{
		Type:         Type(req.Type),
		SaleID:       req.SaleID,
		Status:       Status(req.Status),
		RefundAmount: req.RefundAmount,
		RefundMethod: req.RefundMethod,
		Notes:        req.Notes,
		ActorID:      shared.ActorFromContext(r.Context()).ID,
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, ItemInput{
			ProductID:            item.ProductID,
			Quantity:             item.Quantity,
			Reason:               item.Reason,
			ReplacementProductID: item.ReplacementProductID,
			ReplacementQuantity:  item.ReplacementQuantity,
		})
	}
	er, err := h.service.Create(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, er)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, perPage := shared.PageFromQuery(q)
	filter := ListFilter{
		Status: Status(q.Get("status")),
		Type:   Type(q.Get("type")),
		Limit:  perPage,
		Offset: shared.NewPagination(page, perPage, 0).Offset(),
	}
	if raw := q.Get("sale_id"); raw != "" {
		saleID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || saleID <= 0 {
			httpx.RespondError(w, r, h.logger, shared.Validationf("invalid sale_id %q", raw))
			return
		}
		filter.SaleID = saleID
	}
	items, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if items == nil {
		items = []ExchangeReturn{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Data: items, Pagination: shared.NewPagination(page, perPage, total)})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	er, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, er)
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var req UpdateStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	er, err := h.service.UpdateStatus(r.Context(), id, shared.ActorFromContext(r.Context()).ID, Status(req.Status))
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, er)
}

func (h *Handler) UpdateFields(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var req UpdateFieldsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	er, err := h.service.UpdateFields(r.Context(), id, shared.ActorFromContext(r.Context()).ID, Fields{
		RefundAmount: req.RefundAmount,
		RefundMethod: req.RefundMethod,
		Notes:        req.Notes,
	})
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, er)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if err := h.service.Delete(r.Context(), id, shared.ActorFromContext(r.Context()).ID); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
