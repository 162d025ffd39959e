package ledger

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Handler exposes read-only product and ledger endpoints.
type Handler struct {
	logger *slog.Logger
	ledger *Ledger
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, ledger *Ledger) *Handler {
	return &Handler{logger: logger, ledger: ledger}
}

type productListResponse struct {
	Data       []Product         `json:"data"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, perPage := shared.PageFromQuery(q)
	lowOnly, _ := strconv.ParseBool(q.Get("low_stock"))
	pg := shared.NewPagination(page, perPage, 0)
	products, total, err := h.ledger.ListProducts(r.Context(), ProductFilter{LowStockOnly: lowOnly, Limit: perPage, Offset: pg.Offset()})
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if products == nil {
		products = []Product{}
	}
	httpx.JSON(w, http.StatusOK, productListResponse{Data: products, Pagination: shared.NewPagination(page, perPage, total)})
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	product, err := h.ledger.GetProduct(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) Adjustments(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.ledger.History(r.Context(), AdjustmentFilter{ProductID: id, RefType: r.URL.Query().Get("ref_type"), Limit: limit})
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if entries == nil {
		entries = []Adjustment{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": entries})
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	rec, err := h.ledger.Reconcile(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}
