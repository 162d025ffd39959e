package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/odyssey-erp/odyssey-retail/internal/notify"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Store is the transaction-scoped write port. Implementations must hold a
// row lock on the product from LockProduct until the surrounding
// transaction ends.
type Store interface {
	LockProduct(ctx context.Context, productID int64) (Product, error)
	ApplyDelta(ctx context.Context, productID, delta int64) (int64, error)
	InsertAdjustment(ctx context.Context, adj Adjustment) (int64, error)
	SetUnitCost(ctx context.Context, productID int64, unitCost float64) error
}

// ReadRepository is the non-locking read side of ProductStore.
type ReadRepository interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, int, error)
	ListAdjustments(ctx context.Context, filter AdjustmentFilter) ([]Adjustment, error)
	SumDeltas(ctx context.Context, productID int64) (int64, error)
}

// Metrics receives ledger counters.
type Metrics interface {
	ObserveAdjustment(reason string, delta int64)
	ObserveInsufficientStock(reason string)
}

// Ledger is the only writer of product quantities.
type Ledger struct {
	repo    ReadRepository
	emitter notify.Emitter
	metrics Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewLedger builds Ledger. emitter and metrics may be nil.
func NewLedger(repo ReadRepository, emitter notify.Emitter, metrics Metrics, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{repo: repo, emitter: emitter, metrics: metrics, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Adjust applies one signed delta inside the caller's transaction.
func (l *Ledger) Adjust(ctx context.Context, store Store, req Request) (Result, error) {
	if req.ProductID <= 0 {
		return Result{}, shared.Validationf("ledger: product id required")
	}
	if req.Delta == 0 {
		return Result{}, shared.Validationf("ledger: delta must be non zero")
	}
	if !req.Reason.Valid() {
		return Result{}, shared.Validationf("ledger: unknown reason %q", req.Reason)
	}
	product, err := store.LockProduct(ctx, req.ProductID)
	if err != nil {
		return Result{}, err
	}
	if product.Quantity+req.Delta < 0 {
		if l.metrics != nil {
			l.metrics.ObserveInsufficientStock(string(req.Reason))
		}
		return Result{}, &shared.InsufficientStockError{ProductID: req.ProductID, Requested: -req.Delta, Available: product.Quantity}
	}
	qty, err := store.ApplyDelta(ctx, req.ProductID, req.Delta)
	if err != nil {
		return Result{}, err
	}
	adj := Adjustment{
		ProductID:     req.ProductID,
		Delta:         req.Delta,
		QuantityAfter: qty,
		Reason:        req.Reason,
		RefType:       req.RefType,
		RefID:         req.RefID,
		ActorID:       req.ActorID,
		CreatedAt:     l.now(),
	}
	id, err := store.InsertAdjustment(ctx, adj)
	if err != nil {
		return Result{}, fmt.Errorf("ledger: insert adjustment: %w", err)
	}
	adj.ID = id
	product.Quantity = qty
	if l.metrics != nil {
		l.metrics.ObserveAdjustment(string(req.Reason), req.Delta)
	}
	return Result{Adjustment: adj, Product: product}, nil
}

// AdjustAll applies a batch in ascending product id order and stops at the
// first failure. The caller must roll back its transaction on error.
func (l *Ledger) AdjustAll(ctx context.Context, store Store, reqs []Request) ([]Result, error) {
	ordered := make([]Request, len(reqs))
	copy(ordered, reqs)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ProductID < ordered[j].ProductID })
	results := make([]Result, 0, len(ordered))
	for _, req := range ordered {
		res, err := l.Adjust(ctx, store, req)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Publish runs after commit and raises low and out-of-stock notifications
// for the final state of every product touched.
func (l *Ledger) Publish(ctx context.Context, results []Result) {
	if l.emitter == nil || len(results) == 0 {
		return
	}
	latest := make(map[int64]Result, len(results))
	order := make([]int64, 0, len(results))
	for _, res := range results {
		if _, seen := latest[res.Product.ID]; !seen {
			order = append(order, res.Product.ID)
		}
		latest[res.Product.ID] = res
	}
	for _, id := range order {
		res := latest[id]
		if res.Adjustment.Delta > 0 || !res.Product.LowStock() {
			continue
		}
		eventType := notify.EventStockLow
		if res.Product.Quantity == 0 {
			eventType = notify.EventStockOut
		}
		payload := map[string]any{
			"product_id": res.Product.ID,
			"sku":        res.Product.SKU,
			"name":       res.Product.Name,
			"quantity":   res.Product.Quantity,
			"min_stock":  res.Product.MinStock,
		}
		if err := l.emitter.Emit(ctx, eventType, payload); err != nil {
			l.logger.Warn("stock notification failed", slog.String("event", eventType), slog.Int64("product_id", id), slog.Any("error", err))
		}
	}
}

// GetProduct returns a product by id.
func (l *Ledger) GetProduct(ctx context.Context, id int64) (Product, error) {
	return l.repo.GetProduct(ctx, id)
}

// ListProducts lists products, optionally only those at or under their threshold.
func (l *Ledger) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, int, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return l.repo.ListProducts(ctx, filter)
}

// History returns the adjustment trail for a product, newest first.
func (l *Ledger) History(ctx context.Context, filter AdjustmentFilter) ([]Adjustment, error) {
	if filter.ProductID <= 0 && filter.RefID <= 0 {
		return nil, shared.Validationf("ledger: product or reference required")
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 200
	}
	return l.repo.ListAdjustments(ctx, filter)
}

// Reconcile checks quantity == opening quantity + sum of committed deltas.
func (l *Ledger) Reconcile(ctx context.Context, productID int64) (Reconciliation, error) {
	product, err := l.repo.GetProduct(ctx, productID)
	if err != nil {
		return Reconciliation{}, err
	}
	sum, err := l.repo.SumDeltas(ctx, productID)
	if err != nil {
		return Reconciliation{}, err
	}
	rec := Reconciliation{
		ProductID:       productID,
		OpeningQuantity: product.OpeningQuantity,
		SumOfDeltas:     sum,
		Quantity:        product.Quantity,
	}
	rec.Consistent = product.OpeningQuantity+sum == product.Quantity
	if !rec.Consistent {
		l.logger.Error("stock ledger drift detected",
			slog.Int64("product_id", productID),
			slog.Int64("quantity", product.Quantity),
			slog.Int64("opening", product.OpeningQuantity),
			slog.Int64("sum_deltas", sum))
	}
	return rec, nil
}
