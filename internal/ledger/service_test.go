package ledger_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-retail/internal/ledger"
	"github.com/odyssey-erp/odyssey-retail/internal/ledger/ledgertest"
	"github.com/odyssey-erp/odyssey-retail/internal/notify"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

type countingMetrics struct {
	adjustments  atomic.Int64
	insufficient atomic.Int64
}

func (m *countingMetrics) ObserveAdjustment(string, int64) { m.adjustments.Add(1) }
func (m *countingMetrics) ObserveInsufficientStock(string) { m.insufficient.Add(1) }

func newLedger(t *testing.T) (*ledger.Ledger, *ledgertest.Store, *ledgertest.Recorder, *countingMetrics) {
	t.Helper()
	store := ledgertest.New()
	rec := &ledgertest.Recorder{}
	metrics := &countingMetrics{}
	return ledger.NewLedger(store, rec, metrics, nil), store, rec, metrics
}

func TestAdjustRecordsEntry(t *testing.T) {
	l, store, _, metrics := newLedger(t)
	store.Seed(ledger.Product{ID: 1, SKU: "A", Quantity: 10, MinStock: 2})

	res, err := l.Adjust(context.Background(), store, ledger.Request{ProductID: 1, Delta: -3, Reason: ledger.ReasonSale, RefType: "sale", RefID: 9, ActorID: 4})
	require.NoError(t, err)
	require.Equal(t, int64(7), res.Product.Quantity)
	require.Equal(t, int64(7), res.Adjustment.QuantityAfter)
	require.Equal(t, int64(7), store.Quantity(1))

	entries := store.Adjustments()
	require.Len(t, entries, 1)
	require.Equal(t, ledger.ReasonSale, entries[0].Reason)
	require.Equal(t, int64(9), entries[0].RefID)
	require.Equal(t, int64(1), metrics.adjustments.Load())
}

func TestAdjustRejectsNegativeOutcome(t *testing.T) {
	l, store, _, metrics := newLedger(t)
	store.Seed(ledger.Product{ID: 1, Quantity: 2})

	_, err := l.Adjust(context.Background(), store, ledger.Request{ProductID: 1, Delta: -3, Reason: ledger.ReasonSale})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	var stockErr *shared.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	require.Equal(t, int64(2), stockErr.Available)
	require.Equal(t, int64(3), stockErr.Requested)
	require.Equal(t, int64(2), store.Quantity(1))
	require.Empty(t, store.Adjustments())
	require.Equal(t, int64(1), metrics.insufficient.Load())
}

func TestAdjustValidation(t *testing.T) {
	l, store, _, _ := newLedger(t)
	store.Seed(ledger.Product{ID: 1, Quantity: 2})
	ctx := context.Background()

	_, err := l.Adjust(ctx, store, ledger.Request{ProductID: 1, Delta: 0, Reason: ledger.ReasonSale})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = l.Adjust(ctx, store, ledger.Request{ProductID: 1, Delta: 1, Reason: "gift"})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = l.Adjust(ctx, store, ledger.Request{ProductID: 99, Delta: 1, Reason: ledger.ReasonPurchaseReceipt})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAdjustAllRollsBackWholeBatch(t *testing.T) {
	l, store, _, _ := newLedger(t)
	store.Seed(ledger.Product{ID: 1, Quantity: 5})
	store.Seed(ledger.Product{ID: 2, Quantity: 1})

	err := store.RunTx(func() error {
		_, err := l.AdjustAll(context.Background(), store, []ledger.Request{
			{ProductID: 2, Delta: -2, Reason: ledger.ReasonSale},
			{ProductID: 1, Delta: -1, Reason: ledger.ReasonSale},
		})
		return err
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, int64(5), store.Quantity(1))
	require.Equal(t, int64(1), store.Quantity(2))
	require.Empty(t, store.Adjustments())
}

func TestAdjustAllOrdersByProduct(t *testing.T) {
	l, store, _, _ := newLedger(t)
	store.Seed(ledger.Product{ID: 1, Quantity: 5})
	store.Seed(ledger.Product{ID: 2, Quantity: 5})

	results, err := l.AdjustAll(context.Background(), store, []ledger.Request{
		{ProductID: 2, Delta: -1, Reason: ledger.ReasonSale},
		{ProductID: 1, Delta: -1, Reason: ledger.ReasonSale},
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), results[0].Product.ID)
	require.Equal(t, int64(2), results[1].Product.ID)
}

func TestConcurrentDecrementsNeverOversell(t *testing.T) {
	l, store, _, _ := newLedger(t)
	store.Seed(ledger.Product{ID: 1, Quantity: 1})

	var (
		wg        sync.WaitGroup
		successes atomic.Int64
		failures  atomic.Int64
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.RunTx(func() error {
				_, err := l.Adjust(context.Background(), store, ledger.Request{ProductID: 1, Delta: -1, Reason: ledger.ReasonSale})
				return err
			})
			if err == nil {
				successes.Add(1)
			} else if errors.Is(err, shared.ErrInsufficientStock) {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(1), successes.Load())
	require.Equal(t, int64(19), failures.Load())
	require.Equal(t, int64(0), store.Quantity(1))
}

func TestPublishRaisesStockAlerts(t *testing.T) {
	l, store, rec, _ := newLedger(t)
	store.Seed(ledger.Product{ID: 1, Quantity: 3, MinStock: 2})
	store.Seed(ledger.Product{ID: 2, Quantity: 1, MinStock: 0})
	store.Seed(ledger.Product{ID: 3, Quantity: 10, MinStock: 2})
	ctx := context.Background()

	results, err := l.AdjustAll(ctx, store, []ledger.Request{
		{ProductID: 1, Delta: -1, Reason: ledger.ReasonSale},
		{ProductID: 2, Delta: -1, Reason: ledger.ReasonSale},
		{ProductID: 3, Delta: -1, Reason: ledger.ReasonSale},
	})
	require.NoError(t, err)
	l.Publish(ctx, results)
	require.Equal(t, []string{notify.EventStockLow, notify.EventStockOut}, rec.Types())
}

func TestPublishIgnoresRestock(t *testing.T) {
	l, store, rec, _ := newLedger(t)
	store.Seed(ledger.Product{ID: 1, Quantity: 0, MinStock: 5})

	res, err := l.Adjust(context.Background(), store, ledger.Request{ProductID: 1, Delta: 1, Reason: ledger.ReasonPurchaseReceipt})
	require.NoError(t, err)
	l.Publish(context.Background(), []ledger.Result{res})
	require.Empty(t, rec.Events)
}

func TestReconcile(t *testing.T) {
	l, store, _, _ := newLedger(t)
	store.Seed(ledger.Product{ID: 1, Quantity: 10})
	ctx := context.Background()

	_, err := l.Adjust(ctx, store, ledger.Request{ProductID: 1, Delta: -4, Reason: ledger.ReasonSale})
	require.NoError(t, err)
	_, err = l.Adjust(ctx, store, ledger.Request{ProductID: 1, Delta: 6, Reason: ledger.ReasonPurchaseReceipt})
	require.NoError(t, err)

	rec, err := l.Reconcile(ctx, 1)
	require.NoError(t, err)
	require.True(t, rec.Consistent)
	require.Equal(t, int64(2), rec.SumOfDeltas)
	require.Equal(t, int64(12), rec.Quantity)
}

func TestHistoryRequiresScope(t *testing.T) {
	l, _, _, _ := newLedger(t)
	_, err := l.History(context.Background(), ledger.AdjustmentFilter{})
	require.ErrorIs(t, err, shared.ErrValidation)
}
