package sales_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-retail/internal/ledger"
	"github.com/odyssey-erp/odyssey-retail/internal/ledger/ledgertest"
	"github.com/odyssey-erp/odyssey-retail/internal/notify"
	"github.com/odyssey-erp/odyssey-retail/internal/sales"
	"github.com/odyssey-erp/odyssey-retail/internal/sales/salestest"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

type memoryAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type memoryIdempotency struct {
	refs map[string]int64
}

func (m *memoryIdempotency) Claim(_ context.Context, key, module string) (int64, bool, error) {
	if ref, ok := m.refs[module+key]; ok {
		return ref, false, nil
	}
	m.refs[module+key] = 0
	return 0, true, nil
}

func (m *memoryIdempotency) Complete(_ context.Context, key, module string, refID int64) error {
	m.refs[module+key] = refID
	return nil
}

func (m *memoryIdempotency) Release(_ context.Context, key, module string) error {
	delete(m.refs, module+key)
	return nil
}

type fixture struct {
	svc    *sales.Service
	store  *ledgertest.Store
	repo   *salestest.Repo
	events *ledgertest.Recorder
	audit  *memoryAudit
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := ledgertest.New()
	store.Seed(ledger.Product{ID: 1, SKU: "TEE-S", Name: "Tee S", Quantity: 5, UnitCost: 40, SalePrice: 100, MinStock: 1})
	store.Seed(ledger.Product{ID: 2, SKU: "TEE-M", Name: "Tee M", Quantity: 1, UnitCost: 45, SalePrice: 100})
	store.Seed(ledger.Product{ID: 3, SKU: "CAP", Name: "Cap", Quantity: 10, UnitCost: 10, SalePrice: 30})
	events := &ledgertest.Recorder{}
	audit := &memoryAudit{}
	repo := salestest.New(store)
	l := ledger.NewLedger(store, events, nil, nil)
	svc := sales.NewService(repo, l, events, audit, &memoryIdempotency{refs: map[string]int64{}}, nil)
	return fixture{svc: svc, store: store, repo: repo, events: events, audit: audit}
}

func TestCreateSaleConsumesStockAndCapturesCost(t *testing.T) {
	f := newFixture(t)
	sale, err := f.svc.Create(context.Background(), sales.CreateInput{
		Lines: []sales.LineInput{
			{ProductID: 3, Quantity: 2, UnitPrice: 30},
			{ProductID: 1, Quantity: 1, UnitPrice: 100},
		},
		Discount:      sales.Discount{Percent: 10, Flat: 5},
		PaymentMethod: sales.PaymentCash,
		ActorID:       7,
	})
	require.NoError(t, err)
	require.NotZero(t, sale.ID)
	require.Equal(t, sales.StatusActive, sale.Status)
	require.InDelta(t, 160, sale.Subtotal, 0.001)
	require.InDelta(t, 139, sale.Total, 0.001)
	require.InDelta(t, 21, sale.DiscountAmount, 0.001)
	require.InDelta(t, 40, sale.Lines[0].Profit, 0.001)
	require.InDelta(t, 60, sale.Lines[1].Profit, 0.001)

	require.Equal(t, int64(8), f.store.Quantity(3))
	require.Equal(t, int64(4), f.store.Quantity(1))

	entries := f.store.Adjustments()
	require.Len(t, entries, 2)
	for _, e := range entries {
		require.Equal(t, ledger.ReasonSale, e.Reason)
		require.Equal(t, sale.ID, e.RefID)
		require.Equal(t, int64(7), e.ActorID)
	}
	require.Contains(t, f.events.Types(), notify.EventSaleCreated)
	require.Len(t, f.audit.logs, 1)
}

func TestSaleOfLastUnitsThenOneMoreFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Create(ctx, sales.CreateInput{Lines: []sales.LineInput{{ProductID: 1, Quantity: 5, UnitPrice: 100}}, PaymentMethod: sales.PaymentCard})
	require.NoError(t, err)
	require.Equal(t, int64(0), f.store.Quantity(1))
	require.Contains(t, f.events.Types(), notify.EventStockOut)

	_, err = f.svc.Create(ctx, sales.CreateInput{Lines: []sales.LineInput{{ProductID: 1, Quantity: 1, UnitPrice: 100}}, PaymentMethod: sales.PaymentCard})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, int64(0), f.store.Quantity(1))
	require.Equal(t, 1, f.repo.Count())
}

func TestMultiLineSaleIsAtomic(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), sales.CreateInput{
		Lines: []sales.LineInput{
			{ProductID: 1, Quantity: 1, UnitPrice: 100},
			{ProductID: 2, Quantity: 2, UnitPrice: 100},
			{ProductID: 3, Quantity: 1, UnitPrice: 30},
		},
		PaymentMethod: sales.PaymentCash,
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, int64(5), f.store.Quantity(1))
	require.Equal(t, int64(1), f.store.Quantity(2))
	require.Equal(t, int64(10), f.store.Quantity(3))
	require.Zero(t, f.repo.Count())
	require.Empty(t, f.store.Adjustments())
	require.NotContains(t, f.events.Types(), notify.EventSaleCreated)
}

func TestCancelRestoresStockOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale, err := f.svc.Create(ctx, sales.CreateInput{
		Lines:         []sales.LineInput{{ProductID: 1, Quantity: 2, UnitPrice: 100}, {ProductID: 3, Quantity: 3, UnitPrice: 30}},
		PaymentMethod: sales.PaymentTransfer,
	})
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, sale.ID, 9, "customer changed mind")
	require.NoError(t, err)
	require.Equal(t, sales.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	require.Equal(t, int64(5), f.store.Quantity(1))
	require.Equal(t, int64(10), f.store.Quantity(3))

	_, err = f.svc.Cancel(ctx, sale.ID, 9, "again")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Equal(t, int64(5), f.store.Quantity(1))
	require.Len(t, f.store.Adjustments(), 4)
	require.Contains(t, f.events.Types(), notify.EventSaleCancelled)
}

func TestCancelRefusedOnceReturnsRestocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale, err := f.svc.Create(ctx, sales.CreateInput{
		Lines:         []sales.LineInput{{ProductID: 1, Quantity: 2, UnitPrice: 100}},
		PaymentMethod: sales.PaymentCash,
	})
	require.NoError(t, err)
	f.repo.AppliedReturns = func(saleID int64) int {
		if saleID == sale.ID {
			return 1
		}
		return 0
	}

	_, err = f.svc.Cancel(ctx, sale.ID, 9, "refund instead")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Equal(t, int64(3), f.store.Quantity(1))
	require.Len(t, f.store.Adjustments(), 1)

	got, err := f.svc.Get(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, sales.StatusActive, got.Status)
	require.NotContains(t, f.events.Types(), notify.EventSaleCancelled)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []sales.CreateInput{
		{PaymentMethod: sales.PaymentCash},
		{Lines: []sales.LineInput{{ProductID: 1, Quantity: 0, UnitPrice: 10}}, PaymentMethod: sales.PaymentCash},
		{Lines: []sales.LineInput{{ProductID: 1, Quantity: 1, UnitPrice: 0}}, PaymentMethod: sales.PaymentCash},
		{Lines: []sales.LineInput{{ProductID: 1, Quantity: 1, UnitPrice: 10}}, PaymentMethod: "barter"},
		{Lines: []sales.LineInput{{ProductID: 1, Quantity: 1, UnitPrice: 10}}, PaymentMethod: sales.PaymentCash, Discount: sales.Discount{Percent: 120}},
	}
	for _, in := range cases {
		_, err := f.svc.Create(ctx, in)
		require.ErrorIs(t, err, shared.ErrValidation)
	}
	_, err := f.svc.Create(ctx, sales.CreateInput{Lines: []sales.LineInput{{ProductID: 42, Quantity: 1, UnitPrice: 10}}, PaymentMethod: sales.PaymentCash})
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Zero(t, f.repo.Count())
}

func TestCreateIsIdempotentPerKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := sales.CreateInput{Lines: []sales.LineInput{{ProductID: 3, Quantity: 1, UnitPrice: 30}}, PaymentMethod: sales.PaymentCash, IdempotencyKey: "k-1"}
	first, err := f.svc.Create(ctx, in)
	require.NoError(t, err)
	second, err := f.svc.Create(ctx, in)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, int64(9), f.store.Quantity(3))
	require.Equal(t, 1, f.repo.Count())
}

func TestConcurrentSalesOfLastUnit(t *testing.T) {
	f := newFixture(t)
	var (
		wg      sync.WaitGroup
		ok      atomic.Int64
		refused atomic.Int64
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Create(context.Background(), sales.CreateInput{Lines: []sales.LineInput{{ProductID: 2, Quantity: 1, UnitPrice: 100}}, PaymentMethod: sales.PaymentCash})
			switch shared.KindOf(err) {
			case shared.KindUnknown:
				ok.Add(1)
			case shared.KindInsufficientStock:
				refused.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(1), ok.Load())
	require.Equal(t, int64(9), refused.Load())
	require.Equal(t, int64(0), f.store.Quantity(2))
	require.Equal(t, 1, f.repo.Count())
}

func TestApplyTotalsFloorsAtZero(t *testing.T) {
	sale := sales.ApplyTotals(sales.Sale{Lines: []sales.Line{{Quantity: 1, UnitPrice: 10, UnitCost: 4}}}, sales.Discount{Percent: 50, Flat: 20})
	require.Zero(t, sale.Total)
	require.InDelta(t, 10, sale.DiscountAmount, 0.001)
}

func TestListRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.List(context.Background(), sales.ListFilter{Status: "void"})
	require.ErrorIs(t, err, shared.ErrValidation)
}
