package returns

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-retail/internal/ledger"
	"github.com/odyssey-erp/odyssey-retail/internal/ledger/ledgertest"
	"github.com/odyssey-erp/odyssey-retail/internal/notify"
	"github.com/odyssey-erp/odyssey-retail/internal/sales"
	"github.com/odyssey-erp/odyssey-retail/internal/sales/salestest"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

type memoryRepo struct {
	store *ledgertest.Store
	sales *salestest.Repo

	mu     sync.Mutex
	items  map[int64]ExchangeReturn
	nextID int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo(store *ledgertest.Store, saleRepo *salestest.Repo) *memoryRepo {
	r := &memoryRepo{store: store, sales: saleRepo, items: make(map[int64]ExchangeReturn)}
	saleRepo.AppliedReturns = r.appliedCount
	return r
}

func (r *memoryRepo) snapshot() func() {
	r.mu.Lock()
	saved := make(map[int64]ExchangeReturn, len(r.items))
	for id, er := range r.items {
		er.Items = append([]Item(nil), er.Items...)
		saved[id] = er
	}
	nextID := r.nextID
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.items = saved
		r.nextID = nextID
		r.mu.Unlock()
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.store.RunTx(func() error { return fn(ctx, &memoryTx{repo: r}) }, r.snapshot, r.sales.Snapshot)
}

func (r *memoryRepo) GetReturn(_ context.Context, id int64) (ExchangeReturn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	er, ok := r.items[id]
	if !ok {
		return ExchangeReturn{}, shared.NotFoundf("exchange return %d", id)
	}
	er.Items = append([]Item(nil), er.Items...)
	return er, nil
}

func (r *memoryRepo) ListReturns(_ context.Context, filter ListFilter) ([]ExchangeReturn, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ExchangeReturn
	for _, er := range r.items {
		if filter.Status != "" && er.Status != filter.Status {
			continue
		}
		if filter.Type != "" && er.Type != filter.Type {
			continue
		}
		if filter.SaleID > 0 && er.SaleID != filter.SaleID {
			continue
		}
		out = append(out, er)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, len(out), nil
}

func (r *memoryRepo) appliedCount(saleID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, er := range r.items {
		if er.SaleID == saleID && stockApplied(er.Status) {
			n++
		}
	}
	return n
}

func (tx *memoryTx) ReturnedQuantities(_ context.Context, saleID int64) (map[int64]int64, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int64]int64)
	for _, er := range r.items {
		if er.SaleID != saleID || er.Status == StatusRejected || er.Status == StatusCancelled {
			continue
		}
		for _, item := range er.Items {
			out[item.ProductID] += item.Quantity
		}
	}
	return out, nil
}

func (r *memoryRepo) Stats(_ context.Context) (Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := Stats{ByStatus: map[Status]int{}, ByType: map[Type]int{}}
	for _, er := range r.items {
		stats.Total++
		stats.ByStatus[er.Status]++
		stats.ByType[er.Type]++
		if er.Status == StatusCompleted {
			stats.TotalRefunded += er.RefundAmount
		}
	}
	return stats, nil
}

func (tx *memoryTx) Stock() ledger.Store { return tx.repo.store }

func (tx *memoryTx) Sales() sales.TxRepository { return tx.repo.sales.Tx() }

func (tx *memoryTx) InsertReturn(_ context.Context, er ExchangeReturn) (int64, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.repo.nextID++
	er.ID = tx.repo.nextID
	tx.repo.items[er.ID] = er
	return er.ID, nil
}

func (tx *memoryTx) InsertItem(_ context.Context, item Item) (int64, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	er := tx.repo.items[item.ReturnID]
	item.ID = int64(len(er.Items) + 1)
	er.Items = append(er.Items, item)
	tx.repo.items[item.ReturnID] = er
	return item.ID, nil
}

func (tx *memoryTx) LockReturn(ctx context.Context, id int64) (ExchangeReturn, error) {
	return tx.repo.GetReturn(ctx, id)
}

func (tx *memoryTx) UpdateStatus(_ context.Context, id int64, status Status, at time.Time) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	er := tx.repo.items[id]
	er.Status = status
	er.UpdatedAt = at
	tx.repo.items[id] = er
	return nil
}

func (tx *memoryTx) UpdateFields(_ context.Context, id int64, fields Fields, at time.Time) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	er := tx.repo.items[id]
	if fields.RefundAmount != nil {
		er.RefundAmount = *fields.RefundAmount
	}
	if fields.RefundMethod != nil {
		er.RefundMethod = *fields.RefundMethod
	}
	if fields.Notes != nil {
		er.Notes = *fields.Notes
	}
	er.UpdatedAt = at
	tx.repo.items[id] = er
	return nil
}

func (tx *memoryTx) DeleteReturn(_ context.Context, id int64) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	delete(tx.repo.items, id)
	return nil
}

type fixture struct {
	svc    *Service
	sales  *sales.Service
	repo   *memoryRepo
	store  *ledgertest.Store
	events *ledgertest.Recorder
	sale   sales.Sale
}

// newFixture sells two units of product 1 and one of product 3, leaving
// product 1 at 3, product 2 (the replacement) at 2, product 3 at 9 and
// product 4 out of stock.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := ledgertest.New()
	store.Seed(ledger.Product{ID: 1, Name: "Shirt S", Quantity: 5, UnitCost: 50, SalePrice: 120})
	store.Seed(ledger.Product{ID: 2, Name: "Shirt M", Quantity: 2, UnitCost: 50, SalePrice: 120})
	store.Seed(ledger.Product{ID: 3, Name: "Belt", Quantity: 10, UnitCost: 15, SalePrice: 40})
	store.Seed(ledger.Product{ID: 4, Name: "Shirt L", Quantity: 0, UnitCost: 50, SalePrice: 120})
	events := &ledgertest.Recorder{}
	l := ledger.NewLedger(store, events, nil, nil)

	saleRepo := salestest.New(store)
	saleSvc := sales.NewService(saleRepo, l, nil, nil, nil, nil)
	sale, err := saleSvc.Create(context.Background(), sales.CreateInput{
		Lines: []sales.LineInput{
			{ProductID: 1, Quantity: 2, UnitPrice: 120},
			{ProductID: 3, Quantity: 1, UnitPrice: 40},
		},
		PaymentMethod: sales.PaymentCash,
	})
	require.NoError(t, err)

	repo := newMemoryRepo(store, saleRepo)
	return &fixture{
		svc:    NewService(repo, l, events, nil, nil),
		sales:  saleSvc,
		repo:   repo,
		store:  store,
		events: events,
		sale:   sale,
	}
}

func (f *fixture) adjustmentCount() int {
	return len(f.store.Adjustments())
}

func (f *fixture) create(t *testing.T, in CreateInput) ExchangeReturn {
	t.Helper()
	if in.SaleID == 0 {
		in.SaleID = f.sale.ID
	}
	er, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	return er
}

func TestApproveRestocksOnceAndRepeatIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	er := f.create(t, CreateInput{Type: TypeReturn, Items: []ItemInput{{ProductID: 1, Quantity: 1, Reason: "torn"}}, RefundAmount: 120})
	require.Equal(t, StatusPending, er.Status)
	require.Equal(t, int64(3), f.store.Quantity(1))
	before := f.adjustmentCount()

	approved, err := f.svc.UpdateStatus(ctx, er.ID, 7, StatusApproved)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)
	require.NotNil(t, approved.ProcessedAt)
	require.Equal(t, int64(4), f.store.Quantity(1))
	require.Equal(t, before+1, f.adjustmentCount())

	_, err = f.svc.UpdateStatus(ctx, er.ID, 7, StatusApproved)
	require.NoError(t, err)
	require.Equal(t, int64(4), f.store.Quantity(1))
	require.Equal(t, before+1, f.adjustmentCount())

	completed, err := f.svc.UpdateStatus(ctx, er.ID, 7, StatusCompleted)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, completed.Status)
	require.Equal(t, int64(4), f.store.Quantity(1))
	require.Equal(t, before+1, f.adjustmentCount())

	last := f.store.Adjustments()[before]
	require.Equal(t, ledger.ReasonReturnRestock, last.Reason)
	require.Equal(t, RefType, last.RefType)
	require.Equal(t, er.ID, last.RefID)
	require.Contains(t, f.events.Types(), notify.EventExchangeReturnDone)
}

func TestRejectAfterApprovalReversesExchange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	er := f.create(t, CreateInput{
		Type:  TypeExchange,
		Items: []ItemInput{{ProductID: 1, Quantity: 1, ReplacementProductID: 2, ReplacementQuantity: 1}},
	})

	_, err := f.svc.UpdateStatus(ctx, er.ID, 7, StatusApproved)
	require.NoError(t, err)
	require.Equal(t, int64(4), f.store.Quantity(1))
	require.Equal(t, int64(1), f.store.Quantity(2))

	rejected, err := f.svc.UpdateStatus(ctx, er.ID, 7, StatusRejected)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)
	require.Equal(t, int64(3), f.store.Quantity(1))
	require.Equal(t, int64(2), f.store.Quantity(2))

	var reasons []ledger.Reason
	for _, adj := range f.store.Adjustments() {
		if adj.RefType == RefType {
			reasons = append(reasons, adj.Reason)
		}
	}
	require.ElementsMatch(t, []ledger.Reason{
		ledger.ReasonReturnRestock, ledger.ReasonExchangeConsume,
		ledger.ReasonReturnReversal, ledger.ReasonExchangeRelease,
	}, reasons)

	_, err = f.svc.UpdateStatus(ctx, er.ID, 7, StatusCancelled)
	require.NoError(t, err)
	require.Equal(t, int64(3), f.store.Quantity(1))
	require.Equal(t, int64(2), f.store.Quantity(2))
}

func TestApproveExchangeRollsBackWhenReplacementShort(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	er := f.create(t, CreateInput{
		Type:  TypeExchange,
		Items: []ItemInput{{ProductID: 1, Quantity: 2, ReplacementProductID: 4, ReplacementQuantity: 1}},
	})
	before := f.adjustmentCount()

	_, err := f.svc.UpdateStatus(ctx, er.ID, 7, StatusApproved)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	var stockErr *shared.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, int64(4), stockErr.ProductID)

	require.Equal(t, int64(3), f.store.Quantity(1))
	require.Equal(t, int64(0), f.store.Quantity(4))
	require.Equal(t, before, f.adjustmentCount())
	got, err := f.svc.Get(ctx, er.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
}

func TestCreateFastPathAppliesStock(t *testing.T) {
	f := newFixture(t)
	er := f.create(t, CreateInput{
		Type:   TypeExchange,
		Status: StatusCompleted,
		Items:  []ItemInput{{ProductID: 3, Quantity: 1, ReplacementProductID: 2}},
	})
	require.Equal(t, StatusCompleted, er.Status)
	require.Equal(t, int64(1), er.Items[0].ReplacementQuantity)
	require.Equal(t, int64(10), f.store.Quantity(3))
	require.Equal(t, int64(1), f.store.Quantity(2))

	_, err := f.svc.UpdateStatus(context.Background(), er.ID, 7, StatusRejected)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Equal(t, int64(10), f.store.Quantity(3))
}

func TestReturnIgnoresReplacement(t *testing.T) {
	f := newFixture(t)
	er := f.create(t, CreateInput{
		Type:   TypeReturn,
		Status: StatusApproved,
		Items:  []ItemInput{{ProductID: 1, Quantity: 1, ReplacementProductID: 2, ReplacementQuantity: 1}},
	})
	require.False(t, er.Items[0].HasReplacement())
	require.Equal(t, int64(4), f.store.Quantity(1))
	require.Equal(t, int64(2), f.store.Quantity(2))
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusApproved, StatusCompleted, true},
		{StatusApproved, StatusRejected, true},
		{StatusApproved, StatusCancelled, false},
		{StatusRejected, StatusCancelled, true},
		{StatusRejected, StatusApproved, false},
		{StatusCompleted, StatusRejected, false},
		{StatusCancelled, StatusPending, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestUpdateStatusRejectsIllegalMove(t *testing.T) {
	f := newFixture(t)
	er := f.create(t, CreateInput{Type: TypeReturn, Items: []ItemInput{{ProductID: 1, Quantity: 1}}})
	_, err := f.svc.UpdateStatus(context.Background(), er.ID, 7, StatusCompleted)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	_, err = f.svc.UpdateStatus(context.Background(), er.ID, 7, "shipped")
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.UpdateStatus(context.Background(), 999, 7, StatusApproved)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := map[string]CreateInput{
		"unknown type":       {Type: "swap", SaleID: f.sale.ID, Items: []ItemInput{{ProductID: 1, Quantity: 1}}},
		"no items":           {Type: TypeReturn, SaleID: f.sale.ID},
		"zero quantity":      {Type: TypeReturn, SaleID: f.sale.ID, Items: []ItemInput{{ProductID: 1}}},
		"more than sold":     {Type: TypeReturn, SaleID: f.sale.ID, Items: []ItemInput{{ProductID: 1, Quantity: 3}}},
		"product not sold":   {Type: TypeReturn, SaleID: f.sale.ID, Items: []ItemInput{{ProductID: 2, Quantity: 1}}},
		"rejected on create": {Type: TypeReturn, SaleID: f.sale.ID, Status: StatusRejected, Items: []ItemInput{{ProductID: 1, Quantity: 1}}},
		"negative refund":    {Type: TypeReturn, SaleID: f.sale.ID, RefundAmount: -1, Items: []ItemInput{{ProductID: 1, Quantity: 1}}},
	}
	for name, in := range cases {
		_, err := f.svc.Create(ctx, in)
		require.ErrorIs(t, err, shared.ErrValidation, name)
	}

	_, err := f.svc.Create(ctx, CreateInput{Type: TypeReturn, SaleID: 404, Items: []ItemInput{{ProductID: 1, Quantity: 1}}})
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = f.svc.Create(ctx, CreateInput{Type: TypeExchange, SaleID: f.sale.ID, Items: []ItemInput{{ProductID: 1, Quantity: 1, ReplacementProductID: 99}}})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateCountsEarlierReturns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.create(t, CreateInput{Type: TypeReturn, Items: []ItemInput{{ProductID: 1, Quantity: 2}}})

	_, err := f.svc.Create(ctx, CreateInput{Type: TypeReturn, SaleID: f.sale.ID, Items: []ItemInput{{ProductID: 1, Quantity: 1}}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.UpdateStatus(ctx, first.ID, 7, StatusRejected)
	require.NoError(t, err)
	f.create(t, CreateInput{Type: TypeReturn, Items: []ItemInput{{ProductID: 1, Quantity: 1}}})
}

func TestDeleteOnlyWithoutStockEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	er := f.create(t, CreateInput{Type: TypeReturn, Status: StatusApproved, Items: []ItemInput{{ProductID: 1, Quantity: 1}}})

	err := f.svc.Delete(ctx, er.ID, 7)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = f.svc.UpdateStatus(ctx, er.ID, 7, StatusRejected)
	require.NoError(t, err)
	quantity := f.store.Quantity(1)
	require.NoError(t, f.svc.Delete(ctx, er.ID, 7))
	require.Equal(t, quantity, f.store.Quantity(1))

	_, err = f.svc.Get(ctx, er.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpdateFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	er := f.create(t, CreateInput{Type: TypeReturn, Items: []ItemInput{{ProductID: 1, Quantity: 1}}})

	amount := 119.999
	method := "transfer"
	updated, err := f.svc.UpdateFields(ctx, er.ID, 7, Fields{RefundAmount: &amount, RefundMethod: &method})
	require.NoError(t, err)
	require.InDelta(t, 120, updated.RefundAmount, 0.001)
	require.Equal(t, "transfer", updated.RefundMethod)
	require.Equal(t, StatusPending, updated.Status)

	negative := -5.0
	_, err = f.svc.UpdateFields(ctx, er.ID, 7, Fields{RefundAmount: &negative})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.UpdateStatus(ctx, er.ID, 7, StatusCancelled)
	require.NoError(t, err)
	notes := "late"
	_, err = f.svc.UpdateFields(ctx, er.ID, 7, Fields{Notes: &notes})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestStatsAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, CreateInput{Type: TypeReturn, Status: StatusCompleted, RefundAmount: 120, Items: []ItemInput{{ProductID: 1, Quantity: 1}}})
	f.create(t, CreateInput{Type: TypeExchange, Items: []ItemInput{{ProductID: 3, Quantity: 1, ReplacementProductID: 2}}})

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Total)
	require.Equal(t, 1, stats.ByStatus[StatusCompleted])
	require.Equal(t, 1, stats.ByType[TypeExchange])
	require.InDelta(t, 120, stats.TotalRefunded, 0.001)

	items, total, err := f.svc.List(ctx, ListFilter{Type: TypeExchange})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, TypeExchange, items[0].Type)

	_, _, err = f.svc.List(ctx, ListFilter{Status: "lost"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReturnAgainstCancelledSaleRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.sales.Cancel(ctx, f.sale.ID, 7, "void")
	require.NoError(t, err)
	require.Equal(t, int64(5), f.store.Quantity(1))
	before := f.adjustmentCount()

	_, err = f.svc.Create(ctx, CreateInput{Type: TypeReturn, SaleID: f.sale.ID, Status: StatusApproved, Items: []ItemInput{{ProductID: 1, Quantity: 2}}})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Equal(t, int64(5), f.store.Quantity(1))
	require.Equal(t, before, f.adjustmentCount())

	_, total, err := f.svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestPendingReturnCannotBeApprovedAfterSaleCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	er := f.create(t, CreateInput{Type: TypeReturn, Items: []ItemInput{{ProductID: 1, Quantity: 2}}})

	_, err := f.sales.Cancel(ctx, f.sale.ID, 7, "void")
	require.NoError(t, err)
	require.Equal(t, int64(5), f.store.Quantity(1))

	_, err = f.svc.UpdateStatus(ctx, er.ID, 7, StatusApproved)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Equal(t, int64(5), f.store.Quantity(1))

	cancelled, err := f.svc.UpdateStatus(ctx, er.ID, 7, StatusCancelled)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Equal(t, int64(5), f.store.Quantity(1))
}

func TestSaleCancelRefusedAfterApprovedReturn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	er := f.create(t, CreateInput{Type: TypeReturn, Status: StatusApproved, Items: []ItemInput{{ProductID: 1, Quantity: 2}}})
	require.Equal(t, int64(5), f.store.Quantity(1))

	_, err := f.sales.Cancel(ctx, f.sale.ID, 7, "void")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Equal(t, int64(5), f.store.Quantity(1))
	require.Equal(t, int64(9), f.store.Quantity(3))

	_, err = f.svc.UpdateStatus(ctx, er.ID, 7, StatusRejected)
	require.NoError(t, err)
	require.Equal(t, int64(3), f.store.Quantity(1))

	_, err = f.sales.Cancel(ctx, f.sale.ID, 7, "void")
	require.NoError(t, err)
	require.Equal(t, int64(5), f.store.Quantity(1))
	require.Equal(t, int64(10), f.store.Quantity(3))
}

func TestConcurrentReturnsCannotExceedSoldQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var (
		wg      sync.WaitGroup
		ok      atomic.Int64
		refused atomic.Int64
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Create(ctx, CreateInput{Type: TypeReturn, SaleID: f.sale.ID, Status: StatusApproved, Items: []ItemInput{{ProductID: 1, Quantity: 2}}})
			switch shared.KindOf(err) {
			case shared.KindUnknown:
				ok.Add(1)
			case shared.KindValidation:
				refused.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(1), ok.Load())
	require.Equal(t, int64(7), refused.Load())
	require.Equal(t, int64(5), f.store.Quantity(1))

	_, total, err := f.svc.List(ctx, ListFilter{SaleID: f.sale.ID})
	require.NoError(t, err)
	require.Equal(t, 1, total)
}
