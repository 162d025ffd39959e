// Package salestest provides an in-memory sale repository sharing the
// ledgertest transaction so workflow tests observe atomic rollbacks.
package salestest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-retail/internal/ledger"
	"github.com/odyssey-erp/odyssey-retail/internal/ledger/ledgertest"
	"github.com/odyssey-erp/odyssey-retail/internal/sales"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Repo implements sales.RepositoryPort in memory.
type Repo struct {
	Ledger *ledgertest.Store
	// AppliedReturns reports approved or completed returns per sale. Nil
	// means none.
	AppliedReturns func(saleID int64) int

	mu     sync.Mutex
	sales  map[int64]sales.Sale
	nextID int64
}

// New returns a Repo bound to store.
func New(store *ledgertest.Store) *Repo {
	return &Repo{Ledger: store, sales: make(map[int64]sales.Sale)}
}

// WithTx implements sales.RepositoryPort.
func (r *Repo) WithTx(ctx context.Context, fn func(context.Context, sales.TxRepository) error) error {
	return r.Ledger.RunTx(func() error { return fn(ctx, r.Tx()) }, r.Snapshot)
}

// Tx returns a transactional view. Callers must already be inside RunTx.
func (r *Repo) Tx() sales.TxRepository {
	return &txRepo{repo: r}
}

// Snapshot captures the sale table and returns its restore func.
func (r *Repo) Snapshot() func() {
	r.mu.Lock()
	saved := make(map[int64]sales.Sale, len(r.sales))
	for id, s := range r.sales {
		s.Lines = append([]sales.Line(nil), s.Lines...)
		saved[id] = s
	}
	nextID := r.nextID
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.sales = saved
		r.nextID = nextID
		r.mu.Unlock()
	}
}

// Count returns the number of stored sales.
func (r *Repo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sales)
}

// GetSale implements sales.RepositoryPort.
func (r *Repo) GetSale(_ context.Context, id int64) (sales.Sale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sales[id]
	if !ok {
		return sales.Sale{}, shared.NotFoundf("sale %d", id)
	}
	s.Lines = append([]sales.Line(nil), s.Lines...)
	return s, nil
}

// ListSales implements sales.RepositoryPort.
func (r *Repo) ListSales(_ context.Context, filter sales.ListFilter) ([]sales.Sale, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sales.Sale
	for _, s := range r.sales {
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && s.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !s.CreatedAt.Before(filter.To) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	total := len(out)
	if filter.Offset >= total {
		return nil, total, nil
	}
	end := filter.Offset + filter.Limit
	if filter.Limit <= 0 || end > total {
		end = total
	}
	return out[filter.Offset:end], total, nil
}

type txRepo struct {
	repo *Repo
}

func (t *txRepo) Stock() ledger.Store { return t.repo.Ledger }

func (t *txRepo) InsertSale(_ context.Context, sale sales.Sale) (int64, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	t.repo.nextID++
	sale.ID = t.repo.nextID
	sale.Lines = nil
	t.repo.sales[sale.ID] = sale
	return sale.ID, nil
}

func (t *txRepo) InsertLine(_ context.Context, line sales.Line) (int64, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	s, ok := t.repo.sales[line.SaleID]
	if !ok {
		return 0, shared.NotFoundf("sale %d", line.SaleID)
	}
	line.ID = int64(len(s.Lines) + 1)
	s.Lines = append(s.Lines, line)
	t.repo.sales[line.SaleID] = s
	return line.ID, nil
}

func (t *txRepo) LockSale(ctx context.Context, id int64) (sales.Sale, error) {
	return t.repo.GetSale(ctx, id)
}

func (t *txRepo) MarkCancelled(_ context.Context, id int64, at time.Time, reason string) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	s, ok := t.repo.sales[id]
	if !ok {
		return shared.NotFoundf("sale %d", id)
	}
	s.Status = sales.StatusCancelled
	s.CancelledAt = &at
	s.CancelReason = reason
	t.repo.sales[id] = s
	return nil
}

func (t *txRepo) Touch(_ context.Context, id int64, _ time.Time) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	if _, ok := t.repo.sales[id]; !ok {
		return shared.NotFoundf("sale %d", id)
	}
	return nil
}

func (t *txRepo) AppliedReturnCount(_ context.Context, saleID int64) (int, error) {
	if t.repo.AppliedReturns == nil {
		return 0, nil
	}
	return t.repo.AppliedReturns(saleID), nil
}
