// Package ledgertest provides an in-memory ledger store for workflow tests.
package ledgertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-retail/internal/ledger"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Store implements ledger.Store and ledger.ReadRepository in memory.
// RunTx serialises callers the way row locks would and rolls back on error.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex

	products    map[int64]ledger.Product
	adjustments []ledger.Adjustment
	nextAdjID   int64

	// FailInsertAfter makes InsertAdjustment fail once this many entries exist.
	FailInsertAfter int
	FailErr         error
}

// New returns an empty Store.
func New() *Store {
	return &Store{products: make(map[int64]ledger.Product)}
}

// Seed adds or replaces a product. The opening quantity defaults to the
// current quantity so Reconcile holds for freshly seeded rows.
func (s *Store) Seed(p ledger.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.OpeningQuantity == 0 {
		p.OpeningQuantity = p.Quantity
	}
	s.products[p.ID] = p
}

// Quantity returns the current quantity of a product.
func (s *Store) Quantity(id int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].Quantity
}

// Adjustments returns a copy of every committed entry in insertion order.
func (s *Store) Adjustments() []ledger.Adjustment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Adjustment, len(s.adjustments))
	copy(out, s.adjustments)
	return out
}

// RunTx runs fn exclusively. Each snapshot func captures extra state and
// returns its restore func, which is called when fn fails.
func (s *Store) RunTx(fn func() error, snapshots ...func() func()) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	products := make(map[int64]ledger.Product, len(s.products))
	for id, p := range s.products {
		products[id] = p
	}
	adjustments := make([]ledger.Adjustment, len(s.adjustments))
	copy(adjustments, s.adjustments)
	nextAdjID := s.nextAdjID
	s.mu.Unlock()

	restores := make([]func(), 0, len(snapshots))
	for _, snap := range snapshots {
		restores = append(restores, snap())
	}

	if err := fn(); err != nil {
		s.mu.Lock()
		s.products = products
		s.adjustments = adjustments
		s.nextAdjID = nextAdjID
		s.mu.Unlock()
		for _, restore := range restores {
			restore()
		}
		return err
	}
	return nil
}

// LockProduct implements ledger.Store.
func (s *Store) LockProduct(_ context.Context, productID int64) (ledger.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return ledger.Product{}, shared.NotFoundf("product %d", productID)
	}
	return p, nil
}

// ApplyDelta implements ledger.Store.
func (s *Store) ApplyDelta(_ context.Context, productID, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return 0, shared.NotFoundf("product %d", productID)
	}
	if p.Quantity+delta < 0 {
		return 0, &shared.InsufficientStockError{ProductID: productID, Requested: -delta, Available: p.Quantity}
	}
	p.Quantity += delta
	p.UpdatedAt = time.Now().UTC()
	s.products[productID] = p
	return p.Quantity, nil
}

// InsertAdjustment implements ledger.Store.
func (s *Store) InsertAdjustment(_ context.Context, adj ledger.Adjustment) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailErr != nil && len(s.adjustments) >= s.FailInsertAfter {
		return 0, s.FailErr
	}
	s.nextAdjID++
	adj.ID = s.nextAdjID
	s.adjustments = append(s.adjustments, adj)
	return adj.ID, nil
}

// SetUnitCost implements ledger.Store.
func (s *Store) SetUnitCost(_ context.Context, productID int64, unitCost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return shared.NotFoundf("product %d", productID)
	}
	p.UnitCost = unitCost
	s.products[productID] = p
	return nil
}

// GetProduct implements ledger.ReadRepository.
func (s *Store) GetProduct(ctx context.Context, id int64) (ledger.Product, error) {
	return s.LockProduct(ctx, id)
}

// ListProducts implements ledger.ReadRepository.
func (s *Store) ListProducts(_ context.Context, filter ledger.ProductFilter) ([]ledger.Product, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []ledger.Product
	for _, p := range s.products {
		if filter.LowStockOnly && !p.LowStock() {
			continue
		}
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	if filter.Offset >= total {
		return nil, total, nil
	}
	end := filter.Offset + filter.Limit
	if filter.Limit <= 0 || end > total {
		end = total
	}
	return all[filter.Offset:end], total, nil
}

// ListAdjustments implements ledger.ReadRepository.
func (s *Store) ListAdjustments(_ context.Context, filter ledger.AdjustmentFilter) ([]ledger.Adjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Adjustment
	for i := len(s.adjustments) - 1; i >= 0; i-- {
		a := s.adjustments[i]
		if filter.ProductID > 0 && a.ProductID != filter.ProductID {
			continue
		}
		if filter.RefType != "" && a.RefType != filter.RefType {
			continue
		}
		if filter.RefID > 0 && a.RefID != filter.RefID {
			continue
		}
		out = append(out, a)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// SumDeltas implements ledger.ReadRepository.
func (s *Store) SumDeltas(_ context.Context, productID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, a := range s.adjustments {
		if a.ProductID == productID {
			sum += a.Delta
		}
	}
	return sum, nil
}

// Recorder captures emitted events.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

// Event is one captured emission.
type Event struct {
	Type    string
	Payload any
}

// Emit implements notify.Emitter.
func (r *Recorder) Emit(_ context.Context, eventType string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, Event{Type: eventType, Payload: payload})
	return nil
}

// Types returns the captured event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.Events))
	for _, e := range r.Events {
		out = append(out, e.Type)
	}
	return out
}
