package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

const productColumns = `id, sku, name, quantity, unit_cost, sale_price, min_stock, opening_quantity, updated_at`

// Repository is the PostgreSQL read side of the ledger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Quantity, &p.UnitCost, &p.SalePrice, &p.MinStock, &p.OpeningQuantity, &p.UpdatedAt)
	return p, err
}

// GetProduct implements ReadRepository.
func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, shared.NotFoundf("product %d", id)
	}
	if err != nil {
		return Product{}, db.Classify(err)
	}
	return p, nil
}

// ListProducts implements ReadRepository.
func (r *Repository) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, int, error) {
	where := ""
	if filter.LowStockOnly {
		where = ` WHERE quantity <= min_stock`
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products`+where).Scan(&total); err != nil {
		return nil, 0, db.Classify(err)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products`+where+` ORDER BY id LIMIT $1 OFFSET $2`, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, db.Classify(err)
	}
	defer rows.Close()
	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, db.Classify(err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, db.Classify(err)
	}
	return products, total, nil
}

// ListAdjustments implements ReadRepository.
func (r *Repository) ListAdjustments(ctx context.Context, filter AdjustmentFilter) ([]Adjustment, error) {
	var (
		conds []string
		args  []any
	)
	if filter.ProductID > 0 {
		args = append(args, filter.ProductID)
		conds = append(conds, fmt.Sprintf("product_id = $%d", len(args)))
	}
	if filter.RefType != "" {
		args = append(args, filter.RefType)
		conds = append(conds, fmt.Sprintf("ref_type = $%d", len(args)))
	}
	if filter.RefID > 0 {
		args = append(args, filter.RefID)
		conds = append(conds, fmt.Sprintf("ref_id = $%d", len(args)))
	}
	args = append(args, filter.Limit)
	query := `SELECT id, product_id, delta, quantity_after, reason, COALESCE(ref_type, ''), COALESCE(ref_id, 0), COALESCE(actor_id, 0), created_at
FROM stock_adjustments`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var out []Adjustment
	for rows.Next() {
		var a Adjustment
		if err := rows.Scan(&a.ID, &a.ProductID, &a.Delta, &a.QuantityAfter, &a.Reason, &a.RefType, &a.RefID, &a.ActorID, &a.CreatedAt); err != nil {
			return nil, db.Classify(err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	return out, nil
}

// SumDeltas implements ReadRepository.
func (r *Repository) SumDeltas(ctx context.Context, productID int64) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(delta), 0) FROM stock_adjustments WHERE product_id = $1`, productID).Scan(&sum)
	if err != nil {
		return 0, db.Classify(err)
	}
	return sum, nil
}

type txStore struct {
	q db.DBTX
}

// NewTxStore binds the ledger write port to an open transaction so workflow
// rows and stock movements commit together.
func NewTxStore(q db.DBTX) Store {
	return &txStore{q: q}
}

func (s *txStore) LockProduct(ctx context.Context, productID int64) (Product, error) {
	p, err := scanProduct(s.q.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, shared.NotFoundf("product %d", productID)
	}
	return p, err
}

func (s *txStore) ApplyDelta(ctx context.Context, productID, delta int64) (int64, error) {
	var qty int64
	err := s.q.QueryRow(ctx, `UPDATE products SET quantity = quantity + $2, updated_at = NOW()
WHERE id = $1 AND quantity + $2 >= 0
RETURNING quantity`, productID, delta).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		var available int64
		if scanErr := s.q.QueryRow(ctx, `SELECT quantity FROM products WHERE id = $1`, productID).Scan(&available); scanErr != nil {
			return 0, shared.NotFoundf("product %d", productID)
		}
		return 0, &shared.InsufficientStockError{ProductID: productID, Requested: -delta, Available: available}
	}
	return qty, err
}

func (s *txStore) InsertAdjustment(ctx context.Context, adj Adjustment) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `INSERT INTO stock_adjustments (product_id, delta, quantity_after, reason, ref_type, ref_id, actor_id, created_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, 0), NULLIF($7, 0), $8)
RETURNING id`, adj.ProductID, adj.Delta, adj.QuantityAfter, string(adj.Reason), adj.RefType, adj.RefID, adj.ActorID, adj.CreatedAt).Scan(&id)
	return id, err
}

func (s *txStore) SetUnitCost(ctx context.Context, productID int64, unitCost float64) error {
	tag, err := s.q.Exec(ctx, `UPDATE products SET unit_cost = $2, updated_at = NOW() WHERE id = $1`, productID, unitCost)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("product %d", productID)
	}
	return nil
}
