package sales

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-retail/internal/ledger"
	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

const saleColumns = `id, number, COALESCE(customer_name, ''), subtotal, discount_percent, discount_flat, discount_amount,
total, profit, payment_method, status, source, COALESCE(reservation_id, 0), COALESCE(notes, ''),
COALESCE(actor_id, 0), created_at, cancelled_at, COALESCE(cancel_reason, '')`

// Repository persists sales in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	runner *db.Runner
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, runner *db.Runner) *Repository {
	return &Repository{pool: pool, runner: runner}
}

// WithTx runs fn inside a retrying repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.runner.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// GetSale implements RepositoryPort.
func (r *Repository) GetSale(ctx context.Context, id int64) (Sale, error) {
	sale, err := getSale(ctx, r.pool, id, false)
	if err != nil {
		return Sale{}, db.Classify(err)
	}
	return sale, nil
}

// ListSales implements RepositoryPort.
func (r *Repository) ListSales(ctx context.Context, filter ListFilter) ([]Sale, int, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conds = append(conds, fmt.Sprintf("created_at < $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sales`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify(err)
	}
	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM sales%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, saleColumns, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, db.Classify(err)
	}
	defer rows.Close()
	var out []Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, 0, db.Classify(err)
		}
		out = append(out, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, db.Classify(err)
	}
	return out, total, nil
}

type txRepo struct {
	tx    db.DBTX
	stock ledger.Store
}

// NewTxRepository binds sale writes and the ledger store to one transaction.
func NewTxRepository(tx db.DBTX) TxRepository {
	return &txRepo{tx: tx, stock: ledger.NewTxStore(tx)}
}

func (t *txRepo) Stock() ledger.Store { return t.stock }

func (t *txRepo) InsertSale(ctx context.Context, sale Sale) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO sales (number, customer_name, subtotal, discount_percent, discount_flat, discount_amount,
total, profit, payment_method, status, source, reservation_id, notes, actor_id, created_at)
VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, 0), NULLIF($13, ''), NULLIF($14, 0), $15)
RETURNING id`,
		sale.Number, sale.CustomerName, sale.Subtotal, sale.DiscountPercent, sale.DiscountFlat, sale.DiscountAmount,
		sale.Total, sale.Profit, string(sale.PaymentMethod), string(sale.Status), string(sale.Source), sale.ReservationID,
		sale.Notes, sale.ActorID, sale.CreatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) InsertLine(ctx context.Context, line Line) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO sale_lines (sale_id, product_id, quantity, unit_price, unit_cost, subtotal, profit)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		line.SaleID, line.ProductID, line.Quantity, line.UnitPrice, line.UnitCost, line.Subtotal, line.Profit).Scan(&id)
	return id, err
}

func (t *txRepo) LockSale(ctx context.Context, id int64) (Sale, error) {
	return getSale(ctx, t.tx, id, true)
}

func (t *txRepo) MarkCancelled(ctx context.Context, id int64, at time.Time, reason string) error {
	_, err := t.tx.Exec(ctx, `UPDATE sales SET status = $2, cancelled_at = $3, cancel_reason = NULLIF($4, ''), updated_at = $3 WHERE id = $1`,
		id, string(StatusCancelled), at, reason)
	return err
}

func (t *txRepo) Touch(ctx context.Context, id int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE sales SET updated_at = $2 WHERE id = $1`, id, at)
	return err
}

func (t *txRepo) AppliedReturnCount(ctx context.Context, saleID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM exchange_returns
WHERE sale_id = $1 AND status IN ('approved', 'completed')`, saleID).Scan(&n)
	return n, err
}

func scanSale(row pgx.Row) (Sale, error) {
	var (
		s           Sale
		method      string
		status      string
		source      string
		cancelledAt *time.Time
	)
	err := row.Scan(&s.ID, &s.Number, &s.CustomerName, &s.Subtotal, &s.DiscountPercent, &s.DiscountFlat, &s.DiscountAmount,
		&s.Total, &s.Profit, &method, &status, &source, &s.ReservationID, &s.Notes,
		&s.ActorID, &s.CreatedAt, &cancelledAt, &s.CancelReason)
	if err != nil {
		return Sale{}, err
	}
	s.PaymentMethod = PaymentMethod(method)
	s.Status = Status(status)
	s.Source = Source(source)
	s.CancelledAt = cancelledAt
	return s, nil
}

func getSale(ctx context.Context, q db.DBTX, id int64, forUpdate bool) (Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	sale, err := scanSale(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, shared.NotFoundf("sale %d", id)
	}
	if err != nil {
		return Sale{}, err
	}
	rows, err := q.Query(ctx, `SELECT id, sale_id, product_id, quantity, unit_price, unit_cost, subtotal, profit
FROM sale_lines WHERE sale_id = $1 ORDER BY id`, id)
	if err != nil {
		return Sale{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.SaleID, &l.ProductID, &l.Quantity, &l.UnitPrice, &l.UnitCost, &l.Subtotal, &l.Profit); err != nil {
			return Sale{}, err
		}
		sale.Lines = append(sale.Lines, l)
	}
	return sale, rows.Err()
}
