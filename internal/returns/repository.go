package returns

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
	"github.com/odyssey-erp/odyssey-retail/internal/sales"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

const returnColumns = `id, number, type, sale_id, status, refund_amount, COALESCE(refund_method, ''), COALESCE(notes, ''),
COALESCE(actor_id, 0), created_at, updated_at, processed_at`

// Repository persists exchanges and returns in PostgreSQL.
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
		return fn(ctx, &txRepo{tx: tx, stock: ledger.NewTxStore(tx), sales: sales.NewTxRepository(tx)})
	})
}

// GetReturn implements RepositoryPort.
func (r *Repository) GetReturn(ctx context.Context, id int64) (ExchangeReturn, error) {
	er, err := getReturn(ctx, r.pool, id, false)
	if err != nil {
		return ExchangeReturn{}, db.Classify(err)
	}
	return er, nil
}

// ListReturns implements RepositoryPort. Items are not loaded.
func (r *Repository) ListReturns(ctx context.Context, filter ListFilter) ([]ExchangeReturn, int, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.SaleID > 0 {
		args = append(args, filter.SaleID)
		conds = append(conds, fmt.Sprintf("sale_id = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM exchange_returns`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify(err)
	}
	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM exchange_returns%s ORDER BY id DESC LIMIT $%d OFFSET $%d`, returnColumns, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, db.Classify(err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ExchangeReturn, error) {
		return scanReturn(row)
	})
	if err != nil {
		return nil, 0, db.Classify(err)
	}
	return out, total, nil
}

// Stats implements RepositoryPort.
func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByStatus: map[Status]int{}, ByType: map[Type]int{}}
	rows, err := r.pool.Query(ctx, `SELECT type, status, COUNT(*),
COALESCE(SUM(refund_amount) FILTER (WHERE status = $1), 0)
FROM exchange_returns GROUP BY type, status`, string(StatusCompleted))
	if err != nil {
		return Stats{}, db.Classify(err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			typ, status string
			count       int
			refunded    float64
		)
		if err := rows.Scan(&typ, &status, &count, &refunded); err != nil {
			return Stats{}, db.Classify(err)
		}
		stats.Total += count
		stats.ByStatus[Status(status)] += count
		stats.ByType[Type(typ)] += count
		stats.TotalRefunded += refunded
	}
	return stats, db.Classify(rows.Err())
}

type txRepo struct {
	tx    pgx.Tx
	stock ledger.Store
	sales sales.TxRepository
}

func (t *txRepo) Stock() ledger.Store { return t.stock }

func (t *txRepo) Sales() sales.TxRepository { return t.sales }

func (t *txRepo) ReturnedQuantities(ctx context.Context, saleID int64) (map[int64]int64, error) {
	rows, err := t.tx.Query(ctx, `SELECT i.product_id, SUM(i.quantity)
FROM exchange_return_items i
JOIN exchange_returns er ON er.id = i.return_id
WHERE er.sale_id = $1 AND er.status NOT IN ($2, $3)
GROUP BY i.product_id`, saleID, string(StatusRejected), string(StatusCancelled))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]int64)
	for rows.Next() {
		var productID, qty int64
		if err := rows.Scan(&productID, &qty); err != nil {
			return nil, err
		}
		out[productID] = qty
	}
	return out, rows.Err()
}

func (t *txRepo) InsertReturn(ctx context.Context, er ExchangeReturn) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO exchange_returns (number, type, sale_id, status, refund_amount, refund_method,
notes, actor_id, created_at, updated_at, processed_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, 0), $9, $10, $11)
RETURNING id`,
		er.Number, string(er.Type), er.SaleID, string(er.Status), er.RefundAmount, er.RefundMethod,
		er.Notes, er.ActorID, er.CreatedAt, er.UpdatedAt, er.ProcessedAt).Scan(&id)
	return id, err
}

func (t *txRepo) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO exchange_return_items (return_id, product_id, quantity, reason,
replacement_product_id, replacement_quantity)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, 0), $6) RETURNING id`,
		item.ReturnID, item.ProductID, item.Quantity, item.Reason, item.ReplacementProductID, item.ReplacementQuantity).Scan(&id)
	return id, err
}

func (t *txRepo) LockReturn(ctx context.Context, id int64) (ExchangeReturn, error) {
	return getReturn(ctx, t.tx, id, true)
}

func (t *txRepo) UpdateStatus(ctx context.Context, id int64, status Status, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE exchange_returns
SET status = $2, updated_at = $3,
    processed_at = CASE WHEN $2 IN ('approved', 'completed') THEN COALESCE(processed_at, $3) ELSE processed_at END
WHERE id = $1`, id, string(status), at)
	return err
}

func (t *txRepo) UpdateFields(ctx context.Context, id int64, fields Fields, at time.Time) error {
	sets := []string{"updated_at = $2"}
	args := []any{id, at}
	if fields.RefundAmount != nil {
		args = append(args, *fields.RefundAmount)
		sets = append(sets, fmt.Sprintf("refund_amount = $%d", len(args)))
	}
	if fields.RefundMethod != nil {
		args = append(args, *fields.RefundMethod)
		sets = append(sets, fmt.Sprintf("refund_method = NULLIF($%d, '')", len(args)))
	}
	if fields.Notes != nil {
		args = append(args, *fields.Notes)
		sets = append(sets, fmt.Sprintf("notes = NULLIF($%d, '')", len(args)))
	}
	_, err := t.tx.Exec(ctx, `UPDATE exchange_returns SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	return err
}

func (t *txRepo) DeleteReturn(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM exchange_return_items WHERE return_id = $1`, id); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM exchange_returns WHERE id = $1`, id)
	return err
}

func scanReturn(row pgx.Row) (ExchangeReturn, error) {
	var (
		er          ExchangeReturn
		typ, status string
	)
	err := row.Scan(&er.ID, &er.Number, &typ, &er.SaleID, &status, &er.RefundAmount, &er.RefundMethod, &er.Notes,
		&er.ActorID, &er.CreatedAt, &er.UpdatedAt, &er.ProcessedAt)
	er.Type = Type(typ)
	er.Status = Status(status)
	return er, err
}

func getReturn(ctx context.Context, q db.DBTX, id int64, forUpdate bool) (ExchangeReturn, error) {
	query := `SELECT ` + returnColumns + ` FROM exchange_returns WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	er, err := scanReturn(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ExchangeReturn{}, shared.NotFoundf("exchange return %d", id)
	}
	if err != nil {
		return ExchangeReturn{}, err
	}
	rows, err := q.Query(ctx, `SELECT id, return_id, product_id, quantity, COALESCE(reason, ''),
COALESCE(replacement_product_id, 0), replacement_quantity
FROM exchange_return_items WHERE return_id = $1 ORDER BY id`, id)
	if err != nil {
		return ExchangeReturn{}, err
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Item, error) {
		var it Item
		err := row.Scan(&it.ID, &it.ReturnID, &it.ProductID, &it.Quantity, &it.Reason, &it.ReplacementProductID, &it.ReplacementQuantity)
		return it, err
	})
	if err != nil {
		return ExchangeReturn{}, err
	}
	er.Items = items
	return er, nil
}
