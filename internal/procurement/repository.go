package procurement

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-retail/internal/ledger"
	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

const poColumns = `p.id, p.number, COALESCE(p.supplier_id, 0), COALESCE(p.supplier_name, ''), p.status, p.payment_status,
p.total, p.expected_date, COALESCE(p.notes, ''), COALESCE(p.actor_id, 0), p.created_at, p.updated_at, p.received_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool   *pgxpool.Pool
	runner *db.Runner
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, runner *db.Runner) *Repository {
	return &Repository{pool: pool, runner: runner}
}

type txRepo struct {
	tx    pgx.Tx
	stock ledger.Store
}

// WithTx wraps callback in a retrying repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.runner.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, stock: ledger.NewTxStore(tx)})
	})
}

// GetPO returns purchase order and lines.
func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, err := getPO(ctx, r.pool, id, false)
	if err != nil {
		return PurchaseOrder{}, db.Classify(err)
	}
	return po, nil
}

// ListPOs returns purchase order headers matching filters.
func (r *Repository) ListPOs(ctx context.Context, filters ListFilters) ([]PurchaseOrder, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	argNum := 1

	if filters.Status != "" {
		where += ` AND p.status = $` + itoa(argNum)
		args = append(args, string(filters.Status))
		argNum++
	}
	if filters.PaymentStatus != "" {
		where += ` AND p.payment_status = $` + itoa(argNum)
		args = append(args, string(filters.PaymentStatus))
		argNum++
	}
	if filters.SupplierID > 0 {
		where += ` AND p.supplier_id = $` + itoa(argNum)
		args = append(args, filters.SupplierID)
		argNum++
	}
	if filters.Search != "" {
		where += ` AND (p.number ILIKE $` + itoa(argNum) + ` OR p.supplier_name ILIKE $` + itoa(argNum) + `)`
		args = append(args, "%"+filters.Search+"%")
		argNum++
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders p`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify(err)
	}

	dataSQL := `SELECT ` + poColumns + ` FROM purchase_orders p` + where +
		` ORDER BY ` + sortOrderPO(filters.SortBy, filters.SortDir) +
		` LIMIT $` + itoa(argNum) + ` OFFSET $` + itoa(argNum+1)
	args = append(args, filters.Limit, filters.Offset)

	rows, err := r.pool.Query(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, db.Classify(err)
	}
	defer rows.Close()

	var items []PurchaseOrder
	for rows.Next() {
		po, err := scanPO(rows)
		if err != nil {
			return nil, 0, db.Classify(err)
		}
		items = append(items, po)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, db.Classify(err)
	}
	return items, total, nil
}

func (t *txRepo) Stock() ledger.Store { return t.stock }

func (t *txRepo) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, supplier_id, supplier_name, status, payment_status, total,
expected_date, notes, actor_id, created_at, updated_at)
VALUES ($1, NULLIF($2, 0), NULLIF($3, ''), $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, 0), $10, $11)
RETURNING id`,
		po.Number, po.SupplierID, po.SupplierName, string(po.Status), string(po.PaymentStatus), po.Total,
		po.ExpectedDate, po.Notes, po.ActorID, po.CreatedAt, po.UpdatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) InsertPOLine(ctx context.Context, line Line) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_order_lines (order_id, product_id, quantity, unit_cost, subtotal)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		line.OrderID, line.ProductID, line.Quantity, line.UnitCost, line.Subtotal).Scan(&id)
	return id, err
}

func (t *txRepo) LockPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	return getPO(ctx, t.tx, id, true)
}

func (t *txRepo) UpdatePOStatus(ctx context.Context, id int64, status Status, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), at)
	return err
}

func (t *txRepo) MarkReceived(ctx context.Context, id int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET status = $2, received_at = $3, updated_at = $3 WHERE id = $1`,
		id, string(StatusReceived), at)
	return err
}

func (t *txRepo) UpdatePaymentStatus(ctx context.Context, id int64, status PaymentStatus, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET payment_status = $2, updated_at = $3 WHERE id = $1`, id, string(status), at)
	return err
}

func (t *txRepo) DeletePO(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM purchase_order_lines WHERE order_id = $1`, id); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM purchase_orders WHERE id = $1`, id)
	return err
}

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var (
		po            PurchaseOrder
		status, payst string
	)
	err := row.Scan(&po.ID, &po.Number, &po.SupplierID, &po.SupplierName, &status, &payst,
		&po.Total, &po.ExpectedDate, &po.Notes, &po.ActorID, &po.CreatedAt, &po.UpdatedAt, &po.ReceivedAt)
	po.Status = Status(status)
	po.PaymentStatus = PaymentStatus(payst)
	return po, err
}

func getPO(ctx context.Context, q db.DBTX, id int64, forUpdate bool) (PurchaseOrder, error) {
	query := `SELECT ` + poColumns + ` FROM purchase_orders p WHERE p.id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	po, err := scanPO(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, shared.NotFoundf("purchase order %d", id)
		}
		return PurchaseOrder{}, err
	}
	rows, err := q.Query(ctx, `SELECT id, order_id, product_id, quantity, unit_cost, subtotal
FROM purchase_order_lines WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Line, error) {
		var l Line
		err := row.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.Quantity, &l.UnitCost, &l.Subtotal)
		return l, err
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Lines = lines
	return po, nil
}

func itoa(i int) string {
	return strconv.Itoa(i)
}

// sortOrderPO returns a safe ORDER BY clause for PO queries.
func sortOrderPO(sortBy, sortDir string) string {
	dir := "DESC"
	if sortDir == "asc" {
		dir = "ASC"
	}
	switch sortBy {
	case "number":
		return "p.number " + dir
	case "supplier":
		return "p.supplier_name " + dir
	case "expected_date":
		return "p.expected_date " + dir
	case "total":
		return "p.total " + dir
	case "status":
		return "p.status " + dir
	default:
		return "p.created_at DESC, p.id DESC"
	}
}
