package reservations

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

const reservationColumns = `id, number, customer_name, COALESCE(customer_phone, ''), total, deposit, remaining, expires_at,
status, COALESCE(sale_id, 0), COALESCE(notes, ''), COALESCE(actor_id, 0), created_at, closed_at, expiry_notified_at`

// Repository persists reservations in PostgreSQL.
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

// GetReservation implements RepositoryPort.
func (r *Repository) GetReservation(ctx context.Context, id int64) (Reservation, error) {
	res, err := getReservation(ctx, r.pool, id, false)
	if err != nil {
		return Reservation{}, db.Classify(err)
	}
	return res, nil
}

// ListReservations implements RepositoryPort.
func (r *Repository) ListReservations(ctx context.Context, filter ListFilter) ([]Reservation, int, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if !filter.ExpiresBefore.IsZero() {
		args = append(args, filter.ExpiresBefore)
		conds = append(conds, fmt.Sprintf("expires_at <= $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM reservations`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify(err)
	}
	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM reservations%s ORDER BY expires_at, id LIMIT $%d OFFSET $%d`, reservationColumns, where, len(args)-1, len(args))
	out, err := queryReservations(ctx, r.pool, query, args...)
	if err != nil {
		return nil, 0, db.Classify(err)
	}
	return out, total, nil
}

// ListDue returns active reservations whose expiration has passed.
func (r *Repository) ListDue(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM reservations WHERE status = $1 AND expires_at <= $2 ORDER BY expires_at LIMIT $3`,
		string(StatusActive), now, limit)
	if err != nil {
		return nil, db.Classify(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, db.Classify(err)
	}
	return ids, nil
}

// ListExpiring returns active reservations expiring in (now, until] that
// have not been announced yet.
func (r *Repository) ListExpiring(ctx context.Context, now, until time.Time, limit int) ([]Reservation, error) {
	out, err := queryReservations(ctx, r.pool, `SELECT `+reservationColumns+` FROM reservations
WHERE status = $1 AND expires_at > $2 AND expires_at <= $3 AND expiry_notified_at IS NULL
ORDER BY expires_at LIMIT $4`, string(StatusActive), now, until, limit)
	if err != nil {
		return nil, db.Classify(err)
	}
	return out, nil
}

// MarkExpiryNotified records that the expiring notice went out.
func (r *Repository) MarkExpiryNotified(ctx context.Context, id int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE reservations SET expiry_notified_at = $2 WHERE id = $1`, id, at)
	return db.Classify(err)
}

type txRepo struct {
	tx    pgx.Tx
	stock ledger.Store
	sales sales.TxRepository
}

func (t *txRepo) Stock() ledger.Store       { return t.stock }
func (t *txRepo) Sales() sales.TxRepository { return t.sales }

func (t *txRepo) InsertReservation(ctx context.Context, res Reservation) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO reservations (number, customer_name, customer_phone, total, deposit, remaining,
expires_at, status, notes, actor_id, created_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, 0), $11)
RETURNING id`,
		res.Number, res.CustomerName, res.CustomerPhone, res.Total, res.Deposit, res.Remaining,
		res.ExpiresAt, string(res.Status), res.Notes, res.ActorID, res.CreatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) InsertLine(ctx context.Context, line Line) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO reservation_lines (reservation_id, product_id, quantity, unit_price, subtotal)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		line.ReservationID, line.ProductID, line.Quantity, line.UnitPrice, line.Subtotal).Scan(&id)
	return id, err
}

func (t *txRepo) LockReservation(ctx context.Context, id int64) (Reservation, error) {
	return getReservation(ctx, t.tx, id, true)
}

func (t *txRepo) UpdateStatus(ctx context.Context, id int64, status Status, at time.Time, saleID int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE reservations SET status = $2, closed_at = $3, sale_id = NULLIF($4, 0) WHERE id = $1`,
		id, string(status), at, saleID)
	return err
}

func (t *txRepo) UpdateExpiry(ctx context.Context, id int64, expiresAt time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE reservations SET expires_at = $2, expiry_notified_at = NULL WHERE id = $1`, id, expiresAt)
	return err
}

func scanReservation(row pgx.Row) (Reservation, error) {
	var (
		res    Reservation
		status string
	)
	err := row.Scan(&res.ID, &res.Number, &res.CustomerName, &res.CustomerPhone, &res.Total, &res.Deposit, &res.Remaining,
		&res.ExpiresAt, &status, &res.SaleID, &res.Notes, &res.ActorID, &res.CreatedAt, &res.ClosedAt, &res.ExpiryNotifiedAt)
	res.Status = Status(status)
	return res, err
}

func queryReservations(ctx context.Context, q db.DBTX, query string, args ...any) ([]Reservation, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func getReservation(ctx context.Context, q db.DBTX, id int64, forUpdate bool) (Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	res, err := scanReservation(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, shared.NotFoundf("reservation %d", id)
	}
	if err != nil {
		return Reservation{}, err
	}
	rows, err := q.Query(ctx, `SELECT id, reservation_id, product_id, quantity, unit_price, subtotal
FROM reservation_lines WHERE reservation_id = $1 ORDER BY id`, id)
	if err != nil {
		return Reservation{}, err
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Line, error) {
		var l Line
		err := row.Scan(&l.ID, &l.ReservationID, &l.ProductID, &l.Quantity, &l.UnitPrice, &l.Subtotal)
		return l, err
	})
	if err != nil {
		return Reservation{}, err
	}
	res.Lines = lines
	return res, nil
}
