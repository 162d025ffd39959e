package reservations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-retail/internal/ledger"
	"github.com/odyssey-erp/odyssey-retail/internal/notify"
	"github.com/odyssey-erp/odyssey-retail/internal/sales"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// RefType tags ledger entries written on behalf of a reservation.
const RefType = "reservation"

const sweepBatch = 500

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetReservation(ctx context.Context, id int64) (Reservation, error)
	ListReservations(ctx context.Context, filter ListFilter) ([]Reservation, int, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]int64, error)
	ListExpiring(ctx context.Context, now, until time.Time, limit int) ([]Reservation, error)
	MarkExpiryNotified(ctx context.Context, id int64, at time.Time) error
}

// TxRepository exposes transactional operations. Stock and Sales are bound
// to the same transaction.
type TxRepository interface {
	Stock() ledger.Store
	Sales() sales.TxRepository
	InsertReservation(ctx context.Context, res Reservation) (int64, error)
	InsertLine(ctx context.Context, line Line) (int64, error)
	LockReservation(ctx context.Context, id int64) (Reservation, error)
	UpdateStatus(ctx context.Context, id int64, status Status, at time.Time, saleID int64) error
	UpdateExpiry(ctx context.Context, id int64, expiresAt time.Time) error
}

// Config tunes the workflow.
type Config struct {
	// ExpiringWindow is how far ahead a reservation counts as expiring soon.
	ExpiringWindow time.Duration
}

// Service orchestrates the reservation workflow.
type Service struct {
	repo    RepositoryPort
	ledger  *ledger.Ledger
	emitter notify.Emitter
	audit   shared.AuditRecorder
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
}

// NewService constructs the reservation service.
func NewService(repo RepositoryPort, l *ledger.Ledger, emitter notify.Emitter, audit shared.AuditRecorder, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if emitter == nil {
		emitter = notify.Discard
	}
	if cfg.ExpiringWindow <= 0 {
		cfg.ExpiringWindow = 24 * time.Hour
	}
	return &Service{
		repo:    repo,
		ledger:  l,
		emitter: emitter,
		audit:   audit,
		logger:  logger,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// LineInput describes one held item.
type LineInput struct {
	ProductID int64
	Quantity  int64
	UnitPrice float64
}

// CreateInput describes a new reservation.
type CreateInput struct {
	CustomerName  string
	CustomerPhone string
	Lines         []LineInput
	Deposit       float64
	ExpiresAt     time.Time
	Notes         string
	ActorID       int64
}

func (s *Service) validateCreate(in CreateInput) (float64, error) {
	if in.CustomerName == "" {
		return 0, shared.Validationf("reservations: customer name required")
	}
	if len(in.Lines) == 0 {
		return 0, shared.Validationf("reservations: at least one line required")
	}
	var total float64
	for i, line := range in.Lines {
		if line.ProductID <= 0 {
			return 0, shared.Validationf("reservations: line %d: product required", i+1)
		}
		if line.Quantity <= 0 {
			return 0, shared.Validationf("reservations: line %d: quantity must be positive", i+1)
		}
		if line.UnitPrice <= 0 {
			return 0, shared.Validationf("reservations: line %d: unit price must be positive", i+1)
		}
		total += line.UnitPrice * float64(line.Quantity)
	}
	total = math.Round(total*100) / 100
	if in.Deposit < 0 {
		return 0, shared.Validationf("reservations: deposit must not be negative")
	}
	if in.Deposit > total {
		return 0, shared.Validationf("reservations: deposit %.2f exceeds total %.2f", in.Deposit, total)
	}
	if !in.ExpiresAt.After(s.now()) {
		return 0, shared.Validationf("reservations: expiration must be in the future")
	}
	return total, nil
}

// Create holds stock for every line and records the reservation atomically.
func (s *Service) Create(ctx context.Context, input CreateInput) (Reservation, error) {
	total, err := s.validateCreate(input)
	if err != nil {
		return Reservation{}, err
	}
	if err := s.precheck(ctx, input.Lines); err != nil {
		return Reservation{}, err
	}

	var (
		created Reservation
		results []ledger.Result
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		res := Reservation{
			Number:        generateNumber(),
			CustomerName:  input.CustomerName,
			CustomerPhone: input.CustomerPhone,
			Total:         total,
			Deposit:       input.Deposit,
			Remaining:     math.Round((total-input.Deposit)*100) / 100,
			ExpiresAt:     input.ExpiresAt.UTC(),
			Status:        StatusActive,
			Notes:         input.Notes,
			ActorID:       input.ActorID,
			CreatedAt:     s.now(),
		}
		id, err := tx.InsertReservation(ctx, res)
		if err != nil {
			return fmt.Errorf("reservations: insert: %w", err)
		}
		res.ID = id
		for _, in := range input.Lines {
			line := Line{
				ReservationID: id,
				ProductID:     in.ProductID,
				Quantity:      in.Quantity,
				UnitPrice:     in.UnitPrice,
				Subtotal:      math.Round(in.UnitPrice*float64(in.Quantity)*100) / 100,
			}
			lineID, err := tx.InsertLine(ctx, line)
			if err != nil {
				return fmt.Errorf("reservations: insert line: %w", err)
			}
			line.ID = lineID
			res.Lines = append(res.Lines, line)
		}
		results, err = s.ledger.AdjustAll(ctx, tx.Stock(), stockRequests(res, -1, ledger.ReasonReservationHold, input.ActorID))
		if err != nil {
			return err
		}
		created = res
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}

	s.ledger.Publish(ctx, results)
	s.emit(ctx, notify.EventReservationCreated, created)
	s.recordAudit(ctx, input.ActorID, "reservation.create", created.ID, nil, created)
	return created, nil
}

// precheck rejects a reservation early when the current quantity is already
// short. The authoritative check happens again under lock.
func (s *Service) precheck(ctx context.Context, lines []LineInput) error {
	need := make(map[int64]int64, len(lines))
	order := make([]int64, 0, len(lines))
	for _, line := range lines {
		if _, ok := need[line.ProductID]; !ok {
			order = append(order, line.ProductID)
		}
		need[line.ProductID] += line.Quantity
	}
	for _, id := range order {
		p, err := s.ledger.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		if p.Quantity < need[id] {
			return &shared.InsufficientStockError{ProductID: id, Requested: need[id], Available: p.Quantity}
		}
	}
	return nil
}

// Complete fulfils an active reservation by recording a sale from its lines.
// Stock is untouched because the hold already consumed it.
func (s *Service) Complete(ctx context.Context, id, actorID int64, method sales.PaymentMethod) (Reservation, sales.Sale, error) {
	if method == "" {
		method = sales.PaymentCash
	}
	if !method.Valid() {
		return Reservation{}, sales.Sale{}, shared.Validationf("reservations: unknown payment method %q", method)
	}
	var (
		completed Reservation
		sale      sales.Sale
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		res, err := tx.LockReservation(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(res.Status, StatusCompleted) {
			return shared.InvalidTransition("reservation", res.Status, StatusCompleted)
		}
		costs, err := unitCosts(ctx, tx.Stock(), res.Lines)
		if err != nil {
			return err
		}
		at := s.now()
		sale, err = sales.Persist(ctx, tx.Sales(), ToSale(res, costs, method, actorID, at))
		if err != nil {
			return err
		}
		if err := tx.UpdateStatus(ctx, id, StatusCompleted, at, sale.ID); err != nil {
			return err
		}
		res.Status = StatusCompleted
		res.SaleID = sale.ID
		res.ClosedAt = &at
		completed = res
		return nil
	})
	if err != nil {
		return Reservation{}, sales.Sale{}, err
	}
	if err := s.emitter.Emit(ctx, notify.EventSaleCreated, map[string]any{
		"sale_id":        sale.ID,
		"number":         sale.Number,
		"total":          sale.Total,
		"reservation_id": id,
	}); err != nil {
		s.logger.Warn("sale notification failed", slog.Int64("sale_id", sale.ID), slog.Any("error", err))
	}
	s.recordAudit(ctx, actorID, "reservation.complete", id,
		map[string]any{"status": StatusActive},
		map[string]any{"status": StatusCompleted, "sale_id": sale.ID})
	return completed, sale, nil
}

// Cancel releases the hold of an active reservation.
func (s *Service) Cancel(ctx context.Context, id, actorID int64) (Reservation, error) {
	return s.release(ctx, id, actorID, StatusCancelled)
}

// Expire releases the hold of an active reservation whose expiration has
// passed. It fails with an invalid transition when the reservation was
// closed concurrently or is not yet due.
func (s *Service) Expire(ctx context.Context, id int64) (Reservation, error) {
	return s.release(ctx, id, 0, StatusExpired)
}

func (s *Service) release(ctx context.Context, id, actorID int64, target Status) (Reservation, error) {
	var (
		released Reservation
		results  []ledger.Result
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		res, err := tx.LockReservation(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(res.Status, target) {
			return shared.InvalidTransition("reservation", res.Status, target)
		}
		at := s.now()
		if target == StatusExpired && res.ExpiresAt.After(at) {
			return fmt.Errorf("%w: reservation %d not due until %s", shared.ErrInvalidTransition, id, res.ExpiresAt.Format(time.RFC3339))
		}
		results, err = s.ledger.AdjustAll(ctx, tx.Stock(), stockRequests(res, 1, ledger.ReasonReservationRelease, actorID))
		if err != nil {
			return err
		}
		if err := tx.UpdateStatus(ctx, id, target, at, 0); err != nil {
			return err
		}
		res.Status = target
		res.ClosedAt = &at
		released = res
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}
	s.ledger.Publish(ctx, results)
	if target == StatusExpired {
		s.emit(ctx, notify.EventReservationExpired, released)
	}
	s.recordAudit(ctx, actorID, "reservation."+string(target), id,
		map[string]any{"status": StatusActive},
		map[string]any{"status": target})
	return released, nil
}

// ExtendExpiration moves the expiration of an active reservation later.
func (s *Service) ExtendExpiration(ctx context.Context, id, actorID int64, expiresAt time.Time) (Reservation, error) {
	if !expiresAt.After(s.now()) {
		return Reservation{}, shared.Validationf("reservations: expiration must be in the future")
	}
	var (
		extended Reservation
		previous time.Time
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		res, err := tx.LockReservation(ctx, id)
		if err != nil {
			return err
		}
		if res.Status != StatusActive {
			return shared.InvalidTransition("reservation", res.Status, "extended")
		}
		if !expiresAt.After(res.ExpiresAt) {
			return shared.Validationf("reservations: new expiration must be later than %s", res.ExpiresAt.Format(time.RFC3339))
		}
		if err := tx.UpdateExpiry(ctx, id, expiresAt.UTC()); err != nil {
			return err
		}
		previous = res.ExpiresAt
		res.ExpiresAt = expiresAt.UTC()
		res.ExpiryNotifiedAt = nil
		extended = res
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}
	s.recordAudit(ctx, actorID, "reservation.extend", id,
		map[string]any{"expires_at": previous},
		map[string]any{"expires_at": extended.ExpiresAt})
	return extended, nil
}

// SweepExpired expires every due reservation and announces the ones about
// to expire. Reservations closed concurrently are skipped.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (SweepResult, error) {
	var result SweepResult
	ids, err := s.repo.ListDue(ctx, now, sweepBatch)
	if err != nil {
		return result, err
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		_, err := s.Expire(ctx, id)
		switch {
		case err == nil:
			result.Expired++
		case errors.Is(err, shared.ErrInvalidTransition), errors.Is(err, shared.ErrNotFound):
			result.Skipped++
		default:
			result.Failed++
			s.logger.Error("reservation expiry failed", slog.Int64("reservation_id", id), slog.Any("error", err))
		}
	}

	expiring, err := s.repo.ListExpiring(ctx, now, now.Add(s.cfg.ExpiringWindow), sweepBatch)
	if err != nil {
		return result, err
	}
	for _, res := range expiring {
		s.emit(ctx, notify.EventReservationExpiring, res)
		if err := s.repo.MarkExpiryNotified(ctx, res.ID, now); err != nil {
			s.logger.Warn("mark expiry notified failed", slog.Int64("reservation_id", res.ID), slog.Any("error", err))
			continue
		}
		result.Notified++
	}
	return result, nil
}

// Get returns a reservation with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Reservation, error) {
	return s.repo.GetReservation(ctx, id)
}

// List returns reservations for a view.
func (s *Service) List(ctx context.Context, view View, limit, offset int) ([]Reservation, int, error) {
	filter := ListFilter{Limit: limit, Offset: offset}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 20
	}
	switch view {
	case "", ViewAll:
	case ViewActive:
		filter.Status = StatusActive
	case ViewExpiring:
		filter.Status = StatusActive
		filter.ExpiresBefore = s.now().Add(s.cfg.ExpiringWindow)
	default:
		return nil, 0, shared.Validationf("reservations: unknown view %q", view)
	}
	return s.repo.ListReservations(ctx, filter)
}

func (s *Service) emit(ctx context.Context, eventType string, res Reservation) {
	payload := map[string]any{
		"reservation_id": res.ID,
		"number":         res.Number,
		"customer_name":  res.CustomerName,
		"expires_at":     res.ExpiresAt,
		"status":         res.Status,
	}
	if err := s.emitter.Emit(ctx, eventType, payload); err != nil {
		s.logger.Warn("reservation notification failed", slog.String("event", eventType), slog.Int64("reservation_id", res.ID), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, id int64, oldValue, newValue any) {
	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "reservation",
		EntityID: strconv.FormatInt(id, 10),
		OldValue: oldValue,
		NewValue: newValue,
	})
}

func unitCosts(ctx context.Context, store ledger.Store, lines []Line) (map[int64]float64, error) {
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	costs := make(map[int64]float64, len(ids))
	for _, id := range ids {
		if _, ok := costs[id]; ok {
			continue
		}
		p, err := store.LockProduct(ctx, id)
		if errors.Is(err, shared.ErrNotFound) {
			costs[id] = 0
			continue
		}
		if err != nil {
			return nil, err
		}
		costs[id] = p.UnitCost
	}
	return costs, nil
}

func stockRequests(res Reservation, sign int64, reason ledger.Reason, actorID int64) []ledger.Request {
	reqs := make([]ledger.Request, 0, len(res.Lines))
	for _, line := range res.Lines {
		reqs = append(reqs, ledger.Request{
			ProductID: line.ProductID,
			Delta:     sign * line.Quantity,
			Reason:    reason,
			RefType:   RefType,
			RefID:     res.ID,
			ActorID:   actorID,
		})
	}
	return reqs
}

func generateNumber() string {
	return fmt.Sprintf("RSV-%d", time.Now().UnixNano())
}
