package sales

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-retail/internal/ledger"
	"github.com/odyssey-erp/odyssey-retail/internal/notify"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// RefType tags ledger entries written on behalf of a sale.
const RefType = "sale"

const idempotencyModule = "sales"

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSale(ctx context.Context, id int64) (Sale, error)
	ListSales(ctx context.Context, filter ListFilter) ([]Sale, int, error)
}

// TxRepository exposes transactional operations. Stock returns the ledger
// port bound to the same transaction.
type TxRepository interface {
	Stock() ledger.Store
	InsertSale(ctx context.Context, sale Sale) (int64, error)
	InsertLine(ctx context.Context, line Line) (int64, error)
	LockSale(ctx context.Context, id int64) (Sale, error)
	MarkCancelled(ctx context.Context, id int64, at time.Time, reason string) error
	// Touch bumps the sale row so concurrent writers that locked it on an
	// older snapshot fail serialization and retry.
	Touch(ctx context.Context, id int64, at time.Time) error
	// AppliedReturnCount counts approved or completed returns of a sale.
	AppliedReturnCount(ctx context.Context, saleID int64) (int, error)
}

// IdempotencyPort deduplicates create requests carrying an Idempotency-Key.
type IdempotencyPort interface {
	Claim(ctx context.Context, key, module string) (int64, bool, error)
	Complete(ctx context.Context, key, module string, refID int64) error
	Release(ctx context.Context, key, module string) error
}

// Service orchestrates the sale workflow.
type Service struct {
	repo        RepositoryPort
	ledger      *ledger.Ledger
	emitter     notify.Emitter
	audit       shared.AuditRecorder
	idempotency IdempotencyPort
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs the sale service. emitter, audit and idem may be nil.
func NewService(repo RepositoryPort, l *ledger.Ledger, emitter notify.Emitter, audit shared.AuditRecorder, idem IdempotencyPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if emitter == nil {
		emitter = notify.Discard
	}
	return &Service{
		repo:        repo,
		ledger:      l,
		emitter:     emitter,
		audit:       audit,
		idempotency: idem,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// LineInput describes one cart line.
type LineInput struct {
	ProductID int64
	Quantity  int64
	UnitPrice float64
}

// CreateInput describes a checkout.
type CreateInput struct {
	Lines          []LineInput
	Discount       Discount
	PaymentMethod  PaymentMethod
	CustomerName   string
	Notes          string
	ActorID        int64
	IdempotencyKey string
}

func (in CreateInput) validate() error {
	if len(in.Lines) == 0 {
		return shared.Validationf("sales: at least one line required")
	}
	for i, line := range in.Lines {
		if line.ProductID <= 0 {
			return shared.Validationf("sales: line %d: product required", i+1)
		}
		if line.Quantity <= 0 {
			return shared.Validationf("sales: line %d: quantity must be positive", i+1)
		}
		if line.UnitPrice <= 0 {
			return shared.Validationf("sales: line %d: unit price must be positive", i+1)
		}
	}
	if !in.PaymentMethod.Valid() {
		return shared.Validationf("sales: unknown payment method %q", in.PaymentMethod)
	}
	if in.Discount.Percent < 0 || in.Discount.Percent > 100 {
		return shared.Validationf("sales: discount percent must be within 0..100")
	}
	if in.Discount.Flat < 0 {
		return shared.Validationf("sales: flat discount must not be negative")
	}
	return nil
}

// Create commits a sale, its lines and the stock consumption atomically.
func (s *Service) Create(ctx context.Context, input CreateInput) (Sale, error) {
	if err := input.validate(); err != nil {
		return Sale{}, err
	}
	for _, line := range input.Lines {
		if _, err := s.ledger.GetProduct(ctx, line.ProductID); err != nil {
			return Sale{}, err
		}
	}

	if input.IdempotencyKey != "" && s.idempotency != nil {
		refID, claimed, err := s.idempotency.Claim(ctx, input.IdempotencyKey, idempotencyModule)
		if err != nil {
			return Sale{}, err
		}
		if !claimed {
			return s.repo.GetSale(ctx, refID)
		}
	}

	var (
		created Sale
		results []ledger.Result
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		costs, err := lockCosts(ctx, tx.Stock(), input.Lines)
		if err != nil {
			return err
		}
		sale := Sale{
			Number:        generateNumber("SL"),
			CustomerName:  input.CustomerName,
			PaymentMethod: input.PaymentMethod,
			Status:        StatusActive,
			Source:        SourceCounter,
			Notes:         input.Notes,
			ActorID:       input.ActorID,
			CreatedAt:     s.now(),
		}
		for _, line := range input.Lines {
			sale.Lines = append(sale.Lines, Line{
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				UnitPrice: line.UnitPrice,
				UnitCost:  costs[line.ProductID],
			})
		}
		sale = ApplyTotals(sale, input.Discount)
		created, err = Persist(ctx, tx, sale)
		if err != nil {
			return err
		}
		results, err = s.ledger.AdjustAll(ctx, tx.Stock(), stockRequests(created, -1, ledger.ReasonSale, input.ActorID))
		return err
	})
	if err != nil {
		if input.IdempotencyKey != "" && s.idempotency != nil {
			if relErr := s.idempotency.Release(context.WithoutCancel(ctx), input.IdempotencyKey, idempotencyModule); relErr != nil {
				s.logger.Warn("release idempotency key failed", slog.Any("error", relErr))
			}
		}
		return Sale{}, err
	}
	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.Complete(ctx, input.IdempotencyKey, idempotencyModule, created.ID); err != nil {
			s.logger.Warn("complete idempotency key failed", slog.Int64("sale_id", created.ID), slog.Any("error", err))
		}
	}

	s.ledger.Publish(ctx, results)
	s.emit(ctx, notify.EventSaleCreated, created)
	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditLog{
		ActorID:  input.ActorID,
		Action:   "sale.create",
		Entity:   "sale",
		EntityID: strconv.FormatInt(created.ID, 10),
		NewValue: created,
	})
	return created, nil
}

// Persist writes a fully priced sale and its lines inside tx without
// touching stock. Reservation fulfilment uses it directly since the hold
// already consumed the quantity.
func Persist(ctx context.Context, tx TxRepository, sale Sale) (Sale, error) {
	id, err := tx.InsertSale(ctx, sale)
	if err != nil {
		return Sale{}, fmt.Errorf("sales: insert sale: %w", err)
	}
	sale.ID = id
	for i := range sale.Lines {
		sale.Lines[i].SaleID = id
		lineID, err := tx.InsertLine(ctx, sale.Lines[i])
		if err != nil {
			return Sale{}, fmt.Errorf("sales: insert line: %w", err)
		}
		sale.Lines[i].ID = lineID
	}
	return sale, nil
}

// Cancel reverses every line's stock effect and marks the sale cancelled.
// A sale with approved or completed returns cannot be cancelled since part
// of its stock is already back on the shelf.
func (s *Service) Cancel(ctx context.Context, id, actorID int64, reason string) (Sale, error) {
	var (
		before, after Sale
		results       []ledger.Result
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.LockSale(ctx, id)
		if err != nil {
			return err
		}
		if sale.Status != StatusActive {
			return shared.InvalidTransition("sale", sale.Status, StatusCancelled)
		}
		returned, err := tx.AppliedReturnCount(ctx, id)
		if err != nil {
			return err
		}
		if returned > 0 {
			return fmt.Errorf("%w: sale %d has %d processed returns", shared.ErrInvalidTransition, id, returned)
		}
		before = sale
		results, err = s.ledger.AdjustAll(ctx, tx.Stock(), stockRequests(sale, 1, ledger.ReasonSaleCancel, actorID))
		if err != nil {
			return err
		}
		at := s.now()
		if err := tx.MarkCancelled(ctx, id, at, reason); err != nil {
			return err
		}
		sale.Status = StatusCancelled
		sale.CancelledAt = &at
		sale.CancelReason = reason
		after = sale
		return nil
	})
	if err != nil {
		return Sale{}, err
	}
	s.ledger.Publish(ctx, results)
	s.emit(ctx, notify.EventSaleCancelled, after)
	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditLog{
		ActorID:  actorID,
		Action:   "sale.cancel",
		Entity:   "sale",
		EntityID: strconv.FormatInt(id, 10),
		OldValue: map[string]any{"status": before.Status},
		NewValue: map[string]any{"status": after.Status, "reason": reason},
	})
	return after, nil
}

// Get returns a sale with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Sale, error) {
	return s.repo.GetSale(ctx, id)
}

// List returns sales matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Sale, int, error) {
	if filter.Status != "" && filter.Status != StatusActive && filter.Status != StatusCancelled {
		return nil, 0, shared.Validationf("sales: unknown status %q", filter.Status)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, 0, shared.Validationf("sales: date_to before date_from")
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 20
	}
	return s.repo.ListSales(ctx, filter)
}

func (s *Service) emit(ctx context.Context, eventType string, sale Sale) {
	payload := map[string]any{
		"sale_id": sale.ID,
		"number":  sale.Number,
		"total":   sale.Total,
		"status":  sale.Status,
	}
	if err := s.emitter.Emit(ctx, eventType, payload); err != nil {
		s.logger.Warn("sale notification failed", slog.String("event", eventType), slog.Int64("sale_id", sale.ID), slog.Any("error", err))
	}
}

// lockCosts locks every product once, in id order, and captures its unit cost.
func lockCosts(ctx context.Context, store ledger.Store, lines []LineInput) (map[int64]float64, error) {
	ids := make([]int64, 0, len(lines))
	seen := make(map[int64]struct{}, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	costs := make(map[int64]float64, len(ids))
	for _, id := range ids {
		p, err := store.LockProduct(ctx, id)
		if err != nil {
			return nil, err
		}
		costs[id] = p.UnitCost
	}
	return costs, nil
}

func stockRequests(sale Sale, sign int64, reason ledger.Reason, actorID int64) []ledger.Request {
	reqs := make([]ledger.Request, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		reqs = append(reqs, ledger.Request{
			ProductID: line.ProductID,
			Delta:     sign * line.Quantity,
			Reason:    reason,
			RefType:   RefType,
			RefID:     sale.ID,
			ActorID:   actorID,
		})
	}
	return reqs
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// GenerateNumber returns a new sale number.
func GenerateNumber() string {
	return generateNumber("SL")
}
