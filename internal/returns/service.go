package returns

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-retail/internal/ledger"
	"github.com/odyssey-erp/odyssey-retail/internal/notify"
	"github.com/odyssey-erp/odyssey-retail/internal/sales"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// RefType tags ledger entries written on behalf of an exchange or return.
const RefType = "exchange_return"

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetReturn(ctx context.Context, id int64) (ExchangeReturn, error)
	ListReturns(ctx context.Context, filter ListFilter) ([]ExchangeReturn, int, error)
	Stats(ctx context.Context) (Stats, error)
}

// TxRepository exposes transactional operations. Stock and Sales are bound
// to the same transaction.
type TxRepository interface {
	Stock() ledger.Store
	Sales() sales.TxRepository
	// ReturnedQuantities sums returned quantity per product across the
	// non-voided returns of a sale.
	ReturnedQuantities(ctx context.Context, saleID int64) (map[int64]int64, error)
	InsertReturn(ctx context.Context, er ExchangeReturn) (int64, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	LockReturn(ctx context.Context, id int64) (ExchangeReturn, error)
	UpdateStatus(ctx context.Context, id int64, status Status, at time.Time) error
	UpdateFields(ctx context.Context, id int64, fields Fields, at time.Time) error
	DeleteReturn(ctx context.Context, id int64) error
}

// Service orchestrates exchanges and returns.
type Service struct {
	repo    RepositoryPort
	ledger  *ledger.Ledger
	emitter notify.Emitter
	audit   shared.AuditRecorder
	logger  *slog.Logger
	stats   singleflight.Group
	now     func() time.Time
}

// NewService constructs the exchange/return service.
func NewService(repo RepositoryPort, l *ledger.Ledger, emitter notify.Emitter, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if emitter == nil {
		emitter = notify.Discard
	}
	return &Service{
		repo:    repo,
		ledger:  l,
		emitter: emitter,
		audit:   audit,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ItemInput describes one returned product.
type ItemInput struct {
	ProductID            int64
	Quantity             int64
	Reason               string
	ReplacementProductID int64
	ReplacementQuantity  int64
}

// CreateInput describes a new exchange or return.
type CreateInput struct {
	Type         Type
	SaleID       int64
	Items        []ItemInput
	RefundAmount float64
	RefundMethod string
	Notes        string
	Status       Status
	ActorID      int64
}

// Fields are the mutable non-status attributes. Nil leaves a value untouched.
type Fields struct {
	RefundAmount *float64
	RefundMethod *string
	Notes        *string
}

func (s *Service) validateCreate(ctx context.Context, in *CreateInput) error {
	if !in.Type.Valid() {
		return shared.Validationf("returns: unknown type %q", in.Type)
	}
	if in.Status == "" {
		in.Status = StatusPending
	}
	switch in.Status {
	case StatusPending, StatusApproved, StatusCompleted:
	default:
		return shared.Validationf("returns: cannot create with status %q", in.Status)
	}
	if in.SaleID <= 0 {
		return shared.Validationf("returns: original sale required")
	}
	if len(in.Items) == 0 {
		return shared.Validationf("returns: at least one item required")
	}
	if in.RefundAmount < 0 {
		return shared.Validationf("returns: refund amount must not be negative")
	}

	for i := range in.Items {
		item := &in.Items[i]
		if item.ProductID <= 0 {
			return shared.Validationf("returns: item %d: product required", i+1)
		}
		if item.Quantity <= 0 {
			return shared.Validationf("returns: item %d: quantity must be positive", i+1)
		}
		if in.Type != TypeExchange {
			item.ReplacementProductID, item.ReplacementQuantity = 0, 0
			continue
		}
		if item.ReplacementProductID == 0 {
			item.ReplacementQuantity = 0
			continue
		}
		if item.ReplacementQuantity < 0 {
			return shared.Validationf("returns: item %d: replacement quantity must be positive", i+1)
		}
		if item.ReplacementQuantity == 0 {
			item.ReplacementQuantity = item.Quantity
		}
		if _, err := s.ledger.GetProduct(ctx, item.ReplacementProductID); err != nil {
			return err
		}
	}
	return nil
}

// lockActiveSale locks the original sale and bumps it so any concurrent
// return or cancel of the same sale serializes behind this transaction.
func lockActiveSale(ctx context.Context, tx TxRepository, saleID int64, at time.Time) (sales.Sale, error) {
	sale, err := tx.Sales().LockSale(ctx, saleID)
	if err != nil {
		return sales.Sale{}, err
	}
	if sale.Status != sales.StatusActive {
		return sales.Sale{}, fmt.Errorf("%w: sale %d is %s", shared.ErrInvalidTransition, saleID, sale.Status)
	}
	if err := tx.Sales().Touch(ctx, saleID, at); err != nil {
		return sales.Sale{}, err
	}
	return sale, nil
}

// checkReturnable rejects items that are not on the sale or that would take
// the returned quantity past what was sold. Must run under the sale lock.
func checkReturnable(ctx context.Context, tx TxRepository, sale sales.Sale, items []ItemInput) error {
	sold := make(map[int64]int64, len(sale.Lines))
	for _, line := range sale.Lines {
		sold[line.ProductID] += line.Quantity
	}
	already, err := tx.ReturnedQuantities(ctx, sale.ID)
	if err != nil {
		return err
	}
	requested := make(map[int64]int64, len(items))
	for i, item := range items {
		if _, ok := sold[item.ProductID]; !ok {
			return shared.Validationf("returns: item %d: product %d is not on sale %d", i+1, item.ProductID, sale.ID)
		}
		requested[item.ProductID] += item.Quantity
	}
	for productID, qty := range requested {
		if qty+already[productID] > sold[productID] {
			return shared.Validationf("returns: product %d: returning %d exceeds %d sold (%d already returned)",
				productID, qty, sold[productID], already[productID])
		}
	}
	return nil
}

// Create records an exchange or return. Records created as approved or
// completed apply their stock effects in the same transaction.
func (s *Service) Create(ctx context.Context, input CreateInput) (ExchangeReturn, error) {
	if err := s.validateCreate(ctx, &input); err != nil {
		return ExchangeReturn{}, err
	}

	var (
		created ExchangeReturn
		results []ledger.Result
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		at := s.now()
		sale, err := lockActiveSale(ctx, tx, input.SaleID, at)
		if err != nil {
			return err
		}
		if err := checkReturnable(ctx, tx, sale, input.Items); err != nil {
			return err
		}
		er := ExchangeReturn{
			Number:       generateNumber(input.Type),
			Type:         input.Type,
			SaleID:       input.SaleID,
			Status:       input.Status,
			RefundAmount: math.Round(input.RefundAmount*100) / 100,
			RefundMethod: input.RefundMethod,
			Notes:        input.Notes,
			ActorID:      input.ActorID,
			CreatedAt:    at,
			UpdatedAt:    at,
		}
		if stockApplied(er.Status) {
			er.ProcessedAt = &at
		}
		id, err := tx.InsertReturn(ctx, er)
		if err != nil {
			return fmt.Errorf("returns: insert: %w", err)
		}
		er.ID = id
		for _, in := range input.Items {
			item := Item{
				ReturnID:             id,
				ProductID:            in.ProductID,
				Quantity:             in.Quantity,
				Reason:               in.Reason,
				ReplacementProductID: in.ReplacementProductID,
				ReplacementQuantity:  in.ReplacementQuantity,
			}
			itemID, err := tx.InsertItem(ctx, item)
			if err != nil {
				return fmt.Errorf("returns: insert item: %w", err)
			}
			item.ID = itemID
			er.Items = append(er.Items, item)
		}
		if stockApplied(er.Status) {
			results, err = s.ledger.AdjustAll(ctx, tx.Stock(), applyRequests(er, input.ActorID))
			if err != nil {
				return err
			}
		}
		created = er
		return nil
	})
	if err != nil {
		return ExchangeReturn{}, err
	}

	s.ledger.Publish(ctx, results)
	if created.Status != StatusPending {
		s.emitProcessed(ctx, created)
	}
	s.recordAudit(ctx, input.ActorID, "exchange_return.create", created.ID, nil, created)
	return created, nil
}

// UpdateStatus moves a record through the approval state machine. Entering
// approved applies the stock effects and leaving approved for rejected
// reverses them. Re-issuing the current status changes nothing.
func (s *Service) UpdateStatus(ctx context.Context, id, actorID int64, target Status) (ExchangeReturn, error) {
	if !target.Valid() {
		return ExchangeReturn{}, shared.Validationf("returns: unknown status %q", target)
	}
	var (
		updated  ExchangeReturn
		previous Status
		results  []ledger.Result
		changed  bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		er, err := tx.LockReturn(ctx, id)
		if err != nil {
			return err
		}
		previous = er.Status
		if er.Status == target {
			updated = er
			return nil
		}
		if !CanTransition(er.Status, target) {
			return shared.InvalidTransition("exchange_return", er.Status, target)
		}
		at := s.now()
		if stockApplied(er.Status) != stockApplied(target) {
			if _, err := lockActiveSale(ctx, tx, er.SaleID, at); err != nil {
				return err
			}
		}
		switch {
		case !stockApplied(er.Status) && stockApplied(target):
			results, err = s.ledger.AdjustAll(ctx, tx.Stock(), applyRequests(er, actorID))
		case stockApplied(er.Status) && !stockApplied(target):
			results, err = s.ledger.AdjustAll(ctx, tx.Stock(), reverseRequests(er, actorID))
		}
		if err != nil {
			return err
		}
		if err := tx.UpdateStatus(ctx, id, target, at); err != nil {
			return err
		}
		if stockApplied(target) && er.ProcessedAt == nil {
			er.ProcessedAt = &at
		}
		er.Status = target
		er.UpdatedAt = at
		updated = er
		changed = true
		return nil
	})
	if err != nil {
		return ExchangeReturn{}, err
	}
	if !changed {
		return updated, nil
	}

	s.ledger.Publish(ctx, results)
	switch target {
	case StatusApproved, StatusCompleted, StatusRejected:
		s.emitProcessed(ctx, updated)
	}
	s.recordAudit(ctx, actorID, "exchange_return.status", id,
		map[string]any{"status": previous},
		map[string]any{"status": target})
	return updated, nil
}

// UpdateFields edits refund and note fields. Status and items are immutable
// through this path.
func (s *Service) UpdateFields(ctx context.Context, id, actorID int64, fields Fields) (ExchangeReturn, error) {
	if fields.RefundAmount != nil && *fields.RefundAmount < 0 {
		return ExchangeReturn{}, shared.Validationf("returns: refund amount must not be negative")
	}
	var before, after ExchangeReturn
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		er, err := tx.LockReturn(ctx, id)
		if err != nil {
			return err
		}
		if er.Status == StatusCancelled {
			return shared.InvalidTransition("exchange_return", er.Status, "updated")
		}
		before = er
		if fields.RefundAmount != nil {
			rounded := math.Round(*fields.RefundAmount*100) / 100
			fields.RefundAmount = &rounded
			er.RefundAmount = rounded
		}
		if fields.RefundMethod != nil {
			er.RefundMethod = *fields.RefundMethod
		}
		if fields.Notes != nil {
			er.Notes = *fields.Notes
		}
		at := s.now()
		if err := tx.UpdateFields(ctx, id, fields, at); err != nil {
			return err
		}
		er.UpdatedAt = at
		after = er
		return nil
	})
	if err != nil {
		return ExchangeReturn{}, err
	}
	s.recordAudit(ctx, actorID, "exchange_return.update", id,
		map[string]any{"refund_amount": before.RefundAmount, "refund_method": before.RefundMethod, "notes": before.Notes},
		map[string]any{"refund_amount": after.RefundAmount, "refund_method": after.RefundMethod, "notes": after.Notes})
	return after, nil
}

// Delete removes a record that carries no stock effects.
func (s *Service) Delete(ctx context.Context, id, actorID int64) error {
	var deleted ExchangeReturn
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		er, err := tx.LockReturn(ctx, id)
		if err != nil {
			return err
		}
		if !deletable(er.Status) {
			return shared.InvalidTransition("exchange_return", er.Status, "deleted")
		}
		deleted = er
		return tx.DeleteReturn(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "exchange_return.delete", id, deleted, nil)
	return nil
}

// Get returns one record with its items.
func (s *Service) Get(ctx context.Context, id int64) (ExchangeReturn, error) {
	return s.repo.GetReturn(ctx, id)
}

// List returns records matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]ExchangeReturn, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, shared.Validationf("returns: unknown status %q", filter.Status)
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, 0, shared.Validationf("returns: unknown type %q", filter.Type)
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 20
	}
	return s.repo.ListReturns(ctx, filter)
}

// Stats aggregates records per status and type. Concurrent callers share
// one query.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	v, err, _ := s.stats.Do("stats", func() (any, error) {
		return s.repo.Stats(ctx)
	})
	if err != nil {
		return Stats{}, err
	}
	return v.(Stats), nil
}

func (s *Service) emitProcessed(ctx context.Context, er ExchangeReturn) {
	payload := map[string]any{
		"exchange_return_id": er.ID,
		"number":             er.Number,
		"type":               er.Type,
		"sale_id":            er.SaleID,
		"status":             er.Status,
		"refund_amount":      er.RefundAmount,
	}
	if err := s.emitter.Emit(ctx, notify.EventExchangeReturnDone, payload); err != nil {
		s.logger.Warn("exchange return notification failed", slog.Int64("exchange_return_id", er.ID), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, id int64, oldValue, newValue any) {
	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "exchange_return",
		EntityID: strconv.FormatInt(id, 10),
		OldValue: oldValue,
		NewValue: newValue,
	})
}

// applyRequests restocks returned items and consumes exchange replacements.
func applyRequests(er ExchangeReturn, actorID int64) []ledger.Request {
	reqs := make([]ledger.Request, 0, len(er.Items)*2)
	for _, item := range er.Items {
		reqs = append(reqs, request(er.ID, item.ProductID, item.Quantity, ledger.ReasonReturnRestock, actorID))
		if er.Type == TypeExchange && item.HasReplacement() {
			reqs = append(reqs, request(er.ID, item.ReplacementProductID, -item.ReplacementQuantity, ledger.ReasonExchangeConsume, actorID))
		}
	}
	return reqs
}

// reverseRequests is the exact inverse of applyRequests.
func reverseRequests(er ExchangeReturn, actorID int64) []ledger.Request {
	reqs := make([]ledger.Request, 0, len(er.Items)*2)
	for _, item := range er.Items {
		reqs = append(reqs, request(er.ID, item.ProductID, -item.Quantity, ledger.ReasonReturnReversal, actorID))
		if er.Type == TypeExchange && item.HasReplacement() {
			reqs = append(reqs, request(er.ID, item.ReplacementProductID, item.ReplacementQuantity, ledger.ReasonExchangeRelease, actorID))
		}
	}
	return reqs
}

func request(refID, productID, delta int64, reason ledger.Reason, actorID int64) ledger.Request {
	return ledger.Request{
		ProductID: productID,
		Delta:     delta,
		Reason:    reason,
		RefType:   RefType,
		RefID:     refID,
		ActorID:   actorID,
	}
}

func generateNumber(t Type) string {
	prefix := "RET"
	if t == TypeExchange {
		prefix = "EXC"
	}
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
