package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-retail/internal/ledger"
	"github.com/odyssey-erp/odyssey-retail/internal/notify"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// RefType tags ledger entries written on behalf of a purchase order.
const RefType = "purchase_order"

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPO(ctx context.Context, id int64) (PurchaseOrder, error)
	ListPOs(ctx context.Context, filters ListFilters) ([]PurchaseOrder, int, error)
}

// TxRepository exposes transactional operations. Stock is bound to the same
// transaction.
type TxRepository interface {
	Stock() ledger.Store
	CreatePO(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertPOLine(ctx context.Context, line Line) (int64, error)
	LockPO(ctx context.Context, id int64) (PurchaseOrder, error)
	UpdatePOStatus(ctx context.Context, id int64, status Status, at time.Time) error
	MarkReceived(ctx context.Context, id int64, at time.Time) error
	UpdatePaymentStatus(ctx context.Context, id int64, status PaymentStatus, at time.Time) error
	DeletePO(ctx context.Context, id int64) error
}

// Service orchestrates the purchase order workflow.
type Service struct {
	repo    RepositoryPort
	ledger  *ledger.Ledger
	emitter notify.Emitter
	audit   shared.AuditRecorder
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs procurement service.
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

// LineInput describes an ordered product.
type LineInput struct {
	ProductID int64
	Quantity  int64
	UnitCost  float64
}

// CreateInput describes a new purchase order.
type CreateInput struct {
	Number       string
	SupplierID   int64
	SupplierName string
	ExpectedDate *time.Time
	Notes        string
	Lines        []LineInput
	ActorID      int64
}

func (in CreateInput) validate() error {
	if in.SupplierID <= 0 && in.SupplierName == "" {
		return shared.Validationf("procurement: supplier required")
	}
	if len(in.Lines) == 0 {
		return shared.Validationf("procurement: at least one line required")
	}
	for i, line := range in.Lines {
		if line.ProductID <= 0 {
			return shared.Validationf("procurement: line %d: product required", i+1)
		}
		if line.Quantity <= 0 {
			return shared.Validationf("procurement: line %d: quantity must be positive", i+1)
		}
		if line.UnitCost < 0 {
			return shared.Validationf("procurement: line %d: unit cost must not be negative", i+1)
		}
	}
	return nil
}

// CreatePurchaseOrder persists the header and lines as pending and unpaid.
func (s *Service) CreatePurchaseOrder(ctx context.Context, input CreateInput) (PurchaseOrder, error) {
	if err := input.validate(); err != nil {
		return PurchaseOrder{}, err
	}
	if input.Number == "" {
		input.Number = generateNumber("PO")
	}
	var created PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		at := s.now()
		po := PurchaseOrder{
			Number:        input.Number,
			SupplierID:    input.SupplierID,
			SupplierName:  input.SupplierName,
			Status:        StatusPending,
			PaymentStatus: PaymentUnpaid,
			ExpectedDate:  input.ExpectedDate,
			Notes:         input.Notes,
			ActorID:       input.ActorID,
			CreatedAt:     at,
			UpdatedAt:     at,
		}
		for _, in := range input.Lines {
			po.Total += in.UnitCost * float64(in.Quantity)
		}
		po.Total = round2(po.Total)
		id, err := tx.CreatePO(ctx, po)
		if err != nil {
			return fmt.Errorf("procurement: insert order: %w", err)
		}
		po.ID = id
		for _, in := range input.Lines {
			line := Line{
				OrderID:   id,
				ProductID: in.ProductID,
				Quantity:  in.Quantity,
				UnitCost:  in.UnitCost,
				Subtotal:  round2(in.UnitCost * float64(in.Quantity)),
			}
			lineID, err := tx.InsertPOLine(ctx, line)
			if err != nil {
				return fmt.Errorf("procurement: insert line: %w", err)
			}
			line.ID = lineID
			po.Lines = append(po.Lines, line)
		}
		created = po
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "purchase_order.create", created.ID, nil, map[string]any{"number": created.Number, "total": created.Total})
	return created, nil
}

// UpdateStatus applies a manual lifecycle change. Receiving goes through
// Receive so stock is credited with the status change.
func (s *Service) UpdateStatus(ctx context.Context, id, actorID int64, target Status) (PurchaseOrder, error) {
	if !target.Valid() {
		return PurchaseOrder{}, shared.Validationf("procurement: unknown status %q", target)
	}
	if target == StatusReceived {
		return PurchaseOrder{}, shared.Validationf("procurement: use receive to mark an order received")
	}
	var (
		updated  PurchaseOrder
		previous Status
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, id)
		if err != nil {
			return err
		}
		previous = po.Status
		if po.Status == target {
			updated = po
			return nil
		}
		if !CanTransition(po.Status, target) {
			return shared.InvalidTransition("purchase_order", po.Status, target)
		}
		at := s.now()
		if err := tx.UpdatePOStatus(ctx, id, target, at); err != nil {
			return err
		}
		po.Status = target
		po.UpdatedAt = at
		updated = po
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	if previous != target {
		s.recordAudit(ctx, actorID, "purchase_order.status", id,
			map[string]any{"status": previous},
			map[string]any{"status": target})
	}
	return updated, nil
}

// Receive credits stock for every line exactly once and marks the order
// received. Lines whose product no longer exists are skipped.
func (s *Service) Receive(ctx context.Context, id, actorID int64) (ReceiptResult, error) {
	var (
		result   ReceiptResult
		results  []ledger.Result
		previous Status
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = ReceiptResult{}
		po, err := tx.LockPO(ctx, id)
		if err != nil {
			return err
		}
		previous = po.Status
		if !po.Status.Receivable() {
			return shared.InvalidTransition("purchase_order", po.Status, StatusReceived)
		}

		missing, err := missingProducts(ctx, tx.Stock(), po.Lines)
		if err != nil {
			return err
		}
		reqs := make([]ledger.Request, 0, len(po.Lines))
		for _, line := range po.Lines {
			if _, skip := missing[line.ProductID]; skip {
				continue
			}
			reqs = append(reqs, ledger.Request{
				ProductID: line.ProductID,
				Delta:     line.Quantity,
				Reason:    ledger.ReasonPurchaseReceipt,
				RefType:   RefType,
				RefID:     po.ID,
				ActorID:   actorID,
			})
		}
		results, err = s.ledger.AdjustAll(ctx, tx.Stock(), reqs)
		if err != nil {
			return err
		}

		// Lines are in insertion order, so the last line of a product sets its cost.
		costs := make(map[int64]float64)
		for _, line := range po.Lines {
			if _, skip := missing[line.ProductID]; skip || line.UnitCost <= 0 {
				continue
			}
			costs[line.ProductID] = line.UnitCost
			if err := tx.Stock().SetUnitCost(ctx, line.ProductID, line.UnitCost); err != nil {
				return err
			}
		}

		at := s.now()
		if err := tx.MarkReceived(ctx, po.ID, at); err != nil {
			return err
		}
		po.Status = StatusReceived
		po.ReceivedAt = &at
		po.UpdatedAt = at
		result.Order = po
		for _, r := range results {
			result.Received = append(result.Received, ReceivedLine{
				ProductID:     r.Adjustment.ProductID,
				Quantity:      r.Adjustment.Delta,
				QuantityAfter: r.Adjustment.QuantityAfter,
				UnitCost:      costs[r.Adjustment.ProductID],
			})
		}
		for productID := range missing {
			result.Skipped = append(result.Skipped, productID)
		}
		sort.Slice(result.Skipped, func(i, j int) bool { return result.Skipped[i] < result.Skipped[j] })
		return nil
	})
	if err != nil {
		return ReceiptResult{}, err
	}

	for _, productID := range result.Skipped {
		s.logger.Warn("purchase order line skipped, product missing",
			slog.Int64("purchase_order_id", id),
			slog.Int64("product_id", productID))
	}
	s.ledger.Publish(ctx, results)
	receiptRef := uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("PO:%d", id)))
	if err := s.emitter.Emit(ctx, notify.EventPurchaseOrderReceived, map[string]any{
		"purchase_order_id": id,
		"number":            result.Order.Number,
		"receipt_ref":       receiptRef.String(),
		"lines":             len(result.Received),
		"skipped":           result.Skipped,
	}); err != nil {
		s.logger.Warn("purchase order notification failed", slog.Int64("purchase_order_id", id), slog.Any("error", err))
	}
	s.recordAudit(ctx, actorID, "purchase_order.receive", id,
		map[string]any{"status": previous},
		map[string]any{"status": StatusReceived, "received": result.Received, "skipped": result.Skipped})
	return result, nil
}

// UpdatePaymentStatus sets the payment axis of an order that is not cancelled.
func (s *Service) UpdatePaymentStatus(ctx context.Context, id, actorID int64, status PaymentStatus) (PurchaseOrder, error) {
	if !status.Valid() {
		return PurchaseOrder{}, shared.Validationf("procurement: unknown payment status %q", status)
	}
	var (
		updated  PurchaseOrder
		previous PaymentStatus
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, id)
		if err != nil {
			return err
		}
		if po.Status == StatusCancelled {
			return shared.InvalidTransition("purchase_order", po.Status, "payment "+string(status))
		}
		previous = po.PaymentStatus
		at := s.now()
		if err := tx.UpdatePaymentStatus(ctx, id, status, at); err != nil {
			return err
		}
		po.PaymentStatus = status
		po.UpdatedAt = at
		updated = po
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actorID, "purchase_order.payment", id,
		map[string]any{"payment_status": previous},
		map[string]any{"payment_status": status})
	return updated, nil
}

// DeletePurchaseOrder removes a pending order.
func (s *Service) DeletePurchaseOrder(ctx context.Context, id, actorID int64) error {
	var number string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, id)
		if err != nil {
			return err
		}
		if po.Status != StatusPending {
			return shared.InvalidTransition("purchase_order", po.Status, "deleted")
		}
		number = po.Number
		return tx.DeletePO(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "purchase_order.delete", id, map[string]any{"number": number}, nil)
	return nil
}

// GetPurchaseOrder returns an order with its lines.
func (s *Service) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.GetPO(ctx, id)
}

// ListPurchaseOrders returns orders matching filters.
func (s *Service) ListPurchaseOrders(ctx context.Context, filters ListFilters) ([]PurchaseOrder, int, error) {
	if filters.Status != "" && !filters.Status.Valid() {
		return nil, 0, shared.Validationf("procurement: unknown status %q", filters.Status)
	}
	if filters.PaymentStatus != "" && !filters.PaymentStatus.Valid() {
		return nil, 0, shared.Validationf("procurement: unknown payment status %q", filters.PaymentStatus)
	}
	if filters.Limit <= 0 || filters.Limit > 200 {
		filters.Limit = 20
	}
	return s.repo.ListPOs(ctx, filters)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, oldValue, newValue any) {
	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "purchase_order",
		EntityID: strconv.FormatInt(entityID, 10),
		OldValue: oldValue,
		NewValue: newValue,
	})
}

// missingProducts locks every referenced product in id order and returns
// the ones that do not exist.
func missingProducts(ctx context.Context, store ledger.Store, lines []Line) (map[int64]struct{}, error) {
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
	missing := make(map[int64]struct{})
	for _, id := range ids {
		_, err := store.LockProduct(ctx, id)
		if errors.Is(err, shared.ErrNotFound) {
			missing[id] = struct{}{}
			continue
		}
		if err != nil {
			return nil, err
		}
	}
	return missing, nil
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
