// Package notify fans out stock and workflow events on a best-effort basis.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event types emitted after commit.
const (
	EventSaleCreated           = "sale.created"
	EventSaleCancelled         = "sale.cancelled"
	EventStockLow              = "stock.low"
	EventStockOut              = "stock.out"
	EventReservationCreated    = "reservation.created"
	EventReservationExpiring   = "reservation.expiring"
	EventReservationExpired    = "reservation.expired"
	EventPurchaseOrderReceived = "purchase_order.received"
	EventExchangeReturnDone    = "exchange_return.processed"
)

// Emitter delivers an event somewhere. Callers treat failures as non fatal.
type Emitter interface {
	Emit(ctx context.Context, eventType string, payload any) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, eventType string, payload any) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, eventType string, payload any) error {
	return f(ctx, eventType, payload)
}

// Envelope is the wire form of an event.
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into an Envelope with a fresh id.
func NewEnvelope(eventType string, payload any) (Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    body,
	}, nil
}

// Async runs the wrapped emitter on a detached goroutine with a timeout so
// a slow or failing sink never blocks the caller.
type Async struct {
	next    Emitter
	timeout time.Duration
	logger  *slog.Logger
}

// NewAsync wraps next.
func NewAsync(next Emitter, timeout time.Duration, logger *slog.Logger) *Async {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Async{next: next, timeout: timeout, logger: logger}
}

// Emit schedules delivery and always returns nil.
func (a *Async) Emit(ctx context.Context, eventType string, payload any) error {
	if a == nil || a.next == nil {
		return nil
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("notification emitter panic", slog.String("event", eventType), slog.Any("panic", r))
			}
		}()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		if err := a.next.Emit(sendCtx, eventType, payload); err != nil {
			a.logger.Warn("notification delivery failed", slog.String("event", eventType), slog.Any("error", err))
		}
	}()
	return nil
}

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(context.Context, string, any) error { return nil })
