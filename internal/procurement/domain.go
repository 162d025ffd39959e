package procurement

import (
	"time"
)

// Purchase order lifecycle statuses.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusShipped   Status = "shipped"
	StatusReceived  Status = "received"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is known.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusShipped, StatusReceived, StatusCancelled:
		return true
	}
	return false
}

// transitions excludes received, which is reachable only through Receive.
var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusShipped, StatusCancelled},
	StatusShipped:   {StatusCancelled},
}

// CanTransition reports whether a manual status change is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Receivable reports whether stock may still be credited for an order.
func (s Status) Receivable() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusShipped
}

// Payment status is independent of the lifecycle status.
type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

// Valid reports whether p is known.
func (p PaymentStatus) Valid() bool {
	return p == PaymentUnpaid || p == PaymentPartial || p == PaymentPaid
}

// PurchaseOrder domain model.
type PurchaseOrder struct {
	ID            int64         `json:"id"`
	Number        string        `json:"number"`
	SupplierID    int64         `json:"supplier_id,omitempty"`
	SupplierName  string        `json:"supplier_name,omitempty"`
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Total         float64       `json:"total"`
	ExpectedDate  *time.Time    `json:"expected_date,omitempty"`
	Notes         string        `json:"notes,omitempty"`
	ActorID       int64         `json:"actor_id"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	ReceivedAt    *time.Time    `json:"received_at,omitempty"`
	Lines         []Line        `json:"lines"`
}

// Line is one ordered product.
type Line struct {
	ID        int64   `json:"id"`
	OrderID   int64   `json:"order_id"`
	ProductID int64   `json:"product_id"`
	Quantity  int64   `json:"quantity"`
	UnitCost  float64 `json:"unit_cost"`
	Subtotal  float64 `json:"subtotal"`
}

// ReceivedLine reports the stock credited for one product.
type ReceivedLine struct {
	ProductID     int64   `json:"product_id"`
	Quantity      int64   `json:"quantity"`
	QuantityAfter int64   `json:"quantity_after"`
	UnitCost      float64 `json:"unit_cost"`
}

// ReceiptResult describes a completed receipt.
type ReceiptResult struct {
	Order    PurchaseOrder  `json:"order"`
	Received []ReceivedLine `json:"received"`
	// Skipped lists products that no longer exist.
	Skipped []int64 `json:"skipped"`
}

// ListFilters narrows listings.
type ListFilters struct {
	Status        Status
	PaymentStatus PaymentStatus
	SupplierID    int64
	Search        string
	SortBy        string
	SortDir       string
	Limit         int
	Offset        int
}
