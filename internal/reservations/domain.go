package reservations

import (
	"time"
)

// Status of a reservation. Every status other than active is terminal.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

var transitions = map[Status]map[Status]struct{}{
	StatusActive: {
		StatusCompleted: {},
		StatusCancelled: {},
		StatusExpired:   {},
	},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	_, ok := transitions[from][to]
	return ok
}

// Line is a held item priced at reservation time.
type Line struct {
	ID            int64   `json:"id"`
	ReservationID int64   `json:"reservation_id"`
	ProductID     int64   `json:"product_id"`
	Quantity      int64   `json:"quantity"`
	UnitPrice     float64 `json:"unit_price"`
	Subtotal      float64 `json:"subtotal"`
}

// Reservation holds stock for a customer until it is completed, cancelled
// or expires.
type Reservation struct {
	ID               int64      `json:"id"`
	Number           string     `json:"number"`
	CustomerName     string     `json:"customer_name"`
	CustomerPhone    string     `json:"customer_phone,omitempty"`
	Total            float64    `json:"total"`
	Deposit          float64    `json:"deposit"`
	Remaining        float64    `json:"remaining"`
	ExpiresAt        time.Time  `json:"expires_at"`
	Status           Status     `json:"status"`
	SaleID           int64      `json:"sale_id,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	ActorID          int64      `json:"actor_id"`
	CreatedAt        time.Time  `json:"created_at"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`
	ExpiryNotifiedAt *time.Time `json:"expiry_notified_at,omitempty"`
	Lines            []Line     `json:"lines"`
}

// View selects a listing.
type View string

const (
	ViewAll      View = "all"
	ViewActive   View = "active"
	ViewExpiring View = "expiring"
)

// ListFilter narrows reservation listings.
type ListFilter struct {
	Status        Status
	ExpiresBefore time.Time
	Limit         int
	Offset        int
}

// SweepResult summarises one expiry sweep.
type SweepResult struct {
	Expired  int `json:"expired"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	Notified int `json:"notified"`
}
