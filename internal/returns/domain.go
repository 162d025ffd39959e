package returns

import (
	"time"
)

// Type distinguishes a plain return from an exchange.
type Type string

const (
	TypeReturn   Type = "return"
	TypeExchange Type = "exchange"
)

// Valid reports whether t is known.
func (t Type) Valid() bool {
	return t == TypeReturn || t == TypeExchange
}

// Status of an exchange or return.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusApproved:  {},
		StatusRejected:  {},
		StatusCancelled: {},
	},
	StatusApproved: {
		StatusCompleted: {},
		StatusRejected:  {},
	},
	StatusRejected: {
		StatusCancelled: {},
	},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	_, ok := transitions[from][to]
	return ok
}

// Valid reports whether s is known.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// stockApplied reports whether a record in status s carries stock effects.
func stockApplied(s Status) bool {
	return s == StatusApproved || s == StatusCompleted
}

// deletable statuses never carry stock effects.
func deletable(s Status) bool {
	return s == StatusPending || s == StatusRejected || s == StatusCancelled
}

// Item is one returned product with an optional replacement.
type Item struct {
	ID                   int64  `json:"id"`
	ReturnID             int64  `json:"return_id"`
	ProductID            int64  `json:"product_id"`
	Quantity             int64  `json:"quantity"`
	Reason               string `json:"reason,omitempty"`
	ReplacementProductID int64  `json:"replacement_product_id,omitempty"`
	ReplacementQuantity  int64  `json:"replacement_quantity,omitempty"`
}

// HasReplacement reports whether the item consumes a replacement product.
func (i Item) HasReplacement() bool {
	return i.ReplacementProductID > 0 && i.ReplacementQuantity > 0
}

// ExchangeReturn is a return or exchange against a prior sale.
type ExchangeReturn struct {
	ID           int64      `json:"id"`
	Number       string     `json:"number"`
	Type         Type       `json:"type"`
	SaleID       int64      `json:"sale_id"`
	Status       Status     `json:"status"`
	RefundAmount float64    `json:"refund_amount"`
	RefundMethod string     `json:"refund_method,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	ActorID      int64      `json:"actor_id"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
	Items        []Item     `json:"items"`
}

// ListFilter narrows listings.
type ListFilter struct {
	Status Status
	Type   Type
	SaleID int64
	Limit  int
	Offset int
}

// Stats aggregates returns per status and type.
type Stats struct {
	Total         int            `json:"total"`
	ByStatus      map[Status]int `json:"by_status"`
	ByType        map[Type]int   `json:"by_type"`
	TotalRefunded float64        `json:"total_refunded"`
}
