package sales

import (
	"math"
	"time"
)

// Status of a sale.
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
)

// PaymentMethod used at checkout.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentOther    PaymentMethod = "other"
)

// Valid reports whether m is a supported method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentTransfer, PaymentOther:
		return true
	}
	return false
}

// Source identifies how a sale came to exist.
type Source string

const (
	SourceCounter     Source = "counter"
	SourceReservation Source = "reservation"
)

// Line is a sold item with the unit cost captured at the time of sale.
type Line struct {
	ID        int64   `json:"id"`
	SaleID    int64   `json:"sale_id"`
	ProductID int64   `json:"product_id"`
	Quantity  int64   `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	UnitCost  float64 `json:"unit_cost"`
	Subtotal  float64 `json:"subtotal"`
	Profit    float64 `json:"profit"`
}

// Sale header with its lines.
type Sale struct {
	ID              int64         `json:"id"`
	Number          string        `json:"number"`
	CustomerName    string        `json:"customer_name,omitempty"`
	Subtotal        float64       `json:"subtotal"`
	DiscountPercent float64       `json:"discount_percent"`
	DiscountFlat    float64       `json:"discount_flat"`
	DiscountAmount  float64       `json:"discount_amount"`
	Total           float64       `json:"total"`
	Profit          float64       `json:"profit"`
	PaymentMethod   PaymentMethod `json:"payment_method"`
	Status          Status        `json:"status"`
	Source          Source        `json:"source"`
	ReservationID   int64         `json:"reservation_id,omitempty"`
	Notes           string        `json:"notes,omitempty"`
	ActorID         int64         `json:"actor_id"`
	CreatedAt       time.Time     `json:"created_at"`
	CancelledAt     *time.Time    `json:"cancelled_at,omitempty"`
	CancelReason    string        `json:"cancel_reason,omitempty"`
	Lines           []Line        `json:"lines"`
}

// Discount is applied as a percentage first, then a flat amount.
type Discount struct {
	Percent float64
	Flat    float64
}

// ListFilter narrows sale listings.
type ListFilter struct {
	Status Status
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// PriceLine fills the computed subtotal and profit.
func PriceLine(line Line) Line {
	qty := float64(line.Quantity)
	line.Subtotal = round2(line.UnitPrice * qty)
	line.Profit = round2((line.UnitPrice - line.UnitCost) * qty)
	return line
}

// ApplyTotals prices every line and computes the header totals. The total is
// floored at zero.
func ApplyTotals(sale Sale, discount Discount) Sale {
	var subtotal, profit float64
	for i := range sale.Lines {
		sale.Lines[i] = PriceLine(sale.Lines[i])
		subtotal += sale.Lines[i].Subtotal
		profit += sale.Lines[i].Profit
	}
	total := subtotal * (1 - discount.Percent/100)
	total -= discount.Flat
	if total < 0 {
		total = 0
	}
	sale.Subtotal = round2(subtotal)
	sale.DiscountPercent = discount.Percent
	sale.DiscountFlat = discount.Flat
	sale.Total = round2(total)
	sale.DiscountAmount = round2(sale.Subtotal - sale.Total)
	sale.Profit = round2(profit - sale.DiscountAmount)
	return sale
}
