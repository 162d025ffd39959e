package ledger

import (
	"time"
)

// Reason enumerates why a product's quantity changed.
type Reason string

const (
	// ReasonSale consumes stock for a committed sale line.
	ReasonSale Reason = "sale"
	// ReasonSaleCancel restores stock of a cancelled sale.
	ReasonSaleCancel Reason = "sale-cancel"
	// ReasonReservationHold takes stock out while a reservation is active.
	ReasonReservationHold Reason = "reservation-hold"
	// ReasonReservationRelease gives held stock back on cancel or expiry.
	ReasonReservationRelease Reason = "reservation-release"
	// ReasonReturnRestock puts a returned item back on the shelf.
	ReasonReturnRestock Reason = "return-restock"
	// ReasonReturnReversal undoes a restock when an approved return is rejected.
	ReasonReturnReversal Reason = "return-reversal"
	// ReasonExchangeConsume takes the replacement item of an exchange.
	ReasonExchangeConsume Reason = "exchange-consume"
	// ReasonExchangeRelease gives the replacement back when an exchange is rejected.
	ReasonExchangeRelease Reason = "exchange-release"
	// ReasonPurchaseReceipt credits stock received from a supplier.
	ReasonPurchaseReceipt Reason = "purchase-receipt"
)

var knownReasons = map[Reason]struct{}{
	ReasonSale:               {},
	ReasonSaleCancel:         {},
	ReasonReservationHold:    {},
	ReasonReservationRelease: {},
	ReasonReturnRestock:      {},
	ReasonReturnReversal:     {},
	ReasonExchangeConsume:    {},
	ReasonExchangeRelease:    {},
	ReasonPurchaseReceipt:    {},
}

// Valid reports whether r is one of the known reasons.
func (r Reason) Valid() bool {
	_, ok := knownReasons[r]
	return ok
}

// Product is the stock-bearing view of a catalogue item.
type Product struct {
	ID              int64     `json:"id"`
	SKU             string    `json:"sku"`
	Name            string    `json:"name"`
	Quantity        int64     `json:"quantity"`
	UnitCost        float64   `json:"unit_cost"`
	SalePrice       float64   `json:"sale_price"`
	MinStock        int64     `json:"min_stock"`
	OpeningQuantity int64     `json:"opening_quantity"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// LowStock reports whether the quantity is at or under the threshold.
func (p Product) LowStock() bool {
	return p.Quantity <= p.MinStock
}

// Adjustment is an immutable ledger entry.
type Adjustment struct {
	ID            int64     `json:"id"`
	ProductID     int64     `json:"product_id"`
	Delta         int64     `json:"delta"`
	QuantityAfter int64     `json:"quantity_after"`
	Reason        Reason    `json:"reason"`
	RefType       string    `json:"ref_type"`
	RefID         int64     `json:"ref_id"`
	ActorID       int64     `json:"actor_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// Request describes one adjustment to apply.
type Request struct {
	ProductID int64
	Delta     int64
	Reason    Reason
	RefType   string
	RefID     int64
	ActorID   int64
}

// Result pairs the persisted entry with the product state after it.
type Result struct {
	Adjustment Adjustment
	Product    Product
}

// ProductFilter narrows product listings.
type ProductFilter struct {
	LowStockOnly bool
	Limit        int
	Offset       int
}

// AdjustmentFilter narrows the adjustment trail.
type AdjustmentFilter struct {
	ProductID int64
	RefType   string
	RefID     int64
	Limit     int
}

// Reconciliation compares the stored quantity with the replayed trail.
type Reconciliation struct {
	ProductID       int64 `json:"product_id"`
	OpeningQuantity int64 `json:"opening_quantity"`
	SumOfDeltas     int64 `json:"sum_of_deltas"`
	Quantity        int64 `json:"quantity"`
	Consistent      bool  `json:"consistent"`
}
