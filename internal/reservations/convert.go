package reservations

import (
	"time"

	"github.com/odyssey-erp/odyssey-retail/internal/sales"
)

// ToSale turns a reservation into the sale that fulfils it, using the prices
// captured at reservation time and the supplied unit costs.
func ToSale(res Reservation, costs map[int64]float64, method sales.PaymentMethod, actorID int64, at time.Time) sales.Sale {
	sale := sales.Sale{
		Number:        sales.GenerateNumber(),
		CustomerName:  res.CustomerName,
		PaymentMethod: method,
		Status:        sales.StatusActive,
		Source:        sales.SourceReservation,
		ReservationID: res.ID,
		Notes:         res.Notes,
		ActorID:       actorID,
		CreatedAt:     at,
	}
	for _, line := range res.Lines {
		sale.Lines = append(sale.Lines, sales.Line{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			UnitCost:  costs[line.ProductID],
		})
	}
	return sales.ApplyTotals(sale, sales.Discount{})
}
