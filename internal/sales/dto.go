package sales

import "time"

type CreateSaleRequest struct {
	CustomerName    string                  `json:"customer_name" validate:"max=200"`
	DiscountPercent float64                 `json:"discount_percent" validate:"gte=0,lte=100"`
	DiscountFlat    float64                 `json:"discount_flat" validate:"gte=0"`
	PaymentMethod   PaymentMethod           `json:"payment_method" validate:"required,oneof=cash card transfer other"`
	Notes           string                  `json:"notes" validate:"max=1000"`
	Lines           []CreateSaleLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type CreateSaleLineRequest struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Quantity  int64   `json:"quantity" validate:"required,gt=0"`
	UnitPrice float64 `json:"unit_price" validate:"required,gt=0"`
}

type CancelSaleRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type ListSalesRequest struct {
	Status   Status     `json:"status,omitempty"`
	DateFrom *time.Time `json:"date_from,omitempty"`
	DateTo   *time.Time `json:"date_to,omitempty"`
	Page     int        `json:"page"`
	PerPage  int        `json:"per_page"`
}
