package reservations

import "time"

type CreateReservationRequest struct {
	CustomerName  string                         `json:"customer_name" validate:"required,max=200"`
	CustomerPhone string                         `json:"customer_phone" validate:"max=50"`
	Deposit       float64                        `json:"deposit" validate:"gte=0"`
	ExpiresAt     time.Time                      `json:"expires_at" validate:"required"`
	Notes         string                         `json:"notes" validate:"max=1000"`
	Lines         []CreateReservationLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type CreateReservationLineRequest struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Quantity  int64   `json:"quantity" validate:"required,gt=0"`
	UnitPrice float64 `json:"unit_price" validate:"required,gt=0"`
}

type CompleteReservationRequest struct {
	PaymentMethod string `json:"payment_method" validate:"omitempty,oneof=cash card transfer other"`
}

type ExtendReservationRequest struct {
	ExpiresAt time.Time `json:"expires_at" validate:"required"`
}
