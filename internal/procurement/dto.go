package procurement

type CreatePurchaseOrderRequest struct {
	Number       string                    `json:"number" validate:"max=64"`
	SupplierID   int64                     `json:"supplier_id" validate:"gte=0"`
	SupplierName string                    `json:"supplier_name" validate:"required_without=SupplierID,max=200"`
	ExpectedDate string                    `json:"expected_date"`
	Notes        string                    `json:"notes" validate:"max=1000"`
	Lines        []CreatePurchaseOrderLine `json:"lines" validate:"required,min=1,dive"`
}

type CreatePurchaseOrderLine struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Quantity  int64   `json:"quantity" validate:"required,gt=0"`
	UnitCost  float64 `json:"unit_cost" validate:"gte=0"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending confirmed shipped cancelled"`
}

type UpdatePaymentStatusRequest struct {
	PaymentStatus string `json:"payment_status" validate:"required,oneof=unpaid partial paid"`
}
