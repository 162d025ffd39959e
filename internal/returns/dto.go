package returns

type CreateReturnRequest struct {
	Type         string                    `json:"type" validate:"required,oneof=return exchange"`
	SaleID       int64                     `json:"sale_id" validate:"required,gt=0"`
	Status       string                    `json:"status" validate:"omitempty,oneof=pending approved completed"`
	RefundAmount float64                   `json:"refund_amount" validate:"gte=0"`
	RefundMethod string                    `json:"refund_method" validate:"max=50"`
	Notes        string                    `json:"notes" validate:"max=1000"`
	Items        []CreateReturnItemRequest `json:"items" validate:"required,min=1,dive"`
}

type CreateReturnItemRequest struct {
	ProductID            int64  `json:"product_id" validate:"required,gt=0"`
	Quantity             int64  `json:"quantity" validate:"required,gt=0"`
	Reason               string `json:"reason" validate:"max=500"`
	ReplacementProductID int64  `json:"replacement_product_id" validate:"gte=0"`
	ReplacementQuantity  int64  `json:"replacement_quantity" validate:"gte=0"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending approved rejected completed cancelled"`
}

type UpdateFieldsRequest struct {
	RefundAmount *float64 `json:"refund_amount" validate:"omitempty,gte=0"`
	RefundMethod *string  `json:"refund_method" validate:"omitempty,max=50"`
	Notes        *string  `json:"notes" validate:"omitempty,max=1000"`
}
