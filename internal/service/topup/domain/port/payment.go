package port

import (
	"context"

	"topup/internal/service/topup/domain"
)

// InvoiceRequest 是向支付网关申请账单所需的字段
type InvoiceRequest struct {
	OrderID       string
	Amount        int64
	Method        string
	Product       domain.ProductKey
	CustomerPhone string
}

// PaymentGateway 是支付网关的出站端口。
// 失败时返回的错误满足 errors.Is(err, domain.ErrInvoiceFailed)。
type PaymentGateway interface {
	CreateInvoice(ctx context.Context, req InvoiceRequest) (checkoutReference string, err error)
}
