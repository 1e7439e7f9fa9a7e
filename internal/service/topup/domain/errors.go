package domain

import "github.com/pkg/errors"

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrDuplicateID   = errors.New("order id already exists")

	// 下单校验错误，同步拒绝，不落库
	ErrInvalidRequest       = errors.New("invalid request")
	ErrUnsupportedMethod    = errors.New("unsupported payment method")
	ErrUnknownProduct       = errors.New("unknown product")
	ErrInvalidTargetAccount = errors.New("invalid target account")

	// ErrUnavailableDenomination 同时满足 errors.Is(err, ErrUnknownProduct)
	ErrUnavailableDenomination = errors.Wrap(ErrUnknownProduct, "denomination not available")

	// ErrInvoiceFailed 表示支付网关创建账单失败，订单不会被持久化
	ErrInvoiceFailed = errors.New("invoice creation failed")

	ErrInvalidProof = errors.New("fulfillment proof must be set exactly when status is SUCCESS")
)
