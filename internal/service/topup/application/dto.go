// internal/service/topup/application/dto.go
package application

import (
	"time"

	"topup/internal/service/topup/domain"
)

// PlaceOrderRequest 是下单用例的输入数据
type PlaceOrderRequest struct {
	Phone        string `json:"phone" validate:"required,min=6,max=20"`
	Provider     string `json:"provider" validate:"required,max=32"`
	Denomination string `json:"denomination" validate:"required,max=16"`
	Method       string `json:"method" validate:"required,max=32"`
	RecipientRef string `json:"recipient_ref,omitempty" validate:"omitempty,max=64"`
}

// PlaceOrderResponse 是下单用例的输出数据
type PlaceOrderResponse struct {
	OrderID           string               `json:"order_id"`
	PaymentStatus     domain.PaymentStatus `json:"payment_status"`
	Message           string               `json:"message"`
	CheckoutReference string               `json:"checkout_reference"`
}

func NewPlaceOrderResponse(o *domain.Order) *PlaceOrderResponse {
	return &PlaceOrderResponse{
		OrderID:           o.ID,
		PaymentStatus:     o.PaymentStatus,
		Message:           "Please complete the payment using the checkout link.",
		CheckoutReference: o.CheckoutReference,
	}
}

// OrderView 是查询接口和管理端返回的订单视图
type OrderView struct {
	OrderID           string                   `json:"order_id"`
	PaymentStatus     domain.PaymentStatus     `json:"payment_status"`
	FulfillmentStatus domain.FulfillmentStatus `json:"fulfillment_status"`
	CheckoutReference string                   `json:"checkout_reference"`
	FulfillmentProof  string                   `json:"fulfillment_proof,omitempty"`
	Provider          string                   `json:"provider"`
	Denomination      string                   `json:"denomination"`
	TargetAccount     string                   `json:"target_account"`
	Amount            int64                    `json:"amount"`
	PaymentMethod     string                   `json:"payment_method"`
	CreatedAt         time.Time                `json:"created_at"`
	UpdatedAt         time.Time                `json:"updated_at"`
}

func NewOrderView(o *domain.Order) *OrderView {
	return &OrderView{
		OrderID:           o.ID,
		PaymentStatus:     o.PaymentStatus,
		FulfillmentStatus: o.FulfillmentStatus,
		CheckoutReference: o.CheckoutReference,
		FulfillmentProof:  o.FulfillmentProof,
		Provider:          o.Product.Provider,
		Denomination:      o.Product.Denomination,
		TargetAccount:     o.TargetAccount,
		Amount:            o.Amount,
		PaymentMethod:     o.PaymentMethod,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}

// PaymentCallback 是支付网关回调的输入，Status 为网关的原始字符串
type PaymentCallback struct {
	OrderID string `json:"merchant_ref"`
	Status  string `json:"status"`
	Method  string `json:"payment_method"`
	Sender  string `json:"sender,omitempty"`
}

// CallbackResult 描述一次回调投递的处理结果
type CallbackResult string

const (
	CallbackApplied   CallbackResult = "applied"   // 赢得 CAS，发生了状态流转
	CallbackDuplicate CallbackResult = "duplicate" // 重放、迟到或冲突，无副作用
	CallbackIgnored   CallbackResult = "ignored"   // 订单不存在或状态无法识别
)

// Accepted 决定回调接口返回的 success 字段
func (r CallbackResult) Accepted() bool {
	return r == CallbackApplied || r == CallbackDuplicate
}
