// internal/service/topup/domain/order.go
package domain

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ProductKey 是 (运营商, 面额) 二元组，例如 telkomsel / 10k
type ProductKey struct {
	Provider     string
	Denomination string
}

func NewProductKey(provider, denomination string) ProductKey {
	return ProductKey{
		Provider:     strings.ToLower(strings.TrimSpace(provider)),
		Denomination: strings.ToLower(strings.TrimSpace(denomination)),
	}
}

func (k ProductKey) String() string {
	return k.Provider + "-" + k.Denomination
}

// Order 是充值订单聚合的根实体
type Order struct {
	ID                string
	RecipientRef      string // 通知对象，可为空，为空时回落到 TargetAccount
	TargetAccount     string // 充值目标手机号
	Product           ProductKey
	Amount            int64 // IDR
	PaymentMethod     string
	PaymentStatus     PaymentStatus
	FulfillmentStatus FulfillmentStatus
	CheckoutReference string
	FulfillmentProof  string // 仅在 SUCCESS 时存在
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Placement 是创建订单所需的、已经过校验的输入
type Placement struct {
	TargetAccount string
	RecipientRef  string
	Product       ProductKey
	Amount        int64
	PaymentMethod string
}

// 工厂函数: NewOrder 创建一个处于初始状态的订单
func NewOrder(id string, p Placement, checkoutReference string, now time.Time) (*Order, error) {
	if id == "" || p.TargetAccount == "" || p.Product.Provider == "" || p.Product.Denomination == "" {
		return nil, errors.Wrap(ErrInvalidRequest, "cannot create order with empty required fields")
	}
	if checkoutReference == "" {
		return nil, errors.Wrap(ErrInvoiceFailed, "empty checkout reference")
	}
	return &Order{
		ID:                id,
		RecipientRef:      p.RecipientRef,
		TargetAccount:     p.TargetAccount,
		Product:           p.Product,
		Amount:            p.Amount,
		PaymentMethod:     p.PaymentMethod,
		PaymentStatus:     PaymentUnpaid,
		FulfillmentStatus: FulfillmentWaitingPayment,
		CheckoutReference: checkoutReference,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// Recipient 返回通知应发往的地址
func (o *Order) Recipient() string {
	if o.RecipientRef != "" {
		return o.RecipientRef
	}
	return o.TargetAccount
}

// ReadyForFulfillment 只有支付成功的订单才能进入履约阶段
func (o *Order) ReadyForFulfillment() bool {
	return o.PaymentStatus == PaymentPaid
}

// ValidateFulfillment 校验 proof 与状态的对应关系
func ValidateFulfillment(status FulfillmentStatus, proof string) error {
	if _, ok := ParseFulfillmentStatus(string(status)); !ok {
		return errors.Errorf("unknown fulfillment status %q", status)
	}
	if (status == FulfillmentSuccess) != (proof != "") {
		return ErrInvalidProof
	}
	return nil
}
