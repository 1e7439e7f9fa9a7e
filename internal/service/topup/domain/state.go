// internal/service/topup/domain/state.go
package domain

import "strings"

// PaymentStatus 是支付网关侧的结果，只能从 UNPAID 单向流转一次
type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "UNPAID"  // 已下单，等待支付
	PaymentPaid    PaymentStatus = "PAID"    // 支付成功，触发履约
	PaymentExpired PaymentStatus = "EXPIRED" // 支付链接过期
	PaymentFailed  PaymentStatus = "FAILED"  // 支付失败
)

// ParsePaymentStatus 将网关回调里的自由字符串归一化为 PaymentStatus
func ParsePaymentStatus(raw string) (PaymentStatus, bool) {
	switch PaymentStatus(strings.ToUpper(strings.TrimSpace(raw))) {
	case PaymentUnpaid:
		return PaymentUnpaid, true
	case PaymentPaid:
		return PaymentPaid, true
	case PaymentExpired:
		return PaymentExpired, true
	case PaymentFailed:
		return PaymentFailed, true
	}
	return "", false
}

func (s PaymentStatus) Valid() bool {
	return s == PaymentUnpaid || s.IsTerminal()
}

// IsTerminal 支付状态离开 UNPAID 之后即为终态
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentPaid || s == PaymentExpired || s == PaymentFailed
}

// CanTransitionTo 只允许 UNPAID -> {PAID, EXPIRED, FAILED}
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	return s == PaymentUnpaid && next.IsTerminal()
}

// FulfillmentStatus 是外部供应商履约的结果
type FulfillmentStatus string

const (
	FulfillmentWaitingPayment FulfillmentStatus = "WAITING_PAYMENT" // 尚未支付
	FulfillmentSubmitted      FulfillmentStatus = "SUBMITTED"       // 已提交给供应商，轮询中
	FulfillmentSuccess        FulfillmentStatus = "SUCCESS"         // 充值成功，带 SN
	FulfillmentFailed         FulfillmentStatus = "FAILED"          // 供应商明确失败或配置错误
	FulfillmentUnresolved     FulfillmentStatus = "UNRESOLVED"      // 轮询次数耗尽，需人工对账
)

var fulfillmentTransitions = map[FulfillmentStatus][]FulfillmentStatus{
	FulfillmentWaitingPayment: {FulfillmentSubmitted, FulfillmentFailed, FulfillmentUnresolved},
	FulfillmentSubmitted:      {FulfillmentSuccess, FulfillmentFailed, FulfillmentUnresolved},
	FulfillmentUnresolved:     {FulfillmentSuccess, FulfillmentFailed},
}

// ParseFulfillmentStatus 用于存储层回读和管理端过滤参数
func ParseFulfillmentStatus(raw string) (FulfillmentStatus, bool) {
	s := FulfillmentStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case FulfillmentWaitingPayment, FulfillmentSubmitted, FulfillmentSuccess, FulfillmentFailed, FulfillmentUnresolved:
		return s, true
	}
	return "", false
}

// IsFinal 表示不会再有任何自动或人工流转
func (s FulfillmentStatus) IsFinal() bool {
	return s == FulfillmentSuccess || s == FulfillmentFailed
}

func (s FulfillmentStatus) CanTransitionTo(next FulfillmentStatus) bool {
	for _, allowed := range fulfillmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
