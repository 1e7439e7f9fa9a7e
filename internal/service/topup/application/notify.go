package application

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"topup/internal/pkg/logger"
	"topup/internal/service/topup/domain"
	"topup/internal/service/topup/domain/port"
)

// Notifications 负责把状态流转翻译成给用户的文案并尽力投递。
// 投递失败只记录日志和指标，不会影响订单状态，也不会重试。
type Notifications struct {
	notifier port.Notifier
	timeout  time.Duration
}

func NewNotifications(notifier port.Notifier, timeout time.Duration) *Notifications {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Notifications{notifier: notifier, timeout: timeout}
}

// PaymentTransition 在支付状态离开 UNPAID 时调用一次
func (n *Notifications) PaymentTransition(ctx context.Context, order *domain.Order, status domain.PaymentStatus) {
	var msg string
	switch status {
	case domain.PaymentPaid:
		msg = fmt.Sprintf("Payment received for order %s. Your top-up is being processed...", order.ID)
	case domain.PaymentExpired:
		msg = fmt.Sprintf("Order %s has expired. Please place a new order.", order.ID)
	case domain.PaymentFailed:
		msg = fmt.Sprintf("Payment for order %s failed.", order.ID)
	default:
		return
	}
	n.Send(ctx, "payment_"+string(status), order.Recipient(), msg)
}

// FulfillmentTransition 在对账器写入新的履约状态后调用一次
func (n *Notifications) FulfillmentTransition(ctx context.Context, order *domain.Order, status domain.FulfillmentStatus) {
	var msg string
	switch status {
	case domain.FulfillmentSubmitted:
		msg = fmt.Sprintf("Top-up %s %s to %s has been sent to the provider.", order.Product.Provider, order.Product.Denomination, order.TargetAccount)
	case domain.FulfillmentSuccess:
		msg = fmt.Sprintf("Top-up successful\nNumber: %s\nSN: %s", order.TargetAccount, order.FulfillmentProof)
	case domain.FulfillmentFailed:
		msg = fmt.Sprintf("Top-up for order %s could not be processed.", order.ID)
	case domain.FulfillmentUnresolved:
		msg = fmt.Sprintf("Top-up for order %s is still pending at the provider. Our team will follow up.", order.ID)
	default:
		return
	}
	n.Send(ctx, "fulfillment_"+string(status), order.Recipient(), msg)
}

// Send 与调用方的取消解耦，但保留链路信息，并受独立超时约束
func (n *Notifications) Send(ctx context.Context, kind, recipient, message string) {
	span := trace.SpanFromContext(ctx)
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	if err := n.notifier.Notify(sendCtx, recipient, message); err != nil {
		notificationsSent.WithLabelValues(kind, "error").Inc()
		span.RecordError(err, trace.WithAttributes(attribute.String("notification.kind", kind)))
		logger.Ctx(ctx).Warn().Err(err).Str("kind", kind).Str("recipient", recipient).
			Msg("Failed to deliver notification")
		return
	}
	notificationsSent.WithLabelValues(kind, "sent").Inc()
	span.AddEvent("notification sent", trace.WithAttributes(attribute.String("notification.kind", kind)))
}
