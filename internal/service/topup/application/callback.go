package application

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"topup/internal/pkg/logger"
	"topup/internal/service/topup/domain"
	"topup/internal/service/topup/domain/port"
)

// CallbackProcessor 处理支付网关的异步回调。
// 同一笔订单的回调可能重复、乱序、甚至互相冲突，第一个赢得 CAS 的终态生效，之后的一律视为无副作用的重复投递。
type CallbackProcessor struct {
	repo          domain.OrderRepository
	notifications *Notifications
	dispatcher    port.ReconcileDispatcher
	tracer        trace.Tracer
}

func NewCallbackProcessor(repo domain.OrderRepository, notifications *Notifications, dispatcher port.ReconcileDispatcher, tracer trace.Tracer) *CallbackProcessor {
	return &CallbackProcessor{repo: repo, notifications: notifications, dispatcher: dispatcher, tracer: tracer}
}

// HandlePaymentEvent 只有存储层故障才会返回 error，此时网关应当重试。
func (p *CallbackProcessor) HandlePaymentEvent(ctx context.Context, cb *PaymentCallback) (CallbackResult, error) {
	ctx, span := p.tracer.Start(ctx, "app.HandlePaymentEvent", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	orderID := strings.TrimSpace(cb.OrderID)
	span.SetAttributes(
		attribute.String("order.id", orderID),
		attribute.String("payment.reported_status", cb.Status),
		attribute.String("payment.method", cb.Method),
	)
	log := logger.Ctx(ctx).With().Str("order", orderID).Str("reported_status", cb.Status).Logger()

	result, err := p.handle(ctx, orderID, cb)
	if err != nil {
		paymentCallbacks.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "callback processing failed")
		log.Error().Err(err).Msg("Failed to process payment callback")
		return "", err
	}
	paymentCallbacks.WithLabelValues(string(result)).Inc()
	span.SetAttributes(attribute.String("callback.result", string(result)))
	return result, nil
}

func (p *CallbackProcessor) handle(ctx context.Context, orderID string, cb *PaymentCallback) (CallbackResult, error) {
	log := logger.Ctx(ctx).With().Str("order", orderID).Str("reported_status", cb.Status).Logger()

	// 1. 订单不存在：可能是数据丢失后的重放，也可能是伪造的引用，绝不凭空创建状态
	order, err := p.repo.FindByID(ctx, orderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		log.Warn().Msg("Payment callback for unknown order ignored")
		return CallbackIgnored, nil
	}
	if err != nil {
		return "", errors.Wrap(err, "load order")
	}

	// 2. 归一化网关状态
	next, ok := domain.ParsePaymentStatus(cb.Status)
	if !ok {
		log.Warn().Msg("Unrecognized payment status ignored")
		return CallbackIgnored, nil
	}
	if next == order.PaymentStatus {
		log.Debug().Msg("Duplicate payment callback")
		return CallbackDuplicate, nil
	}
	if order.PaymentStatus.IsTerminal() {
		log.Warn().Str("recorded_status", string(order.PaymentStatus)).Msg("Conflicting terminal payment status ignored")
		paymentCallbacks.WithLabelValues("conflict").Inc()
		return CallbackDuplicate, nil
	}
	if !order.PaymentStatus.CanTransitionTo(next) {
		log.Debug().Msg("Non-terminal payment status is a no-op")
		return CallbackDuplicate, nil
	}

	// 3. CAS，只有从 UNPAID 出发的第一次写入会成功
	swapped, err := p.repo.CompareAndSetPaymentStatus(ctx, orderID, domain.PaymentUnpaid, next)
	if errors.Is(err, domain.ErrOrderNotFound) {
		log.Warn().Msg("Order disappeared during callback processing")
		return CallbackIgnored, nil
	}
	if err != nil {
		return "", errors.Wrap(err, "compare and set payment status")
	}
	if !swapped {
		log.Debug().Msg("Lost payment status race, treating as duplicate")
		return CallbackDuplicate, nil
	}

	order.PaymentStatus = next
	if order.RecipientRef == "" && cb.Sender != "" {
		order.RecipientRef = cb.Sender
	}
	trace.SpanFromContext(ctx).AddEvent("Payment status transitioned", trace.WithAttributes(attribute.String("payment.status", string(next))))
	log.Info().Str("payment_status", string(next)).Msg("Payment status updated")

	// 4/5. 每次真实的流转恰好一次通知；只有 PAID 才交给对账器
	p.notifications.PaymentTransition(ctx, order, next)
	if next == domain.PaymentPaid {
		if err := p.dispatcher.Dispatch(ctx, orderID); err != nil {
			// 状态已经写入，不能回滚；周期性的恢复扫描会重新派发
			trace.SpanFromContext(ctx).RecordError(err)
			log.Error().Err(err).Msg("Failed to dispatch reconciliation, will be resumed on next sweep")
		}
	}
	return CallbackApplied, nil
}
