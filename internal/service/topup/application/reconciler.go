package application

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"topup/internal/pkg/logger"
	"topup/internal/service/topup/domain"
	"topup/internal/service/topup/domain/port"
)

// ReconcilePolicy 固定间隔、固定次数。次数是硬上限，不保证一定能拿到结果。
type ReconcilePolicy struct {
	MaxAttempts  int
	PollInterval time.Duration
}

func DefaultReconcilePolicy() ReconcilePolicy {
	return ReconcilePolicy{MaxAttempts: 20, PollInterval: 6 * time.Second}
}

// Reconciler 负责订单支付之后的履约阶段：提交一次，然后有限次轮询。
type Reconciler struct {
	repo          domain.OrderRepository
	catalog       *domain.Catalog
	client        port.FulfillmentClient
	notifications *Notifications
	locker        port.OrderLocker
	policy        ReconcilePolicy
	tracer        trace.Tracer
}

type ReconcilerOption func(*Reconciler)

func WithPolicy(p ReconcilePolicy) ReconcilerOption {
	return func(r *Reconciler) { r.policy = p }
}

// WithLocker 多实例部署时用分布式锁保证同一订单只有一个对账者
func WithLocker(l port.OrderLocker) ReconcilerOption {
	return func(r *Reconciler) {
		if l != nil {
			r.locker = l
		}
	}
}

func NewReconciler(repo domain.OrderRepository, catalog *domain.Catalog, client port.FulfillmentClient, notifications *Notifications, tracer trace.Tracer, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		repo:          repo,
		catalog:       catalog,
		client:        client,
		notifications: notifications,
		locker:        noopLocker{},
		policy:        DefaultReconcilePolicy(),
		tracer:        tracer,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.policy.MaxAttempts <= 0 {
		r.policy.MaxAttempts = 1
	}
	return r
}

// Reconcile 驱动一个已支付订单到履约终态。
// ctx 被取消时在等待点返回 ctx.Err()，订单保持最后一次成功写入的状态。
func (r *Reconciler) Reconcile(ctx context.Context, orderID string) error {
	ctx, span := r.tracer.Start(ctx, "app.Reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))
	log := logger.Ctx(ctx).With().Str("order", orderID).Logger()

	release, err := r.locker.TryLock(ctx, orderID)
	if errors.Is(err, port.ErrLockNotObtained) {
		span.AddEvent("Reconciliation owned by another worker, skipped.")
		log.Info().Msg("Reconciliation already owned elsewhere, skipping")
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "acquire reconcile lock")
	}
	defer release()

	order, err := r.repo.FindByID(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load order")
		return errors.Wrap(err, "load order")
	}
	if !order.ReadyForFulfillment() {
		log.Warn().Str("payment_status", string(order.PaymentStatus)).Msg("Order is not paid, reconciliation skipped")
		return nil
	}
	if order.FulfillmentStatus.IsFinal() {
		log.Debug().Str("fulfillment_status", string(order.FulfillmentStatus)).Msg("Order already settled")
		return nil
	}

	// SUBMITTED 说明供应商已确认收到，直接恢复轮询。
	// UNRESOLVED 可能是提交从未被确认，重新提交；供应商以订单 ID 去重。
	if order.FulfillmentStatus == domain.FulfillmentWaitingPayment || order.FulfillmentStatus == domain.FulfillmentUnresolved {
		// 1. 解析 SKU，失败属于配置错误而不是瞬时故障
		sku, ok := r.catalog.SKU(order.Product)
		if !ok {
			log.Error().Str("product", order.Product.String()).Msg("No provider SKU configured for product")
			return r.transition(ctx, order, domain.FulfillmentFailed, "")
		}

		// 2. 以订单 ID 作为幂等键提交
		acked, err := r.submit(ctx, order, sku)
		if err != nil {
			return err
		}
		if !acked {
			return r.transition(ctx, order, domain.FulfillmentUnresolved, "")
		}
		// UNRESOLVED 不能回到 SUBMITTED，保持原状态继续轮询
		if order.FulfillmentStatus == domain.FulfillmentWaitingPayment {
			if err := r.transition(ctx, order, domain.FulfillmentSubmitted, ""); err != nil {
				return err
			}
		}
	}

	// 3/4/5. 轮询直到终态或次数耗尽
	return r.poll(ctx, order)
}

// submit 把传输错误当作 Pending，在同样的次数预算内重试
func (r *Reconciler) submit(ctx context.Context, order *domain.Order, sku string) (bool, error) {
	span := trace.SpanFromContext(ctx)
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := r.wait(ctx); err != nil {
				return false, err
			}
		}
		err := r.client.Submit(ctx, sku, order.TargetAccount, order.ID)
		if err == nil {
			span.AddEvent("Fulfillment submitted", trace.WithAttributes(attribute.Int("attempt", attempt)))
			return true, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		span.RecordError(err, trace.WithAttributes(attribute.Int("attempt", attempt)))
		logger.Ctx(ctx).Warn().Err(err).Str("order", order.ID).Int("attempt", attempt).Msg("Fulfillment submission failed, retrying")
	}
	return false, nil
}

func (r *Reconciler) poll(ctx context.Context, order *domain.Order) error {
	span := trace.SpanFromContext(ctx)
	log := logger.Ctx(ctx).With().Str("order", order.ID).Logger()

	attempt := 0
	defer func() { reconcilePolls.Observe(float64(attempt)) }()

	for attempt < r.policy.MaxAttempts {
		if err := r.wait(ctx); err != nil {
			log.Info().Int("attempt", attempt).Msg("Reconciliation cancelled between polls")
			return err
		}
		attempt++

		res, err := r.client.PollStatus(ctx, order.ID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			span.RecordError(err, trace.WithAttributes(attribute.Int("attempt", attempt)))
			log.Warn().Err(err).Int("attempt", attempt).Msg("Fulfillment poll failed, treating as pending")
			continue
		}

		switch res.Outcome {
		case port.OutcomeSucceeded:
			if res.Proof == "" {
				// 供应商偶尔先返回成功、稍后才给 SN
				log.Info().Int("attempt", attempt).Msg("Provider reported success without serial number yet")
				continue
			}
			span.AddEvent("Fulfillment succeeded", trace.WithAttributes(attribute.Int("attempt", attempt)))
			return r.transition(ctx, order, domain.FulfillmentSuccess, res.Proof)
		case port.OutcomeFailed:
			span.AddEvent("Fulfillment failed", trace.WithAttributes(attribute.Int("attempt", attempt)))
			log.Info().Str("provider_message", res.Message).Msg("Provider reported failure")
			return r.transition(ctx, order, domain.FulfillmentFailed, "")
		}
	}

	// 次数耗尽依然 Pending，不能当作 FAILED，供应商可能稍后才完成
	log.Warn().Int("attempts", attempt).Msg("Polling budget exhausted, order needs manual reconciliation")
	return r.transition(ctx, order, domain.FulfillmentUnresolved, "")
}

// transition 写入履约状态并发送一次通知；重复写入同一状态不算流转
func (r *Reconciler) transition(ctx context.Context, order *domain.Order, status domain.FulfillmentStatus, proof string) error {
	if order.FulfillmentStatus == status {
		return nil
	}
	if !order.FulfillmentStatus.CanTransitionTo(status) {
		return errors.Errorf("illegal fulfillment transition %s -> %s", order.FulfillmentStatus, status)
	}
	if err := domain.ValidateFulfillment(status, proof); err != nil {
		return err
	}
	if err := r.repo.SetFulfillmentStatus(ctx, order.ID, status, proof); err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
		logger.Ctx(ctx).Error().Err(err).Str("order", order.ID).Str("status", string(status)).Msg("Failed to record fulfillment status")
		return errors.Wrapf(err, "set fulfillment status %s", status)
	}

	order.FulfillmentStatus = status
	order.FulfillmentProof = proof
	reconcileOutcomes.WithLabelValues(string(status)).Inc()
	logger.Ctx(ctx).Info().Str("order", order.ID).Str("fulfillment_status", string(status)).Msg("Fulfillment status updated")

	r.notifications.FulfillmentTransition(ctx, order, status)
	return nil
}

func (r *Reconciler) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := time.NewTimer(r.policy.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type noopLocker struct{}

func (noopLocker) TryLock(context.Context, string) (func(), error) {
	return func() {}, nil
}
