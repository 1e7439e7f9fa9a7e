package interfaces

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"topup/internal/pkg/logger"
	"topup/internal/pkg/mq"
	"topup/internal/service/topup/domain"
	"topup/internal/service/topup/domain/port"
)

// MessageReader 是 kafka.Reader 中消费循环用到的部分，测试里可以替换
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerAdapter 是一个驱动适配器，它监听 Kafka 消息并交给 process 处理。
// 处理失败的消息交给 FailureHandler，然后无论成败都提交 offset。
type ConsumerAdapter struct {
	name           string
	reader         MessageReader
	process        func(ctx context.Context, msg kafka.Message) error
	failureHandler *mq.FailureHandler
	wg             sync.WaitGroup
	stopped        atomic.Bool
}

func NewConsumerAdapter(name string, reader MessageReader, process func(ctx context.Context, msg kafka.Message) error, failureHandler *mq.FailureHandler) *ConsumerAdapter {
	return &ConsumerAdapter{name: name, reader: reader, process: process, failureHandler: failureHandler}
}

// Start 开始监听 Kafka 主题，立即返回
func (a *ConsumerAdapter) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log := logger.Ctx(ctx).With().Str("consumer", a.name).Logger()
		log.Info().Msg("Kafka consumer started")
		for {
			if a.stopped.Load() {
				return
			}
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || a.stopped.Load() {
					log.Info().Msg("Kafka consumer shutting down")
					return
				}
				log.Error().Err(err).Msg("Could not read message, retrying")
				time.Sleep(time.Second)
				continue
			}

			a.handle(ctx, msg)

			if err := a.reader.CommitMessages(ctx, msg); err != nil {
				log.Error().Err(err).Msg("Failed to commit messages")
			}
		}
	}()
}

// handle 基于消息头里的追踪上下文开启 consumer span，链路接到生产者那一侧
func (a *ConsumerAdapter) handle(ctx context.Context, msg kafka.Message) {
	msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
	msgCtx, span := otel.Tracer("topup-consumer").Start(msgCtx, a.name+".consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.Int("messaging.kafka.partition", msg.Partition),
			attribute.Int64("messaging.kafka.message.offset", msg.Offset),
			attribute.String("messaging.kafka.message.key", string(msg.Key)),
		))
	defer span.End()

	if err := a.process(msgCtx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.failureHandler.Handle(msgCtx, msg, err)
	}
}

// Stop 优雅地停止消费者。
func (a *ConsumerAdapter) Stop(ctx context.Context) {
	a.stopped.Store(true)
	if err := a.reader.Close(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("consumer", a.name).Msg("Failed to close kafka reader")
	}
	a.wg.Wait()
	logger.Ctx(ctx).Info().Str("consumer", a.name).Msg("Kafka consumer stopped")
}

// ReconcileRequestProcessor 把 kafka 上的对账请求交给本地 worker pool
func ReconcileRequestProcessor(dispatcher port.ReconcileDispatcher) func(ctx context.Context, msg kafka.Message) error {
	return func(ctx context.Context, msg kafka.Message) error {
		var event domain.ReconcileRequested
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return errors.Wrap(err, "decode reconcile request")
		}
		if event.OrderID == "" {
			return errors.New("reconcile request without order id")
		}
		return dispatcher.Dispatch(ctx, event.OrderID)
	}
}

// NotificationProcessor 把 kafka 上的通知事件交给真正的推送通道
func NotificationProcessor(notifier port.Notifier) func(ctx context.Context, msg kafka.Message) error {
	return func(ctx context.Context, msg kafka.Message) error {
		var event domain.NotificationEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return errors.Wrap(err, "decode notification event")
		}
		if event.Recipient == "" {
			return errors.New("notification without recipient")
		}
		return notifier.Notify(ctx, event.Recipient, event.Message)
	}
}
