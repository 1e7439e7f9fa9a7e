package adapter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"topup/internal/pkg/mq"
	"topup/internal/service/topup/domain"
)

// ReconcileKafkaAdapter 实现了 port.ReconcileDispatcher 接口。
// 多实例部署时对账任务通过 kafka 分发，由任意实例的消费者接手。
type ReconcileKafkaAdapter struct {
	writer *kafka.Writer
}

func NewReconcileKafkaAdapter(writer *kafka.Writer) *ReconcileKafkaAdapter {
	return &ReconcileKafkaAdapter{writer: writer}
}

func (a *ReconcileKafkaAdapter) Dispatch(ctx context.Context, orderID string) error {
	eventBytes, err := json.Marshal(domain.ReconcileRequested{OrderID: orderID, RequestedAt: time.Now().UTC()})
	if err != nil {
		return errors.Wrap(err, "failed to marshal reconcile request")
	}
	if err := mq.ProduceMessage(ctx, a.writer, []byte(orderID), eventBytes); err != nil {
		return errors.Wrapf(err, "produce reconcile request for %s", orderID)
	}
	return nil
}

func (a *ReconcileKafkaAdapter) Close() error {
	return a.writer.Close()
}
