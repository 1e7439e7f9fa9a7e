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

// NotificationKafkaAdapter 实现了 port.Notifier 接口，真正的投递由 notification-service 完成。
type NotificationKafkaAdapter struct {
	writer *kafka.Writer
	now    func() time.Time
}

// NewNotificationKafkaAdapter 创建一个新的通知生产者适配器。
func NewNotificationKafkaAdapter(writer *kafka.Writer) *NotificationKafkaAdapter {
	return &NotificationKafkaAdapter{writer: writer, now: func() time.Time { return time.Now().UTC() }}
}

func (a *NotificationKafkaAdapter) Notify(ctx context.Context, recipient, message string) error {
	eventBytes, err := json.Marshal(domain.NotificationEvent{
		Recipient:  recipient,
		Message:    message,
		OccurredAt: a.now(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to marshal notification event")
	}
	// 按收件人分区，同一用户的消息保持顺序
	return mq.ProduceMessage(ctx, a.writer, []byte(recipient), eventBytes)
}

// Close 关闭底层的Kafka writer。
func (a *NotificationKafkaAdapter) Close() error {
	return a.writer.Close()
}
