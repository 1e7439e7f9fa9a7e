package domain

import "time"

// NotificationEvent 是通过 Kafka 发往 notification-service 的消息
type NotificationEvent struct {
	OrderID    string    `json:"orderID,omitempty"`
	Recipient  string    `json:"recipient"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurredAt"`
}

// ReconcileRequested 是对账任务在 Kafka 上的载体
type ReconcileRequested struct {
	OrderID     string    `json:"orderID"`
	RequestedAt time.Time `json:"requestedAt"`
}
