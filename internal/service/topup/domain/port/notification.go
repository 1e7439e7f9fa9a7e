package port

import "context"

// Notifier 是消息推送的出站端口 (WhatsApp / Kafka / 日志)。
// 调用方把它当作尽力而为的操作，返回的错误只会被记录。
type Notifier interface {
	Notify(ctx context.Context, recipient, message string) error
}
