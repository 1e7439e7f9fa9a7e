package adapter

import (
	"context"

	"topup/internal/pkg/logger"
)

// LogNotifier 只把消息写进日志，本地开发时使用
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, recipient, message string) error {
	logger.Ctx(ctx).Info().Str("recipient", recipient).Str("message", message).Msg("Notification")
	return nil
}
