package mq

import (
	"context"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"topup/internal/pkg/logger"
)

const (
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderExceptionFqcn     = "x-exception-fqcn"
	HeaderExceptionMessage  = "x-exception-message"
)

// FailureHandler 把处理失败的消息原样转发到死信主题
type FailureHandler struct {
	dlt *kafka.Writer
}

// NewFailureHandler dlt 为 nil 时只记录日志
func NewFailureHandler(dlt *kafka.Writer) *FailureHandler {
	return &FailureHandler{dlt: dlt}
}

func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) {
	log := logger.Ctx(ctx)
	if h == nil || h.dlt == nil {
		log.Error().Err(cause).Str("topic", msg.Topic).Int64("offset", msg.Offset).
			Str("key", string(msg.Key)).Msg("message processing failed, no dead letter topic configured")
		return
	}

	headers := append([]kafka.Header{}, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: HeaderOriginalTopic, Value: []byte(msg.Topic)},
		kafka.Header{Key: HeaderOriginalPartition, Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		kafka.Header{Key: HeaderExceptionFqcn, Value: []byte(fmt.Sprintf("%T", cause))},
		kafka.Header{Key: HeaderExceptionMessage, Value: []byte(cause.Error())},
	)
	if err := h.dlt.WriteMessages(ctx, kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers}); err != nil {
		log.Error().Err(err).AnErr("cause", cause).Str("topic", msg.Topic).
			Msg("CRITICAL: failed to forward message to dead letter topic")
		return
	}
	log.Warn().Err(cause).Str("topic", msg.Topic).Str("dlt", h.dlt.Topic).Msg("message forwarded to dead letter topic")
}
