// cmd/notification-service/main.go
package main

import (
	"context"

	"go.opentelemetry.io/otel"

	"topup/internal/pkg/bootstrap"
	"topup/internal/pkg/httpclient"
	"topup/internal/pkg/logger"
	topupSvc "topup/internal/service/topup"
	"topup/internal/service/topup/interfaces"
)

const serviceName = "notification-service"

// notification-service 消费 topup.notification，把消息通过 UltraMsg 发到 WhatsApp。
// topup-service 在 notify.transport=kafka 时只负责生产消息。
func main() {
	cfg := bootstrap.Init()
	logger.Init(serviceName, cfg.App.LogLevel)
	log := logger.Ctx(context.Background())

	// 本服务只需要 kafka 和 UltraMsg，其余存储按 memory 组装即可
	local := *cfg
	local.Store.Driver = "memory"
	local.Reconcile.Lock = "none"
	local.Notify.Transport = "log"
	local.Infra.Kafka.ConsumerGroup = serviceName

	tracer := otel.Tracer(serviceName)
	container, err := topupSvc.NewContainer(&local, tracer)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build service container")
	}

	topic := cfg.Infra.Kafka.NotificationTopic
	ultraMsg := container.UltraMsg(httpclient.NewClient(tracer))
	consumer := interfaces.NewConsumerAdapter("notification", container.NewKafkaReader(topic),
		interfaces.NotificationProcessor(ultraMsg), container.DeadLetterHandler(topic))

	runCtx, cancel := context.WithCancel(context.Background())
	consumer.Start(runCtx)
	log.Info().Str("topic", topic).Msg("Notification Service started as a Kafka consumer")

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.App.Port + 1,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			interfaces.RegisterHealthRoutes(appCtx.Mux)
		},
		OnShutdown: func(ctx context.Context) {
			consumer.Stop(ctx)
			cancel()
			container.Close()
		},
	})
}
