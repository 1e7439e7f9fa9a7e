// cmd/topup-service/main.go
package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"topup/internal/pkg/bootstrap"
	"topup/internal/pkg/logger"
	topupSvc "topup/internal/service/topup"
	"topup/internal/service/topup/application"
	"topup/internal/service/topup/domain/port"
	"topup/internal/service/topup/infrastructure"
	"topup/internal/service/topup/infrastructure/adapter"
	"topup/internal/service/topup/interfaces"
)

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	cfg := bootstrap.Init()
	logger.Init(cfg.App.Name, cfg.App.LogLevel)
	log := logger.Ctx(context.Background())

	// 1. 基础设施
	tracer := otel.Tracer(cfg.App.Name)
	container, err := topupSvc.NewContainer(cfg, tracer)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build service container")
	}

	// 2. 对账 worker pool，生命周期独立于任何请求
	runCtx, cancelRun := context.WithCancel(context.Background())
	reconciler := container.NewReconciler()
	pool := infrastructure.NewWorkerPool(cfg.Reconcile.Workers, cfg.Reconcile.QueueSize, reconciler.Reconcile)
	pool.Start(runCtx)

	// 3. 派发方式：进程内直接入队，或经 kafka 由任意实例的消费者入队
	var dispatcher port.ReconcileDispatcher = pool
	var consumer *interfaces.ConsumerAdapter
	if cfg.Reconcile.Dispatcher == "kafka" {
		topic := cfg.Infra.Kafka.ReconcileTopic
		dispatcher = adapter.NewReconcileKafkaAdapter(container.NewKafkaWriter(topic))
		consumer = interfaces.NewConsumerAdapter("reconcile", container.NewKafkaReader(topic),
			interfaces.ReconcileRequestProcessor(pool), container.DeadLetterHandler(topic))
		consumer.Start(runCtx)
	}

	// 4. 应用服务
	orders := application.NewOrderService(container.Repo, container.Catalog, container.Gateway, tracer,
		application.WithPhoneRegion(cfg.App.PhoneRegion))
	callbacks := application.NewCallbackProcessor(container.Repo, container.Notifications, dispatcher, tracer)
	commands := application.NewCommandService(orders, container.Notifications, tracer)
	handler := interfaces.NewTopupHandler(orders, callbacks, commands, tracer)

	// 5. 恢复扫描：启动时一次，之后按 sweep_interval 周期执行。
	// 直接进本地 pool，队列满时等待，正在对账的订单会被合并。
	g, gctx := errgroup.WithContext(runCtx)
	if cfg.Reconcile.ResumeOnStart || cfg.Reconcile.SweepInterval > 0 {
		g.Go(func() error {
			if !cfg.Reconcile.ResumeOnStart {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-time.After(cfg.Reconcile.SweepInterval):
				}
			}
			return application.SweepPeriodically(gctx, container.Repo, pool, cfg.Reconcile.Workers, cfg.Reconcile.SweepInterval)
		})
	}

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: cfg.App.Name,
		Port:        cfg.App.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			handler.RegisterRoutes(appCtx.Mux)
		},
		OnShutdown: func(ctx context.Context) {
			// 先停止新的对账来源，再停 worker
			if consumer != nil {
				consumer.Stop(ctx)
			}
			cancelRun()
			pool.Stop()
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				logger.Ctx(ctx).Warn().Err(err).Msg("Background task ended with error")
			}
			container.Close()
		},
	})
}
