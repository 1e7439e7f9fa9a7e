// internal/service/topup/container.go
package topup

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"

	"topup/internal/pkg/bootstrap"
	"topup/internal/pkg/httpclient"
	"topup/internal/pkg/logger"
	"topup/internal/pkg/mq"
	"topup/internal/pkg/redis"
	"topup/internal/service/topup/application"
	"topup/internal/service/topup/domain"
	"topup/internal/service/topup/domain/port"
	"topup/internal/service/topup/infrastructure"
	"topup/internal/service/topup/infrastructure/adapter"
	"topup/internal/zookeeper"
)

// Container 持有按配置组装好的基础设施，main 和 topupctl 共用
type Container struct {
	Config        *bootstrap.Config
	Tracer        trace.Tracer
	Catalog       *domain.Catalog
	Repo          domain.OrderRepository
	Gateway       port.PaymentGateway
	Fulfillment   port.FulfillmentClient
	Notifier      port.Notifier
	Locker        port.OrderLocker
	Notifications *application.Notifications

	redis   *redis.Client
	zk      *zookeeper.Conn
	closers []io.Closer
}

// NewContainer 按 store/lock/notify 的配置选择实现。
// 任何一步失败都会关闭已经打开的连接。
func NewContainer(cfg *bootstrap.Config, tracer trace.Tracer) (c *Container, err error) {
	c = &Container{Config: cfg, Tracer: tracer, Catalog: NewCatalog(cfg)}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	httpClient := httpclient.NewClient(tracer)
	c.Gateway = adapter.NewTripayHTTPAdapter(httpClient, adapter.TripayConfig{
		BaseURL:      cfg.Tripay.BaseURL,
		APIKey:       cfg.Tripay.APIKey,
		PrivateKey:   cfg.Tripay.PrivateKey,
		MerchantCode: cfg.Tripay.MerchantCode,
		CallbackURL:  cfg.Tripay.CallbackURL,
		ReturnURL:    cfg.Tripay.ReturnURL,
	})
	c.Fulfillment = adapter.NewDigiflazzHTTPAdapter(httpClient, adapter.DigiflazzConfig{
		BaseURL:  cfg.Digiflazz.BaseURL,
		Username: cfg.Digiflazz.Username,
		APIKey:   cfg.Digiflazz.APIKey,
		Testing:  cfg.Digiflazz.Testing,
	})

	// 1. 订单存储
	if c.Repo, err = c.buildRepository(); err != nil {
		return nil, err
	}
	// 2. 对账锁
	if c.Locker, err = c.buildLocker(); err != nil {
		return nil, err
	}
	// 3. 通知通道
	c.Notifier = c.buildNotifier(httpClient)
	c.Notifications = application.NewNotifications(c.Notifier, cfg.Notify.Timeout)
	return c, nil
}

// NewCatalog 把配置里的价格表转换为领域对象
func NewCatalog(cfg *bootstrap.Config) *domain.Catalog {
	products := make(map[string]map[string]domain.CatalogEntry, len(cfg.Catalog))
	for provider, denoms := range cfg.Catalog {
		products[provider] = make(map[string]domain.CatalogEntry, len(denoms))
		for denom, e := range denoms {
			products[provider][denom] = domain.CatalogEntry{Price: e.Price, SKU: e.SKU}
		}
	}
	return domain.NewCatalog(products, cfg.App.PaymentMethods)
}

func (c *Container) buildRepository() (domain.OrderRepository, error) {
	switch c.Config.Store.Driver {
	case "redis":
		rc, err := c.redisClient()
		if err != nil {
			return nil, err
		}
		repo, err := infrastructure.NewRedisOrderRepository(rc)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case "mysql":
		db, err := infrastructure.OpenMySQL(c.Config.Infra.MySQL.DSN, c.Config.Infra.MySQL.AutoMigrate)
		if err != nil {
			return nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			c.closers = append(c.closers, sqlDB)
		}
		return infrastructure.NewGormOrderRepository(db), nil
	default:
		logger.Ctx(context.Background()).Warn().Msg("Using in-memory order store, orders are lost on restart")
		return infrastructure.NewMemoryOrderRepository(), nil
	}
}

func (c *Container) buildLocker() (port.OrderLocker, error) {
	switch c.Config.Reconcile.Lock {
	case "redis":
		rc, err := c.redisClient()
		if err != nil {
			return nil, err
		}
		return infrastructure.NewRedisOrderLocker(rc.GetClient(), c.Config.Reconcile.LockTTL), nil
	case "zookeeper":
		conn, err := zookeeper.Connect(c.Config.Infra.Zookeeper.Servers, c.Config.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			return nil, err
		}
		c.zk = conn
		return infrastructure.NewZookeeperOrderLocker(conn), nil
	default:
		return nil, nil
	}
}

func (c *Container) buildNotifier(httpClient *httpclient.Client) port.Notifier {
	switch c.Config.Notify.Transport {
	case "ultramsg":
		return c.UltraMsg(httpClient)
	case "kafka":
		w := mq.NewKafkaWriter(c.Config.Infra.Kafka.BrokerList(), c.Config.Infra.Kafka.NotificationTopic)
		c.closers = append(c.closers, w)
		return adapter.NewNotificationKafkaAdapter(w)
	default:
		return adapter.LogNotifier{}
	}
}

// UltraMsg 供 notification-service 直接投递
func (c *Container) UltraMsg(httpClient *httpclient.Client) *adapter.UltraMsgHTTPAdapter {
	return adapter.NewUltraMsgHTTPAdapter(httpClient, adapter.UltraMsgConfig{
		BaseURL:    c.Config.UltraMsg.BaseURL,
		InstanceID: c.Config.UltraMsg.InstanceID,
		Token:      c.Config.UltraMsg.Token,
	})
}

// redisClient 存储和锁共用一个连接
func (c *Container) redisClient() (*redis.Client, error) {
	if c.redis != nil {
		return c.redis, nil
	}
	r := c.Config.Infra.Redis
	rc, err := redis.NewClient(r.Addrs, r.Password, r.DB)
	if err != nil {
		return nil, errors.Wrap(err, "connect redis")
	}
	c.redis = rc
	return rc, nil
}

// NewReconciler 使用配置里的次数和间隔
func (c *Container) NewReconciler() *application.Reconciler {
	opts := []application.ReconcilerOption{application.WithPolicy(application.ReconcilePolicy{
		MaxAttempts:  c.Config.Reconcile.MaxAttempts,
		PollInterval: c.Config.Reconcile.PollInterval,
	})}
	if c.Locker != nil {
		opts = append(opts, application.WithLocker(c.Locker))
	}
	return application.NewReconciler(c.Repo, c.Catalog, c.Fulfillment, c.Notifications, c.Tracer, opts...)
}

// NewKafkaReader 供对账和通知消费者使用
func (c *Container) NewKafkaReader(topic string) *kafka.Reader {
	k := c.Config.Infra.Kafka
	return mq.NewKafkaReader(k.BrokerList(), topic, k.ConsumerGroup)
}

// NewKafkaWriter 创建的 writer 随容器一起关闭
func (c *Container) NewKafkaWriter(topic string) *kafka.Writer {
	w := mq.NewKafkaWriter(c.Config.Infra.Kafka.BrokerList(), topic)
	c.closers = append(c.closers, w)
	return w
}

// DeadLetterHandler 把失败消息写到 <topic><suffix>
func (c *Container) DeadLetterHandler(topic string) *mq.FailureHandler {
	suffix := c.Config.Infra.Kafka.DeadLetterSuffix
	if suffix == "" {
		return mq.NewFailureHandler(nil)
	}
	return mq.NewFailureHandler(c.NewKafkaWriter(topic + suffix))
}

// Close 按打开顺序的逆序关闭
func (c *Container) Close() {
	log := logger.Ctx(context.Background())
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close resource")
		}
	}
	c.closers = nil
	if c.zk != nil {
		c.zk.Close()
		c.zk = nil
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close redis client")
		}
		c.redis = nil
	}
}

// requestTimeout 给 CLI 的一次性操作设置上限
func (c *Container) requestTimeout() time.Duration {
	if c.Config.App.RequestTimeout > 0 {
		return c.Config.App.RequestTimeout
	}
	return 15 * time.Second
}

// WithRequestTimeout 返回带有配置超时的 ctx
func (c *Container) WithRequestTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.requestTimeout())
}
