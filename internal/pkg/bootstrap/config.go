// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 是服务的全部静态配置，来自 YAML 文件并允许被环境变量覆盖
type Config struct {
	App       AppConfig                          `yaml:"app"`
	Store     StoreConfig                        `yaml:"store"`
	Reconcile ReconcileConfig                    `yaml:"reconcile"`
	Notify    NotifyConfig                       `yaml:"notify"`
	Catalog   map[string]map[string]CatalogEntry `yaml:"catalog"`
	Tripay    TripayConfig                       `yaml:"tripay"`
	Digiflazz DigiflazzConfig                    `yaml:"digiflazz"`
	UltraMsg  UltraMsgConfig                     `yaml:"ultramsg"`
	Infra     InfraConfig                        `yaml:"infra"`
}

type AppConfig struct {
	Name           string        `yaml:"name"`
	Port           int           `yaml:"port"`
	LogLevel       string        `yaml:"log_level"`
	PaymentMethods []string      `yaml:"payment_methods"`
	PhoneRegion    string        `yaml:"phone_region"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"` // redis | mysql | memory
}

type ReconcileConfig struct {
	Workers       int           `yaml:"workers"`
	QueueSize     int           `yaml:"queue_size"`
	MaxAttempts   int           `yaml:"max_attempts"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	Dispatcher    string        `yaml:"dispatcher"` // memory | kafka
	Lock          string        `yaml:"lock"`       // none | redis | zookeeper
	LockTTL       time.Duration `yaml:"lock_ttl"`
	ResumeOnStart bool          `yaml:"resume_on_start"`
	SweepInterval time.Duration `yaml:"sweep_interval"` // 0 表示只在启动时扫描
}

type NotifyConfig struct {
	Transport string        `yaml:"transport"` // log | ultramsg | kafka
	Timeout   time.Duration `yaml:"timeout"`
}

type CatalogEntry struct {
	Price int64  `yaml:"price"`
	SKU   string `yaml:"sku"`
}

type TripayConfig struct {
	BaseURL      string `yaml:"base_url"`
	APIKey       string `yaml:"api_key"`
	PrivateKey   string `yaml:"private_key"`
	MerchantCode string `yaml:"merchant_code"`
	CallbackURL  string `yaml:"callback_url"`
	ReturnURL    string `yaml:"return_url"`
}

type DigiflazzConfig struct {
	BaseURL  string `yaml:"base_url"`
	Username string `yaml:"username"`
	APIKey   string `yaml:"api_key"`
	Testing  bool   `yaml:"testing"`
}

type UltraMsgConfig struct {
	BaseURL    string `yaml:"base_url"`
	InstanceID string `yaml:"instance_id"`
	Token      string `yaml:"token"`
}

type InfraConfig struct {
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Redis     RedisConfig     `yaml:"redis"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Nacos     NacosConfig     `yaml:"nacos"`
}

type JaegerConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type RedisConfig struct {
	Addrs    string `yaml:"addrs"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MySQLConfig struct {
	DSN         string `yaml:"dsn"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

type KafkaConfig struct {
	Brokers           string `yaml:"brokers"`
	ReconcileTopic    string `yaml:"reconcile_topic"`
	NotificationTopic string `yaml:"notification_topic"`
	DeadLetterSuffix  string `yaml:"dead_letter_suffix"`
	ConsumerGroup     string `yaml:"consumer_group"`
}

func (k KafkaConfig) BrokerList() []string {
	return strings.Split(k.Brokers, ",")
}

type ZookeeperConfig struct {
	Servers        string        `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

type NacosConfig struct {
	ServerAddrs string `yaml:"server_addrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
}

var current atomic.Pointer[Config]

// Init 加载 .env 和配置文件，失败时直接退出进程
func Init() *Config {
	cfg, err := Load(getEnv("CONFIG_FILE", "configs/topup.yaml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	current.Store(cfg)
	return cfg
}

// GetCurrentConfig 在 Init 之前调用时返回默认配置
func GetCurrentConfig() *Config {
	if cfg := current.Load(); cfg != nil {
		return cfg
	}
	return Default()
}

// Load 读取配置：默认值 -> YAML (支持 ${ENV}) -> 环境变量覆盖。文件不存在时只使用默认值。
func Load(path string) (*Config, error) {
	// .env 文件是可选的
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			// 文件里的价格表整体替换默认值，而不是逐项合并
			defaults := cfg.Catalog
			cfg.Catalog = nil
			if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			if cfg.Catalog == nil {
				cfg.Catalog = defaults
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MinLockTTL 是一次对账最坏情况下的耗时：提交和轮询各 MaxAttempts 次
func (r ReconcileConfig) MinLockTTL() time.Duration {
	return 2 * time.Duration(r.MaxAttempts) * r.PollInterval
}

func (c *Config) Validate() error {
	if c.Reconcile.MaxAttempts <= 0 {
		return fmt.Errorf("reconcile.max_attempts must be positive, got %d", c.Reconcile.MaxAttempts)
	}
	if c.Reconcile.PollInterval < 0 {
		return fmt.Errorf("reconcile.poll_interval must not be negative")
	}
	if c.Reconcile.Workers <= 0 {
		return fmt.Errorf("reconcile.workers must be positive, got %d", c.Reconcile.Workers)
	}
	if c.Reconcile.SweepInterval < 0 {
		return fmt.Errorf("reconcile.sweep_interval must not be negative")
	}
	switch c.Store.Driver {
	case "redis", "mysql", "memory":
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	switch c.Reconcile.Dispatcher {
	case "memory", "kafka":
	default:
		return fmt.Errorf("unknown reconcile.dispatcher %q", c.Reconcile.Dispatcher)
	}
	switch c.Reconcile.Lock {
	case "none", "redis", "zookeeper":
	default:
		return fmt.Errorf("unknown reconcile.lock %q", c.Reconcile.Lock)
	}
	// 提交和轮询各自最多 max_attempts 次，锁至少要撑过一次完整对账
	if c.Reconcile.Lock == "redis" {
		if need := c.Reconcile.MinLockTTL(); c.Reconcile.LockTTL < need {
			return fmt.Errorf("reconcile.lock_ttl %s is shorter than one reconciliation (%s)", c.Reconcile.LockTTL, need)
		}
	}
	switch c.Notify.Transport {
	case "log", "ultramsg", "kafka":
	default:
		return fmt.Errorf("unknown notify.transport %q", c.Notify.Transport)
	}
	if len(c.Catalog) == 0 {
		return fmt.Errorf("catalog is empty")
	}
	return nil
}

// Default 价格表和 SKU 映射沿用线上的静态配置
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:           "topup-service",
			Port:           8000,
			LogLevel:       "info",
			PaymentMethods: []string{"QRIS", "OVO", "DANA", "SHOPEEPAY", "INDOMARET"},
			PhoneRegion:    "ID",
			RequestTimeout: 15 * time.Second,
		},
		Store: StoreConfig{Driver: "memory"},
		Reconcile: ReconcileConfig{
			Workers:       8,
			QueueSize:     1024,
			MaxAttempts:   20,
			PollInterval:  6 * time.Second,
			Dispatcher:    "memory",
			Lock:          "none",
			LockTTL:       10 * time.Minute,
			ResumeOnStart: true,
			SweepInterval: time.Minute,
		},
		Notify: NotifyConfig{Transport: "log", Timeout: 5 * time.Second},
		Catalog: map[string]map[string]CatalogEntry{
			"telkomsel": {
				"5k":  {Price: 6500, SKU: "s5"},
				"10k": {Price: 11000, SKU: "s10"},
				"15k": {Price: 16000},
				"20k": {Price: 21000, SKU: "s20"},
			},
			"xl": {
				"5k":  {Price: 6200, SKU: "x5"},
				"10k": {Price: 10500, SKU: "x10"},
				"15k": {Price: 15500},
				"20k": {Price: 20500},
			},
		},
		Tripay: TripayConfig{
			BaseURL:      "https://tripay.co.id/api-sandbox",
			MerchantCode: "T41788",
		},
		Digiflazz: DigiflazzConfig{BaseURL: "https://api.digiflazz.com"},
		UltraMsg:  UltraMsgConfig{BaseURL: "https://api.ultramsg.com"},
		Infra: InfraConfig{
			Jaeger: JaegerConfig{SampleRatio: 1},
			Redis:  RedisConfig{Addrs: "localhost:6379"},
			Kafka: KafkaConfig{
				Brokers:           "localhost:9092",
				ReconcileTopic:    "topup.reconcile",
				NotificationTopic: "topup.notification",
				DeadLetterSuffix:  ".dlt",
				ConsumerGroup:     "topup-service",
			},
			Zookeeper: ZookeeperConfig{Servers: "localhost:2181", SessionTimeout: 10 * time.Second},
			Nacos:     NacosConfig{Group: "DEFAULT_GROUP"},
		},
	}
}

func applyEnvOverrides(c *Config) {
	c.App.Port = getEnvInt("APP_PORT", c.App.Port)
	c.App.LogLevel = getEnv("LOG_LEVEL", c.App.LogLevel)
	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Reconcile.Dispatcher = getEnv("RECONCILE_DISPATCHER", c.Reconcile.Dispatcher)
	c.Reconcile.Lock = getEnv("RECONCILE_LOCK", c.Reconcile.Lock)
	c.Notify.Transport = getEnv("NOTIFY_TRANSPORT", c.Notify.Transport)

	c.Tripay.APIKey = getEnv("TRIPAY_API_KEY", c.Tripay.APIKey)
	c.Tripay.PrivateKey = getEnv("TRIPAY_PRIVATE_KEY", c.Tripay.PrivateKey)
	c.Tripay.MerchantCode = getEnv("TRIPAY_MERCHANT_CODE", c.Tripay.MerchantCode)
	c.Tripay.CallbackURL = getEnv("TRIPAY_CALLBACK_URL", c.Tripay.CallbackURL)
	c.Tripay.ReturnURL = getEnv("TRIPAY_RETURN_URL", c.Tripay.ReturnURL)
	c.Digiflazz.Username = getEnv("DIGIFLAZZ_USERNAME", c.Digiflazz.Username)
	c.Digiflazz.APIKey = getEnv("DIGIFLAZZ_KEY", c.Digiflazz.APIKey)
	c.UltraMsg.InstanceID = getEnv("ULTRAMSG_INSTANCE_ID", c.UltraMsg.InstanceID)
	c.UltraMsg.Token = getEnv("ULTRAMSG_TOKEN", c.UltraMsg.Token)

	c.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", c.Infra.Jaeger.Endpoint)
	c.Infra.Redis.Addrs = getEnv("REDIS_ADDRS", c.Infra.Redis.Addrs)
	c.Infra.Redis.Password = getEnv("REDIS_PASSWORD", c.Infra.Redis.Password)
	c.Infra.MySQL.DSN = getEnv("MYSQL_DSN", c.Infra.MySQL.DSN)
	c.Infra.Kafka.Brokers = getEnv("KAFKA_BROKERS", c.Infra.Kafka.Brokers)
	c.Infra.Zookeeper.Servers = getEnv("ZOOKEEPER_SERVERS", c.Infra.Zookeeper.Servers)
	c.Infra.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", c.Infra.Nacos.ServerAddrs)
	c.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", c.Infra.Nacos.Namespace)
	c.Infra.Nacos.Group = getEnv("NACOS_GROUP", c.Infra.Nacos.Group)
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
