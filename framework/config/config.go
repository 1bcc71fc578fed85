// Package config загружает конфигурацию узла саги из переменных окружения и .env файлов.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"

	"github.com/akriventsev/orchestrated-saga/framework/core"
	"github.com/akriventsev/orchestrated-saga/framework/saga"
)

// Роли узла
const (
	RoleAll               = "all"
	RoleOrchestrator      = "orchestrator"
	RoleOrder             = "order"
	RoleProductValidation = "product-validation"
	RolePayment           = "payment"
	RoleInventory         = "inventory"
)

// Roles возвращает все поддерживаемые роли
func Roles() []string {
	return []string{RoleAll, RoleOrchestrator, RoleOrder, RoleProductValidation, RolePayment, RoleInventory}
}

// Config конфигурация узла
type Config struct {
	Role            string        `env:"SAGA_ROLE" envDefault:"all"`
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"orchestrated-saga"`
	Environment     string        `env:"APP_ENV" envDefault:"development"`
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	Concurrency     int64         `env:"DISPATCH_CONCURRENCY" envDefault:"16"`

	Log       LogConfig        `envPrefix:"LOG_"`
	Transport TransportConfig  `envPrefix:"TRANSPORT_"`
	Store     StoreConfig      `envPrefix:"STORE_"`
	Channels  saga.Channels    `envPrefix:"CHANNEL_"`
	Retry     saga.RetryConfig `envPrefix:"PUBLISH_RETRY_"`
	Metrics   MetricsConfig    `envPrefix:"METRICS_"`
	Tracing   TracingConfig    `envPrefix:"TRACING_"`
}

// LogConfig настройки логирования
type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

// TransportConfig настройки message bus
type TransportConfig struct {
	Type string `env:"TYPE" envDefault:"kafka"`

	KafkaBrokers        []string      `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	KafkaGroupID        string        `env:"KAFKA_GROUP_ID" envDefault:"orchestrated-saga"`
	KafkaHandlerRetries int           `env:"KAFKA_HANDLER_RETRIES" envDefault:"3"`
	KafkaRetryBackoff   time.Duration `env:"KAFKA_RETRY_BACKOFF" envDefault:"1s"`

	NATSURL        string        `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NATSQueueGroup string        `env:"NATS_QUEUE_GROUP" envDefault:"orchestrated-saga"`
	NATSUsername   string        `env:"NATS_USERNAME"`
	NATSPassword   string        `env:"NATS_PASSWORD"`
	NATSStream     string        `env:"NATS_STREAM" envDefault:"SAGA"`
	NATSAckWait    time.Duration `env:"NATS_ACK_WAIT" envDefault:"30s"`
	NATSMaxDeliver int           `env:"NATS_MAX_DELIVER" envDefault:"-1"`

	RedisAddr          string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword      string `env:"REDIS_PASSWORD"`
	RedisDB            int    `env:"REDIS_DB" envDefault:"0"`
	RedisConsumerGroup string `env:"REDIS_CONSUMER_GROUP" envDefault:"orchestrated-saga"`

	InMemoryOrdering bool `env:"INMEMORY_ORDERING" envDefault:"true"`
	InMemoryWorkers  int  `env:"INMEMORY_WORKERS" envDefault:"4"`
}

// StoreConfig настройки хранилищ
type StoreConfig struct {
	Records string `env:"RECORDS" envDefault:"inmemory"`
	Events  string `env:"EVENTS" envDefault:"inmemory"`
	Domain  string `env:"DOMAIN" envDefault:"inmemory"`
	// AutoMigrate применяет встроенные миграции Postgres при старте узла
	AutoMigrate bool `env:"AUTO_MIGRATE" envDefault:"false"`

	PostgresDSN      string `env:"POSTGRES_DSN"`
	PostgresMaxConns int32  `env:"POSTGRES_MAX_CONNS" envDefault:"25"`

	MongoURI      string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"orchestrated_saga"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
}

// MetricsConfig настройки метрик
type MetricsConfig struct {
	Enabled  bool   `env:"ENABLED" envDefault:"true"`
	Exporter string `env:"EXPORTER" envDefault:"prometheus"`
	Path     string `env:"PATH" envDefault:"/metrics"`
}

// TracingConfig настройки трассировки
type TracingConfig struct {
	Enabled      bool    `env:"ENABLED" envDefault:"false"`
	Exporter     string  `env:"EXPORTER" envDefault:"stdout"`
	Endpoint     string  `env:"ENDPOINT"`
	SamplingRate float64 `env:"SAMPLING_RATE" envDefault:"1.0"`
}

// LoadEnv загружает существующие .env файлы, отсутствующие пропускаются
func LoadEnv(files ...string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// Load загружает .env файлы и разбирает окружение
func Load(files ...string) (*Config, error) {
	if _, err := LoadEnv(files...); err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "failed to load env files")
	}
	return Parse()
}

// Parse разбирает конфигурацию из окружения процесса
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "failed to parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseFrom разбирает конфигурацию из явного набора переменных
func ParseFrom(vars map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: vars}); err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "failed to parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func in(values ...string) validation.Rule {
	items := make([]interface{}, len(values))
	for i, v := range values {
		items[i] = v
	}
	return validation.In(items...)
}

// Validate проверяет согласованность конфигурации
func (c *Config) Validate() error {
	needsPostgres := c.Store.Records == "postgres" || c.Store.Events == "postgres" || c.Store.Domain == "postgres"

	err := validation.ValidateStruct(c,
		validation.Field(&c.Role, validation.Required, in(Roles()...)),
		validation.Field(&c.HTTPAddr, validation.Required),
		validation.Field(&c.Concurrency, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.ShutdownTimeout, validation.Min(time.Second)),
	)
	if err != nil {
		return core.Wrap(err, core.ErrInvalidConfig, "invalid node config")
	}

	err = validation.ValidateStruct(&c.Log,
		validation.Field(&c.Log.Level, in("debug", "info", "warn", "error")),
		validation.Field(&c.Log.Format, in("json", "console")),
	)
	if err != nil {
		return core.Wrap(err, core.ErrInvalidConfig, "invalid log config")
	}

	t := &c.Transport
	err = validation.ValidateStruct(t,
		validation.Field(&t.Type, validation.Required, in("kafka", "nats", "redis", "inmemory")),
		validation.Field(&t.KafkaBrokers, validation.When(t.Type == "kafka", validation.Required)),
		validation.Field(&t.KafkaGroupID, validation.When(t.Type == "kafka", validation.Required)),
		validation.Field(&t.NATSURL, validation.When(t.Type == "nats", validation.Required)),
		validation.Field(&t.NATSStream, validation.When(t.Type == "nats", validation.Required)),
		validation.Field(&t.NATSAckWait, validation.When(t.Type == "nats", validation.Required)),
		validation.Field(&t.RedisAddr, validation.When(t.Type == "redis", validation.Required)),
		validation.Field(&t.InMemoryWorkers, validation.Min(1)),
	)
	if err != nil {
		return core.Wrap(err, core.ErrInvalidConfig, "invalid transport config")
	}

	s := &c.Store
	err = validation.ValidateStruct(s,
		validation.Field(&s.Records, in("inmemory", "postgres", "mongodb", "redis")),
		validation.Field(&s.Events, in("inmemory", "postgres", "mongodb")),
		validation.Field(&s.Domain, in("inmemory", "postgres")),
		validation.Field(&s.PostgresDSN, validation.When(needsPostgres, validation.Required)),
		validation.Field(&s.PostgresMaxConns, validation.Min(int32(1))),
	)
	if err != nil {
		return core.Wrap(err, core.ErrInvalidConfig, "invalid store config")
	}

	err = validation.ValidateStruct(&c.Retry,
		validation.Field(&c.Retry.Attempts, validation.Required, validation.Min(uint(1))),
	)
	if err != nil {
		return core.Wrap(err, core.ErrInvalidConfig, "invalid publish retry config")
	}

	err = validation.ValidateStruct(&c.Tracing,
		validation.Field(&c.Tracing.Exporter, in("stdout", "otlp", "zipkin", "jaeger")),
		validation.Field(&c.Tracing.SamplingRate, validation.Min(0.0), validation.Max(1.0)),
	)
	if err != nil {
		return core.Wrap(err, core.ErrInvalidConfig, "invalid tracing config")
	}

	err = validation.ValidateStruct(&c.Metrics,
		validation.Field(&c.Metrics.Exporter, in("prometheus", "manual")),
	)
	if err != nil {
		return core.Wrap(err, core.ErrInvalidConfig, "invalid metrics config")
	}
	return nil
}

// Runs проверяет, обслуживает ли узел указанную роль
func (c *Config) Runs(role string) bool {
	return c.Role == RoleAll || c.Role == role
}

// String возвращает краткое описание узла для логов
func (c *Config) String() string {
	return fmt.Sprintf("role=%s transport=%s records=%s events=%s", c.Role, c.Transport.Type, c.Store.Records, c.Store.Events)
}
