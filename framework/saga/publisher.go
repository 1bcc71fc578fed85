package saga

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/akriventsev/orchestrated-saga/framework/core"
	"github.com/akriventsev/orchestrated-saga/framework/metrics"
	"github.com/akriventsev/orchestrated-saga/framework/observability"
	"github.com/akriventsev/orchestrated-saga/framework/transport"
)

// Заголовки, которые публикатор добавляет к каждому событию
const (
	HeaderEventID       = "saga-event-id"
	HeaderOrderID       = "saga-order-id"
	HeaderTransactionID = "saga-transaction-id"
	HeaderSource        = "saga-source"
	HeaderStatus        = "saga-status"
)

// Publisher публикует событие в канал
type Publisher interface {
	Publish(ctx context.Context, channel string, event Event) error
}

// RetryConfig локальные повторы публикации при временных ошибках транспорта
type RetryConfig struct {
	Attempts uint          `env:"ATTEMPTS" envDefault:"5"`
	Delay    time.Duration `env:"DELAY" envDefault:"100ms"`
	MaxDelay time.Duration `env:"MAX_DELAY" envDefault:"5s"`
}

// DefaultRetryConfig возвращает политику повторов по умолчанию
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts: 5,
		Delay:    100 * time.Millisecond,
		MaxDelay: 5 * time.Second,
	}
}

// EventPublisher публикатор событий поверх transport.Publisher
type EventPublisher struct {
	bus     transport.Publisher
	retry   RetryConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewEventPublisher создает публикатор событий
func NewEventPublisher(bus transport.Publisher, retryConfig RetryConfig) *EventPublisher {
	if retryConfig.Attempts == 0 {
		retryConfig.Attempts = 1
	}
	return &EventPublisher{
		bus:    bus,
		retry:  retryConfig,
		logger: zap.NewNop(),
	}
}

// WithLogger устанавливает logger
func (p *EventPublisher) WithLogger(logger *zap.Logger) *EventPublisher {
	p.logger = logger
	return p
}

// WithMetrics устанавливает сборщик метрик
func (p *EventPublisher) WithMetrics(m *metrics.Metrics) *EventPublisher {
	p.metrics = m
	return p
}

// Publish сериализует событие и публикует его с повторами.
// Ошибка возвращается только после исчерпания попыток.
func (p *EventPublisher) Publish(ctx context.Context, channel string, event Event) error {
	data, err := Encode(event)
	if err != nil {
		return err
	}

	headers := observability.InjectHeaders(ctx, map[string]string{
		transport.HeaderMessageKey: event.TransactionID,
		HeaderEventID:              event.ID,
		HeaderOrderID:              event.OrderID,
		HeaderTransactionID:        event.TransactionID,
		HeaderSource:               string(event.Source),
		HeaderStatus:               string(event.Status),
	})

	err = retry.Do(
		func() error {
			return p.bus.Publish(ctx, channel, data, headers)
		},
		retry.Context(ctx),
		retry.Attempts(p.retry.Attempts),
		retry.Delay(p.retry.Delay),
		retry.MaxDelay(p.retry.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Warn("retrying publish",
				zap.String("channel", channel),
				zap.String("transaction_id", event.TransactionID),
				zap.Uint("attempt", n+1),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordPublishFailure(ctx, channel)
		}
		p.logger.Error("publish failed",
			zap.String("channel", channel),
			zap.String("order_id", event.OrderID),
			zap.String("transaction_id", event.TransactionID),
			zap.String("kind", "transport"),
			zap.Error(err),
		)
		return core.Wrap(err, core.ErrTransport, "failed to publish event to "+channel)
	}

	p.logger.Debug("event published",
		zap.String("channel", channel),
		zap.String("order_id", event.OrderID),
		zap.String("transaction_id", event.TransactionID),
		zap.String("source", string(event.Source)),
		zap.String("status", string(event.Status)),
	)
	return nil
}
