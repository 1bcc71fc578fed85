package saga

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/akriventsev/orchestrated-saga/framework/core"
	"github.com/akriventsev/orchestrated-saga/framework/metrics"
	"github.com/akriventsev/orchestrated-saga/framework/observability"
	"github.com/akriventsev/orchestrated-saga/framework/transport"
)

// EventHandler обработчик события из канала
type EventHandler func(ctx context.Context, event Event) error

// Dispatcher явная таблица канал -> обработчик. На каждый канал одна подписка,
// общее число одновременно обрабатываемых сообщений ограничено.
type Dispatcher struct {
	bus     transport.Subscriber
	routes  map[string]EventHandler
	sem     *semaphore.Weighted
	logger  *zap.Logger
	metrics *metrics.Metrics
	running bool
	mu      sync.RWMutex
}

// NewDispatcher создает диспетчер с ограничением параллелизма
func NewDispatcher(bus transport.Subscriber, maxConcurrency int64) *Dispatcher {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Dispatcher{
		bus:    bus,
		routes: make(map[string]EventHandler),
		sem:    semaphore.NewWeighted(maxConcurrency),
		logger: zap.NewNop(),
	}
}

// WithLogger устанавливает logger
func (d *Dispatcher) WithLogger(logger *zap.Logger) *Dispatcher {
	d.logger = logger
	return d
}

// WithMetrics устанавливает сборщик метрик
func (d *Dispatcher) WithMetrics(m *metrics.Metrics) *Dispatcher {
	d.metrics = m
	return d
}

// Route регистрирует обработчик канала. Регистрация после Start не допускается.
func (d *Dispatcher) Route(channel string, handler EventHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return core.NewError(core.ErrConfiguration, "dispatcher is already running")
	}
	if channel == "" || handler == nil {
		return core.NewError(core.ErrConfiguration, "channel and handler are required")
	}
	if _, exists := d.routes[channel]; exists {
		return core.NewError(core.ErrConfiguration, fmt.Sprintf("channel %s already routed", channel))
	}
	d.routes[channel] = handler
	return nil
}

// Channels возвращает отсортированный список каналов
func (d *Dispatcher) Channels() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	channels := make([]string, 0, len(d.routes))
	for channel := range d.routes {
		channels = append(channels, channel)
	}
	sort.Strings(channels)
	return channels
}

// Start подписывается на все каналы (реализация core.Lifecycle)
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}

	for channel, handler := range d.routes {
		if err := d.bus.Subscribe(ctx, channel, d.wrap(channel, handler)); err != nil {
			return core.Wrap(err, core.ErrTransport, "failed to subscribe to "+channel)
		}
		d.logger.Info("subscribed", zap.String("channel", channel))
	}

	d.running = true
	return nil
}

// Stop отписывается от всех каналов (реализация core.Lifecycle)
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}

	var firstErr error
	for channel := range d.routes {
		if err := d.bus.Unsubscribe(channel); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	d.running = false
	return firstErr
}

// IsRunning проверяет, запущен ли диспетчер (реализация core.Lifecycle)
func (d *Dispatcher) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// Name возвращает имя компонента (реализация core.Component)
func (d *Dispatcher) Name() string {
	return "saga-dispatcher"
}

// Type возвращает тип компонента (реализация core.Component)
func (d *Dispatcher) Type() core.ComponentType {
	return core.ComponentTypeHandler
}

// wrap превращает EventHandler в transport.MessageHandler.
// Ошибки конфигурации и битые сообщения не переобрабатываются: nil уходит транспорту
// как подтверждение. Остальные ошибки возвращаются для повторной доставки.
func (d *Dispatcher) wrap(channel string, handler EventHandler) transport.MessageHandler {
	return func(ctx context.Context, msg *transport.Message) error {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer d.sem.Release(1)

		start := time.Now()
		if d.metrics != nil {
			d.metrics.IncInflight(ctx, channel)
			defer d.metrics.DecInflight(ctx, channel)
		}

		err := observability.TraceMessage(ctx, channel, msg.Headers, func(ctx context.Context) error {
			event, err := Decode(msg.Data)
			if err != nil {
				return err
			}
			return handler(ctx, event)
		})

		if d.metrics != nil {
			d.metrics.RecordHandle(ctx, channel, time.Since(start), err == nil)
		}
		if err == nil {
			return nil
		}

		fields := []zap.Field{
			zap.String("channel", channel),
			zap.String("order_id", msg.Headers[HeaderOrderID]),
			zap.String("transaction_id", msg.Headers[HeaderTransactionID]),
			zap.Error(err),
		}
		switch {
		case core.HasCode(err, core.ErrConfiguration):
			d.logger.Error("message dropped", append(fields, zap.String("kind", "configuration"))...)
			return nil
		case core.HasCode(err, core.ErrValidation):
			d.logger.Error("message dropped", append(fields, zap.String("kind", "validation"))...)
			return nil
		default:
			d.logger.Warn("message handling failed, leaving for redelivery", append(fields, zap.String("kind", core.CodeOf(err)))...)
			return err
		}
	}
}
