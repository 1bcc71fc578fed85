// Package messagebus предоставляет адаптеры для различных message brokers.
package messagebus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/akriventsev/orchestrated-saga/framework/core"
	"github.com/akriventsev/orchestrated-saga/framework/metrics"
	"github.com/akriventsev/orchestrated-saga/framework/transport"
)

// RedisConfig конфигурация для Redis Streams адаптера
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	PoolSize      int
	MaxRetries    int
	StreamMaxLen  int64 // Максимальная длина stream (0 = без ограничений)
	ConsumerGroup string
	BlockTimeout  time.Duration
	// ClaimIdle через сколько неподтвержденное сообщение забирается повторно
	ClaimIdle     time.Duration
	StreamPrefix  string
	EnableMetrics bool
}

// Validate проверяет корректность конфигурации
func (c RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	if c.ConsumerGroup == "" {
		return fmt.Errorf("ConsumerGroup cannot be empty")
	}
	return nil
}

// DefaultRedisConfig возвращает конфигурацию Redis по умолчанию
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		PoolSize:      10,
		MaxRetries:    3,
		StreamMaxLen:  10000,
		ConsumerGroup: "orchestrated-saga",
		BlockTimeout:  5 * time.Second,
		ClaimIdle:     time.Minute,
		StreamPrefix:  "saga",
		EnableMetrics: true,
	}
}

// RedisAdapter реализация MessageBus через Redis Streams.
// Сообщение подтверждается (XACK) только после успешной обработки,
// неподтвержденные забираются повторно через XAUTOCLAIM.
type RedisAdapter struct {
	config   RedisConfig
	client   *redis.Client
	consumer string
	cancels  map[string]context.CancelFunc
	mu       sync.RWMutex
	wg       sync.WaitGroup
	running  bool
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewRedisAdapter создает новый Redis адаптер
func NewRedisAdapter(config RedisConfig) (*RedisAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}

	adapter := &RedisAdapter{
		config: config,
		client: redis.NewClient(&redis.Options{
			Addr:       config.Addr,
			Password:   config.Password,
			DB:         config.DB,
			PoolSize:   config.PoolSize,
			MaxRetries: config.MaxRetries,
		}),
		consumer: "consumer-" + uuid.NewString(),
		cancels:  make(map[string]context.CancelFunc),
		logger:   zap.NewNop(),
	}

	if config.EnableMetrics {
		var err error
		adapter.metrics, err = metrics.NewMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics: %w", err)
		}
	}

	return adapter, nil
}

// WithLogger устанавливает logger
func (r *RedisAdapter) WithLogger(logger *zap.Logger) *RedisAdapter {
	r.logger = logger.With(zap.String("transport", "redis"))
	return r
}

// Start проверяет подключение (реализация core.Lifecycle)
func (r *RedisAdapter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	r.running = true
	return nil
}

// Stop останавливает чтение и закрывает клиента (реализация core.Lifecycle)
func (r *RedisAdapter) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	for stream, cancel := range r.cancels {
		cancel()
		delete(r.cancels, stream)
	}
	r.running = false
	r.mu.Unlock()

	r.wg.Wait()
	return r.client.Close()
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (r *RedisAdapter) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Name возвращает имя компонента (реализация core.Component)
func (r *RedisAdapter) Name() string {
	return "redis-adapter"
}

// Type возвращает тип компонента (реализация core.Component)
func (r *RedisAdapter) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// Delivery гарантия доставки адаптера
func (r *RedisAdapter) Delivery() transport.Delivery {
	return transport.AtLeastOnce
}

// HealthCheck выполняет PING
func (r *RedisAdapter) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Publish публикует сообщение в stream (XADD)
func (r *RedisAdapter) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	start := time.Now()

	values := map[string]interface{}{"data": string(data)}
	if len(headers) > 0 {
		headersJSON, err := json.Marshal(headers)
		if err != nil {
			return fmt.Errorf("failed to encode headers: %w", err)
		}
		values["headers"] = string(headersJSON)
	}

	args := redis.XAddArgs{
		Stream: r.getStreamName(subject),
		Values: values,
	}
	if r.config.StreamMaxLen > 0 {
		args.MaxLen = r.config.StreamMaxLen
		args.Approx = true
	}

	err := r.client.XAdd(ctx, &args).Err()
	if r.metrics != nil {
		r.metrics.RecordTransport(ctx, "redis", time.Since(start), err == nil)
	}
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Subscribe подписывается на stream через consumer group (XREADGROUP)
func (r *RedisAdapter) Subscribe(ctx context.Context, subject string, handler transport.MessageHandler) error {
	stream := r.getStreamName(subject)

	err := r.client.XGroupCreateMkStream(ctx, stream, r.config.ConsumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.cancels[stream]; exists {
		return fmt.Errorf("already subscribed to %s", subject)
	}
	subCtx, cancel := context.WithCancel(ctx)
	r.cancels[stream] = cancel

	r.wg.Add(1)
	go r.consume(subCtx, subject, stream, handler)
	return nil
}

func (r *RedisAdapter) consume(ctx context.Context, subject, stream string, handler transport.MessageHandler) {
	defer r.wg.Done()

	lastClaim := time.Now()
	for ctx.Err() == nil {
		if r.config.ClaimIdle > 0 && time.Since(lastClaim) >= r.config.ClaimIdle {
			r.claimPending(ctx, subject, stream, handler)
			lastClaim = time.Now()
		}

		streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    r.config.ConsumerGroup,
			Consumer: r.consumer,
			Streams:  []string{stream, ">"},
			Count:    10,
			Block:    r.config.BlockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			r.logger.Warn("read failed", zap.String("stream", stream), zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				r.deliver(ctx, subject, stream, msg, handler)
			}
		}
	}
}

// claimPending забирает сообщения, которые долго висят без XACK у любого consumer
func (r *RedisAdapter) claimPending(ctx context.Context, subject, stream string, handler transport.MessageHandler) {
	msgs, _, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    r.config.ConsumerGroup,
		Consumer: r.consumer,
		MinIdle:  r.config.ClaimIdle,
		Start:    "0-0",
		Count:    100,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("claim failed", zap.String("stream", stream), zap.Error(err))
		}
		return
	}
	for _, msg := range msgs {
		r.deliver(ctx, subject, stream, msg, handler)
	}
}

func (r *RedisAdapter) deliver(ctx context.Context, subject, stream string, msg redis.XMessage, handler transport.MessageHandler) {
	data, _ := msg.Values["data"].(string)
	mbMsg := &transport.Message{
		Subject: subject,
		Data:    []byte(data),
		Headers: make(map[string]string),
	}
	if headersStr, ok := msg.Values["headers"].(string); ok {
		if err := json.Unmarshal([]byte(headersStr), &mbMsg.Headers); err != nil {
			r.logger.Warn("bad headers", zap.String("stream", stream), zap.String("id", msg.ID), zap.Error(err))
		}
	}

	if err := handler(ctx, mbMsg); err != nil {
		r.logger.Warn("handler failed, message stays pending", zap.String("stream", stream), zap.String("id", msg.ID), zap.Error(err))
		return
	}
	if err := r.client.XAck(ctx, stream, r.config.ConsumerGroup, msg.ID).Err(); err != nil && ctx.Err() == nil {
		r.logger.Warn("ack failed", zap.String("stream", stream), zap.String("id", msg.ID), zap.Error(err))
	}
}

// Unsubscribe отписывается от stream
func (r *RedisAdapter) Unsubscribe(subject string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stream := r.getStreamName(subject)
	if cancel, ok := r.cancels[stream]; ok {
		cancel()
		delete(r.cancels, stream)
	}
	return nil
}

// getStreamName преобразует subject в имя stream
func (r *RedisAdapter) getStreamName(subject string) string {
	if r.config.StreamPrefix != "" {
		return r.config.StreamPrefix + ":" + subject
	}
	return "stream:" + subject
}
