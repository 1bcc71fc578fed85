// Package messagebus предоставляет адаптеры для различных message brokers.
package messagebus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/akriventsev/orchestrated-saga/framework/core"
	"github.com/akriventsev/orchestrated-saga/framework/metrics"
	"github.com/akriventsev/orchestrated-saga/framework/transport"
)

// KafkaConfig конфигурация для Kafka адаптера
type KafkaConfig struct {
	Brokers        []string
	GroupID        string
	Compression    string // none, gzip, snappy, lz4, zstd
	BatchSize      int
	FlushInterval  time.Duration
	ConsumerConfig KafkaConsumerConfig
	ProducerConfig KafkaProducerConfig
	EnableMetrics  bool
}

// Validate проверяет корректность конфигурации
func (c KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("brokers cannot be empty")
	}
	for i, broker := range c.Brokers {
		if broker == "" {
			return fmt.Errorf("broker[%d] cannot be empty", i)
		}
		if !strings.Contains(broker, ":") {
			return fmt.Errorf("broker[%d] must be in format host:port", i)
		}
	}
	if c.GroupID == "" {
		return fmt.Errorf("GroupID cannot be empty")
	}
	return nil
}

// KafkaConsumerConfig конфигурация для Kafka consumer
type KafkaConsumerConfig struct {
	MinBytes    int
	MaxBytes    int
	MaxWait     time.Duration
	StartOffset int64 // -2 (earliest), -1 (latest)
	// HandlerRetries сколько раз повторить обработчик, прежде чем отправить сообщение в DLQ
	HandlerRetries int
	RetryBackoff   time.Duration
}

// KafkaProducerConfig конфигурация для Kafka producer
type KafkaProducerConfig struct {
	RequiredAcks int // 0, 1, -1 (all)
	MaxAttempts  int
}

// DefaultKafkaConfig возвращает конфигурацию Kafka по умолчанию
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:       []string{"localhost:9092"},
		GroupID:       "orchestrated-saga",
		Compression:   "snappy",
		BatchSize:     100,
		FlushInterval: 10 * time.Millisecond,
		ConsumerConfig: KafkaConsumerConfig{
			MinBytes:       1,
			MaxBytes:       10e6, // 10MB
			MaxWait:        500 * time.Millisecond,
			StartOffset:    kafka.FirstOffset,
			HandlerRetries: 3,
			RetryBackoff:   time.Second,
		},
		ProducerConfig: KafkaProducerConfig{
			RequiredAcks: -1,
			MaxAttempts:  3,
		},
		EnableMetrics: true,
	}
}

type kafkaSubscription struct {
	reader *kafka.Reader
	cancel context.CancelFunc
}

// KafkaAdapter реализация MessageBus через Kafka.
// Offset коммитится только после успешной обработки или отправки в DLQ.
type KafkaAdapter struct {
	config  KafkaConfig
	writer  *kafka.Writer
	subs    map[string]*kafkaSubscription
	mu      sync.RWMutex
	wg      sync.WaitGroup
	running bool
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewKafkaAdapter создает новый Kafka адаптер
func NewKafkaAdapter(config KafkaConfig) (*KafkaAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kafka config: %w", err)
	}

	adapter := &KafkaAdapter{
		config: config,
		subs:   make(map[string]*kafkaSubscription),
		logger: zap.NewNop(),
	}

	if config.EnableMetrics {
		var err error
		adapter.metrics, err = metrics.NewMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics: %w", err)
		}
	}

	adapter.writer = &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequiredAcks(config.ProducerConfig.RequiredAcks),
		MaxAttempts:            config.ProducerConfig.MaxAttempts,
		BatchSize:              config.BatchSize,
		BatchTimeout:           config.FlushInterval,
		Compression:            getCompression(config.Compression),
		AllowAutoTopicCreation: true,
	}

	return adapter, nil
}

// WithLogger устанавливает logger
func (k *KafkaAdapter) WithLogger(logger *zap.Logger) *KafkaAdapter {
	k.logger = logger.With(zap.String("transport", "kafka"))
	return k
}

// getCompression преобразует строку в kafka.Compression
func getCompression(compression string) kafka.Compression {
	switch compression {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}

// Start запускает адаптер (реализация core.Lifecycle)
func (k *KafkaAdapter) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.running = true
	return nil
}

// Stop останавливает адаптер (реализация core.Lifecycle)
func (k *KafkaAdapter) Stop(ctx context.Context) error {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		return nil
	}
	for topic, sub := range k.subs {
		sub.cancel()
		_ = sub.reader.Close()
		delete(k.subs, topic)
	}
	k.running = false
	k.mu.Unlock()

	k.wg.Wait()
	return k.writer.Close()
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (k *KafkaAdapter) IsRunning() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.running
}

// Name возвращает имя компонента (реализация core.Component)
func (k *KafkaAdapter) Name() string {
	return "kafka-adapter"
}

// Type возвращает тип компонента (реализация core.Component)
func (k *KafkaAdapter) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// Delivery гарантия доставки адаптера
func (k *KafkaAdapter) Delivery() transport.Delivery {
	return transport.AtLeastOnce
}

// HealthCheck проверяет доступность хотя бы одного брокера
func (k *KafkaAdapter) HealthCheck(ctx context.Context) error {
	conn, err := kafka.DialContext(ctx, "tcp", k.config.Brokers[0])
	if err != nil {
		return fmt.Errorf("kafka broker unreachable: %w", err)
	}
	return conn.Close()
}

// Publish публикует сообщение в топик. Ключ сообщения берется из
// transport.HeaderMessageKey, чтобы события одной транзакции шли в одну партицию.
func (k *KafkaAdapter) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	start := time.Now()

	msg := kafka.Message{
		Topic:   subject,
		Value:   data,
		Headers: make([]kafka.Header, 0, len(headers)),
	}
	if key, ok := headers[transport.HeaderMessageKey]; ok {
		msg.Key = []byte(key)
	}
	for name, value := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: name, Value: []byte(value)})
	}

	err := k.writer.WriteMessages(ctx, msg)
	if k.metrics != nil {
		k.metrics.RecordTransport(ctx, "kafka", time.Since(start), err == nil)
	}
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Subscribe подписывается на топик в рамках consumer group
func (k *KafkaAdapter) Subscribe(ctx context.Context, subject string, handler transport.MessageHandler) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, exists := k.subs[subject]; exists {
		return fmt.Errorf("already subscribed to %s", subject)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.config.Brokers,
		Topic:       subject,
		GroupID:     k.config.GroupID,
		MinBytes:    k.config.ConsumerConfig.MinBytes,
		MaxBytes:    k.config.ConsumerConfig.MaxBytes,
		MaxWait:     k.config.ConsumerConfig.MaxWait,
		StartOffset: k.config.ConsumerConfig.StartOffset,
	})

	subCtx, cancel := context.WithCancel(ctx)
	k.subs[subject] = &kafkaSubscription{reader: reader, cancel: cancel}

	k.wg.Add(1)
	go k.consume(subCtx, reader, handler)
	return nil
}

func (k *KafkaAdapter) consume(ctx context.Context, reader *kafka.Reader, handler transport.MessageHandler) {
	defer k.wg.Done()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			k.logger.Warn("fetch failed", zap.String("topic", reader.Config().Topic), zap.Error(err))
			continue
		}

		mbMsg := &transport.Message{
			Subject: msg.Topic,
			Data:    msg.Value,
			Headers: make(map[string]string, len(msg.Headers)),
		}
		for _, h := range msg.Headers {
			mbMsg.Headers[h.Key] = string(h.Value)
		}

		if err := k.handleWithRetry(ctx, mbMsg, handler); err != nil {
			if ctx.Err() != nil {
				return
			}
			if dlqErr := k.DeadLetterQueue(ctx, mbMsg, err.Error()); dlqErr != nil {
				// без DLQ offset не коммитим, сообщение придет снова после ребаланса
				k.logger.Error("dead letter publish failed", zap.String("topic", msg.Topic), zap.Error(dlqErr))
				continue
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			k.logger.Warn("commit failed", zap.String("topic", msg.Topic), zap.Error(err))
		}
	}
}

func (k *KafkaAdapter) handleWithRetry(ctx context.Context, msg *transport.Message, handler transport.MessageHandler) error {
	var err error
	for attempt := 0; attempt <= k.config.ConsumerConfig.HandlerRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(k.config.ConsumerConfig.RetryBackoff * time.Duration(attempt)):
			}
		}
		if err = handler(ctx, msg); err == nil {
			return nil
		}
		k.logger.Warn("handler failed", zap.String("topic", msg.Subject), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return err
}

// Unsubscribe отписывается от топика
func (k *KafkaAdapter) Unsubscribe(subject string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	sub, exists := k.subs[subject]
	if !exists {
		return nil
	}
	sub.cancel()
	delete(k.subs, subject)

	if err := sub.reader.Close(); err != nil {
		return fmt.Errorf("failed to close reader: %w", err)
	}
	return nil
}

// DeadLetterQueue отправляет необработанное сообщение в топик <topic>.dlq
func (k *KafkaAdapter) DeadLetterQueue(ctx context.Context, msg *transport.Message, reason string) error {
	headers := copyHeaders(msg.Headers)
	headers["original_topic"] = msg.Subject
	headers["reason"] = reason
	headers["timestamp"] = time.Now().Format(time.RFC3339)

	return k.Publish(ctx, msg.Subject+".dlq", msg.Data, headers)
}
