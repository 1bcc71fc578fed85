// Package messagebus предоставляет адаптеры для различных message brokers.
package messagebus

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/akriventsev/orchestrated-saga/framework/core"
	"github.com/akriventsev/orchestrated-saga/framework/metrics"
	"github.com/akriventsev/orchestrated-saga/framework/transport"
)

// NATSConfig конфигурация для NATS адаптера
type NATSConfig struct {
	URL        string
	QueueGroup string // группа для балансировки между репликами сервиса
	// Stream JetStream stream, в котором хранятся сообщения каналов
	Stream string
	// Subjects каналы, которые stream должен покрывать
	Subjects []string
	// MaxAge сколько stream хранит сообщения
	MaxAge time.Duration
	// AckWait через сколько неподтвержденное сообщение доставляется повторно
	AckWait time.Duration
	// MaxDeliver лимит доставок одного сообщения, -1 без лимита
	MaxDeliver int
	// RedeliveryDelay задержка повторной доставки после ошибки обработчика
	RedeliveryDelay   time.Duration
	MaxReconnects     int
	ReconnectWait     time.Duration
	ConnectionTimeout time.Duration
	Token             string
	Username          string
	Password          string
	EnableMetrics     bool
}

// Validate проверяет корректность конфигурации
func (c NATSConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("URL cannot be empty")
	}
	if !strings.HasPrefix(c.URL, "nats://") && !strings.HasPrefix(c.URL, "tls://") {
		return fmt.Errorf("URL must start with nats:// or tls://")
	}
	if c.Stream == "" || strings.ContainsAny(c.Stream, ". *>") {
		return fmt.Errorf("stream name must be non-empty and must not contain '.', '*', '>' or spaces")
	}
	if c.AckWait <= 0 {
		return fmt.Errorf("ack wait must be positive")
	}
	return nil
}

// DefaultNATSConfig возвращает конфигурацию NATS по умолчанию
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:               "nats://localhost:4222",
		QueueGroup:        "orchestrated-saga",
		Stream:            "SAGA",
		MaxAge:            24 * time.Hour,
		AckWait:           30 * time.Second,
		MaxDeliver:        -1,
		RedeliveryDelay:   time.Second,
		MaxReconnects:     10,
		ReconnectWait:     2 * time.Second,
		ConnectionTimeout: 5 * time.Second,
		EnableMetrics:     true,
	}
}

// NATSAdapter реализация MessageBus через NATS JetStream.
// Каждый subject читает durable consumer в queue group, сообщение
// подтверждается после успешной обработки, иначе доставляется повторно.
type NATSAdapter struct {
	config  NATSConfig
	conn    *nats.Conn
	js      nats.JetStreamContext
	subs    map[string]*nats.Subscription
	mu      sync.RWMutex
	running bool
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NATSAdapterBuilder построитель для NATS адаптера
type NATSAdapterBuilder struct {
	config NATSConfig
	logger *zap.Logger
}

// NewNATSAdapterBuilder создает новый построитель NATS адаптера
func NewNATSAdapterBuilder() *NATSAdapterBuilder {
	return &NATSAdapterBuilder{
		config: DefaultNATSConfig(),
		logger: zap.NewNop(),
	}
}

// WithConfig устанавливает конфигурацию целиком
func (b *NATSAdapterBuilder) WithConfig(config NATSConfig) *NATSAdapterBuilder {
	b.config = config
	return b
}

// WithURL устанавливает URL NATS сервера
func (b *NATSAdapterBuilder) WithURL(url string) *NATSAdapterBuilder {
	b.config.URL = url
	return b
}

// WithQueueGroup устанавливает queue group подписок
func (b *NATSAdapterBuilder) WithQueueGroup(group string) *NATSAdapterBuilder {
	b.config.QueueGroup = group
	return b
}

// WithStream устанавливает stream и каналы, которые он покрывает
func (b *NATSAdapterBuilder) WithStream(name string, subjects ...string) *NATSAdapterBuilder {
	b.config.Stream = name
	b.config.Subjects = subjects
	return b
}

// WithCredentials устанавливает username и password
func (b *NATSAdapterBuilder) WithCredentials(username, password string) *NATSAdapterBuilder {
	b.config.Username = username
	b.config.Password = password
	return b
}

// WithLogger устанавливает logger
func (b *NATSAdapterBuilder) WithLogger(logger *zap.Logger) *NATSAdapterBuilder {
	b.logger = logger
	return b
}

// Build создает NATS адаптер
func (b *NATSAdapterBuilder) Build() (*NATSAdapter, error) {
	if err := b.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid nats config: %w", err)
	}

	adapter := &NATSAdapter{
		config: b.config,
		subs:   make(map[string]*nats.Subscription),
		logger: b.logger.With(zap.String("transport", "nats")),
	}

	if b.config.EnableMetrics {
		var err error
		adapter.metrics, err = metrics.NewMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics: %w", err)
		}
	}

	return adapter, nil
}

// Start подключается к серверу (реализация core.Lifecycle)
func (n *NATSAdapter) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		return nil
	}

	opts := []nats.Option{
		nats.MaxReconnects(n.config.MaxReconnects),
		nats.ReconnectWait(n.config.ReconnectWait),
		nats.Timeout(n.config.ConnectionTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				n.logger.Warn("disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			n.logger.Info("reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if n.config.Token != "" {
		opts = append(opts, nats.Token(n.config.Token))
	}
	if n.config.Username != "" && n.config.Password != "" {
		opts = append(opts, nats.UserInfo(n.config.Username, n.config.Password))
	}

	conn, err := nats.Connect(n.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open JetStream context: %w", err)
	}
	if err := n.ensureStream(ctx, js); err != nil {
		conn.Close()
		return err
	}

	n.conn = conn
	n.js = js
	n.running = true
	return nil
}

// ensureStream создает stream или добавляет в него недостающие subjects
func (n *NATSAdapter) ensureStream(ctx context.Context, js nats.JetStreamContext) error {
	info, err := js.StreamInfo(n.config.Stream, nats.Context(ctx))
	if errors.Is(err, nats.ErrStreamNotFound) {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      n.config.Stream,
			Subjects:  n.config.Subjects,
			Retention: nats.LimitsPolicy,
			Storage:   nats.FileStorage,
			MaxAge:    n.config.MaxAge,
		}, nats.Context(ctx))
		if err != nil {
			return fmt.Errorf("failed to create stream %s: %w", n.config.Stream, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read stream %s: %w", n.config.Stream, err)
	}

	cfg := info.Config
	missing := false
	for _, subject := range n.config.Subjects {
		if !slices.Contains(cfg.Subjects, subject) {
			cfg.Subjects = append(cfg.Subjects, subject)
			missing = true
		}
	}
	if !missing {
		return nil
	}
	if _, err := js.UpdateStream(&cfg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to update stream %s: %w", n.config.Stream, err)
	}
	return nil
}

// Stop отписывается и закрывает соединение (реализация core.Lifecycle)
func (n *NATSAdapter) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running {
		return nil
	}

	// Drain соединения не удаляет durable consumers, в отличие от Unsubscribe
	for subject := range n.subs {
		delete(n.subs, subject)
	}

	var err error
	if n.conn != nil && n.conn.IsConnected() {
		err = n.conn.Drain()
	}
	n.js = nil
	n.running = false
	return err
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (n *NATSAdapter) IsRunning() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.running
}

// Name возвращает имя компонента (реализация core.Component)
func (n *NATSAdapter) Name() string {
	return "nats-adapter"
}

// Type возвращает тип компонента (реализация core.Component)
func (n *NATSAdapter) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// Delivery гарантия доставки адаптера
func (n *NATSAdapter) Delivery() transport.Delivery {
	return transport.AtLeastOnce
}

// HealthCheck проверяет соединение
func (n *NATSAdapter) HealthCheck(ctx context.Context) error {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.conn == nil || !n.conn.IsConnected() {
		return fmt.Errorf("nats adapter is not connected")
	}
	return nil
}

// Publish публикует сообщение в subject
func (n *NATSAdapter) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	start := time.Now()

	n.mu.RLock()
	js := n.js
	n.mu.RUnlock()
	if js == nil {
		return fmt.Errorf("nats adapter is not connected")
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range headers {
		msg.Header[k] = []string{v}
	}

	_, err := js.PublishMsg(msg, nats.Context(ctx))
	if n.metrics != nil {
		n.metrics.RecordTransport(ctx, "nats", time.Since(start), err == nil)
	}
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// durableUnsafe символы, недопустимые в имени consumer
var durableUnsafe = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// durableName имя durable consumer для subject, общее для реплик queue group
func (n *NATSAdapter) durableName(subject string) string {
	return durableUnsafe.ReplaceAllString(n.config.QueueGroup+"_"+subject, "_")
}

// Subscribe подписывается на subject durable consumer'ом в queue group
func (n *NATSAdapter) Subscribe(ctx context.Context, subject string, handler transport.MessageHandler) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.js == nil {
		return fmt.Errorf("nats adapter is not connected")
	}

	opts := []nats.SubOpt{
		nats.BindStream(n.config.Stream),
		nats.Durable(n.durableName(subject)),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(n.config.AckWait),
		nats.DeliverAll(),
	}
	if n.config.MaxDeliver > 0 {
		opts = append(opts, nats.MaxDeliver(n.config.MaxDeliver))
	}

	sub, err := n.js.QueueSubscribe(subject, n.config.QueueGroup, func(msg *nats.Msg) {
		mbMsg := &transport.Message{
			Subject: msg.Subject,
			Data:    msg.Data,
			Headers: make(map[string]string, len(msg.Header)),
		}
		for k, vals := range msg.Header {
			if len(vals) > 0 {
				mbMsg.Headers[k] = vals[0]
			}
		}

		if err := handler(ctx, mbMsg); err != nil {
			n.logger.Warn("handler failed, message will be redelivered", zap.String("subject", msg.Subject), zap.Error(err))
			if nakErr := msg.NakWithDelay(n.config.RedeliveryDelay); nakErr != nil {
				n.logger.Warn("failed to nak message", zap.String("subject", msg.Subject), zap.Error(nakErr))
			}
			return
		}
		if err := msg.Ack(); err != nil {
			n.logger.Warn("failed to ack message", zap.String("subject", msg.Subject), zap.Error(err))
		}
	}, opts...)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	n.subs[subject] = sub
	return nil
}

// Unsubscribe отписывается от subject
func (n *NATSAdapter) Unsubscribe(subject string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	sub, exists := n.subs[subject]
	if !exists {
		return nil
	}
	delete(n.subs, subject)

	// Drain оставляет durable consumer, непрочитанное дочитает следующая подписка
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	return nil
}
