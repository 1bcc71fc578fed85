package messagebus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/akriventsev/orchestrated-saga/framework/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startAdapter(t *testing.T, cfg InMemoryConfig) *InMemoryAdapter {
	t.Helper()
	adapter := NewInMemoryAdapter(cfg)
	require.NoError(t, adapter.Start(context.Background()))
	t.Cleanup(func() {
		require.NoError(t, adapter.Stop(context.Background()))
	})
	return adapter
}

func waitIdle(t *testing.T, adapter *InMemoryAdapter) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, adapter.WaitIdle(ctx))
}

func TestInMemoryAdapter_PublishNotRunning(t *testing.T) {
	adapter := NewInMemoryAdapter(DefaultInMemoryConfig())
	err := adapter.Publish(context.Background(), "orders", []byte("x"), nil)
	assert.Error(t, err)
}

func TestInMemoryAdapter_OrderedDelivery(t *testing.T) {
	cfg := DefaultInMemoryConfig()
	cfg.EnableOrdering = true
	adapter := startAdapter(t, cfg)

	var (
		mu       sync.Mutex
		received []string
	)
	require.NoError(t, adapter.Subscribe(context.Background(), "orders", func(ctx context.Context, msg *transport.Message) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, string(msg.Data))
		return nil
	}))

	for _, payload := range []string{"a", "b", "c", "d"} {
		require.NoError(t, adapter.Publish(context.Background(), "orders", []byte(payload), nil))
	}
	waitIdle(t, adapter)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c", "d"}, received)
}

func TestInMemoryAdapter_PublishFromHandler(t *testing.T) {
	cfg := DefaultInMemoryConfig()
	cfg.EnableOrdering = true
	adapter := startAdapter(t, cfg)

	var hops int32
	require.NoError(t, adapter.Subscribe(context.Background(), "ping", func(ctx context.Context, msg *transport.Message) error {
		atomic.AddInt32(&hops, 1)
		return adapter.Publish(ctx, "pong", msg.Data, msg.Headers)
	}))
	require.NoError(t, adapter.Subscribe(context.Background(), "pong", func(ctx context.Context, msg *transport.Message) error {
		atomic.AddInt32(&hops, 1)
		return nil
	}))

	require.NoError(t, adapter.Publish(context.Background(), "ping", []byte("1"), map[string]string{"k": "v"}))
	waitIdle(t, adapter)

	assert.Equal(t, int32(2), atomic.LoadInt32(&hops))
}

func TestInMemoryAdapter_Redelivery(t *testing.T) {
	cfg := DefaultInMemoryConfig()
	cfg.MaxRedeliveries = 2
	adapter := startAdapter(t, cfg)

	var attempts int32
	require.NoError(t, adapter.Subscribe(context.Background(), "flaky", func(ctx context.Context, msg *transport.Message) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("temporary")
		}
		return nil
	}))

	require.NoError(t, adapter.Publish(context.Background(), "flaky", []byte("x"), nil))
	waitIdle(t, adapter)

	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	assert.Equal(t, transport.AtLeastOnce, adapter.Delivery())
}

func TestInMemoryAdapter_RedeliveryExhausted(t *testing.T) {
	cfg := DefaultInMemoryConfig()
	cfg.MaxRedeliveries = 1
	adapter := startAdapter(t, cfg)

	var attempts int32
	require.NoError(t, adapter.Subscribe(context.Background(), "broken", func(ctx context.Context, msg *transport.Message) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("always")
	}))

	require.NoError(t, adapter.Publish(context.Background(), "broken", []byte("x"), nil))
	waitIdle(t, adapter)

	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestInMemoryAdapter_Unsubscribe(t *testing.T) {
	adapter := startAdapter(t, DefaultInMemoryConfig())

	handler := func(ctx context.Context, msg *transport.Message) error { return nil }
	require.NoError(t, adapter.Subscribe(context.Background(), "orders", handler))
	require.NoError(t, adapter.Subscribe(context.Background(), "orders", handler))
	assert.Equal(t, 2, adapter.GetSubscriberCount("orders"))

	require.NoError(t, adapter.Unsubscribe("orders"))
	assert.Equal(t, 0, adapter.GetSubscriberCount("orders"))
}

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		subject string
		pattern string
		want    bool
	}{
		{"saga.payment", "saga.payment", true},
		{"saga.payment", "saga.*", true},
		{"saga.payment.fail", "saga.*", false},
		{"saga.payment.fail", "saga.>", true},
		{"saga", "saga.>", false},
		{"orders", "payments", false},
	}

	for _, tt := range tests {
		t.Run(tt.subject+"~"+tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, matchSubject(tt.subject, tt.pattern))
		})
	}
}

func TestMessageBusFactory(t *testing.T) {
	factory := NewMessageBusFactory()
	assert.Equal(t, []string{"inmemory", "kafka", "nats", "redis"}, factory.ListRegistered())

	bus, err := factory.Create("inmemory", nil)
	require.NoError(t, err)
	assert.Equal(t, "inmemory-adapter", bus.Name())

	_, err = factory.Create("rabbitmq", nil)
	assert.Error(t, err)

	_, err = factory.Create("kafka", "not a config")
	assert.Error(t, err)

	assert.Error(t, factory.Register("inmemory", func(config interface{}) (Bus, error) { return nil, nil }))
}

func TestKafkaConfig_Validate(t *testing.T) {
	cfg := DefaultKafkaConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Brokers = []string{"localhost"}
	assert.Error(t, cfg.Validate())

	cfg = DefaultKafkaConfig()
	cfg.GroupID = ""
	assert.Error(t, cfg.Validate())
}

func TestNATSConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultNATSConfig().Validate())
	assert.Error(t, NATSConfig{URL: "http://localhost:4222"}.Validate())

	cfg := DefaultNATSConfig()
	cfg.Stream = "saga.events"
	assert.Error(t, cfg.Validate())

	cfg = DefaultNATSConfig()
	cfg.AckWait = 0
	assert.Error(t, cfg.Validate())
}

func TestNATSAdapter_DeliversAtLeastOnce(t *testing.T) {
	adapter, err := NewNATSAdapterBuilder().
		WithConfig(DefaultNATSConfig()).
		WithStream("SAGA", "payment-success", "payment-fail").
		Build()
	require.NoError(t, err)

	assert.Equal(t, transport.AtLeastOnce, adapter.Delivery())
	assert.Equal(t, []string{"payment-success", "payment-fail"}, adapter.config.Subjects)
	assert.Equal(t, "orchestrated-saga_payment-success", adapter.durableName("payment-success"))
	assert.Equal(t, "orchestrated-saga_saga_orchestrator", adapter.durableName("saga.orchestrator"))
}

func TestRedisConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultRedisConfig().Validate())
	assert.Error(t, RedisConfig{ConsumerGroup: "g"}.Validate())
}
