package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/orchestrated-saga/framework/core"
)

func TestParseFrom_Defaults(t *testing.T) {
	cfg, err := ParseFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, RoleAll, cfg.Role)
	assert.Equal(t, "kafka", cfg.Transport.Type)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Transport.KafkaBrokers)
	assert.Equal(t, "inmemory", cfg.Store.Records)
	assert.Equal(t, "start-saga", cfg.Channels.StartSaga)
	assert.Equal(t, "notify-ending", cfg.Channels.NotifyEnding)
	assert.Equal(t, uint(5), cfg.Retry.Attempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.Delay)
	assert.Equal(t, int64(16), cfg.Concurrency)
	assert.True(t, cfg.Runs(RolePayment))
}

func TestParseFrom_Overrides(t *testing.T) {
	cfg, err := ParseFrom(map[string]string{
		"SAGA_ROLE":               "payment",
		"TRANSPORT_TYPE":          "nats",
		"TRANSPORT_KAFKA_BROKERS": "a:9092,b:9092",
		"CHANNEL_PAYMENT_SUCCESS": "payment.forward",
		"PUBLISH_RETRY_ATTEMPTS":  "2",
		"STORE_RECORDS":           "postgres",
		"STORE_POSTGRES_DSN":      "postgres://saga@localhost/saga",
		"TRACING_SAMPLING_RATE":   "0.5",
	})
	require.NoError(t, err)

	assert.Equal(t, RolePayment, cfg.Role)
	assert.True(t, cfg.Runs(RolePayment))
	assert.False(t, cfg.Runs(RoleInventory))
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Transport.KafkaBrokers)
	assert.Equal(t, "payment.forward", cfg.Channels.PaymentSuccess)
	assert.Equal(t, uint(2), cfg.Retry.Attempts)
	assert.Equal(t, 0.5, cfg.Tracing.SamplingRate)
	assert.Equal(t, "SAGA", cfg.Transport.NATSStream)
	assert.Equal(t, 30*time.Second, cfg.Transport.NATSAckWait)
	assert.Contains(t, cfg.String(), "role=payment")
}

func TestParseFrom_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"unknown role":          {"SAGA_ROLE": "shipping"},
		"unknown transport":     {"TRANSPORT_TYPE": "rabbitmq"},
		"nats without ack wait": {"TRANSPORT_TYPE": "nats", "TRANSPORT_NATS_ACK_WAIT": "0s"},
		"postgres without dsn":  {"STORE_EVENTS": "postgres"},
		"redis event store":     {"STORE_EVENTS": "redis"},
		"zero concurrency":      {"DISPATCH_CONCURRENCY": "0"},
		"bad log format":        {"LOG_FORMAT": "xml"},
		"sampling out of range": {"TRACING_SAMPLING_RATE": "2"},
		"zero publish attempts": {"PUBLISH_RETRY_ATTEMPTS": "0"},
		"malformed duration":    {"SHUTDOWN_TIMEOUT": "soon"},
	}

	for name, vars := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFrom(vars)
			assert.True(t, core.HasCode(err, core.ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(file, []byte("SAGA_TEST_ONLY_VALUE=from-dotenv\n"), 0o600))
	t.Setenv("SAGA_TEST_ONLY_VALUE", "")
	require.NoError(t, os.Unsetenv("SAGA_TEST_ONLY_VALUE"))

	n, err := LoadEnv(filepath.Join(dir, "missing.env"), file)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "from-dotenv", os.Getenv("SAGA_TEST_ONLY_VALUE"))

	n, err = LoadEnv(filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
