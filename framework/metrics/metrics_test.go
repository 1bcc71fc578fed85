package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupMetrics_UnknownExporter(t *testing.T) {
	_, err := SetupMetrics(&MetricsConfig{ExporterType: "statsd"})
	assert.Error(t, err)
}

func TestMetrics_Record(t *testing.T) {
	provider, err := SetupMetrics(&MetricsConfig{
		ExporterType:  "manual",
		ResourceAttrs: map[string]string{"service.name": "saga-test"},
	})
	require.NoError(t, err)
	defer func() { _ = ShutdownMetrics(context.Background(), provider) }()

	m, err := NewMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordDecision(ctx, "PAYMENT_SERVICE", "forward")
	m.RecordExecution(ctx, "payment", "SUCCESS")
	m.RecordCompensation(ctx, "payment", false)
	m.RecordPublishFailure(ctx, "orchestrator")
	m.RecordHandle(ctx, "orchestrator", 5*time.Millisecond, true)
	m.RecordTransport(ctx, "inmemory", time.Millisecond, true)
	m.IncInflight(ctx, "orchestrator")
	m.DecInflight(ctx, "orchestrator")
}

func TestShutdownMetrics_Nil(t *testing.T) {
	assert.NoError(t, ShutdownMetrics(context.Background(), nil))
}
