// Package metrics предоставляет систему метрик саги на основе OpenTelemetry.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics сборщик метрик оркестратора, участников и транспорта
type Metrics struct {
	meter                metric.Meter
	decisionsTotal       metric.Int64Counter
	executionsTotal      metric.Int64Counter
	compensationsTotal   metric.Int64Counter
	publishFailuresTotal metric.Int64Counter
	transportTotal       metric.Int64Counter
	handleDuration       metric.Float64Histogram
	transportDuration    metric.Float64Histogram
	inflightMessages     metric.Int64UpDownCounter
}

// NewMetrics создает новый сборщик метрик
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("orchestrated-saga")

	decisionsTotal, err := meter.Int64Counter(
		"saga_decisions_total",
		metric.WithDescription("Total number of orchestrator routing decisions"),
	)
	if err != nil {
		return nil, err
	}

	executionsTotal, err := meter.Int64Counter(
		"participant_executions_total",
		metric.WithDescription("Total number of participant forward executions"),
	)
	if err != nil {
		return nil, err
	}

	compensationsTotal, err := meter.Int64Counter(
		"participant_compensations_total",
		metric.WithDescription("Total number of participant compensations"),
	)
	if err != nil {
		return nil, err
	}

	publishFailuresTotal, err := meter.Int64Counter(
		"saga_publish_failures_total",
		metric.WithDescription("Total number of events that could not be published after retries"),
	)
	if err != nil {
		return nil, err
	}

	transportTotal, err := meter.Int64Counter(
		"transport_messages_total",
		metric.WithDescription("Total number of messages sent through a message bus adapter"),
	)
	if err != nil {
		return nil, err
	}

	handleDuration, err := meter.Float64Histogram(
		"saga_handle_duration_seconds",
		metric.WithDescription("Message handling duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	transportDuration, err := meter.Float64Histogram(
		"transport_publish_duration_seconds",
		metric.WithDescription("Message bus publish duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	inflightMessages, err := meter.Int64UpDownCounter(
		"saga_inflight_messages",
		metric.WithDescription("Number of messages being handled right now"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		meter:                meter,
		decisionsTotal:       decisionsTotal,
		executionsTotal:      executionsTotal,
		compensationsTotal:   compensationsTotal,
		publishFailuresTotal: publishFailuresTotal,
		transportTotal:       transportTotal,
		handleDuration:       handleDuration,
		transportDuration:    transportDuration,
		inflightMessages:     inflightMessages,
	}, nil
}

// RecordDecision записывает решение оркестратора
func (m *Metrics) RecordDecision(ctx context.Context, source, kind string) {
	m.decisionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("decision", kind),
	))
}

// RecordExecution записывает результат прямого шага участника
func (m *Metrics) RecordExecution(ctx context.Context, participant, status string) {
	m.executionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("participant", participant),
		attribute.String("status", status),
	))
}

// RecordCompensation записывает компенсацию участника
func (m *Metrics) RecordCompensation(ctx context.Context, participant string, noop bool) {
	m.compensationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("participant", participant),
		attribute.Bool("noop", noop),
	))
}

// RecordPublishFailure записывает окончательную ошибку публикации
func (m *Metrics) RecordPublishFailure(ctx context.Context, channel string) {
	m.publishFailuresTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
	))
}

// RecordHandle записывает длительность обработки сообщения канала
func (m *Metrics) RecordHandle(ctx context.Context, channel string, duration time.Duration, success bool) {
	m.handleDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.Bool("success", success),
	))
}

// RecordTransport записывает метрику публикации через адаптер
func (m *Metrics) RecordTransport(ctx context.Context, transportName string, duration time.Duration, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("transport", transportName),
		attribute.Bool("success", success),
	}
	m.transportTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.transportDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// IncInflight увеличивает счетчик обрабатываемых сообщений
func (m *Metrics) IncInflight(ctx context.Context, channel string) {
	m.inflightMessages.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", channel)))
}

// DecInflight уменьшает счетчик обрабатываемых сообщений
func (m *Metrics) DecInflight(ctx context.Context, channel string) {
	m.inflightMessages.Add(ctx, -1, metric.WithAttributes(attribute.String("channel", channel)))
}
