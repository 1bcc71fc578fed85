package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akriventsev/orchestrated-saga/framework/core"
	"github.com/akriventsev/orchestrated-saga/framework/metrics"
	"github.com/akriventsev/orchestrated-saga/framework/observability"
)

// DecisionKind тип решения оркестратора
type DecisionKind string

const (
	DecisionForward       DecisionKind = "forward"
	DecisionFinishSuccess DecisionKind = "finish-success"
	DecisionRollback      DecisionKind = "rollback"
	DecisionFinishFail    DecisionKind = "finish-fail"
)

// Decision результат маршрутизации ответа участника
type Decision struct {
	Kind    DecisionKind
	Channel string
	Event   Event
	// Target шаг, которому адресовано событие; None для завершения саги
	Target core.Option[Step]
}

// Decide чистая функция маршрутизации по статусу события и позиции шага.
// Журнал события не меняется.
func Decide(topology *Topology, event Event) (Decision, error) {
	step, err := topology.StepOf(event.Source)
	if err != nil {
		return Decision{}, err
	}

	out := event.Clone()

	switch event.Status {
	case StatusSuccess:
		next := topology.NextOf(step)
		if next.IsNone() {
			return Decision{
				Kind:    DecisionFinishSuccess,
				Channel: topology.FinishSuccessChannel(),
				Event:   out,
				Target:  core.None[Step](),
			}, nil
		}
		out.Status = StatusPending
		return Decision{
			Kind:    DecisionForward,
			Channel: next.Value().ForwardChannel,
			Event:   out,
			Target:  next,
		}, nil

	case StatusRollbackPending, StatusFail:
		out.Status = StatusFail
		previous := topology.PreviousOf(step)
		if previous.IsNone() {
			return Decision{
				Kind:    DecisionFinishFail,
				Channel: topology.FinishFailChannel(),
				Event:   out,
				Target:  core.None[Step](),
			}, nil
		}
		return Decision{
			Kind:    DecisionRollback,
			Channel: previous.Value().RollbackChannel,
			Event:   out,
			Target:  previous,
		}, nil

	default:
		return Decision{}, core.NewError(core.ErrConfiguration,
			fmt.Sprintf("unexpected status %q from %s", event.Status, event.Source))
	}
}

// Orchestrator решает, что делать дальше с ответом участника, и публикует результат.
// Собственного состояния между вызовами не держит.
type Orchestrator struct {
	topology  *Topology
	publisher Publisher
	store     EventStore
	channels  Channels
	logger    *zap.Logger
	metrics   *metrics.Metrics
	newID     func() string
	now       func() time.Time
}

// NewOrchestrator создает оркестратор
func NewOrchestrator(topology *Topology, publisher Publisher, channels Channels) *Orchestrator {
	return &Orchestrator{
		topology:  topology,
		publisher: publisher,
		channels:  channels,
		logger:    zap.NewNop(),
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// WithEventStore включает аудит решений и защиту от прямого шага после отката
func (o *Orchestrator) WithEventStore(store EventStore) *Orchestrator {
	o.store = store
	return o
}

// WithLogger устанавливает logger
func (o *Orchestrator) WithLogger(logger *zap.Logger) *Orchestrator {
	o.logger = logger.With(zap.String("component", "orchestrator"))
	return o
}

// WithMetrics устанавливает сборщик метрик
func (o *Orchestrator) WithMetrics(m *metrics.Metrics) *Orchestrator {
	o.metrics = m
	return o
}

// Name возвращает имя компонента (реализация core.Component)
func (o *Orchestrator) Name() string {
	return "saga-orchestrator"
}

// Type возвращает тип компонента (реализация core.Component)
func (o *Orchestrator) Type() core.ComponentType {
	return core.ComponentTypeHandler
}

// Topology возвращает топологию саги
func (o *Orchestrator) Topology() *Topology {
	return o.topology
}

// Start начинает сагу: событие уходит в прямой канал первого шага
func (o *Orchestrator) Start(ctx context.Context, event Event) (Event, error) {
	ctx, span := observability.StartSpan(ctx, "orchestrator.start", event.OrderID, event.TransactionID)
	defer span.End()

	out := event.Clone()
	out.ID = o.newID()
	out.Source = SourceOrchestrator
	out.Status = StatusPending
	if out.CreatedAt.IsZero() {
		out.CreatedAt = o.now()
	}

	first := o.topology.First()
	if err := o.emit(ctx, first.ForwardChannel, out); err != nil {
		return out, err
	}

	o.logger.Info("saga started",
		zap.String("order_id", out.OrderID),
		zap.String("transaction_id", out.TransactionID),
		zap.String("channel", first.ForwardChannel),
	)
	return out, nil
}

// Handle обрабатывает ответ участника: решение, проверка отката, аудит, публикация.
// Прямой шаг после уже выпущенного отката не публикуется.
func (o *Orchestrator) Handle(ctx context.Context, event Event) (Event, error) {
	ctx, span := observability.StartSpan(ctx, "orchestrator.handle", event.OrderID, event.TransactionID)
	defer span.End()

	fields := []zap.Field{
		zap.String("order_id", event.OrderID),
		zap.String("transaction_id", event.TransactionID),
		zap.String("source", string(event.Source)),
		zap.String("status", string(event.Status)),
	}

	decision, err := Decide(o.topology, event)
	if err != nil {
		o.logger.Error("cannot route event", append(fields, zap.String("kind", "configuration"), zap.Error(err))...)
		return event, err
	}

	if decision.Kind == DecisionForward && o.store != nil {
		issued, err := o.store.RollbackIssued(ctx, event.TransactionID)
		if err != nil {
			return event, core.Wrap(err, core.ErrPersistence, "failed to check rollback state")
		}
		if issued {
			o.logger.Warn("forward step suppressed after rollback", append(fields, zap.String("channel", decision.Channel))...)
			return event, nil
		}
	}

	if o.metrics != nil {
		o.metrics.RecordDecision(ctx, string(event.Source), string(decision.Kind))
	}

	out := decision.Event
	out.ID = o.newID()
	if err := o.emit(ctx, decision.Channel, out); err != nil {
		return out, err
	}

	o.logger.Info("saga advanced", append(fields,
		zap.String("decision", string(decision.Kind)),
		zap.String("channel", decision.Channel),
	)...)
	return out, nil
}

// Finish пересылает итоговое событие саги в канал уведомления о завершении
func (o *Orchestrator) Finish(ctx context.Context, event Event) error {
	o.logger.Info("saga finished",
		zap.String("order_id", event.OrderID),
		zap.String("transaction_id", event.TransactionID),
		zap.String("status", string(event.Status)),
		zap.Int("history", len(event.History)),
	)
	return o.publisher.Publish(ctx, o.channels.NotifyEnding, event)
}

// emit записывает событие в журнал до публикации, чтобы откат был виден
// при повторной доставке
func (o *Orchestrator) emit(ctx context.Context, channel string, event Event) error {
	if o.store != nil {
		if err := o.store.Append(ctx, event); err != nil {
			return core.Wrap(err, core.ErrPersistence, "failed to audit saga event")
		}
	}
	return o.publisher.Publish(ctx, channel, event)
}
