package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/akriventsev/orchestrated-saga/framework/core"
	"github.com/akriventsev/orchestrated-saga/framework/metrics"
	"github.com/akriventsev/orchestrated-saga/framework/observability"
)

// ParticipantLogic бизнес-логика одного шага саги
type ParticipantLogic interface {
	// Validate проверяет доменные правила шага без мутаций
	Validate(ctx context.Context, event Event) error
	// Apply применяет локальную мутацию и возвращает пары старое/новое значение.
	// Может дописывать в payload поля, принадлежащие шагу.
	// При ошибке или панике Apply сам откатывает частично примененные изменения:
	// запись участника станет FAILED, и компенсация ее не тронет.
	Apply(ctx context.Context, event *Event) ([]Change, error)
	// Revert восстанавливает состояние по записи участника
	Revert(ctx context.Context, record Record, event *Event) error
}

// ParticipantConfig описание участника
type ParticipantConfig struct {
	Name                string
	Source              Source
	SuccessMessage      string
	CompensationMessage string
}

const (
	duplicateMessage           = "Duplicate transaction: this attempt was already processed."
	nothingToCompensateMessage = "Nothing to compensate for this transaction."
)

// ParticipantHandler выполняет прямой шаг и компенсацию идемпотентно
type ParticipantHandler struct {
	config  ParticipantConfig
	logic   ParticipantLogic
	guard   *Guard
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewParticipantHandler создает обработчик участника
func NewParticipantHandler(config ParticipantConfig, logic ParticipantLogic, store RecordStore) *ParticipantHandler {
	return &ParticipantHandler{
		config: config,
		logic:  logic,
		guard:  NewGuard(config.Name, store),
		logger: zap.NewNop(),
		now:    time.Now,
	}
}

// WithLogger устанавливает logger
func (h *ParticipantHandler) WithLogger(logger *zap.Logger) *ParticipantHandler {
	h.logger = logger.With(zap.String("participant", h.config.Name))
	return h
}

// WithMetrics устанавливает сборщик метрик
func (h *ParticipantHandler) WithMetrics(m *metrics.Metrics) *ParticipantHandler {
	h.metrics = m
	return h
}

// Name возвращает имя компонента (реализация core.Component)
func (h *ParticipantHandler) Name() string {
	return h.config.Name
}

// Type возвращает тип компонента (реализация core.Component)
func (h *ParticipantHandler) Type() core.ComponentType {
	return core.ComponentTypeParticipant
}

// Guard возвращает проверку идемпотентности участника
func (h *ParticipantHandler) Guard() *Guard {
	return h.guard
}

// Execute выполняет прямой шаг. Никогда не паникует и не возвращает ошибку:
// любой отказ превращается в ROLLBACK_PENDING с записью в журнале.
func (h *ParticipantHandler) Execute(ctx context.Context, event Event) (out Event) {
	ctx, span := observability.StartSpan(ctx, h.config.Name+".execute", event.OrderID, event.TransactionID)
	defer span.End()

	out = event.Clone()
	out.Source = h.config.Source

	var (
		record  Record
		claimed bool
	)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			if claimed {
				h.markFailed(ctx, record, err)
			}
			out = h.reject(ctx, event, err)
		}
		if h.metrics != nil {
			h.metrics.RecordExecution(ctx, h.config.Name, string(out.Status))
		}
	}()

	var err error
	record, claimed, err = h.guard.Claim(ctx, event.OrderID, event.TransactionID)
	if err != nil {
		return h.reject(ctx, event, err)
	}
	if !claimed {
		return h.reject(ctx, event, core.NewError(core.ErrDuplicateTransaction, duplicateMessage))
	}

	if err := h.logic.Validate(ctx, out); err != nil {
		h.markFailed(ctx, record, err)
		return h.reject(ctx, event, err)
	}

	changes, err := h.logic.Apply(ctx, &out)
	if err != nil {
		h.markFailed(ctx, record, err)
		return h.reject(ctx, event, err)
	}

	record, swapped, err := h.guard.Transition(ctx, record, RecordExecuted, changes, h.config.SuccessMessage)
	if err == nil && !swapped {
		err = core.NewError(core.ErrPersistence, "participant record changed concurrently")
	}
	if err != nil {
		// запись не сохранена, значит компенсация ее не найдет: откатываем сразу
		scratch := out.Clone()
		if revertErr := h.logic.Revert(ctx, record, &scratch); revertErr != nil {
			h.logger.Error("failed to undo mutation after record update failure",
				zap.String("order_id", event.OrderID),
				zap.String("transaction_id", event.TransactionID),
				zap.String("kind", "persistence"),
				zap.Error(revertErr),
			)
		}
		return h.reject(ctx, event, err)
	}

	out.Status = StatusSuccess
	out = out.AddHistory(h.config.SuccessMessage, h.now())

	h.logger.Info("step executed",
		zap.String("order_id", event.OrderID),
		zap.String("transaction_id", event.TransactionID),
		zap.Int("changes", len(changes)),
	)
	return out
}

// Compensate восстанавливает состояние до прямого шага.
// Без записи участника это no-op со статусом FAIL.
// Откат выполняет только обработчик, переведший запись EXECUTED -> REVERTING.
func (h *ParticipantHandler) Compensate(ctx context.Context, event Event) Event {
	ctx, span := observability.StartSpan(ctx, h.config.Name+".compensate", event.OrderID, event.TransactionID)
	defer span.End()

	out := event.Clone()
	out.Source = h.config.Source
	out.Status = StatusFail

	fields := []zap.Field{
		zap.String("order_id", event.OrderID),
		zap.String("transaction_id", event.TransactionID),
	}

	record, found, err := h.guard.Lookup(ctx, event.OrderID, event.TransactionID)
	if err != nil {
		h.logger.Error("compensation lookup failed", append(fields, zap.String("kind", "persistence"), zap.Error(err))...)
		return out.AddHistory("Rollback failed: "+err.Error(), h.now())
	}

	if !found || record.Status != RecordExecuted {
		return h.nothingToCompensate(ctx, out, fields)
	}

	reverting, claimed, err := h.guard.Transition(ctx, record, RecordReverting, nil, record.Message)
	if err != nil {
		h.logger.Error("compensation claim failed", append(fields, zap.String("kind", "persistence"), zap.Error(err))...)
		return out.AddHistory("Rollback failed: "+err.Error(), h.now())
	}
	if !claimed {
		return h.nothingToCompensate(ctx, out, fields)
	}

	if err := h.logic.Revert(ctx, reverting, &out); err != nil {
		h.logger.Error("compensation failed", append(fields, zap.String("kind", core.CodeOf(err)), zap.Error(err))...)
		// возвращаем EXECUTED, чтобы повторная доставка могла откатить снова
		if _, released, releaseErr := h.guard.Transition(ctx, reverting, RecordExecuted, nil, record.Message); releaseErr != nil || !released {
			h.logger.Error("failed to release compensation claim",
				append(fields, zap.String("kind", "persistence"), zap.Bool("released", released), zap.Error(releaseErr))...)
		}
		return out.AddHistory("Rollback failed: "+err.Error(), h.now())
	}

	// запись, оставшаяся в REVERTING, повторно не откатывается
	if _, swapped, err := h.guard.Transition(ctx, reverting, RecordReverted, nil, h.config.CompensationMessage); err != nil || !swapped {
		h.logger.Error("failed to mark record as reverted",
			append(fields, zap.String("kind", "persistence"), zap.Bool("swapped", swapped), zap.Error(err))...)
	}

	if h.metrics != nil {
		h.metrics.RecordCompensation(ctx, h.config.Name, false)
	}
	h.logger.Info("step compensated", fields...)
	return out.AddHistory(h.config.CompensationMessage, h.now())
}

// reject формирует ответ ROLLBACK_PENDING на основе исходного события,
// так что частичные изменения payload не уходят дальше
func (h *ParticipantHandler) reject(ctx context.Context, event Event, err error) Event {
	out := event.Clone()
	out.Source = h.config.Source
	out.Status = StatusRollbackPending

	fields := []zap.Field{
		zap.String("order_id", event.OrderID),
		zap.String("transaction_id", event.TransactionID),
		zap.Error(err),
	}
	switch {
	case core.HasCode(err, core.ErrPersistence):
		h.logger.Error("step failed on record store", append(fields, zap.String("kind", "persistence"))...)
	case core.HasCode(err, core.ErrDuplicateTransaction):
		h.logger.Warn("duplicate delivery rejected", append(fields, zap.String("kind", "duplicate"))...)
	case core.HasCode(err, core.ErrValidation):
		h.logger.Warn("step rejected", append(fields, zap.String("kind", "validation"))...)
	default:
		h.logger.Error("step failed unexpectedly", append(fields, zap.String("kind", "internal"))...)
	}

	return out.AddHistory("Fail to execute "+h.config.Name+": "+messageOf(err), h.now())
}

func (h *ParticipantHandler) nothingToCompensate(ctx context.Context, out Event, fields []zap.Field) Event {
	h.logger.Info("nothing to compensate", fields...)
	if h.metrics != nil {
		h.metrics.RecordCompensation(ctx, h.config.Name, true)
	}
	return out.AddHistory(nothingToCompensateMessage, h.now())
}

func (h *ParticipantHandler) markFailed(ctx context.Context, record Record, cause error) {
	if _, swapped, err := h.guard.Transition(ctx, record, RecordFailed, nil, messageOf(cause)); err != nil || !swapped {
		h.logger.Error("failed to mark record as failed",
			zap.String("order_id", record.OrderID),
			zap.String("transaction_id", record.TransactionID),
			zap.String("kind", "persistence"),
			zap.Bool("swapped", swapped),
			zap.Error(err),
		)
	}
}

// messageOf возвращает текст ошибки без кода для журнала саги
func messageOf(err error) string {
	var fe *core.FrameworkError
	if !errors.As(err, &fe) {
		return err.Error()
	}
	if fe.Cause != nil {
		return fe.Message + ": " + fe.Cause.Error()
	}
	return fe.Message
}
