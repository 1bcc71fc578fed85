// Package payment второй шаг саги: расчет суммы заказа и проведение платежа.
package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/akriventsev/orchestrated-saga/framework/core"
	"github.com/akriventsev/orchestrated-saga/framework/saga"
)

// Name имя участника в записях идемпотентности
const Name = "payment"

// MinAmount минимальная сумма платежа
const MinAmount = 0.1

// resourceAmount ресурс в записи участника
const resourceAmount = "payment.total_amount"

// Config описание участника
func Config() saga.ParticipantConfig {
	return saga.ParticipantConfig{
		Name:                Name,
		Source:              saga.SourcePayment,
		SuccessMessage:      "Payment realized successfully!",
		CompensationMessage: "Rollback / Refund realized for payment!",
	}
}

// Totals сумма и количество позиций заказа
func Totals(order saga.Order) (amount float64, items int) {
	for _, item := range order.Products {
		amount += float64(item.Quantity) * item.Product.UnitValue
		items += item.Quantity
	}
	return amount, items
}

// Logic проводит платеж и пишет итоги в payload. Итоги принадлежат этому шагу.
type Logic struct {
	store Store
	now   func() time.Time
}

// NewLogic создает логику шага
func NewLogic(store Store) *Logic {
	return &Logic{store: store, now: time.Now}
}

// Validate реализация saga.ParticipantLogic
func (l *Logic) Validate(ctx context.Context, event saga.Event) error {
	for _, item := range event.Payload.Products {
		if item.Quantity <= 0 {
			return core.NewError(core.ErrValidation, fmt.Sprintf("Invalid quantity for product %s", item.Product.Code))
		}
	}
	amount, _ := Totals(event.Payload)
	if amount < MinAmount {
		return core.NewError(core.ErrValidation, fmt.Sprintf("Amount must be greater than: %v", MinAmount))
	}
	return nil
}

// Apply реализация saga.ParticipantLogic
func (l *Logic) Apply(ctx context.Context, event *saga.Event) ([]saga.Change, error) {
	amount, items := Totals(event.Payload)
	now := l.now()

	payment := Payment{
		OrderID:       event.OrderID,
		TransactionID: event.TransactionID,
		TotalItems:    items,
		TotalAmount:   amount,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := l.store.Create(ctx, payment); err != nil {
		return nil, core.Wrap(err, core.ErrPersistence, "failed to create payment")
	}
	if err := l.store.SetStatus(ctx, event.OrderID, event.TransactionID, StatusSuccess, now); err != nil {
		// запись участника станет FAILED, поэтому платеж закрывается здесь
		if refundErr := l.store.SetStatus(ctx, event.OrderID, event.TransactionID, StatusRefund, l.now()); refundErr != nil {
			return nil, core.Wrap(fmt.Errorf("%w; refund: %v", err, refundErr), core.ErrPersistence, "failed to confirm payment")
		}
		return nil, core.Wrap(err, core.ErrPersistence, "failed to confirm payment")
	}

	event.Payload.TotalAmount = amount
	event.Payload.TotalItems = items
	return []saga.Change{{Resource: resourceAmount, OldValue: 0, NewValue: amount}}, nil
}

// Revert реализация saga.ParticipantLogic: платеж переводится в REFUND,
// итоги в payload переписываются из сохраненного платежа
func (l *Logic) Revert(ctx context.Context, record saga.Record, event *saga.Event) error {
	payment, found, err := l.store.Get(ctx, record.OrderID, record.TransactionID)
	if err != nil {
		return core.Wrap(err, core.ErrPersistence, "failed to read payment")
	}
	if !found {
		return core.NewError(core.ErrNotFound, "Payment not found")
	}
	if err := l.store.SetStatus(ctx, record.OrderID, record.TransactionID, StatusRefund, l.now()); err != nil {
		return core.Wrap(err, core.ErrPersistence, "failed to refund payment")
	}

	event.Payload.TotalAmount = payment.TotalAmount
	event.Payload.TotalItems = payment.TotalItems
	return nil
}
