package saga

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/akriventsev/orchestrated-saga/framework/core"
)

// EventFilter фильтр поиска события саги
type EventFilter struct {
	OrderID       string `json:"orderId" form:"orderId"`
	TransactionID string `json:"transactionId" form:"transactionId"`
}

// Validate требует хотя бы один идентификатор
func (f EventFilter) Validate() error {
	err := validation.ValidateStruct(&f,
		validation.Field(&f.OrderID, validation.Required.When(f.TransactionID == "")),
		validation.Field(&f.TransactionID, validation.Required.When(f.OrderID == "")),
	)
	if err != nil {
		return core.Wrap(err, core.ErrValidation, "OrderId and transactionId must be informed.")
	}
	return nil
}

// EventStore журнал событий саги только на добавление.
// Выборки возвращают самые свежие события первыми.
type EventStore interface {
	// Append добавляет событие в журнал
	Append(ctx context.Context, event Event) error
	// FindLatest возвращает самое свежее событие по orderId, иначе по transactionId
	FindLatest(ctx context.Context, filter EventFilter) (Event, error)
	// FindAll возвращает все события журнала
	FindAll(ctx context.Context) ([]Event, error)
	// RollbackIssued проверяет, был ли по транзакции выпущен откат
	RollbackIssued(ctx context.Context, transactionID string) (bool, error)
}

// IsRollbackEvent признак события, означающего начатый откат
func IsRollbackEvent(event Event) bool {
	return event.Status == StatusFail || event.Status == StatusRollbackPending
}
