package saga

import (
	"context"
	"time"

	"github.com/akriventsev/orchestrated-saga/framework/core"
)

// RecordStatus состояние записи участника по ключу (orderId, transactionId)
type RecordStatus string

const (
	// RecordClaimed ключ занят, прямой шаг выполняется
	RecordClaimed RecordStatus = "CLAIMED"
	// RecordExecuted прямой шаг применен, есть что компенсировать
	RecordExecuted RecordStatus = "EXECUTED"
	// RecordFailed прямой шаг отклонен, мутации не было
	RecordFailed RecordStatus = "FAILED"
	// RecordReverting компенсация занята одним обработчиком
	RecordReverting RecordStatus = "REVERTING"
	// RecordReverted компенсация применена
	RecordReverted RecordStatus = "REVERTED"
)

// Change пара старое/новое значение ресурса, нужная для компенсации
type Change struct {
	Resource string  `json:"resource"`
	OldValue float64 `json:"oldValue"`
	NewValue float64 `json:"newValue"`
}

// Key ключ записи участника
type Key struct {
	Participant   string
	OrderID       string
	TransactionID string
}

// Record запись участника. Никогда не удаляется.
type Record struct {
	Participant   string       `json:"participant"`
	OrderID       string       `json:"orderId"`
	TransactionID string       `json:"transactionId"`
	Status        RecordStatus `json:"status"`
	Changes       []Change     `json:"changes"`
	Message       string       `json:"message,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// Key возвращает ключ записи
func (r Record) Key() Key {
	return Key{Participant: r.Participant, OrderID: r.OrderID, TransactionID: r.TransactionID}
}

// RecordStore хранилище записей одного или нескольких участников
type RecordStore interface {
	// Insert атомарно вставляет запись; false если запись с таким ключом уже есть
	Insert(ctx context.Context, record Record) (bool, error)
	// Get возвращает запись по ключу
	Get(ctx context.Context, key Key) (Record, bool, error)
	// Update обновляет статус и изменения записи, только если ее текущий статус равен from.
	// false если записи нет или статус уже другой.
	Update(ctx context.Context, record Record, from RecordStatus) (bool, error)
}

// Guard проверка идемпотентности участника
type Guard struct {
	participant string
	store       RecordStore
	now         func() time.Time
}

// NewGuard создает Guard для участника
func NewGuard(participant string, store RecordStore) *Guard {
	return &Guard{
		participant: participant,
		store:       store,
		now:         time.Now,
	}
}

func (g *Guard) key(orderID, transactionID string) Key {
	return Key{Participant: g.participant, OrderID: orderID, TransactionID: transactionID}
}

// HasProcessed проверяет, видел ли участник эту попытку
func (g *Guard) HasProcessed(ctx context.Context, orderID, transactionID string) (bool, error) {
	_, found, err := g.Lookup(ctx, orderID, transactionID)
	return found, err
}

// Claim атомарно занимает ключ. Второй вызов для того же ключа возвращает false.
func (g *Guard) Claim(ctx context.Context, orderID, transactionID string) (Record, bool, error) {
	now := g.now()
	record := Record{
		Participant:   g.participant,
		OrderID:       orderID,
		TransactionID: transactionID,
		Status:        RecordClaimed,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	inserted, err := g.store.Insert(ctx, record)
	if err != nil {
		return Record{}, false, core.Wrap(err, core.ErrPersistence, "failed to claim participant record")
	}
	return record, inserted, nil
}

// Lookup возвращает запись участника по ключу
func (g *Guard) Lookup(ctx context.Context, orderID, transactionID string) (Record, bool, error) {
	record, found, err := g.store.Get(ctx, g.key(orderID, transactionID))
	if err != nil {
		return Record{}, false, core.Wrap(err, core.ErrPersistence, "failed to read participant record")
	}
	return record, found, nil
}

// Transition переводит запись из ее текущего статуса в status.
// false если статус записи в хранилище уже изменил другой обработчик.
func (g *Guard) Transition(ctx context.Context, record Record, status RecordStatus, changes []Change, message string) (Record, bool, error) {
	from := record.Status
	record.Status = status
	if changes != nil {
		record.Changes = changes
	}
	record.Message = message
	record.UpdatedAt = g.now()

	swapped, err := g.store.Update(ctx, record, from)
	if err != nil {
		return record, false, core.Wrap(err, core.ErrPersistence, "failed to update participant record")
	}
	return record, swapped, nil
}
