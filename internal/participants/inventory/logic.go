// Package inventory третий шаг саги: списание остатков по заказу.
package inventory

import (
	"context"
	"fmt"

	"github.com/akriventsev/orchestrated-saga/framework/core"
	"github.com/akriventsev/orchestrated-saga/framework/saga"
)

// Name имя участника в записях идемпотентности
const Name = "inventory"

// Config описание участника
func Config() saga.ParticipantConfig {
	return saga.ParticipantConfig{
		Name:                Name,
		Source:              saga.SourceInventory,
		SuccessMessage:      "Inventory updated successfully!",
		CompensationMessage: "Rollback executed for inventory!",
	}
}

// Logic списывает остатки. Каждое списание попадает в запись участника
// парой старое/новое значение, откат возвращает разницу.
type Logic struct {
	store Store
}

// NewLogic создает логику шага
func NewLogic(store Store) *Logic {
	return &Logic{store: store}
}

// demand суммарное количество по коду товара
func demand(order saga.Order) ([]string, map[string]int) {
	codes := make([]string, 0, len(order.Products))
	quantities := make(map[string]int, len(order.Products))
	for _, item := range order.Products {
		if _, seen := quantities[item.Product.Code]; !seen {
			codes = append(codes, item.Product.Code)
		}
		quantities[item.Product.Code] += item.Quantity
	}
	return codes, quantities
}

// Validate реализация saga.ParticipantLogic
func (l *Logic) Validate(ctx context.Context, event saga.Event) error {
	codes, quantities := demand(event.Payload)
	for _, code := range codes {
		available, found, err := l.store.Available(ctx, code)
		if err != nil {
			return core.Wrap(err, core.ErrPersistence, "failed to read inventory")
		}
		if !found {
			return notFound(code)
		}
		if quantities[code] > available {
			return errOutOfStock
		}
	}
	return nil
}

// Apply реализация saga.ParticipantLogic. Если списание одного товара
// не прошло или хранилище запаниковало, уже списанные возвращаются до выхода.
func (l *Logic) Apply(ctx context.Context, event *saga.Event) ([]saga.Change, error) {
	codes, quantities := demand(event.Payload)
	changes := make([]saga.Change, 0, len(codes))
	defer func() {
		if r := recover(); r != nil {
			if undoErr := l.restore(ctx, changes); undoErr != nil {
				panic(fmt.Sprintf("%v (restore failed: %v)", r, undoErr))
			}
			panic(r)
		}
	}()

	for _, code := range codes {
		oldValue, newValue, err := l.store.Adjust(ctx, code, -quantities[code])
		if err != nil {
			if undoErr := l.restore(ctx, changes); undoErr != nil {
				return nil, core.Wrap(undoErr, core.ErrPersistence, "failed to restore inventory after partial update")
			}
			if core.HasCode(err, core.ErrValidation) {
				return nil, err
			}
			return nil, core.Wrap(err, core.ErrPersistence, "failed to update inventory")
		}
		changes = append(changes, saga.Change{
			Resource: code,
			OldValue: float64(oldValue),
			NewValue: float64(newValue),
		})
	}
	return changes, nil
}

// Revert реализация saga.ParticipantLogic
func (l *Logic) Revert(ctx context.Context, record saga.Record, event *saga.Event) error {
	if err := l.restore(ctx, record.Changes); err != nil {
		return core.Wrap(err, core.ErrPersistence, "failed to restore inventory")
	}
	return nil
}

// restore возвращает списанное на разницу старое минус новое в обратном порядке
func (l *Logic) restore(ctx context.Context, changes []saga.Change) error {
	for i := len(changes) - 1; i >= 0; i-- {
		change := changes[i]
		delta := int(change.OldValue - change.NewValue)
		if delta == 0 {
			continue
		}
		if _, _, err := l.store.Adjust(ctx, change.Resource, delta); err != nil {
			return err
		}
	}
	return nil
}
