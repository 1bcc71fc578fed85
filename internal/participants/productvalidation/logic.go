// Package productvalidation первый шаг саги: проверка товаров заказа по каталогу.
package productvalidation

import (
	"context"

	"github.com/akriventsev/orchestrated-saga/framework/core"
	"github.com/akriventsev/orchestrated-saga/framework/saga"
)

// Name имя участника в записях идемпотентности
const Name = "product-validation"

// Config описание участника
func Config() saga.ParticipantConfig {
	return saga.ParticipantConfig{
		Name:                Name,
		Source:              saga.SourceProductValidation,
		SuccessMessage:      "Products are validated successfully!",
		CompensationMessage: "Rollback executed on product validation!",
	}
}

// Logic проверяет, что заказ непустой и каждый товар есть в каталоге.
// Ресурсов не меняет, компенсация только переводит запись в REVERTED.
type Logic struct {
	catalog Catalog
}

// NewLogic создает логику шага
func NewLogic(catalog Catalog) *Logic {
	return &Logic{catalog: catalog}
}

// Validate реализация saga.ParticipantLogic
func (l *Logic) Validate(ctx context.Context, event saga.Event) error {
	if len(event.Payload.Products) == 0 {
		return core.NewError(core.ErrValidation, "Product list is empty!")
	}
	for _, item := range event.Payload.Products {
		if item.Product.Code == "" {
			return core.NewError(core.ErrValidation, "Product must be informed!")
		}
		exists, err := l.catalog.Exists(ctx, item.Product.Code)
		if err != nil {
			return core.Wrap(err, core.ErrPersistence, "failed to read catalog")
		}
		if !exists {
			return core.NewError(core.ErrValidation, "Product does not exists in database!")
		}
	}
	return nil
}

// Apply реализация saga.ParticipantLogic
func (l *Logic) Apply(ctx context.Context, event *saga.Event) ([]saga.Change, error) {
	return []saga.Change{}, nil
}

// Revert реализация saga.ParticipantLogic
func (l *Logic) Revert(ctx context.Context, record saga.Record, event *saga.Event) error {
	return nil
}
