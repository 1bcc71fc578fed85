// Package order сервис заказов: создает попытку заказа, запускает сагу
// и хранит итоговые события для запросов.
package order

import (
	"context"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akriventsev/orchestrated-saga/framework/core"
	"github.com/akriventsev/orchestrated-saga/framework/saga"
)

// CreateOrderRequest запрос на создание заказа
type CreateOrderRequest struct {
	Products []saga.OrderProduct `json:"products"`
}

// Validate проверяет состав заказа
func (r CreateOrderRequest) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Products, validation.Required, validation.Each(validation.By(validateItem))),
	)
	if err != nil {
		return core.Wrap(err, core.ErrValidation, "invalid order request")
	}
	return nil
}

func validateItem(value interface{}) error {
	item, ok := value.(saga.OrderProduct)
	if !ok {
		return fmt.Errorf("unexpected product type %T", value)
	}
	return validation.Errors{
		"code":      validation.Validate(item.Product.Code, validation.Required),
		"unitValue": validation.Validate(item.Product.UnitValue, validation.Min(0.0)),
		"quantity":  validation.Validate(item.Quantity, validation.Required, validation.Min(1)),
	}.Filter()
}

// Service создает заказы и принимает уведомления о завершении саги
type Service struct {
	publisher saga.Publisher
	store     saga.EventStore
	channels  saga.Channels
	logger    *zap.Logger
	newID     func() string
	now       func() time.Time
}

// NewService создает сервис заказов
func NewService(publisher saga.Publisher, store saga.EventStore, channels saga.Channels) *Service {
	return &Service{
		publisher: publisher,
		store:     store,
		channels:  channels,
		logger:    zap.NewNop(),
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// WithLogger устанавливает logger
func (s *Service) WithLogger(logger *zap.Logger) *Service {
	s.logger = logger.With(zap.String("component", "order-service"))
	return s
}

// Name возвращает имя компонента (реализация core.Component)
func (s *Service) Name() string {
	return "order-service"
}

// Type возвращает тип компонента (реализация core.Component)
func (s *Service) Type() core.ComponentType {
	return core.ComponentTypeModule
}

// TransactionID идентификатор попытки: миллисекунды unix и uuid
func (s *Service) TransactionID(at time.Time) string {
	return fmt.Sprintf("%d_%s", at.UnixMilli(), s.newID())
}

// CreateOrder создает заказ с новой транзакцией, пишет начальное событие
// в журнал и публикует его в канал старта саги
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (saga.Order, error) {
	if err := req.Validate(); err != nil {
		return saga.Order{}, err
	}

	now := s.now()
	order := saga.Order{
		ID:            s.newID(),
		Products:      append([]saga.OrderProduct(nil), req.Products...),
		CreatedAt:     now,
		TransactionID: s.TransactionID(now),
	}
	event := saga.Event{
		ID:            s.newID(),
		TransactionID: order.TransactionID,
		OrderID:       order.ID,
		Payload:       order,
		CreatedAt:     now,
	}

	if err := s.store.Append(ctx, event); err != nil {
		return saga.Order{}, core.Wrap(err, core.ErrPersistence, "failed to save start event")
	}
	if err := s.publisher.Publish(ctx, s.channels.StartSaga, event); err != nil {
		return saga.Order{}, err
	}

	s.logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("transaction_id", order.TransactionID),
		zap.Int("products", len(order.Products)),
	)
	return order, nil
}

// NotifyEnding сохраняет итоговое событие саги
func (s *Service) NotifyEnding(ctx context.Context, event saga.Event) error {
	event.CreatedAt = s.now()
	if err := s.store.Append(ctx, event); err != nil {
		return core.Wrap(err, core.ErrPersistence, "failed to save ending event")
	}
	s.logger.Info("order saga notified",
		zap.String("order_id", event.OrderID),
		zap.String("transaction_id", event.TransactionID),
		zap.String("status", string(event.Status)),
	)
	return nil
}

// FindByFilter возвращает самое свежее событие по orderId, иначе по transactionId
func (s *Service) FindByFilter(ctx context.Context, filter saga.EventFilter) (saga.Event, error) {
	if err := filter.Validate(); err != nil {
		return saga.Event{}, err
	}
	return s.store.FindLatest(ctx, filter)
}

// FindAll возвращает все события, самые свежие первыми
func (s *Service) FindAll(ctx context.Context) ([]saga.Event, error) {
	return s.store.FindAll(ctx)
}

// Route подписывает сервис на канал уведомления о завершении
func Route(d *saga.Dispatcher, s *Service) error {
	return d.Route(s.channels.NotifyEnding, s.NotifyEnding)
}
