// Package transport предоставляет абстракции для работы с message bus.
package transport

import (
	"context"
)

// HeaderMessageKey заголовок с ключом партиционирования сообщения.
// Адаптеры с поддержкой ключей (Kafka) используют его для порядка в пределах ключа.
const HeaderMessageKey = "message-key"

// Message представляет сообщение в очереди
type Message struct {
	Subject string
	Data    []byte
	Headers map[string]string
}

// MessageHandler обработчик сообщений. Ошибка означает, что сообщение
// не подтверждено и может быть доставлено повторно.
type MessageHandler func(ctx context.Context, msg *Message) error

// Subscriber подписчик на сообщения
type Subscriber interface {
	// Subscribe подписывается на subject и вызывает handler при получении сообщения
	Subscribe(ctx context.Context, subject string, handler MessageHandler) error
	// Unsubscribe отписывается от subject
	Unsubscribe(subject string) error
}

// Publisher публикатор сообщений
type Publisher interface {
	// Publish публикует сообщение в subject
	Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error
}

// MessageBus объединяет возможности публикации и подписки
type MessageBus interface {
	Publisher
	Subscriber
}

// Delivery гарантии доставки сообщений
type Delivery int

const (
	// AtMostOnce доставка максимум один раз (может потеряться)
	AtMostOnce Delivery = iota
	// AtLeastOnce доставка минимум один раз (может дублироваться)
	AtLeastOnce
)

// String возвращает имя гарантии доставки
func (d Delivery) String() string {
	switch d {
	case AtMostOnce:
		return "at-most-once"
	case AtLeastOnce:
		return "at-least-once"
	default:
		return "unknown"
	}
}

// DeliveryOf сообщает гарантию доставки адаптера, если он ее объявляет
func DeliveryOf(bus MessageBus) Delivery {
	if d, ok := bus.(interface{ Delivery() Delivery }); ok {
		return d.Delivery()
	}
	return AtMostOnce
}
