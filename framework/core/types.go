// Package core предоставляет базовые типы для всех компонентов фреймворка.
package core

// Option[T] generic тип для опциональных значений
type Option[T any] struct {
	value T
	some  bool
}

// Some создает Option с значением
func Some[T any](value T) Option[T] {
	return Option[T]{value: value, some: true}
}

// None создает пустой Option
func None[T any]() Option[T] {
	return Option[T]{some: false}
}

// IsSome проверяет, есть ли значение
func (o Option[T]) IsSome() bool {
	return o.some
}

// IsNone проверяет, пуст ли Option
func (o Option[T]) IsNone() bool {
	return !o.some
}

// Value возвращает значение (panic если None)
func (o Option[T]) Value() T {
	if !o.some {
		panic("option is none")
	}
	return o.value
}

// ValueOr возвращает значение или значение по умолчанию
func (o Option[T]) ValueOr(defaultValue T) T {
	if o.some {
		return o.value
	}
	return defaultValue
}

// ComponentType enum для типов компонентов
type ComponentType string

const (
	ComponentTypeModule      ComponentType = "module"
	ComponentTypeAdapter     ComponentType = "adapter"
	ComponentTypeTransport   ComponentType = "transport"
	ComponentTypeHandler     ComponentType = "handler"
	ComponentTypeParticipant ComponentType = "participant"
)
