// Package repository предоставляет хранилища записей участников и журнала событий саги
// для различных storage backends.
package repository

import (
	"github.com/akriventsev/orchestrated-saga/framework/core"
	"github.com/akriventsev/orchestrated-saga/framework/saga"
)

// RecordStore хранилище записей участников с управлением жизненным циклом
type RecordStore interface {
	saga.RecordStore
	core.Lifecycle
	core.Component
}

// EventStore журнал событий саги с управлением жизненным циклом
type EventStore interface {
	saga.EventStore
	core.Lifecycle
	core.Component
}
