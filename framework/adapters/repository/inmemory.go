package repository

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/akriventsev/orchestrated-saga/framework/core"
	"github.com/akriventsev/orchestrated-saga/framework/saga"
)

// InMemoryRecordStore хранилище записей участников в памяти.
// Вставка атомарна за счет LoadOrStore.
type InMemoryRecordStore struct {
	records *xsync.MapOf[saga.Key, saga.Record]
}

// NewInMemoryRecordStore создает хранилище записей в памяти
func NewInMemoryRecordStore() *InMemoryRecordStore {
	return &InMemoryRecordStore{
		records: xsync.NewMapOf[saga.Key, saga.Record](),
	}
}

// Insert вставляет запись, если ключ свободен
func (s *InMemoryRecordStore) Insert(ctx context.Context, record saga.Record) (bool, error) {
	_, loaded := s.records.LoadOrStore(record.Key(), cloneRecord(record))
	return !loaded, nil
}

// Get возвращает запись по ключу
func (s *InMemoryRecordStore) Get(ctx context.Context, key saga.Key) (saga.Record, bool, error) {
	record, ok := s.records.Load(key)
	if !ok {
		return saga.Record{}, false, nil
	}
	return cloneRecord(record), true, nil
}

// Update заменяет запись, если ее текущий статус равен from.
// Проверка и запись выполняются атомарно внутри Compute.
func (s *InMemoryRecordStore) Update(ctx context.Context, record saga.Record, from saga.RecordStatus) (bool, error) {
	var swapped bool
	s.records.Compute(record.Key(), func(old saga.Record, loaded bool) (saga.Record, bool) {
		if !loaded {
			// удаляем пустое значение, созданное Compute для отсутствующего ключа
			return old, true
		}
		if old.Status != from {
			return old, false
		}
		swapped = true
		return cloneRecord(record), false
	})
	return swapped, nil
}

// Len возвращает количество записей
func (s *InMemoryRecordStore) Len() int {
	return s.records.Size()
}

// Start запускает адаптер (реализация core.Lifecycle)
func (s *InMemoryRecordStore) Start(ctx context.Context) error { return nil }

// Stop останавливает адаптер (реализация core.Lifecycle)
func (s *InMemoryRecordStore) Stop(ctx context.Context) error { return nil }

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (s *InMemoryRecordStore) IsRunning() bool { return true }

// Name возвращает имя компонента (реализация core.Component)
func (s *InMemoryRecordStore) Name() string { return "inmemory-record-store" }

// Type возвращает тип компонента (реализация core.Component)
func (s *InMemoryRecordStore) Type() core.ComponentType { return core.ComponentTypeAdapter }

func cloneRecord(r saga.Record) saga.Record {
	if r.Changes != nil {
		r.Changes = append([]saga.Change(nil), r.Changes...)
	}
	return r
}

// InMemoryEventStore журнал событий в памяти, порядок определяется порядком добавления
type InMemoryEventStore struct {
	mu        sync.RWMutex
	events    []saga.Event
	rollbacks *xsync.MapOf[string, struct{}]
}

// NewInMemoryEventStore создает журнал событий в памяти
func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		rollbacks: xsync.NewMapOf[string, struct{}](),
	}
}

// Append добавляет событие
func (s *InMemoryEventStore) Append(ctx context.Context, event saga.Event) error {
	s.mu.Lock()
	s.events = append(s.events, event.Clone())
	s.mu.Unlock()

	if saga.IsRollbackEvent(event) {
		s.rollbacks.Store(event.TransactionID, struct{}{})
	}
	return nil
}

// FindLatest возвращает самое свежее событие по фильтру
func (s *InMemoryEventStore) FindLatest(ctx context.Context, filter saga.EventFilter) (saga.Event, error) {
	if err := filter.Validate(); err != nil {
		return saga.Event{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if filter.OrderID != "" {
			if e.OrderID == filter.OrderID {
				return e.Clone(), nil
			}
			continue
		}
		if e.TransactionID == filter.TransactionID {
			return e.Clone(), nil
		}
	}
	return saga.Event{}, core.NewError(core.ErrNotFound, "Event not found by filter")
}

// FindAll возвращает все события, самые свежие первыми
func (s *InMemoryEventStore) FindAll(ctx context.Context) ([]saga.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]saga.Event, 0, len(s.events))
	for i := len(s.events) - 1; i >= 0; i-- {
		out = append(out, s.events[i].Clone())
	}
	return out, nil
}

// RollbackIssued проверяет, выпускался ли откат по транзакции
func (s *InMemoryEventStore) RollbackIssued(ctx context.Context, transactionID string) (bool, error) {
	_, ok := s.rollbacks.Load(transactionID)
	return ok, nil
}

// Start запускает адаптер (реализация core.Lifecycle)
func (s *InMemoryEventStore) Start(ctx context.Context) error { return nil }

// Stop останавливает адаптер (реализация core.Lifecycle)
func (s *InMemoryEventStore) Stop(ctx context.Context) error { return nil }

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (s *InMemoryEventStore) IsRunning() bool { return true }

// Name возвращает имя компонента (реализация core.Component)
func (s *InMemoryEventStore) Name() string { return "inmemory-event-store" }

// Type возвращает тип компонента (реализация core.Component)
func (s *InMemoryEventStore) Type() core.ComponentType { return core.ComponentTypeAdapter }
