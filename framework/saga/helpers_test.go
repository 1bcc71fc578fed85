package saga

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/akriventsev/orchestrated-saga/framework/core"
	"github.com/akriventsev/orchestrated-saga/framework/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type published struct {
	channel string
	event   Event
}

// recordingPublisher запоминает опубликованные события
type recordingPublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (p *recordingPublisher) Publish(ctx context.Context, channel string, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{channel: channel, event: event.Clone()})
	return nil
}

func (p *recordingPublisher) last() published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent[len(p.sent)-1]
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

// memoryRecords простое хранилище записей для тестов
type memoryRecords struct {
	mu        sync.Mutex
	records   map[Key]Record
	insertErr error
	updateErr error
	// failOnce ошибка для первого обновления в указанный статус
	failOnce map[RecordStatus]error
}

func newMemoryRecords() *memoryRecords {
	return &memoryRecords{records: make(map[Key]Record)}
}

func (s *memoryRecords) Insert(ctx context.Context, record Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return false, s.insertErr
	}
	if _, ok := s.records[record.Key()]; ok {
		return false, nil
	}
	s.records[record.Key()] = record
	return true, nil
}

func (s *memoryRecords) Get(ctx context.Context, key Key) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key]
	return r, ok, nil
}

func (s *memoryRecords) Update(ctx context.Context, record Record, from RecordStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return false, s.updateErr
	}
	if err, ok := s.failOnce[record.Status]; ok {
		delete(s.failOnce, record.Status)
		return false, err
	}
	current, ok := s.records[record.Key()]
	if !ok || current.Status != from {
		return false, nil
	}
	s.records[record.Key()] = record
	return true, nil
}

func (s *memoryRecords) status(key Key) RecordStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[key].Status
}

// memoryEvents журнал событий для тестов оркестратора
type memoryEvents struct {
	mu     sync.Mutex
	events []Event
}

func (s *memoryEvents) Append(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event.Clone())
	return nil
}

func (s *memoryEvents) FindLatest(ctx context.Context, filter EventFilter) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].OrderID == filter.OrderID || s.events[i].TransactionID == filter.TransactionID {
			return s.events[i], nil
		}
	}
	return Event{}, core.NewError(core.ErrNotFound, "not found")
}

func (s *memoryEvents) FindAll(ctx context.Context) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...), nil
}

func (s *memoryEvents) RollbackIssued(ctx context.Context, transactionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.TransactionID == transactionID && IsRollbackEvent(e) {
			return true, nil
		}
	}
	return false, nil
}

// flakyBus транспорт, который падает заданное число раз
type flakyBus struct {
	mu       sync.Mutex
	failures int
	calls    int
	headers  map[string]string
	handlers map[string]transport.MessageHandler
}

func newFlakyBus(failures int) *flakyBus {
	return &flakyBus{failures: failures, handlers: make(map[string]transport.MessageHandler)}
}

func (b *flakyBus) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.calls <= b.failures {
		return errors.New("broker unavailable")
	}
	b.headers = headers
	return nil
}

func (b *flakyBus) Subscribe(ctx context.Context, subject string, handler transport.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[subject] = handler
	return nil
}

func (b *flakyBus) Unsubscribe(subject string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, subject)
	return nil
}

func (b *flakyBus) handler(subject string) transport.MessageHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handlers[subject]
}

func sampleEvent() Event {
	return Event{
		ID:            "evt-1",
		TransactionID: "1700000000000_tx",
		OrderID:       "order-1",
		Payload: Order{
			ID: "order-1",
			Products: []OrderProduct{
				{Product: Product{Code: "COMIC_BOOKS", UnitValue: 15.5}, Quantity: 2},
			},
			TransactionID: "1700000000000_tx",
		},
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func mustTopology(t *testing.T) *Topology {
	t.Helper()
	topology, err := DefaultTopology(DefaultChannels())
	if err != nil {
		t.Fatalf("default topology: %v", err)
	}
	return topology
}
