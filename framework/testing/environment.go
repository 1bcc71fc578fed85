// Package testing предоставляет тестовую среду саги поверх in-memory адаптеров.
package testing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/akriventsev/orchestrated-saga/framework/adapters/messagebus"
	"github.com/akriventsev/orchestrated-saga/framework/adapters/repository"
	"github.com/akriventsev/orchestrated-saga/framework/container"
	"github.com/akriventsev/orchestrated-saga/framework/saga"
)

// InMemoryTestEnvironment тестовая среда с готовыми in-memory компонентами:
// упорядоченная шина, хранилища, публикатор и диспетчер
type InMemoryTestEnvironment struct {
	Bus        *messagebus.InMemoryAdapter
	Records    *repository.InMemoryRecordStore
	Events     *repository.InMemoryEventStore
	Channels   saga.Channels
	Topology   *saga.Topology
	Publisher  *saga.EventPublisher
	Dispatcher *saga.Dispatcher
	Container  *container.Container

	t        *testing.T
	mu       sync.Mutex
	captured map[string][]saga.Event
}

// NewInMemoryTestEnvironment создает тестовую среду. Маршруты регистрируются
// до вызова Start, остановка выполняется в t.Cleanup.
func NewInMemoryTestEnvironment(t *testing.T) *InMemoryTestEnvironment {
	t.Helper()

	cfg := messagebus.DefaultInMemoryConfig()
	cfg.EnableOrdering = true
	bus := messagebus.NewInMemoryAdapter(cfg)

	channels := saga.DefaultChannels()
	topology, err := saga.DefaultTopology(channels)
	if err != nil {
		t.Fatalf("failed to build topology: %v", err)
	}

	cnt, err := container.NewContainerBuilder(&container.Config{ShutdownTimeout: 5 * time.Second}).
		WithDefaults().
		Build(context.Background())
	if err != nil {
		t.Fatalf("failed to build test container: %v", err)
	}

	retry := saga.DefaultRetryConfig()
	retry.Delay = time.Millisecond

	return &InMemoryTestEnvironment{
		Bus:        bus,
		Records:    repository.NewInMemoryRecordStore(),
		Events:     repository.NewInMemoryEventStore(),
		Channels:   channels,
		Topology:   topology,
		Publisher:  saga.NewEventPublisher(bus, retry),
		Dispatcher: saga.NewDispatcher(bus, 4),
		Container:  cnt,
		t:          t,
		captured:   make(map[string][]saga.Event),
	}
}

// Capture запоминает события, опубликованные в канал
func (e *InMemoryTestEnvironment) Capture(channel string) {
	e.t.Helper()
	err := e.Dispatcher.Route(channel, func(ctx context.Context, event saga.Event) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.captured[channel] = append(e.captured[channel], event)
		return nil
	})
	if err != nil {
		e.t.Fatalf("failed to capture %s: %v", channel, err)
	}
}

// Captured возвращает события, пойманные в канале
func (e *InMemoryTestEnvironment) Captured(channel string) []saga.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]saga.Event(nil), e.captured[channel]...)
}

// Start запускает шину и диспетчер
func (e *InMemoryTestEnvironment) Start() {
	e.t.Helper()
	e.Container.Manage(e.Bus)
	e.Container.Manage(e.Dispatcher)
	if err := e.Container.Start(context.Background()); err != nil {
		e.t.Fatalf("failed to start test environment: %v", err)
	}
	e.t.Cleanup(func() {
		if err := e.Shutdown(context.Background()); err != nil {
			e.t.Errorf("failed to stop test environment: %v", err)
		}
	})
}

// Publish публикует событие и ждет, пока шина обработает все сообщения
func (e *InMemoryTestEnvironment) Publish(channel string, event saga.Event) {
	e.t.Helper()
	if err := e.Publisher.Publish(context.Background(), channel, event); err != nil {
		e.t.Fatalf("failed to publish to %s: %v", channel, err)
	}
	e.WaitIdle()
}

// WaitIdle ждет опустошения очереди шины
func (e *InMemoryTestEnvironment) WaitIdle() {
	e.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Bus.WaitIdle(ctx); err != nil {
		e.t.Fatalf("bus did not drain: %v", err)
	}
}

// Shutdown корректно завершает работу тестовой среды
func (e *InMemoryTestEnvironment) Shutdown(ctx context.Context) error {
	if e.Container != nil {
		return e.Container.Shutdown(ctx)
	}
	return nil
}
