// Package messagebus предоставляет адаптеры для различных message brokers.
package messagebus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/akriventsev/orchestrated-saga/framework/core"
	"github.com/akriventsev/orchestrated-saga/framework/transport"
)

// InMemoryConfig конфигурация для InMemory адаптера
type InMemoryConfig struct {
	BufferSize      int
	WorkerCount     int
	EnableOrdering  bool // FIFO: один worker обрабатывает очередь по порядку
	MaxRedeliveries int  // повторы при ошибке обработчика
}

// DefaultInMemoryConfig возвращает конфигурацию InMemory по умолчанию
func DefaultInMemoryConfig() InMemoryConfig {
	return InMemoryConfig{
		BufferSize:      1000,
		WorkerCount:     10,
		EnableOrdering:  false,
		MaxRedeliveries: 3,
	}
}

type delivery struct {
	handler transport.MessageHandler
	msg     *transport.Message
	attempt int
}

// InMemoryAdapter реализация MessageBus в памяти.
// Очередь не ограничена, поэтому обработчик может публиковать из worker без блокировки.
type InMemoryAdapter struct {
	config      InMemoryConfig
	subscribers map[string][]transport.MessageHandler
	mu          sync.RWMutex

	queue   []delivery
	pending int
	qmu     sync.Mutex
	signal  chan struct{}

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewInMemoryAdapter создает новый InMemory адаптер
func NewInMemoryAdapter(config InMemoryConfig) *InMemoryAdapter {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	return &InMemoryAdapter{
		config:      config,
		subscribers: make(map[string][]transport.MessageHandler),
		queue:       make([]delivery, 0, config.BufferSize),
		signal:      make(chan struct{}, 1),
	}
}

// Start запускает workers (реализация core.Lifecycle)
func (i *InMemoryAdapter) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.running {
		return nil
	}

	workers := i.config.WorkerCount
	if i.config.EnableOrdering {
		workers = 1
	}

	runCtx, cancel := context.WithCancel(context.Background())
	i.cancel = cancel
	for w := 0; w < workers; w++ {
		i.wg.Add(1)
		go i.work(runCtx)
	}

	i.running = true
	return nil
}

// Stop останавливает workers (реализация core.Lifecycle)
func (i *InMemoryAdapter) Stop(ctx context.Context) error {
	i.mu.Lock()
	if !i.running {
		i.mu.Unlock()
		return nil
	}
	i.running = false
	i.cancel()
	i.mu.Unlock()

	done := make(chan struct{})
	go func() {
		i.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (i *InMemoryAdapter) IsRunning() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.running
}

// Name возвращает имя компонента (реализация core.Component)
func (i *InMemoryAdapter) Name() string {
	return "inmemory-adapter"
}

// Type возвращает тип компонента (реализация core.Component)
func (i *InMemoryAdapter) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// Delivery гарантия доставки адаптера
func (i *InMemoryAdapter) Delivery() transport.Delivery {
	if i.config.MaxRedeliveries > 0 {
		return transport.AtLeastOnce
	}
	return transport.AtMostOnce
}

// Publish ставит сообщение в очередь для всех подходящих подписчиков
func (i *InMemoryAdapter) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	i.mu.RLock()
	if !i.running {
		i.mu.RUnlock()
		return fmt.Errorf("inmemory adapter is not running")
	}
	var handlers []transport.MessageHandler
	for pattern, h := range i.subscribers {
		if pattern == subject || matchSubject(subject, pattern) {
			handlers = append(handlers, h...)
		}
	}
	i.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	msg := &transport.Message{
		Subject: subject,
		Data:    append([]byte(nil), data...),
		Headers: copyHeaders(headers),
	}

	for _, handler := range handlers {
		i.enqueue(delivery{handler: handler, msg: msg, attempt: 1})
	}
	return nil
}

// Subscribe подписывается на subject
func (i *InMemoryAdapter) Subscribe(ctx context.Context, subject string, handler transport.MessageHandler) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.subscribers[subject] = append(i.subscribers[subject], handler)
	return nil
}

// Unsubscribe отписывается от subject
func (i *InMemoryAdapter) Unsubscribe(subject string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	delete(i.subscribers, subject)
	return nil
}

// WaitIdle ждет, пока очередь опустеет и все обработчики завершатся
func (i *InMemoryAdapter) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		i.qmu.Lock()
		pending := i.pending
		i.qmu.Unlock()
		if pending == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// GetSubscriberCount возвращает количество подписчиков для subject (для тестирования)
func (i *InMemoryAdapter) GetSubscriberCount(subject string) int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.subscribers[subject])
}

func (i *InMemoryAdapter) enqueue(d delivery) {
	i.qmu.Lock()
	i.queue = append(i.queue, d)
	i.pending++
	i.qmu.Unlock()

	select {
	case i.signal <- struct{}{}:
	default:
	}
}

func (i *InMemoryAdapter) dequeue() (delivery, bool) {
	i.qmu.Lock()
	defer i.qmu.Unlock()

	if len(i.queue) == 0 {
		return delivery{}, false
	}
	d := i.queue[0]
	i.queue[0] = delivery{}
	i.queue = i.queue[1:]
	return d, true
}

func (i *InMemoryAdapter) work(ctx context.Context) {
	defer i.wg.Done()

	for {
		d, ok := i.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-i.signal:
				continue
			}
		}

		err := d.handler(ctx, d.msg)
		if err != nil && d.attempt <= i.config.MaxRedeliveries && ctx.Err() == nil {
			d.attempt++
			i.enqueue(d)
		}

		i.qmu.Lock()
		i.pending--
		more := len(i.queue) > 0
		i.qmu.Unlock()

		// будим соседний worker, если в очереди еще есть сообщения
		if more {
			select {
			case i.signal <- struct{}{}:
			default:
			}
		}
	}
}

// matchSubject проверяет соответствие subject с wildcard паттерном
// Поддерживает NATS-style wildcards: * (один токен) и > (все токены)
func matchSubject(subject, pattern string) bool {
	subjectParts := strings.Split(subject, ".")
	patternParts := strings.Split(pattern, ".")

	for idx, part := range patternParts {
		if part == ">" {
			return idx < len(subjectParts)
		}
		if idx >= len(subjectParts) {
			return false
		}
		if part != "*" && part != subjectParts[idx] {
			return false
		}
	}

	return len(patternParts) == len(subjectParts)
}

func copyHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = v
	}
	return out
}
