// Package messagebus предоставляет адаптеры для различных message brokers.
package messagebus

import (
	"fmt"
	"sort"
	"sync"

	"github.com/akriventsev/orchestrated-saga/framework/core"
	"github.com/akriventsev/orchestrated-saga/framework/transport"
)

// Bus адаптер message bus с управлением жизненным циклом
type Bus interface {
	transport.MessageBus
	core.Lifecycle
	core.Component
}

// Creator создает адаптер из конфигурации
type Creator func(config interface{}) (Bus, error)

// MessageBusFactory фабрика адаптеров по типу
type MessageBusFactory struct {
	creators map[string]Creator
	mu       sync.RWMutex
}

// NewMessageBusFactory создает фабрику со встроенными адаптерами
func NewMessageBusFactory() *MessageBusFactory {
	factory := &MessageBusFactory{
		creators: make(map[string]Creator),
	}

	_ = factory.Register("nats", func(config interface{}) (Bus, error) {
		switch cfg := config.(type) {
		case NATSConfig:
			return NewNATSAdapterBuilder().WithConfig(cfg).Build()
		case *NATSAdapterBuilder:
			return cfg.Build()
		default:
			return nil, fmt.Errorf("invalid NATS config type: %T", config)
		}
	})

	_ = factory.Register("kafka", func(config interface{}) (Bus, error) {
		cfg, ok := config.(KafkaConfig)
		if !ok {
			return nil, fmt.Errorf("invalid Kafka config type: %T", config)
		}
		return NewKafkaAdapter(cfg)
	})

	_ = factory.Register("redis", func(config interface{}) (Bus, error) {
		cfg, ok := config.(RedisConfig)
		if !ok {
			return nil, fmt.Errorf("invalid Redis config type: %T", config)
		}
		return NewRedisAdapter(cfg)
	})

	_ = factory.Register("inmemory", func(config interface{}) (Bus, error) {
		cfg, ok := config.(InMemoryConfig)
		if !ok {
			cfg = DefaultInMemoryConfig()
		}
		return NewInMemoryAdapter(cfg), nil
	})

	return factory
}

// Create создает адаптер указанного типа
func (f *MessageBusFactory) Create(busType string, config interface{}) (Bus, error) {
	f.mu.RLock()
	creator, exists := f.creators[busType]
	f.mu.RUnlock()

	if !exists {
		return nil, core.NewError(core.ErrInvalidConfig, fmt.Sprintf("unknown message bus type: %s", busType))
	}

	adapter, err := creator(config)
	if err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, fmt.Sprintf("failed to create %s adapter", busType))
	}
	return adapter, nil
}

// Register регистрирует адаптер
func (f *MessageBusFactory) Register(name string, creator Creator) error {
	if name == "" {
		return fmt.Errorf("adapter name cannot be empty")
	}
	if creator == nil {
		return fmt.Errorf("creator function cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.creators[name]; exists {
		return fmt.Errorf("adapter %s already registered", name)
	}
	f.creators[name] = creator
	return nil
}

// ListRegistered возвращает отсортированный список адаптеров
func (f *MessageBusFactory) ListRegistered() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.creators))
	for name := range f.creators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
