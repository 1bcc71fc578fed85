// Package container предоставляет DI контейнер для управления зависимостями
// и жизненным циклом компонентов узла.
package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akriventsev/orchestrated-saga/framework/core"
)

// Managed компонент с управляемым жизненным циклом
type Managed interface {
	core.Component
	core.Lifecycle
}

// Config конфигурация контейнера
type Config struct {
	ShutdownTimeout time.Duration
}

// Container контейнер зависимостей
type Container struct {
	Config *Config

	dependencies map[string]interface{}
	// компоненты в порядке запуска
	components []Managed
	started    int
	logger     *zap.Logger
	mu         sync.RWMutex
}

// NewContainer создает новый контейнер
func NewContainer(config *Config) *Container {
	if config == nil {
		config = &Config{
			ShutdownTimeout: 30 * time.Second,
		}
	}

	return &Container{
		Config:       config,
		dependencies: make(map[string]interface{}),
		logger:       zap.NewNop(),
	}
}

// Logger возвращает logger контейнера
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Get[T] получает зависимость по ключу
func Get[T any](c *Container, key string) (T, error) {
	var zero T
	c.mu.RLock()
	defer c.mu.RUnlock()

	dep, exists := c.dependencies[key]
	if !exists {
		return zero, fmt.Errorf("dependency %s not found", key)
	}

	typed, ok := dep.(T)
	if !ok {
		return zero, fmt.Errorf("dependency %s has wrong type", key)
	}

	return typed, nil
}

// Set[T] регистрирует зависимость
func Set[T any](c *Container, key string, value T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.dependencies[key]; exists {
		return fmt.Errorf("dependency %s already registered", key)
	}
	c.dependencies[key] = value
	return nil
}

// Has проверяет наличие зависимости
func (c *Container) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.dependencies[key]
	return ok
}

// Manage добавляет компонент в очередь запуска. Останавливаются компоненты в обратном порядке.
// Один и тот же экземпляр регистрируется только один раз.
func (c *Container) Manage(component Managed) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, existing := range c.components {
		if existing == component {
			return
		}
	}
	c.components = append(c.components, component)
}

// Components возвращает имена управляемых компонентов в порядке запуска
func (c *Container) Components() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.components))
	for _, component := range c.components {
		names = append(names, component.Name())
	}
	return names
}

// Start запускает компоненты по порядку. При ошибке уже запущенные останавливаются.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	components := append([]Managed(nil), c.components[c.started:]...)
	c.mu.Unlock()

	for _, component := range components {
		if err := component.Start(ctx); err != nil {
			c.logger.Error("component failed to start", zap.String("component", component.Name()), zap.Error(err))
			if stopErr := c.Shutdown(ctx); stopErr != nil {
				c.logger.Error("rollback completed with errors", zap.Error(stopErr))
			}
			return fmt.Errorf("failed to start %s: %w", component.Name(), err)
		}

		c.mu.Lock()
		c.started++
		c.mu.Unlock()
		c.logger.Info("component started", zap.String("component", component.Name()), zap.String("type", string(component.Type())))
	}
	return nil
}

// Shutdown останавливает запущенные компоненты в обратном порядке
func (c *Container) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.Config.ShutdownTimeout)
	defer cancel()

	c.mu.Lock()
	started := c.components[:c.started]
	c.started = 0
	c.mu.Unlock()

	var errs []error
	for i := len(started) - 1; i >= 0; i-- {
		component := started[i]
		if err := component.Stop(ctx); err != nil {
			// продолжаем остановку остальных
			c.logger.Warn("component failed to stop", zap.String("component", component.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("failed to stop %s: %w", component.Name(), err))
			continue
		}
		c.logger.Info("component stopped", zap.String("component", component.Name()))
	}
	return errors.Join(errs...)
}
