package container

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ContainerBuilder построитель контейнера
type ContainerBuilder struct {
	registry *ModuleRegistry
	config   *Config
	logger   *zap.Logger
	errs     []error
}

// NewContainerBuilder создает новый построитель контейнера
func NewContainerBuilder(cfg *Config) *ContainerBuilder {
	return &ContainerBuilder{
		registry: NewModuleRegistry(),
		config:   cfg,
		logger:   zap.NewNop(),
	}
}

// WithDefaults устанавливает значения по умолчанию
func (b *ContainerBuilder) WithDefaults() *ContainerBuilder {
	if b.config == nil {
		b.config = &Config{
			ShutdownTimeout: 30 * time.Second,
		}
	}
	return b
}

// WithLogger устанавливает logger контейнера
func (b *ContainerBuilder) WithLogger(logger *zap.Logger) *ContainerBuilder {
	b.logger = logger
	return b
}

// WithModule добавляет модуль в реестр. Ошибка регистрации вернется из Build.
func (b *ContainerBuilder) WithModule(module Module) *ContainerBuilder {
	if err := b.registry.RegisterModule(module); err != nil {
		b.errs = append(b.errs, err)
	}
	return b
}

// Build создает контейнер и инициализирует модули в порядке зависимостей.
// Компоненты не запускаются: для этого вызывается Container.Start.
func (b *ContainerBuilder) Build(ctx context.Context) (*Container, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}

	order, err := b.registry.InitOrder()
	if err != nil {
		return nil, err
	}

	c := NewContainer(b.config)
	c.logger = b.logger

	for _, module := range order {
		if err := module.Initialize(ctx, c); err != nil {
			return nil, fmt.Errorf("failed to initialize module %s: %w", module.Name(), err)
		}
		b.logger.Debug("module initialized", zap.String("module", module.Name()))
	}
	return c, nil
}

// GetRegistry возвращает реестр модулей
func (b *ContainerBuilder) GetRegistry() *ModuleRegistry {
	return b.registry
}
