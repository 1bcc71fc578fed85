// Package app собирает узел саги из конфигурации: транспорт, хранилища,
// оркестратор, сервис заказов и участников выбранной роли.
package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/akriventsev/orchestrated-saga/framework/adapters/messagebus"
	"github.com/akriventsev/orchestrated-saga/framework/adapters/repository"
	resttransport "github.com/akriventsev/orchestrated-saga/framework/adapters/transport"
	"github.com/akriventsev/orchestrated-saga/framework/config"
	"github.com/akriventsev/orchestrated-saga/framework/container"
	"github.com/akriventsev/orchestrated-saga/internal/order"
)

// App узел саги
type App struct {
	config    *config.Config
	container *container.Container
	logger    *zap.Logger
}

// New собирает узел. Компоненты запускаются в Start.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	builder := container.NewContainerBuilder(&container.Config{ShutdownTimeout: cfg.ShutdownTimeout}).
		WithLogger(logger)
	for _, module := range modules(cfg) {
		builder.WithModule(module)
	}

	c, err := builder.Build(ctx)
	if err != nil {
		return nil, err
	}
	return &App{config: cfg, container: c, logger: logger}, nil
}

// Start запускает компоненты в порядке зависимостей
func (a *App) Start(ctx context.Context) error {
	a.logger.Info("starting saga node", zap.Stringer("node", a.config), zap.Strings("components", a.container.Components()))
	return a.container.Start(ctx)
}

// Stop останавливает компоненты в обратном порядке
func (a *App) Stop(ctx context.Context) error {
	return a.container.Shutdown(ctx)
}

// Run запускает узел и блокируется до отмены ctx
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	a.logger.Info("shutting down saga node")
	return a.Stop(context.Background())
}

// Bus возвращает message bus узла
func (a *App) Bus() messagebus.Bus {
	bus, _ := container.Get[messagebus.Bus](a.container, keyBus)
	return bus
}

// OrderService возвращает сервис заказов, если узел обслуживает роль order
func (a *App) OrderService() (*order.Service, bool) {
	service, err := container.Get[*order.Service](a.container, keyOrderService)
	return service, err == nil
}

// EventStore возвращает журнал событий, если он нужен роли узла
func (a *App) EventStore() (repository.EventStore, bool) {
	store, err := container.Get[repository.EventStore](a.container, keyEventStore)
	return store, err == nil
}

// HTTPAddr возвращает адрес HTTP сервера после запуска
func (a *App) HTTPAddr() string {
	server, err := container.Get[*resttransport.RESTAdapter](a.container, keyHTTP)
	if err != nil {
		return ""
	}
	return server.Addr()
}

// Components возвращает имена управляемых компонентов в порядке запуска
func (a *App) Components() []string {
	return a.container.Components()
}
