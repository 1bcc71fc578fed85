// Package transport предоставляет HTTP транспорт узла саги на gin.
package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akriventsev/orchestrated-saga/framework/core"
	"github.com/akriventsev/orchestrated-saga/framework/observability"
)

// RESTConfig конфигурация для REST адаптера
type RESTConfig struct {
	Addr            string
	ServiceName     string
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
	EnableTracing   bool
}

// DefaultRESTConfig возвращает конфигурацию REST по умолчанию
func DefaultRESTConfig() RESTConfig {
	return RESTConfig{
		Addr:            ":3000",
		ServiceName:     "orchestrated-saga",
		ReadTimeout:     10 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// RESTAdapter HTTP сервер узла: API заказов, health и метрики
type RESTAdapter struct {
	config   RESTConfig
	router   *gin.Engine
	server   *http.Server
	listener net.Listener
	logger   *zap.Logger
	running  bool
	mu       sync.Mutex
	done     chan struct{}
}

// NewRESTAdapter создает новый REST адаптер
func NewRESTAdapter(config RESTConfig, logger *zap.Logger) *RESTAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), observability.CorrelationIDMiddleware(), observability.RequestLogMiddleware(logger))
	if config.EnableTracing {
		router.Use(observability.HTTPTracingMiddleware(config.ServiceName))
	}

	return &RESTAdapter{
		config: config,
		router: router,
		logger: logger.With(zap.String("transport", "http")),
	}
}

// Router возвращает gin.Engine для регистрации маршрутов
func (r *RESTAdapter) Router() *gin.Engine {
	return r.router
}

// Addr возвращает фактический адрес после Start
func (r *RESTAdapter) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener != nil {
		return r.listener.Addr().String()
	}
	return r.config.Addr
}

// Start запускает адаптер (реализация core.Lifecycle)
func (r *RESTAdapter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}

	listener, err := net.Listen("tcp", r.config.Addr)
	if err != nil {
		return core.Wrap(err, core.ErrTransport, "failed to listen on "+r.config.Addr)
	}

	r.listener = listener
	r.server = &http.Server{
		Handler:           r.router,
		ReadHeaderTimeout: r.config.ReadTimeout,
	}
	r.done = make(chan struct{})

	go func(server *http.Server, done chan struct{}) {
		defer close(done)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server stopped", zap.Error(err))
		}
	}(r.server, r.done)

	r.running = true
	r.logger.Info("http server started", zap.String("addr", listener.Addr().String()))
	return nil
}

// Stop останавливает адаптер (реализация core.Lifecycle)
func (r *RESTAdapter) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return nil
	}
	r.running = false

	if r.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.ShutdownTimeout)
		defer cancel()
	}
	err := r.server.Shutdown(ctx)
	<-r.done
	return err
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (r *RESTAdapter) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Name возвращает имя компонента (реализация core.Component)
func (r *RESTAdapter) Name() string {
	return "rest-adapter"
}

// Type возвращает тип компонента (реализация core.Component)
func (r *RESTAdapter) Type() core.ComponentType {
	return core.ComponentTypeTransport
}
