package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"

	orchestratedsaga "github.com/akriventsev/orchestrated-saga"
	"github.com/akriventsev/orchestrated-saga/framework/adapters/messagebus"
	"github.com/akriventsev/orchestrated-saga/framework/adapters/repository"
	resttransport "github.com/akriventsev/orchestrated-saga/framework/adapters/transport"
	"github.com/akriventsev/orchestrated-saga/framework/config"
	"github.com/akriventsev/orchestrated-saga/framework/container"
	"github.com/akriventsev/orchestrated-saga/framework/core"
	"github.com/akriventsev/orchestrated-saga/framework/metrics"
	"github.com/akriventsev/orchestrated-saga/framework/migrations"
	"github.com/akriventsev/orchestrated-saga/framework/observability"
	"github.com/akriventsev/orchestrated-saga/framework/saga"
	"github.com/akriventsev/orchestrated-saga/framework/transport"
	"github.com/akriventsev/orchestrated-saga/internal/order"
	"github.com/akriventsev/orchestrated-saga/internal/participants/inventory"
	"github.com/akriventsev/orchestrated-saga/internal/participants/payment"
	"github.com/akriventsev/orchestrated-saga/internal/participants/productvalidation"
)

// Ключи зависимостей контейнера
const (
	keyConfig       = "config"
	keyMetrics      = "metrics"
	keyHealth       = "health"
	keyBus          = "bus"
	keyStores       = "stores"
	keyRecordStore  = "record-store"
	keyEventStore   = "event-store"
	keyTopology     = "topology"
	keyPublisher    = "publisher"
	keyDispatcher   = "dispatcher"
	keyOrderService = "order-service"
	keyHTTP         = "http"
)

func modules(cfg *config.Config) []container.Module {
	list := []container.Module{
		container.NewModule("config", func(ctx context.Context, c *container.Container) error {
			return container.Set(c, keyConfig, cfg)
		}),
		container.NewModule("telemetry", initTelemetry, "config"),
		container.NewModule("bus", initBus, "telemetry"),
		container.NewModule("stores", initStores, "telemetry"),
		container.NewModule("saga", initSaga, "bus", "stores"),
	}

	roles := []string{"saga"}
	if cfg.Runs(config.RoleOrchestrator) {
		list = append(list, container.NewModule(config.RoleOrchestrator, initOrchestrator, "saga"))
		roles = append(roles, config.RoleOrchestrator)
	}
	if cfg.Runs(config.RoleOrder) {
		list = append(list, container.NewModule(config.RoleOrder, initOrder, "saga"))
		roles = append(roles, config.RoleOrder)
	}
	for _, p := range participants() {
		if cfg.Runs(p.role) {
			list = append(list, container.NewModule(p.role, p.init, "saga"))
			roles = append(roles, p.role)
		}
	}

	return append(list, container.NewModule("runtime", initRuntime, roles...))
}

// meterProvider останавливает экспорт метрик вместе с узлом
type meterProvider struct {
	provider *metric.MeterProvider
	running  bool
}

func (m *meterProvider) Start(ctx context.Context) error {
	m.running = true
	return nil
}

func (m *meterProvider) Stop(ctx context.Context) error {
	m.running = false
	return metrics.ShutdownMetrics(ctx, m.provider)
}

func (m *meterProvider) IsRunning() bool          { return m.running }
func (m *meterProvider) Name() string             { return "metrics" }
func (m *meterProvider) Type() core.ComponentType { return core.ComponentTypeModule }

func initTelemetry(ctx context.Context, c *container.Container) error {
	cfg, err := container.Get[*config.Config](c, keyConfig)
	if err != nil {
		return err
	}

	tracing, err := observability.NewTracingManager(observability.TracingConfig{
		Enabled:          cfg.Tracing.Enabled,
		ServiceName:      cfg.ServiceName,
		ServiceVersion:   orchestratedsaga.Version,
		Exporter:         cfg.Tracing.Exporter,
		ExporterEndpoint: cfg.Tracing.Endpoint,
		SamplingRate:     cfg.Tracing.SamplingRate,
		Environment:      cfg.Environment,
	})
	if err != nil {
		return core.Wrap(err, core.ErrInvalidConfig, "failed to set up tracing")
	}
	c.Manage(tracing)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		provider, err := metrics.SetupMetrics(&metrics.MetricsConfig{
			ExporterType: cfg.Metrics.Exporter,
			ResourceAttrs: map[string]string{
				"service.name":    cfg.ServiceName,
				"service.version": orchestratedsaga.Version,
				"saga.role":       cfg.Role,
			},
		})
		if err != nil {
			return core.Wrap(err, core.ErrInvalidConfig, "failed to set up metrics")
		}
		c.Manage(&meterProvider{provider: provider})

		if m, err = metrics.NewMetrics(); err != nil {
			return err
		}
	}

	if err := container.Set(c, keyMetrics, m); err != nil {
		return err
	}
	return container.Set(c, keyHealth, observability.NewHealthRegistry())
}

func busConfig(cfg *config.Config, logger *zap.Logger) interface{} {
	t := cfg.Transport
	switch t.Type {
	case "kafka":
		kc := messagebus.DefaultKafkaConfig()
		kc.Brokers = t.KafkaBrokers
		kc.GroupID = t.KafkaGroupID
		kc.ConsumerConfig.HandlerRetries = t.KafkaHandlerRetries
		kc.ConsumerConfig.RetryBackoff = t.KafkaRetryBackoff
		return kc
	case "nats":
		nc := messagebus.DefaultNATSConfig()
		nc.URL = t.NATSURL
		nc.QueueGroup = t.NATSQueueGroup
		nc.Username = t.NATSUsername
		nc.Password = t.NATSPassword
		nc.Stream = t.NATSStream
		nc.AckWait = t.NATSAckWait
		nc.MaxDeliver = t.NATSMaxDeliver
		return messagebus.NewNATSAdapterBuilder().
			WithConfig(nc).
			WithStream(t.NATSStream, cfg.Channels.All()...).
			WithLogger(logger)
	case "redis":
		rc := messagebus.DefaultRedisConfig()
		rc.Addr = t.RedisAddr
		rc.Password = t.RedisPassword
		rc.DB = t.RedisDB
		rc.ConsumerGroup = t.RedisConsumerGroup
		return rc
	default:
		ic := messagebus.DefaultInMemoryConfig()
		ic.EnableOrdering = t.InMemoryOrdering
		ic.WorkerCount = t.InMemoryWorkers
		return ic
	}
}

func initBus(ctx context.Context, c *container.Container) error {
	cfg, err := container.Get[*config.Config](c, keyConfig)
	if err != nil {
		return err
	}
	health, err := container.Get[*observability.HealthRegistry](c, keyHealth)
	if err != nil {
		return err
	}
	logger := c.Logger()

	bus, err := messagebus.NewMessageBusFactory().Create(cfg.Transport.Type, busConfig(cfg, logger))
	if err != nil {
		return err
	}
	switch b := bus.(type) {
	case *messagebus.KafkaAdapter:
		b.WithLogger(logger)
	case *messagebus.RedisAdapter:
		b.WithLogger(logger)
	}

	if transport.DeliveryOf(bus) == transport.AtMostOnce {
		logger.Warn("message bus delivers at most once, a lost message stalls its saga",
			zap.String("transport", cfg.Transport.Type))
	}

	c.Manage(bus)
	health.RegisterComponent(bus.Name(), bus)
	return container.Set[messagebus.Bus](c, keyBus, bus)
}

// connectionOf возвращает общее подключение хранилища, чтобы пул
// запускался и закрывался один раз
func connectionOf(component container.Managed) container.Managed {
	switch s := component.(type) {
	case *repository.PostgresRecordStore:
		return s.Postgres
	case *repository.PostgresEventStore:
		return s.Postgres
	case *repository.MongoRecordStore:
		return s.Mongo
	case *repository.MongoEventStore:
		return s.Mongo
	}
	return component
}

// schemaMigration применяет встроенные миграции после подключения к Postgres
type schemaMigration struct {
	db      *repository.Postgres
	logger  *zap.Logger
	applied bool
}

func (s *schemaMigration) Start(ctx context.Context) error {
	migrator, err := migrations.NewMigratorFromPool(s.db.Pool(), nil)
	if err != nil {
		return err
	}
	defer migrator.Close()

	if err := migrator.WithLogger(s.logger).Up(ctx); err != nil {
		return err
	}
	s.applied = true
	return nil
}

func (s *schemaMigration) Stop(ctx context.Context) error { return nil }
func (s *schemaMigration) IsRunning() bool                { return s.applied }
func (s *schemaMigration) Name() string                   { return "schema-migration" }
func (s *schemaMigration) Type() core.ComponentType       { return core.ComponentTypeModule }

func initStores(ctx context.Context, c *container.Container) error {
	cfg, err := container.Get[*config.Config](c, keyConfig)
	if err != nil {
		return err
	}
	health, err := container.Get[*observability.HealthRegistry](c, keyHealth)
	if err != nil {
		return err
	}

	pg := repository.DefaultPostgresConfig()
	pg.DSN = cfg.Store.PostgresDSN
	pg.MaxConns = cfg.Store.PostgresMaxConns
	if pg.MinConns > pg.MaxConns {
		pg.MinConns = pg.MaxConns
	}
	mongo := repository.DefaultMongoConfig()
	mongo.URI = cfg.Store.MongoURI
	mongo.Database = cfg.Store.MongoDatabase
	rds := repository.DefaultRedisStoreConfig()
	rds.Addr = cfg.Store.RedisAddr
	rds.Password = cfg.Store.RedisPassword
	rds.DB = cfg.Store.RedisDB

	factory := repository.NewStoreFactory(repository.StoreConfig{Postgres: pg, Mongo: mongo, Redis: rds})
	if err := container.Set(c, keyStores, factory); err != nil {
		return err
	}

	if cfg.Store.AutoMigrate && cfg.Store.PostgresDSN != "" {
		db, err := factory.Postgres(ctx)
		if err != nil {
			return core.Wrap(err, core.ErrInvalidConfig, "failed to create postgres pool")
		}
		c.Manage(db)
		c.Manage(&schemaMigration{db: db, logger: c.Logger()})
	}

	manage := func(store container.Managed) {
		conn := connectionOf(store)
		c.Manage(conn)
		health.RegisterComponent(conn.Name(), conn)
	}

	runsParticipant := cfg.Runs(config.RoleProductValidation) || cfg.Runs(config.RolePayment) || cfg.Runs(config.RoleInventory)
	if runsParticipant {
		records, err := factory.RecordStore(ctx, cfg.Store.Records)
		if err != nil {
			return err
		}
		manage(records)
		if err := container.Set[saga.RecordStore](c, keyRecordStore, records); err != nil {
			return err
		}
	}

	if cfg.Runs(config.RoleOrchestrator) || cfg.Runs(config.RoleOrder) {
		events, err := factory.EventStore(ctx, cfg.Store.Events)
		if err != nil {
			return err
		}
		manage(events)
		if err := container.Set[repository.EventStore](c, keyEventStore, events); err != nil {
			return err
		}
	}
	return nil
}

func initSaga(ctx context.Context, c *container.Container) error {
	cfg, err := container.Get[*config.Config](c, keyConfig)
	if err != nil {
		return err
	}
	m, err := container.Get[*metrics.Metrics](c, keyMetrics)
	if err != nil {
		return err
	}
	bus, err := container.Get[messagebus.Bus](c, keyBus)
	if err != nil {
		return err
	}

	topology, err := saga.DefaultTopology(cfg.Channels)
	if err != nil {
		return err
	}
	publisher := saga.NewEventPublisher(bus, cfg.Retry).WithLogger(c.Logger()).WithMetrics(m)
	dispatcher := saga.NewDispatcher(bus, cfg.Concurrency).WithLogger(c.Logger()).WithMetrics(m)

	if err := container.Set(c, keyTopology, topology); err != nil {
		return err
	}
	if err := container.Set[saga.Publisher](c, keyPublisher, publisher); err != nil {
		return err
	}
	return container.Set(c, keyDispatcher, dispatcher)
}

func initOrchestrator(ctx context.Context, c *container.Container) error {
	cfg, err := container.Get[*config.Config](c, keyConfig)
	if err != nil {
		return err
	}
	m, _ := container.Get[*metrics.Metrics](c, keyMetrics)
	topology, err := container.Get[*saga.Topology](c, keyTopology)
	if err != nil {
		return err
	}
	publisher, err := container.Get[saga.Publisher](c, keyPublisher)
	if err != nil {
		return err
	}
	dispatcher, err := container.Get[*saga.Dispatcher](c, keyDispatcher)
	if err != nil {
		return err
	}
	events, err := container.Get[repository.EventStore](c, keyEventStore)
	if err != nil {
		return err
	}

	orchestrator := saga.NewOrchestrator(topology, publisher, cfg.Channels).
		WithEventStore(events).
		WithLogger(c.Logger()).
		WithMetrics(m)
	return saga.RouteOrchestrator(dispatcher, orchestrator, cfg.Channels)
}

func initOrder(ctx context.Context, c *container.Container) error {
	cfg, err := container.Get[*config.Config](c, keyConfig)
	if err != nil {
		return err
	}
	publisher, err := container.Get[saga.Publisher](c, keyPublisher)
	if err != nil {
		return err
	}
	dispatcher, err := container.Get[*saga.Dispatcher](c, keyDispatcher)
	if err != nil {
		return err
	}
	events, err := container.Get[repository.EventStore](c, keyEventStore)
	if err != nil {
		return err
	}

	service := order.NewService(publisher, events, cfg.Channels).WithLogger(c.Logger())
	if err := order.Route(dispatcher, service); err != nil {
		return err
	}
	return container.Set(c, keyOrderService, service)
}

// participant описывает роль участника и сборку его бизнес-логики
type participant struct {
	role   string
	source saga.Source
	config saga.ParticipantConfig
	logic  func(ctx context.Context, c *container.Container, domain string) (saga.ParticipantLogic, error)
}

func participants() []participant {
	return []participant{
		{
			role:   config.RoleProductValidation,
			source: saga.SourceProductValidation,
			config: productvalidation.Config(),
			logic: func(ctx context.Context, c *container.Container, domain string) (saga.ParticipantLogic, error) {
				if domain == repository.StorePostgres {
					db, err := domainDB(ctx, c)
					if err != nil {
						return nil, err
					}
					return productvalidation.NewLogic(productvalidation.NewPostgresCatalog(db.Pool())), nil
				}
				return productvalidation.NewLogic(productvalidation.NewInMemoryCatalog(productvalidation.DefaultCatalog()...)), nil
			},
		},
		{
			role:   config.RolePayment,
			source: saga.SourcePayment,
			config: payment.Config(),
			logic: func(ctx context.Context, c *container.Container, domain string) (saga.ParticipantLogic, error) {
				if domain == repository.StorePostgres {
					db, err := domainDB(ctx, c)
					if err != nil {
						return nil, err
					}
					return payment.NewLogic(payment.NewPostgresStore(db.Pool())), nil
				}
				return payment.NewLogic(payment.NewInMemoryStore()), nil
			},
		},
		{
			role:   config.RoleInventory,
			source: saga.SourceInventory,
			config: inventory.Config(),
			logic: func(ctx context.Context, c *container.Container, domain string) (saga.ParticipantLogic, error) {
				if domain == repository.StorePostgres {
					db, err := domainDB(ctx, c)
					if err != nil {
						return nil, err
					}
					return inventory.NewLogic(inventory.NewPostgresStore(db.Pool())), nil
				}
				return inventory.NewLogic(inventory.NewInMemoryStore(inventory.DefaultStock())), nil
			},
		},
	}
}

// domainDB возвращает общий пул Postgres для доменных таблиц участников
func domainDB(ctx context.Context, c *container.Container) (*repository.Postgres, error) {
	factory, err := container.Get[*repository.StoreFactory](c, keyStores)
	if err != nil {
		return nil, err
	}
	db, err := factory.Postgres(ctx)
	if err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "failed to create postgres pool")
	}
	c.Manage(db)
	return db, nil
}

func (p participant) init(ctx context.Context, c *container.Container) error {
	cfg, err := container.Get[*config.Config](c, keyConfig)
	if err != nil {
		return err
	}
	m, _ := container.Get[*metrics.Metrics](c, keyMetrics)
	topology, err := container.Get[*saga.Topology](c, keyTopology)
	if err != nil {
		return err
	}
	publisher, err := container.Get[saga.Publisher](c, keyPublisher)
	if err != nil {
		return err
	}
	dispatcher, err := container.Get[*saga.Dispatcher](c, keyDispatcher)
	if err != nil {
		return err
	}
	records, err := container.Get[saga.RecordStore](c, keyRecordStore)
	if err != nil {
		return err
	}

	step, err := topology.StepOf(p.source)
	if err != nil {
		return err
	}
	logic, err := p.logic(ctx, c, cfg.Store.Domain)
	if err != nil {
		return fmt.Errorf("failed to build %s logic: %w", p.role, err)
	}

	handler := saga.NewParticipantHandler(p.config, logic, records).
		WithLogger(c.Logger()).
		WithMetrics(m)
	return saga.RouteParticipant(dispatcher, step, handler, publisher)
}

func initRuntime(ctx context.Context, c *container.Container) error {
	cfg, err := container.Get[*config.Config](c, keyConfig)
	if err != nil {
		return err
	}
	health, err := container.Get[*observability.HealthRegistry](c, keyHealth)
	if err != nil {
		return err
	}
	dispatcher, err := container.Get[*saga.Dispatcher](c, keyDispatcher)
	if err != nil {
		return err
	}

	rest := resttransport.DefaultRESTConfig()
	rest.Addr = cfg.HTTPAddr
	rest.ServiceName = cfg.ServiceName
	rest.ShutdownTimeout = cfg.ShutdownTimeout
	rest.EnableTracing = cfg.Tracing.Enabled
	server := resttransport.NewRESTAdapter(rest, c.Logger())

	router := server.Router()
	router.GET("/health", health.HealthCheckHandler())
	if cfg.Metrics.Enabled && cfg.Metrics.Exporter == "prometheus" {
		router.GET(cfg.Metrics.Path, gin.WrapH(metrics.Handler()))
	}
	if service, err := container.Get[*order.Service](c, keyOrderService); err == nil {
		order.NewAPI(service).RegisterRoutes(router)
	}

	health.RegisterComponent(dispatcher.Name(), dispatcher)

	c.Manage(server)
	// подписки включаются последними, когда все зависимости уже запущены
	c.Manage(dispatcher)
	return container.Set(c, keyHTTP, server)
}
