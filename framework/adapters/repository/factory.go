package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/akriventsev/orchestrated-saga/framework/core"
)

// Типы хранилищ
const (
	StoreInMemory = "inmemory"
	StorePostgres = "postgres"
	StoreMongoDB  = "mongodb"
	StoreRedis    = "redis"
)

// StoreConfig конфигурация всех поддерживаемых backends
type StoreConfig struct {
	Postgres PostgresConfig
	Mongo    MongoConfig
	Redis    RedisStoreConfig
}

// StoreFactory создает хранилища по типу. Подключения к Postgres и MongoDB
// создаются один раз и делятся между хранилищами.
type StoreFactory struct {
	config   StoreConfig
	postgres *Postgres
	mongo    *Mongo
	mu       sync.Mutex
}

// NewStoreFactory создает фабрику хранилищ
func NewStoreFactory(config StoreConfig) *StoreFactory {
	return &StoreFactory{config: config}
}

// Postgres возвращает общий пул соединений, создавая его при первом вызове
func (f *StoreFactory) Postgres(ctx context.Context) (*Postgres, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.postgres == nil {
		db, err := NewPostgres(ctx, f.config.Postgres)
		if err != nil {
			return nil, err
		}
		f.postgres = db
	}
	return f.postgres, nil
}

// Mongo возвращает общий клиент MongoDB, создавая его при первом вызове
func (f *StoreFactory) Mongo(ctx context.Context) (*Mongo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.mongo == nil {
		db, err := NewMongo(ctx, f.config.Mongo)
		if err != nil {
			return nil, err
		}
		f.mongo = db
	}
	return f.mongo, nil
}

// RecordStore создает хранилище записей участника
func (f *StoreFactory) RecordStore(ctx context.Context, storeType string) (RecordStore, error) {
	switch storeType {
	case StoreInMemory:
		return NewInMemoryRecordStore(), nil
	case StorePostgres:
		db, err := f.Postgres(ctx)
		if err != nil {
			return nil, core.Wrap(err, core.ErrInvalidConfig, "failed to create postgres record store")
		}
		return NewPostgresRecordStore(db), nil
	case StoreMongoDB:
		db, err := f.Mongo(ctx)
		if err != nil {
			return nil, core.Wrap(err, core.ErrInvalidConfig, "failed to create mongodb record store")
		}
		return NewMongoRecordStore(db), nil
	case StoreRedis:
		store, err := NewRedisRecordStore(f.config.Redis)
		if err != nil {
			return nil, core.Wrap(err, core.ErrInvalidConfig, "failed to create redis record store")
		}
		return store, nil
	default:
		return nil, core.NewError(core.ErrInvalidConfig, fmt.Sprintf("unknown record store type: %s", storeType))
	}
}

// EventStore создает журнал событий саги
func (f *StoreFactory) EventStore(ctx context.Context, storeType string) (EventStore, error) {
	switch storeType {
	case StoreInMemory:
		return NewInMemoryEventStore(), nil
	case StorePostgres:
		db, err := f.Postgres(ctx)
		if err != nil {
			return nil, core.Wrap(err, core.ErrInvalidConfig, "failed to create postgres event store")
		}
		return NewPostgresEventStore(db), nil
	case StoreMongoDB:
		db, err := f.Mongo(ctx)
		if err != nil {
			return nil, core.Wrap(err, core.ErrInvalidConfig, "failed to create mongodb event store")
		}
		return NewMongoEventStore(db), nil
	default:
		return nil, core.NewError(core.ErrInvalidConfig, fmt.Sprintf("unknown event store type: %s", storeType))
	}
}

// SupportedRecordStores возвращает отсортированный список типов хранилищ записей
func SupportedRecordStores() []string {
	out := []string{StoreInMemory, StorePostgres, StoreMongoDB, StoreRedis}
	sort.Strings(out)
	return out
}

// SupportedEventStores возвращает отсортированный список типов журналов событий
func SupportedEventStores() []string {
	out := []string{StoreInMemory, StorePostgres, StoreMongoDB}
	sort.Strings(out)
	return out
}
