package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/akriventsev/orchestrated-saga/framework/core"
	"github.com/akriventsev/orchestrated-saga/framework/saga"
)

// RedisStoreConfig конфигурация Redis хранилища записей
type RedisStoreConfig struct {
	Addr      string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
}

// Validate проверяет корректность конфигурации
func (c RedisStoreConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	return nil
}

// DefaultRedisStoreConfig возвращает конфигурацию по умолчанию
func DefaultRedisStoreConfig() RedisStoreConfig {
	return RedisStoreConfig{
		Addr:      "localhost:6379",
		PoolSize:  10,
		KeyPrefix: "saga:record",
	}
}

// updateScript заменяет запись, только если ее статус равен ARGV[1]
var updateScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then
	return 0
end
if cjson.decode(current)['status'] ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2])
return 1
`)

// RedisRecordStore записи участников в ключах Redis.
// Атомарность вставки обеспечивает SET NX, смены статуса - Lua скрипт.
type RedisRecordStore struct {
	config RedisStoreConfig
	client *redis.Client
}

// NewRedisRecordStore создает хранилище записей в Redis
func NewRedisRecordStore(config RedisStoreConfig) (*RedisRecordStore, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis store config: %w", err)
	}

	return &RedisRecordStore{
		config: config,
		client: redis.NewClient(&redis.Options{
			Addr:     config.Addr,
			Password: config.Password,
			DB:       config.DB,
			PoolSize: config.PoolSize,
		}),
	}, nil
}

func (s *RedisRecordStore) key(k saga.Key) string {
	return fmt.Sprintf("%s:%s:%s:%s", s.config.KeyPrefix, k.Participant, k.OrderID, k.TransactionID)
}

// Insert вставляет запись, если ключ свободен
func (s *RedisRecordStore) Insert(ctx context.Context, record saga.Record) (bool, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("failed to encode participant record: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(record.Key()), data, 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to insert participant record: %w", err)
	}
	return ok, nil
}

// Get возвращает запись по ключу
func (s *RedisRecordStore) Get(ctx context.Context, key saga.Key) (saga.Record, bool, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return saga.Record{}, false, nil
	}
	if err != nil {
		return saga.Record{}, false, fmt.Errorf("failed to read participant record: %w", err)
	}

	var record saga.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return saga.Record{}, false, fmt.Errorf("failed to decode participant record: %w", err)
	}
	return record, true, nil
}

// Update перезаписывает запись, если ее статус равен from
func (s *RedisRecordStore) Update(ctx context.Context, record saga.Record, from saga.RecordStatus) (bool, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("failed to encode participant record: %w", err)
	}

	swapped, err := updateScript.Run(ctx, s.client, []string{s.key(record.Key())}, string(from), data).Int()
	if err != nil {
		return false, fmt.Errorf("failed to update participant record: %w", err)
	}
	return swapped == 1, nil
}

// Start проверяет подключение (реализация core.Lifecycle)
func (s *RedisRecordStore) Start(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return nil
}

// Stop закрывает клиента (реализация core.Lifecycle)
func (s *RedisRecordStore) Stop(ctx context.Context) error {
	if err := s.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (s *RedisRecordStore) IsRunning() bool {
	return s.client != nil
}

// Name возвращает имя компонента (реализация core.Component)
func (s *RedisRecordStore) Name() string {
	return "redis-record-store"
}

// Type возвращает тип компонента (реализация core.Component)
func (s *RedisRecordStore) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// HealthCheck выполняет PING
func (s *RedisRecordStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
