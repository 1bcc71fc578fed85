package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/akriventsev/orchestrated-saga/framework/core"
	"github.com/akriventsev/orchestrated-saga/framework/saga"
)

// PostgresConfig конфигурация подключения к PostgreSQL
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
}

// Validate проверяет корректность конфигурации
func (c PostgresConfig) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("DSN cannot be empty")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("MaxConns must be greater than 0")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("MinConns must not exceed MaxConns")
	}
	return nil
}

// DefaultPostgresConfig возвращает конфигурацию PostgreSQL по умолчанию
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxConns:        25,
		MinConns:        2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// Postgres пул соединений, общий для хранилищ одного процесса
type Postgres struct {
	config PostgresConfig
	pool   *pgxpool.Pool
}

// NewPostgres создает пул соединений. Соединения открываются лениво.
func NewPostgres(ctx context.Context, config PostgresConfig) (*Postgres, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid postgres config: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolConfig.MaxConns = config.MaxConns
	poolConfig.MinConns = config.MinConns
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	return &Postgres{config: config, pool: pool}, nil
}

// Pool возвращает пул соединений
func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

// Start проверяет подключение (реализация core.Lifecycle)
func (p *Postgres) Start(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return nil
}

// Stop закрывает пул (реализация core.Lifecycle)
func (p *Postgres) Stop(ctx context.Context) error {
	p.pool.Close()
	return nil
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (p *Postgres) IsRunning() bool {
	return p.pool != nil
}

// Name возвращает имя компонента (реализация core.Component)
func (p *Postgres) Name() string {
	return "postgres"
}

// Type возвращает тип компонента (реализация core.Component)
func (p *Postgres) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// HealthCheck выполняет ping
func (p *Postgres) HealthCheck(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// PostgresRecordStore записи участников в таблице participant_records
type PostgresRecordStore struct {
	*Postgres
}

// NewPostgresRecordStore создает хранилище записей поверх пула
func NewPostgresRecordStore(db *Postgres) *PostgresRecordStore {
	return &PostgresRecordStore{Postgres: db}
}

// Name возвращает имя компонента (реализация core.Component)
func (s *PostgresRecordStore) Name() string {
	return "postgres-record-store"
}

// Insert вставляет запись, конфликт по ключу означает повторную доставку
func (s *PostgresRecordStore) Insert(ctx context.Context, record saga.Record) (bool, error) {
	changes, err := json.Marshal(record.Changes)
	if err != nil {
		return false, fmt.Errorf("failed to encode changes: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO participant_records
			(participant, order_id, transaction_id, status, changes, message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (participant, order_id, transaction_id) DO NOTHING`,
		record.Participant, record.OrderID, record.TransactionID, string(record.Status),
		changes, record.Message, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert participant record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Get возвращает запись по ключу
func (s *PostgresRecordStore) Get(ctx context.Context, key saga.Key) (saga.Record, bool, error) {
	var (
		record  saga.Record
		status  string
		changes []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT participant, order_id, transaction_id, status, changes, message, created_at, updated_at
		FROM participant_records
		WHERE participant = $1 AND order_id = $2 AND transaction_id = $3`,
		key.Participant, key.OrderID, key.TransactionID,
	).Scan(&record.Participant, &record.OrderID, &record.TransactionID, &status,
		&changes, &record.Message, &record.CreatedAt, &record.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return saga.Record{}, false, nil
	}
	if err != nil {
		return saga.Record{}, false, fmt.Errorf("failed to read participant record: %w", err)
	}

	record.Status = saga.RecordStatus(status)
	if len(changes) > 0 {
		if err := json.Unmarshal(changes, &record.Changes); err != nil {
			return saga.Record{}, false, fmt.Errorf("failed to decode changes: %w", err)
		}
	}
	return record, true, nil
}

// Update обновляет статус, изменения и сообщение записи, если ее статус равен from
func (s *PostgresRecordStore) Update(ctx context.Context, record saga.Record, from saga.RecordStatus) (bool, error) {
	changes, err := json.Marshal(record.Changes)
	if err != nil {
		return false, fmt.Errorf("failed to encode changes: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE participant_records
		SET status = $4, changes = $5, message = $6, updated_at = $7
		WHERE participant = $1 AND order_id = $2 AND transaction_id = $3 AND status = $8`,
		record.Participant, record.OrderID, record.TransactionID,
		string(record.Status), changes, record.Message, record.UpdatedAt, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update participant record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// PostgresEventStore журнал событий в таблице saga_events.
// Порядок определяется bigserial seq, а не временем события.
type PostgresEventStore struct {
	*Postgres
}

// NewPostgresEventStore создает журнал событий поверх пула
func NewPostgresEventStore(db *Postgres) *PostgresEventStore {
	return &PostgresEventStore{Postgres: db}
}

// Name возвращает имя компонента (реализация core.Component)
func (s *PostgresEventStore) Name() string {
	return "postgres-event-store"
}

// Append добавляет событие
func (s *PostgresEventStore) Append(ctx context.Context, event saga.Event) error {
	data, err := saga.Encode(event)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO saga_events (event_id, transaction_id, order_id, source, status, event)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.TransactionID, event.OrderID, string(event.Source), string(event.Status), data,
	)
	if err != nil {
		return fmt.Errorf("failed to append saga event: %w", err)
	}
	return nil
}

// FindLatest возвращает самое свежее событие по orderId, иначе по transactionId
func (s *PostgresEventStore) FindLatest(ctx context.Context, filter saga.EventFilter) (saga.Event, error) {
	if err := filter.Validate(); err != nil {
		return saga.Event{}, err
	}

	column, value := "transaction_id", filter.TransactionID
	if filter.OrderID != "" {
		column, value = "order_id", filter.OrderID
	}

	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT event FROM saga_events WHERE `+column+` = $1 ORDER BY seq DESC LIMIT 1`, value,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return saga.Event{}, core.NewError(core.ErrNotFound, "Event not found by filter")
	}
	if err != nil {
		return saga.Event{}, fmt.Errorf("failed to query saga event: %w", err)
	}
	return saga.Decode(data)
}

// FindAll возвращает все события, самые свежие первыми
func (s *PostgresEventStore) FindAll(ctx context.Context) ([]saga.Event, error) {
	rows, err := s.pool.Query(ctx, `SELECT event FROM saga_events ORDER BY seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query saga events: %w", err)
	}

	blobs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("failed to scan saga events: %w", err)
	}

	events := make([]saga.Event, 0, len(blobs))
	for _, data := range blobs {
		event, err := saga.Decode(data)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// RollbackIssued проверяет наличие событий отката по транзакции
func (s *PostgresEventStore) RollbackIssued(ctx context.Context, transactionID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM saga_events
			WHERE transaction_id = $1 AND status IN ($2, $3)
		)`,
		transactionID, string(saga.StatusFail), string(saga.StatusRollbackPending),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check rollback: %w", err)
	}
	return exists, nil
}
