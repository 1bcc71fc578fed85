// Package migrations предоставляет обертку над goose для управления схемой Postgres:
// записи участников, журнал событий саги, каталог, платежи и остатки.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/akriventsev/orchestrated-saga/framework/core"
)

//go:embed sql/*.sql
var embedded embed.FS

// Source встроенные миграции схемы
func Source() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// MigrationStatus представляет статус миграции
type MigrationStatus struct {
	Version   int64
	Name      string
	AppliedAt *time.Time
	Status    string // "pending", "applied"
}

// Migrator применяет миграции через goose.Provider
type Migrator struct {
	db       *sql.DB
	provider *goose.Provider
	logger   *zap.Logger
}

// NewMigrator создает мигратор поверх database/sql соединения.
// fsys nil означает встроенные миграции.
func NewMigrator(db *sql.DB, fsys fs.FS) (*Migrator, error) {
	if fsys == nil {
		fsys = Source()
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "failed to create migration provider")
	}
	return &Migrator{db: db, provider: provider, logger: zap.NewNop()}, nil
}

// NewMigratorFromPool создает мигратор, использующий соединения pgxpool
func NewMigratorFromPool(pool *pgxpool.Pool, fsys fs.FS) (*Migrator, error) {
	return NewMigrator(stdlib.OpenDBFromPool(pool), fsys)
}

// WithLogger устанавливает logger
func (m *Migrator) WithLogger(logger *zap.Logger) *Migrator {
	m.logger = logger.With(zap.String("component", "migrator"))
	return m
}

// Up применяет все pending миграции
func (m *Migrator) Up(ctx context.Context) error {
	results, err := m.provider.Up(ctx)
	m.logResults(results)
	if err != nil {
		return core.Wrap(err, core.ErrPersistence, "failed to run migrations")
	}
	return nil
}

// UpBy применяет не больше steps pending миграций
func (m *Migrator) UpBy(ctx context.Context, steps int) error {
	if steps <= 0 {
		return m.Up(ctx)
	}
	for i := 0; i < steps; i++ {
		result, err := m.provider.UpByOne(ctx)
		if result != nil {
			m.logResults([]*goose.MigrationResult{result})
		}
		if err != nil {
			if errors.Is(err, goose.ErrNoNextVersion) {
				return nil
			}
			return core.Wrap(err, core.ErrPersistence, "failed to run migration")
		}
	}
	return nil
}

// Down откатывает steps последних миграций
func (m *Migrator) Down(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	for i := 0; i < steps; i++ {
		result, err := m.provider.Down(ctx)
		if result != nil {
			m.logResults([]*goose.MigrationResult{result})
		}
		if err != nil {
			if errors.Is(err, goose.ErrNoNextVersion) {
				return nil
			}
			return core.Wrap(err, core.ErrPersistence, "failed to rollback migration")
		}
	}
	return nil
}

// Status возвращает статус всех миграций
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	list, err := m.provider.Status(ctx)
	if err != nil {
		return nil, core.Wrap(err, core.ErrPersistence, "failed to read migration status")
	}

	statuses := make([]MigrationStatus, 0, len(list))
	for _, s := range list {
		status := MigrationStatus{
			Version: s.Source.Version,
			Name:    filepath.Base(s.Source.Path),
			Status:  "pending",
		}
		if s.State == goose.StateApplied {
			appliedAt := s.AppliedAt
			status.AppliedAt = &appliedAt
			status.Status = "applied"
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// Version возвращает текущую версию схемы
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	version, err := m.provider.GetDBVersion(ctx)
	if err != nil {
		return 0, core.Wrap(err, core.ErrPersistence, "failed to get current version")
	}
	return version, nil
}

// HasPending проверяет, есть ли непримененные миграции
func (m *Migrator) HasPending(ctx context.Context) (bool, error) {
	return m.provider.HasPending(ctx)
}

// Sources возвращает версии известных миграций
func (m *Migrator) Sources() []int64 {
	sources := m.provider.ListSources()
	versions := make([]int64, 0, len(sources))
	for _, s := range sources {
		versions = append(versions, s.Version)
	}
	return versions
}

// Close закрывает соединение мигратора
func (m *Migrator) Close() error {
	return m.provider.Close()
}

func (m *Migrator) logResults(results []*goose.MigrationResult) {
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		fields := []zap.Field{
			zap.Int64("version", r.Source.Version),
			zap.String("direction", r.Direction),
			zap.Duration("duration", r.Duration),
		}
		if r.Error != nil {
			m.logger.Error("migration failed", append(fields, zap.Error(r.Error))...)
			continue
		}
		m.logger.Info("migration applied", fields...)
	}
}

// CreateMigration создает новый файл миграции в формате goose
func CreateMigration(dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create migrations directory: %w", err)
	}

	filename := fmt.Sprintf("%s_%s.sql", time.Now().Format("20060102150405"), name)
	path := filepath.Join(dir, filename)

	content := fmt.Sprintf(`-- +goose Up
-- Migration: %s

-- +goose Down
-- Rollback migration: %s
`, name, name)

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to create migration file: %w", err)
	}
	return path, nil
}
