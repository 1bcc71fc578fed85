package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/akriventsev/orchestrated-saga/framework/core"
)

var errOutOfStock = core.NewError(core.ErrValidation, "Product is out of stock!")

func notFound(code string) error {
	return core.NewError(core.ErrValidation, "Inventory not found for product_code: "+code)
}

// Store остатки товаров по коду
type Store interface {
	// Available возвращает доступный остаток
	Available(ctx context.Context, code string) (int, bool, error)
	// Adjust атомарно меняет остаток на delta. Остаток не может стать отрицательным.
	Adjust(ctx context.Context, code string, delta int) (oldValue, newValue int, err error)
}

// InMemoryStore остатки в памяти
type InMemoryStore struct {
	stock *xsync.MapOf[string, int]
}

// NewInMemoryStore создает хранилище остатков
func NewInMemoryStore(stock map[string]int) *InMemoryStore {
	s := &InMemoryStore{stock: xsync.NewMapOf[string, int]()}
	for code, available := range stock {
		s.stock.Store(code, available)
	}
	return s
}

// Available возвращает доступный остаток
func (s *InMemoryStore) Available(ctx context.Context, code string) (int, bool, error) {
	available, ok := s.stock.Load(code)
	return available, ok, nil
}

// Adjust меняет остаток на delta
func (s *InMemoryStore) Adjust(ctx context.Context, code string, delta int) (int, int, error) {
	var (
		oldValue, newValue int
		err                error
	)
	s.stock.Compute(code, func(current int, loaded bool) (int, bool) {
		if !loaded {
			err = notFound(code)
			return current, true
		}
		if current+delta < 0 {
			err = errOutOfStock
			return current, false
		}
		oldValue, newValue = current, current+delta
		return newValue, false
	})
	return oldValue, newValue, err
}

// PostgresStore остатки в таблице inventory
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore создает хранилище остатков поверх пула соединений
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Available возвращает доступный остаток
func (s *PostgresStore) Available(ctx context.Context, code string) (int, bool, error) {
	var available int
	err := s.pool.QueryRow(ctx, `SELECT available FROM inventory WHERE product_code = $1`, code).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query inventory: %w", err)
	}
	return available, true, nil
}

// Adjust меняет остаток одним UPDATE с условием на неотрицательность
func (s *PostgresStore) Adjust(ctx context.Context, code string, delta int) (int, int, error) {
	var newValue int
	err := s.pool.QueryRow(ctx, `
		UPDATE inventory SET available = available + $2
		WHERE product_code = $1 AND available + $2 >= 0
		RETURNING available`,
		code, delta,
	).Scan(&newValue)
	if errors.Is(err, pgx.ErrNoRows) {
		_, found, lookupErr := s.Available(ctx, code)
		if lookupErr != nil {
			return 0, 0, lookupErr
		}
		if !found {
			return 0, 0, notFound(code)
		}
		return 0, 0, errOutOfStock
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to update inventory: %w", err)
	}
	return newValue - delta, newValue, nil
}

// DefaultStock начальные остатки, совпадают с миграцией inventory
func DefaultStock() map[string]int {
	return map[string]int{
		"COMIC_BOOKS": 10,
		"BOOKS":       2,
		"MOVIES":      5,
		"MUSIC":       9,
	}
}
