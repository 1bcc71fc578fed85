package productvalidation

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/puzpuzpuz/xsync/v3"
)

// Catalog справочник кодов товаров
type Catalog interface {
	Exists(ctx context.Context, code string) (bool, error)
}

// InMemoryCatalog каталог в памяти
type InMemoryCatalog struct {
	codes *xsync.MapOf[string, struct{}]
}

// NewInMemoryCatalog создает каталог с указанными кодами
func NewInMemoryCatalog(codes ...string) *InMemoryCatalog {
	c := &InMemoryCatalog{codes: xsync.NewMapOf[string, struct{}]()}
	for _, code := range codes {
		c.Add(code)
	}
	return c
}

// Add добавляет код в каталог
func (c *InMemoryCatalog) Add(code string) {
	c.codes.Store(code, struct{}{})
}

// Exists проверяет наличие кода
func (c *InMemoryCatalog) Exists(ctx context.Context, code string) (bool, error) {
	_, ok := c.codes.Load(code)
	return ok, nil
}

// PostgresCatalog каталог в таблице products
type PostgresCatalog struct {
	pool *pgxpool.Pool
}

// NewPostgresCatalog создает каталог поверх пула соединений
func NewPostgresCatalog(pool *pgxpool.Pool) *PostgresCatalog {
	return &PostgresCatalog{pool: pool}
}

// Exists проверяет наличие кода
func (c *PostgresCatalog) Exists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := c.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query product %s: %w", code, err)
	}
	return exists, nil
}

// DefaultCatalog коды товаров, которыми заполняется каталог по умолчанию
func DefaultCatalog() []string {
	return []string{"COMIC_BOOKS", "BOOKS", "MOVIES", "MUSIC"}
}
