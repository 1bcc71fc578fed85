package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/akriventsev/orchestrated-saga/framework/core"
)

// Status статус платежа
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusRefund  Status = "REFUND"
)

// Payment платеж по попытке заказа
type Payment struct {
	OrderID       string
	TransactionID string
	TotalItems    int
	TotalAmount   float64
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type paymentKey struct {
	orderID       string
	transactionID string
}

// Store хранилище платежей. Пара (orderId, transactionId) уникальна.
type Store interface {
	Create(ctx context.Context, payment Payment) error
	Get(ctx context.Context, orderID, transactionID string) (Payment, bool, error)
	SetStatus(ctx context.Context, orderID, transactionID string, status Status, at time.Time) error
}

var errPaymentExists = errors.New("payment already exists for this transaction")

// InMemoryStore платежи в памяти
type InMemoryStore struct {
	payments *xsync.MapOf[paymentKey, Payment]
}

// NewInMemoryStore создает хранилище платежей в памяти
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{payments: xsync.NewMapOf[paymentKey, Payment]()}
}

// Create сохраняет новый платеж
func (s *InMemoryStore) Create(ctx context.Context, payment Payment) error {
	key := paymentKey{payment.OrderID, payment.TransactionID}
	if _, loaded := s.payments.LoadOrStore(key, payment); loaded {
		return errPaymentExists
	}
	return nil
}

// Get возвращает платеж
func (s *InMemoryStore) Get(ctx context.Context, orderID, transactionID string) (Payment, bool, error) {
	p, ok := s.payments.Load(paymentKey{orderID, transactionID})
	return p, ok, nil
}

// SetStatus меняет статус платежа
func (s *InMemoryStore) SetStatus(ctx context.Context, orderID, transactionID string, status Status, at time.Time) error {
	var found bool
	s.payments.Compute(paymentKey{orderID, transactionID}, func(old Payment, loaded bool) (Payment, bool) {
		found = loaded
		if !loaded {
			return old, true
		}
		old.Status = status
		old.UpdatedAt = at
		return old, false
	})
	if !found {
		return core.NewError(core.ErrNotFound, "Payment not found")
	}
	return nil
}

// PostgresStore платежи в таблице payments
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore создает хранилище платежей поверх пула соединений
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Create сохраняет новый платеж
func (s *PostgresStore) Create(ctx context.Context, p Payment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payments (order_id, transaction_id, total_items, total_amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.OrderID, p.TransactionID, p.TotalItems, p.TotalAmount, string(p.Status), p.CreatedAt, p.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return errPaymentExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// Get возвращает платеж
func (s *PostgresStore) Get(ctx context.Context, orderID, transactionID string) (Payment, bool, error) {
	p := Payment{OrderID: orderID, TransactionID: transactionID}
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT total_items, total_amount, status, created_at, updated_at
		FROM payments WHERE order_id = $1 AND transaction_id = $2`,
		orderID, transactionID,
	).Scan(&p.TotalItems, &p.TotalAmount, &status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, false, nil
	}
	if err != nil {
		return Payment{}, false, fmt.Errorf("failed to query payment: %w", err)
	}
	p.Status = Status(status)
	return p, true, nil
}

// SetStatus меняет статус платежа
func (s *PostgresStore) SetStatus(ctx context.Context, orderID, transactionID string, status Status, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE payments SET status = $3, updated_at = $4
		WHERE order_id = $1 AND transaction_id = $2`,
		orderID, transactionID, string(status), at,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NewError(core.ErrNotFound, "Payment not found")
	}
	return nil
}
