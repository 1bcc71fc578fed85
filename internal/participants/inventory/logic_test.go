package inventory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/orchestrated-saga/framework/adapters/repository"
	"github.com/akriventsev/orchestrated-saga/framework/core"
	"github.com/akriventsev/orchestrated-saga/framework/saga"
)

func orderEvent(txID string, items map[string]int) saga.Event {
	event := saga.Event{
		ID:            "evt-" + txID,
		OrderID:       "order-1",
		TransactionID: txID,
		Source:        saga.SourceOrchestrator,
		Status:        saga.StatusPending,
	}
	for code, quantity := range items {
		event.Payload.Products = append(event.Payload.Products, saga.OrderProduct{
			Product:  saga.Product{Code: code, UnitValue: 10},
			Quantity: quantity,
		})
	}
	return event
}

func newHandler(store Store) *saga.ParticipantHandler {
	return saga.NewParticipantHandler(Config(), NewLogic(store), repository.NewInMemoryRecordStore())
}

func available(t *testing.T, store Store, code string) int {
	t.Helper()
	value, found, err := store.Available(context.Background(), code)
	require.NoError(t, err)
	require.True(t, found)
	return value
}

func TestExecute_DecrementsStock(t *testing.T) {
	store := NewInMemoryStore(map[string]int{"COMIC_BOOKS": 10, "BOOKS": 2})
	h := newHandler(store)

	out := h.Execute(context.Background(), orderEvent("tx-1", map[string]int{"COMIC_BOOKS": 2, "BOOKS": 2}))

	assert.Equal(t, saga.StatusSuccess, out.Status)
	assert.Equal(t, 8, available(t, store, "COMIC_BOOKS"))
	assert.Equal(t, 0, available(t, store, "BOOKS"))

	record, found, err := h.Guard().Lookup(context.Background(), "order-1", "tx-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, record.Changes, 2)
}

func TestExecute_OutOfStock(t *testing.T) {
	store := NewInMemoryStore(map[string]int{"BOOKS": 1})

	out := newHandler(store).Execute(context.Background(), orderEvent("tx-1", map[string]int{"BOOKS": 2}))

	assert.Equal(t, saga.StatusRollbackPending, out.Status)
	last, _ := out.LastHistory()
	assert.Equal(t, "Fail to execute inventory: Product is out of stock!", last.Message)
	assert.Equal(t, 1, available(t, store, "BOOKS"))
}

func TestExecute_UnknownProduct(t *testing.T) {
	store := NewInMemoryStore(map[string]int{"BOOKS": 1})

	out := newHandler(store).Execute(context.Background(), orderEvent("tx-1", map[string]int{"VINYL": 1}))

	assert.Equal(t, saga.StatusRollbackPending, out.Status)
	last, _ := out.LastHistory()
	assert.Equal(t, "Fail to execute inventory: Inventory not found for product_code: VINYL", last.Message)
}

func TestCompensate_RestoresStock(t *testing.T) {
	store := NewInMemoryStore(map[string]int{"COMIC_BOOKS": 10})
	h := newHandler(store)
	ctx := context.Background()
	event := orderEvent("tx-1", map[string]int{"COMIC_BOOKS": 3})

	require.Equal(t, saga.StatusSuccess, h.Execute(ctx, event).Status)
	require.Equal(t, 7, available(t, store, "COMIC_BOOKS"))

	out := h.Compensate(ctx, event)
	assert.Equal(t, saga.StatusFail, out.Status)
	last, _ := out.LastHistory()
	assert.Equal(t, "Rollback executed for inventory!", last.Message)
	assert.Equal(t, 10, available(t, store, "COMIC_BOOKS"))

	// повторная компенсация ничего не возвращает второй раз
	again := h.Compensate(ctx, event)
	last, _ = again.LastHistory()
	assert.Equal(t, "Nothing to compensate for this transaction.", last.Message)
	assert.Equal(t, 10, available(t, store, "COMIC_BOOKS"))
}

func TestExecute_DuplicateDoesNotDecrementTwice(t *testing.T) {
	store := NewInMemoryStore(map[string]int{"COMIC_BOOKS": 10})
	h := newHandler(store)
	event := orderEvent("tx-1", map[string]int{"COMIC_BOOKS": 1})

	var wg sync.WaitGroup
	results := make([]saga.Event, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.Execute(context.Background(), event)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, out := range results {
		if out.Status == saga.StatusSuccess {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 9, available(t, store, "COMIC_BOOKS"))
}

func TestInMemoryStore_Adjust(t *testing.T) {
	store := NewInMemoryStore(map[string]int{"BOOKS": 2})
	ctx := context.Background()

	oldValue, newValue, err := store.Adjust(ctx, "BOOKS", -2)
	require.NoError(t, err)
	assert.Equal(t, 2, oldValue)
	assert.Equal(t, 0, newValue)

	_, _, err = store.Adjust(ctx, "BOOKS", -1)
	assert.True(t, core.HasCode(err, core.ErrValidation))

	_, _, err = store.Adjust(ctx, "MISSING", 1)
	assert.True(t, core.HasCode(err, core.ErrValidation))
	_, found, _ := store.Available(ctx, "MISSING")
	assert.False(t, found)
}

// partialStore отказывает на указанном коде после успешных списаний
type partialStore struct {
	*InMemoryStore
	failOn string
}

func (s *partialStore) Adjust(ctx context.Context, code string, delta int) (int, int, error) {
	if code == s.failOn && delta < 0 {
		return 0, 0, errOutOfStock
	}
	return s.InMemoryStore.Adjust(ctx, code, delta)
}

func TestApply_PartialFailureRestores(t *testing.T) {
	base := NewInMemoryStore(map[string]int{"A": 5, "B": 5})
	logic := NewLogic(&partialStore{InMemoryStore: base, failOn: "B"})

	event := orderEvent("tx-1", nil)
	event.Payload.Products = []saga.OrderProduct{
		{Product: saga.Product{Code: "A"}, Quantity: 2},
		{Product: saga.Product{Code: "B"}, Quantity: 2},
	}

	_, err := logic.Apply(context.Background(), &event)
	require.Error(t, err)
	assert.Equal(t, 5, available(t, base, "A"))
}

func TestCompensate_ConcurrentRollbacksRestoreOnce(t *testing.T) {
	store := NewInMemoryStore(map[string]int{"COMIC_BOOKS": 10})
	h := newHandler(store)
	ctx := context.Background()
	event := orderEvent("tx-1", map[string]int{"COMIC_BOOKS": 2})

	require.Equal(t, saga.StatusSuccess, h.Execute(ctx, event).Status)
	require.Equal(t, 8, available(t, store, "COMIC_BOOKS"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Compensate(ctx, event)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, available(t, store, "COMIC_BOOKS"))
}

// unreliableRecords отказывает один раз при переводе записи в REVERTED
type unreliableRecords struct {
	*repository.InMemoryRecordStore
	failReverted atomic.Bool
}

func (s *unreliableRecords) Update(ctx context.Context, record saga.Record, from saga.RecordStatus) (bool, error) {
	if record.Status == saga.RecordReverted && s.failReverted.CompareAndSwap(true, false) {
		return false, errors.New("connection reset")
	}
	return s.InMemoryRecordStore.Update(ctx, record, from)
}

func TestCompensate_RedeliveryAfterRecordFailureRestoresOnce(t *testing.T) {
	store := NewInMemoryStore(map[string]int{"COMIC_BOOKS": 10})
	records := &unreliableRecords{InMemoryRecordStore: repository.NewInMemoryRecordStore()}
	records.failReverted.Store(true)
	h := saga.NewParticipantHandler(Config(), NewLogic(store), records)
	ctx := context.Background()
	event := orderEvent("tx-1", map[string]int{"COMIC_BOOKS": 2})

	require.Equal(t, saga.StatusSuccess, h.Execute(ctx, event).Status)

	h.Compensate(ctx, event)
	assert.Equal(t, 10, available(t, store, "COMIC_BOOKS"))

	h.Compensate(ctx, event)
	assert.Equal(t, 10, available(t, store, "COMIC_BOOKS"))
}

// panickingStore паникует на указанном коде
type panickingStore struct {
	*InMemoryStore
	panicOn string
}

func (s *panickingStore) Adjust(ctx context.Context, code string, delta int) (int, int, error) {
	if code == s.panicOn && delta < 0 {
		panic("driver bug")
	}
	return s.InMemoryStore.Adjust(ctx, code, delta)
}

func TestExecute_PanicRestoresPartialUpdate(t *testing.T) {
	base := NewInMemoryStore(map[string]int{"A": 5, "B": 5})
	h := newHandler(&panickingStore{InMemoryStore: base, panicOn: "B"})

	event := orderEvent("tx-1", nil)
	event.Payload.Products = []saga.OrderProduct{
		{Product: saga.Product{Code: "A"}, Quantity: 2},
		{Product: saga.Product{Code: "B"}, Quantity: 2},
	}

	out := h.Execute(context.Background(), event)

	assert.Equal(t, saga.StatusRollbackPending, out.Status)
	assert.Equal(t, 5, available(t, base, "A"))
	assert.Equal(t, 5, available(t, base, "B"))
}
