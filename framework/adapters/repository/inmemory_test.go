package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/orchestrated-saga/framework/core"
	"github.com/akriventsev/orchestrated-saga/framework/saga"
)

func TestInMemoryRecordStore_InsertIsAtomic(t *testing.T) {
	store := NewInMemoryRecordStore()
	record := saga.Record{Participant: "payment", OrderID: "o-1", TransactionID: "t-1", Status: saga.RecordClaimed}

	var (
		wg       sync.WaitGroup
		inserted int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Insert(context.Background(), record)
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&inserted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), inserted)
	assert.Equal(t, 1, store.Len())
}

func TestInMemoryRecordStore_GetAndUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryRecordStore()
	record := saga.Record{Participant: "inventory", OrderID: "o-1", TransactionID: "t-1", Status: saga.RecordClaimed}

	_, found, err := store.Get(ctx, record.Key())
	require.NoError(t, err)
	assert.False(t, found)

	ok, err := store.Insert(ctx, record)
	require.NoError(t, err)
	require.True(t, ok)

	record.Status = saga.RecordExecuted
	record.Changes = []saga.Change{{Resource: "COMIC_BOOKS", OldValue: 10, NewValue: 8}}
	swapped, err := store.Update(ctx, record, saga.RecordClaimed)
	require.NoError(t, err)
	require.True(t, swapped)

	got, found, err := store.Get(ctx, record.Key())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, saga.RecordExecuted, got.Status)
	assert.Equal(t, record.Changes, got.Changes)

	// изменение полученной копии не влияет на хранилище
	got.Changes[0].NewValue = 0
	again, _, _ := store.Get(ctx, record.Key())
	assert.Equal(t, float64(8), again.Changes[0].NewValue)
}

func TestInMemoryRecordStore_UpdateMissing(t *testing.T) {
	store := NewInMemoryRecordStore()
	swapped, err := store.Update(context.Background(),
		saga.Record{Participant: "p", OrderID: "o", TransactionID: "t", Status: saga.RecordExecuted}, saga.RecordClaimed)
	require.NoError(t, err)
	assert.False(t, swapped)
	assert.Equal(t, 0, store.Len())
}

func TestInMemoryRecordStore_UpdateChecksStatus(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryRecordStore()
	record := saga.Record{Participant: "inventory", OrderID: "o-1", TransactionID: "t-1", Status: saga.RecordExecuted}
	_, err := store.Insert(ctx, record)
	require.NoError(t, err)

	record.Status = saga.RecordReverting
	var (
		wg      sync.WaitGroup
		swapped int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Update(ctx, record, saga.RecordExecuted)
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&swapped, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), swapped)
	got, _, _ := store.Get(ctx, record.Key())
	assert.Equal(t, saga.RecordReverting, got.Status)
}

func newEvent(orderID, txID string, status saga.Status, at time.Time) saga.Event {
	return saga.Event{
		ID:            fmt.Sprintf("%s-%s-%s", orderID, txID, status),
		OrderID:       orderID,
		TransactionID: txID,
		Source:        saga.SourceOrchestrator,
		Status:        status,
		CreatedAt:     at,
	}
}

func TestInMemoryEventStore_FindLatest(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryEventStore()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Append(ctx, newEvent("o-1", "t-1", saga.StatusPending, at)))
	require.NoError(t, store.Append(ctx, newEvent("o-1", "t-1", saga.StatusSuccess, at)))
	require.NoError(t, store.Append(ctx, newEvent("o-2", "t-2", saga.StatusPending, at)))

	latest, err := store.FindLatest(ctx, saga.EventFilter{OrderID: "o-1"})
	require.NoError(t, err)
	assert.Equal(t, saga.StatusSuccess, latest.Status)

	latest, err = store.FindLatest(ctx, saga.EventFilter{TransactionID: "t-2"})
	require.NoError(t, err)
	assert.Equal(t, "o-2", latest.OrderID)

	// orderId имеет приоритет над transactionId
	latest, err = store.FindLatest(ctx, saga.EventFilter{OrderID: "o-2", TransactionID: "t-1"})
	require.NoError(t, err)
	assert.Equal(t, "o-2", latest.OrderID)

	_, err = store.FindLatest(ctx, saga.EventFilter{OrderID: "missing"})
	assert.True(t, core.HasCode(err, core.ErrNotFound))

	_, err = store.FindLatest(ctx, saga.EventFilter{})
	assert.True(t, core.HasCode(err, core.ErrValidation))
}

func TestInMemoryEventStore_FindAllNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryEventStore()
	at := time.Now()

	for _, id := range []string{"o-1", "o-2", "o-3"} {
		require.NoError(t, store.Append(ctx, newEvent(id, "t-"+id, saga.StatusPending, at)))
	}

	events, err := store.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "o-3", events[0].OrderID)
	assert.Equal(t, "o-1", events[2].OrderID)
}

func TestInMemoryEventStore_RollbackIssued(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryEventStore()

	require.NoError(t, store.Append(ctx, newEvent("o-1", "t-1", saga.StatusSuccess, time.Now())))
	issued, err := store.RollbackIssued(ctx, "t-1")
	require.NoError(t, err)
	assert.False(t, issued)

	require.NoError(t, store.Append(ctx, newEvent("o-1", "t-1", saga.StatusFail, time.Now())))
	issued, err = store.RollbackIssued(ctx, "t-1")
	require.NoError(t, err)
	assert.True(t, issued)

	issued, err = store.RollbackIssued(ctx, "t-2")
	require.NoError(t, err)
	assert.False(t, issued)
}

func TestStoreFactory(t *testing.T) {
	ctx := context.Background()
	factory := NewStoreFactory(StoreConfig{})

	records, err := factory.RecordStore(ctx, StoreInMemory)
	require.NoError(t, err)
	assert.Equal(t, "inmemory-record-store", records.Name())

	events, err := factory.EventStore(ctx, StoreInMemory)
	require.NoError(t, err)
	assert.Equal(t, "inmemory-event-store", events.Name())

	_, err = factory.RecordStore(ctx, "cassandra")
	assert.True(t, core.HasCode(err, core.ErrInvalidConfig))

	_, err = factory.EventStore(ctx, StoreRedis)
	assert.True(t, core.HasCode(err, core.ErrInvalidConfig))

	// пустой DSN отклоняется до подключения
	_, err = factory.RecordStore(ctx, StorePostgres)
	assert.Error(t, err)

	assert.Equal(t, []string{"inmemory", "mongodb", "postgres", "redis"}, SupportedRecordStores())
}

func TestConfigValidation(t *testing.T) {
	assert.Error(t, DefaultPostgresConfig().Validate())
	cfg := DefaultPostgresConfig()
	cfg.DSN = "postgres://localhost/saga"
	assert.NoError(t, cfg.Validate())

	assert.NoError(t, DefaultMongoConfig().Validate())
	assert.NoError(t, DefaultRedisStoreConfig().Validate())
	assert.Error(t, RedisStoreConfig{}.Validate())
}
