package order

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/orchestrated-saga/framework/adapters/repository"
	"github.com/akriventsev/orchestrated-saga/framework/core"
	"github.com/akriventsev/orchestrated-saga/framework/saga"
)

type sent struct {
	channel string
	event   saga.Event
}

type capturePublisher struct {
	mu     sync.Mutex
	events []sent
	err    error
}

func (p *capturePublisher) Publish(ctx context.Context, channel string, event saga.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, sent{channel: channel, event: event})
	return nil
}

func newTestService(pub saga.Publisher) (*Service, *repository.InMemoryEventStore) {
	store := repository.NewInMemoryEventStore()
	svc := NewService(pub, store, saga.DefaultChannels())
	svc.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return svc, store
}

func validRequest() CreateOrderRequest {
	return CreateOrderRequest{Products: []saga.OrderProduct{
		{Product: saga.Product{Code: "COMIC_BOOKS", UnitValue: 15.5}, Quantity: 2},
	}}
}

func TestCreateOrder_PublishesStartEvent(t *testing.T) {
	pub := &capturePublisher{}
	svc, store := newTestService(pub)

	order, err := svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, order.ID)
	assert.True(t, strings.HasPrefix(order.TransactionID, "1700000000000_"))

	require.Len(t, pub.events, 1)
	assert.Equal(t, "start-saga", pub.events[0].channel)
	assert.Equal(t, order.ID, pub.events[0].event.OrderID)
	assert.Equal(t, order.TransactionID, pub.events[0].event.TransactionID)
	assert.Empty(t, pub.events[0].event.History)

	stored, err := store.FindLatest(context.Background(), saga.EventFilter{OrderID: order.ID})
	require.NoError(t, err)
	assert.Equal(t, order.TransactionID, stored.TransactionID)
}

func TestCreateOrder_FreshTransactionPerAttempt(t *testing.T) {
	svc, _ := newTestService(&capturePublisher{})

	first, err := svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)
	second, err := svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)

	assert.NotEqual(t, first.TransactionID, second.TransactionID)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestCreateOrder_InvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		req  CreateOrderRequest
	}{
		{"no products", CreateOrderRequest{}},
		{"blank code", CreateOrderRequest{Products: []saga.OrderProduct{{Quantity: 1}}}},
		{"zero quantity", CreateOrderRequest{Products: []saga.OrderProduct{{Product: saga.Product{Code: "BOOKS"}}}}},
		{"negative price", CreateOrderRequest{Products: []saga.OrderProduct{{Product: saga.Product{Code: "BOOKS", UnitValue: -1}, Quantity: 1}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &capturePublisher{}
			svc, _ := newTestService(pub)

			_, err := svc.CreateOrder(context.Background(), tt.req)
			assert.True(t, core.HasCode(err, core.ErrValidation))
			assert.Empty(t, pub.events)
		})
	}
}

func TestCreateOrder_PublishFailure(t *testing.T) {
	svc, _ := newTestService(&capturePublisher{err: errors.New("broker down")})

	_, err := svc.CreateOrder(context.Background(), validRequest())
	assert.Error(t, err)
}

func TestNotifyEnding_StoresTerminalEvent(t *testing.T) {
	svc, store := newTestService(&capturePublisher{})
	ctx := context.Background()

	event := saga.Event{
		ID:            "evt-9",
		OrderID:       "order-1",
		TransactionID: "1700000000000_tx",
		Source:        saga.SourceInventory,
		Status:        saga.StatusSuccess,
		History:       []saga.History{{Source: saga.SourceInventory, Status: saga.StatusSuccess, Message: "Inventory updated successfully!"}},
	}
	require.NoError(t, svc.NotifyEnding(ctx, event))

	latest, err := svc.FindByFilter(ctx, saga.EventFilter{TransactionID: "1700000000000_tx"})
	require.NoError(t, err)
	assert.Equal(t, saga.StatusSuccess, latest.Status)
	assert.Len(t, latest.History, 1)

	all, err := store.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestFindByFilter_RequiresIdentifier(t *testing.T) {
	svc, _ := newTestService(&capturePublisher{})

	_, err := svc.FindByFilter(context.Background(), saga.EventFilter{})
	assert.True(t, core.HasCode(err, core.ErrValidation))
}

func TestRoute_NotifyEnding(t *testing.T) {
	svc, _ := newTestService(&capturePublisher{})
	d := saga.NewDispatcher(nil, 1)

	require.NoError(t, Route(d, svc))
	assert.Equal(t, []string{"notify-ending"}, d.Channels())
}
