package productvalidation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/orchestrated-saga/framework/adapters/repository"
	"github.com/akriventsev/orchestrated-saga/framework/saga"
)

func orderEvent(codes ...string) saga.Event {
	event := saga.Event{
		ID:            "evt-1",
		OrderID:       "order-1",
		TransactionID: "1700000000000_tx",
		Source:        saga.SourceOrchestrator,
		Status:        saga.StatusPending,
	}
	for _, code := range codes {
		event.Payload.Products = append(event.Payload.Products, saga.OrderProduct{
			Product:  saga.Product{Code: code, UnitValue: 10},
			Quantity: 1,
		})
	}
	return event
}

func newHandler() *saga.ParticipantHandler {
	catalog := NewInMemoryCatalog("COMIC_BOOKS", "BOOKS")
	return saga.NewParticipantHandler(Config(), NewLogic(catalog), repository.NewInMemoryRecordStore())
}

func TestExecute_KnownProducts(t *testing.T) {
	out := newHandler().Execute(context.Background(), orderEvent("COMIC_BOOKS", "BOOKS"))

	assert.Equal(t, saga.StatusSuccess, out.Status)
	assert.Equal(t, saga.SourceProductValidation, out.Source)
	last, ok := out.LastHistory()
	require.True(t, ok)
	assert.Equal(t, "Products are validated successfully!", last.Message)
}

func TestExecute_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		event   saga.Event
		message string
	}{
		{"empty order", orderEvent(), "Fail to execute product-validation: Product list is empty!"},
		{"blank code", orderEvent(""), "Fail to execute product-validation: Product must be informed!"},
		{"unknown code", orderEvent("COMIC_BOOKS", "VINYL"), "Fail to execute product-validation: Product does not exists in database!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := newHandler().Execute(context.Background(), tt.event)

			assert.Equal(t, saga.StatusRollbackPending, out.Status)
			last, ok := out.LastHistory()
			require.True(t, ok)
			assert.Equal(t, tt.message, last.Message)
		})
	}
}

func TestCompensate_AfterSuccess(t *testing.T) {
	h := newHandler()
	ctx := context.Background()
	event := orderEvent("BOOKS")

	require.Equal(t, saga.StatusSuccess, h.Execute(ctx, event).Status)

	out := h.Compensate(ctx, event)
	assert.Equal(t, saga.StatusFail, out.Status)
	last, _ := out.LastHistory()
	assert.Equal(t, "Rollback executed on product validation!", last.Message)

	record, found, err := h.Guard().Lookup(ctx, event.OrderID, event.TransactionID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, saga.RecordReverted, record.Status)
}
