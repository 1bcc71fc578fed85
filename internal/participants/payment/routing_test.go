package payment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/orchestrated-saga/framework/saga"
	sagatest "github.com/akriventsev/orchestrated-saga/framework/testing"
)

func TestRouted_ExecuteThenRefund(t *testing.T) {
	env := sagatest.NewInMemoryTestEnvironment(t)
	store := NewInMemoryStore()
	handler := saga.NewParticipantHandler(Config(), NewLogic(store), env.Records)

	step, err := env.Topology.StepOf(saga.SourcePayment)
	require.NoError(t, err)
	require.NoError(t, saga.RouteParticipant(env.Dispatcher, step, handler, env.Publisher))
	env.Capture(step.ResponseChannel)
	env.Start()

	env.Publish(step.ForwardChannel, orderEvent(item("MOVIES", 20, 2)))

	replies := env.Captured(step.ResponseChannel)
	require.Len(t, replies, 1)
	assert.Equal(t, saga.StatusSuccess, replies[0].Status)
	assert.Equal(t, saga.SourcePayment, replies[0].Source)
	assert.Equal(t, 40.0, replies[0].Payload.TotalAmount)

	rollback := replies[0]
	rollback.Status = saga.StatusFail
	env.Publish(step.RollbackChannel, rollback)

	replies = env.Captured(step.ResponseChannel)
	require.Len(t, replies, 2)
	assert.Equal(t, saga.StatusFail, replies[1].Status)
	last, _ := replies[1].LastHistory()
	assert.Equal(t, "Rollback / Refund realized for payment!", last.Message)

	payment, found, err := store.Get(context.Background(), "order-1", "1700000000000_tx")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StatusRefund, payment.Status)
}
