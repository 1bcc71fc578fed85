package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/orchestrated-saga/framework/core"
	"github.com/akriventsev/orchestrated-saga/framework/transport"
)

func encodedMessage(t *testing.T, event Event) *transport.Message {
	t.Helper()
	data, err := Encode(event)
	require.NoError(t, err)
	return &transport.Message{Data: data, Headers: map[string]string{}}
}

func TestDispatcher_RoutesAndAcks(t *testing.T) {
	bus := newFlakyBus(0)
	d := NewDispatcher(bus, 2)

	var got []Event
	require.NoError(t, d.Route("orchestrator", func(ctx context.Context, event Event) error {
		got = append(got, event)
		return nil
	}))
	require.NoError(t, d.Route("broken", func(ctx context.Context, event Event) error {
		return core.NewError(core.ErrConfiguration, "unknown step")
	}))
	require.NoError(t, d.Route("flaky", func(ctx context.Context, event Event) error {
		return core.Wrap(errors.New("down"), core.ErrTransport, "publish failed")
	}))

	require.NoError(t, d.Start(context.Background()))
	assert.True(t, d.IsRunning())
	assert.Equal(t, []string{"broken", "flaky", "orchestrator"}, d.Channels())

	ctx := context.Background()
	event := sampleEvent()

	require.NoError(t, bus.handler("orchestrator")(ctx, encodedMessage(t, event)))
	require.Len(t, got, 1)
	assert.Equal(t, event.TransactionID, got[0].TransactionID)

	// битое сообщение подтверждается, обработчик не вызывается
	assert.NoError(t, bus.handler("orchestrator")(ctx, &transport.Message{Data: []byte("{")}))
	assert.Len(t, got, 1)

	assert.NoError(t, bus.handler("broken")(ctx, encodedMessage(t, event)))

	err := bus.handler("flaky")(ctx, encodedMessage(t, event))
	assert.True(t, core.HasCode(err, core.ErrTransport))

	require.NoError(t, d.Stop(ctx))
	assert.False(t, d.IsRunning())
	assert.Nil(t, bus.handler("orchestrator"))
}

func TestDispatcher_RouteValidation(t *testing.T) {
	d := NewDispatcher(newFlakyBus(0), 1)
	noop := func(ctx context.Context, event Event) error { return nil }

	require.NoError(t, d.Route("a", noop))
	assert.True(t, core.HasCode(d.Route("a", noop), core.ErrConfiguration))
	assert.True(t, core.HasCode(d.Route("", noop), core.ErrConfiguration))
	assert.True(t, core.HasCode(d.Route("b", nil), core.ErrConfiguration))

	require.NoError(t, d.Start(context.Background()))
	assert.True(t, core.HasCode(d.Route("c", noop), core.ErrConfiguration))
	require.NoError(t, d.Stop(context.Background()))
}

func TestRouteParticipant(t *testing.T) {
	bus := newFlakyBus(0)
	d := NewDispatcher(bus, 1)
	publisher := &recordingPublisher{}
	topology := mustTopology(t)

	step, err := topology.StepOf(SourceInventory)
	require.NoError(t, err)
	h := newTestParticipant(&stubLogic{}, newMemoryRecords())
	require.NoError(t, RouteParticipant(d, step, h, publisher))
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop(context.Background())

	ctx := context.Background()
	require.NoError(t, bus.handler("inventory-success")(ctx, encodedMessage(t, sampleEvent())))
	assert.Equal(t, "orchestrator", publisher.last().channel)
	assert.Equal(t, StatusSuccess, publisher.last().event.Status)

	require.NoError(t, bus.handler("inventory-fail")(ctx, encodedMessage(t, sampleEvent())))
	assert.Equal(t, StatusFail, publisher.last().event.Status)
	last, _ := publisher.last().event.LastHistory()
	assert.Equal(t, "Rollback executed for inventory!", last.Message)
}

func TestRouteOrchestrator(t *testing.T) {
	d := NewDispatcher(newFlakyBus(0), 1)
	o := newTestOrchestrator(t, &recordingPublisher{}, nil)

	require.NoError(t, RouteOrchestrator(d, o, DefaultChannels()))
	assert.Equal(t, []string{"finish-fail", "finish-success", "orchestrator", "start-saga"}, d.Channels())
}
