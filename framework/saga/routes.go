package saga

import (
	"context"
)

// RouteOrchestrator регистрирует каналы оркестратора в диспетчере
func RouteOrchestrator(d *Dispatcher, o *Orchestrator, ch Channels) error {
	routes := map[string]EventHandler{
		ch.StartSaga: func(ctx context.Context, event Event) error {
			_, err := o.Start(ctx, event)
			return err
		},
		ch.Orchestrator: func(ctx context.Context, event Event) error {
			_, err := o.Handle(ctx, event)
			return err
		},
		o.Topology().FinishSuccessChannel(): o.Finish,
		o.Topology().FinishFailChannel():    o.Finish,
	}
	for channel, handler := range routes {
		if err := d.Route(channel, handler); err != nil {
			return err
		}
	}
	return nil
}

// RouteParticipant регистрирует прямой канал и канал отката шага.
// Ответ публикуется в канал ответа шага.
func RouteParticipant(d *Dispatcher, step Step, h *ParticipantHandler, publisher Publisher) error {
	if err := d.Route(step.ForwardChannel, func(ctx context.Context, event Event) error {
		return publisher.Publish(ctx, step.ResponseChannel, h.Execute(ctx, event))
	}); err != nil {
		return err
	}
	return d.Route(step.RollbackChannel, func(ctx context.Context, event Event) error {
		return publisher.Publish(ctx, step.ResponseChannel, h.Compensate(ctx, event))
	})
}
