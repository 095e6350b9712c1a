package workers

import (
	"chat-sync/contract"
	"chat-sync/domain/event"
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventFanout subscribes to every topic of the bus and hands each event
// to in-process sinks (audit log, metrics).
//
// It provides best-effort fan-out with no guarantees regarding delivery,
// durability, or retries. Order is kept within a topic only.
// It is intended for side effects, never for client delivery.
type EventFanout struct {
	log         *slog.Logger
	bus         contract.EventBus
	sinks       []contract.EventSink
	sinkTimeout time.Duration
}

func NewEventFanout(log *slog.Logger, bus contract.EventBus, sinkTimeout time.Duration, sinks ...contract.EventSink) *EventFanout {
	return &EventFanout{log: log, bus: bus, sinks: sinks, sinkTimeout: sinkTimeout}
}

func (w *EventFanout) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, topic := range event.Topics() {
		subscription := w.bus.Subscribe(topic)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer subscription.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case evt, ok := <-subscription.Events():
					if !ok {
						return
					}
					w.Fanout(ctx, evt)
				}
			}
		}()
	}
	wg.Wait()
	w.log.Debug("Context done, event fanout stopped")
	return nil
}

// Fanout One sink for each event. A failing or slow sink is logged and skipped.
func (w *EventFanout) Fanout(ctx context.Context, evt event.DomainEvent) {
	for _, sink := range w.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, w.sinkTimeout)
		if err := sink.Consume(sinkCtx, evt); err != nil {
			w.log.Warn("Sink failed", "topic", evt.Topic(), "error", err)
		}
		cancel()
	}
}
