package workers

import (
	"chat-sync/domain/event"
	"chat-sync/runtime"
	"context"
	"log/slog"
	"time"
)

// BusStats is the read side of the event bus counters.
type BusStats interface {
	Stats() map[event.Topic]runtime.TopicStats
}

// StoreStats counts stored records per entity.
type StoreStats interface {
	Stats(ctx context.Context) (map[string]int, error)
}

// StatsReporter logs bus and store counters at a fixed interval.
type StatsReporter struct {
	log      *slog.Logger
	bus      BusStats
	store    StoreStats
	interval time.Duration
}

func NewStatsReporter(log *slog.Logger, bus BusStats, store StoreStats, interval time.Duration) *StatsReporter {
	return &StatsReporter{log: log, bus: bus, store: store, interval: interval}
}

// Run reports until ctx is canceled, once more on the way out.
func (w *StatsReporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.report(context.Background())
			return nil
		case <-ticker.C:
			w.report(ctx)
		}
	}
}

func (w *StatsReporter) report(ctx context.Context) {
	attrs := []any{}
	for topic, stats := range w.bus.Stats() {
		attrs = append(attrs, slog.Group(string(topic),
			"subscribers", stats.Subscribers,
			"published", stats.Published))
	}
	if w.store != nil {
		ctx, cancel := context.WithTimeout(ctx, w.interval)
		defer cancel()
		counts, err := w.store.Stats(ctx)
		if err != nil {
			w.log.Warn("Unable to count stored records", "error", err)
		}
		for entity, n := range counts {
			attrs = append(attrs, slog.Int("records."+entity, n))
		}
	}
	w.log.Info("Stats", attrs...)
}
