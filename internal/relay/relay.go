// Package relay is the single consumer of the session event stream. It
// hands every event to a fixed set of sinks in order.
package relay

import (
	"context"
	"log/slog"

	"github.com/loqalabs/loqa-fillers/internal/session"
)

// Sink receives session events. Handle is only ever called from the relay
// goroutine.
type Sink interface {
	Name() string
	Handle(ctx context.Context, evt session.Event) error
}

type Relay struct {
	sinks  []Sink
	logger *slog.Logger
}

func New(logger *slog.Logger, sinks ...Sink) *Relay {
	return &Relay{
		sinks:  sinks,
		logger: logger.With(slog.String("component", "relay")),
	}
}

// Run drains events until the channel is closed. Sink failures are logged
// and do not stop delivery to the remaining sinks. Cancelling ctx only
// affects in-progress sink calls.
func (r *Relay) Run(ctx context.Context, events <-chan session.Event) {
	for evt := range events {
		for _, sink := range r.sinks {
			if err := sink.Handle(ctx, evt); err != nil {
				r.logger.Warn("sink failed",
					slog.String("sink", sink.Name()),
					slog.String("event", string(evt.Kind)),
					slog.String("error", err.Error()))
			}
		}
	}
}
