package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Relay republishes envelopes mirrored by other replicas into the local bus,
// so watchers on this replica observe changes committed elsewhere.
type Relay struct {
	bus    *Bus
	sub    RemoteSubscriber
	origin string
	logger *slog.Logger
}

// NewRelay returns a relay feeding bus. Envelopes carrying origin (this
// process's Dispatcher) are skipped.
func NewRelay(bus *Bus, sub RemoteSubscriber, origin string, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{bus: bus, sub: sub, origin: origin, logger: logger}
}

// Run consumes mirrored events until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ch, cancel, err := r.sub.Subscribe(SubjectPrefix + ".>")
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	defer cancel()

	r.logger.Info("event relay started", "origin", r.origin)
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(data)
		}
	}
}

func (r *Relay) handle(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.logger.Warn("relay: dropping malformed envelope", "err", err)
		return
	}
	if env.Origin == r.origin {
		return
	}
	ev, err := env.Event()
	if err != nil {
		r.logger.Warn("relay: dropping undecodable event", "topic", env.Topic, "err", err)
		return
	}
	r.bus.Publish(env.Topic, ev)
}
