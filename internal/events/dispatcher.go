package events

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Dispatcher fans a change out to the local bus and mirrors it to an
// external broker. Mirror failures are logged; the local publish always
// happens first and cannot fail.
type Dispatcher struct {
	bus       *Bus
	publisher Publisher
	origin    string
	logger    *slog.Logger
}

// NewDispatcher returns a dispatcher publishing to bus and, when publisher is
// non-nil, mirroring to it. Each dispatcher gets a random origin ID so a
// Relay in the same process can ignore its own echoes.
func NewDispatcher(bus *Bus, publisher Publisher, logger *slog.Logger) *Dispatcher {
	if publisher == nil {
		publisher = &NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		bus:       bus,
		publisher: publisher,
		origin:    uuid.NewString(),
		logger:    logger,
	}
}

// Origin identifies this process in mirrored envelopes.
func (d *Dispatcher) Origin() string { return d.origin }

// Bus returns the local bus.
func (d *Dispatcher) Bus() *Bus { return d.bus }

// Dispatch publishes ev on topic.
func (d *Dispatcher) Dispatch(ctx context.Context, topic string, ev Event) {
	d.bus.Publish(topic, ev)

	if _, noop := d.publisher.(*NoopPublisher); noop {
		return
	}
	env, err := NewEnvelope(d.origin, topic, ev)
	if err != nil {
		d.logger.Warn("failed to encode event for mirroring", "topic", topic, "err", err)
		return
	}
	if err := d.publisher.Publish(ctx, Subject(topic, ev.Type), env); err != nil {
		d.logger.Warn("failed to mirror event", "topic", topic, "type", ev.Type.String(), "err", err)
	}
}
