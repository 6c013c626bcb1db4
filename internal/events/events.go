// Package events carries record change notifications: the in-process topic
// bus that watch sessions subscribe to, and the NATS mirror that lets other
// replicas and external consumers observe the same changes.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/gpuctl/internal/model"
)

// SubjectPrefix is the NATS subject root for mirrored events.
const SubjectPrefix = "gpuctl"

// EventType is the kind of change an Event describes.
type EventType int

// The numeric values are part of the wire format.
const (
	Created   EventType = 1
	Updated   EventType = 2
	Deleted   EventType = 3
	Unknown   EventType = 4
	Heartbeat EventType = 5
)

var eventTypeNames = map[EventType]string{
	Created:   "CREATED",
	Updated:   "UPDATED",
	Deleted:   "DELETED",
	Unknown:   "UNKNOWN",
	Heartbeat: "HEARTBEAT",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseEventType accepts a type name ("CREATED", case-insensitive) or its
// numeric value. Anything else is Unknown.
func ParseEventType(s string) EventType {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if _, ok := eventTypeNames[EventType(n)]; ok {
			return EventType(n)
		}
		return Unknown
	}
	for t, name := range eventTypeNames {
		if strings.EqualFold(name, s) {
			return t
		}
	}
	return Unknown
}

func (t EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *EventType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = ParseEventType(s)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("event type: %w", err)
	}
	*t = ParseEventType(strconv.Itoa(n))
	return nil
}

// Event is a change notification. Data is nil for heartbeats.
// Events are treated as values: each subscriber receives its own copy.
type Event struct {
	Type EventType    `json:"type"`
	Data model.Record `json:"data"`
}

// Clone returns a deep copy of e.
func (e Event) Clone() Event {
	if e.Data == nil {
		return e
	}
	return Event{Type: e.Type, Data: e.Data.Clone()}
}

// Topic returns the bus topic for records of kind k.
func Topic(k model.Kind) string {
	return strings.ToLower(string(k))
}

// Subject returns the NATS subject for an event on topic.
func Subject(topic string, t EventType) string {
	return SubjectPrefix + "." + topic + "." + strings.ToLower(t.String())
}

// Envelope is the JSON document mirrored to NATS.
type Envelope struct {
	Origin string          `json:"origin"`
	Topic  string          `json:"topic"`
	Type   EventType       `json:"type"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope wraps ev for mirroring. origin identifies the publishing process.
func NewEnvelope(origin, topic string, ev Event) (*Envelope, error) {
	env := &Envelope{Origin: origin, Topic: topic, Type: ev.Type}
	if ev.Data != nil {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s payload: %w", topic, err)
		}
		env.Data = data
	}
	return env, nil
}

// Event decodes the envelope payload through the static kind registry.
func (e *Envelope) Event() (Event, error) {
	ev := Event{Type: e.Type}
	if len(e.Data) == 0 {
		return ev, nil
	}
	rec, err := model.Decode(model.Kind(e.Topic), e.Data)
	if err != nil {
		return Event{}, err
	}
	ev.Data = rec
	return ev, nil
}

// Publisher is the interface for emitting events to an external broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// RemoteSubscriber receives raw payloads from an external broker.
type RemoteSubscriber interface {
	// Subscribe delivers raw event payloads on the returned channel.
	// Call the returned cancel function to unsubscribe and close the channel.
	Subscribe(topic string) (<-chan []byte, func(), error)
	Close() error
}

// NoopPublisher is a Publisher that does nothing (used when NATS is not configured).
type NoopPublisher struct{}

func (n *NoopPublisher) Publish(ctx context.Context, topic string, event any) error {
	return nil
}

func (n *NoopPublisher) Close() error {
	return nil
}
