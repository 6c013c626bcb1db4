package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredjeanlab/gpuctl/internal/model"
)

func receive(t *testing.T, sub *Subscriber) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := sub.Receive(ctx)
	require.NoError(t, err)
	return ev
}

func TestBus_PublishWithoutSubscribers(t *testing.T) {
	bus := NewBus(nil)
	bus.Publish("cluster", Event{Type: Created, Data: &model.Cluster{ID: "cl-1"}})
	assert.Empty(t, bus.Topics())
	assert.Equal(t, 0, bus.SubscriberCount("cluster"))
}

func TestBus_DeliversInPublishOrder(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe("cluster")

	bus.Publish("cluster", Event{Type: Created, Data: &model.Cluster{ID: "cl-1"}})
	bus.Publish("cluster", Event{Type: Updated, Data: &model.Cluster{ID: "cl-1", Name: "renamed"}})
	bus.Publish("cluster", Event{Type: Deleted, Data: &model.Cluster{ID: "cl-1"}})

	assert.Equal(t, Created, receive(t, sub).Type)
	assert.Equal(t, Updated, receive(t, sub).Type)
	assert.Equal(t, Deleted, receive(t, sub).Type)
	assert.Equal(t, 0, sub.Len())
}

func TestBus_OnlyEventsAfterSubscribe(t *testing.T) {
	bus := NewBus(nil)
	early := bus.Subscribe("worker")
	bus.Publish("worker", Event{Type: Created, Data: &model.Worker{ID: "wk-1"}})
	late := bus.Subscribe("worker")
	bus.Publish("worker", Event{Type: Updated, Data: &model.Worker{ID: "wk-1"}})

	assert.Equal(t, 2, early.Len())
	assert.Equal(t, 1, late.Len())
	assert.Equal(t, Updated, receive(t, late).Type)
}

func TestBus_TopicIsolation(t *testing.T) {
	bus := NewBus(nil)
	workers := bus.Subscribe("worker")
	bus.Publish("cluster", Event{Type: Created, Data: &model.Cluster{ID: "cl-1"}})
	assert.Equal(t, 0, workers.Len())
}

func TestBus_FanOutCopiesAreIndependent(t *testing.T) {
	bus := NewBus(nil)
	a := bus.Subscribe("worker")
	b := bus.Subscribe("worker")

	orig := &model.Worker{ID: "wk-1", Labels: map[string]string{"gpu": "a100"}}
	bus.Publish("worker", Event{Type: Created, Data: orig})

	evA := receive(t, a)
	evB := receive(t, b)
	evA.Data.(*model.Worker).Labels["gpu"] = "mutated"

	assert.Equal(t, "a100", evB.Data.(*model.Worker).Labels["gpu"])
	assert.Equal(t, "a100", orig.Labels["gpu"])
}

func TestBus_HeartbeatWithoutData(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe("cluster")
	bus.Publish("cluster", Event{Type: Heartbeat})
	ev := receive(t, sub)
	assert.Equal(t, Heartbeat, ev.Type)
	assert.Nil(t, ev.Data)
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe("cluster")
	other := bus.Subscribe("cluster")
	bus.Publish("cluster", Event{Type: Created, Data: &model.Cluster{ID: "cl-1"}})

	bus.Unsubscribe("cluster", sub)
	bus.Publish("cluster", Event{Type: Updated, Data: &model.Cluster{ID: "cl-1"}})

	_, err := sub.Receive(context.Background())
	assert.True(t, errors.Is(err, ErrUnsubscribed))
	assert.Equal(t, 2, other.Len())
	assert.Equal(t, 1, bus.SubscriberCount("cluster"))

	// Idempotent; the last removal prunes the topic.
	bus.Unsubscribe("cluster", sub)
	bus.Unsubscribe("cluster", other)
	assert.Empty(t, bus.Topics())
}

func TestSubscriber_ReceiveWakesOnPublish(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe("dockercmd")

	got := make(chan Event, 1)
	go func() {
		ev, err := sub.Receive(context.Background())
		if err == nil {
			got <- ev
		}
	}()

	time.Sleep(10 * time.Millisecond)
	bus.Publish("dockercmd", Event{Type: Created, Data: &model.DockerCmd{ID: "dc-1", Image: "alpine"}})

	select {
	case ev := <-got:
		assert.Equal(t, "dc-1", ev.Data.PrimaryKey())
	case <-time.After(time.Second):
		t.Fatal("Receive did not wake")
	}
}

func TestSubscriber_ReceiveWakesOnUnsubscribe(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe("cluster")

	errc := make(chan error, 1)
	go func() {
		_, err := sub.Receive(context.Background())
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	bus.Unsubscribe("cluster", sub)

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrUnsubscribed)
	case <-time.After(time.Second):
		t.Fatal("Receive did not wake on unsubscribe")
	}
}

func TestSubscriber_ReceiveHonorsContext(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe("cluster")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := sub.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProperty_SubscriberFIFO(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every subscriber sees every event in publish order", prop.ForAll(
		func(names []string, subscribers int) bool {
			bus := NewBus(nil)
			subs := make([]*Subscriber, subscribers)
			for i := range subs {
				subs[i] = bus.Subscribe("cluster")
			}
			for i, name := range names {
				bus.Publish("cluster", Event{Type: Created, Data: &model.Cluster{ID: name, Name: name, Description: string(rune('a' + i%26))}})
			}
			for _, sub := range subs {
				if sub.Len() != len(names) {
					return false
				}
				for _, name := range names {
					ev, err := sub.Receive(context.Background())
					if err != nil || ev.Data.PrimaryKey() != name {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}

func TestEventType_JSON(t *testing.T) {
	data, err := Created.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"CREATED"`, string(data))

	for _, tc := range []struct {
		in   string
		want EventType
	}{
		{`"UPDATED"`, Updated},
		{`"deleted"`, Deleted},
		{`5`, Heartbeat},
		{`"3"`, Deleted},
		{`99`, Unknown},
		{`"nope"`, Unknown},
	} {
		var got EventType
		require.NoError(t, got.UnmarshalJSON([]byte(tc.in)), tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestEnvelope_RoundTrip(t *testing.T) {
	ev := Event{Type: Updated, Data: &model.Worker{ID: "wk-1", Name: "node-a", State: model.WorkerReady}}
	env, err := NewEnvelope("origin-1", Topic(model.KindWorker), ev)
	require.NoError(t, err)
	assert.Equal(t, "worker", env.Topic)

	back, err := env.Event()
	require.NoError(t, err)
	assert.Equal(t, Updated, back.Type)
	w, ok := back.Data.(*model.Worker)
	require.True(t, ok)
	assert.Equal(t, "node-a", w.Name)
	assert.Equal(t, model.WorkerReady, w.State)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "gpuctl.dockercmd.deleted", Subject("dockercmd", Deleted))
}
