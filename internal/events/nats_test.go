package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/gpuctl/internal/model"
)

// startTestNATS starts an embedded NATS server and returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func TestNoopPublisher(t *testing.T) {
	var pub Publisher = &NoopPublisher{}
	if err := pub.Publish(context.Background(), "gpuctl.cluster.created", nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestInterfaces(t *testing.T) {
	var _ Publisher = (*NATSPublisher)(nil)
	var _ RemoteSubscriber = (*NATSSubscriber)(nil)
}

func TestDispatcher_MirrorsToNATS(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connecting subscriber: %v", err)
	}
	defer nc.Close()

	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("gpuctl.cluster.created", ch)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer sub.Unsubscribe() //nolint:errcheck
	nc.Flush()

	bus := NewBus(nil)
	local := bus.Subscribe("cluster")
	d := NewDispatcher(bus, pub, nil)
	d.Dispatch(context.Background(), "cluster", Event{Type: Created, Data: &model.Cluster{ID: "cl-1", Name: "prod"}})
	pub.Flush()

	if local.Len() != 1 {
		t.Errorf("local subscriber queue = %d, want 1", local.Len())
	}

	select {
	case msg := <-ch:
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if env.Origin != d.Origin() || env.Type != Created || env.Topic != "cluster" {
			t.Errorf("unexpected envelope: %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for mirrored event")
	}
}

func TestNATSSubscriber_CancelIsIdempotent(t *testing.T) {
	url := startTestNATS(t)
	sub, err := NewNATSSubscriber(url)
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe("gpuctl.>")
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after cancel")
	}
}

func TestRelay_RepublishesForeignEvents(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()
	remote, err := NewNATSSubscriber(url)
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	defer remote.Close()

	// Two replicas: "a" dispatches, "b" relays into its own bus.
	busA := NewBus(nil)
	dispA := NewDispatcher(busA, pub, nil)
	busB := NewBus(nil)
	watcher := busB.Subscribe("worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	relay := NewRelay(busB, remote, "replica-b", nil)
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	// Give the relay time to register its subscription.
	deadline := time.Now().Add(2 * time.Second)
	for {
		dispA.Dispatch(ctx, "worker", Event{Type: Updated, Data: &model.Worker{ID: "wk-1", Name: "gpu-node"}})
		pub.Flush()
		rctx, rcancel := context.WithTimeout(ctx, 100*time.Millisecond)
		ev, err := watcher.Receive(rctx)
		rcancel()
		if err == nil {
			if ev.Type != Updated || ev.Data.PrimaryKey() != "wk-1" {
				t.Fatalf("unexpected relayed event: %+v", ev)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for relayed event")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("relay.Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRelay_SkipsOwnOrigin(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe("cluster")
	r := NewRelay(bus, nil, "me", nil)

	env, _ := NewEnvelope("me", "cluster", Event{Type: Created, Data: &model.Cluster{ID: "cl-1"}})
	data, _ := json.Marshal(env)
	r.handle(data)
	if sub.Len() != 0 {
		t.Error("relay republished its own event")
	}

	env.Origin = "other"
	data, _ = json.Marshal(env)
	r.handle(data)
	r.handle([]byte("not json"))
	if sub.Len() != 1 {
		t.Errorf("queue = %d, want 1", sub.Len())
	}
}
