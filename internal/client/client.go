// Package client talks to the gpuctl server: an HTTP/JSON client for record
// CRUD and watches, and a gRPC client for the streaming watch service.
package client

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/alfredjeanlab/gpuctl/internal/events"
	"github.com/alfredjeanlab/gpuctl/internal/model"
	"github.com/alfredjeanlab/gpuctl/internal/presence"
)

// ErrStopWatch may be returned by a watch callback to end the watch
// without error.
var ErrStopWatch = errors.New("stop watch")

// Client is the interface CLI commands use to talk to the server.
type Client interface {
	Watcher

	Create(ctx context.Context, kind model.Kind, doc map[string]any) (model.Record, error)
	Get(ctx context.Context, kind model.Kind, id string) (model.Record, error)
	List(ctx context.Context, kind model.Kind, opts ListOptions) (*ListResult, error)
	Update(ctx context.Context, kind model.Kind, id string, patch map[string]any) (model.Record, error)
	Delete(ctx context.Context, kind model.Kind, id string) error

	Heartbeat(ctx context.Context, workerID string, req HeartbeatRequest) (*model.Worker, error)
	Presence(ctx context.Context) ([]presence.Entry, error)
	Stats(ctx context.Context) (*Stats, error)
	Watches(ctx context.Context) ([]WatchInfo, error)
	Health(ctx context.Context) (string, error)
	Export(ctx context.Context, w io.Writer) error

	Close() error
}

// Watcher streams changes to one collection. fn is called for every event,
// heartbeats included; returning ErrStopWatch ends the watch cleanly.
// Cancelling ctx also ends it without error.
type Watcher interface {
	Watch(ctx context.Context, kind model.Kind, opts WatchOptions, fn func(WatchEvent) error) error
}

// ListOptions narrows a listing.
type ListOptions struct {
	Fields  map[string]string // exact filters
	Search  string            // fuzzy filter over the kind's search fields
	Filter  string            // CEL predicate
	Sort    string
	Page    int
	PerPage int
}

// ListResult is one page of records.
type ListResult struct {
	Items      []model.Record
	Pagination model.Pagination
}

// WatchOptions narrows a watch.
type WatchOptions struct {
	Fields    map[string]string
	Search    string
	Filter    string
	Heartbeat time.Duration // 0 = server default
}

// WatchEvent is one decoded watch message. Data is nil for heartbeats.
type WatchEvent struct {
	Type events.EventType
	Data model.Record
}

// HeartbeatRequest is the optional body of a worker heartbeat.
type HeartbeatRequest struct {
	Hostname string `json:"hostname,omitempty"`
	IP       string `json:"ip,omitempty"`
}

// TopicStats is the subscriber count of one bus topic.
type TopicStats struct {
	Topic       string `json:"topic"`
	Subscribers int    `json:"subscribers"`
}

// Stats is the server's bus and watch summary.
type Stats struct {
	Topics  []TopicStats `json:"topics"`
	Watches int          `json:"watches"`
	Workers int          `json:"workers_tracked"`
}

// WatchInfo describes one active watch session on the server.
type WatchInfo struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	Filter  string    `json:"filter,omitempty"`
	Started time.Time `json:"started"`
	Sent    int64     `json:"sent"`
}

func pluralOf(kind model.Kind) (string, error) {
	info, ok := model.Lookup(kind)
	if !ok {
		return "", errors.New("unknown kind " + string(kind))
	}
	return info.Plural, nil
}
