// Package watch implements per-client watch sessions: a snapshot of the
// matching records followed by live change events, interleaved with
// heartbeats while the collection is quiet.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alfredjeanlab/gpuctl/internal/events"
	"github.com/alfredjeanlab/gpuctl/internal/model"
	"github.com/alfredjeanlab/gpuctl/internal/store"
)

// DefaultHeartbeat is the heartbeat interval when a Request leaves it unset.
const DefaultHeartbeat = 15 * time.Second

var (
	// ErrClosed is returned by Next after Close.
	ErrClosed = errors.New("watch session closed")
	// ErrUnknownKind is returned by NewSession for unregistered kinds.
	ErrUnknownKind = errors.New("unknown record kind")
)

// Request describes what a client wants to watch.
type Request struct {
	Kind        model.Kind
	Fields      map[string]string // exact, ANDed
	FuzzyFields map[string]string // case-insensitive substring, ORed
	Filter      string            // optional CEL predicate
	Heartbeat   time.Duration     // 0 = DefaultHeartbeat
}

// Session is one client's watch over a collection. It is not safe for
// concurrent use by multiple readers; Close may be called from any goroutine.
type Session struct {
	id      string
	req     Request
	topic   string
	filter  *Filter
	store   store.Store
	bus     *events.Bus
	started time.Time

	pending  []model.Record
	loaded   bool
	lastEmit time.Time

	mu  sync.Mutex // guards sub against a concurrent Close
	sub *events.Subscriber

	sent atomic.Int64

	closeOnce sync.Once
	closed    atomic.Bool
	onClose   func(*Session)
}

// NewSession validates req and returns a session that has not yet touched
// the store or the bus. The first call to Next takes the snapshot.
func NewSession(st store.Store, bus *events.Bus, req Request) (*Session, error) {
	if st == nil {
		return nil, errors.New("watch: nil store")
	}
	if bus == nil {
		return nil, errors.New("watch: nil bus")
	}
	if _, ok := model.Lookup(req.Kind); !ok {
		return nil, fmt.Errorf("watch: %w %q", ErrUnknownKind, req.Kind)
	}
	pred, err := CompilePredicate(req.Filter)
	if err != nil {
		return nil, err
	}
	if req.Heartbeat <= 0 {
		req.Heartbeat = DefaultHeartbeat
	}
	return &Session{
		id:    uuid.NewString(),
		req:   req,
		topic: events.Topic(req.Kind),
		filter: &Filter{
			Fields:      req.Fields,
			FuzzyFields: req.FuzzyFields,
			Predicate:   pred,
		},
		store:   st,
		bus:     bus,
		started: time.Now().UTC(),
	}, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Request returns the normalized request.
func (s *Session) Request() Request { return s.req }

// Next returns the next event to send: first one synthetic Created per
// snapshot record, then live events that pass the filter, with a Heartbeat
// whenever nothing was emitted for a full heartbeat interval.
//
// Records changed between the snapshot read and the subscription may be
// missed or delivered twice.
func (s *Session) Next(ctx context.Context) (events.Event, error) {
	if s.closed.Load() {
		return events.Event{}, ErrClosed
	}
	if !s.loaded {
		if err := s.loadSnapshot(ctx); err != nil {
			return events.Event{}, err
		}
	}

	if len(s.pending) > 0 {
		rec := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]
		return s.emit(events.Event{Type: events.Created, Data: rec}), nil
	}

	for {
		wait := s.req.Heartbeat - time.Since(s.lastEmit)
		if wait <= 0 {
			return s.emit(events.Event{Type: events.Heartbeat}), nil
		}

		waitCtx, cancel := context.WithTimeout(ctx, wait)
		ev, err := s.sub.Receive(waitCtx)
		cancel()

		switch {
		case err == nil:
			if ev.Type == events.Heartbeat || s.filter.Match(ev.Data) {
				return s.emit(ev), nil
			}
		case ctx.Err() != nil:
			return events.Event{}, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			// Interval elapsed; the next iteration emits the heartbeat.
		case errors.Is(err, events.ErrUnsubscribed):
			return events.Event{}, ErrClosed
		default:
			return events.Event{}, err
		}
	}
}

func (s *Session) loadSnapshot(ctx context.Context) error {
	recs, _, err := s.store.List(ctx, s.req.Kind, model.ListFilter{
		Fields:      s.req.Fields,
		FuzzyFields: s.req.FuzzyFields,
	})
	if err != nil {
		return fmt.Errorf("watch snapshot %s: %w", s.req.Kind, err)
	}
	// Snapshot rows go through the same Filter as live events.
	for _, rec := range recs {
		if s.filter.Match(rec) {
			s.pending = append(s.pending, rec)
		}
	}
	s.loaded = true

	sub := s.bus.Subscribe(s.topic)
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		s.bus.Unsubscribe(s.topic, sub)
		return ErrClosed
	}
	s.sub = sub
	s.mu.Unlock()
	s.lastEmit = time.Now()
	return nil
}

func (s *Session) emit(ev events.Event) events.Event {
	s.lastEmit = time.Now()
	s.sent.Add(1)
	return ev
}

// Close unsubscribes the session. It is idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		sub := s.sub
		s.mu.Unlock()
		if sub != nil {
			s.bus.Unsubscribe(s.topic, sub)
		}
		if s.onClose != nil {
			s.onClose(s)
		}
	})
}

// FrameWriter receives encoded frames. Implementations flush each frame to
// the client before returning.
type FrameWriter interface {
	WriteFrame(frame []byte) error
}

// Stream runs the session until ctx is cancelled or a write fails, writing
// one frame per event. The session is always closed on return. Cancellation
// is not an error.
func (s *Session) Stream(ctx context.Context, w FrameWriter) error {
	defer s.Close()
	for {
		ev, err := s.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
		frame, err := Encode(ev)
		if err != nil {
			return err
		}
		if err := w.WriteFrame(frame); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
	}
}
