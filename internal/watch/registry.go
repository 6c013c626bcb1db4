package watch

import (
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/gpuctl/internal/events"
	"github.com/alfredjeanlab/gpuctl/internal/store"
)

// Info describes an active session for introspection.
type Info struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	Filter  string    `json:"filter,omitempty"`
	Started time.Time `json:"started"`
	Sent    int64     `json:"sent"`
}

// Registry opens sessions against one store and bus and tracks the ones
// still running.
type Registry struct {
	store     store.Store
	bus       *events.Bus
	heartbeat time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns a registry whose sessions default to heartbeat when a
// request leaves the interval unset.
func NewRegistry(st store.Store, bus *events.Bus, heartbeat time.Duration) *Registry {
	return &Registry{
		store:     st,
		bus:       bus,
		heartbeat: heartbeat,
		sessions:  make(map[string]*Session),
	}
}

// Open creates a tracked session. Closing it removes it from the registry.
func (r *Registry) Open(req Request) (*Session, error) {
	if req.Heartbeat <= 0 {
		req.Heartbeat = r.heartbeat
	}
	s, err := NewSession(r.store, r.bus, req)
	if err != nil {
		return nil, err
	}
	s.onClose = r.remove

	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()
	return s, nil
}

func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	delete(r.sessions, s.id)
	r.mu.Unlock()
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// List returns the active sessions, oldest first.
func (r *Registry) List() []Info {
	r.mu.Lock()
	infos := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, Info{
			ID:      s.id,
			Kind:    string(s.req.Kind),
			Filter:  s.req.Filter,
			Started: s.started,
			Sent:    s.sent.Load(),
		})
	}
	r.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Started.Equal(infos[j].Started) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].Started.Before(infos[j].Started)
	})
	return infos
}

// CloseAll closes every active session, e.g. on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
