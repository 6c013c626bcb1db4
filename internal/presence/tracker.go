// Package presence tracks worker liveness from heartbeats.
//
// The server records a heartbeat each time a worker calls
// POST /v1/workers/{id}/heartbeat. A background reaper marks workers dead
// once they have been silent longer than a threshold; the OnDead callback
// is where the server flips the persisted worker to unreachable.
package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Entry is a snapshot of one worker's liveness.
type Entry struct {
	WorkerID  string    `json:"worker_id"`
	Hostname  string    `json:"hostname,omitempty"`
	IP        string    `json:"ip,omitempty"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	IdleSecs  float64   `json:"idle_secs"`
	Beats     int64     `json:"beats"`
	Reaped    bool      `json:"reaped,omitempty"`
	ReapedAt  time.Time `json:"reaped_at,omitempty"`
}

// Heartbeat is what a worker reports on each beat.
type Heartbeat struct {
	WorkerID string
	Hostname string
	IP       string
}

// ReaperConfig configures the background dead-worker reaper.
type ReaperConfig struct {
	// DeadThreshold is how long a worker may stay silent before it is
	// marked dead. Default: 2 minutes.
	DeadThreshold time.Duration

	// EvictAfter is how long a dead worker stays in the roster before it is
	// dropped from memory. Default: 30 minutes.
	EvictAfter time.Duration

	// SweepInterval is how often the reaper scans. Default: 15 seconds.
	SweepInterval time.Duration

	// OnDead is called for each worker newly marked dead, outside the lock.
	OnDead func(workerID string)

	Logger *slog.Logger
}

// Tracker maintains an in-memory roster of workers that have sent heartbeats.
type Tracker struct {
	mu      sync.RWMutex
	workers map[string]*workerState
	now     func() time.Time

	reaperStop chan struct{}
	reaperDone chan struct{}
}

type workerState struct {
	firstSeen time.Time
	lastSeen  time.Time
	hostname  string
	ip        string
	beats     int64
	reaped    bool
	reapedAt  time.Time
}

// New creates a new presence tracker.
func New() *Tracker {
	return &Tracker{
		workers: make(map[string]*workerState),
		now:     time.Now,
	}
}

// RecordHeartbeat updates a worker's liveness. It reports whether the worker
// had previously been reaped and is now back.
func (t *Tracker) RecordHeartbeat(hb Heartbeat) (resurrected bool) {
	if hb.WorkerID == "" {
		return false
	}

	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.workers[hb.WorkerID]
	if !ok {
		state = &workerState{firstSeen: now}
		t.workers[hb.WorkerID] = state
	}

	if state.reaped {
		resurrected = true
		state.reaped = false
		state.reapedAt = time.Time{}
	}

	state.lastSeen = now
	state.beats++
	if hb.Hostname != "" {
		state.hostname = hb.Hostname
	}
	if hb.IP != "" {
		state.ip = hb.IP
	}
	return resurrected
}

// Forget drops a worker from the roster, e.g. after it is deleted.
func (t *Tracker) Forget(workerID string) {
	t.mu.Lock()
	delete(t.workers, workerID)
	t.mu.Unlock()
}

// Reaped reports whether workerID is tracked and currently marked dead.
// A heartbeat recorded after the sweep clears it.
func (t *Tracker) Reaped(workerID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, ok := t.workers[workerID]
	return ok && state.reaped
}

// Roster returns all tracked workers, most recently seen first.
// Workers idle longer than staleThreshold are excluded; 0 includes all.
func (t *Tracker) Roster(staleThreshold time.Duration) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	entries := make([]Entry, 0, len(t.workers))
	for id, state := range t.workers {
		idle := now.Sub(state.lastSeen)
		if staleThreshold > 0 && idle > staleThreshold {
			continue
		}
		entries = append(entries, Entry{
			WorkerID:  id,
			Hostname:  state.hostname,
			IP:        state.ip,
			FirstSeen: state.firstSeen,
			LastSeen:  state.lastSeen,
			IdleSecs:  idle.Seconds(),
			Beats:     state.beats,
			Reaped:    state.reaped,
			ReapedAt:  state.reapedAt,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastSeen.After(entries[j].LastSeen)
	})
	return entries
}

// StartReaper launches a background goroutine that periodically marks idle
// workers as dead. Call Stop() to shut it down.
func (t *Tracker) StartReaper(cfg *ReaperConfig) {
	if cfg == nil {
		cfg = &ReaperConfig{}
	}
	if cfg.DeadThreshold == 0 {
		cfg.DeadThreshold = 2 * time.Minute
	}
	if cfg.EvictAfter == 0 {
		cfg.EvictAfter = 30 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	t.reaperStop = make(chan struct{})
	t.reaperDone = make(chan struct{})

	go t.reapLoop(cfg)
	cfg.Logger.Info("presence: reaper started",
		"dead_threshold", cfg.DeadThreshold,
		"sweep_interval", cfg.SweepInterval)
}

// Stop shuts down the reaper goroutine.
func (t *Tracker) Stop() {
	if t.reaperStop != nil {
		close(t.reaperStop)
		<-t.reaperDone
		t.reaperStop = nil
		t.reaperDone = nil
	}
}

func (t *Tracker) reapLoop(cfg *ReaperConfig) {
	defer close(t.reaperDone)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.reaperStop:
			return
		case <-ticker.C:
			t.sweep(cfg)
		}
	}
}

func (t *Tracker) sweep(cfg *ReaperConfig) {
	now := t.now()
	var newlyDead []string

	t.mu.Lock()
	for id, state := range t.workers {
		if state.reaped {
			if now.Sub(state.reapedAt) > cfg.EvictAfter {
				delete(t.workers, id)
			}
			continue
		}
		if now.Sub(state.lastSeen) > cfg.DeadThreshold {
			state.reaped = true
			state.reapedAt = now
			newlyDead = append(newlyDead, id)
		}
	}
	t.mu.Unlock()

	sort.Strings(newlyDead)
	for _, id := range newlyDead {
		cfg.Logger.Info("presence: worker missed heartbeats",
			"worker_id", id,
			"threshold", cfg.DeadThreshold)
		if cfg.OnDead != nil {
			cfg.OnDead(id)
		}
	}
}
