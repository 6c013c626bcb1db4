package model

import "time"

// WorkerState is the reachability of a worker node.
type WorkerState string

const (
	WorkerReady       WorkerState = "ready"
	WorkerNotReady    WorkerState = "not_ready"
	WorkerUnreachable WorkerState = "unreachable"
)

// IsValid checks whether the state is a known value.
func (s WorkerState) IsValid() bool {
	switch s {
	case WorkerReady, WorkerNotReady, WorkerUnreachable:
		return true
	}
	return false
}

// Worker is a node that runs container commands.
type Worker struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	ClusterID   string            `json:"cluster_id,omitempty"`
	Hostname    string            `json:"hostname,omitempty"`
	IP          string            `json:"ip,omitempty"`
	State       WorkerState       `json:"state"`
	Labels      map[string]string `json:"labels,omitempty"`
	Lifecycle   Lifecycle         `json:"lifecycle"`
	HeartbeatAt *time.Time        `json:"heartbeat_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	DeletedAt   *time.Time        `json:"deleted_at,omitempty"`
}

var _ SoftDeletable = (*Worker)(nil)

func (w *Worker) Kind() Kind              { return KindWorker }
func (w *Worker) PrimaryKey() string      { return w.ID }
func (w *Worker) SetPrimaryKey(id string) { w.ID = id }

func (w *Worker) Touch(now time.Time) {
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	if w.Lifecycle == "" {
		w.Lifecycle = LifecycleActive
	}
	if w.State == "" {
		w.State = WorkerNotReady
	}
	w.UpdatedAt = now
}

func (w *Worker) Field(name string) (string, bool) {
	switch name {
	case "id":
		return w.ID, true
	case "name":
		return w.Name, true
	case "cluster_id":
		return w.ClusterID, w.ClusterID != ""
	case "hostname":
		return w.Hostname, true
	case "ip":
		return w.IP, true
	case "state":
		return string(w.State), true
	case "lifecycle":
		return string(w.Lifecycle), true
	case "created_at":
		return formatTime(w.CreatedAt), true
	case "updated_at":
		return formatTime(w.UpdatedAt), true
	}
	return "", false
}

func (w *Worker) Clone() Record {
	cp := *w
	cp.Labels = cloneStrings(w.Labels)
	cp.HeartbeatAt = cloneTime(w.HeartbeatAt)
	cp.DeletedAt = cloneTime(w.DeletedAt)
	return &cp
}

func (w *Worker) MarkDeleting(at time.Time) {
	w.Lifecycle = LifecycleDeleting
	w.DeletedAt = &at
}

func (w *Worker) IsDeleting() bool {
	return w.Lifecycle == LifecycleDeleting || w.DeletedAt != nil
}

func (w *Worker) Validate() error {
	var ve ValidationError
	requireName(&ve, w.Name)
	if w.State != "" && !w.State.IsValid() {
		ve.add("state", "invalid value %q", w.State)
	}
	validateLifecycle(&ve, w.Lifecycle)
	return ve.orNil()
}
