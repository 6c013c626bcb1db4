package model

import (
	"time"
)

// Kind names a record type. It doubles as the bus topic for that type.
type Kind string

const (
	KindCluster   Kind = "cluster"
	KindWorker    Kind = "worker"
	KindDockerCmd Kind = "dockercmd"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// IsValid reports whether the kind is registered.
func (k Kind) IsValid() bool {
	_, ok := registry[k]
	return ok
}

// Lifecycle is the coarse persistence state of a soft-deletable record.
type Lifecycle string

const (
	LifecycleActive Lifecycle = "active"
	// LifecycleDeleting marks a record whose children are being removed.
	// Such records are hidden from live listings until the hard delete.
	LifecycleDeleting Lifecycle = "deleting"
)

// Record is any persisted entity managed by the store.
type Record interface {
	Kind() Kind
	PrimaryKey() string
	SetPrimaryKey(id string)

	// Touch stamps UpdatedAt (and CreatedAt when unset).
	Touch(now time.Time)

	// Field returns the string form of a named attribute. ok is false when
	// the record has no such attribute or the attribute is unset.
	Field(name string) (value string, ok bool)

	// Clone returns a deep copy that shares no mutable state with the receiver.
	Clone() Record

	Validate() error
}

// SoftDeletable records pass through LifecycleDeleting before removal.
type SoftDeletable interface {
	Record
	MarkDeleting(at time.Time)
	IsDeleting() bool
}

// Publisher is implemented by records that expose a reduced public view.
// Outward-facing responses and watch frames use Public() when available.
type Publisher interface {
	Public() any
}

// PublicView returns rec's public projection, or rec itself.
func PublicView(rec Record) any {
	if p, ok := rec.(Publisher); ok {
		return p.Public()
	}
	return rec
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
