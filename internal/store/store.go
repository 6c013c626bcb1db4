// Package store defines the persistence interface for records.
package store

import (
	"context"
	"errors"

	"github.com/alfredjeanlab/gpuctl/internal/model"
)

var (
	// ErrNotFound is returned when no record has the requested key.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned on unique or foreign-key violations.
	ErrConflict = errors.New("record conflict")
)

// Store persists records of every registered kind.
type Store interface {
	// Create inserts rec. Its primary key and timestamps must already be set.
	Create(ctx context.Context, rec model.Record) error
	Get(ctx context.Context, kind model.Kind, id string) (model.Record, error)
	// Update overwrites every mutable column of rec.
	Update(ctx context.Context, rec model.Record) error
	Delete(ctx context.Context, kind model.Kind, id string) error
	// List returns one page of records and the total number of matches.
	List(ctx context.Context, kind model.Kind, filter model.ListFilter) ([]model.Record, int, error)

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
