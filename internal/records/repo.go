// Package records is the mutation path for every record kind. Each
// successful commit publishes exactly one event per affected record on the
// topic named after its kind.
package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/gpuctl/internal/events"
	"github.com/alfredjeanlab/gpuctl/internal/idgen"
	"github.com/alfredjeanlab/gpuctl/internal/model"
	"github.com/alfredjeanlab/gpuctl/internal/store"
)

// Page is one page of a listing.
type Page struct {
	Items      []model.Record   `json:"items"`
	Pagination model.Pagination `json:"pagination"`
}

// Repo wraps a store and an event dispatcher.
type Repo struct {
	store      store.Store
	dispatcher *events.Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

// New returns a Repo persisting to s and publishing through d.
func New(s store.Store, d *events.Dispatcher, logger *slog.Logger) *Repo {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repo{
		store:      s,
		dispatcher: d,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Store returns the underlying store, for read-only consumers such as watch
// sessions and exports.
func (r *Repo) Store() store.Store { return r.store }

func (r *Repo) publish(ctx context.Context, typ events.EventType, rec model.Record) {
	r.dispatcher.Dispatch(ctx, events.Topic(rec.Kind()), events.Event{Type: typ, Data: rec})
}

// Create assigns an ID when rec has none, stamps timestamps, validates,
// persists and publishes Created.
func (r *Repo) Create(ctx context.Context, rec model.Record) (model.Record, error) {
	if rec.PrimaryKey() == "" {
		id, err := idgen.New(rec.Kind())
		if err != nil {
			return nil, err
		}
		rec.SetPrimaryKey(id)
	}
	rec.Touch(r.now())
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if err := r.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create %s: %w", rec.Kind(), err)
	}
	r.publish(ctx, events.Created, rec)
	return rec, nil
}

// Get returns the record of kind with primary key id.
func (r *Repo) Get(ctx context.Context, kind model.Kind, id string) (model.Record, error) {
	return r.store.Get(ctx, kind, id)
}

// Update applies patch (which may be nil) to rec, persists it and publishes
// Updated with the post-update state.
func (r *Repo) Update(ctx context.Context, rec model.Record, patch map[string]any) (model.Record, error) {
	rec, err := r.apply(ctx, r.store, rec, patch)
	if err != nil {
		return nil, err
	}
	r.publish(ctx, events.Updated, rec)
	return rec, nil
}

func (r *Repo) apply(ctx context.Context, st store.Store, rec model.Record, patch map[string]any) (model.Record, error) {
	if len(patch) > 0 {
		merged, err := model.Merge(rec, patch)
		if err != nil {
			return nil, &model.ValidationError{Errors: []model.FieldError{{Field: "body", Message: err.Error()}}}
		}
		rec = merged
	}
	rec.Touch(r.now())
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if err := st.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("update %s %s: %w", rec.Kind(), rec.PrimaryKey(), err)
	}
	return rec, nil
}

// Patch loads the record of kind with primary key id and applies patch in
// one transaction.
func (r *Repo) Patch(ctx context.Context, kind model.Kind, id string, patch map[string]any) (model.Record, error) {
	rec, _, err := r.Modify(ctx, kind, id, func(model.Record) (map[string]any, error) {
		if patch == nil {
			return map[string]any{}, nil
		}
		return patch, nil
	})
	return rec, err
}

// Modify reads the record of kind with primary key id and writes the patch
// fn derives from it, all in one transaction. fn returning a nil patch
// leaves the record untouched: Modify then returns the current state with
// changed == false and publishes nothing. Updated is published after the
// commit.
func (r *Repo) Modify(ctx context.Context, kind model.Kind, id string, fn func(model.Record) (map[string]any, error)) (rec model.Record, changed bool, err error) {
	err = r.store.RunInTransaction(ctx, func(tx store.Store) error {
		rec, changed = nil, false
		cur, err := tx.Get(ctx, kind, id)
		if err != nil {
			return err
		}
		patch, err := fn(cur)
		if err != nil {
			return err
		}
		if patch == nil {
			rec = cur
			return nil
		}
		rec, err = r.apply(ctx, tx, cur, patch)
		changed = err == nil
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if changed {
		r.publish(ctx, events.Updated, rec)
	}
	return rec, changed, nil
}

// Delete removes rec and, depth first, every descendant reachable through
// cascading relations. Soft-deletable parents are first moved to the
// deleting lifecycle so they drop out of live listings while children go.
// The whole cascade commits atomically; Deleted events are published after
// the commit, descendants before ancestors. A failed cascade publishes
// nothing.
func (r *Repo) Delete(ctx context.Context, rec model.Record) error {
	rec = rec.Clone()
	var deleted []model.Record
	err := r.store.RunInTransaction(ctx, func(tx store.Store) error {
		deleted = deleted[:0]
		return r.cascade(ctx, tx, rec, &deleted)
	})
	if err != nil {
		return err
	}
	for _, d := range deleted {
		r.publish(ctx, events.Deleted, d)
	}
	r.logger.Debug("record deleted", "kind", rec.Kind(), "id", rec.PrimaryKey(), "cascade", len(deleted)-1)
	return nil
}

func (r *Repo) cascade(ctx context.Context, tx store.Store, rec model.Record, deleted *[]model.Record) error {
	rels := model.CascadeRelations(rec.Kind())

	if sd, ok := rec.(model.SoftDeletable); ok && len(rels) > 0 && !sd.IsDeleting() {
		sd.MarkDeleting(r.now())
		if err := tx.Update(ctx, rec); err != nil {
			return fmt.Errorf("mark %s %s deleting: %w", rec.Kind(), rec.PrimaryKey(), err)
		}
	}

	for _, rel := range rels {
		children, _, err := tx.List(ctx, rel.Child, model.ListFilter{
			Fields: map[string]string{rel.ForeignKey: rec.PrimaryKey()},
		})
		if err != nil {
			return fmt.Errorf("load %s children of %s %s: %w", rel.Child, rec.Kind(), rec.PrimaryKey(), err)
		}
		for _, child := range children {
			if err := r.cascade(ctx, tx, child, deleted); err != nil {
				return err
			}
		}
	}

	if err := tx.Delete(ctx, rec.Kind(), rec.PrimaryKey()); err != nil {
		return fmt.Errorf("delete %s %s: %w", rec.Kind(), rec.PrimaryKey(), err)
	}
	*deleted = append(*deleted, rec)
	return nil
}

// DeleteByID loads and deletes the record of kind with primary key id.
func (r *Repo) DeleteByID(ctx context.Context, kind model.Kind, id string) error {
	rec, err := r.store.Get(ctx, kind, id)
	if err != nil {
		return err
	}
	return r.Delete(ctx, rec)
}

// DeleteAll deletes every live record of kind through the cascade, one
// record at a time. Records already removed by an earlier cascade are
// skipped. It returns the number of records deleted directly.
func (r *Repo) DeleteAll(ctx context.Context, kind model.Kind) (int, error) {
	recs, _, err := r.store.List(ctx, kind, model.ListFilter{})
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", kind, err)
	}
	n := 0
	for _, rec := range recs {
		if err := r.Delete(ctx, rec); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// List returns one page of live records of kind.
func (r *Repo) List(ctx context.Context, kind model.Kind, filter model.ListFilter) (*Page, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	items, total, err := r.store.List(ctx, kind, filter)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []model.Record{}
	}
	return &Page{
		Items:      items,
		Pagination: model.NewPagination(filter.Page, filter.PerPage, total),
	}, nil
}
