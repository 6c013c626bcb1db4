package model

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Relation declares a parent->child link. Children carry ForeignKey = parent ID.
type Relation struct {
	Child         Kind
	ForeignKey    string
	CascadeDelete bool
}

// KindInfo is the static description of a record kind.
type KindInfo struct {
	Kind   Kind
	Plural string // URL path segment, e.g. "docker-cmds"
	New    func() Record

	// Filterable lists attributes accepted as exact-match filters.
	Filterable []string
	// Searchable lists attributes matched by the "search" fuzzy filter.
	Searchable []string

	Relations []Relation
}

var registry = map[Kind]KindInfo{
	KindCluster: {
		Kind:       KindCluster,
		Plural:     "clusters",
		New:        func() Record { return &Cluster{} },
		Filterable: []string{"id", "name"},
		Searchable: []string{"name", "description"},
		Relations: []Relation{
			{Child: KindWorker, ForeignKey: "cluster_id", CascadeDelete: true},
		},
	},
	KindWorker: {
		Kind:       KindWorker,
		Plural:     "workers",
		New:        func() Record { return &Worker{} },
		Filterable: []string{"id", "name", "cluster_id", "hostname", "ip", "state"},
		Searchable: []string{"name", "hostname"},
		Relations: []Relation{
			{Child: KindDockerCmd, ForeignKey: "worker_id", CascadeDelete: true},
		},
	},
	KindDockerCmd: {
		Kind:       KindDockerCmd,
		Plural:     "docker-cmds",
		New:        func() Record { return &DockerCmd{} },
		Filterable: []string{"id", "name", "worker_id", "image", "state"},
		Searchable: []string{"name", "image"},
	},
}

var byPlural = func() map[string]KindInfo {
	m := make(map[string]KindInfo, len(registry))
	for _, info := range registry {
		m[info.Plural] = info
	}
	return m
}()

// Lookup returns the description of kind k.
func Lookup(k Kind) (KindInfo, bool) {
	info, ok := registry[k]
	return info, ok
}

// LookupPlural resolves a URL path segment to its kind.
func LookupPlural(plural string) (KindInfo, bool) {
	info, ok := byPlural[plural]
	return info, ok
}

// Kinds returns all registered kinds in a stable order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// CascadeRelations returns the relations of k whose children are deleted
// along with the parent.
func CascadeRelations(k Kind) []Relation {
	var rels []Relation
	for _, rel := range registry[k].Relations {
		if rel.CascadeDelete {
			rels = append(rels, rel)
		}
	}
	return rels
}

// IsFilterable reports whether field may be used as an exact filter on k.
func (info KindInfo) IsFilterable(field string) bool {
	for _, f := range info.Filterable {
		if f == field {
			return true
		}
	}
	return false
}

// New returns an empty record of kind k.
func New(k Kind) (Record, error) {
	info, ok := registry[k]
	if !ok {
		return nil, fmt.Errorf("unknown record kind %q", k)
	}
	return info.New(), nil
}

// Decode unmarshals a JSON document into a new record of kind k.
func Decode(k Kind, data []byte) (Record, error) {
	rec, err := New(k)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", k, err)
	}
	return rec, nil
}

// Merge applies a partial JSON document to rec. Only keys present in patch
// change; the primary key and timestamps are preserved.
func Merge(rec Record, patch map[string]any) (Record, error) {
	base, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", rec.Kind(), err)
	}
	doc := make(map[string]any)
	if err := json.Unmarshal(base, &doc); err != nil {
		return nil, fmt.Errorf("encode %s: %w", rec.Kind(), err)
	}
	for k, v := range patch {
		switch k {
		case "id", "created_at", "updated_at", "deleted_at", "lifecycle":
			continue
		}
		doc[k] = v
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", rec.Kind(), err)
	}
	return Decode(rec.Kind(), merged)
}
