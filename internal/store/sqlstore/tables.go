package sqlstore

import (
	"fmt"
	"strings"

	"github.com/alfredjeanlab/gpuctl/internal/model"
)

// table maps one record kind onto its SQL table. columns[0] is always the
// primary key; values returns arguments in the same order.
type table struct {
	kind       model.Kind
	name       string
	columns    []string
	softDelete bool
	sortable   []string

	values func(model.Record) ([]any, error)
	scan   func(scannable) (model.Record, error)
}

var clustersTable = &table{
	kind:       model.KindCluster,
	name:       "clusters",
	columns:    []string{"id", "name", "description", "lifecycle", "created_at", "updated_at", "deleted_at"},
	softDelete: true,
	sortable:   []string{"created_at", "updated_at", "name"},
	values: func(rec model.Record) ([]any, error) {
		c := rec.(*model.Cluster)
		return []any{
			c.ID,
			c.Name,
			c.Description,
			string(c.Lifecycle),
			c.CreatedAt.UTC(),
			c.UpdatedAt.UTC(),
			nullTimePtr(c.DeletedAt),
		}, nil
	},
	scan: scanCluster,
}

var workersTable = &table{
	kind: model.KindWorker,
	name: "workers",
	columns: []string{"id", "name", "cluster_id", "hostname", "ip", "state", "labels",
		"lifecycle", "heartbeat_at", "created_at", "updated_at", "deleted_at"},
	softDelete: true,
	sortable:   []string{"created_at", "updated_at", "name", "state", "heartbeat_at"},
	values: func(rec model.Record) ([]any, error) {
		w := rec.(*model.Worker)
		labels, err := jsonText(w.Labels)
		if err != nil {
			return nil, fmt.Errorf("encode labels: %w", err)
		}
		return []any{
			w.ID,
			w.Name,
			nullString(w.ClusterID),
			w.Hostname,
			w.IP,
			string(w.State),
			labels,
			string(w.Lifecycle),
			nullTimePtr(w.HeartbeatAt),
			w.CreatedAt.UTC(),
			w.UpdatedAt.UTC(),
			nullTimePtr(w.DeletedAt),
		}, nil
	},
	scan: scanWorker,
}

var dockerCmdsTable = &table{
	kind: model.KindDockerCmd,
	name: "docker_cmds",
	columns: []string{"id", "name", "worker_id", "image", "port_map", "entrypoint", "cmd",
		"env", "state", "created_at", "updated_at"},
	sortable: []string{"created_at", "updated_at", "name", "state", "image"},
	values: func(rec model.Record) ([]any, error) {
		d := rec.(*model.DockerCmd)
		portMap, err := jsonText(d.PortMap)
		if err != nil {
			return nil, fmt.Errorf("encode port_map: %w", err)
		}
		env, err := jsonText(d.Env)
		if err != nil {
			return nil, fmt.Errorf("encode env: %w", err)
		}
		return []any{
			d.ID,
			d.Name,
			nullString(d.WorkerID),
			d.Image,
			portMap,
			d.Entrypoint,
			d.Cmd,
			env,
			string(d.State),
			d.CreatedAt.UTC(),
			d.UpdatedAt.UTC(),
		}, nil
	},
	scan: scanDockerCmd,
}

var tables = map[model.Kind]*table{
	model.KindCluster:   clustersTable,
	model.KindWorker:    workersTable,
	model.KindDockerCmd: dockerCmdsTable,
}

func tableFor(kind model.Kind) (*table, error) {
	t, ok := tables[kind]
	if !ok {
		return nil, fmt.Errorf("no table for record kind %q", kind)
	}
	return t, nil
}

func (t *table) selectList() string {
	return strings.Join(t.columns, ", ")
}

func (t *table) hasColumn(name string) bool {
	for _, c := range t.columns {
		if c == name {
			return true
		}
	}
	return false
}

// parseSort converts a sort spec like "-created_at" into an ORDER BY clause,
// falling back to "created_at DESC" for unknown columns.
func (t *table) parseSort(spec string) string {
	const fallback = "created_at DESC"
	if spec == "" {
		return fallback
	}
	dir := "ASC"
	col := spec
	if strings.HasPrefix(spec, "-") {
		dir = "DESC"
		col = spec[1:]
	}
	for _, s := range t.sortable {
		if s == col {
			return col + " " + dir
		}
	}
	return fallback
}
