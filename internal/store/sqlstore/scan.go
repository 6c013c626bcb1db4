package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alfredjeanlab/gpuctl/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanCluster scans a row whose columns follow clustersTable.columns.
func scanCluster(row scannable) (model.Record, error) {
	var (
		c         model.Cluster
		deletedAt sql.NullTime
	)
	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Description,
		&c.Lifecycle,
		&c.CreatedAt,
		&c.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	c.DeletedAt = timePtr(deletedAt)
	return &c, nil
}

// scanWorker scans a row whose columns follow workersTable.columns.
func scanWorker(row scannable) (model.Record, error) {
	var (
		w           model.Worker
		clusterID   sql.NullString
		labels      []byte
		heartbeatAt sql.NullTime
		deletedAt   sql.NullTime
	)
	err := row.Scan(
		&w.ID,
		&w.Name,
		&clusterID,
		&w.Hostname,
		&w.IP,
		&w.State,
		&labels,
		&w.Lifecycle,
		&heartbeatAt,
		&w.CreatedAt,
		&w.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}
	w.ClusterID = clusterID.String
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	w.HeartbeatAt = timePtr(heartbeatAt)
	w.DeletedAt = timePtr(deletedAt)
	if w.Labels, err = decodeStringMap(labels); err != nil {
		return nil, fmt.Errorf("worker %s labels: %w", w.ID, err)
	}
	return &w, nil
}

// scanDockerCmd scans a row whose columns follow dockerCmdsTable.columns.
func scanDockerCmd(row scannable) (model.Record, error) {
	var (
		d        model.DockerCmd
		workerID sql.NullString
		portMap  []byte
		env      []byte
	)
	err := row.Scan(
		&d.ID,
		&d.Name,
		&workerID,
		&d.Image,
		&portMap,
		&d.Entrypoint,
		&d.Cmd,
		&env,
		&d.State,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.WorkerID = workerID.String
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	if d.PortMap, err = decodeStringMap(portMap); err != nil {
		return nil, fmt.Errorf("docker cmd %s port_map: %w", d.ID, err)
	}
	if d.Env, err = decodeStringMap(env); err != nil {
		return nil, fmt.Errorf("docker cmd %s env: %w", d.ID, err)
	}
	return &d, nil
}

// nullString converts an empty string to a NULL sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTimePtr converts a *time.Time to sql.NullTime.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// jsonText encodes a string map for a JSON column. Empty maps are stored as NULL.
func jsonText(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeStringMap(data []byte) (map[string]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
