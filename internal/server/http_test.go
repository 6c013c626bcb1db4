package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alfredjeanlab/gpuctl/internal/events"
	"github.com/alfredjeanlab/gpuctl/internal/model"
	"github.com/alfredjeanlab/gpuctl/internal/presence"
	"github.com/alfredjeanlab/gpuctl/internal/records"
	"github.com/alfredjeanlab/gpuctl/internal/store/sqlstore"
	gpusync "github.com/alfredjeanlab/gpuctl/internal/sync"
	"github.com/alfredjeanlab/gpuctl/internal/watch"
)

// newTestServer wires a Server over a fresh SQLite database.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := sqlstore.Open("sqlite://" + filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	bus := events.NewBus(nil)
	repo := records.New(st, events.NewDispatcher(bus, nil, nil), nil)
	watches := watch.NewRegistry(st, bus, watch.DefaultHeartbeat)
	t.Cleanup(watches.CloseAll)
	return New(repo, bus, watches, nil, nil)
}

// doJSON sends a request with an optional JSON body and returns the recorder.
func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

type listBody struct {
	Items      []map[string]any `json:"items"`
	Pagination model.Pagination `json:"pagination"`
}

func mustCreate(t *testing.T, h http.Handler, plural string, body any) map[string]any {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/v1/"+plural, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create %s: status %d, body %s", plural, rec.Code, rec.Body.String())
	}
	return decodeBody[map[string]any](t, rec)
}

func TestHandleHealth(t *testing.T) {
	h := newTestServer(t).NewHTTPHandler("")
	rec := doJSON(t, h, http.MethodGet, "/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decodeBody[map[string]string](t, rec)["status"]; got != "ok" {
		t.Fatalf("status = %q", got)
	}
}

func TestRecordLifecycle(t *testing.T) {
	h := newTestServer(t).NewHTTPHandler("")

	created := mustCreate(t, h, "clusters", map[string]any{"name": "prod", "description": "main"})
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("expected generated id, got %v", created)
	}

	rec := doJSON(t, h, http.MethodGet, "/v1/clusters/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPatch, "/v1/clusters/"+id, map[string]any{"description": "renamed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: %d %s", rec.Code, rec.Body.String())
	}
	updated := decodeBody[map[string]any](t, rec)
	if updated["description"] != "renamed" || updated["name"] != "prod" {
		t.Fatalf("unexpected patch result: %v", updated)
	}

	rec = doJSON(t, h, http.MethodPut, "/v1/clusters/"+id, map[string]any{"name": "staging"})
	if rec.Code != http.StatusOK {
		t.Fatalf("put: %d %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[map[string]any](t, rec); got["name"] != "staging" || got["description"] != "renamed" {
		t.Fatalf("unexpected put result: %v", got)
	}

	rec = doJSON(t, h, http.MethodDelete, "/v1/clusters/"+id, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodGet, "/v1/clusters/"+id, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", rec.Code)
	}
}

func TestHandleHTTPErrors(t *testing.T) {
	s := newTestServer(t)
	h := s.NewHTTPHandler("")
	mustCreate(t, h, "clusters", map[string]any{"name": "prod"})

	for _, tc := range []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"UnknownCollection", http.MethodGet, "/v1/gpus", nil, http.StatusNotFound},
		{"MissingRecord", http.MethodGet, "/v1/workers/wk-missing", nil, http.StatusNotFound},
		{"ValidationFailed", http.MethodPost, "/v1/clusters", map[string]any{"description": "no name"}, http.StatusBadRequest},
		{"BadState", http.MethodPost, "/v1/docker-cmds", map[string]any{"image": "x", "state": "zombie"}, http.StatusBadRequest},
		{"DuplicateName", http.MethodPost, "/v1/clusters", map[string]any{"name": "prod"}, http.StatusConflict},
		{"DanglingParent", http.MethodPost, "/v1/workers", map[string]any{"name": "w", "cluster_id": "cl-nope"}, http.StatusConflict},
		{"UnknownFilter", http.MethodGet, "/v1/clusters?color=red", nil, http.StatusBadRequest},
		{"BadPage", http.MethodGet, "/v1/clusters?page=-1", nil, http.StatusBadRequest},
		{"BadCEL", http.MethodGet, "/v1/clusters?filter=record.name+%3D%3D", nil, http.StatusBadRequest},
		{"UpdateMissing", http.MethodPatch, "/v1/clusters/cl-nope", map[string]any{"name": "x"}, http.StatusNotFound},
		{"DeleteMissing", http.MethodDelete, "/v1/clusters/cl-nope", nil, http.StatusNotFound},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, h, tc.method, tc.path, tc.body)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d; body: %s", tc.want, rec.Code, rec.Body.String())
			}
			if _, ok := decodeBody[map[string]string](t, rec)["error"]; !ok {
				t.Fatalf("expected error body, got %s", rec.Body.String())
			}
		})
	}
}

func TestHandleCreate_InvalidJSON(t *testing.T) {
	h := newTestServer(t).NewHTTPHandler("")
	req := httptest.NewRequest(http.MethodPost, "/v1/clusters", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleList_FiltersAndPagination(t *testing.T) {
	h := newTestServer(t).NewHTTPHandler("")
	w := mustCreate(t, h, "workers", map[string]any{"name": "node-1"})
	wid := w["id"].(string)
	for _, c := range []map[string]any{
		{"name": "train-a", "image": "pytorch", "worker_id": wid, "state": "running"},
		{"name": "train-b", "image": "pytorch", "worker_id": wid},
		{"name": "serve", "image": "triton", "state": "running"},
	} {
		mustCreate(t, h, "docker-cmds", c)
	}

	for _, tc := range []struct {
		name      string
		query     string
		wantItems int
		wantTotal int
	}{
		{"All", "", 3, 3},
		{"Exact", "?state=running", 2, 2},
		{"ExactAnd", "?state=running&worker_id=" + wid, 1, 1},
		{"Search", "?search=TRAIN", 2, 2},
		{"SearchImage", "?search=trit", 1, 1},
		{"Page1", "?perPage=2", 2, 3},
		{"Page2", "?perPage=2&page=2", 1, 3},
		{"PastEnd", "?perPage=2&page=5", 0, 3},
		{"CEL", "?filter=" + `record.image+%3D%3D+%22pytorch%22`, 2, 2},
		{"CELPaged", "?perPage=1&page=2&filter=" + `record.image+%3D%3D+%22pytorch%22`, 1, 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodGet, "/v1/docker-cmds"+tc.query, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("list: %d %s", rec.Code, rec.Body.String())
			}
			body := decodeBody[listBody](t, rec)
			if len(body.Items) != tc.wantItems {
				t.Errorf("items = %d, want %d", len(body.Items), tc.wantItems)
			}
			if body.Pagination.Total != tc.wantTotal {
				t.Errorf("total = %d, want %d", body.Pagination.Total, tc.wantTotal)
			}
		})
	}
}

func TestHandleList_DefaultPageSize(t *testing.T) {
	h := newTestServer(t).NewHTTPHandler("")
	n := model.DefaultPerPage + 1
	for i := range n {
		mustCreate(t, h, "clusters", map[string]any{"name": fmt.Sprintf("zone-%03d", i)})
	}

	rec := doJSON(t, h, http.MethodGet, "/v1/clusters", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d %s", rec.Code, rec.Body.String())
	}
	body := decodeBody[listBody](t, rec)
	if len(body.Items) != model.DefaultPerPage {
		t.Errorf("items = %d, want %d", len(body.Items), model.DefaultPerPage)
	}
	want := model.Pagination{Page: 1, PerPage: model.DefaultPerPage, Total: n, TotalPage: 2}
	if body.Pagination != want {
		t.Errorf("pagination = %+v, want %+v", body.Pagination, want)
	}

	body = decodeBody[listBody](t, doJSON(t, h, http.MethodGet, "/v1/clusters?page=2", nil))
	if len(body.Items) != 1 || body.Pagination.Page != 2 {
		t.Errorf("page 2: items = %d, pagination = %+v", len(body.Items), body.Pagination)
	}

	if rec := doJSON(t, h, http.MethodGet, "/v1/clusters?perPage=0", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("perPage=0: expected 400, got %d", rec.Code)
	}
}

func TestHandleList_EmptyIsArray(t *testing.T) {
	h := newTestServer(t).NewHTTPHandler("")
	rec := doJSON(t, h, http.MethodGet, "/v1/clusters", nil)
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"items":[]`)) {
		t.Fatalf("expected empty items array, got %s", rec.Body.String())
	}
}

func TestDockerCmd_EnvWithheld(t *testing.T) {
	h := newTestServer(t).NewHTTPHandler("")
	created := mustCreate(t, h, "docker-cmds", map[string]any{
		"image": "jupyter",
		"env":   map[string]string{"TOKEN": "secret"},
	})
	if _, ok := created["env"]; ok {
		t.Fatalf("create response leaked env: %v", created)
	}

	rec := doJSON(t, h, http.MethodGet, "/v1/docker-cmds/"+created["id"].(string), nil)
	if bytes.Contains(rec.Body.Bytes(), []byte("secret")) {
		t.Fatalf("get response leaked env: %s", rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodGet, "/v1/docker-cmds", nil)
	if bytes.Contains(rec.Body.Bytes(), []byte("secret")) {
		t.Fatalf("list response leaked env: %s", rec.Body.String())
	}
}

func TestHandleDelete_Cascades(t *testing.T) {
	h := newTestServer(t).NewHTTPHandler("")
	cl := mustCreate(t, h, "clusters", map[string]any{"name": "prod"})
	w := mustCreate(t, h, "workers", map[string]any{"name": "node-1", "cluster_id": cl["id"]})
	d := mustCreate(t, h, "docker-cmds", map[string]any{"image": "x", "worker_id": w["id"]})

	if rec := doJSON(t, h, http.MethodDelete, "/v1/clusters/"+cl["id"].(string), nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
	for _, path := range []string{
		"/v1/workers/" + w["id"].(string),
		"/v1/docker-cmds/" + d["id"].(string),
	} {
		if rec := doJSON(t, h, http.MethodGet, path, nil); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s after cascade: %d", path, rec.Code)
		}
	}
}

func TestHandleHeartbeat(t *testing.T) {
	s := newTestServer(t)
	h := s.NewHTTPHandler("")
	w := mustCreate(t, h, "workers", map[string]any{"name": "node-1"})
	id := w["id"].(string)
	if w["state"] != string(model.WorkerNotReady) {
		t.Fatalf("new worker state = %v", w["state"])
	}

	rec := doJSON(t, h, http.MethodPost, "/v1/workers/"+id+"/heartbeat", map[string]any{"hostname": "gpu-1", "ip": "10.0.0.7"})
	if rec.Code != http.StatusOK {
		t.Fatalf("heartbeat: %d %s", rec.Code, rec.Body.String())
	}
	got := decodeBody[map[string]any](t, rec)
	if got["state"] != string(model.WorkerReady) || got["hostname"] != "gpu-1" || got["ip"] != "10.0.0.7" {
		t.Fatalf("unexpected worker after heartbeat: %v", got)
	}
	if got["heartbeat_at"] == nil {
		t.Fatal("heartbeat_at not set")
	}

	roster := s.Presence.Roster(0)
	if len(roster) != 1 || roster[0].WorkerID != id {
		t.Fatalf("roster = %+v", roster)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/presence", nil)
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte(id)) {
		t.Fatalf("presence: %d %s", rec.Code, rec.Body.String())
	}

	for _, tc := range []struct {
		name string
		path string
		body any
		want int
	}{
		{"UnknownWorker", "/v1/workers/wk-nope/heartbeat", nil, http.StatusNotFound},
		{"BadIP", "/v1/workers/" + id + "/heartbeat", map[string]any{"ip": "not-an-ip"}, http.StatusBadRequest},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if rec := doJSON(t, h, http.MethodPost, tc.path, tc.body); rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestMarkUnreachable(t *testing.T) {
	s := newTestServer(t)
	h := s.NewHTTPHandler("")
	w := mustCreate(t, h, "workers", map[string]any{"name": "node-1"})
	id := w["id"].(string)
	doJSON(t, h, http.MethodPost, "/v1/workers/"+id+"/heartbeat", nil)

	sub := s.bus.Subscribe(events.Topic(model.KindWorker))
	defer s.bus.Unsubscribe(events.Topic(model.KindWorker), sub)
	receive := func() events.Event {
		t.Helper()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		ev, err := sub.Receive(ctx)
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		return ev
	}
	state := func() any {
		t.Helper()
		return decodeBody[map[string]any](t, doJSON(t, h, http.MethodGet, "/v1/workers/"+id, nil))["state"]
	}

	// A heartbeat that is still fresh is never overwritten.
	s.MarkUnreachable(context.Background(), id)
	if got := state(); got != string(model.WorkerReady) {
		t.Fatalf("state = %v, want ready", got)
	}
	if sub.Len() != 0 {
		t.Fatalf("unexpected event for a live worker")
	}

	dead := make(chan struct{}, 1)
	s.Presence.StartReaper(&presence.ReaperConfig{
		DeadThreshold: time.Millisecond,
		SweepInterval: 5 * time.Millisecond,
		OnDead: func(workerID string) {
			s.MarkUnreachable(context.Background(), workerID)
			select {
			case dead <- struct{}{}:
			default:
			}
		},
	})
	select {
	case <-dead:
	case <-time.After(2 * time.Second):
		t.Fatal("reaper never fired")
	}
	s.Presence.Stop()

	if got := state(); got != string(model.WorkerUnreachable) {
		t.Fatalf("state = %v, want unreachable", got)
	}
	if ev := receive(); ev.Type != events.Updated {
		t.Fatalf("event type = %v, want UPDATED", ev.Type)
	}

	// A heartbeat after the sweep beats a late reaper callback.
	doJSON(t, h, http.MethodPost, "/v1/workers/"+id+"/heartbeat", nil)
	receive()
	s.MarkUnreachable(context.Background(), id)
	if got := state(); got != string(model.WorkerReady) {
		t.Fatalf("state = %v after heartbeat, want ready", got)
	}
	if sub.Len() != 0 {
		t.Fatalf("late reaper callback published an event")
	}

	// A worker deleted in the meantime is dropped from the roster.
	doJSON(t, h, http.MethodDelete, "/v1/workers/"+id, nil)
	s.Presence.RecordHeartbeat(presence.Heartbeat{WorkerID: id})
	s.MarkUnreachable(context.Background(), id)
	if n := len(s.Presence.Roster(0)); n != 0 {
		t.Fatalf("roster has %d entries after delete", n)
	}
}

func TestHandleGetStats(t *testing.T) {
	s := newTestServer(t)
	h := s.NewHTTPHandler("")
	sub := s.bus.Subscribe("worker")
	defer s.bus.Unsubscribe("worker", sub)

	rec := doJSON(t, h, http.MethodGet, "/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: %d", rec.Code)
	}
	stats := decodeBody[Stats](t, rec)
	counts := make(map[string]int)
	for _, ts := range stats.Topics {
		counts[ts.Topic] = ts.Subscribers
	}
	if len(counts) != 3 || counts["worker"] != 1 || counts["cluster"] != 0 {
		t.Fatalf("unexpected topic stats: %+v", stats.Topics)
	}
	if stats.Watches != 0 {
		t.Fatalf("watches = %d", stats.Watches)
	}
}

func TestHandleExport(t *testing.T) {
	s := newTestServer(t)
	h := s.NewHTTPHandler("")
	mustCreate(t, h, "clusters", map[string]any{"name": "c1"})
	mustCreate(t, h, "docker-cmds", map[string]any{"image": "jupyter", "env": map[string]string{"TOKEN": "s"}})

	rec := doJSON(t, h, http.MethodGet, "/v1/export", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: %d %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content-type = %q", ct)
	}

	var kinds []model.Kind
	var env map[string]string
	hdr, err := gpusync.ReadJSONL(rec.Body, func(r model.Record) error {
		kinds = append(kinds, r.Kind())
		if d, ok := r.(*model.DockerCmd); ok {
			env = d.Env
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ReadJSONL: %v", err)
	}
	if hdr.Counts[model.KindCluster] != 1 || hdr.Counts[model.KindDockerCmd] != 1 {
		t.Fatalf("header counts = %v", hdr.Counts)
	}
	if len(kinds) != 2 || kinds[0] != model.KindCluster {
		t.Fatalf("kinds = %v", kinds)
	}
	// Backups are private and keep the full record.
	if env["TOKEN"] != "s" {
		t.Fatalf("export env = %v", env)
	}
}

func TestSeedPresence(t *testing.T) {
	s := newTestServer(t)
	h := s.NewHTTPHandler("")
	ready := mustCreate(t, h, "workers", map[string]any{"name": "a", "state": "ready", "hostname": "gpu-a"})
	mustCreate(t, h, "workers", map[string]any{"name": "b"})

	n, err := s.SeedPresence(context.Background())
	if err != nil {
		t.Fatalf("SeedPresence: %v", err)
	}
	if n != 1 {
		t.Fatalf("seeded %d workers, want 1", n)
	}
	roster := s.Presence.Roster(0)
	if len(roster) != 1 || roster[0].WorkerID != ready["id"] || roster[0].Hostname != "gpu-a" {
		t.Fatalf("roster = %+v", roster)
	}
}
