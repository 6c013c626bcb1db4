package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/alfredjeanlab/gpuctl/internal/model"
	"github.com/alfredjeanlab/gpuctl/internal/presence"
)

// heartbeatInput is the optional body of a worker heartbeat.
type heartbeatInput struct {
	Hostname string `json:"hostname,omitempty"`
	IP       string `json:"ip,omitempty"`
}

// handleHeartbeat handles POST /v1/workers/{id}/heartbeat.
// The worker is marked ready and its heartbeat time refreshed.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var in heartbeatInput
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	if in.IP != "" && net.ParseIP(in.IP) == nil {
		writeError(w, http.StatusBadRequest, "ip: not a valid address")
		return
	}

	ctx := r.Context()
	if _, err := s.repo.Get(ctx, model.KindWorker, id); err != nil {
		s.writeRecordError(w, r, err)
		return
	}

	// Presence goes first: MarkUnreachable leaves live workers alone.
	if s.Presence.RecordHeartbeat(presence.Heartbeat{WorkerID: id, Hostname: in.Hostname, IP: in.IP}) {
		s.logger.Info("worker back online", "id", id)
	}

	patch := map[string]any{
		"state":        string(model.WorkerReady),
		"heartbeat_at": time.Now().UTC(),
	}
	if in.Hostname != "" {
		patch["hostname"] = in.Hostname
	}
	if in.IP != "" {
		patch["ip"] = in.IP
	}
	rec, err := s.repo.Patch(ctx, model.KindWorker, id, patch)
	if err != nil {
		s.writeRecordError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, model.PublicView(rec))
}

// handlePresence handles GET /v1/presence.
// Returns the live worker roster from the presence tracker.
func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	// Parse optional stale_threshold_secs query param (default: all).
	var staleThreshold time.Duration
	if v := r.URL.Query().Get("stale_threshold_secs"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			staleThreshold = time.Duration(secs) * time.Second
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workers": s.Presence.Roster(staleThreshold),
	})
}

// SeedPresence starts tracking every worker currently marked ready, so a
// worker that went silent while the server was down is still reaped.
// Each one gets a full dead-threshold window from now.
func (s *Server) SeedPresence(ctx context.Context) (int, error) {
	page, err := s.repo.List(ctx, model.KindWorker, model.ListFilter{
		Fields: map[string]string{"state": string(model.WorkerReady)},
	})
	if err != nil {
		return 0, err
	}
	for _, rec := range page.Items {
		w := rec.(*model.Worker)
		s.Presence.RecordHeartbeat(presence.Heartbeat{WorkerID: w.ID, Hostname: w.Hostname, IP: w.IP})
	}
	return len(page.Items), nil
}
