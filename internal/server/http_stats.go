package server

import (
	"net/http"

	"github.com/alfredjeanlab/gpuctl/internal/events"
	"github.com/alfredjeanlab/gpuctl/internal/model"
	gpusync "github.com/alfredjeanlab/gpuctl/internal/sync"
)

// TopicStats is the subscriber count of one bus topic.
type TopicStats struct {
	Topic       string `json:"topic"`
	Subscribers int    `json:"subscribers"`
}

// Stats is the body of GET /v1/stats.
type Stats struct {
	Topics  []TopicStats `json:"topics"`
	Watches int          `json:"watches"`
	Workers int          `json:"workers_tracked"`
}

// stats reports every registered kind's topic, including idle ones.
func (s *Server) stats() Stats {
	st := Stats{Topics: []TopicStats{}}
	seen := make(map[string]bool)
	for _, k := range model.Kinds() {
		topic := events.Topic(k)
		seen[topic] = true
		st.Topics = append(st.Topics, TopicStats{Topic: topic, Subscribers: s.bus.SubscriberCount(topic)})
	}
	for _, topic := range s.bus.Topics() {
		if !seen[topic] {
			st.Topics = append(st.Topics, TopicStats{Topic: topic, Subscribers: s.bus.SubscriberCount(topic)})
		}
	}
	st.Watches = s.watches.Len()
	st.Workers = len(s.Presence.Roster(0))
	return st
}

// handleGetStats handles GET /v1/stats.
func (s *Server) handleGetStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stats())
}

// handleListWatches handles GET /v1/watches.
func (s *Server) handleListWatches(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"watches": s.watches.List()})
}

// handleExport handles GET /v1/export, streaming a JSONL snapshot of every
// record in the same format the sync scheduler backs up.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", `attachment; filename="gpuctl.jsonl"`)
	if err := gpusync.ExportJSONL(r.Context(), s.repo.Store(), w); err != nil {
		// Headers may already be on the wire; all we can do is log.
		s.logger.Error("export failed", "err", err)
	}
}
