package server

import (
	"net/http"
	"time"

	"github.com/alfredjeanlab/gpuctl/internal/model"
)

// flushWriter writes each watch frame to the response and flushes it so the
// client sees it immediately.
type flushWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (fw flushWriter) WriteFrame(frame []byte) error {
	if _, err := fw.w.Write(frame); err != nil {
		return err
	}
	fw.flusher.Flush()
	return nil
}

// handleWatch streams GET /v1/{plural}?watch=true. The session's snapshot
// and live events are written as they come until the client disconnects.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request, info model.KindInfo, lq listQuery) {
	// Ensure response supports flushing (required for streaming).
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	req, err := watchRequest(info, lq, r)
	if err != nil {
		s.writeRecordError(w, r, err)
		return
	}
	session, err := s.watches.Open(req)
	if err != nil {
		s.writeRecordError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.logger.Debug("watch opened", "session", session.ID(), "kind", info.Kind)
	if err := session.Stream(r.Context(), flushWriter{w: w, flusher: flusher}); err != nil {
		s.logger.Warn("watch stream ended", "session", session.ID(), "kind", info.Kind, "err", err)
		return
	}
	s.logger.Debug("watch closed", "session", session.ID(), "kind", info.Kind)
}

func secondsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}
