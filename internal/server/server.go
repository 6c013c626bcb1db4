// Package server exposes the record collections over HTTP and gRPC.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/alfredjeanlab/gpuctl/internal/events"
	"github.com/alfredjeanlab/gpuctl/internal/model"
	"github.com/alfredjeanlab/gpuctl/internal/presence"
	"github.com/alfredjeanlab/gpuctl/internal/records"
	"github.com/alfredjeanlab/gpuctl/internal/store"
	"github.com/alfredjeanlab/gpuctl/internal/watch"
)

// Server holds the handles shared by the HTTP and gRPC transports.
type Server struct {
	repo     *records.Repo
	bus      *events.Bus
	watches  *watch.Registry
	Presence *presence.Tracker
	logger   *slog.Logger
}

// New returns a Server. A nil tracker gets a fresh one; a nil logger falls
// back to slog.Default().
func New(repo *records.Repo, bus *events.Bus, watches *watch.Registry, tracker *presence.Tracker, logger *slog.Logger) *Server {
	if tracker == nil {
		tracker = presence.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		repo:     repo,
		bus:      bus,
		watches:  watches,
		Presence: tracker,
		logger:   logger,
	}
}

// MarkUnreachable flips a silent worker to unreachable. It is the presence
// reaper's OnDead callback, so watchers of workers see an Updated event.
// The check and the write share a transaction with the worker row locked;
// a heartbeat recorded since the sweep wins and nothing is written.
func (s *Server) MarkUnreachable(ctx context.Context, workerID string) {
	_, changed, err := s.repo.Modify(ctx, model.KindWorker, workerID, func(rec model.Record) (map[string]any, error) {
		if !s.Presence.Reaped(workerID) || rec.(*model.Worker).State == model.WorkerUnreachable {
			return nil, nil
		}
		return map[string]any{"state": string(model.WorkerUnreachable)}, nil
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.Presence.Forget(workerID)
	case err != nil:
		s.logger.Warn("failed to mark worker unreachable", "id", workerID, "err", err)
	case changed:
		s.logger.Info("worker marked unreachable", "id", workerID)
	}
}

// inputError indicates invalid user input.
// Transport layers map this to 400 / InvalidArgument.
type inputError string

func (e inputError) Error() string { return string(e) }

// isInputError reports whether err was caused by the caller's input.
func isInputError(err error) bool {
	var ie inputError
	var ve *model.ValidationError
	return errors.As(err, &ie) || errors.As(err, &ve) || errors.Is(err, watch.ErrInvalidFilter) || errors.Is(err, watch.ErrUnknownKind)
}

// httpStatus maps a repository error to its HTTP status code.
func httpStatus(err error) int {
	switch {
	case isInputError(err):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// grpcError maps a repository error to a gRPC status error.
func grpcError(err error) error {
	switch {
	case isInputError(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, store.ErrConflict):
		return status.Error(codes.AlreadyExists, err.Error())
	}
	return status.Errorf(codes.Internal, "internal error: %v", err)
}
