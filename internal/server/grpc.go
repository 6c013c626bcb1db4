package server

import (
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/gpuctl/internal/model"
	"github.com/alfredjeanlab/gpuctl/internal/rpc"
	"github.com/alfredjeanlab/gpuctl/internal/watch"
)

// NewGRPCServer creates a gRPC server with standard interceptors, registers
// the watch service, health and reflection, and returns the server ready to
// serve. When authToken is non-empty every RPC but health requires it.
func NewGRPCServer(s *Server, authToken string) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor,
			LoggingInterceptor,
			AuthInterceptor(authToken),
		),
		grpc.ChainStreamInterceptor(
			StreamRecoveryInterceptor,
			StreamLoggingInterceptor,
			StreamAuthInterceptor(authToken),
		),
	)

	rpc.Register(srv, s)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(rpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	reflection.Register(srv)
	return srv
}

// resolveWatchKind accepts a kind name ("worker") or its plural ("workers").
func resolveWatchKind(name string) (model.KindInfo, bool) {
	if info, ok := model.LookupPlural(name); ok {
		return info, true
	}
	return model.Lookup(model.Kind(name))
}

// Watch implements rpc.WatchServer: a server stream of {type, data}
// messages with the same snapshot, live and heartbeat semantics as the HTTP
// watch.
func (s *Server) Watch(in *structpb.Struct, stream grpc.ServerStream) error {
	req, err := rpc.DecodeWatchRequest(in)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	info, ok := resolveWatchKind(req.Kind)
	if !ok {
		return status.Errorf(codes.InvalidArgument, "unknown kind %q", req.Kind)
	}
	for field := range req.Fields {
		if !info.IsFilterable(field) {
			return status.Errorf(codes.InvalidArgument, "unknown filter %q for %s", field, info.Plural)
		}
	}

	wreq := watch.Request{
		Kind:      info.Kind,
		Fields:    req.Fields,
		Filter:    req.Filter,
		Heartbeat: req.Heartbeat,
	}
	if req.Search != "" {
		wreq.FuzzyFields = make(map[string]string, len(info.Searchable))
		for _, field := range info.Searchable {
			wreq.FuzzyFields[field] = req.Search
		}
	}

	session, err := s.watches.Open(wreq)
	if err != nil {
		return grpcError(err)
	}
	defer session.Close()

	ctx := stream.Context()
	for {
		ev, err := session.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, watch.ErrClosed) {
				return nil
			}
			return grpcError(err)
		}
		msg, err := rpc.EncodeEvent(ev)
		if err != nil {
			return status.Errorf(codes.Internal, "encode event: %v", err)
		}
		if err := stream.SendMsg(msg); err != nil {
			return err
		}
	}
}
