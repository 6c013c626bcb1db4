// Package rpc declares the gRPC watch service without generated stubs.
// Requests and responses are structpb.Struct messages so the wire schema
// follows the JSON documents served over HTTP.
package rpc

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/gpuctl/internal/events"
	"github.com/alfredjeanlab/gpuctl/internal/model"
)

const (
	// ServiceName is the fully-qualified gRPC service name.
	ServiceName = "gpuctl.v1.WatchService"
	// WatchMethod is the full method path of the server-streaming Watch RPC.
	WatchMethod = "/" + ServiceName + "/Watch"
)

// WatchStreamDesc describes the Watch RPC to both servers and clients.
var WatchStreamDesc = grpc.StreamDesc{
	StreamName:    "Watch",
	ServerStreams: true,
}

// WatchServer is implemented by the server side of the Watch RPC.
type WatchServer interface {
	Watch(req *structpb.Struct, stream grpc.ServerStream) error
}

// ServiceDesc registers a WatchServer on a *grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*WatchServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    WatchStreamDesc.StreamName,
		ServerStreams: true,
		Handler:       watchHandler,
	}},
	Metadata: "gpuctl/v1/watch.proto",
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(WatchServer).Watch(in, stream)
}

// Register adds impl to s under ServiceDesc.
func Register(s grpc.ServiceRegistrar, impl WatchServer) {
	s.RegisterService(&ServiceDesc, impl)
}

// WatchRequest is the decoded form of a Watch request message.
type WatchRequest struct {
	Kind      string            // kind or plural, e.g. "dockercmd" or "docker-cmds"
	Fields    map[string]string // exact filters
	Search    string            // fuzzy filter over the kind's search fields
	Filter    string            // CEL predicate
	Heartbeat time.Duration
}

// Encode converts r to its wire message.
func (r WatchRequest) Encode() (*structpb.Struct, error) {
	doc := map[string]any{"kind": r.Kind}
	if len(r.Fields) > 0 {
		fields := make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			fields[k] = v
		}
		doc["fields"] = fields
	}
	if r.Search != "" {
		doc["search"] = r.Search
	}
	if r.Filter != "" {
		doc["filter"] = r.Filter
	}
	if r.Heartbeat > 0 {
		doc["heartbeat_ms"] = float64(r.Heartbeat.Milliseconds())
	}
	return structpb.NewStruct(doc)
}

// DecodeWatchRequest parses a wire message. Non-string filter values are
// rejected.
func DecodeWatchRequest(msg *structpb.Struct) (WatchRequest, error) {
	var req WatchRequest
	f := msg.GetFields()
	req.Kind = f["kind"].GetStringValue()
	req.Search = f["search"].GetStringValue()
	req.Filter = f["filter"].GetStringValue()
	if ms := f["heartbeat_ms"].GetNumberValue(); ms > 0 {
		req.Heartbeat = time.Duration(ms) * time.Millisecond
	}
	if fields := f["fields"].GetStructValue(); fields != nil {
		req.Fields = make(map[string]string, len(fields.GetFields()))
		for k, v := range fields.GetFields() {
			sv, ok := v.GetKind().(*structpb.Value_StringValue)
			if !ok {
				return req, fmt.Errorf("field %q: expected a string value", k)
			}
			req.Fields[k] = sv.StringValue
		}
	}
	return req, nil
}

// EncodeEvent converts ev to a response message {type, data}. The payload
// is the record's public view; heartbeats carry no data.
func EncodeEvent(ev events.Event) (*structpb.Struct, error) {
	doc := map[string]any{"type": ev.Type.String()}
	if ev.Data != nil {
		raw, err := json.Marshal(model.PublicView(ev.Data))
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", ev.Data.Kind(), err)
		}
		var data map[string]any
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", ev.Data.Kind(), err)
		}
		doc["data"] = data
	}
	return structpb.NewStruct(doc)
}

// Message is a decoded Watch response.
type Message struct {
	Type events.EventType `json:"type"`
	Data json.RawMessage  `json:"data,omitempty"`
}

// DecodeEvent converts a response message back into its JSON payload.
func DecodeEvent(msg *structpb.Struct) (Message, error) {
	out := Message{Type: events.ParseEventType(msg.GetFields()["type"].GetStringValue())}
	if data := msg.GetFields()["data"].GetStructValue(); data != nil {
		raw, err := data.MarshalJSON()
		if err != nil {
			return out, fmt.Errorf("marshal data: %w", err)
		}
		out.Data = raw
	}
	return out, nil
}
