package watch

import (
	"encoding/json"
	"fmt"

	"github.com/alfredjeanlab/gpuctl/internal/events"
	"github.com/alfredjeanlab/gpuctl/internal/model"
)

// FrameDelimiter terminates every frame on the wire. A heartbeat is a bare
// delimiter.
const FrameDelimiter = "\n\n"

type frame struct {
	Type events.EventType `json:"type"`
	Data any              `json:"data"`
}

// Encode renders ev as one wire frame: compact JSON followed by a blank line,
// with the payload projected to its public view. Heartbeats encode as the
// delimiter alone.
func Encode(ev events.Event) ([]byte, error) {
	if ev.Type == events.Heartbeat {
		return []byte(FrameDelimiter), nil
	}
	var data any
	if ev.Data != nil {
		data = model.PublicView(ev.Data)
	}
	b, err := json.Marshal(frame{Type: ev.Type, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	return append(b, FrameDelimiter...), nil
}
