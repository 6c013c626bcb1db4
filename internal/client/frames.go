package client

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/alfredjeanlab/gpuctl/internal/events"
	"github.com/alfredjeanlab/gpuctl/internal/model"
)

// maxFrameSize bounds a single watch frame.
const maxFrameSize = 4 << 20

var frameDelimiter = []byte("\n\n")

// ScanFrames is a bufio.SplitFunc that splits a watch stream on blank
// lines. A heartbeat yields an empty token.
func ScanFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.Index(data, frameDelimiter); i >= 0 {
		return i + len(frameDelimiter), data[:i], nil
	}
	if atEOF && len(bytes.TrimSpace(data)) > 0 {
		return len(data), bytes.TrimSpace(data), nil
	}
	if atEOF {
		return len(data), nil, nil
	}
	return 0, nil, nil
}

// FrameReader decodes watch frames for one kind.
type FrameReader struct {
	kind model.Kind
	sc   *bufio.Scanner
}

// NewFrameReader reads frames of records of kind from r.
func NewFrameReader(kind model.Kind, r io.Reader) *FrameReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	sc.Split(ScanFrames)
	return &FrameReader{kind: kind, sc: sc}
}

// Next returns the next event. It returns io.EOF when the stream ends.
func (fr *FrameReader) Next() (WatchEvent, error) {
	if !fr.sc.Scan() {
		if err := fr.sc.Err(); err != nil {
			return WatchEvent{}, fmt.Errorf("reading watch stream: %w", err)
		}
		return WatchEvent{}, io.EOF
	}
	frame := fr.sc.Bytes()
	if len(frame) == 0 {
		return WatchEvent{Type: events.Heartbeat}, nil
	}
	return decodeFrame(fr.kind, frame)
}

func decodeFrame(kind model.Kind, frame []byte) (WatchEvent, error) {
	var msg struct {
		Type events.EventType `json:"type"`
		Data json.RawMessage  `json:"data"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		return WatchEvent{}, fmt.Errorf("decoding watch frame: %w", err)
	}
	ev := WatchEvent{Type: msg.Type}
	if len(msg.Data) > 0 && string(msg.Data) != "null" {
		rec, err := model.Decode(kind, msg.Data)
		if err != nil {
			return WatchEvent{}, err
		}
		ev.Data = rec
	}
	return ev, nil
}
