package client

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/alfredjeanlab/gpuctl/internal/events"
	"github.com/alfredjeanlab/gpuctl/internal/model"
)

func TestFrameReader(t *testing.T) {
	stream := `{"type":"CREATED","data":{"id":"cl-1","name":"a"}}` + "\n\n" +
		"\n\n" +
		`{"type":"UPDATED","data":{"id":"cl-1","name":"b"}}`
	fr := NewFrameReader(model.KindCluster, strings.NewReader(stream))

	ev, err := fr.Next()
	if err != nil || ev.Type != events.Created || ev.Data.(*model.Cluster).Name != "a" {
		t.Fatalf("first = %+v, %v", ev, err)
	}
	ev, err = fr.Next()
	if err != nil || ev.Type != events.Heartbeat || ev.Data != nil {
		t.Fatalf("second = %+v, %v", ev, err)
	}
	// A trailing frame without its delimiter is still delivered.
	ev, err = fr.Next()
	if err != nil || ev.Type != events.Updated || ev.Data.(*model.Cluster).Name != "b" {
		t.Fatalf("third = %+v, %v", ev, err)
	}
	if _, err := fr.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestFrameReader_BadFrame(t *testing.T) {
	fr := NewFrameReader(model.KindWorker, strings.NewReader("not json\n\n"))
	if _, err := fr.Next(); err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestScanFrames_Partial(t *testing.T) {
	adv, tok, err := ScanFrames([]byte(`{"type":"CREA`), false)
	if adv != 0 || tok != nil || err != nil {
		t.Errorf("partial frame = (%d, %q, %v), want request for more data", adv, tok, err)
	}
}
