package sync

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alfredjeanlab/gpuctl/internal/model"
	"github.com/alfredjeanlab/gpuctl/internal/store"
)

// FormatVersion is written in the header of every export.
const FormatVersion = "1"

// exportOrder lists kinds parents first, so a replay of the file never
// references a record that has not been seen yet.
var exportOrder = []model.Kind{model.KindCluster, model.KindWorker, model.KindDockerCmd}

// Header is the first JSONL record written by ExportJSONL.
type Header struct {
	Version   string             `json:"version"`
	Type      string             `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
	Counts    map[model.Kind]int `json:"counts"`
}

// record wraps a single JSONL line with a kind discriminator.
type record struct {
	Type model.Kind   `json:"type"`
	Data model.Record `json:"data"`
}

// ExportJSONL writes every record in the store as JSONL to w, including
// records still being deleted. Records are grouped by kind, parents first,
// and sorted by ID within a kind. Exports are backups: private fields such
// as docker command environments are kept.
func ExportJSONL(ctx context.Context, s store.Store, w io.Writer) error {
	byKind := make(map[model.Kind][]model.Record, len(exportOrder))
	counts := make(map[model.Kind]int, len(exportOrder))
	for _, kind := range exportOrder {
		recs, _, err := s.List(ctx, kind, model.ListFilter{IncludeDeleting: true})
		if err != nil {
			return fmt.Errorf("list %s: %w", kind, err)
		}
		sort.Slice(recs, func(i, j int) bool {
			return recs[i].PrimaryKey() < recs[j].PrimaryKey()
		})
		byKind[kind] = recs
		counts[kind] = len(recs)
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(Header{
		Version:   FormatVersion,
		Type:      "header",
		Timestamp: time.Now().UTC(),
		Counts:    counts,
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, kind := range exportOrder {
		for _, rec := range byKind[kind] {
			if err := enc.Encode(record{Type: kind, Data: rec}); err != nil {
				return fmt.Errorf("encode %s %s: %w", kind, rec.PrimaryKey(), err)
			}
		}
	}
	return nil
}

// ReadJSONL parses an export produced by ExportJSONL and calls fn for each
// record in file order.
func ReadJSONL(r io.Reader, fn func(model.Record) error) (*Header, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var h *Header
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		if h == nil {
			h = new(Header)
			if err := json.Unmarshal(raw, h); err != nil || h.Type != "header" {
				return nil, fmt.Errorf("line %d: expected export header", line)
			}
			if h.Version != FormatVersion {
				return nil, fmt.Errorf("unsupported export version %q", h.Version)
			}
			continue
		}

		var env struct {
			Type model.Kind      `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return h, fmt.Errorf("line %d: %w", line, err)
		}
		rec, err := model.Decode(env.Type, env.Data)
		if err != nil {
			return h, fmt.Errorf("line %d: %w", line, err)
		}
		if err := fn(rec); err != nil {
			return h, err
		}
	}
	if err := sc.Err(); err != nil {
		return h, fmt.Errorf("read export: %w", err)
	}
	if h == nil {
		return nil, fmt.Errorf("empty export")
	}
	return h, nil
}
