package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/alfredjeanlab/gpuctl/internal/model"
)

func TestResolveKind(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want model.Kind
		ok   bool
	}{
		{"cluster", model.KindCluster, true},
		{"Workers", model.KindWorker, true},
		{"docker-cmds", model.KindDockerCmd, true},
		{"dockercmd", model.KindDockerCmd, true},
		{"cmd", model.KindDockerCmd, true},
		{"gpu", "", false},
	} {
		got, err := resolveKind(tc.in)
		if (err == nil) != tc.ok || got != tc.want {
			t.Errorf("resolveKind(%q) = (%q, %v), want (%q, ok=%v)", tc.in, got, err, tc.want, tc.ok)
		}
	}
}

func TestSplitField(t *testing.T) {
	for _, tc := range []struct {
		in     string
		k, v   string
		wantOK bool
	}{
		{"name=lab", "name", "lab", true},
		{"cmd=a=b", "cmd", "a=b", true},
		{"empty=", "empty", "", true},
		{"=value", "", "", false},
		{"novalue", "", "", false},
	} {
		k, v, ok := splitField(tc.in)
		if k != tc.k || v != tc.v || ok != tc.wantOK {
			t.Errorf("splitField(%q) = (%q, %q, %v)", tc.in, k, v, ok)
		}
	}
}

func TestRawOrString(t *testing.T) {
	if _, ok := rawOrString(`{"gpu":"a100"}`).(json.RawMessage); !ok {
		t.Error("JSON object should pass through raw")
	}
	if _, ok := rawOrString(`{not json`).(string); !ok {
		t.Error("invalid JSON should stay a string")
	}
	// Scalars stay strings: every scalar attribute is a string.
	if v, ok := rawOrString("8080").(string); !ok || v != "8080" {
		t.Errorf("numeric value = %#v, want string", rawOrString("8080"))
	}
}

func TestParseDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	if err := os.WriteFile(path, []byte(`{"image":"alpine","cmd":"true"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	doc, err := parseDocument([]string{"cmd=sleep 1", `env={"A":"1"}`}, path)
	if err != nil {
		t.Fatalf("parseDocument: %v", err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["image"] != "alpine" || got["cmd"] != "sleep 1" {
		t.Errorf("doc = %v", got)
	}
	if env, ok := got["env"].(map[string]any); !ok || env["A"] != "1" {
		t.Errorf("env = %#v", got["env"])
	}

	if _, err := parseDocument([]string{"bogus"}, ""); err == nil {
		t.Error("expected error for pair without '='")
	}
	if _, err := parseDocument(nil, filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseFilters(t *testing.T) {
	fields, err := parseFilters([]string{"state=ready", "cluster_id=cl-1"})
	if err != nil {
		t.Fatalf("parseFilters: %v", err)
	}
	if fields["state"] != "ready" || fields["cluster_id"] != "cl-1" {
		t.Errorf("fields = %v", fields)
	}
	if fields, _ := parseFilters(nil); fields != nil {
		t.Errorf("no pairs should give nil, got %v", fields)
	}
	if _, err := parseFilters([]string{"state"}); err == nil {
		t.Error("expected error for malformed filter")
	}
}
