package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alfredjeanlab/gpuctl/internal/model"
)

// kindAliases maps accepted spellings beyond the kind and its plural.
var kindAliases = map[string]model.Kind{
	"docker-cmd": model.KindDockerCmd,
	"cmd":        model.KindDockerCmd,
	"cmds":       model.KindDockerCmd,
}

// resolveKind accepts a kind ("worker"), its plural ("workers"), or an alias.
func resolveKind(s string) (model.Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if k := model.Kind(s); k.IsValid() {
		return k, nil
	}
	if info, ok := model.LookupPlural(s); ok {
		return info.Kind, nil
	}
	if k, ok := kindAliases[s]; ok {
		return k, nil
	}
	return "", fmt.Errorf("unknown kind %q (want cluster, worker, or dockercmd)", s)
}

// splitField splits "key=value" into (key, value, true).
// Returns ("", "", false) if there is no '=' or key is empty.
func splitField(s string) (string, string, bool) {
	i := strings.IndexByte(s, '=')
	if i <= 0 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

// rawOrString returns a json.RawMessage when v is a JSON object or array
// (labels, port maps, environments) and v itself otherwise. Every scalar
// attribute of a record is a string, so numbers and booleans stay quoted.
func rawOrString(v string) any {
	if len(v) > 0 && (v[0] == '{' || v[0] == '[') && json.Valid([]byte(v)) {
		return json.RawMessage(v)
	}
	return v
}

// parseDocument builds a request document from key=value pairs, layered over
// an optional JSON file ("-" reads stdin).
func parseDocument(pairs []string, file string) (map[string]any, error) {
	doc := make(map[string]any)
	if file != "" {
		var data []byte
		var err error
		if file == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(file)
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", file, err)
		}
	}
	for _, p := range pairs {
		k, v, ok := splitField(p)
		if !ok {
			return nil, fmt.Errorf("invalid field %q (want key=value)", p)
		}
		doc[k] = rawOrString(v)
	}
	return doc, nil
}

// parseFilters turns key=value pairs into exact-match list filters.
func parseFilters(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	fields := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := splitField(p)
		if !ok {
			return nil, fmt.Errorf("invalid filter %q (want key=value)", p)
		}
		fields[k] = v
	}
	return fields, nil
}
