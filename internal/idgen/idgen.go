// Package idgen generates short, URL-safe record IDs backed by nanoid.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"

	"github.com/alfredjeanlab/gpuctl/internal/model"
)

// Alphabet defines the character set used for the random portion of the ID.
const Alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Length is the number of random characters generated (excluding the prefix).
const Length = 12

var prefixes = map[model.Kind]string{
	model.KindCluster:   "cl-",
	model.KindWorker:    "wk-",
	model.KindDockerCmd: "dc-",
}

// Prefix returns the ID prefix for kind, or "rec-" for kinds without one.
func Prefix(kind model.Kind) string {
	if p, ok := prefixes[kind]; ok {
		return p
	}
	return "rec-"
}

// New returns a new unique ID for a record of kind.
func New(kind model.Kind) (string, error) {
	return WithPrefix(Prefix(kind))
}

// WithPrefix returns a new unique ID with the given prefix.
func WithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
