// Package ui renders CLI output: colors keyed to record states and watch
// event types, and terminal detection.
package ui

import (
	"fmt"

	"github.com/alfredjeanlab/gpuctl/internal/events"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorCmd    = 250 // light gray
	colorMuted  = 245 // medium gray
	colorOK     = 114 // green
	colorWarn   = 221 // yellow
	colorFail   = 203 // red
)

var noColor bool

func paint(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return paint(colorCmd, s) }

// RenderEvent colors a watch event type: creations green, updates yellow,
// deletions red, heartbeats gray.
func RenderEvent(t events.EventType) string {
	name := t.String()
	switch t {
	case events.Created:
		return paint(colorOK, name)
	case events.Updated:
		return paint(colorWarn, name)
	case events.Deleted:
		return paint(colorFail, name)
	case events.Heartbeat:
		return paint(colorMuted, name)
	}
	return name
}

// RenderState colors a worker or docker command state.
func RenderState(state string) string {
	switch state {
	case "ready", "running", "active":
		return paint(colorOK, state)
	case "pending", "starting", "scheduled", "not_ready":
		return paint(colorWarn, state)
	case "unreachable", "error", "deleting":
		return paint(colorFail, state)
	}
	return state
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}

// ColorEnabled reports whether Render* functions emit escape codes.
func ColorEnabled() bool { return !noColor }
