// Package telemetry emits structured JSONL events for observability and
// collects non-fatal errors. Every entry point is fire-and-forget: telemetry
// never returns an error and never panics, so callers can log from any point
// in the turn loop without handling failures.
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu     sync.Mutex
	logger *zerolog.Logger
)

// isObserveEnabled checks if JSONL emission is enabled.
func isObserveEnabled() bool {
	return os.Getenv("GROK_OBSERVE_JSON") == "1"
}

func eventLogger() *zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if logger != nil {
		return logger
	}

	dir := ".grok"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry: mkdir %s: %v\n", dir, err)
		return nil
	}
	path := filepath.Join(dir, "events.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry: open %s: %v\n", path, err)
		return nil
	}
	l := zerolog.New(f).With().Timestamp().Logger()
	logger = &l
	return logger
}

// Emit writes a single JSON line to .grok/events.jsonl when
// GROK_OBSERVE_JSON=1. The event name goes in the "event" field; fields are
// flattened into the entry.
func Emit(name string, fields map[string]any) {
	if !isObserveEnabled() {
		return
	}
	l := eventLogger()
	if l == nil {
		return
	}
	l.Log().Str("event", name).Fields(fields).Send()
}

// ToolCallEvent describes one completed tool call for logging.
type ToolCallEvent struct {
	Name       string
	DurationMs int64
	Success    bool
	Decision   string // confirmation outcome, empty when auto-approved
	Error      string
}

// LogToolCall emits one event per completed tool call.
func LogToolCall(ev ToolCallEvent) {
	fields := map[string]any{
		"tool_name":   ev.Name,
		"duration_ms": ev.DurationMs,
		"success":     ev.Success,
	}
	if ev.Decision != "" {
		fields["decision"] = ev.Decision
	}
	if ev.Error != "" {
		fields["error"] = ev.Error
	}
	Emit("tool_call", fields)
}

// Report records a non-fatal error with context, typically a transport or
// stream failure surfaced to the model loop. It never fails.
func Report(err error, context string) {
	if err == nil {
		return
	}
	if isObserveEnabled() {
		if l := eventLogger(); l != nil {
			l.Log().Str("event", "error").Str("context", context).Str("error", err.Error()).Send()
			return
		}
	}
	fmt.Fprintf(os.Stderr, "error (%s): %v\n", context, err)
}
