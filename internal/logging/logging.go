// Package logging builds the structured diagnostics logger the agent uses
// internally for its own operational events (worker errors, health
// transitions, dropped data) — distinct from whatever log record the
// embedding application is shipping through the rule engine.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New builds a JSON slog.Logger at the given level, tagged with a
// "component" attribute naming the caller that built it. Packages that
// receive the logger (processor, health monitor, rule engine) log under
// that same tag.
func New(level, component string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(level)})
	return slog.New(handler).With("component", component)
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
