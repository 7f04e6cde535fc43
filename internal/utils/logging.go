package utils

import (
	"context"
	"log/slog"

	"github.com/checkdeck/checkdeck/internal/orchestration"
)

// EventToSlog logs a runner progress event at debug level. The check for
// the level up front keeps attribute assembly off the hot path when debug
// logging is disabled.
func EventToSlog(event orchestration.ProgressEvent) {
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}

	attrs := []any{
		"type", string(event.EventType),
	}

	attrs = addIf(attrs, "check", event.Check)
	attrs = addIf(attrs, "unit", event.Unit)
	attrs = addIf(attrs, "task", event.TaskNum)
	attrs = addIf(attrs, "totalTasks", event.TotalTasks)
	attrs = addIf(attrs, "status", string(event.Status))
	attrs = addIf(attrs, "durationMs", event.DurationMs)
	if reason, ok := event.Details["reason"].(string); ok {
		attrs = addIf(attrs, "reason", reason)
	}

	slog.Debug("progress event", attrs...)
}

func addIf[T comparable](attrs []any, name string, v T) []any {
	var zero T
	if v != zero {
		attrs = append(attrs, name)
		attrs = append(attrs, v)
	}

	return attrs
}
