package notify

import (
	"context"
	"log/slog"

	"github.com/sa32552/regtech-engine/internal/domain/model"
)

// LogSink writes every event as a structured log record.
type LogSink struct {
	Logger *slog.Logger
}

// Send logs the event. Failures and alerts log at WARN, everything else at INFO.
func (s LogSink) Send(ctx context.Context, event model.Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if event.Type == model.EventJobFailed || event.Type == model.EventAlertRaised {
		level = slog.LevelWarn
	}
	attrs := []any{
		"event", string(event.Type),
		"job_id", event.JobID,
		"job_type", string(event.JobType),
		"group_id", event.GroupID,
		"subject_id", event.SubjectID,
		"status", event.Status,
	}
	if event.Severity != "" {
		attrs = append(attrs, "severity", string(event.Severity))
	}
	if event.Message != "" {
		attrs = append(attrs, "message", event.Message)
	}
	if len(event.Attributes) > 0 {
		attrs = append(attrs, "attributes", event.Attributes)
	}
	logger.Log(ctx, level, Summary(event), attrs...)
	return nil
}
