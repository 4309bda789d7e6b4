// Package notify delivers engine lifecycle events to external destinations.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/sa32552/regtech-engine/internal/domain/model"
)

// SeverityCritical is assumed when an event carries no severity.
const SeverityCritical = "critical"

// Sink describes a destination capable of consuming engine events.
type Sink interface {
	Send(ctx context.Context, event model.Event) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, event model.Event) error

// Send implements the Sink interface.
func (f SinkFunc) Send(ctx context.Context, event model.Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// SeverityOf returns the event severity in lower case, defaulting to critical.
func SeverityOf(event model.Event) string {
	if event.Severity == "" {
		return SeverityCritical
	}
	return strings.ToLower(string(event.Severity))
}

// Summary is a one-line human description of the event.
func Summary(event model.Event) string {
	switch event.Type {
	case model.EventJobFailed:
		return fmt.Sprintf("Job %s (%s) failed", fallback(event.JobID, "unknown"), fallback(string(event.JobType), "unknown"))
	case model.EventJobRetrying:
		return fmt.Sprintf("Job %s (%s) will be retried", event.JobID, event.JobType)
	case model.EventJobCompleted:
		return fmt.Sprintf("Job %s (%s) completed", event.JobID, event.JobType)
	case model.EventJobCancelled:
		return fmt.Sprintf("Job %s (%s) cancelled", event.JobID, event.JobType)
	case model.EventGroupCompleted:
		return fmt.Sprintf("Group %s completed for subject %s", event.GroupID, fallback(event.SubjectID, "unknown"))
	case model.EventAlertRaised:
		return fmt.Sprintf("Compliance alert for subject %s", fallback(event.SubjectID, "unknown"))
	default:
		return string(event.Type)
	}
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}
