package pagerduty

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sa32552/regtech-engine/internal/domain/model"
	"github.com/sa32552/regtech-engine/internal/observability/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}

func TestBuildEventDefaults(t *testing.T) {
	client, err := NewClient(Config{RoutingKey: "key", Timeout: time.Second})
	require.NoError(t, err)

	event := client.buildEvent(model.Event{
		Type:    model.EventJobFailed,
		JobID:   "123",
		JobType: model.JobTypeRulesExecution,
		Message: "boom",
	})

	payload, ok := event["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, notify.SeverityCritical, payload["severity"])
	assert.Equal(t, "regtech-engine", payload["source"])
	assert.Equal(t, "orchestrator", payload["component"])
	assert.Equal(t, "Job 123 (RULES_EXECUTION) failed", payload["summary"])

	custom, ok := payload["custom_details"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"job_id", "job_type", "message", "event"} {
		assert.Contains(t, custom, key)
	}
	assert.Equal(t, "job:RULES_EXECUTION:123", event["dedup_key"])
}

func TestSeverityAndDedup(t *testing.T) {
	tests := []struct {
		sev  model.Severity
		want string
	}{
		{model.SeverityCritical, "critical"},
		{model.SeverityHigh, "error"},
		{model.SeverityMedium, "warning"},
		{model.SeverityLow, "info"},
		{"", "critical"},
	}
	for _, tt := range tests {
		t.Run(string(tt.sev), func(t *testing.T) {
			assert.Equal(t, tt.want, severity(tt.sev))
		})
	}
	assert.Equal(t, "alert:c-1", dedupKey(model.Event{Type: model.EventAlertRaised, SubjectID: "c-1"}))
}

func TestSendPostsToEndpoint(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client, err := NewClient(Config{RoutingKey: "rk", Endpoint: srv.URL})
	require.NoError(t, err)
	require.NoError(t, client.Send(context.Background(), model.Event{
		Type: model.EventAlertRaised, SubjectID: "c-9", Severity: model.SeverityHigh,
	}))
	assert.Equal(t, "rk", got["routing_key"])
	assert.Equal(t, "alert:c-9", got["dedup_key"])
}
