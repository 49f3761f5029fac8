package audit

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
)

// setupTestLogger creates a test logger with an observer to capture log entries.
func setupTestLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, recorded := observer.New(zapcore.DebugLevel)
	return zap.New(core), recorded
}

func TestLogInjectionAttempt(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	details := InjectionDetails{
		ParamName:   "search",
		ParamValue:  "'; DROP TABLE users--",
		Fingerprint: "s&1c",
		DatasetID:   "customers",
	}

	tests := []struct {
		name     string
		qc       *models.QueryContext
		wantUser string
		wantOrg  string
	}{
		{
			name:     "with query context",
			qc:       &models.QueryContext{UserID: "user-123", OrganizationID: "org-1"},
			wantUser: "user-123",
			wantOrg:  "org-1",
		},
		{
			name: "without query context",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorded.TakeAll()

			auditor.LogInjectionAttempt(tt.qc, details, "192.168.1.100")

			logs := recorded.All()
			require.Len(t, logs, 1)
			entry := logs[0]
			assert.Equal(t, zapcore.ErrorLevel, entry.Level)
			assert.Equal(t, "SQL injection attempt detected", entry.Message)
			assert.Equal(t, "security_audit", entry.LoggerName)

			fields := entry.ContextMap()
			assert.Equal(t, tt.wantUser, fields["user_id"])
			assert.Equal(t, tt.wantOrg, fields["organization_id"])
			assert.Equal(t, "search", fields["param_name"])
			assert.Equal(t, "s&1c", fields["fingerprint"])
			assert.Equal(t, "critical", fields["severity"])
			assert.NotContains(t, fields, "param_value", "raw value only travels inside event_json")

			eventJSON, ok := fields["event_json"].(string)
			require.True(t, ok)
			var event SecurityEvent
			require.NoError(t, json.Unmarshal([]byte(eventJSON), &event))
			assert.Equal(t, EventSQLInjectionAttempt, event.EventType)
			assert.Equal(t, tt.wantUser, event.UserID)
			assert.Equal(t, "192.168.1.100", event.ClientIP)

			detailsMap, ok := event.Details.(map[string]any)
			require.True(t, ok)
			assert.Equal(t, "'; DROP TABLE users--", detailsMap["param_value"])
			assert.Equal(t, "customers", detailsMap["dataset_id"])
		})
	}
}

func TestLogQueryRejected(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	qc := &models.QueryContext{UserID: "user-456", OrganizationID: "org-2"}
	auditor.LogQueryRejected(qc, "Only SELECT statements are allowed", "10.0.0.50")

	logs := recorded.All()
	require.Len(t, logs, 1)
	assert.Equal(t, zapcore.WarnLevel, logs[0].Level)
	fields := logs[0].ContextMap()
	assert.Equal(t, "Only SELECT statements are allowed", fields["reason"])
	assert.Equal(t, "warning", fields["severity"])
	assert.Equal(t, "org-2", fields["organization_id"])
}

func TestLogAccessDenied(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	qc := &models.QueryContext{UserID: "user-789"}
	auditor.LogAccessDenied(qc, "clubs", "Dataset access denied", "")

	logs := recorded.All()
	require.Len(t, logs, 1)
	fields := logs[0].ContextMap()
	assert.Equal(t, "Access denied", logs[0].Message)
	assert.Equal(t, "clubs", fields["dataset_id"])

	var event SecurityEvent
	require.NoError(t, json.Unmarshal([]byte(fields["event_json"].(string)), &event))
	assert.Equal(t, EventAccessDenied, event.EventType)
	assert.Empty(t, event.ClientIP)
}
