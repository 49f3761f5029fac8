// Package audit records BI queries in a tamper-evident query log and emits
// security events in structured JSON for SIEM consumption.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection flags a parameter value.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventQueryRejected is logged when a statement fails shape or allow-list checks.
	EventQueryRejected SecurityEventType = "query_rejected"
	// EventAccessDenied is logged when a caller is refused a dataset, field or organization.
	EventAccessDenied SecurityEventType = "access_denied"
)

// SecurityEvent is an auditable security event with the caller's identity.
type SecurityEvent struct {
	ID             uuid.UUID         `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	EventType      SecurityEventType `json:"event_type"`
	OrganizationID string            `json:"organization_id,omitempty"`
	UserID         string            `json:"user_id,omitempty"`
	ClientIP       string            `json:"client_ip,omitempty"`
	Details        any               `json:"details"`
	Severity       string            `json:"severity"` // info, warning, critical
}

// InjectionDetails describes one flagged parameter.
type InjectionDetails struct {
	ParamName   string `json:"param_name"`
	ParamValue  string `json:"param_value"`
	Fingerprint string `json:"fingerprint"`
	DatasetID   string `json:"dataset_id,omitempty"`
}

// SecurityAuditor logs security events under the "security_audit" logger.
type SecurityAuditor struct {
	logger *zap.Logger
}

func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

func (a *SecurityAuditor) event(qc *models.QueryContext, eventType SecurityEventType, severity, clientIP string, details any) SecurityEvent {
	ev := SecurityEvent{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		ClientIP:  clientIP,
		Details:   details,
		Severity:  severity,
	}
	if qc != nil {
		ev.UserID = qc.UserID
		ev.OrganizationID = qc.OrganizationID
	}
	return ev
}

func (a *SecurityAuditor) fields(ev SecurityEvent) []zap.Field {
	// Marshaling known types cannot fail.
	eventJSON, _ := json.Marshal(ev)
	return []zap.Field{
		zap.String("event_json", string(eventJSON)),
		zap.String("organization_id", ev.OrganizationID),
		zap.String("user_id", ev.UserID),
		zap.String("client_ip", ev.ClientIP),
		zap.String("severity", ev.Severity),
	}
}

// LogInjectionAttempt records a flagged parameter at ERROR with critical severity.
// The raw value is kept only inside the event JSON.
func (a *SecurityAuditor) LogInjectionAttempt(qc *models.QueryContext, details InjectionDetails, clientIP string) {
	ev := a.event(qc, EventSQLInjectionAttempt, "critical", clientIP, details)
	a.logger.Error("SQL injection attempt detected", append(a.fields(ev),
		zap.String("param_name", details.ParamName),
		zap.String("fingerprint", details.Fingerprint),
	)...)
}

// LogQueryRejected records a statement refused by the parser or validator.
// These are usually user errors, so they log at WARN.
func (a *SecurityAuditor) LogQueryRejected(qc *models.QueryContext, reason, clientIP string) {
	ev := a.event(qc, EventQueryRejected, "warning", clientIP, map[string]string{"reason": reason})
	a.logger.Warn("Query rejected", append(a.fields(ev), zap.String("reason", reason))...)
}

// LogAccessDenied records a refused dataset, field or organization scope.
func (a *SecurityAuditor) LogAccessDenied(qc *models.QueryContext, datasetID, reason, clientIP string) {
	ev := a.event(qc, EventAccessDenied, "warning", clientIP, map[string]string{
		"dataset_id": datasetID,
		"reason":     reason,
	})
	a.logger.Warn("Access denied", append(a.fields(ev),
		zap.String("dataset_id", datasetID),
		zap.String("reason", reason),
	)...)
}
