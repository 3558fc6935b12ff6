// Package audit writes security events for generated queries in a form SIEM
// pipelines can parse: one structured log line per event, with the full
// event also serialized under event_json.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/auth"
	"github.com/ekaya-inc/insightpilot/pkg/logging"
	sqlgate "github.com/ekaya-inc/insightpilot/pkg/sql"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection flags a literal in a generated query.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventQueryRejected is logged when the read-only gate refuses a generated query.
	EventQueryRejected SecurityEventType = "query_rejected"
	// EventQueryExecution is logged for every query sent to a backend.
	EventQueryExecution SecurityEventType = "query_execution"
)

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// SecurityEvent is the serialized form of one audit record.
type SecurityEvent struct {
	Timestamp  time.Time         `json:"timestamp"`
	EventType  SecurityEventType `json:"event_type"`
	RunID      string            `json:"run_id"`
	Connection string            `json:"connection"`
	Provider   string            `json:"provider,omitempty"`
	Subject    string            `json:"subject,omitempty"`
	Details    any               `json:"details"`
	Severity   string            `json:"severity"`
}

// RunInfo identifies the pipeline run an event belongs to.
type RunInfo struct {
	RunID      string
	Connection string
	Provider   string
}

// RejectionDetails describe a gate rejection.
type RejectionDetails struct {
	Gate        string `json:"gate"`
	Reason      string `json:"reason"`
	Keyword     string `json:"keyword,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"` // libinjection fingerprint for pattern analysis
	Query       string `json:"query"`
}

// ExecutionDetails describe a query sent to a backend.
type ExecutionDetails struct {
	Query      string `json:"query"`
	Attempt    int    `json:"attempt"`
	RowCount   int    `json:"row_count"`
	ExecTimeMs int64  `json:"exec_time_ms"`
	Failed     bool   `json:"failed"`
}

// SecurityAuditor logs security events. A nil *SecurityAuditor is valid and
// records nothing.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates an auditor logging under the "security_audit"
// namespace.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogRejection records a generated query refused by a gate. Injection hits
// are logged at ERROR with critical severity; other rejections at WARN. The
// subject comes from the JWT claims on ctx when the run was authenticated.
//
// Example usage:
//
//	auditor.LogRejection(ctx, audit.RunInfo{RunID: id, Connection: "shop"},
//	    candidate, err)
func (a *SecurityAuditor) LogRejection(ctx context.Context, run RunInfo, query string, rejection error) {
	if a == nil {
		return
	}

	details := RejectionDetails{
		Gate:   "sanitize",
		Reason: logging.SanitizeError(rejection),
		Query:  logging.SanitizeQuery(query),
	}
	eventType := EventQueryRejected
	severity := SeverityWarning

	var rej *sqlgate.RejectionError
	if errors.As(rejection, &rej) {
		details.Gate = rej.Gate
		details.Reason = rej.Reason
		details.Keyword = rej.Keyword
		if rej.Injection {
			eventType = EventSQLInjectionAttempt
			severity = SeverityCritical
			details.Keyword = ""
			details.Fingerprint = rej.Keyword
		}
	}

	event := a.newEvent(ctx, eventType, run, details, severity)
	fields := []zap.Field{
		zap.String("event_json", marshal(event)),
		zap.String("run_id", run.RunID),
		zap.String("connection", run.Connection),
		zap.String("gate", details.Gate),
		zap.String("subject", event.Subject),
		zap.String("severity", severity),
	}

	if eventType == EventSQLInjectionAttempt {
		a.logger.Error("SQL injection attempt detected",
			append(fields, zap.String("fingerprint", details.Fingerprint))...)
		return
	}
	a.logger.Warn("Generated query rejected",
		append(fields, zap.String("reason", details.Reason))...)
}

// LogQueryExecution records a query sent to a backend, successful or not.
// This can generate high log volume.
func (a *SecurityAuditor) LogQueryExecution(ctx context.Context, run RunInfo, details ExecutionDetails) {
	if a == nil {
		return
	}
	details.Query = logging.SanitizeQuery(details.Query)
	event := a.newEvent(ctx, EventQueryExecution, run, details, SeverityInfo)

	a.logger.Info("Query executed",
		zap.String("event_json", marshal(event)),
		zap.String("run_id", run.RunID),
		zap.String("connection", run.Connection),
		zap.String("provider", run.Provider),
		zap.Int("attempt", details.Attempt),
		zap.Bool("failed", details.Failed),
		zap.String("subject", event.Subject),
		zap.String("severity", SeverityInfo),
	)
}

func (a *SecurityAuditor) newEvent(ctx context.Context, t SecurityEventType, run RunInfo, details any, severity string) SecurityEvent {
	return SecurityEvent{
		Timestamp:  time.Now().UTC(),
		EventType:  t,
		RunID:      run.RunID,
		Connection: run.Connection,
		Provider:   run.Provider,
		Subject:    auth.SubjectFromContext(ctx),
		Details:    details,
		Severity:   severity,
	}
}

func marshal(event SecurityEvent) string {
	// Every field is a plain value; marshaling cannot fail.
	b, _ := json.Marshal(event)
	return string(b)
}
