package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent describes a security-relevant action taken against an account.
// Events are written to the regular log stream under the "audit" message so
// downstream tooling can filter on audit_type.
type AuditEvent struct {
	EventType     string
	UserID        string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger emits the audit trail for login attempts, credential changes
// and account lifecycle actions. Failures log at Warn so alerting can key on
// level alone.
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

// LogAuthAttempt records a login, refresh, logout or 2FA completion attempt.
// IP and user agent are included when the caller has them; user ID may be
// empty for attempts against unknown emails.
func (al *AuditLogger) LogAuthAttempt(event AuditEvent) {
	attrs := al.baseAttrs("auth", event.EventType)
	attrs = append(attrs, slog.Bool("success", event.Success))
	attrs = appendIfSet(attrs, "user_id", event.UserID)
	attrs = appendIfSet(attrs, "ip_address", event.IPAddress)
	attrs = appendIfSet(attrs, "user_agent", event.UserAgent)
	attrs = appendIfSet(attrs, "failure_reason", event.FailureReason)

	al.emit(event.Success, attrs)
}

// LogPasswordChange records a password change or reset outcome.
func (al *AuditLogger) LogPasswordChange(userID, ipAddress string, success bool) {
	attrs := al.baseAttrs("password", "password_change")
	attrs = append(attrs,
		slog.Bool("success", success),
		slog.String("user_id", userID),
	)
	attrs = appendIfSet(attrs, "ip_address", ipAddress)

	al.emit(success, attrs)
}

// LogAccountAction records non-credential account events such as profile
// updates, 2FA enrollment changes and account deletion.
func (al *AuditLogger) LogAccountAction(eventType, userID, ipAddress string, metadata map[string]string) {
	attrs := al.baseAttrs("account", eventType)
	attrs = append(attrs, slog.String("user_id", userID))
	attrs = appendIfSet(attrs, "ip_address", ipAddress)
	for key, val := range metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	al.emit(true, attrs)
}

func (al *AuditLogger) baseAttrs(auditType, eventType string) []slog.Attr {
	return []slog.Attr{
		slog.String("audit_type", auditType),
		slog.String("event_type", eventType),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
}

func (al *AuditLogger) emit(success bool, attrs []slog.Attr) {
	level := slog.LevelInfo
	if !success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(context.Background(), level, "audit", attrs...)
}

func appendIfSet(attrs []slog.Attr, key, val string) []slog.Attr {
	if val == "" {
		return attrs
	}
	return append(attrs, slog.String(key, val))
}
