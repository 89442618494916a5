package audit

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"classdesk.org/internal/auth"
	"classdesk.org/internal/obs"
)

// Event names emitted by the API.
const (
	EventLoginSucceeded  = "auth.login.succeeded"
	EventLoginFailed     = "auth.login.failed"
	EventLogout          = "auth.logout"
	EventPasswordChanged = "auth.password.changed"
	EventPasswordReset   = "auth.password.reset"
	EventUserCreated     = "user.created"
	EventAccessDenied    = "auth.access.denied"
)

// Logger writes audit events as structured log lines with type=audit.
type Logger struct {
	log *slog.Logger
}

// New returns an audit logger on top of l.
func New(l *slog.Logger) *Logger {
	if l == nil {
		l = slog.Default()
	}
	return &Logger{log: l}
}

// LogEvent writes an audit entry enriched with request and user context.
// Callers must not put secrets in fields.
func (l *Logger) LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("audit: event name is required")
	}
	attrs := []slog.Attr{
		slog.String("type", "audit"),
		slog.String("event", event),
	}
	if rid := obs.RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		attrs = append(attrs, slog.Int64("user_id", userID))
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	group := make([]any, 0, len(keys))
	for _, k := range keys {
		group = append(group, slog.Any(k, fields[k]))
	}
	attrs = append(attrs, slog.Group("fields", group...))
	l.log.LogAttrs(context.WithoutCancel(ctx), slog.LevelInfo, "audit", attrs...)
	return nil
}
