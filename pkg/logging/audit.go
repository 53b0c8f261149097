package logging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
)

// AuditEvent describes a security-relevant action.
type AuditEvent struct {
	// Action is a short snake_case verb, e.g. "login", "token_exchange".
	Action string
	// Outcome is "success", "failure" or "denied".
	Outcome string
	// UserHash identifies the user without exposing the email (see HashIdentity).
	UserHash string
	// SessionID should already be truncated with TruncateSessionID.
	SessionID string
	// Target is the resource or endpoint involved.
	Target string
	// Reason carries a stable error code on failure.
	Reason string
	// RemoteAddr is the client address as seen by the server.
	RemoteAddr string
}

// Audit logs a security audit event at INFO level with an [AUDIT] prefix
// for easy filtering by log aggregation systems.
func Audit(event AuditEvent) {
	l := logger()
	if l == nil || !l.Enabled(context.Background(), slog.LevelInfo) {
		return
	}

	attrs := []slog.Attr{
		slog.String("subsystem", "Audit"),
		slog.String("action", event.Action),
		slog.String("outcome", event.Outcome),
	}
	if event.UserHash != "" {
		attrs = append(attrs, slog.String("user", event.UserHash))
	}
	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session", event.SessionID))
	}
	if event.Target != "" {
		attrs = append(attrs, slog.String("target", event.Target))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}
	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote", event.RemoteAddr))
	}

	l.LogAttrs(context.Background(), slog.LevelInfo, "[AUDIT] "+event.Action, attrs...)
}

// TruncateSessionID shortens a session id for logging.
func TruncateSessionID(sessionID string) string {
	if len(sessionID) <= 8 {
		return sessionID
	}
	return sessionID[:8] + "..."
}

// HashIdentity returns a short, stable, non-reversible label for an email or
// canonical user id so that log lines can be correlated without exposing it.
func HashIdentity(identity string) string {
	if identity == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(strings.ToLower(identity)))
	return hex.EncodeToString(sum[:])[:8]
}

// RedactedToken wraps a secret string so it never appears in logs or JSON output.
type RedactedToken string

// String implements fmt.Stringer.
func (RedactedToken) String() string { return "[REDACTED]" }

// GoString implements fmt.GoStringer so %#v is covered too.
func (RedactedToken) GoString() string { return "[REDACTED]" }

// MarshalJSON renders the token as a redacted string.
func (RedactedToken) MarshalJSON() ([]byte, error) { return []byte(`"[REDACTED]"`), nil }

// Value returns the underlying secret.
func (t RedactedToken) Value() string { return string(t) }
