// Package logging provides the structured logging used throughout m365gate.
//
// It wraps log/slog with a subsystem-oriented call style:
//
//	logging.InitForCLI(logging.LevelInfo, os.Stdout)
//
//	logging.Info("Bootstrap", "Listening on %s", addr)
//	logging.Debug("TokenProvider", "Cache miss for %s", logging.HashIdentity(userID))
//	logging.Error("Storage", err, "Failed to persist token record")
//
// Every record carries a "subsystem" attribute and, for Error, an "error"
// attribute.
//
// # Secrets
//
// Upstream tokens, gateway tokens and the signing key must never be passed
// to the logger. Emails are logged through HashIdentity, session ids through
// TruncateSessionID. RedactedToken can be embedded in structs that may end up
// in %v or JSON output.
//
// # Audit Logging
//
//	logging.Audit(logging.AuditEvent{
//	    Action:   "token_exchange",
//	    Outcome:  "success",
//	    UserHash: logging.HashIdentity(email),
//	})
//
// Audit events are logged at INFO level with an [AUDIT] prefix.
//
// # Controller-Runtime Integration
//
// InitForCLI also installs the handler as the controller-runtime logger so the
// kubernetes storage backend logs through the same output.
package logging
