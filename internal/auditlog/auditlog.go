// Package auditlog implements the optional per-request audit log file.
//
// Each handler invocation opens a Scope, writes a few structured lines and
// closes it on every exit path. The file is opened in append mode per scope
// so concurrent invocations never share a file handle. Logging is
// best-effort: when the file cannot be opened the scope silently discards
// everything and the response path is never affected.
package auditlog

import (
	"io"
	"log/slog"
	"os"

	"onshape-gateway/internal/config"
)

// Sink hands out audit scopes.
type Sink struct {
	enabled bool
	path    string
	logger  *slog.Logger
}

// NewSink creates a Sink from the log configuration. When auditing is
// disabled every scope is a no-op.
func NewSink(cfg *config.Config, logger *slog.Logger) *Sink {
	return &Sink{
		enabled: cfg.Log.AuditEnabled,
		path:    cfg.Log.AuditFile,
		logger:  logger.With("component", "audit_log"),
	}
}

// Scope is an audit log session bound to one invocation.
type Scope struct {
	*slog.Logger
	closer io.Closer
}

// discard is shared by every disabled scope.
var discard = slog.New(slog.NewJSONHandler(io.Discard, nil))

// Open acquires a scope for the named operation. Callers must defer Close.
func (s *Sink) Open(op string) *Scope {
	if s == nil || !s.enabled {
		return &Scope{Logger: discard}
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		s.logger.Debug("audit log unavailable", "path", s.path, "err", err)
		return &Scope{Logger: discard}
	}

	return &Scope{
		Logger: slog.New(slog.NewJSONHandler(f, nil)).With("op", op),
		closer: f,
	}
}

// Close releases the underlying file. It is safe to call more than once.
func (sc *Scope) Close() {
	if sc.closer == nil {
		return
	}
	_ = sc.closer.Close()
	sc.closer = nil
	sc.Logger = discard
}
