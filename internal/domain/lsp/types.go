// Package lsp defines domain types for the host side of a Language Server
// Protocol session: how the server is launched, which phase the session is in,
// which documents are forwarded, and what the host can observe about it.
package lsp

import "time"

// Position in a text document (0-based line and character).
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range in a text document.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// DiagnosticSeverity mirrors LSP DiagnosticSeverity.
const (
	SeverityError   = 1
	SeverityWarning = 2
	SeverityInfo    = 3
	SeverityHint    = 4
)

// Diagnostic represents a diagnostic published by the server.
type Diagnostic struct {
	Range    Range  `json:"range"`
	Severity int    `json:"severity"` // 1=Error, 2=Warning, 3=Info, 4=Hint
	Source   string `json:"source"`
	Message  string `json:"message"`
}

// ServerInfo is a point-in-time snapshot of the client session.
type ServerInfo struct {
	SessionID   string    `json:"session_id,omitempty"`
	Command     string    `json:"command"`
	Phase       Phase     `json:"phase"`
	Outcome     Outcome   `json:"outcome,omitempty"`
	PID         int       `json:"pid,omitempty"`
	Server      string    `json:"server,omitempty"` // name reported in the initialize result
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	Pending     int       `json:"pending"`     // in-flight requests
	Diagnostics int       `json:"diagnostics"` // count of cached diagnostics
}

// StatusEvent is broadcast on every session phase transition.
type StatusEvent struct {
	SessionID string    `json:"session_id"`
	From      Phase     `json:"from"`
	To        Phase     `json:"to"`
	Outcome   Outcome   `json:"outcome,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// DiagnosticsEvent is broadcast when the server publishes diagnostics for a document.
type DiagnosticsEvent struct {
	SessionID   string       `json:"session_id"`
	URI         string       `json:"uri"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// Broadcast event types.
const (
	EventStatus      = "lsp.status"
	EventDiagnostics = "lsp.diagnostics"
)
