package lsp

import "fmt"

// LaunchReason classifies a failure to start the server process.
type LaunchReason string

const (
	LaunchNotFound         LaunchReason = "not_found"
	LaunchPermissionDenied LaunchReason = "permission_denied"
	LaunchOSError          LaunchReason = "os_error"
)

// LaunchError is returned when the server process cannot be spawned.
// Retrying with the same spec fails the same way.
type LaunchError struct {
	Reason  LaunchReason
	Command string
	Err     error
}

func (e *LaunchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("launch %s: %s", e.Command, e.Reason)
	}
	return fmt.Sprintf("launch %s: %s: %v", e.Command, e.Reason, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Is matches another *LaunchError with the same reason, so the Err* sentinels
// work with errors.Is.
func (e *LaunchError) Is(target error) bool {
	t, ok := target.(*LaunchError)
	return ok && t.Reason == e.Reason
}

// TransportReason classifies a transport channel failure.
type TransportReason string

const (
	// TransportClosed means the stream ended: the process exited or the pipe broke.
	TransportClosed TransportReason = "closed"
	// TransportProtocol means a malformed frame desynchronized the stream.
	TransportProtocol TransportReason = "protocol"
)

// TransportError is returned by the transport channel.
type TransportError struct {
	Reason TransportReason
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return "transport " + string(e.Reason)
	}
	return fmt.Sprintf("transport %s: %v", e.Reason, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool {
	t, ok := target.(*TransportError)
	return ok && t.Reason == e.Reason
}

// SessionReason classifies a session contract violation or failure.
type SessionReason string

const (
	SessionNotReady          SessionReason = "not_ready"
	SessionAlreadyInProgress SessionReason = "already_in_progress"
	SessionTimeout           SessionReason = "timeout"
	SessionHandshakeFailed   SessionReason = "handshake_failed"
	SessionTerminated        SessionReason = "terminated" // server terminated unexpectedly
)

// SessionError is returned for session-level failures.
type SessionError struct {
	Reason SessionReason
	Phase  Phase
	Err    error
}

func (e *SessionError) Error() string {
	msg := "session " + string(e.Reason)
	if e.Reason == SessionTerminated {
		msg = "server terminated unexpectedly"
	}
	if e.Phase != "" {
		msg += " (phase " + string(e.Phase) + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SessionError) Unwrap() error { return e.Err }

func (e *SessionError) Is(target error) bool {
	t, ok := target.(*SessionError)
	return ok && t.Reason == e.Reason
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound         = &LaunchError{Reason: LaunchNotFound}
	ErrPermissionDenied = &LaunchError{Reason: LaunchPermissionDenied}
	ErrOSError          = &LaunchError{Reason: LaunchOSError}

	ErrTransportClosed = &TransportError{Reason: TransportClosed}
	ErrProtocol        = &TransportError{Reason: TransportProtocol}

	ErrNotReady          = &SessionError{Reason: SessionNotReady}
	ErrAlreadyInProgress = &SessionError{Reason: SessionAlreadyInProgress}
	ErrTimeout           = &SessionError{Reason: SessionTimeout}
	ErrHandshakeFailed   = &SessionError{Reason: SessionHandshakeFailed}
	ErrTerminated        = &SessionError{Reason: SessionTerminated}
)
