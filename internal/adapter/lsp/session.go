package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	lspDomain "github.com/Strob0t/lsphost/internal/domain/lsp"
)

// SessionConfig bounds the session handshakes.
type SessionConfig struct {
	InitTimeout     time.Duration
	ShutdownTimeout time.Duration
	TerminateGrace  time.Duration
	RootDir         string // defaults to the launch dir, then the working dir
	ClientName      string
	ClientVersion   string
	InitOptions     any
}

// DefaultSessionConfig returns the timeouts used when none are configured.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		InitTimeout:     10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		TerminateGrace:  2 * time.Second,
		ClientName:      "lsphost",
	}
}

// TransitionFunc observes a phase change. It runs synchronously on the
// goroutine that performed the transition and must not call Start or Stop.
type TransitionFunc func(from, to lspDomain.Phase)

// DiagnosticsFunc receives diagnostics published by the server.
type DiagnosticsFunc func(uri string, diags []lspDomain.Diagnostic)

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// WithDiagnostics registers the publishDiagnostics callback.
func WithDiagnostics(fn DiagnosticsFunc) SessionOption {
	return func(s *Session) { s.onDiagnostics = fn }
}

// WithProcessOptions passes options through to Spawn.
func WithProcessOptions(opts ...ProcessOption) SessionOption {
	return func(s *Session) { s.procOpts = append(s.procOpts, opts...) }
}

// Session owns one language server process and the transport to it, and
// drives the initialize / shutdown handshakes.
type Session struct {
	id            string
	spec          lspDomain.LaunchSpec
	cfg           SessionConfig
	logger        *slog.Logger
	procOpts      []ProcessOption
	onDiagnostics DiagnosticsFunc

	lifecycle sync.Mutex // serializes Start, Stop and failure teardown
	transMu   sync.Mutex // keeps observer calls in transition order
	sendMu    sync.RWMutex // held shared by Notify; Stop drains it after ShuttingDown

	mu        sync.RWMutex // guards the fields below
	phase     lspDomain.Phase
	outcome   lspDomain.Outcome
	failure   error
	proc      *Process
	transport *Transport
	startedAt time.Time
	server    *protocol.ServerInfo
	observers []TransitionFunc

	stopped     chan struct{}
	stoppedOnce sync.Once
}

// NewSession creates a session in the Uninitialized phase. Nothing is spawned
// until Start.
func NewSession(spec lspDomain.LaunchSpec, cfg SessionConfig, opts ...SessionOption) *Session {
	def := DefaultSessionConfig()
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = def.InitTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.TerminateGrace < 0 {
		cfg.TerminateGrace = 0
	}
	if cfg.ClientName == "" {
		cfg.ClientName = def.ClientName
	}

	s := &Session{
		id:      uuid.NewString(),
		spec:    spec.Clone(),
		cfg:     cfg,
		logger:  slog.Default(),
		phase:   lspDomain.PhaseUninitialized,
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session_id", s.id)
	s.procOpts = append([]ProcessOption{WithProcessLogger(s.logger)}, s.procOpts...)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Phase returns the current phase.
func (s *Session) Phase() lspDomain.Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Outcome returns how the session ended, or OutcomeNone before Stopped.
func (s *Session) Outcome() lspDomain.Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outcome
}

// Err returns the error that stopped the session, or nil.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failure
}

// Stopped is closed once the session is Stopped and its process is gone.
func (s *Session) Stopped() <-chan struct{} { return s.stopped }

// OnTransition registers fn to observe phase changes.
func (s *Session) OnTransition(fn TransitionFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Info returns a snapshot of the session.
func (s *Session) Info() lspDomain.ServerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := lspDomain.ServerInfo{
		SessionID: s.id,
		Command:   s.spec.String(),
		Phase:     s.phase,
		Outcome:   s.outcome,
		StartedAt: s.startedAt,
	}
	if s.failure != nil {
		info.Error = s.failure.Error()
	}
	if s.proc != nil && s.phase != lspDomain.PhaseStopped {
		info.PID = s.proc.PID()
	}
	if s.transport != nil {
		info.Pending = s.transport.Pending()
	}
	if s.server != nil {
		info.Server = s.server.Name
		if s.server.Version != "" {
			info.Server += " " + s.server.Version
		}
	}
	return info
}

// Start spawns the server and performs the initialize handshake. On success the
// session is Active. On failure it is Stopped with a failed outcome, the process
// is gone, and the error is a *LaunchError, *TransportError or *SessionError.
// Start on an Active session is a no-op; on a Stopped session it returns the
// error the session stopped with.
func (s *Session) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	switch phase := s.Phase(); phase {
	case lspDomain.PhaseUninitialized:
	case lspDomain.PhaseActive:
		return nil
	case lspDomain.PhaseStopped:
		return s.Err()
	default:
		return &lspDomain.SessionError{Reason: lspDomain.SessionAlreadyInProgress, Phase: phase}
	}

	s.transition(lspDomain.PhaseUninitialized, lspDomain.PhaseStarting, lspDomain.OutcomeNone, nil)

	proc, err := Spawn(s.spec, s.procOpts...)
	if err != nil {
		s.abort(err)
		return err
	}
	transport := NewTransport(proc.Stdio(), s.logger)
	s.registerHandlers(transport)

	s.mu.Lock()
	s.proc = proc
	s.transport = transport
	s.mu.Unlock()
	transport.Start()

	initCtx, cancel := context.WithTimeout(ctx, s.cfg.InitTimeout)
	defer cancel()
	if err := s.initialize(initCtx, transport); err != nil {
		err = classifyStartError(err)
		s.abort(err)
		return err
	}

	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()
	s.transition(lspDomain.PhaseStarting, lspDomain.PhaseActive, lspDomain.OutcomeNone, nil)
	go s.monitor(transport, proc)
	return nil
}

// Stop shuts the server down gracefully: shutdown request, exit notification,
// then termination once TerminateGrace has passed. Handshake failures are
// logged and do not prevent the session from reaching Stopped. Stop on a
// session that never started marks it Stopped without touching a process.
func (s *Session) Stop(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	switch s.Phase() {
	case lspDomain.PhaseUninitialized:
		s.transition(lspDomain.PhaseUninitialized, lspDomain.PhaseStopped, lspDomain.OutcomeClean, nil)
		s.markStopped()
		return
	case lspDomain.PhaseActive:
	default:
		return
	}

	s.transition(lspDomain.PhaseActive, lspDomain.PhaseShuttingDown, lspDomain.OutcomeNone, nil)

	s.mu.RLock()
	transport, proc := s.transport, s.proc
	s.mu.RUnlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	s.drainNotifications(shutdownCtx, transport)
	err := transport.Call(shutdownCtx, protocol.MethodShutdown, nil, nil)
	cancel()
	if err != nil {
		s.logger.Warn("lsp shutdown not acknowledged, forcing termination", "error", err)
	} else if err := transport.Notify(protocol.MethodExit, nil); err != nil {
		s.logger.Warn("lsp exit notification failed", "error", err)
	} else {
		timer := time.NewTimer(s.cfg.TerminateGrace)
		select {
		case <-proc.Exited():
		case <-timer.C:
		}
		timer.Stop()
	}

	_ = transport.Close()
	if err := proc.Terminate(s.cfg.TerminateGrace); err != nil {
		s.logger.Error("lsp server termination failed", "error", err)
	}

	s.transition(lspDomain.PhaseShuttingDown, lspDomain.PhaseStopped, lspDomain.OutcomeClean, nil)
	s.markStopped()
	s.logger.Info("lsp server stopped", "exit_code", proc.ExitCode())
}

// Notify sends a notification to the server. It fails with a NotReady
// SessionError unless the session is Active. A transport failure also stops
// the session with a failed outcome.
func (s *Session) Notify(method string, params any) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()

	s.mu.RLock()
	phase, transport := s.phase, s.transport
	s.mu.RUnlock()

	if phase != lspDomain.PhaseActive {
		return &lspDomain.SessionError{Reason: lspDomain.SessionNotReady, Phase: phase}
	}
	if err := transport.Notify(method, params); err != nil {
		s.failOnTransport(err)
		return err
	}
	return nil
}

// drainNotifications waits for notifications that passed the phase check
// before ShuttingDown. A writer still blocked on a server that stopped
// reading when ctx expires is released by closing the transport.
func (s *Session) drainNotifications(ctx context.Context, transport *Transport) {
	drained := make(chan struct{})
	go func() {
		s.sendMu.Lock()
		s.sendMu.Unlock() //nolint:staticcheck // empty critical section is the barrier
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		s.logger.Warn("lsp server not reading, closing transport", "error", ctx.Err())
		_ = transport.Close()
		<-drained
	}
}

// Call sends a request and decodes its result into result. It fails with a
// NotReady SessionError unless the session is Active.
func (s *Session) Call(ctx context.Context, method string, params, result any) error {
	s.mu.RLock()
	phase, transport := s.phase, s.transport
	s.mu.RUnlock()

	if phase != lspDomain.PhaseActive {
		return &lspDomain.SessionError{Reason: lspDomain.SessionNotReady, Phase: phase}
	}
	if err := transport.Call(ctx, method, params, result); err != nil {
		s.failOnTransport(err)
		return err
	}
	return nil
}

func (s *Session) initialize(ctx context.Context, transport *Transport) error {
	params, err := s.initializeParams()
	if err != nil {
		return err
	}

	var raw json.RawMessage
	if err := transport.Call(ctx, protocol.MethodInitialize, params, &raw); err != nil {
		return err
	}

	var result struct {
		Capabilities json.RawMessage      `json:"capabilities"`
		ServerInfo   *protocol.ServerInfo `json:"serverInfo,omitempty"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return &lspDomain.SessionError{Reason: lspDomain.SessionHandshakeFailed, Phase: lspDomain.PhaseStarting, Err: fmt.Errorf("decode initialize result: %w", err)}
	}
	if len(result.Capabilities) == 0 || string(result.Capabilities) == "null" {
		return &lspDomain.SessionError{Reason: lspDomain.SessionHandshakeFailed, Phase: lspDomain.PhaseStarting, Err: errors.New("initialize result has no capabilities")}
	}

	s.mu.Lock()
	s.server = result.ServerInfo
	s.mu.Unlock()

	if err := transport.Notify(protocol.MethodInitialized, &protocol.InitializedParams{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	name := "unknown"
	if result.ServerInfo != nil {
		name = result.ServerInfo.Name
	}
	s.logger.Info("lsp server initialized", "server", name)
	return nil
}

func (s *Session) initializeParams() (*protocol.InitializeParams, error) {
	root := s.cfg.RootDir
	if root == "" {
		root = s.spec.Dir
	}
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	rootURI := uri.File(abs)

	return &protocol.InitializeParams{
		ProcessID: int32(os.Getpid()), //nolint:gosec // pids fit in int32
		ClientInfo: &protocol.ClientInfo{
			Name:    s.cfg.ClientName,
			Version: s.cfg.ClientVersion,
		},
		RootURI:               rootURI,
		InitializationOptions: s.cfg.InitOptions,
		Capabilities: protocol.ClientCapabilities{
			Workspace: &protocol.WorkspaceClientCapabilities{
				DidChangeWatchedFiles: &protocol.DidChangeWatchedFilesWorkspaceClientCapabilities{},
			},
			TextDocument: &protocol.TextDocumentClientCapabilities{
				Synchronization: &protocol.TextDocumentSyncClientCapabilities{
					DidSave: true,
				},
				PublishDiagnostics: &protocol.PublishDiagnosticsClientCapabilities{},
			},
		},
		WorkspaceFolders: []protocol.WorkspaceFolder{
			{URI: string(rootURI), Name: filepath.Base(abs)},
		},
	}, nil
}

// classifyStartError maps a handshake error onto the session error taxonomy.
func classifyStartError(err error) error {
	var launchErr *lspDomain.LaunchError
	var transportErr *lspDomain.TransportError
	var sessionErr *lspDomain.SessionError
	switch {
	case errors.As(err, &sessionErr), errors.As(err, &launchErr):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &lspDomain.SessionError{Reason: lspDomain.SessionTimeout, Phase: lspDomain.PhaseStarting, Err: err}
	case errors.As(err, &transportErr):
		return err
	default: // rejected by the server (*ResponseError) or otherwise ill-formed
		return &lspDomain.SessionError{Reason: lspDomain.SessionHandshakeFailed, Phase: lspDomain.PhaseStarting, Err: err}
	}
}

// abort tears down a failed start. Called with the lifecycle lock held.
func (s *Session) abort(cause error) {
	s.release(0)
	s.transition(lspDomain.PhaseStarting, lspDomain.PhaseStopped, lspDomain.OutcomeFailed, cause)
	s.markStopped()
	s.logger.Error("lsp server start failed", "error", cause)
}

// monitor stops the session when the stream ends or the process exits while
// the session is Active.
func (s *Session) monitor(transport *Transport, proc *Process) {
	var cause error
	select {
	case <-transport.Done():
		cause = transport.Err()
	case <-proc.Exited():
		cause = &lspDomain.TransportError{
			Reason: lspDomain.TransportClosed,
			Err:    fmt.Errorf("server exited with code %d", proc.ExitCode()),
		}
	}
	s.fail(cause)
}

// failOnTransport schedules a failure stop when err is a transport error.
func (s *Session) failOnTransport(err error) {
	var transportErr *lspDomain.TransportError
	if errors.As(err, &transportErr) {
		go s.fail(err)
	}
}

// fail moves an Active session to Stopped with a failed outcome, killing the
// process without a graceful handshake.
func (s *Session) fail(cause error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.Phase() != lspDomain.PhaseActive {
		return
	}
	err := &lspDomain.SessionError{Reason: lspDomain.SessionTerminated, Phase: lspDomain.PhaseActive, Err: cause}
	s.release(0)
	s.transition(lspDomain.PhaseActive, lspDomain.PhaseStopped, lspDomain.OutcomeFailed, err)
	s.markStopped()
	s.logger.Error("lsp server terminated unexpectedly", "error", cause)
}

// release closes the transport and kills the process.
func (s *Session) release(grace time.Duration) {
	s.mu.RLock()
	transport, proc := s.transport, s.proc
	s.mu.RUnlock()

	if transport != nil {
		_ = transport.Close()
	}
	if proc != nil {
		if err := proc.Terminate(grace); err != nil {
			s.logger.Error("lsp server termination failed", "error", err)
		}
	}
}

// transition moves from -> to and notifies observers. It reports false when
// the session is no longer in from.
func (s *Session) transition(from, to lspDomain.Phase, outcome lspDomain.Outcome, failure error) bool {
	s.transMu.Lock()
	defer s.transMu.Unlock()

	s.mu.Lock()
	if s.phase != from || !from.CanTransitionTo(to) {
		s.mu.Unlock()
		return false
	}
	s.phase = to
	if to == lspDomain.PhaseStopped {
		s.outcome = outcome
		s.failure = failure
	}
	observers := make([]TransitionFunc, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	s.logger.Debug("lsp session transition", "from", from, "to", to)
	for _, fn := range observers {
		fn(from, to)
	}
	return true
}

func (s *Session) markStopped() {
	s.stoppedOnce.Do(func() { close(s.stopped) })
}
