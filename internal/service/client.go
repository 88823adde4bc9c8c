package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	lspAdapter "github.com/Strob0t/lsphost/internal/adapter/lsp"
	"github.com/Strob0t/lsphost/internal/adapter/otel"
	lspDomain "github.com/Strob0t/lsphost/internal/domain/lsp"
	"github.com/Strob0t/lsphost/internal/logger"
	"github.com/Strob0t/lsphost/internal/port/broadcast"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	Session        lspAdapter.SessionConfig
	Bridge         BridgeConfig
	MaxDiagnostics int // per document; 0 = unlimited
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithBroadcaster sets where status and diagnostics events are published.
func WithBroadcaster(b broadcast.Broadcaster) ClientOption {
	return func(c *Client) { c.broadcaster = b }
}

// WithMetrics records session and bridge metrics.
func WithMetrics(m *otel.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// WithSessionOptions passes options through to the session.
func WithSessionOptions(opts ...lspAdapter.SessionOption) ClientOption {
	return func(c *Client) { c.sessionOpts = append(c.sessionOpts, opts...) }
}

// Client is the host-facing facade over one language server session: it
// starts and stops the server, forwards document events and exposes status.
type Client struct {
	spec        lspDomain.LaunchSpec
	cfg         ClientConfig
	logger      *slog.Logger
	broadcaster broadcast.Broadcaster
	metrics     *otel.Metrics
	sessionOpts []lspAdapter.SessionOption

	session *lspAdapter.Session
	bridge  *DocumentBridge

	startGroup singleflight.Group
	stopMu     sync.Mutex

	bridgeOnce   sync.Once
	bridgeCancel context.CancelFunc
	bridgeDone   chan struct{}

	diagMu      sync.RWMutex
	diagnostics map[string][]lspDomain.Diagnostic

	failures chan error
}

// NewClient creates a client for the server described by spec. Nothing is
// spawned until Start.
func NewClient(spec lspDomain.LaunchSpec, cfg ClientConfig, opts ...ClientOption) *Client {
	c := &Client{
		spec:        spec.Clone(),
		cfg:         cfg,
		logger:      slog.Default(),
		diagnostics: make(map[string][]lspDomain.Diagnostic),
		failures:    make(chan error, 1),
		bridgeDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	sessionOpts := append([]lspAdapter.SessionOption{
		lspAdapter.WithLogger(c.logger),
		lspAdapter.WithDiagnostics(c.onDiagnostics),
	}, c.sessionOpts...)
	c.session = lspAdapter.NewSession(c.spec, cfg.Session, sessionOpts...)
	c.logger = c.logger.With("session_id", c.session.ID())

	c.bridge = NewDocumentBridge(c.session, cfg.Bridge, c.logger, c.metrics)
	c.session.OnTransition(c.bridge.OnPhase)
	c.session.OnTransition(c.onTransition)
	return c
}

// Start launches the server and completes the initialize handshake.
// Concurrent callers share the result of a single attempt. Start after Stop
// returns the error the session stopped with, or nil.
func (c *Client) Start(ctx context.Context) error {
	_, err, _ := c.startGroup.Do("start", func() (any, error) {
		c.runBridge()
		if c.session.Phase() != lspDomain.PhaseUninitialized {
			return nil, c.session.Start(ctx)
		}

		ctx = logger.WithSessionID(ctx, c.session.ID())
		ctx, span := otel.StartSessionSpan(ctx, c.session.ID(), c.spec.String())
		began := time.Now()
		err := c.session.Start(ctx)
		otel.EndSpan(span, err)

		if c.metrics != nil {
			c.metrics.SessionStarts.Add(ctx, 1)
			c.metrics.StartDuration.Record(ctx, time.Since(began).Seconds())
		}
		if err != nil {
			return nil, err
		}
		c.logger.Info("lsp client started", "command", c.spec.String())
		return nil, nil
	})
	return err
}

// Stop shuts the server down and releases everything the client started.
// It never fails: problems during teardown are logged. Stop is idempotent.
func (c *Client) Stop(ctx context.Context) {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()

	ctx = logger.WithSessionID(ctx, c.session.ID())
	ctx, span := otel.StartShutdownSpan(ctx, c.session.ID())
	c.session.Stop(ctx)
	otel.EndSpan(span, nil)

	c.bridgeOnce.Do(func() { close(c.bridgeDone) }) // bridge never started
	if c.bridgeCancel != nil {
		c.bridgeCancel()
	}
	<-c.bridgeDone
}

// Submit hands a document event to the bridge. It never blocks; it reports
// false when the event was dropped.
func (c *Client) Submit(ev lspDomain.DocumentEvent) bool {
	if c.session.Phase() == lspDomain.PhaseStopped {
		c.bridge.drop(context.Background(), 1)
		c.logger.Debug("client stopped, event dropped", "kind", ev.Kind, "uri", ev.URI)
		return false
	}
	c.runBridge()
	return c.bridge.Submit(ev)
}

// Notify sends an arbitrary notification to an Active server.
func (c *Client) Notify(method string, params any) error {
	return c.session.Notify(method, params)
}

// Phase returns the session phase.
func (c *Client) Phase() lspDomain.Phase { return c.session.Phase() }

// Outcome returns how the session ended, or OutcomeNone while it runs.
func (c *Client) Outcome() lspDomain.Outcome { return c.session.Outcome() }

// Err returns the error the session stopped with, or nil.
func (c *Client) Err() error { return c.session.Err() }

// Failures delivers the error of a session that terminated unexpectedly
// after becoming Active. At most one error is ever sent.
func (c *Client) Failures() <-chan error { return c.failures }

// OnTransition registers fn to observe session phase changes.
func (c *Client) OnTransition(fn lspAdapter.TransitionFunc) {
	c.session.OnTransition(fn)
}

// BridgeStats returns the document event counters.
func (c *Client) BridgeStats() BridgeStats { return c.bridge.Stats() }

// Status returns a snapshot of the session.
func (c *Client) Status() lspDomain.ServerInfo {
	info := c.session.Info()
	c.diagMu.RLock()
	for _, diags := range c.diagnostics {
		info.Diagnostics += len(diags)
	}
	c.diagMu.RUnlock()
	return info
}

// Diagnostics returns cached diagnostics for uri, or for every document when
// uri is empty.
func (c *Client) Diagnostics(uri string) []lspDomain.Diagnostic {
	c.diagMu.RLock()
	defer c.diagMu.RUnlock()

	if uri != "" {
		diags := c.diagnostics[uri]
		result := make([]lspDomain.Diagnostic, len(diags))
		copy(result, diags)
		return result
	}
	var all []lspDomain.Diagnostic
	for _, diags := range c.diagnostics {
		all = append(all, diags...)
	}
	return all
}

// AllDiagnostics returns a copy of the diagnostics cache keyed by document URI.
func (c *Client) AllDiagnostics() map[string][]lspDomain.Diagnostic {
	c.diagMu.RLock()
	defer c.diagMu.RUnlock()

	result := make(map[string][]lspDomain.Diagnostic, len(c.diagnostics))
	for k, v := range c.diagnostics {
		cp := make([]lspDomain.Diagnostic, len(v))
		copy(cp, v)
		result[k] = cp
	}
	return result
}

func (c *Client) runBridge() {
	c.bridgeOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		c.bridgeCancel = cancel
		go func() {
			defer close(c.bridgeDone)
			c.bridge.Run(ctx)
		}()
	})
}

// onTransition logs, counts and broadcasts every phase change.
func (c *Client) onTransition(from, to lspDomain.Phase) {
	ctx := logger.WithSessionID(context.Background(), c.session.ID())
	ev := lspDomain.StatusEvent{
		SessionID: c.session.ID(),
		From:      from,
		To:        to,
		At:        time.Now().UTC(),
	}
	if to == lspDomain.PhaseStopped {
		ev.Outcome = c.session.Outcome()
		if err := c.session.Err(); err != nil {
			ev.Error = err.Error()
		}
	}

	c.logger.Info("lsp session phase changed", "from", from, "to", to, "outcome", ev.Outcome)
	if c.metrics != nil {
		c.metrics.Transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", string(to))))
		if ev.Outcome == lspDomain.OutcomeFailed {
			c.metrics.SessionFailures.Add(ctx, 1)
		}
	}
	c.broadcast(ctx, lspDomain.EventStatus, ev)

	if from == lspDomain.PhaseActive && ev.Outcome == lspDomain.OutcomeFailed {
		select {
		case c.failures <- c.session.Err():
		default:
		}
	}
}

// onDiagnostics caches and broadcasts diagnostics published by the server.
func (c *Client) onDiagnostics(uri string, diags []lspDomain.Diagnostic) {
	if limit := c.cfg.MaxDiagnostics; limit > 0 && len(diags) > limit {
		diags = diags[:limit]
	}

	c.diagMu.Lock()
	if len(diags) == 0 {
		delete(c.diagnostics, uri)
	} else {
		c.diagnostics[uri] = diags
	}
	c.diagMu.Unlock()

	ctx := logger.WithSessionID(context.Background(), c.session.ID())
	if c.metrics != nil {
		c.metrics.Diagnostics.Add(ctx, 1)
	}
	if diags == nil {
		diags = []lspDomain.Diagnostic{}
	}
	c.broadcast(ctx, lspDomain.EventDiagnostics, lspDomain.DiagnosticsEvent{
		SessionID:   c.session.ID(),
		URI:         uri,
		Diagnostics: diags,
	})
}

func (c *Client) broadcast(ctx context.Context, eventType string, payload any) {
	if c.broadcaster == nil {
		return
	}
	c.broadcaster.BroadcastEvent(ctx, eventType, payload)
}
