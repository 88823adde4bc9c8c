package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/Strob0t/lsphost/internal/adapter/otel"
	lspDomain "github.com/Strob0t/lsphost/internal/domain/lsp"
)

// Sender delivers notifications to the server.
type Sender interface {
	Notify(method string, params any) error
}

// BridgeConfig bounds the bridge buffers.
type BridgeConfig struct {
	Selector  lspDomain.DocumentSelector
	QueueSize int // events held while the session is not active
	InboxSize int // Submit capacity before events are dropped
}

// BridgeStats counts what happened to submitted events.
type BridgeStats struct {
	Forwarded int64 `json:"forwarded"`
	Filtered  int64 `json:"filtered"`
	Dropped   int64 `json:"dropped"`
	Queued    int64 `json:"queued"`
}

// fullTextChange is a content change that replaces the whole document.
type fullTextChange struct {
	Text string `json:"text"`
}

type didChangeParams struct {
	TextDocument   protocol.VersionedTextDocumentIdentifier `json:"textDocument"`
	ContentChanges []fullTextChange                         `json:"contentChanges"`
}

// DocumentBridge filters host document events through the selector and
// forwards them to the server while the session is Active. Events arriving in
// any other live phase are queued and flushed, in order, once the session
// becomes Active; the queue is discarded when the session stops.
type DocumentBridge struct {
	sender  Sender
	cfg     BridgeConfig
	logger  *slog.Logger
	metrics *otel.Metrics

	inbox chan lspDomain.DocumentEvent

	phaseMu     sync.Mutex
	phaseChange []lspDomain.Phase
	phaseSignal chan struct{}

	// Owned by the Run goroutine.
	phase     lspDomain.Phase
	queue     []lspDomain.DocumentEvent
	versions  map[string]int32
	languages map[string]string

	forwarded atomic.Int64
	filtered  atomic.Int64
	dropped   atomic.Int64
	queued    atomic.Int64
}

// NewDocumentBridge creates a bridge in the Uninitialized phase.
func NewDocumentBridge(sender Sender, cfg BridgeConfig, logger *slog.Logger, metrics *otel.Metrics) *DocumentBridge {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentBridge{
		sender:      sender,
		cfg:         cfg,
		logger:      logger.With("component", "bridge"),
		metrics:     metrics,
		inbox:       make(chan lspDomain.DocumentEvent, cfg.InboxSize),
		phaseSignal: make(chan struct{}, 1),
		phase:       lspDomain.PhaseUninitialized,
		versions:    make(map[string]int32),
		languages:   make(map[string]string),
	}
}

// Submit hands an event to the bridge without blocking. It reports false when
// the inbox is full and the event was dropped.
func (b *DocumentBridge) Submit(ev lspDomain.DocumentEvent) bool {
	select {
	case b.inbox <- ev:
		return true
	default:
		b.drop(context.Background(), 1)
		b.logger.Warn("bridge inbox full, event dropped", "kind", ev.Kind, "uri", ev.URI)
		return false
	}
}

// OnPhase records a session phase change. It never blocks and is safe to use
// as a session transition observer.
func (b *DocumentBridge) OnPhase(_, to lspDomain.Phase) {
	b.phaseMu.Lock()
	b.phaseChange = append(b.phaseChange, to)
	b.phaseMu.Unlock()
	select {
	case b.phaseSignal <- struct{}{}:
	default:
	}
}

// Stats returns the event counters.
func (b *DocumentBridge) Stats() BridgeStats {
	return BridgeStats{
		Forwarded: b.forwarded.Load(),
		Filtered:  b.filtered.Load(),
		Dropped:   b.dropped.Load(),
		Queued:    b.queued.Load(),
	}
}

// Run drains the inbox until ctx is done. Queued events are discarded on return.
func (b *DocumentBridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.applyPhases(ctx)
			b.discard(ctx, "bridge stopped")
			return
		case <-b.phaseSignal:
			b.applyPhases(ctx)
		case ev := <-b.inbox:
			b.applyPhases(ctx)
			b.handle(ctx, ev)
		}
	}
}

func (b *DocumentBridge) applyPhases(ctx context.Context) {
	b.phaseMu.Lock()
	changes := b.phaseChange
	b.phaseChange = nil
	b.phaseMu.Unlock()

	for _, phase := range changes {
		b.phase = phase
		switch phase {
		case lspDomain.PhaseActive:
			b.flush(ctx)
		case lspDomain.PhaseStopped:
			b.discard(ctx, "session stopped")
		}
	}
}

func (b *DocumentBridge) handle(ctx context.Context, ev lspDomain.DocumentEvent) {
	if ev.LanguageID == "" {
		ev.LanguageID = b.languages[ev.URI]
	}
	if !b.cfg.Selector.Matches(ev.Scheme(), ev.LanguageID) {
		b.filtered.Add(1)
		if b.metrics != nil {
			b.metrics.EventsFiltered.Add(ctx, 1)
		}
		return
	}

	switch b.phase {
	case lspDomain.PhaseActive:
		b.send(ctx, ev)
	case lspDomain.PhaseStopped:
		b.drop(ctx, 1)
		b.logger.Warn("session stopped, event dropped", "kind", ev.Kind, "uri", ev.URI)
	default:
		b.enqueue(ctx, ev)
	}
}

func (b *DocumentBridge) enqueue(ctx context.Context, ev lspDomain.DocumentEvent) {
	if len(b.queue) >= b.cfg.QueueSize {
		b.drop(ctx, 1)
		b.logger.Warn("bridge queue full, event dropped", "kind", ev.Kind, "uri", ev.URI, "queue_size", b.cfg.QueueSize)
		return
	}
	b.queue = append(b.queue, ev)
	b.queued.Store(int64(len(b.queue)))
}

func (b *DocumentBridge) flush(ctx context.Context) {
	pending := b.queue
	b.queue = nil
	b.queued.Store(0)
	if len(pending) > 0 {
		b.logger.Debug("flushing queued events", "count", len(pending))
	}
	for _, ev := range pending {
		b.send(ctx, ev)
	}
}

func (b *DocumentBridge) discard(ctx context.Context, reason string) {
	if len(b.queue) == 0 {
		return
	}
	b.logger.Warn("discarding queued events", "count", len(b.queue), "reason", reason)
	b.drop(ctx, int64(len(b.queue)))
	b.queue = nil
	b.queued.Store(0)
}

func (b *DocumentBridge) send(ctx context.Context, ev lspDomain.DocumentEvent) {
	method, params, version, err := b.translate(ev)
	if err != nil {
		b.drop(ctx, 1)
		b.logger.Warn("untranslatable event dropped", "kind", ev.Kind, "uri", ev.URI, "error", err)
		return
	}
	if err := b.sender.Notify(method, params); err != nil {
		if errors.Is(err, lspDomain.ErrNotReady) {
			// The session left Active before this goroutine saw it.
			b.enqueue(ctx, ev)
			return
		}
		b.drop(ctx, 1)
		b.logger.Warn("event not delivered", "method", method, "uri", ev.URI, "error", err)
		return
	}
	b.track(ev, version)
	b.forwarded.Add(1)
	if b.metrics != nil {
		b.metrics.EventsForwarded.Add(ctx, 1)
	}
}

// translate maps a host event onto its LSP notification and the document
// version it carries. It leaves the document state untouched; track records
// it once the notification is delivered.
func (b *DocumentBridge) translate(ev lspDomain.DocumentEvent) (string, any, int32, error) {
	docURI := uri.URI(ev.URI)
	switch ev.Kind {
	case lspDomain.EventOpen:
		version := ev.Version
		if version <= 0 {
			version = 1
		}
		return protocol.MethodTextDocumentDidOpen, &protocol.DidOpenTextDocumentParams{
			TextDocument: protocol.TextDocumentItem{
				URI:        docURI,
				LanguageID: protocol.LanguageIdentifier(ev.LanguageID),
				Version:    version,
				Text:       ev.Text,
			},
		}, version, nil

	case lspDomain.EventChange:
		version := ev.Version
		if version <= 0 {
			version = b.versions[ev.URI] + 1
		}
		return protocol.MethodTextDocumentDidChange, &didChangeParams{
			TextDocument: protocol.VersionedTextDocumentIdentifier{
				TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: docURI},
				Version:                version,
			},
			ContentChanges: []fullTextChange{{Text: ev.Text}},
		}, version, nil

	case lspDomain.EventSave:
		return protocol.MethodTextDocumentDidSave, &protocol.DidSaveTextDocumentParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: docURI},
			Text:         ev.Text,
		}, 0, nil

	case lspDomain.EventClose:
		return protocol.MethodTextDocumentDidClose, &protocol.DidCloseTextDocumentParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: docURI},
		}, 0, nil

	case lspDomain.EventWatch:
		change := ev.FileChange
		if change == 0 {
			change = lspDomain.FileChanged
		}
		return protocol.MethodWorkspaceDidChangeWatchedFiles, &protocol.DidChangeWatchedFilesParams{
			Changes: []*protocol.FileEvent{{Type: protocol.FileChangeType(change), URI: docURI}},
		}, 0, nil
	}
	return "", nil, 0, fmt.Errorf("unknown event kind %q", ev.Kind)
}

// track updates per-document state after a delivered notification.
func (b *DocumentBridge) track(ev lspDomain.DocumentEvent, version int32) {
	switch ev.Kind {
	case lspDomain.EventOpen:
		b.versions[ev.URI] = version
		if ev.LanguageID != "" {
			b.languages[ev.URI] = ev.LanguageID
		}
	case lspDomain.EventChange:
		b.versions[ev.URI] = version
	case lspDomain.EventClose:
		delete(b.versions, ev.URI)
		delete(b.languages, ev.URI)
	}
}

func (b *DocumentBridge) drop(ctx context.Context, n int64) {
	b.dropped.Add(n)
	if b.metrics != nil {
		b.metrics.EventsDropped.Add(ctx, n)
	}
}
