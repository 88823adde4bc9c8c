package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// lockedBuffer is a bytes.Buffer safe for the async workers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) lines() []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// blockingHandler holds every record until released.
type blockingHandler struct {
	release chan struct{}
}

func (h *blockingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *blockingHandler) Handle(context.Context, slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	<-h.release
	return nil
}

func (h *blockingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *blockingHandler) WithGroup(string) slog.Handler      { return h }

func TestAsyncHandlerKeepsDerivedAttrs(t *testing.T) {
	out := &lockedBuffer{}
	h := NewAsyncHandler(slog.NewJSONHandler(out, nil), 16, 2)
	log := slog.New(h).With("session_id", "sess-1").WithGroup("server")

	log.Info("phase changed", "to", "active")
	h.Close()

	lines := out.lines()
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if lines[0]["session_id"] != "sess-1" {
		t.Errorf("session_id missing: %v", lines[0])
	}
	server, _ := lines[0]["server"].(map[string]any)
	if server["to"] != "active" {
		t.Errorf("grouped attr missing: %v", lines[0])
	}
}

func TestAsyncHandlerConcurrentWrites(t *testing.T) {
	out := &lockedBuffer{}
	h := NewAsyncHandler(slog.NewJSONHandler(out, nil), 1024, 4)
	log := slog.New(h)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 50 {
				log.Info("event", "writer", i, "n", j)
			}
		}()
	}
	wg.Wait()
	h.Close()

	if got := len(out.lines()) + int(h.DroppedCount()); got != 400 {
		t.Fatalf("written + dropped = %d, want 400", got)
	}
}

func TestAsyncHandlerDropsWhenFull(t *testing.T) {
	inner := &blockingHandler{release: make(chan struct{})}
	h := NewAsyncHandler(inner, 2, 1)
	log := slog.New(h)

	// One record is held by the worker, two fill the buffer.
	for range 10 {
		log.Info("x")
	}
	if h.DroppedCount() < 7 {
		t.Fatalf("DroppedCount() = %d, want at least 7", h.DroppedCount())
	}
	close(inner.release)
	h.Close()
}

func TestAsyncHandlerCloseFlushesAndIsIdempotent(t *testing.T) {
	out := &lockedBuffer{}
	h := NewAsyncHandler(slog.NewJSONHandler(out, nil), 100, 1)
	log := slog.New(h)
	for range 20 {
		log.Info("queued")
	}
	h.Close()
	h.Close()

	if n := len(out.lines()); n != 20 {
		t.Fatalf("flushed %d records, want 20", n)
	}
	log.Info("after close")
	if h.DroppedCount() != 1 {
		t.Fatalf("record after Close not counted as dropped: %d", h.DroppedCount())
	}
}
