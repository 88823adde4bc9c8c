// Package fswatch turns filesystem changes under a workspace root into
// document watch events.
package fswatch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.lsp.dev/uri"

	lspDomain "github.com/Strob0t/lsphost/internal/domain/lsp"
)

// SubmitFunc receives watch events. It must not block.
type SubmitFunc func(lspDomain.DocumentEvent) bool

// Config selects which files are reported.
type Config struct {
	Root      string
	Patterns  []string          // base-name globs; empty = everything
	Languages map[string]string // extension (".foam") or base name -> language id
	Debounce  time.Duration     // coalesces bursts per path; 0 = 100ms
}

// Watcher watches Root recursively and reports matching file changes.
type Watcher struct {
	cfg     Config
	watcher *fsnotify.Watcher
	submit  SubmitFunc
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingChange
}

// New creates a watcher over cfg.Root. Nothing is reported until Run.
func New(cfg Config, submit SubmitFunc, logger *slog.Logger) (*Watcher, error) {
	if cfg.Root == "" {
		cfg.Root = "."
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve watch root: %w", err)
	}
	cfg.Root = root
	if cfg.Debounce <= 0 {
		cfg.Debounce = 100 * time.Millisecond
	}
	for _, p := range cfg.Patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, fmt.Errorf("watch pattern %q: %w", p, err)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	fw := &Watcher{
		cfg:     cfg,
		watcher: w,
		submit:  submit,
		logger:  logger.With("component", "fswatch"),
		pending: make(map[string]*pendingChange),
	}
	if err := fw.addTree(root); err != nil {
		w.Close()
		return nil, err
	}
	return fw, nil
}

// Run delivers events until ctx is done or the watcher fails, then closes it.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("watch new directory", "path", event.Name, "error", err)
			}
			return
		}
	}

	var change lspDomain.FileChange
	switch {
	case event.Has(fsnotify.Create):
		change = lspDomain.FileCreated
	case event.Has(fsnotify.Write):
		change = lspDomain.FileChanged
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		change = lspDomain.FileDeleted
	default:
		return // chmod
	}
	if !w.Matches(event.Name) {
		return
	}
	w.schedule(event.Name, change)
}

type pendingChange struct {
	timer  *time.Timer
	change lspDomain.FileChange
}

// schedule debounces per path. The last change in a burst wins, except that a
// create followed by writes is still reported as a create.
func (w *Watcher) schedule(path string, change lspDomain.FileChange) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pending[path]; ok && p.timer.Stop() {
		if change == lspDomain.FileChanged {
			change = p.change
		}
	}
	p := &pendingChange{change: change}
	p.timer = time.AfterFunc(w.cfg.Debounce, func() {
		w.mu.Lock()
		if w.pending[path] != p {
			w.mu.Unlock()
			return
		}
		delete(w.pending, path)
		w.mu.Unlock()
		w.emit(path, p.change)
	})
	w.pending[path] = p
}

func (w *Watcher) emit(path string, change lspDomain.FileChange) {
	ev := lspDomain.DocumentEvent{
		Kind:       lspDomain.EventWatch,
		URI:        string(uri.File(path)),
		LanguageID: w.Language(path),
		FileChange: change,
	}
	if !w.submit(ev) {
		w.logger.Debug("watch event not accepted", "path", path)
	}
}

// Matches reports whether path passes the base-name patterns.
func (w *Watcher) Matches(path string) bool {
	if len(w.cfg.Patterns) == 0 {
		return true
	}
	base := filepath.Base(path)
	for _, p := range w.cfg.Patterns {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	return false
}

// Language maps path to a language id by base name first, then extension.
func (w *Watcher) Language(path string) string {
	base := filepath.Base(path)
	if lang, ok := w.cfg.Languages[base]; ok {
		return lang
	}
	return w.cfg.Languages[strings.ToLower(filepath.Ext(base))]
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) close() {
	w.mu.Lock()
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()
	if err := w.watcher.Close(); err != nil {
		w.logger.Warn("close watcher", "error", err)
	}
}
