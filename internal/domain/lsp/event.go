package lsp

import "strings"

// EventKind identifies a host document lifecycle event.
type EventKind string

const (
	EventOpen   EventKind = "open"
	EventChange EventKind = "change"
	EventSave   EventKind = "save"
	EventClose  EventKind = "close"
	EventWatch  EventKind = "watch" // filesystem watch match
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventOpen, EventChange, EventSave, EventClose, EventWatch:
		return true
	}
	return false
}

// FileChange mirrors the LSP FileChangeType for watch events.
type FileChange int

const (
	FileCreated FileChange = 1
	FileChanged FileChange = 2
	FileDeleted FileChange = 3
)

// DocumentEvent is a single document lifecycle event delivered by the host.
type DocumentEvent struct {
	Kind       EventKind  `json:"kind"`
	URI        string     `json:"uri"`
	LanguageID string     `json:"language_id,omitempty"`
	Version    int32      `json:"version,omitempty"` // 0 lets the bridge assign one
	Text       string     `json:"text,omitempty"`
	FileChange FileChange `json:"file_change,omitempty"` // watch events only
}

// Scheme returns the URI scheme ("file", "untitled", ...), or "" if the URI has none.
func (e DocumentEvent) Scheme() string {
	scheme, _, ok := strings.Cut(e.URI, ":")
	if !ok || scheme == "" || strings.ContainsAny(scheme, "/\\") {
		return ""
	}
	return strings.ToLower(scheme)
}
