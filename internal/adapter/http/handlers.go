package http

import (
	"context"
	"net/http"

	lspDomain "github.com/Strob0t/lsphost/internal/domain/lsp"
	"github.com/Strob0t/lsphost/internal/service"
)

// maxDocumentBody bounds document event bodies, which carry full file text.
const maxDocumentBody = 8 << 20

// Session is the part of service.Client the API drives.
type Session interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
	Submit(ev lspDomain.DocumentEvent) bool
	Status() lspDomain.ServerInfo
	BridgeStats() service.BridgeStats
	Diagnostics(uri string) []lspDomain.Diagnostic
	AllDiagnostics() map[string][]lspDomain.Diagnostic
}

// Handlers holds the HTTP handlers of the host API.
type Handlers struct {
	Session Session
}

type sessionResponse struct {
	lspDomain.ServerInfo
	Bridge service.BridgeStats `json:"bridge"`
}

// Health reports liveness. It is healthy unless the session failed.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	info := h.Session.Status()
	status, code := "ok", http.StatusOK
	if info.Outcome == lspDomain.OutcomeFailed {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"status": status,
		"phase":  string(info.Phase),
	})
}

// GetSession returns the session snapshot.
func (h *Handlers) GetSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, sessionResponse{
		ServerInfo: h.Session.Status(),
		Bridge:     h.Session.BridgeStats(),
	})
}

// StartSession launches the server if it is not running yet.
func (h *Handlers) StartSession(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.Start(r.Context()); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Session.Status())
}

// StopSession shuts the server down. It always succeeds.
func (h *Handlers) StopSession(w http.ResponseWriter, r *http.Request) {
	h.Session.Stop(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusOK, h.Session.Status())
}

type documentRequest struct {
	URI        string               `json:"uri"`
	LanguageID string               `json:"language_id"`
	Version    int32                `json:"version"`
	Text       string               `json:"text"`
	FileChange lspDomain.FileChange `json:"file_change"`
}

// SubmitDocument hands a document event of the kind named in the path to the
// bridge. 202 means accepted for delivery, not delivered.
func (h *Handlers) SubmitDocument(w http.ResponseWriter, r *http.Request) {
	kind := lspDomain.EventKind(urlParam(r, "kind"))
	if !kind.Valid() {
		writeError(w, http.StatusNotFound, "unknown document event kind")
		return
	}
	req, ok := readJSON[documentRequest](w, r, maxDocumentBody)
	if !ok {
		return
	}
	if !requireField(w, req.URI, "uri") {
		return
	}
	if req.FileChange < 0 || req.FileChange > lspDomain.FileDeleted {
		writeError(w, http.StatusBadRequest, "file_change must be 1, 2 or 3")
		return
	}

	ev := lspDomain.DocumentEvent{
		Kind:       kind,
		URI:        req.URI,
		LanguageID: req.LanguageID,
		Version:    req.Version,
		Text:       req.Text,
		FileChange: req.FileChange,
	}
	if !h.Session.Submit(ev) {
		writeError(w, http.StatusServiceUnavailable, "event dropped")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// ListDiagnostics returns cached diagnostics, for one document when ?uri= is
// given, else keyed by document.
func (h *Handlers) ListDiagnostics(w http.ResponseWriter, r *http.Request) {
	if uri := r.URL.Query().Get("uri"); uri != "" {
		writeJSON(w, http.StatusOK, lspDomain.DiagnosticsEvent{
			SessionID:   h.Session.Status().SessionID,
			URI:         uri,
			Diagnostics: h.Session.Diagnostics(uri),
		})
		return
	}
	writeJSON(w, http.StatusOK, h.Session.AllDiagnostics())
}
