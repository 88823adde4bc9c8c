package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	lspDomain "github.com/Strob0t/lsphost/internal/domain/lsp"
	"github.com/Strob0t/lsphost/internal/service"
)

type fakeSession struct {
	startErr  error
	accept    bool
	phase     lspDomain.Phase
	outcome   lspDomain.Outcome
	submitted []lspDomain.DocumentEvent
	stopped   int
	diags     map[string][]lspDomain.Diagnostic
}

func (f *fakeSession) Start(context.Context) error {
	if f.startErr == nil {
		f.phase = lspDomain.PhaseActive
	}
	return f.startErr
}

func (f *fakeSession) Stop(context.Context) {
	f.stopped++
	f.phase = lspDomain.PhaseStopped
	f.outcome = lspDomain.OutcomeClean
}

func (f *fakeSession) Submit(ev lspDomain.DocumentEvent) bool {
	f.submitted = append(f.submitted, ev)
	return f.accept
}

func (f *fakeSession) Status() lspDomain.ServerInfo {
	return lspDomain.ServerInfo{SessionID: "sess-1", Command: "openfoam-ls", Phase: f.phase, Outcome: f.outcome}
}

func (f *fakeSession) BridgeStats() service.BridgeStats {
	return service.BridgeStats{Forwarded: int64(len(f.submitted))}
}

func (f *fakeSession) Diagnostics(uri string) []lspDomain.Diagnostic { return f.diags[uri] }

func (f *fakeSession) AllDiagnostics() map[string][]lspDomain.Diagnostic { return f.diags }

func newTestRouter(f *fakeSession) http.Handler {
	return NewRouter(&Handlers{Session: f}, RouterConfig{})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := &fakeSession{phase: lspDomain.PhaseActive}
	h := newTestRouter(f)

	if rec := do(t, h, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthy status = %d", rec.Code)
	}

	f.phase, f.outcome = lspDomain.PhaseStopped, lspDomain.OutcomeFailed
	rec := do(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "degraded") {
		t.Fatalf("failed session health = %d %s", rec.Code, rec.Body)
	}
}

func TestGetSession(t *testing.T) {
	h := newTestRouter(&fakeSession{phase: lspDomain.PhaseActive})
	rec := do(t, h, http.MethodGet, "/api/v1/session", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got struct {
		SessionID string              `json:"session_id"`
		Phase     lspDomain.Phase     `json:"phase"`
		Bridge    service.BridgeStats `json:"bridge"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SessionID != "sess-1" || got.Phase != lspDomain.PhaseActive {
		t.Fatalf("session = %+v", got)
	}
}

func TestStartSessionErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"not found", &lspDomain.LaunchError{Reason: lspDomain.LaunchNotFound, Command: "openfoam-ls"}, http.StatusBadGateway},
		{"timeout", &lspDomain.SessionError{Reason: lspDomain.SessionTimeout}, http.StatusGatewayTimeout},
		{"in progress", &lspDomain.SessionError{Reason: lspDomain.SessionAlreadyInProgress}, http.StatusConflict},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(&fakeSession{startErr: tt.err})
			if rec := do(t, h, http.MethodPost, "/api/v1/session/start", ""); rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestStopSession(t *testing.T) {
	f := &fakeSession{phase: lspDomain.PhaseActive}
	rec := do(t, newTestRouter(f), http.MethodPost, "/api/v1/session/stop", "")
	if rec.Code != http.StatusOK || f.stopped != 1 {
		t.Fatalf("status = %d, stopped = %d", rec.Code, f.stopped)
	}
}

func TestSubmitDocument(t *testing.T) {
	tests := []struct {
		name   string
		kind   string
		body   string
		accept bool
		want   int
	}{
		{"accepted", "open", `{"uri":"file:///case/system/controlDict","language_id":"openfoam","text":"endTime 1;"}`, true, http.StatusAccepted},
		{"dropped", "change", `{"uri":"file:///case/system/controlDict","text":"x"}`, false, http.StatusServiceUnavailable},
		{"unknown kind", "rename", `{"uri":"file:///a"}`, true, http.StatusNotFound},
		{"missing uri", "save", `{}`, true, http.StatusBadRequest},
		{"bad json", "close", `{`, true, http.StatusBadRequest},
		{"bad file change", "watch", `{"uri":"file:///a","file_change":7}`, true, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeSession{accept: tt.accept}
			rec := do(t, newTestRouter(f), http.MethodPost, "/api/v1/documents/"+tt.kind, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
		})
	}

	f := &fakeSession{accept: true}
	do(t, newTestRouter(f), http.MethodPost, "/api/v1/documents/open", `{"uri":"file:///a","language_id":"openfoam","version":3}`)
	if len(f.submitted) != 1 {
		t.Fatalf("submitted = %+v", f.submitted)
	}
	if ev := f.submitted[0]; ev.Kind != lspDomain.EventOpen || ev.Version != 3 || ev.LanguageID != "openfoam" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestListDiagnostics(t *testing.T) {
	f := &fakeSession{diags: map[string][]lspDomain.Diagnostic{
		"file:///a": {{Severity: lspDomain.SeverityError, Message: "unknown keyword"}},
	}}
	h := newTestRouter(f)

	rec := do(t, h, http.MethodGet, "/api/v1/diagnostics?uri=file:///a", "")
	var one lspDomain.DiagnosticsEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &one); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(one.Diagnostics) != 1 || one.URI != "file:///a" {
		t.Fatalf("diagnostics = %+v", one)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/diagnostics", "")
	var all map[string][]lspDomain.Diagnostic
	if err := json.Unmarshal(rec.Body.Bytes(), &all); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(all["file:///a"]) != 1 {
		t.Fatalf("all = %+v", all)
	}
}
