package http

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

// hijackableRecorder wraps httptest.ResponseRecorder to implement http.Hijacker.
type hijackableRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

func TestResponseWriterHijack(t *testing.T) {
	tests := []struct {
		name    string
		inner   http.ResponseWriter
		wantErr bool
	}{
		{"delegates", &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}, false},
		{"upstream cannot hijack", httptest.NewRecorder(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rw := &responseWriter{ResponseWriter: tt.inner, status: http.StatusOK}
			// /ws upgrades go through the logging middleware.
			hj, ok := http.ResponseWriter(rw).(http.Hijacker)
			if !ok {
				t.Fatal("responseWriter does not implement http.Hijacker")
			}
			_, _, err := hj.Hijack()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Hijack() error = %v, wantErr %v", err, tt.wantErr)
			}
			if rec, ok := tt.inner.(*hijackableRecorder); ok && !rec.hijacked {
				t.Fatal("inner writer not hijacked")
			}
		})
	}
}

func TestResponseWriterFlush(t *testing.T) {
	inner := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: inner, status: http.StatusOK}
	rw.Flush()
	if !inner.Flushed {
		t.Fatal("expected inner ResponseRecorder to be flushed")
	}
}

func TestLoggerPassesStatusThrough(t *testing.T) {
	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	for _, name := range []string{"X-Content-Type-Options", "X-Frame-Options", "Content-Security-Policy"} {
		if rec.Header().Get(name) == "" {
			t.Errorf("missing %s", name)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	called := false
	h := CORS("http://localhost:3000")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/session", http.NoBody))
	if rec.Code != http.StatusNoContent || called {
		t.Fatalf("preflight status %d, handler called %v", rec.Code, called)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("allow origin = %q", got)
	}
}
