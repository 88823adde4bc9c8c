package otel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewMetricsWithDefaultProvider(t *testing.T) {
	m, err := NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	// Instruments from the no-op provider accept measurements.
	m.SessionStarts.Add(context.Background(), 1)
	m.StartDuration.Record(context.Background(), 0.25)
}

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "lsphost-test"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSpansEnd(t *testing.T) {
	_, span := StartSessionSpan(context.Background(), "sess-1", "openfoam-ls")
	EndSpan(span, errors.New("boom"))
	_, span = StartShutdownSpan(context.Background(), "sess-1")
	EndSpan(span, nil)
}

func TestHTTPMiddlewarePassesThrough(t *testing.T) {
	h := HTTPMiddleware("lsphost")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}
}
