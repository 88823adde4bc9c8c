package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// RouterConfig holds the router's optional pieces.
type RouterConfig struct {
	CORSOrigin string                          // empty disables CORS headers
	WebSocket  http.HandlerFunc                // nil disables /ws
	Tracing    func(http.Handler) http.Handler // nil disables request spans
}

// NewRouter builds the chi router serving the host API.
func NewRouter(h *Handlers, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Logger)
	r.Use(chimw.Recoverer)
	r.Use(SecurityHeaders)
	if cfg.CORSOrigin != "" {
		r.Use(CORS(cfg.CORSOrigin))
	}
	if cfg.Tracing != nil {
		r.Use(cfg.Tracing)
	}

	r.Get("/health", h.Health)
	if cfg.WebSocket != nil {
		r.Get("/ws", cfg.WebSocket)
	}
	MountRoutes(r, h)
	return r
}

// MountRoutes registers the /api/v1 routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/session", h.GetSession)

		// Start waits for the handshake; stop for the shutdown sequence.
		r.With(chimw.Timeout(time.Minute)).Post("/session/start", h.StartSession)
		r.Post("/session/stop", h.StopSession)

		r.Post("/documents/{kind}", h.SubmitDocument)
		r.Get("/diagnostics", h.ListDiagnostics)
	})
}
