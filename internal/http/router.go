// Package http exposes the transcription, history and progress endpoints.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"voicetotext-service/internal/config"
	"voicetotext-service/internal/observability"
	"voicetotext-service/internal/observability/metrics"
	"voicetotext-service/internal/schema"
	"voicetotext-service/internal/service/progress"
	"voicetotext-service/internal/service/transcription"
	"voicetotext-service/internal/storage"
)

// Deps are the collaborators the router serves. Events and Ready are
// optional.
type Deps struct {
	Orchestrator *transcription.Orchestrator
	Repository   storage.Repository
	Broadcaster  *progress.Broadcaster
	Events       transcription.EventPublisher
	Metrics      *metrics.Metrics

	CORS           config.CORSConfig
	WebSocket      config.WebSocketConfig
	MaxUploadBytes int64

	// Ready reports readiness; nil means always ready.
	Ready func() bool
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(d Deps) http.Handler {
	if d.Metrics == nil {
		d.Metrics = metrics.DefaultMetrics
	}

	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.HTTPMiddleware(d.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(corsHandler(d.CORS).Handler)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if d.Ready != nil && !d.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	h := &handlers{
		orch:           d.Orchestrator,
		repo:           d.Repository,
		events:         d.Events,
		validator:      schema.New(),
		maxUploadBytes: d.MaxUploadBytes,
	}
	ws := newProgressSocket(d.Broadcaster, d.WebSocket, d.CORS.AllowedOrigins, d.Metrics)

	r.Post("/transcribe", h.transcribe)
	r.Get("/ws", ws.serve)

	r.Route("/history", func(r chi.Router) {
		r.Get("/", h.listHistory)
		r.Post("/", h.saveHistory)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getHistory)
			r.Patch("/", h.updateHistory)
			r.Delete("/", h.deleteHistory)
			r.Get("/audio", h.historyAudio)
		})
	})

	return r
}

func corsHandler(cfg config.CORSConfig) *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: cfg.AllowCredentials,
	})
}
