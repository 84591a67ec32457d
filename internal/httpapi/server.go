// Package httpapi is the operator surface: queue inspection, pause/resume,
// runtime policy, manual dispatch, and the provider completion webhook.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nbassil/dialdispatch/internal/admission"
	"github.com/nbassil/dialdispatch/internal/correlation"
	"github.com/nbassil/dialdispatch/internal/identity"
	"github.com/nbassil/dialdispatch/internal/kafka"
	"github.com/nbassil/dialdispatch/internal/policy"
	"github.com/nbassil/dialdispatch/internal/redial"
)

// Dispatcher is the slice of the dispatch processor the API drives.
type Dispatcher interface {
	Trigger()
	SetEnabled(on bool)
	Enabled() bool
	DispatchImmediate(ctx context.Context, phone string, lead redial.Context) (string, error)
	OnCompletion(ctx context.Context, ev *kafka.CompletionEvent) error
}

// Handler holds the API's collaborators.
type Handler struct {
	queue      *redial.Queue
	calls      *correlation.Cache
	limiter    *admission.Limiter
	identities *identity.Pool
	pol        *policy.Store
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(
	queue *redial.Queue,
	calls *correlation.Cache,
	limiter *admission.Limiter,
	identities *identity.Pool,
	pol *policy.Store,
	dispatcher Dispatcher,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		queue:      queue,
		calls:      calls,
		limiter:    limiter,
		identities: identities,
		pol:        pol,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Router builds the chi router with all routes mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger(h.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/queue", func(r chi.Router) {
			r.Get("/", h.listQueue)
			r.Get("/stats", h.queueStats)
			r.Get("/{phone}", h.getRecord)
			r.Post("/{phone}/pause", h.pauseRecord)
			r.Post("/{phone}/resume", h.resumeRecord)
			r.Delete("/{phone}", h.deleteRecord)
		})
		r.Route("/dispatch", func(r chi.Router) {
			r.Post("/trigger", h.triggerDispatch)
			r.Post("/start", h.startDispatch)
			r.Post("/stop", h.stopDispatch)
		})
		r.Get("/config", h.getConfig)
		r.Put("/config", h.putConfig)
		r.Post("/calls", h.createCall)
	})
	r.Post("/webhooks/completion", h.completionWebhook)
	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)

	return r
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// readyz reports ready once the queue has loaded its partitions, which is a
// construction-time guarantee, so readiness tracks process liveness.
func (h *Handler) readyz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// requestLogger logs every request with method, path, status and duration.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rw.status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
