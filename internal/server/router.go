package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/r2browser/r2browser/internal/metrics"
)

// router builds the chi route tree. Order matters in two places: the
// middleware chain (request id first so everything downstream can tag
// with it) and the objects subtree (the static /batch route must be
// registered so it wins over the wildcard key route).
func (s *Server) router() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(recoverer(s.log))
	r.Use(corsMiddleware(s.cfg.CORSAllowedOrigins))
	r.Use(requestLogger(s.log))

	r.Get("/health", s.handleHealth)
	r.Post("/shutdown", s.handleShutdown)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/buckets", func(r chi.Router) {
		r.Get("/", s.handleListBuckets)

		r.Route("/{bucket}", func(r chi.Router) {
			r.Get("/objects", s.handleListObjects)
			r.Get("/objects/*", s.handleGetObject)
			r.Put("/objects/*", s.handlePutObject)
			r.Delete("/objects/batch", s.handleBatchDelete)
			r.Delete("/objects/*", s.handleDeleteObject)
			r.Get("/search", s.handleSearch)
		})
	})

	r.Route("/transfers", func(r chi.Router) {
		r.Post("/", s.handleCreateTransfer)
		r.Get("/", s.handleListTransfers)
		r.Delete("/completed", s.handleClearCompleted)
		r.Get("/{id}", s.handleGetTransfer)
		r.Post("/{id}/cancel", s.handleCancelTransfer)
		r.Post("/{id}/pause", s.handlePauseTransfer)
		r.Post("/{id}/resume", s.handleResumeTransfer)
		r.Post("/{id}/retry", s.handleRetryTransfer)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, newAPIError(codeInvalidParam, http.StatusNotFound, "unknown route", nil))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, newAPIError(codeInvalidParam, http.StatusMethodNotAllowed, "method not allowed", nil))
	})

	return r
}
