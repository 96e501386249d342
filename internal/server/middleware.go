package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/r2browser/r2browser/internal/logging"
	"github.com/r2browser/r2browser/internal/metrics"
)

type contextKey string

const requestIDKey contextKey = "requestID"

// requestIDFrom returns the request id assigned by the middleware, or
// "" outside a request context.
func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// requestID assigns a UUID to every inbound request and echoes it in
// the X-Request-Id header. The id travels in the context so log lines
// and response envelopes agree.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// corsMiddleware allows the configured loopback origins only. Origins
// are matched exactly; preflights are answered here and cached for 24h.
func corsMiddleware(allowed []string) func(http.Handler) http.Handler {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		allowedSet[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if _, ok := allowedSet[origin]; ok {
					h := w.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Vary", "Origin")
					h.Set("Access-Control-Allow-Methods", "GET, PUT, POST, DELETE, OPTIONS")
					h.Set("Access-Control-Allow-Headers", "Content-Type, Range, X-Request-Id")
					h.Set("Access-Control-Expose-Headers", "Content-Range, ETag, X-Request-Id")
					h.Set("Access-Control-Max-Age", strconv.Itoa(corsMaxAgeSeconds()))
				}
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger emits the in/out pair per request. Paths and queries go
// through the redaction rules; status decides the out-line level.
func requestLogger(log *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			redactedURL := logging.RedactURL(r.URL)

			log.Debug().
				Str("requestId", requestIDFrom(r.Context())).
				Str("method", r.Method).
				Str("url", redactedURL).
				Msg("request started")

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)

			event := log.Info()
			switch {
			case status >= 500:
				event = log.Error()
			case status >= 400:
				event = log.Warn()
			}
			event.
				Str("requestId", requestIDFrom(r.Context())).
				Str("method", r.Method).
				Str("url", redactedURL).
				Int("status", status).
				Int64("bytes", int64(ww.BytesWritten())).
				Dur("elapsed", elapsed).
				Msg("request completed")

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			metrics.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			metrics.RequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		})
	}
}

// recoverer converts a handler panic into a 500 envelope instead of a
// dropped connection.
func recoverer(log *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error().
						Str("requestId", requestIDFrom(r.Context())).
						Interface("panic", rec).
						Msg("handler panicked")
					writeError(w, r, newAPIError(codeInternal, http.StatusInternalServerError,
						fmt.Sprintf("internal error handling %s %s", r.Method, r.URL.Path), nil))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
