package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/copilfi/copil-sub001/internal/observability"
)

// Logging returns middleware that stamps every request with a correlation id
// and logs it with structured slog output: method, route, status, duration.
// The id is taken from the X-Correlation-Id header when the caller supplied
// one, minted otherwise, stored on the context for handlers and echoed back
// on the response. Request latency is observed per route and status class.
func Logging(logger *slog.Logger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			corrID := r.Header.Get(observability.HeaderCorrelationID)
			if corrID == "" {
				corrID = observability.NewCorrelationID()
			}
			r = r.WithContext(observability.WithCorrelationID(r.Context(), corrID))
			w.Header().Set(observability.HeaderCorrelationID, corrID)

			// Wrap the ResponseWriter to capture the status code.
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start)

			// r.Pattern is populated by ServeMux during routing; unmatched
			// requests fall back to the raw path.
			route := r.Pattern
			if route == "" {
				route = r.URL.Path
			}
			if metrics != nil {
				metrics.HTTPRequestDuration.
					WithLabelValues(route, strconv.Itoa(rw.statusCode/100)+"xx").
					Observe(duration.Seconds())
			}

			logger.InfoContext(r.Context(), "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rw.statusCode),
				slog.Duration("duration", duration),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("correlationId", corrID),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the HTTP status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

// WriteHeader captures the status code before delegating to the underlying
// ResponseWriter.
func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

// Write ensures that the status code is captured even when WriteHeader is
// not called explicitly (defaults to 200).
func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.wroteHeader = true
	}
	return rw.ResponseWriter.Write(b)
}
