package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/hairizuan-noorazman/spahost/logger"
	"github.com/hairizuan-noorazman/spahost/metrics"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const (
	// RequestIDKey is the context key for the request ID.
	RequestIDKey ContextKey = "request_id"

	// RequestIDHeader carries the request ID in and out.
	RequestIDHeader = "X-Request-ID"
)

// RequestMiddleware assigns request IDs, adds them to log context and records
// request metrics.
type RequestMiddleware struct {
	metrics metrics.Metrics
	logger  logger.Logger
}

// NewRequestMiddleware creates a new request middleware.
func NewRequestMiddleware(m metrics.Metrics, log logger.Logger) *RequestMiddleware {
	if m == nil {
		m = metrics.Noop{}
	}
	return &RequestMiddleware{metrics: m, logger: log}
}

// Handler wraps an HTTP handler.
func (m *RequestMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		ctx = logger.WithContextFields(ctx, map[string]interface{}{"request_id": requestID})
		r = r.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := routeTemplate(r)
		duration := time.Since(start)
		m.metrics.ObserveRequest(r.Method, route, strconv.Itoa(rec.status), duration.Seconds())

		fields := map[string]interface{}{
			"method":      r.Method,
			"route":       route,
			"status":      rec.status,
			"duration_ms": duration.Milliseconds(),
		}
		if rec.status >= http.StatusInternalServerError {
			m.logger.Warn(ctx, "request failed", fields)
			return
		}
		m.logger.Debug(ctx, "request completed", fields)
	})
}

// GetRequestID extracts the request ID from the request context.
func GetRequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(RequestIDKey).(string)
	return id, ok
}

// routeTemplate returns the matched route pattern so metric labels stay
// bounded.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}
