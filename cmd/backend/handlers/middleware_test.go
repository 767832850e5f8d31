package handlers

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hairizuan-noorazman/spahost/logger"
	"github.com/hairizuan-noorazman/spahost/metrics"
)

type observedRequest struct {
	method, route, status string
}

type requestRecorder struct {
	metrics.Noop

	mu       sync.Mutex
	requests []observedRequest
}

func (r *requestRecorder) ObserveRequest(method, route, status string, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, observedRequest{method, route, status})
}

func newMiddlewareRouter(m metrics.Metrics, log logger.Logger, handler http.HandlerFunc) *mux.Router {
	router := mux.NewRouter()
	router.Use(NewRequestMiddleware(m, log).Handler)
	router.HandleFunc("/items/{id}", handler)
	return router
}

func TestRequestMiddleware_RequestID(t *testing.T) {
	var seen string
	router := newMiddlewareRouter(nil, logger.NewTestLogger(), func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetRequestID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("generated when absent", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/items/1", nil))

		id := w.Header().Get(RequestIDHeader)
		_, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.Equal(t, id, seen)
	})

	t.Run("propagated when valid", func(t *testing.T) {
		want := uuid.New().String()
		req := httptest.NewRequest(http.MethodGet, "/items/1", nil)
		req.Header.Set(RequestIDHeader, want)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, want, w.Header().Get(RequestIDHeader))
		assert.Equal(t, want, seen)
	})

	t.Run("replaced when malformed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/items/1", nil)
		req.Header.Set(RequestIDHeader, "not-a-uuid")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.NotEqual(t, "not-a-uuid", w.Header().Get(RequestIDHeader))
		_, err := uuid.Parse(w.Header().Get(RequestIDHeader))
		assert.NoError(t, err)
	})
}

func TestRequestMiddleware_ObservesRoute(t *testing.T) {
	rec := &requestRecorder{}
	log := logger.NewTestLogger()
	router := newMiddlewareRouter(rec, log, func(w http.ResponseWriter, r *http.Request) {
		if mux.Vars(r)["id"] == "broken" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/1", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/items/broken", nil))

	require.Len(t, rec.requests, 2)
	assert.Equal(t, observedRequest{"GET", "/items/{id}", "200"}, rec.requests[0])
	assert.Equal(t, observedRequest{"DELETE", "/items/{id}", "500"}, rec.requests[1])
	assert.True(t, log.HasMessage("warn", "request failed"))
}
