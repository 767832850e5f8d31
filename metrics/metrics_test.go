package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopMetrics(t *testing.T) {
	var m Metrics = Noop{}
	m.ObserveUpload("ok", 0.1)
	m.IncDelete("ok")
	m.IncResolve("found")
	m.IncMirrorFailure("upload")
	m.AddPruned(2)
	m.AddRecovered("staging", 1)
	m.ObserveRequest("GET", "/health", "200", 0.01)
}

func TestPromMetrics(t *testing.T) {
	m := NewProm("spahost")
	m.ObserveUpload("ok", 0.2)
	m.ObserveUpload("ok", 0.3)
	m.ObserveUpload("validation", 0.01)
	m.IncDelete("ok")
	m.IncResolve("not_found")
	m.IncMirrorFailure("upload")
	m.AddPruned(3)
	m.AddPruned(0)
	m.AddRecovered("staging", 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.uploads.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues("validation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deletes.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolves.WithLabelValues("not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mirrorFailures.WithLabelValues("upload")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.pruned))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.recovered.WithLabelValues("staging")))
}

func TestPromMetrics_IndependentRegistries(t *testing.T) {
	a := NewProm("spahost")
	b := NewProm("spahost")
	a.IncDelete("ok")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.deletes.WithLabelValues("ok")))
}

func TestPromHandler(t *testing.T) {
	m := NewProm("spahost")
	m.ObserveRequest("GET", "/health", "200", 0.005)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `spahost_http_requests_total{method="GET",route="/health",status="200"} 1`))
}
