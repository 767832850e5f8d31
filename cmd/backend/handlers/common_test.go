package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/hairizuan-noorazman/spahost/archive"
	"github.com/hairizuan-noorazman/spahost/extract"
	"github.com/hairizuan-noorazman/spahost/ingest"
	"github.com/hairizuan-noorazman/spahost/lock"
	"github.com/hairizuan-noorazman/spahost/logger"
	"github.com/hairizuan-noorazman/spahost/metrics"
	"github.com/hairizuan-noorazman/spahost/operation"
	"github.com/hairizuan-noorazman/spahost/project"
	"github.com/hairizuan-noorazman/spahost/resolver"
	"github.com/hairizuan-noorazman/spahost/storage"
	"github.com/hairizuan-noorazman/spahost/testutil"
)

const testMaxUpload = 64 << 10

type testServer struct {
	router  *mux.Router
	store   *project.SQLStore
	metrics *metrics.Prom
	log     *logger.TestLogger
}

// setupTestServer wires the full HTTP surface over a SQLite store and a
// temporary site root.
func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	db := testutil.SetupTestDB(t)
	testutil.AutoMigrate(t, db, &project.Project{}, &project.HistoryEntry{})
	sqlDB, err := db.DB()
	require.NoError(t, err)

	tree, err := storage.NewTree(filepath.Join(t.TempDir(), "sites"))
	require.NoError(t, err)

	log := logger.NewTestLogger()
	store := project.NewSQLStore(db, log)
	m := metrics.NewProm("spahost")

	coordinator := ingest.NewCoordinator(ingest.Deps{
		Validator: archive.NewValidator(archive.Options{MaxSizeBytes: testMaxUpload}),
		Extractor: extract.NewExtractor(tree, testMaxUpload, log),
		Tree:      tree,
		Store:     store,
		Locker:    lock.NewLocalLocker(),
		Metrics:   m,
		Logger:    log,
	}, ingest.Config{})
	res := resolver.New(store, m, log)

	router := NewRouter(RouterConfig{
		Dispatcher:     operation.NewDispatcher(coordinator, res, log),
		ProjectStore:   store,
		Resolver:       res,
		Metrics:        m,
		MetricsHandler: m.Handler(),
		DB:             sqlDB,
		MaxUploadBytes: testMaxUpload,
		Logger:         log,
	})

	return &testServer{router: router, store: store, metrics: m, log: log}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) doJSON(method, target string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return s.do(req)
}

func (s *testServer) upload(t *testing.T, fields map[string]string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if data != nil {
		fw, err := mw.CreateFormFile("file", "site.zip")
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return s.do(req)
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dest), w.Body.String())
}
