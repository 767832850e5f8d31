package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/hairizuan-noorazman/spahost/archive"
	"github.com/hairizuan-noorazman/spahost/extract"
	"github.com/hairizuan-noorazman/spahost/lock"
	"github.com/hairizuan-noorazman/spahost/logger"
	"github.com/hairizuan-noorazman/spahost/metrics"
	"github.com/hairizuan-noorazman/spahost/project"
	"github.com/hairizuan-noorazman/spahost/storage"
	"github.com/hairizuan-noorazman/spahost/testutil"
)

type harness struct {
	coordinator *Coordinator
	tree        *storage.Tree
	store       *project.SQLStore
	db          *gorm.DB
	locker      *lock.LocalLocker
	log         *logger.TestLogger
	metrics     *recordingMetrics
}

type harnessOptions struct {
	maxSizeBytes int64
	extractMax   int64
	mirror       storage.BlobStorage
	history      *flakyHistoryStore
}

type harnessOption func(*harnessOptions)

func withMaxSize(n int64) harnessOption {
	return func(o *harnessOptions) { o.maxSizeBytes = n }
}

func withExtractLimit(n int64) harnessOption {
	return func(o *harnessOptions) { o.extractMax = n }
}

func withMirror(m storage.BlobStorage) harnessOption {
	return func(o *harnessOptions) { o.mirror = m }
}

func withFlakyHistory(f *flakyHistoryStore) harnessOption {
	return func(o *harnessOptions) { o.history = f }
}

// newHarness wires a coordinator against a temporary site root and a SQLite
// metadata store.
func newHarness(t *testing.T, cfg Config, opts ...harnessOption) *harness {
	t.Helper()

	o := harnessOptions{extractMax: 1 << 20}
	for _, opt := range opts {
		opt(&o)
	}

	db := testutil.SetupTestDB(t)
	testutil.AutoMigrate(t, db, &project.Project{}, &project.HistoryEntry{})

	tree, err := storage.NewTree(filepath.Join(t.TempDir(), "sites"))
	require.NoError(t, err)

	log := logger.NewTestLogger()
	store := project.NewSQLStore(db, log)
	locker := lock.NewLocalLocker()
	m := &recordingMetrics{}

	var deps project.Store = store
	if o.history != nil {
		o.history.Store = store
		deps = o.history
	}

	c := NewCoordinator(Deps{
		Validator: archive.NewValidator(archive.Options{MaxSizeBytes: o.maxSizeBytes}),
		Extractor: extract.NewExtractor(tree, o.extractMax, log),
		Tree:      tree,
		Store:     deps,
		Locker:    locker,
		Mirror:    o.mirror,
		Metrics:   m,
		Logger:    log,
	}, cfg)

	return &harness{
		coordinator: c,
		tree:        tree,
		store:       store,
		db:          db,
		locker:      locker,
		log:         log,
		metrics:     m,
	}
}

func (h *harness) upload(slug string, data []byte) (*UploadResult, error) {
	return h.coordinator.Upload(context.Background(), UploadRequest{
		Slug:    slug,
		Archive: bytes.NewReader(data),
	})
}

func (h *harness) mustUpload(t *testing.T, slug string, data []byte) *UploadResult {
	t.Helper()
	res, err := h.upload(slug, data)
	require.NoError(t, err)
	return res
}

func readSiteFile(t *testing.T, p *project.Project, rel string) string {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(p.StoragePath, rel))
	require.NoError(t, err)
	return string(content)
}

// recordingMetrics captures the outcomes reported by the coordinator.
type recordingMetrics struct {
	metrics.Noop

	mu             sync.Mutex
	uploads        []string
	deletes        []string
	mirrorFailures []string
	pruned         int
	recovered      map[string]int
}

func (m *recordingMetrics) ObserveUpload(outcome string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads = append(m.uploads, outcome)
}

func (m *recordingMetrics) IncDelete(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, outcome)
}

func (m *recordingMetrics) IncMirrorFailure(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mirrorFailures = append(m.mirrorFailures, op)
}

func (m *recordingMetrics) AddPruned(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruned += n
}

func (m *recordingMetrics) AddRecovered(kind string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recovered == nil {
		m.recovered = map[string]int{}
	}
	m.recovered[kind] += n
}

func (m *recordingMetrics) uploadOutcomes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.uploads...)
}

// failingMirror rejects every operation.
type failingMirror struct{}

var errMirrorDown = errors.New("mirror unavailable")

func (failingMirror) Upload(context.Context, string, io.Reader) error { return errMirrorDown }

func (failingMirror) Download(context.Context, string) (io.ReadCloser, error) {
	return nil, errMirrorDown
}

func (failingMirror) Delete(context.Context, string) error { return errMirrorDown }

func (failingMirror) Exists(context.Context, string) (bool, error) { return false, errMirrorDown }

var errHistoryUnavailable = errors.New("history table unavailable")

// flakyHistoryStore fails ListHistory while failing is set.
type flakyHistoryStore struct {
	project.Store
	failing atomic.Bool
}

func (s *flakyHistoryStore) ListHistory(ctx context.Context, slug string) ([]*project.HistoryEntry, error) {
	if s.failing.Load() {
		return nil, errHistoryUnavailable
	}
	return s.Store.ListHistory(ctx, slug)
}
