package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/chemviz/equipment-visualizer/internal/model"
	"github.com/chemviz/equipment-visualizer/internal/pkg/jwt"
	"github.com/chemviz/equipment-visualizer/internal/pkg/metrics"
	"github.com/chemviz/equipment-visualizer/internal/report"
	"github.com/chemviz/equipment-visualizer/internal/repository"
	"github.com/chemviz/equipment-visualizer/internal/storage"
)

const sampleCSV = `Equipment Name,Type,Flowrate,Pressure,Temperature
Pump-1,Pump,120,5.2,110
Pump-2,Pump,95,4.8,105
Valve-1,Valve,60,4.1,98
`

type fixture struct {
	db       *repository.DB
	fs       afero.Fs
	blobs    *storage.BlobStore
	history  *HistoryManager
	datasets *DatasetService
	metrics  *metrics.Metrics
	logs     *observer.ObservedLogs

	mu    sync.Mutex
	clock time.Time
}

func newFixture(t *testing.T, maxStored int) *fixture {
	t.Helper()

	db, err := repository.Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	fsys := afero.NewMemMapFs()
	blobs, err := storage.NewBlobStore(fsys, "/uploads")
	require.NoError(t, err)

	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)

	f := &fixture{db: db, fs: fsys, blobs: blobs, metrics: metrics.NewNop(), logs: logs}
	f.clock = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	f.history = NewHistoryManager(db, blobs, maxStored, log, f.metrics)
	f.datasets = NewDatasetService(db, blobs, f.history, report.NewRenderer(), DatasetOptions{}, log, f.metrics)
	f.datasets.now = f.tick
	return f
}

// tick advances the fake clock one minute per call
func (f *fixture) tick() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(time.Minute)
	return f.clock
}

func (f *fixture) user(t *testing.T, name string) int {
	t.Helper()
	id, err := f.db.CreateUser(context.Background(), name, "x", "", "", "")
	require.NoError(t, err)
	return id
}

func (f *fixture) upload(t *testing.T, userID int, name string) *model.Dataset {
	t.Helper()
	ds, _, err := f.datasets.Upload(context.Background(), userID, name, []byte(sampleCSV))
	require.NoError(t, err)
	return ds
}

func (f *fixture) ids(t *testing.T, userID int) []int {
	t.Helper()
	list, err := f.db.ListUserDatasets(context.Background(), userID, 0)
	require.NoError(t, err)
	ids := make([]int, len(list))
	for i, ds := range list {
		ids[i] = ds.ID
	}
	return ids
}

func (f *fixture) blobCount(t *testing.T) int {
	t.Helper()
	n := 0
	err := afero.Walk(f.fs, "/uploads", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, ".csv") {
			n++
		}
		return nil
	})
	require.NoError(t, err)
	return n
}

func newTestTokens() *jwt.Manager {
	return jwt.NewManager("service-test-secret-123", 1)
}

// failingBlobs wraps a BlobStore and fails Delete for chosen keys
type failingBlobs struct {
	BlobStore
	failDelete bool
	deleted    []string
}

func (b *failingBlobs) Delete(key string) error {
	if b.failDelete {
		return errors.New("disk unavailable")
	}
	b.deleted = append(b.deleted, key)
	return b.BlobStore.Delete(key)
}

// flakyStore wraps a DatasetStore to inject failures
type flakyStore struct {
	DatasetStore
	failCreate   bool
	alreadyGone  bool
	failDeleteID int
}

func (s *flakyStore) CreateDataset(ctx context.Context, in *model.DatasetCreate) (*model.Dataset, error) {
	if s.failCreate {
		return nil, errors.New("database is locked")
	}
	return s.DatasetStore.CreateDataset(ctx, in)
}

func (s *flakyStore) DeleteDataset(ctx context.Context, userID, datasetID int) (string, bool, error) {
	if s.failDeleteID == datasetID {
		return "", false, fmt.Errorf("delete %d: database is locked", datasetID)
	}
	if s.alreadyGone {
		return "", false, nil
	}
	return s.DatasetStore.DeleteDataset(ctx, userID, datasetID)
}

// fakeSlots is an UploadLimiter with a fixed capacity
type fakeSlots struct {
	mu       sync.Mutex
	inUse    int
	err      error
	released int
}

func (s *fakeSlots) AcquireSlot(_ context.Context, _ int, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if s.inUse >= limit {
		return false, nil
	}
	s.inUse++
	return true, nil
}

func (s *fakeSlots) ReleaseSlot(context.Context, int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inUse--
	s.released++
	return nil
}
