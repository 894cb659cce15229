package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/chemviz/equipment-visualizer/internal/storage"
)

func TestHistory_SevenUploadsKeepFiveNewest(t *testing.T) {
	f := newFixture(t, 5)
	userID := f.user(t, "alice")

	var uploaded []int
	for i := 0; i < 7; i++ {
		uploaded = append(uploaded, f.upload(t, userID, "run.csv").ID)
	}

	ids := f.ids(t, userID)
	assert.Equal(t, []int{uploaded[6], uploaded[5], uploaded[4], uploaded[3], uploaded[2]}, ids)
	assert.Equal(t, 5, f.blobCount(t))

	history, err := f.datasets.History(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, history, 5)
	assert.Equal(t, uploaded[6], history[0].ID)
}

func TestHistory_CapPlusOneEvictsOldest(t *testing.T) {
	f := newFixture(t, 5)
	userID := f.user(t, "alice")

	first := f.upload(t, userID, "first.csv")
	for i := 0; i < 5; i++ {
		f.upload(t, userID, "next.csv")
	}

	ids := f.ids(t, userID)
	assert.Len(t, ids, 5)
	assert.NotContains(t, ids, first.ID)

	_, err := f.datasets.Get(context.Background(), userID, first.ID)
	assert.ErrorIs(t, err, ErrDatasetNotFound)

	_, err = f.blobs.Get(first.BlobKey)
	assert.ErrorIs(t, err, storage.ErrBlobNotFound)
	expected := `
# HELP chemviz_retention_evictions_total Datasets removed by the retention policy
# TYPE chemviz_retention_evictions_total counter
chemviz_retention_evictions_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.metrics.Registry(), strings.NewReader(expected), "chemviz_retention_evictions_total"))
}

func TestHistory_ConcurrentUploadsKeepCap(t *testing.T) {
	f := newFixture(t, 5)
	userID := f.user(t, "alice")
	for i := 0; i < 5; i++ {
		f.upload(t, userID, "seed.csv")
	}

	const uploads = 8
	errs := make(chan error, uploads)
	var wg sync.WaitGroup
	for i := 0; i < uploads; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _, err := f.datasets.Upload(context.Background(), userID, fmt.Sprintf("run-%d.csv", n), []byte(sampleCSV))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, f.ids(t, userID), 5)
	assert.Equal(t, 5, f.blobCount(t))
	assert.Zero(t, f.logs.FilterMessage("Retention enforcement failed after upload").Len())
	assert.Zero(t, f.logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestHistory_EnforceIsIdempotent(t *testing.T) {
	f := newFixture(t, 3)
	userID := f.user(t, "alice")
	for i := 0; i < 4; i++ {
		f.upload(t, userID, "x.csv")
	}
	before := f.ids(t, userID)

	report, err := f.history.Enforce(context.Background(), userID)
	require.NoError(t, err)
	assert.Empty(t, report.Evicted)
	assert.Equal(t, before, f.ids(t, userID))
}

func TestHistory_UsersAreIndependent(t *testing.T) {
	f := newFixture(t, 2)
	alice := f.user(t, "alice")
	bob := f.user(t, "bob")

	for i := 0; i < 3; i++ {
		f.upload(t, alice, "a.csv")
	}
	f.upload(t, bob, "b.csv")

	assert.Len(t, f.ids(t, alice), 2)
	assert.Len(t, f.ids(t, bob), 1)
}

func TestHistory_BlobDeleteFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, 2)
	userID := f.user(t, "alice")

	blobs := &failingBlobs{BlobStore: f.blobs}
	f.history = NewHistoryManager(f.db, blobs, 2, zap.NewNop(), f.metrics)
	f.datasets.history = f.history

	oldest := f.upload(t, userID, "a.csv")
	f.upload(t, userID, "b.csv")

	blobs.failDelete = true
	newest := f.upload(t, userID, "c.csv")
	require.NotNil(t, newest)

	// The dataset is gone even though its blob could not be removed
	assert.NotContains(t, f.ids(t, userID), oldest.ID)
	_, err := f.blobs.Get(oldest.BlobKey)
	assert.NoError(t, err)

	// A later run does not resurrect or retry it
	report, err := f.history.Enforce(context.Background(), userID)
	require.NoError(t, err)
	assert.Empty(t, report.Evicted)
}

func TestHistory_ReportsBlobFailures(t *testing.T) {
	f := newFixture(t, 5)
	userID := f.user(t, "alice")
	for i := 0; i < 3; i++ {
		f.upload(t, userID, "a.csv")
	}

	oldest := f.ids(t, userID)[2]
	blobs := &failingBlobs{BlobStore: f.blobs, failDelete: true}
	h := NewHistoryManager(f.db, blobs, 2, zap.NewNop(), nil)

	report, err := h.Enforce(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, []int{oldest}, report.Evicted)
	assert.Len(t, report.BlobFailures, 1)
}

func TestHistory_AlreadyEvictedCountsAsEvicted(t *testing.T) {
	f := newFixture(t, 5)
	userID := f.user(t, "alice")
	for i := 0; i < 3; i++ {
		f.upload(t, userID, "a.csv")
	}

	h := NewHistoryManager(&flakyStore{DatasetStore: f.db, alreadyGone: true}, f.blobs, 1, zap.NewNop(), nil)
	report, err := h.Enforce(context.Background(), userID)
	require.NoError(t, err)
	assert.Len(t, report.Evicted, 2)
	assert.Empty(t, report.BlobFailures)
}

func TestHistory_StoreFailureStopsRun(t *testing.T) {
	f := newFixture(t, 5)
	userID := f.user(t, "alice")
	for i := 0; i < 3; i++ {
		f.upload(t, userID, "a.csv")
	}
	ids := f.ids(t, userID)

	// Oldest goes first, the next one fails
	store := &flakyStore{DatasetStore: f.db, failDeleteID: ids[1]}
	h := NewHistoryManager(store, f.blobs, 1, zap.NewNop(), nil)

	report, err := h.Enforce(context.Background(), userID)
	require.Error(t, err)
	assert.Equal(t, []int{ids[2]}, report.Evicted)
	assert.Equal(t, ids[:2], f.ids(t, userID))
}

func TestHistory_EnforceAll(t *testing.T) {
	f := newFixture(t, 5)
	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	carol := f.user(t, "carol")
	for i := 0; i < 4; i++ {
		f.upload(t, alice, "a.csv")
	}
	for i := 0; i < 2; i++ {
		f.upload(t, bob, "b.csv")
	}
	f.upload(t, carol, "c.csv")

	// Lowering the cap only takes effect on the next run
	h := NewHistoryManager(f.db, f.blobs, 2, zap.NewNop(), nil)
	reports, err := h.EnforceAll(context.Background())
	require.NoError(t, err)

	require.Len(t, reports, 1)
	assert.Equal(t, alice, reports[0].UserID)
	assert.Len(t, reports[0].Evicted, 2)

	assert.Len(t, f.ids(t, alice), 2)
	assert.Len(t, f.ids(t, bob), 2)
	assert.Len(t, f.ids(t, carol), 1)
}

func TestNewHistoryManager_DefaultCap(t *testing.T) {
	h := NewHistoryManager(nil, nil, 0, zap.NewNop(), nil)
	assert.Equal(t, DefaultMaxStoredDatasets, h.MaxStored())
}
