package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chemviz/equipment-visualizer/internal/analysis"
	"github.com/chemviz/equipment-visualizer/internal/report"
)

func TestUpload_StoresDatasetAndBlob(t *testing.T) {
	f := newFixture(t, 5)
	userID := f.user(t, "alice")

	ds, summary, err := f.datasets.Upload(context.Background(), userID, "plant.csv", []byte(sampleCSV))
	require.NoError(t, err)

	assert.Equal(t, "plant.csv", ds.Filename)
	assert.Equal(t, 3, ds.TotalCount)
	assert.Len(t, ds.Rows, 3)
	assert.Equal(t, map[string]int{"Pump": 2, "Valve": 1}, ds.TypeDistribution)
	assert.Equal(t, 3, summary.TotalCount)
	assert.InDelta(t, 91.6667, summary.AvgFlowrate, 1e-4)

	stored, err := f.blobs.Get(ds.BlobKey)
	require.NoError(t, err)
	assert.Equal(t, sampleCSV, string(stored))

	got, err := f.datasets.Get(context.Background(), userID, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, ds.Rows, got.Rows)
}

func TestUpload_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		body     string
		target   error
		reason   string
	}{
		{
			name:     "not a csv",
			filename: "plant.xlsx",
			body:     sampleCSV,
			target:   ErrInvalidUpload,
			reason:   "Only CSV files are allowed",
		},
		{
			name:     "empty file",
			filename: "empty.csv",
			body:     "",
			target:   analysis.ErrEmptyInput,
			reason:   "CSV file is empty",
		},
		{
			name:     "missing pressure",
			filename: "p.csv",
			body:     "Equipment Name,Type,Flowrate,Temperature\nP1,Pump,1,2\n",
			target:   ErrInvalidUpload,
			reason:   "Missing required columns: Pressure",
		},
		{
			name:     "bad number",
			filename: "p.csv",
			body:     "Equipment Name,Type,Flowrate,Pressure,Temperature\nP1,Pump,fast,1,2\n",
			target:   ErrInvalidUpload,
			reason:   "Column 'Flowrate' must contain numeric values",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 5)
			userID := f.user(t, "alice")

			_, _, err := f.datasets.Upload(context.Background(), userID, tt.filename, []byte(tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.ErrorIs(t, err, ErrInvalidUpload)
			assert.Equal(t, tt.reason, err.Error())

			assert.Empty(t, f.ids(t, userID))
			assert.Zero(t, f.blobCount(t))
		})
	}
}

func TestUpload_ValidationErrorIsInspectable(t *testing.T) {
	f := newFixture(t, 5)
	userID := f.user(t, "alice")

	body := "Equipment Name,Type,Flowrate,Pressure,Temperature\nP1,,1,1,1\n"
	_, _, err := f.datasets.Upload(context.Background(), userID, "n.csv", []byte(body))

	var verr *analysis.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "Null values found in columns: Type", verr.Reason)
}

func TestUpload_TooLarge(t *testing.T) {
	f := newFixture(t, 5)
	userID := f.user(t, "alice")
	f.datasets.opts.MaxUploadBytes = 64

	_, _, err := f.datasets.Upload(context.Background(), userID, "big.csv", []byte(sampleCSV))
	assert.ErrorIs(t, err, ErrUploadTooLarge)
	assert.NotErrorIs(t, err, ErrInvalidUpload)
	assert.Empty(t, f.ids(t, userID))
}

func TestUpload_FailedCommitRemovesBlob(t *testing.T) {
	f := newFixture(t, 5)
	userID := f.user(t, "alice")

	store := &flakyStore{DatasetStore: f.db, failCreate: true}
	svc := NewDatasetService(store, f.blobs, f.history, report.NewRenderer(), DatasetOptions{}, zap.NewNop(), nil)

	_, _, err := svc.Upload(context.Background(), userID, "plant.csv", []byte(sampleCSV))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save dataset")
	assert.Zero(t, f.blobCount(t))
	assert.Empty(t, f.ids(t, userID))
}

func TestUpload_ConcurrencySlots(t *testing.T) {
	f := newFixture(t, 5)
	userID := f.user(t, "alice")

	slots := &fakeSlots{inUse: 2}
	f.datasets.opts.Slots = slots
	f.datasets.opts.MaxConcurrentPerUser = 2

	_, _, err := f.datasets.Upload(context.Background(), userID, "a.csv", []byte(sampleCSV))
	assert.ErrorIs(t, err, ErrTooManyUploads)

	slots.inUse = 0
	_, _, err = f.datasets.Upload(context.Background(), userID, "a.csv", []byte(sampleCSV))
	require.NoError(t, err)
	assert.Equal(t, 1, slots.released)
	assert.Zero(t, slots.inUse)

	// An unreachable limiter does not block uploads
	slots.err = errors.New("connection refused")
	_, _, err = f.datasets.Upload(context.Background(), userID, "a.csv", []byte(sampleCSV))
	require.NoError(t, err)
}

func TestDatasets_OtherOwnerIsNotFound(t *testing.T) {
	f := newFixture(t, 5)
	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	ds := f.upload(t, alice, "a.csv")
	ctx := context.Background()

	_, err := f.datasets.Get(ctx, bob, ds.ID)
	assert.ErrorIs(t, err, ErrDatasetNotFound)

	_, _, err = f.datasets.Summary(ctx, bob, ds.ID)
	assert.ErrorIs(t, err, ErrDatasetNotFound)

	_, _, err = f.datasets.Report(ctx, bob, ds.ID)
	assert.ErrorIs(t, err, ErrDatasetNotFound)

	assert.ErrorIs(t, f.datasets.Delete(ctx, bob, ds.ID), ErrDatasetNotFound)

	// Still there for its owner
	_, err = f.datasets.Get(ctx, alice, ds.ID)
	assert.NoError(t, err)
}

func TestDatasets_SummaryIsRecomputed(t *testing.T) {
	f := newFixture(t, 5)
	userID := f.user(t, "alice")
	ds := f.upload(t, userID, "a.csv")

	got, summary, err := f.datasets.Summary(context.Background(), userID, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, ds.ID, got.ID)
	assert.Equal(t, 3, summary.TotalCount)
	assert.Equal(t, 120.0, summary.MaxFlowrate)
	assert.Equal(t, 2, summary.StatisticsByType["Pump"].Count)
}

func TestDatasets_Report(t *testing.T) {
	f := newFixture(t, 5)
	userID := f.user(t, "alice")
	ds := f.upload(t, userID, "plant_b.csv")

	data, filename, err := f.datasets.Report(context.Background(), userID, ds.ID)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
	assert.True(t, strings.HasSuffix(filename, "_plant_b.pdf"))
}

func TestDatasets_Original(t *testing.T) {
	f := newFixture(t, 5)
	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	ds := f.upload(t, alice, "plant_c.csv")
	ctx := context.Background()

	data, filename, err := f.datasets.Original(ctx, alice, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, sampleCSV, string(data))
	assert.Equal(t, "plant_c.csv", filename)

	_, _, err = f.datasets.Original(ctx, bob, ds.ID)
	assert.ErrorIs(t, err, ErrDatasetNotFound)

	// The rows survive losing the stored file, the download does not
	require.NoError(t, f.blobs.Delete(ds.BlobKey))
	_, _, err = f.datasets.Original(ctx, alice, ds.ID)
	assert.ErrorIs(t, err, ErrOriginalMissing)
	_, err = f.datasets.Get(ctx, alice, ds.ID)
	assert.NoError(t, err)
}

func TestDatasets_Delete(t *testing.T) {
	f := newFixture(t, 5)
	userID := f.user(t, "alice")
	ds := f.upload(t, userID, "a.csv")

	require.NoError(t, f.datasets.Delete(context.Background(), userID, ds.ID))
	assert.Empty(t, f.ids(t, userID))
	assert.Zero(t, f.blobCount(t))

	assert.ErrorIs(t, f.datasets.Delete(context.Background(), userID, ds.ID), ErrDatasetNotFound)
}

func TestDatasets_ListAndHistory(t *testing.T) {
	f := newFixture(t, 5)
	userID := f.user(t, "alice")
	for i := 0; i < 3; i++ {
		f.upload(t, userID, "a.csv")
	}

	list, err := f.datasets.List(context.Background(), userID)
	require.NoError(t, err)
	assert.Len(t, list, 3)
	assert.True(t, list[0].UploadedAt.After(list[2].UploadedAt))

	empty, err := f.datasets.History(context.Background(), f.user(t, "bob"))
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestCheckUpload(t *testing.T) {
	f := newFixture(t, 5)

	assert.NoError(t, f.datasets.CheckUpload("DATA.CSV", 10))
	assert.ErrorIs(t, f.datasets.CheckUpload("data.txt", 10), ErrInvalidUpload)

	err := f.datasets.CheckUpload("data.csv", DefaultMaxUploadBytes+1)
	require.ErrorIs(t, err, ErrUploadTooLarge)
	assert.Contains(t, err.Error(), "5MB")
}
