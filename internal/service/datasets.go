package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chemviz/equipment-visualizer/internal/analysis"
	"github.com/chemviz/equipment-visualizer/internal/model"
	"github.com/chemviz/equipment-visualizer/internal/pkg/metrics"
	"github.com/chemviz/equipment-visualizer/internal/report"
	"github.com/chemviz/equipment-visualizer/internal/storage"
)

// DefaultMaxUploadBytes caps an upload when no limit is configured
const DefaultMaxUploadBytes = 5 * 1024 * 1024

// DatasetOptions configures a DatasetService
type DatasetOptions struct {
	MaxUploadBytes       int64
	MaxConcurrentPerUser int
	// Slots is optional; without it uploads are not throttled
	Slots UploadLimiter
}

// DatasetService implements upload and retrieval of datasets
type DatasetService struct {
	store    DatasetStore
	blobs    BlobStore
	history  *HistoryManager
	renderer *report.Renderer
	opts     DatasetOptions
	log      *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewDatasetService creates a DatasetService
func NewDatasetService(store DatasetStore, blobs BlobStore, history *HistoryManager, renderer *report.Renderer,
	opts DatasetOptions, log *zap.Logger, m *metrics.Metrics) *DatasetService {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &DatasetService{
		store:    store,
		blobs:    blobs,
		history:  history,
		renderer: renderer,
		opts:     opts,
		log:      log.With(zap.String("component", "datasets")),
		metrics:  m,
		now:      time.Now,
	}
}

// MaxUploadBytes returns the upload size limit
func (s *DatasetService) MaxUploadBytes() int64 {
	return s.opts.MaxUploadBytes
}

// CheckUpload validates the filename and size before the body is parsed
func (s *DatasetService) CheckUpload(filename string, size int64) error {
	if !strings.EqualFold(filepath.Ext(filename), ".csv") {
		return rejectUpload("Only CSV files are allowed", nil)
	}
	if size > s.opts.MaxUploadBytes {
		return fmt.Errorf("%w: maximum is %s", ErrUploadTooLarge, formatBytes(s.opts.MaxUploadBytes))
	}
	return nil
}

// Upload validates, summarizes and stores a CSV for userID. The dataset and
// its rows are committed together; the user's history is then trimmed to
// the retention cap. Trimming failures are logged, not returned.
func (s *DatasetService) Upload(ctx context.Context, userID int, filename string, data []byte) (*model.Dataset, *model.AnalysisSummary, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if err := s.CheckUpload(filename, int64(len(data))); err != nil {
		s.recordRejection(err)
		return nil, nil, err
	}

	release, err := s.acquireSlot(ctx, userID)
	if err != nil {
		s.metrics.RecordUpload("throttled", 0, 0)
		return nil, nil, err
	}
	defer release()

	rows, summary, err := analysis.Analyze(data)
	if err != nil {
		s.metrics.RecordUpload("invalid", 0, 0)
		return nil, nil, rejectUpload(err.Error(), err)
	}

	blobKey, err := s.blobs.Put(userID, filename, data)
	if err != nil {
		s.metrics.RecordUpload("error", 0, 0)
		return nil, nil, fmt.Errorf("store upload: %w", err)
	}

	ds, err := s.store.CreateDataset(ctx, &model.DatasetCreate{
		UserID:     userID,
		Filename:   filename,
		BlobKey:    blobKey,
		UploadedAt: s.now(),
		Rows:       rows,
		Analysis:   summary,
	})
	if err != nil {
		if derr := s.blobs.Delete(blobKey); derr != nil {
			s.log.Error("Failed to remove upload after failed commit",
				zap.String("blob_key", blobKey), zap.Error(derr))
		}
		s.metrics.RecordUpload("error", 0, 0)
		return nil, nil, fmt.Errorf("save dataset: %w", err)
	}

	if _, err := s.history.Enforce(ctx, userID); err != nil {
		s.log.Warn("Retention enforcement failed after upload",
			zap.Int("user_id", userID), zap.Int("dataset_id", ds.ID), zap.Error(err))
	}

	s.metrics.RecordUpload("success", len(rows), int64(len(data)))
	s.log.Info("Dataset uploaded",
		zap.Int("user_id", userID),
		zap.Int("dataset_id", ds.ID),
		zap.String("filename", filename),
		zap.Int("rows", len(rows)))

	return ds, summary, nil
}

func (s *DatasetService) recordRejection(err error) {
	if errors.Is(err, ErrUploadTooLarge) {
		s.metrics.RecordUpload("too_large", 0, 0)
		return
	}
	s.metrics.RecordUpload("invalid", 0, 0)
}

// acquireSlot takes an upload slot when a limiter is configured. Limiter
// errors let the upload through.
func (s *DatasetService) acquireSlot(ctx context.Context, userID int) (func(), error) {
	noop := func() {}
	if s.opts.Slots == nil || s.opts.MaxConcurrentPerUser <= 0 {
		return noop, nil
	}

	ok, err := s.opts.Slots.AcquireSlot(ctx, userID, s.opts.MaxConcurrentPerUser)
	if err != nil {
		s.log.Warn("Upload slot check failed, continuing without it", zap.Int("user_id", userID), zap.Error(err))
		return noop, nil
	}
	if !ok {
		return nil, ErrTooManyUploads
	}

	return func() {
		// The request context may already be done
		if err := s.opts.Slots.ReleaseSlot(context.WithoutCancel(ctx), userID); err != nil {
			s.log.Warn("Failed to release upload slot", zap.Int("user_id", userID), zap.Error(err))
		}
	}, nil
}

// History returns the retained datasets of a user, newest first
func (s *DatasetService) History(ctx context.Context, userID int) ([]model.DatasetSummary, error) {
	datasets, err := s.store.ListUserDatasets(ctx, userID, s.history.MaxStored())
	if err != nil {
		return nil, err
	}
	return summaries(datasets), nil
}

// List returns every dataset a user owns, newest first
func (s *DatasetService) List(ctx context.Context, userID int) ([]model.DatasetSummary, error) {
	datasets, err := s.store.ListUserDatasets(ctx, userID, 0)
	if err != nil {
		return nil, err
	}
	return summaries(datasets), nil
}

// Get returns a dataset with its rows. Datasets of other users are
// reported as not found.
func (s *DatasetService) Get(ctx context.Context, userID, datasetID int) (*model.Dataset, error) {
	ds, err := s.store.GetDataset(ctx, userID, datasetID)
	if err != nil {
		return nil, err
	}
	if ds == nil {
		return nil, ErrDatasetNotFound
	}
	return ds, nil
}

// Summary recomputes the analysis of a stored dataset
func (s *DatasetService) Summary(ctx context.Context, userID, datasetID int) (*model.Dataset, *model.AnalysisSummary, error) {
	ds, err := s.Get(ctx, userID, datasetID)
	if err != nil {
		return nil, nil, err
	}

	summary, err := analysis.Aggregate(ds.Rows)
	if err != nil {
		return nil, nil, fmt.Errorf("dataset %d: %w", ds.ID, err)
	}
	return ds, summary, nil
}

// Report renders the PDF report of a dataset and returns it with its
// attachment filename
func (s *DatasetService) Report(ctx context.Context, userID, datasetID int) ([]byte, string, error) {
	ds, err := s.Get(ctx, userID, datasetID)
	if err != nil {
		return nil, "", err
	}

	start := time.Now()
	data, err := s.renderer.RenderBytes(ds)
	if err != nil {
		s.metrics.RecordReportRender("error", time.Since(start))
		s.log.Error("Failed to render report", zap.Int("dataset_id", ds.ID), zap.Error(err))
		return nil, "", fmt.Errorf("%w: %w", ErrReportFailed, err)
	}
	s.metrics.RecordReportRender("success", time.Since(start))

	return data, report.Filename(ds), nil
}

// Original returns the uploaded file of a dataset byte for byte, with its
// original filename
func (s *DatasetService) Original(ctx context.Context, userID, datasetID int) ([]byte, string, error) {
	ds, err := s.Get(ctx, userID, datasetID)
	if err != nil {
		return nil, "", err
	}
	if ds.BlobKey == "" {
		return nil, "", ErrOriginalMissing
	}

	data, err := s.blobs.Get(ds.BlobKey)
	if errors.Is(err, storage.ErrBlobNotFound) {
		s.log.Warn("Stored upload is missing", zap.Int("dataset_id", ds.ID), zap.String("blob_key", ds.BlobKey))
		return nil, "", ErrOriginalMissing
	}
	if err != nil {
		return nil, "", fmt.Errorf("read upload of dataset %d: %w", ds.ID, err)
	}
	return data, ds.Filename, nil
}

// Delete removes a dataset owned by userID along with its stored upload
func (s *DatasetService) Delete(ctx context.Context, userID, datasetID int) error {
	blobKey, deleted, err := s.store.DeleteDataset(ctx, userID, datasetID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrDatasetNotFound
	}

	if err := s.blobs.Delete(blobKey); err != nil {
		s.log.Warn("Failed to delete stored upload",
			zap.Int("dataset_id", datasetID), zap.String("blob_key", blobKey), zap.Error(err))
	}
	return nil
}

// ListAll returns every dataset in the system (admin)
func (s *DatasetService) ListAll(ctx context.Context) ([]model.DatasetSummary, error) {
	datasets, err := s.store.ListAllDatasets(ctx)
	if err != nil {
		return nil, err
	}
	return summaries(datasets), nil
}

func summaries(datasets []model.Dataset) []model.DatasetSummary {
	out := make([]model.DatasetSummary, 0, len(datasets))
	for i := range datasets {
		out = append(out, datasets[i].Summary())
	}
	return out
}

func formatBytes(n int64) string {
	const mb = 1024 * 1024
	if n%mb == 0 {
		return fmt.Sprintf("%dMB", n/mb)
	}
	return fmt.Sprintf("%d bytes", n)
}
