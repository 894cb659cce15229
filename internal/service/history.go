package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/chemviz/equipment-visualizer/internal/pkg/metrics"
)

// DefaultMaxStoredDatasets is the retention cap when none is configured
const DefaultMaxStoredDatasets = 5

// EvictionReport describes one retention run for one user
type EvictionReport struct {
	UserID       int      `json:"user_id"`
	Evicted      []int    `json:"evicted"`
	BlobFailures []string `json:"blob_failures,omitempty"`
}

// HistoryManager keeps at most maxStored datasets per user
type HistoryManager struct {
	store     DatasetStore
	blobs     BlobStore
	maxStored int
	log       *zap.Logger
	metrics   *metrics.Metrics
}

// NewHistoryManager creates a HistoryManager. A cap below one falls back
// to DefaultMaxStoredDatasets.
func NewHistoryManager(store DatasetStore, blobs BlobStore, maxStored int, log *zap.Logger, m *metrics.Metrics) *HistoryManager {
	if maxStored < 1 {
		maxStored = DefaultMaxStoredDatasets
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &HistoryManager{
		store:     store,
		blobs:     blobs,
		maxStored: maxStored,
		log:       log.With(zap.String("component", "history")),
		metrics:   m,
	}
}

// MaxStored returns the retention cap
func (h *HistoryManager) MaxStored() int {
	return h.maxStored
}

// Enforce deletes the user's datasets ranked beyond the cap, oldest first.
// Each dataset goes in its own transaction and its blob is removed after
// the commit. A blob that cannot be removed is logged and reported but
// does not fail the run.
func (h *HistoryManager) Enforce(ctx context.Context, userID int) (EvictionReport, error) {
	report := EvictionReport{UserID: userID, Evicted: []int{}}

	datasets, err := h.store.ListUserDatasets(ctx, userID, 0)
	if err != nil {
		h.metrics.RecordRetentionRun("error")
		return report, fmt.Errorf("list datasets for user %d: %w", userID, err)
	}
	if len(datasets) <= h.maxStored {
		h.metrics.RecordRetentionRun("success")
		return report, nil
	}

	excess := datasets[h.maxStored:]
	for i := len(excess) - 1; i >= 0; i-- {
		ds := excess[i]

		blobKey, deleted, err := h.store.DeleteDataset(ctx, userID, ds.ID)
		if err != nil {
			h.metrics.RecordRetentionRun("error")
			return report, fmt.Errorf("evict dataset %d: %w", ds.ID, err)
		}

		// Gone already means another run got there first
		report.Evicted = append(report.Evicted, ds.ID)
		if !deleted {
			h.log.Debug("Dataset already evicted", zap.Int("user_id", userID), zap.Int("dataset_id", ds.ID))
			continue
		}
		h.metrics.RecordEviction()

		if err := h.blobs.Delete(blobKey); err != nil {
			report.BlobFailures = append(report.BlobFailures, blobKey)
			h.metrics.RecordBlobDeleteFailure()
			h.log.Warn("Failed to delete stored upload of evicted dataset",
				zap.Int("user_id", userID),
				zap.Int("dataset_id", ds.ID),
				zap.String("blob_key", blobKey),
				zap.Error(err))
		}
	}

	h.log.Info("Retention enforced",
		zap.Int("user_id", userID),
		zap.Int("max_stored", h.maxStored),
		zap.Ints("evicted", report.Evicted))
	h.metrics.RecordRetentionRun("success")
	return report, nil
}

// EnforceAll runs Enforce for every user that owns datasets. A failure for
// one user does not stop the others; all failures are returned joined.
func (h *HistoryManager) EnforceAll(ctx context.Context) ([]EvictionReport, error) {
	owners, err := h.store.ListDatasetOwners(ctx)
	if err != nil {
		return nil, fmt.Errorf("list dataset owners: %w", err)
	}

	reports := make([]EvictionReport, 0, len(owners))
	var errs []error
	for _, userID := range owners {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		report, err := h.Enforce(ctx, userID)
		if err != nil {
			errs = append(errs, err)
		}
		if len(report.Evicted) > 0 || err != nil {
			reports = append(reports, report)
		}
	}

	return reports, errors.Join(errs...)
}
