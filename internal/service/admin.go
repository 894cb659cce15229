package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/chemviz/equipment-visualizer/internal/model"
)

// AdminService backs the admin endpoints
type AdminService struct {
	users    UserStore
	datasets *DatasetService
	history  *HistoryManager
	blobs    BlobStore
	log      *zap.Logger
}

// NewAdminService creates an AdminService
func NewAdminService(users UserStore, datasets *DatasetService, history *HistoryManager, blobs BlobStore, log *zap.Logger) *AdminService {
	return &AdminService{
		users:    users,
		datasets: datasets,
		history:  history,
		blobs:    blobs,
		log:      log.With(zap.String("component", "admin")),
	}
}

// ListUsers returns all users
func (s *AdminService) ListUsers(ctx context.Context) ([]model.UserInfo, error) {
	users, err := s.users.GetAllUsers(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]model.UserInfo, 0, len(users))
	for i := range users {
		infos = append(infos, *users[i].Info())
	}
	return infos, nil
}

// DeleteUser removes a user, their datasets and their stored uploads
func (s *AdminService) DeleteUser(ctx context.Context, currentUserID, userID int) error {
	// Prevent deleting self
	if userID == currentUserID {
		return ErrCannotDeleteSelf
	}

	keys, err := s.users.ListUserBlobKeys(ctx, userID)
	if err != nil {
		return err
	}

	deleted, err := s.users.DeleteUser(ctx, userID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrUserNotFound
	}

	for _, key := range keys {
		if err := s.blobs.Delete(key); err != nil {
			s.log.Warn("Failed to delete stored upload of removed user",
				zap.Int("user_id", userID), zap.String("blob_key", key), zap.Error(err))
		}
	}

	s.log.Info("User deleted", zap.Int("user_id", userID), zap.Int("datasets", len(keys)))
	return nil
}

// ListDatasets returns every dataset
func (s *AdminService) ListDatasets(ctx context.Context) ([]model.DatasetSummary, error) {
	return s.datasets.ListAll(ctx)
}

// Prune enforces the retention cap for every user
func (s *AdminService) Prune(ctx context.Context) ([]EvictionReport, error) {
	return s.history.EnforceAll(ctx)
}
