package service

import (
	"context"
	"time"

	"github.com/chemviz/equipment-visualizer/internal/model"
)

// DatasetStore is the persistence the dataset services need
type DatasetStore interface {
	CreateDataset(ctx context.Context, in *model.DatasetCreate) (*model.Dataset, error)
	ListUserDatasets(ctx context.Context, userID, limit int) ([]model.Dataset, error)
	GetDataset(ctx context.Context, userID, datasetID int) (*model.Dataset, error)
	DeleteDataset(ctx context.Context, userID, datasetID int) (string, bool, error)
	ListAllDatasets(ctx context.Context) ([]model.Dataset, error)
	ListDatasetOwners(ctx context.Context) ([]int, error)
}

// UserStore is the persistence the auth and admin services need
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash, email, firstName, lastName string) (int, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByID(ctx context.Context, userID int) (*model.User, error)
	GetAllUsers(ctx context.Context) ([]model.User, error)
	DeleteUser(ctx context.Context, userID int) (bool, error)
	UserExists(ctx context.Context, username string) (bool, error)
	ListUserBlobKeys(ctx context.Context, userID int) ([]string, error)
}

// BlobStore keeps the original upload bytes
type BlobStore interface {
	Put(userID int, filename string, data []byte) (string, error)
	Get(key string) ([]byte, error)
	Delete(key string) error
}

// UploadLimiter hands out per-user upload slots
type UploadLimiter interface {
	AcquireSlot(ctx context.Context, userID, maxConcurrency int) (bool, error)
	ReleaseSlot(ctx context.Context, userID int) error
}

// TokenRevoker remembers logged-out token IDs until they expire
type TokenRevoker interface {
	RevokeToken(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}
