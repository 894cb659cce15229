package repository

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chemviz/equipment-visualizer/internal/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func createUser(t *testing.T, db *DB, username string) int {
	t.Helper()
	id, err := db.CreateUser(context.Background(), username, "hash", username+"@example.com", "", "")
	require.NoError(t, err)
	return id
}

func sampleCreate(userID int, filename string, at time.Time) *model.DatasetCreate {
	rows := []model.EquipmentRow{
		{Name: "Pump-1", Type: "Pump", Flowrate: 120, Pressure: 5, Temperature: 110},
		{Name: "Valve-1", Type: "Valve", Flowrate: 60, Pressure: 4, Temperature: 90},
	}
	return &model.DatasetCreate{
		UserID:     userID,
		Filename:   filename,
		BlobKey:    "blob-" + filename,
		UploadedAt: at,
		Rows:       rows,
		Analysis: &model.AnalysisSummary{
			TotalCount:       2,
			AvgFlowrate:      90,
			AvgPressure:      4.5,
			AvgTemperature:   100,
			TypeDistribution: map[string]int{"Pump": 1, "Valve": 1},
		},
	}
}

func TestUsers(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id := createUser(t, db, "alice")

	_, err := db.CreateUser(ctx, "alice", "x", "", "", "")
	assert.ErrorIs(t, err, ErrDuplicate)

	u, err := db.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, id, u.ID)
	assert.Equal(t, "hash", u.Password)
	assert.Equal(t, "alice@example.com", u.Email)

	missing, err := db.GetUserByID(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	exists, err := db.UserExists(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, exists)

	users, err := db.GetAllUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.False(t, users[0].IsAdmin)
}

func TestCreateUser_UsernameIgnoresCase(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	createUser(t, db, "alice")

	_, err := db.CreateUser(ctx, "ALICE", "x", "", "", "")
	assert.ErrorIs(t, err, ErrDuplicate)

	exists, err := db.UserExists(ctx, "Alice")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestEnsureAdminUser(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.EnsureAdminUser(ctx, "admin", "$2a$10$hash"))
	require.NoError(t, db.EnsureAdminUser(ctx, "admin", "$2a$10$hash"))
	require.NoError(t, db.EnsureAdminUser(ctx, "root", ""))

	users, err := db.GetAllUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "admin", users[0].Username)
	assert.True(t, users[0].IsAdmin)
	assert.Equal(t, "$2a$10$hash", users[0].Password)
}

func TestEnsureAdminUser_PromotesExistingAccount(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := createUser(t, db, "admin")

	require.NoError(t, db.EnsureAdminUser(ctx, "admin", "$2a$10$bootstrap"))

	u, err := db.GetUserByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.True(t, u.IsAdmin)
	assert.Equal(t, "$2a$10$bootstrap", u.Password)
}

func TestCreateAndGetDataset(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	userID := createUser(t, db, "alice")

	at := time.Date(2024, 3, 1, 12, 0, 0, 123456000, time.UTC)
	created, err := db.CreateDataset(ctx, sampleCreate(userID, "plant.csv", at))
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	got, err := db.GetDataset(ctx, userID, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "plant.csv", got.Filename)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "blob-plant.csv", got.BlobKey)
	assert.True(t, at.Equal(got.UploadedAt))
	assert.Equal(t, 2, got.TotalCount)
	assert.InDelta(t, 4.5, got.AvgPressure, 1e-9)
	assert.Equal(t, map[string]int{"Pump": 1, "Valve": 1}, got.TypeDistribution)
	require.Len(t, got.Rows, 2)
	assert.Equal(t, "Pump-1", got.Rows[0].Name)
	assert.Equal(t, "Valve-1", got.Rows[1].Name)
}

func TestGetDataset_OtherOwnerIsAbsent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	ds, err := db.CreateDataset(ctx, sampleCreate(alice, "a.csv", time.Now()))
	require.NoError(t, err)

	got, err := db.GetDataset(ctx, bob, ds.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, deleted, err := db.DeleteDataset(ctx, bob, ds.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestListUserDatasets_NewestFirstWithIDTieBreak(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	userID := createUser(t, db, "alice")

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	first, err := db.CreateDataset(ctx, sampleCreate(userID, "first.csv", base))
	require.NoError(t, err)
	second, err := db.CreateDataset(ctx, sampleCreate(userID, "second.csv", base))
	require.NoError(t, err)
	third, err := db.CreateDataset(ctx, sampleCreate(userID, "third.csv", base.Add(time.Second)))
	require.NoError(t, err)

	list, err := db.ListUserDatasets(ctx, userID, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []int{third.ID, second.ID, first.ID}, []int{list[0].ID, list[1].ID, list[2].ID})
	assert.Nil(t, list[0].Rows)

	limited, err := db.ListUserDatasets(ctx, userID, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestDeleteDataset_RemovesRows(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	userID := createUser(t, db, "alice")

	ds, err := db.CreateDataset(ctx, sampleCreate(userID, "a.csv", time.Now()))
	require.NoError(t, err)

	key, deleted, err := db.DeleteDataset(ctx, userID, ds.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, "blob-a.csv", key)

	var n int
	require.NoError(t, db.db.QueryRow(`SELECT COUNT(*) FROM equipment_rows WHERE dataset_id = ?`, ds.ID).Scan(&n))
	assert.Zero(t, n)

	_, deleted, err = db.DeleteDataset(ctx, userID, ds.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDeleteDataset_ConcurrentWriters(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	userID := createUser(t, db, "alice")

	const n = 10
	var ids []int
	for i := 0; i < n; i++ {
		ds, err := db.CreateDataset(ctx, sampleCreate(userID, fmt.Sprintf("old-%d.csv", i), time.Now()))
		require.NoError(t, err)
		ids = append(ids, ds.ID)
	}

	errs := make(chan error, 2*n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(id int) {
			defer wg.Done()
			_, deleted, err := db.DeleteDataset(ctx, userID, id)
			if err == nil && !deleted {
				err = fmt.Errorf("dataset %d not deleted", id)
			}
			errs <- err
		}(ids[i])
		go func(i int) {
			defer wg.Done()
			_, err := db.CreateDataset(ctx, sampleCreate(userID, fmt.Sprintf("new-%d.csv", i), time.Now()))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	remaining, err := db.ListUserDatasets(ctx, userID, 0)
	require.NoError(t, err)
	assert.Len(t, remaining, n)
}

func TestDeleteUser_CascadesToDatasets(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	_, err := db.CreateDataset(ctx, sampleCreate(alice, "a.csv", time.Now()))
	require.NoError(t, err)
	_, err = db.CreateDataset(ctx, sampleCreate(bob, "b.csv", time.Now()))
	require.NoError(t, err)

	keys, err := db.ListUserBlobKeys(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{"blob-a.csv"}, keys)

	owners, err := db.ListDatasetOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{alice, bob}, owners)

	ok, err := db.DeleteUser(ctx, alice)
	require.NoError(t, err)
	assert.True(t, ok)

	all, err := db.ListAllDatasets(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "bob", all[0].Username)

	var n int
	require.NoError(t, db.db.QueryRow(`SELECT COUNT(*) FROM equipment_rows`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestCreateDataset_RollsBackOnFailure(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	// No such user, so the foreign key rejects the insert
	_, err := db.CreateDataset(ctx, sampleCreate(4242, "orphan.csv", time.Now()))
	require.Error(t, err)

	var n int
	require.NoError(t, db.db.QueryRow(`SELECT COUNT(*) FROM datasets`).Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, db.db.QueryRow(`SELECT COUNT(*) FROM equipment_rows`).Scan(&n))
	assert.Zero(t, n)
}

func TestOpen_MigratesEarlierSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	for _, stmt := range []string{
		`CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			email TEXT,
			first_name TEXT,
			last_name TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE datasets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			filename TEXT NOT NULL,
			blob_key TEXT,
			uploaded_at INTEGER NOT NULL,
			total_count INTEGER NOT NULL,
			avg_flowrate REAL NOT NULL,
			avg_pressure REAL NOT NULL,
			avg_temperature REAL NOT NULL,
			type_distribution TEXT NOT NULL,
			raw_data TEXT NOT NULL DEFAULT '[]',
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
	} {
		_, err := raw.Exec(stmt)
		require.NoError(t, err)
	}
	require.NoError(t, raw.Close())

	db, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	users, err := db.columns("users")
	require.NoError(t, err)
	assert.True(t, users["is_admin"])

	datasets, err := db.columns("datasets")
	require.NoError(t, err)
	assert.False(t, datasets["raw_data"])

	userID := createUser(t, db, "alice")
	_, err = db.CreateDataset(context.Background(), sampleCreate(userID, "a.csv", time.Now()))
	require.NoError(t, err)
}
