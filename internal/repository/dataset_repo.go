package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chemviz/equipment-visualizer/internal/model"
)

const datasetColumns = `d.id, d.user_id, u.username, d.filename, d.blob_key, d.uploaded_at,
	d.total_count, d.avg_flowrate, d.avg_pressure, d.avg_temperature, d.type_distribution`

// CreateDataset inserts a dataset and all of its rows in one transaction
func (d *DB) CreateDataset(ctx context.Context, in *model.DatasetCreate) (*model.Dataset, error) {
	if in.Analysis == nil {
		return nil, errors.New("dataset analysis is required")
	}

	dist, err := json.Marshal(in.Analysis.TypeDistribution)
	if err != nil {
		return nil, fmt.Errorf("failed to encode type distribution: %w", err)
	}

	uploadedAt := in.UploadedAt.UTC()
	var id int64

	err = d.WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO datasets (user_id, filename, blob_key, uploaded_at, total_count,
				avg_flowrate, avg_pressure, avg_temperature, type_distribution)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, in.UserID, in.Filename, in.BlobKey, uploadedAt.UnixMicro(), in.Analysis.TotalCount,
			in.Analysis.AvgFlowrate, in.Analysis.AvgPressure, in.Analysis.AvgTemperature,
			string(dist))
		if err != nil {
			return fmt.Errorf("insert dataset: %w", err)
		}

		id, err = result.LastInsertId()
		if err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO equipment_rows (dataset_id, position, name, type, flowrate, pressure, temperature)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, r := range in.Rows {
			if _, err := stmt.ExecContext(ctx, id, i, r.Name, r.Type, r.Flowrate, r.Pressure, r.Temperature); err != nil {
				return fmt.Errorf("insert row %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &model.Dataset{
		ID:               int(id),
		UserID:           in.UserID,
		Filename:         in.Filename,
		BlobKey:          in.BlobKey,
		UploadedAt:       time.UnixMicro(uploadedAt.UnixMicro()).UTC(),
		TotalCount:       in.Analysis.TotalCount,
		AvgFlowrate:      in.Analysis.AvgFlowrate,
		AvgPressure:      in.Analysis.AvgPressure,
		AvgTemperature:   in.Analysis.AvgTemperature,
		TypeDistribution: in.Analysis.TypeDistribution,
		Rows:             in.Rows,
	}, nil
}

func scanDataset(row interface{ Scan(...any) error }) (*model.Dataset, error) {
	ds := &model.Dataset{}
	var blobKey sql.NullString
	var uploadedAt int64
	var dist string

	err := row.Scan(
		&ds.ID, &ds.UserID, &ds.Username, &ds.Filename, &blobKey, &uploadedAt,
		&ds.TotalCount, &ds.AvgFlowrate, &ds.AvgPressure, &ds.AvgTemperature, &dist,
	)
	if err != nil {
		return nil, err
	}

	ds.BlobKey = blobKey.String
	ds.UploadedAt = time.UnixMicro(uploadedAt).UTC()
	if err := json.Unmarshal([]byte(dist), &ds.TypeDistribution); err != nil {
		return nil, fmt.Errorf("dataset %d: decode type distribution: %w", ds.ID, err)
	}

	return ds, nil
}

func (d *DB) queryDatasets(ctx context.Context, query string, args ...any) ([]model.Dataset, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var datasets []model.Dataset
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		datasets = append(datasets, *ds)
	}

	return datasets, rows.Err()
}

// ListUserDatasets returns a user's datasets newest first, without rows.
// A limit of zero or less returns all of them.
func (d *DB) ListUserDatasets(ctx context.Context, userID, limit int) ([]model.Dataset, error) {
	query := `
		SELECT ` + datasetColumns + `
		FROM datasets d JOIN users u ON u.id = d.user_id
		WHERE d.user_id = ?
		ORDER BY d.uploaded_at DESC, d.id DESC
	`
	if limit > 0 {
		return d.queryDatasets(ctx, query+` LIMIT ?`, userID, limit)
	}
	return d.queryDatasets(ctx, query, userID)
}

// ListAllDatasets returns every dataset (admin), newest first
func (d *DB) ListAllDatasets(ctx context.Context) ([]model.Dataset, error) {
	query := `
		SELECT ` + datasetColumns + `
		FROM datasets d JOIN users u ON u.id = d.user_id
		ORDER BY d.uploaded_at DESC, d.id DESC
	`
	return d.queryDatasets(ctx, query)
}

// GetDataset returns a dataset with its rows if it belongs to userID
func (d *DB) GetDataset(ctx context.Context, userID, datasetID int) (*model.Dataset, error) {
	query := `
		SELECT ` + datasetColumns + `
		FROM datasets d JOIN users u ON u.id = d.user_id
		WHERE d.id = ? AND d.user_id = ?
	`

	ds, err := scanDataset(d.db.QueryRowContext(ctx, query, datasetID, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ds.Rows, err = d.datasetRows(ctx, ds.ID)
	if err != nil {
		return nil, err
	}
	return ds, nil
}

func (d *DB) datasetRows(ctx context.Context, datasetID int) ([]model.EquipmentRow, error) {
	query := `
		SELECT name, type, flowrate, pressure, temperature
		FROM equipment_rows WHERE dataset_id = ? ORDER BY position
	`

	rows, err := d.db.QueryContext(ctx, query, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []model.EquipmentRow{}
	for rows.Next() {
		var r model.EquipmentRow
		if err := rows.Scan(&r.Name, &r.Type, &r.Flowrate, &r.Pressure, &r.Temperature); err != nil {
			return nil, err
		}
		items = append(items, r)
	}

	return items, rows.Err()
}

// DeleteDataset deletes a dataset and its rows in one transaction. It
// returns the blob key of the deleted dataset and whether a row was removed.
func (d *DB) DeleteDataset(ctx context.Context, userID, datasetID int) (string, bool, error) {
	var blobKey sql.NullString
	deleted := false

	err := d.WithTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT blob_key FROM datasets WHERE id = ? AND user_id = ?`,
			datasetID, userID,
		).Scan(&blobKey)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM equipment_rows WHERE dataset_id = ?`, datasetID); err != nil {
			return fmt.Errorf("delete rows: %w", err)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM datasets WHERE id = ? AND user_id = ?`, datasetID, userID)
		if err != nil {
			return fmt.Errorf("delete dataset: %w", err)
		}

		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		deleted = n > 0
		return nil
	})
	if err != nil {
		return "", false, err
	}

	return blobKey.String, deleted, nil
}

// ListDatasetOwners returns the IDs of users owning at least one dataset
func (d *DB) ListDatasetOwners(ctx context.Context) ([]int, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM datasets ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// ListUserBlobKeys returns the blob keys of every dataset a user owns
func (d *DB) ListUserBlobKeys(ctx context.Context, userID int) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT blob_key FROM datasets WHERE user_id = ? AND blob_key IS NOT NULL AND blob_key != ''`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}
