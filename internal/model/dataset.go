package model

import "time"

// EquipmentRow is one cleaned CSV record
type EquipmentRow struct {
	Name        string  `json:"equipment_name"`
	Type        string  `json:"type"`
	Flowrate    float64 `json:"flowrate"`
	Pressure    float64 `json:"pressure"`
	Temperature float64 `json:"temperature"`
}

// Dataset represents one uploaded CSV and its stored results
type Dataset struct {
	ID               int            `json:"id" db:"id"`
	UserID           int            `json:"-" db:"user_id"`
	Username         string         `json:"user_username,omitempty"`
	Filename         string         `json:"filename" db:"filename"`
	BlobKey          string         `json:"-" db:"blob_key"`
	UploadedAt       time.Time      `json:"uploaded_at" db:"uploaded_at"`
	TotalCount       int            `json:"total_count" db:"total_count"`
	AvgFlowrate      float64        `json:"avg_flowrate" db:"avg_flowrate"`
	AvgPressure      float64        `json:"avg_pressure" db:"avg_pressure"`
	AvgTemperature   float64        `json:"avg_temperature" db:"avg_temperature"`
	TypeDistribution map[string]int `json:"equipment_type_distribution" db:"type_distribution"`
	Rows             []EquipmentRow `json:"equipment_items,omitempty" db:"-"`
}

// DatasetSummary is the row-free projection returned by history and list endpoints
type DatasetSummary struct {
	ID               int            `json:"id"`
	Filename         string         `json:"filename"`
	Username         string         `json:"user_username,omitempty"`
	UploadedAt       time.Time      `json:"uploaded_at"`
	TotalCount       int            `json:"total_count"`
	AvgFlowrate      float64        `json:"avg_flowrate"`
	AvgPressure      float64        `json:"avg_pressure"`
	AvgTemperature   float64        `json:"avg_temperature"`
	TypeDistribution map[string]int `json:"equipment_type_distribution"`
}

// Summary drops the row set.
func (d *Dataset) Summary() DatasetSummary {
	return DatasetSummary{
		ID:               d.ID,
		Filename:         d.Filename,
		Username:         d.Username,
		UploadedAt:       d.UploadedAt,
		TotalCount:       d.TotalCount,
		AvgFlowrate:      d.AvgFlowrate,
		AvgPressure:      d.AvgPressure,
		AvgTemperature:   d.AvgTemperature,
		TypeDistribution: d.TypeDistribution,
	}
}

// DatasetCreate carries everything needed to persist a new dataset
type DatasetCreate struct {
	UserID     int
	Filename   string
	BlobKey    string
	UploadedAt time.Time
	Rows       []EquipmentRow
	Analysis   *AnalysisSummary
}

// UploadResponse represents a successful upload
type UploadResponse struct {
	Success  bool             `json:"success"`
	Message  string           `json:"message"`
	Data     *Dataset         `json:"data"`
	Analysis *AnalysisSummary `json:"analysis"`
}

// HistoryResponse represents the retained history of a user
type HistoryResponse struct {
	Success bool             `json:"success"`
	Count   int              `json:"count"`
	Data    []DatasetSummary `json:"data"`
}

// SummaryResponse pairs a stored dataset with its recomputed analysis
type SummaryResponse struct {
	Success  bool             `json:"success"`
	Dataset  *Dataset         `json:"dataset"`
	Analysis *AnalysisSummary `json:"analysis"`
}
