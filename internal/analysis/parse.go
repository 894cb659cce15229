package analysis

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chemviz/equipment-visualizer/internal/model"
)

// ErrEmptyInput is returned when the upload holds no bytes besides whitespace.
var ErrEmptyInput = errors.New("CSV file is empty")

// FormatError means the bytes could not be decoded as delimited text at all.
type FormatError struct {
	Err error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("Error parsing CSV: %v", e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// Table is a decoded CSV: header plus raw records.
type Table struct {
	Header  []string
	Records [][]string
}

// Decode reads comma separated bytes into a Table without applying the
// equipment schema. Records longer than the header are a format error;
// shorter ones are kept and read as having missing trailing cells.
func Decode(data []byte) (*Table, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyInput
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyInput
		}
		return nil, &FormatError{Err: err}
	}

	t := &Table{Header: header}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &FormatError{Err: err}
		}
		if len(rec) > len(header) {
			line, _ := r.FieldPos(0)
			return nil, &FormatError{
				Err: fmt.Errorf("line %d: expected %d fields, saw %d", line, len(header), len(rec)),
			}
		}
		t.Records = append(t.Records, rec)
	}
	return t, nil
}

// Parse turns raw upload bytes into cleaned equipment rows in file order.
// The returned error is one of ErrEmptyInput, *FormatError or *ValidationError.
func Parse(data []byte) ([]model.EquipmentRow, error) {
	t, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if err := Validate(t.Header, t.Records); err != nil {
		return nil, err
	}

	cols, _ := resolveColumns(t.Header)
	rows := make([]model.EquipmentRow, 0, len(t.Records))
	for _, rec := range t.Records {
		row, ok := cleanRecord(rec, cols)
		if !ok {
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, invalid(msgNoDataRows)
	}
	return rows, nil
}

// cleanRecord drops records with a missing or unreadable required cell.
// After Validate has passed this never rejects anything.
func cleanRecord(rec []string, cols map[string]int) (model.EquipmentRow, bool) {
	for _, col := range RequiredColumns {
		if isNull(cell(rec, cols[col])) {
			return model.EquipmentRow{}, false
		}
	}
	flow, ok1 := parseNumber(cell(rec, cols[ColumnFlowrate]))
	pres, ok2 := parseNumber(cell(rec, cols[ColumnPressure]))
	temp, ok3 := parseNumber(cell(rec, cols[ColumnTemperature]))
	if !ok1 || !ok2 || !ok3 {
		return model.EquipmentRow{}, false
	}
	return model.EquipmentRow{
		Name:        trim(cell(rec, cols[ColumnName])),
		Type:        trim(cell(rec, cols[ColumnType])),
		Flowrate:    flow,
		Pressure:    pres,
		Temperature: temp,
	}, true
}

func trim(s string) string {
	return strings.TrimSpace(s)
}
