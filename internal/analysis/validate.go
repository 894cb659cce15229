package analysis

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Canonical column names of an equipment CSV.
const (
	ColumnName        = "Equipment Name"
	ColumnType        = "Type"
	ColumnFlowrate    = "Flowrate"
	ColumnPressure    = "Pressure"
	ColumnTemperature = "Temperature"
)

// RequiredColumns lists the columns every upload must carry, in reporting order.
var RequiredColumns = []string{ColumnName, ColumnType, ColumnFlowrate, ColumnPressure, ColumnTemperature}

var (
	numericColumns     = []string{ColumnFlowrate, ColumnPressure, ColumnTemperature}
	nonNegativeColumns = []string{ColumnFlowrate, ColumnPressure}

	// extra header spellings accepted for a canonical column
	columnAliases = map[string][]string{
		ColumnName: {"name", "equipment"},
	}

	// cell values treated as missing, in addition to blank cells
	nullTokens = map[string]struct{}{
		"na": {}, "n/a": {}, "nan": {}, "null": {}, "none": {}, "#n/a": {},
	}
)

const msgNoDataRows = "CSV file contains no data rows"

// ValidationError is a structural problem with an otherwise readable CSV.
// Its message is meant to be shown to the uploader as is.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func invalid(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Validate checks a decoded table against the equipment schema. Checks run in
// order and stop at the first failure:
//  1. all required columns present
//  2. at least one data row
//  3. numeric columns hold numbers (missing cells are skipped here)
//  4. no missing cell in a required column
//  5. flowrate and pressure are not negative
func Validate(header []string, records [][]string) error {
	cols, missing := resolveColumns(header)
	if len(missing) > 0 {
		return invalid("Missing required columns: %s", strings.Join(missing, ", "))
	}

	if len(records) == 0 {
		return invalid(msgNoDataRows)
	}

	for _, col := range numericColumns {
		idx := cols[col]
		for _, rec := range records {
			v := cell(rec, idx)
			if isNull(v) {
				continue
			}
			if _, ok := parseNumber(v); !ok {
				return invalid("Column '%s' must contain numeric values", col)
			}
		}
	}

	var withNulls []string
	for _, col := range RequiredColumns {
		idx := cols[col]
		for _, rec := range records {
			if isNull(cell(rec, idx)) {
				withNulls = append(withNulls, col)
				break
			}
		}
	}
	if len(withNulls) > 0 {
		return invalid("Null values found in columns: %s", strings.Join(withNulls, ", "))
	}

	for _, col := range nonNegativeColumns {
		idx := cols[col]
		for _, rec := range records {
			if x, _ := parseNumber(cell(rec, idx)); x < 0 {
				return invalid("Column '%s' must contain non-negative values", col)
			}
		}
	}

	return nil
}

// Valid is Validate in (ok, reason) form.
func Valid(header []string, records [][]string) (bool, string) {
	if err := Validate(header, records); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// resolveColumns maps each canonical column to its header position and
// reports the canonical names that could not be found.
func resolveColumns(header []string) (map[string]int, []string) {
	positions := make(map[string]int, len(header))
	for i, h := range header {
		key := normalizeHeader(h)
		if _, seen := positions[key]; !seen {
			positions[key] = i
		}
	}

	cols := make(map[string]int, len(RequiredColumns))
	var missing []string
	for _, col := range RequiredColumns {
		names := append([]string{strings.ToLower(col)}, columnAliases[col]...)
		found := false
		for _, name := range names {
			if idx, ok := positions[name]; ok {
				cols[col] = idx
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, col)
		}
	}
	return cols, missing
}

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.ToLower(strings.TrimSpace(h))
}

// cell tolerates short records; absent trailing cells read as missing.
func cell(rec []string, idx int) string {
	if idx < len(rec) {
		return rec[idx]
	}
	return ""
}

func isNull(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return true
	}
	_, ok := nullTokens[strings.ToLower(v)]
	return ok
}

// parseNumber accepts finite decimal or exponent notation only. ParseFloat
// also takes Go literal forms (1_000, 0x1p4) that are not spreadsheet numbers.
func parseNumber(v string) (float64, bool) {
	v = strings.TrimSpace(v)
	digits := strings.TrimLeft(v, "+-")
	if strings.Contains(v, "_") || strings.HasPrefix(digits, "0x") || strings.HasPrefix(digits, "0X") {
		return 0, false
	}
	x, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsInf(x, 0) || math.IsNaN(x) {
		return 0, false
	}
	return x, true
}
