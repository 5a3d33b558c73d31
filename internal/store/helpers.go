package store

import (
	"database/sql"
	"fmt"
	"math"
	"strconv"

	"github.com/BTreeMap/DengueCast/internal/models"
)

// scanner is satisfied by *sql.Rows and *sql.Row.
type scanner interface {
	Scan(dest ...interface{}) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanTurn scans a TurnRecord from a row of
// session_id, seq, role, content, stage, created_at.
func scanTurn(row scanner) (models.TurnRecord, error) {
	var r models.TurnRecord
	var stage string
	if err := row.Scan(&r.SessionID, &r.Seq, &r.Role, &r.Content, &stage, &r.CreatedAt); err != nil {
		return r, fmt.Errorf("scan turn failed: %w", err)
	}
	if err := r.Stage.UnmarshalText([]byte(stage)); err != nil {
		return r, fmt.Errorf("scan turn failed: %w", err)
	}
	return r, nil
}

// scanPrediction scans a PredictionRecord from a row in predictionColumns order.
func scanPrediction(row scanner) (models.PredictionRecord, error) {
	var r models.PredictionRecord
	var errText sql.NullString
	err := row.Scan(
		&r.SessionID, &r.Year, &r.Month, &r.DistrictCode,
		&r.RainfallMm, &r.TemperatureC, &r.HumidityPct, &r.MosquitoIndex, &r.PopulationDensity,
		&r.PredictedCases, &r.PredictedPercent, &errText, &r.CreatedAt,
	)
	if err != nil {
		return r, fmt.Errorf("scan prediction failed: %w", err)
	}
	r.Error = errText.String
	return r, nil
}

const turnColumns = `session_id, seq, role, content, stage, created_at`

const predictionColumns = `session_id, year, month, district_code,
	rainfall_mm, temperature_c, humidity_pct, mosquito_index, population_density,
	predicted_cases, predicted_percent, error, created_at`

func predictionArgs(r models.PredictionRecord) []interface{} {
	return []interface{}{
		r.SessionID, r.Year, r.Month, r.DistrictCode,
		dbFloat(r.RainfallMm), dbFloat(r.TemperatureC), dbFloat(r.HumidityPct),
		dbFloat(r.MosquitoIndex), dbFloat(r.PopulationDensity),
		dbFloat(r.PredictedCases), dbFloat(r.PredictedPercent), nilIfEmpty(r.Error), r.CreatedAt,
	}
}

// dbFloat binds non-finite values as text ("NaN", "+Inf", "-Inf"). SQLite stores a
// bound NaN as NULL, which the NOT NULL columns reject. Both backends read the text
// back as the same float.
func dbFloat(f float64) interface{} {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return f
}

func listLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}
