// Package model provides the predictive capabilities consumed by the prediction invoker:
// a local linear model loaded from a JSON artifact and a client for a remote model server.
package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrUnknownDistrict is returned when a district code is not in the trained category list.
	ErrUnknownDistrict = errors.New("district code not in trained categories")
	// ErrFeatureCount is returned when a feature row does not match the model width.
	ErrFeatureCount = errors.New("feature row has wrong length")
)

var artifactValidate = validator.New()

// Artifact is the JSON layout of a trained linear model.
type Artifact struct {
	// DistrictCategories is the one-hot category order used during training.
	DistrictCategories []int     `json:"district_categories" validate:"required,min=1,unique"`
	Coefficients       []float64 `json:"coefficients" validate:"required,min=1"`
	Intercept          float64   `json:"intercept"`
	// NumericFeatures is the number of leading numeric features, before the district encoding.
	NumericFeatures int `json:"numeric_features" validate:"gte=0"`
}

// LinearModel predicts cases as intercept + coefficients . features.
type LinearModel struct {
	categories   map[int]int
	width        int
	coefficients []float64
	intercept    float64
}

// LoadLinearModel reads and validates a model artifact from path.
func LoadLinearModel(path string) (*LinearModel, error) {
	f, err := os.Open(path)
	if err != nil {
		slog.Error("model.LoadLinearModel: failed to open artifact", "path", path, "error", err)
		return nil, fmt.Errorf("failed to open model artifact: %w", err)
	}
	defer f.Close()

	m, err := ReadLinearModel(f)
	if err != nil {
		slog.Error("model.LoadLinearModel: invalid artifact", "path", path, "error", err)
		return nil, err
	}
	slog.Info("model.LoadLinearModel: model loaded", "path", path, "features", len(m.coefficients), "districts", m.width)
	return m, nil
}

// ReadLinearModel decodes a model artifact from r.
func ReadLinearModel(r io.Reader) (*LinearModel, error) {
	var a Artifact
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("failed to decode model artifact: %w", err)
	}
	return NewLinearModel(a)
}

// NewLinearModel builds a model from a decoded artifact.
func NewLinearModel(a Artifact) (*LinearModel, error) {
	if err := artifactValidate.Struct(a); err != nil {
		return nil, fmt.Errorf("invalid model artifact: %w", err)
	}
	if want := a.NumericFeatures + len(a.DistrictCategories); len(a.Coefficients) != want {
		return nil, fmt.Errorf("invalid model artifact: %d coefficients for %d numeric features and %d districts",
			len(a.Coefficients), a.NumericFeatures, len(a.DistrictCategories))
	}
	categories := make(map[int]int, len(a.DistrictCategories))
	for i, code := range a.DistrictCategories {
		categories[code] = i
	}
	return &LinearModel{
		categories:   categories,
		width:        len(a.DistrictCategories),
		coefficients: append([]float64(nil), a.Coefficients...),
		intercept:    a.Intercept,
	}, nil
}

// EncodeDistrict one-hot encodes code over the trained category order.
func (m *LinearModel) EncodeDistrict(_ context.Context, code int) ([]float64, error) {
	idx, ok := m.categories[code]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDistrict, code)
	}
	row := make([]float64, m.width)
	row[idx] = 1
	return row, nil
}

// Predict evaluates the linear model for one feature row.
func (m *LinearModel) Predict(_ context.Context, features []float64) (float64, error) {
	if len(features) != len(m.coefficients) {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrFeatureCount, len(features), len(m.coefficients))
	}
	y := m.intercept
	for i, x := range features {
		y += m.coefficients[i] * x
	}
	return y, nil
}
