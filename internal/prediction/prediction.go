// Package prediction turns a completed intake into a dengue case forecast.
//
// The trained model is an external capability consumed through the Model interface;
// this package only assembles the feature row, calls the model once and derives the
// percentage of the population affected.
package prediction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/BTreeMap/DengueCast/internal/models"
)

// Model is the opaque predictive capability. Both calls must be deterministic for a given input.
type Model interface {
	// EncodeDistrict returns the encoded feature row for a district code.
	EncodeDistrict(ctx context.Context, code int) ([]float64, error)
	// Predict returns the predicted case count for one feature row.
	Predict(ctx context.Context, features []float64) (float64, error)
}

// NumericFeatureCount is the number of numeric features preceding the encoded district.
const NumericFeatureCount = 7

// ErrIncompleteState is wrapped by PredictionError when a field is missing.
var ErrIncompleteState = errors.New("intake state is incomplete")

// PredictionError reports a failed terminal step. Cause is safe to show to the user.
type PredictionError struct {
	Cause string
	Err   error
}

func (e *PredictionError) Error() string {
	return "prediction failed: " + e.Cause
}

func (e *PredictionError) Unwrap() error { return e.Err }

func newPredictionError(cause string, err error) *PredictionError {
	return &PredictionError{Cause: cause, Err: err}
}

// Summary is the outcome of one successful prediction.
type Summary struct {
	PredictedCases   float64 `json:"predicted_cases"`
	PredictedPercent float64 `json:"predicted_percent"`
	// CasesDisplay is the case count rounded to the nearest integer.
	CasesDisplay string `json:"cases_display"`
	// PercentDisplay is the percentage with two decimal places.
	PercentDisplay string `json:"percent_display"`
}

// Observer receives the result of every invocation. Used for metrics.
type Observer func(duration time.Duration, err error)

// Invoker assembles feature rows and calls the model.
type Invoker struct {
	model    Model
	observer Observer
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithObserver registers a callback invoked after every prediction attempt.
func WithObserver(o Observer) Option {
	return func(i *Invoker) { i.observer = o }
}

// NewInvoker creates an Invoker for the given model. A nil model yields an invoker
// whose every call fails with "model unavailable".
func NewInvoker(model Model, opts ...Option) *Invoker {
	inv := &Invoker{model: model}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Predict runs the model for a completed state. Every failure is returned as *PredictionError.
func (i *Invoker) Predict(ctx context.Context, state models.ConversationState) (Summary, error) {
	start := time.Now()
	summary, err := i.predict(ctx, state)
	if i.observer != nil {
		i.observer(time.Since(start), err)
	}
	if err != nil {
		slog.Error("prediction.Invoker.Predict: prediction failed", "error", err)
		return Summary{}, err
	}
	slog.Debug("prediction.Invoker.Predict: prediction complete", "cases", summary.PredictedCases, "percent", summary.PredictedPercent)
	return summary, nil
}

func (i *Invoker) predict(ctx context.Context, state models.ConversationState) (summary Summary, err error) {
	if i.model == nil {
		return Summary{}, newPredictionError("model unavailable", nil)
	}
	numeric, err := FeatureVector(state)
	if err != nil {
		return Summary{}, newPredictionError(err.Error(), err)
	}

	defer func() {
		if r := recover(); r != nil {
			err = newPredictionError(fmt.Sprintf("model panicked: %v", r), nil)
		}
	}()

	encoded, err := i.model.EncodeDistrict(ctx, *state.DistrictCode)
	if err != nil {
		return Summary{}, newPredictionError("district encoding failed: "+err.Error(), err)
	}
	features := make([]float64, 0, len(numeric)+len(encoded))
	features = append(features, numeric...)
	features = append(features, encoded...)

	cases, err := i.model.Predict(ctx, features)
	if err != nil {
		return Summary{}, newPredictionError("model prediction failed: "+err.Error(), err)
	}
	if math.IsNaN(cases) || math.IsInf(cases, 0) {
		return Summary{}, newPredictionError("model returned a non-finite case count", nil)
	}

	percent, err := Percent(cases, *state.PopulationDensity)
	if err != nil {
		return Summary{}, newPredictionError(err.Error(), err)
	}
	return Summary{
		PredictedCases:   cases,
		PredictedPercent: percent,
		CasesDisplay:     fmt.Sprintf("%.0f", cases),
		PercentDisplay:   fmt.Sprintf("%.2f", percent),
	}, nil
}

// FeatureVector returns [year, month, rainfall, temperature, humidity, mosquito index,
// population density] for a completed state.
func FeatureVector(state models.ConversationState) ([]float64, error) {
	var missing []string
	if state.Year == nil {
		missing = append(missing, "year")
	}
	if state.Month == nil {
		missing = append(missing, "month")
	}
	if state.DistrictCode == nil {
		missing = append(missing, "district")
	}
	if state.RainfallMm == nil {
		missing = append(missing, "rainfall")
	}
	if state.TemperatureC == nil {
		missing = append(missing, "temperature")
	}
	if state.HumidityPct == nil {
		missing = append(missing, "humidity")
	}
	if state.MosquitoIndex == nil {
		missing = append(missing, "mosquito index")
	}
	if state.PopulationDensity == nil {
		missing = append(missing, "population density")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrIncompleteState, strings.Join(missing, ", "))
	}
	return []float64{
		float64(*state.Year),
		float64(*state.Month),
		*state.RainfallMm,
		*state.TemperatureC,
		*state.HumidityPct,
		*state.MosquitoIndex,
		*state.PopulationDensity,
	}, nil
}

// Percent computes (cases / population) * 100 and rejects non-finite results.
func Percent(cases, population float64) (float64, error) {
	p := (cases / population) * 100
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0, fmt.Errorf("percentage is not finite for population density %v", population)
	}
	return p, nil
}
