// filepath: internal/flow/machine.go
package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BTreeMap/DengueCast/internal/catalog"
	"github.com/BTreeMap/DengueCast/internal/models"
	"github.com/BTreeMap/DengueCast/internal/prediction"
)

// Predictor runs the terminal prediction step for a completed state.
type Predictor interface {
	Predict(ctx context.Context, state models.ConversationState) (prediction.Summary, error)
}

// OutcomeKind classifies what a single Advance did.
type OutcomeKind string

// Outcome kinds.
const (
	OutcomeAccepted         OutcomeKind = "accepted"
	OutcomeRejected         OutcomeKind = "rejected"
	OutcomePredicted        OutcomeKind = "predicted"
	OutcomePredictionFailed OutcomeKind = "prediction_failed"
	OutcomeReset            OutcomeKind = "reset"
)

// Outcome is the result of advancing the machine by one user message.
type Outcome struct {
	Kind    OutcomeKind
	Message string
	State   models.ConversationState
	// Rejection is set when Kind is OutcomeRejected.
	Rejection *ValidationError
	// Completed is the full state handed to the predictor on the terminal stage.
	Completed *models.ConversationState
	// Prediction is set when Kind is OutcomePredicted.
	Prediction *prediction.Summary
	// Err is set for OutcomePredictionFailed and for resets caused by an unknown stage.
	Err error
}

// Machine drives a ConversationState from greeting to prediction.
// It holds no per-session data and is safe for concurrent use.
type Machine struct {
	catalogs  *catalog.Catalogs
	predictor Predictor
	hints     Hints
}

// NewMachine creates a Machine over immutable catalogs and a predictor.
func NewMachine(catalogs *catalog.Catalogs, predictor Predictor) *Machine {
	return &Machine{
		catalogs:  catalogs,
		predictor: predictor,
		hints:     NewHints(catalogs),
	}
}

// Hints returns the machine's advisory hint table.
func (m *Machine) Hints() Hints { return m.hints }

// Intro returns the session opening message.
func (m *Machine) Intro() string { return m.hints.Intro() }

// Advance processes one raw user message against state and returns the response and the
// next state. The passed state is never modified.
func (m *Machine) Advance(ctx context.Context, raw string, state models.ConversationState) Outcome {
	text := strings.TrimSpace(raw)

	var res Result
	switch state.Stage {
	case models.StageIdle:
		return m.reset(nil)
	case models.StageAwaitingGreeting:
		res = ValidateGreeting(text)
	case models.StageAwaitingYear:
		res = ValidateYear(text, m.catalogs.Years)
	case models.StageAwaitingMonth:
		res = ValidateMonth(text, m.catalogs.Months)
	case models.StageAwaitingDistrict:
		res = ValidateDistrict(text, m.catalogs.Districts)
	case models.StageAwaitingRainfall,
		models.StageAwaitingTemperature,
		models.StageAwaitingHumidity,
		models.StageAwaitingMosquitoIndex,
		models.StageAwaitingPopulation:
		res = ValidateFloat(state.Stage, text)
	default:
		err := fmt.Errorf("%w: %d", ErrUnknownStage, int(state.Stage))
		return m.reset(err)
	}

	if !res.Accepted() {
		return Outcome{
			Kind:      OutcomeRejected,
			Message:   m.hints.warning(res.Rejected),
			State:     state,
			Rejection: res.Rejected,
		}
	}

	next := apply(state, res.Value)
	if state.Stage == models.StageAwaitingPopulation {
		return m.complete(ctx, next)
	}

	nextStage, _ := state.Stage.Next()
	next.Stage = nextStage
	return Outcome{
		Kind:    OutcomeAccepted,
		Message: m.hints.confirmation(state.Stage, res.Value, nextStage),
		State:   next,
	}
}

// complete hands a full state to the predictor. The returned state is always fresh.
func (m *Machine) complete(ctx context.Context, full models.ConversationState) Outcome {
	out := Outcome{State: models.NewConversationState(), Completed: &full}
	if m.predictor == nil {
		out.Kind = OutcomePredictionFailed
		out.Err = &prediction.PredictionError{Cause: "model unavailable"}
		out.Message = fmt.Sprintf(PredictionFailedMessage, "model unavailable")
		return out
	}

	summary, err := m.predictor.Predict(ctx, full)
	if err != nil {
		cause := err.Error()
		var perr *prediction.PredictionError
		if errors.As(err, &perr) {
			cause = perr.Cause
		}
		out.Kind = OutcomePredictionFailed
		out.Err = err
		out.Message = fmt.Sprintf(PredictionFailedMessage, cause)
		return out
	}
	out.Kind = OutcomePredicted
	out.Prediction = &summary
	out.Message = fmt.Sprintf(PredictionCompleteMessage, summary.CasesDisplay, summary.PercentDisplay)
	return out
}

func (m *Machine) reset(err error) Outcome {
	return Outcome{
		Kind:    OutcomeReset,
		Message: RestartMessage,
		State:   models.NewConversationState(),
		Err:     err,
	}
}

// apply copies state and writes v into the field requested by state.Stage.
func apply(state models.ConversationState, v Value) models.ConversationState {
	next := state
	i, f := v.Int, v.Float
	switch state.Stage {
	case models.StageAwaitingYear:
		next.Year = &i
	case models.StageAwaitingMonth:
		next.Month = &i
	case models.StageAwaitingDistrict:
		next.DistrictCode = &i
	case models.StageAwaitingRainfall:
		next.RainfallMm = &f
	case models.StageAwaitingTemperature:
		next.TemperatureC = &f
	case models.StageAwaitingHumidity:
		next.HumidityPct = &f
	case models.StageAwaitingMosquitoIndex:
		next.MosquitoIndex = &f
	case models.StageAwaitingPopulation:
		next.PopulationDensity = &f
	}
	return next
}
