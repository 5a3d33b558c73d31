// Package flow implements the dengue intake conversation: per-stage validators and the
// stage machine that drives a ConversationState from greeting to prediction.
package flow

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/BTreeMap/DengueCast/internal/catalog"
	"github.com/BTreeMap/DengueCast/internal/models"
)

// Reason classifies why a validator rejected an input.
type Reason string

// Rejection reasons.
const (
	ReasonGreetingRequired Reason = "greeting_required"
	ReasonInvalid          Reason = "invalid"
	ReasonOutOfRange       Reason = "out_of_range"
	ReasonInvalidMonth     Reason = "invalid_month"
	ReasonNotRecognized    Reason = "not_recognized"
)

// ErrUnknownStage marks a state whose stage is outside the enumeration.
var ErrUnknownStage = errors.New("unknown stage")

// ValidationError is a recoverable per-stage rejection. The stage does not change.
type ValidationError struct {
	Stage  models.Stage
	Reason Reason
	Input  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s rejected %q: %s", e.Stage, e.Input, e.Reason)
}

// Value is a typed accepted input. Only the field matching the stage is meaningful.
type Value struct {
	Int   int
	Float float64
	// Display is the normalized text echoed back in the confirmation.
	Display string
}

// Result is the outcome of running a validator: Accepted carries a Value,
// Rejected carries a *ValidationError.
type Result struct {
	Value    Value
	Rejected *ValidationError
}

// Accepted reports whether the input passed validation.
func (r Result) Accepted() bool { return r.Rejected == nil }

func accept(v Value) Result { return Result{Value: v} }

func reject(stage models.Stage, reason Reason, input string) Result {
	return Result{Rejected: &ValidationError{Stage: stage, Reason: reason, Input: input}}
}

var greetings = map[string]bool{"hi": true, "hello": true, "hey": true}

// ValidateGreeting accepts hi, hello or hey in any case.
func ValidateGreeting(text string) Result {
	if !greetings[strings.ToLower(text)] {
		return reject(models.StageAwaitingGreeting, ReasonGreetingRequired, text)
	}
	return accept(Value{Display: text})
}

// ValidateYear parses an integer year and checks it against the catalog.
// A parse failure and a range failure are reported with different reasons.
func ValidateYear(text string, years catalog.YearCatalog) Result {
	year, err := strconv.Atoi(text)
	if err != nil {
		return reject(models.StageAwaitingYear, ReasonInvalid, text)
	}
	if !years.Contains(year) {
		return reject(models.StageAwaitingYear, ReasonOutOfRange, text)
	}
	return accept(Value{Int: year, Display: strconv.Itoa(year)})
}

// ValidateMonth resolves a month name case-insensitively.
func ValidateMonth(text string, months catalog.MonthCatalog) Result {
	n, ok := months.Number(text)
	if !ok {
		return reject(models.StageAwaitingMonth, ReasonInvalidMonth, text)
	}
	return accept(Value{Int: n, Display: catalog.TitleCase(text)})
}

// ValidateDistrict resolves a district name after whitespace and case normalization.
func ValidateDistrict(text string, districts catalog.DistrictCatalog) Result {
	d, ok := districts.Lookup(text)
	if !ok {
		return reject(models.StageAwaitingDistrict, ReasonNotRecognized, text)
	}
	return accept(Value{Int: d.Code, Display: d.Name})
}

// ValidateFloat parses any floating point value. The ranges shown in prompts are
// advisory and are not enforced here.
func ValidateFloat(stage models.Stage, text string) Result {
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return reject(stage, ReasonInvalid, text)
	}
	return accept(Value{Float: f, Display: FormatFloat(f)})
}

// FormatFloat renders f the way the confirmation messages echo numbers:
// shortest representation, with a trailing ".0" for whole numbers.
func FormatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	switch s {
	case "+Inf":
		return "inf"
	case "-Inf":
		return "-inf"
	case "NaN":
		return "nan"
	}
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
