// Package models defines the conversation state collected by the intake flow.
package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ConversationState is the mutable record of the current stage and the fields
// accepted so far. A field is non-nil only once the stage requesting it has passed.
type ConversationState struct {
	Stage             Stage    `json:"stage"`
	Year              *int     `json:"year,omitempty"`
	Month             *int     `json:"month,omitempty"`
	DistrictCode      *int     `json:"district_code,omitempty"`
	RainfallMm        *float64 `json:"rainfall_mm,omitempty"`
	TemperatureC      *float64 `json:"temperature_c,omitempty"`
	HumidityPct       *float64 `json:"humidity_pct,omitempty"`
	MosquitoIndex     *float64 `json:"mosquito_index,omitempty"`
	PopulationDensity *float64 `json:"population_density,omitempty"`
}

// NewConversationState returns a fresh state waiting for the greeting.
func NewConversationState() ConversationState {
	return ConversationState{Stage: StageAwaitingGreeting}
}

// Complete reports whether every field needed for a prediction is populated.
func (s ConversationState) Complete() bool {
	return s.Year != nil && s.Month != nil && s.DistrictCode != nil &&
		s.RainfallMm != nil && s.TemperatureC != nil && s.HumidityPct != nil &&
		s.MosquitoIndex != nil && s.PopulationDensity != nil
}

// Role tags the speaker of a Turn.
type Role string

// Turn speakers.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message exchanged in a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// TurnRecord is a Turn as written to the audit store.
type TurnRecord struct {
	SessionID string    `json:"session_id"`
	Seq       int       `json:"seq"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Stage     Stage     `json:"stage"` // stage after the turn was processed
	CreatedAt time.Time `json:"created_at"`
}

// PredictionRecord is the audit entry for one completed intake cycle.
type PredictionRecord struct {
	SessionID         string    `json:"session_id"`
	Year              int       `json:"year"`
	Month             int       `json:"month"`
	DistrictCode      int       `json:"district_code"`
	RainfallMm        float64   `json:"rainfall_mm"`
	TemperatureC      float64   `json:"temperature_c"`
	HumidityPct       float64   `json:"humidity_pct"`
	MosquitoIndex     float64   `json:"mosquito_index"`
	PopulationDensity float64   `json:"population_density"`
	PredictedCases    float64   `json:"predicted_cases"`
	PredictedPercent  float64   `json:"predicted_percent"`
	Error             string    `json:"error,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Float is a float64 whose JSON form carries non-finite values as the strings
// "NaN", "+Inf" and "-Inf". The numeric stages accept them, and encoding/json
// refuses them as numbers.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return json.Marshal(v)
}

func (f *Float) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", s, err)
		}
		*f = Float(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

func toFloat(p *float64) *Float {
	if p == nil {
		return nil
	}
	f := Float(*p)
	return &f
}

func fromFloat(p *Float) *float64 {
	if p == nil {
		return nil
	}
	v := float64(*p)
	return &v
}

// The JSON methods below embed a method-less copy of the struct and shadow its
// float fields at a shallower depth with Float.

func (s ConversationState) MarshalJSON() ([]byte, error) {
	type plain ConversationState
	return json.Marshal(struct {
		plain
		RainfallMm        *Float `json:"rainfall_mm,omitempty"`
		TemperatureC      *Float `json:"temperature_c,omitempty"`
		HumidityPct       *Float `json:"humidity_pct,omitempty"`
		MosquitoIndex     *Float `json:"mosquito_index,omitempty"`
		PopulationDensity *Float `json:"population_density,omitempty"`
	}{
		plain:             plain(s),
		RainfallMm:        toFloat(s.RainfallMm),
		TemperatureC:      toFloat(s.TemperatureC),
		HumidityPct:       toFloat(s.HumidityPct),
		MosquitoIndex:     toFloat(s.MosquitoIndex),
		PopulationDensity: toFloat(s.PopulationDensity),
	})
}

func (s *ConversationState) UnmarshalJSON(data []byte) error {
	type plain ConversationState
	aux := struct {
		*plain
		RainfallMm        *Float `json:"rainfall_mm,omitempty"`
		TemperatureC      *Float `json:"temperature_c,omitempty"`
		HumidityPct       *Float `json:"humidity_pct,omitempty"`
		MosquitoIndex     *Float `json:"mosquito_index,omitempty"`
		PopulationDensity *Float `json:"population_density,omitempty"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.RainfallMm = fromFloat(aux.RainfallMm)
	s.TemperatureC = fromFloat(aux.TemperatureC)
	s.HumidityPct = fromFloat(aux.HumidityPct)
	s.MosquitoIndex = fromFloat(aux.MosquitoIndex)
	s.PopulationDensity = fromFloat(aux.PopulationDensity)
	return nil
}

func (r PredictionRecord) MarshalJSON() ([]byte, error) {
	type plain PredictionRecord
	return json.Marshal(struct {
		plain
		RainfallMm        Float `json:"rainfall_mm"`
		TemperatureC      Float `json:"temperature_c"`
		HumidityPct       Float `json:"humidity_pct"`
		MosquitoIndex     Float `json:"mosquito_index"`
		PopulationDensity Float `json:"population_density"`
		PredictedCases    Float `json:"predicted_cases"`
		PredictedPercent  Float `json:"predicted_percent"`
	}{
		plain:             plain(r),
		RainfallMm:        Float(r.RainfallMm),
		TemperatureC:      Float(r.TemperatureC),
		HumidityPct:       Float(r.HumidityPct),
		MosquitoIndex:     Float(r.MosquitoIndex),
		PopulationDensity: Float(r.PopulationDensity),
		PredictedCases:    Float(r.PredictedCases),
		PredictedPercent:  Float(r.PredictedPercent),
	})
}

func (r *PredictionRecord) UnmarshalJSON(data []byte) error {
	type plain PredictionRecord
	aux := struct {
		*plain
		RainfallMm        Float `json:"rainfall_mm"`
		TemperatureC      Float `json:"temperature_c"`
		HumidityPct       Float `json:"humidity_pct"`
		MosquitoIndex     Float `json:"mosquito_index"`
		PopulationDensity Float `json:"population_density"`
		PredictedCases    Float `json:"predicted_cases"`
		PredictedPercent  Float `json:"predicted_percent"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.RainfallMm = float64(aux.RainfallMm)
	r.TemperatureC = float64(aux.TemperatureC)
	r.HumidityPct = float64(aux.HumidityPct)
	r.MosquitoIndex = float64(aux.MosquitoIndex)
	r.PopulationDensity = float64(aux.PopulationDensity)
	r.PredictedCases = float64(aux.PredictedCases)
	r.PredictedPercent = float64(aux.PredictedPercent)
	return nil
}
