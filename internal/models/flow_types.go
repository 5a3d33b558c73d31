// Package models defines the intake stage enumeration shared by the flow and session layers.
package models

import (
	"fmt"
	"strings"
)

// Stage identifies which single field the intake conversation is currently requesting.
type Stage int

// Stage constants in progression order. Idle is the zero value of a state that has
// not been started yet.
const (
	StageIdle Stage = iota
	StageAwaitingGreeting
	StageAwaitingYear
	StageAwaitingMonth
	StageAwaitingDistrict
	StageAwaitingRainfall
	StageAwaitingTemperature
	StageAwaitingHumidity
	StageAwaitingMosquitoIndex
	StageAwaitingPopulation
)

var stageNames = [...]string{
	StageIdle:                  "IDLE",
	StageAwaitingGreeting:      "AWAITING_GREETING",
	StageAwaitingYear:          "AWAITING_YEAR",
	StageAwaitingMonth:         "AWAITING_MONTH",
	StageAwaitingDistrict:      "AWAITING_DISTRICT",
	StageAwaitingRainfall:      "AWAITING_RAINFALL",
	StageAwaitingTemperature:   "AWAITING_TEMPERATURE",
	StageAwaitingHumidity:      "AWAITING_HUMIDITY",
	StageAwaitingMosquitoIndex: "AWAITING_MOSQUITO_INDEX",
	StageAwaitingPopulation:    "AWAITING_POPULATION",
}

// IsValid reports whether s is one of the declared stages.
func (s Stage) IsValid() bool {
	return s >= StageIdle && s <= StageAwaitingPopulation
}

// String returns the stable wire name of the stage.
func (s Stage) String() string {
	if !s.IsValid() {
		return fmt.Sprintf("STAGE(%d)", int(s))
	}
	return stageNames[s]
}

// Next returns the stage that follows s in the intake sequence.
// The terminal stage and invalid stages have no successor and return false.
func (s Stage) Next() (Stage, bool) {
	if s < StageAwaitingGreeting || s >= StageAwaitingPopulation {
		return s, false
	}
	return s + 1, true
}

// MarshalText encodes the stage by name.
func (s Stage) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("invalid stage %d", int(s))
	}
	return []byte(stageNames[s]), nil
}

// UnmarshalText decodes a stage name (case-insensitive).
func (s *Stage) UnmarshalText(text []byte) error {
	name := strings.ToUpper(strings.TrimSpace(string(text)))
	for i, n := range stageNames {
		if n == name {
			*s = Stage(i)
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", string(text))
}
