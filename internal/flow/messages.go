package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/DengueCast/internal/catalog"
	"github.com/BTreeMap/DengueCast/internal/models"
)

// DistrictHintCount is how many district names the district hint lists.
const DistrictHintCount = 6

// Fixed user-facing messages.
const (
	introTemplate = "🤖 <b>Hello! I’m the Dengue Prediction Bot</b>\n\n" +
		"I can predict <b>Dengue Cases</b> and the <b>percentage of population affected</b>.\n\n" +
		"You will provide:\n" +
		"• Year 📅 (e.g., %d-%d)\n" +
		"• Month 🗓️ (January - December)\n" +
		"• District 🏙️ (Full name, e.g., Dhaka)\n" +
		"• Rainfall ☔ (0-1000 mm)\n" +
		"• Temperature 🌡️ (-10°C to 50°C)\n" +
		"• Humidity 💧 (0%%-100%%)\n" +
		"• Mosquito Breeding Index 🦟 (0-5)\n" +
		"• Population Density 👥 (e.g., 1000-100000)\n\n" +
		"Type <b>hi</b> to start!"

	GreetingRequiredMessage = "Please type 'hi' to start the chat."
	RestartMessage          = "Let's start again — type 'hi' to begin."

	PredictionCompleteMessage = "✅ <b>Prediction Complete!</b>\n" +
		"Predicted Dengue Cases: %s\n" +
		"Predicted Percentage of Population: %s%%\n\n" +
		"Type <b>hi</b> to predict again."
	PredictionFailedMessage = "⚠️ Error during prediction: %s\n\nType <b>hi</b> to start again."
)

// Hints is the advisory range table shown next to every prompt and warning.
type Hints struct {
	byStage map[models.Stage]string
	intro   string
}

// NewHints builds the hint table from the catalogs.
func NewHints(c *catalog.Catalogs) Hints {
	entries := c.Districts.Entries()
	n := DistrictHintCount
	if len(entries) < n {
		n = len(entries)
	}
	names := make([]string, 0, n)
	for _, d := range entries[:n] {
		names = append(names, d.Name)
	}
	return Hints{intro: fmt.Sprintf(introTemplate, c.Years.Min(), c.Years.Max()), byStage: map[models.Stage]string{
		models.StageAwaitingYear:          fmt.Sprintf("(Available: %d - %d)", c.Years.Min(), c.Years.Max()),
		models.StageAwaitingMonth:         "(January - December)",
		models.StageAwaitingDistrict:      fmt.Sprintf("(Available: %s...)", strings.Join(names, ", ")),
		models.StageAwaitingRainfall:      "(0 - 1000 mm)",
		models.StageAwaitingTemperature:   "(-10°C to 50°C)",
		models.StageAwaitingHumidity:      "(0% - 100%)",
		models.StageAwaitingMosquitoIndex: "(0 - 5 index)",
		models.StageAwaitingPopulation:    "(e.g., 1000 - 100000)",
	}}
}

// Intro is the assistant message that opens every session.
func (h Hints) Intro() string { return h.intro }

// For returns the hint for a stage, or "" when the stage has none.
func (h Hints) For(stage models.Stage) string {
	return h.byStage[stage]
}

// promptFor is the confirmation tail that asks for the field of stage next.
func (h Hints) promptFor(next models.Stage) string {
	var ask string
	switch next {
	case models.StageAwaitingYear:
		return "👋 Hi! Which <b>year</b> do you want to predict for? " + h.For(next)
	case models.StageAwaitingMonth:
		ask = "Enter <b>month</b> (e.g., January)"
	case models.StageAwaitingDistrict:
		ask = "Enter <b>district</b>"
	case models.StageAwaitingRainfall:
		ask = "Enter <b>rainfall (mm)</b>"
	case models.StageAwaitingTemperature:
		ask = "Enter <b>temperature (°C)</b>"
	case models.StageAwaitingHumidity:
		ask = "Enter <b>humidity (%)</b>"
	case models.StageAwaitingMosquitoIndex:
		ask = "Enter <b>Mosquito Breeding Index</b>"
	case models.StageAwaitingPopulation:
		ask = "Enter <b>Population Density</b>"
	}
	return ask + " " + h.For(next)
}

// confirmation echoes an accepted value and asks for the next field.
func (h Hints) confirmation(stage models.Stage, v Value, next models.Stage) string {
	var echo string
	switch stage {
	case models.StageAwaitingGreeting:
		return h.promptFor(next)
	case models.StageAwaitingYear:
		echo = "✅ Year: " + v.Display + "."
	case models.StageAwaitingMonth:
		echo = "✅ Month: " + v.Display + "."
	case models.StageAwaitingDistrict:
		echo = "✅ District: " + v.Display + "."
	case models.StageAwaitingRainfall:
		echo = "✅ Rainfall: " + v.Display + " mm."
	case models.StageAwaitingTemperature:
		echo = "✅ Temperature: " + v.Display + "°C."
	case models.StageAwaitingHumidity:
		echo = "✅ Humidity: " + v.Display + "%."
	case models.StageAwaitingMosquitoIndex:
		echo = "✅ Mosquito Index: " + v.Display + "."
	}
	return echo + " " + h.promptFor(next)
}

// warning renders a rejection with the same stage's hint.
func (h Hints) warning(rej *ValidationError) string {
	hint := h.For(rej.Stage)
	switch rej.Stage {
	case models.StageAwaitingGreeting:
		return GreetingRequiredMessage
	case models.StageAwaitingYear:
		if rej.Reason == ReasonOutOfRange {
			return "⚠️ Year out of range! " + hint
		}
		return "⚠️ Please enter a valid year " + hint
	case models.StageAwaitingMonth:
		return "⚠️ Invalid month! " + hint
	case models.StageAwaitingDistrict:
		return "⚠️ District not recognized! " + hint
	case models.StageAwaitingRainfall:
		return "⚠️ Enter a valid rainfall value " + hint
	case models.StageAwaitingTemperature:
		return "⚠️ Enter a valid temperature value " + hint
	case models.StageAwaitingHumidity:
		return "⚠️ Enter a valid humidity value " + hint
	case models.StageAwaitingMosquitoIndex:
		return "⚠️ Enter a valid Mosquito index value " + hint
	case models.StageAwaitingPopulation:
		return "⚠️ Enter a valid population density value " + hint
	}
	return RestartMessage
}
