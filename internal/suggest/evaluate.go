// Package suggest derives prioritized advisory suggestions from a telemetry
// snapshot. Evaluation is pure: the same snapshot and reference time always
// produce the same output, and a fresh list supersedes the previous one
// wholesale on every call.
package suggest

import (
	"fmt"
	"math"
	"time"

	"farm-advisory-agent/internal/domain"
)

// staleAfter is how old a reading may be before it is flagged instead of
// evaluated against value thresholds.
const staleAfter = 48 * time.Hour

// Threshold bands, shared with the fallback composer via Band so both
// components classify readings identically.
const (
	phLow        = 6.0
	phHigh       = 8.0
	moistureLow  = 30.0
	moistureHigh = 80.0
	tempLow      = 10.0
	tempHigh     = 35.0
	ecLow        = 0.8
	ecHigh       = 3.0

	weatherHotC        = 30.0
	weatherDryHumidity = 50.0
	weatherWindy       = 15.0
	rainChanceHigh     = 70.0
)

// Evaluate maps a snapshot to its suggestion list. Emission order is display
// priority order. now is injected so the staleness rule is testable.
func Evaluate(snap domain.TelemetrySnapshot, now time.Time) []domain.Suggestion {
	if len(snap.Sensors) == 0 {
		return []domain.Suggestion{{
			ID:       "no-sensors",
			Severity: domain.SeverityInfo,
			Title:    "No sensors installed",
			Message:  "This farm has no sensors reporting yet. Install a soil moisture or pH sensor to start receiving tailored advice.",
			RecommendedActions: []string{
				"Install a soil moisture sensor in the root zone",
				"Add a pH probe to monitor soil acidity",
			},
			Confidence: 1,
		}}
	}

	var out []domain.Suggestion
	for _, s := range snap.Sensors {
		out = append(out, evaluateSensor(s, now)...)
	}
	out = append(out, evaluateWeather(snap.Weather)...)

	if len(out) == 0 {
		out = append(out, domain.Suggestion{
			ID:         "all-normal",
			Severity:   domain.SeverityInfo,
			Title:      "Everything looks normal",
			Message:    "All sensor readings are within their expected ranges. Keep up the current routine.",
			Confidence: 0.8,
		})
	}
	return out
}

// Actionable filters a suggestion list down to the items shown by default:
// critical and warning severities only.
func Actionable(list []domain.Suggestion) []domain.Suggestion {
	out := make([]domain.Suggestion, 0, len(list))
	for _, s := range list {
		if s.Severity == domain.SeverityCritical || s.Severity == domain.SeverityWarning {
			out = append(out, s)
		}
	}
	return out
}

func evaluateSensor(s domain.SensorReading, now time.Time) []domain.Suggestion {
	// Staleness pre-empts value checks: advice based on a two-day-old
	// reading is worse than no advice.
	if !s.ObservedAt.IsZero() && now.Sub(s.ObservedAt) > staleAfter {
		return []domain.Suggestion{{
			ID:       "stale-" + s.ID,
			Severity: domain.SeverityWarning,
			Title:    fmt.Sprintf("%s data is stale", s.Name),
			Message:  fmt.Sprintf("The last reading from %s is over 48 hours old. Check the sensor's power and connectivity.", s.Name),
			RecommendedActions: []string{
				"Check the sensor's battery and wiring",
				"Verify the sensor is still paired with the gateway",
			},
			Confidence: 0.95,
		}}
	}
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return nil
	}

	switch Category(s.Type) {
	case CategoryPH:
		return phSuggestion(s)
	case CategoryMoisture:
		return moistureSuggestion(s)
	case CategoryTemperature:
		return temperatureSuggestion(s)
	case CategoryEC:
		return ecSuggestion(s)
	}
	return nil
}

func phSuggestion(s domain.SensorReading) []domain.Suggestion {
	switch {
	case s.Value < phLow:
		return []domain.Suggestion{{
			ID:       "ph-low-" + s.ID,
			Severity: domain.SeverityWarning,
			Title:    "Soil is too acidic",
			Message:  fmt.Sprintf("%s reads pH %.1f, below the ideal range of 6.0 to 8.0. Most crops struggle to take up nutrients in acidic soil.", s.Name, s.Value),
			RecommendedActions: []string{
				"Apply agricultural lime to raise soil pH",
				"Re-test pH two weeks after treatment",
			},
			Confidence: 0.9,
		}}
	case s.Value > phHigh:
		return []domain.Suggestion{{
			ID:       "ph-high-" + s.ID,
			Severity: domain.SeverityWarning,
			Title:    "Soil is too alkaline",
			Message:  fmt.Sprintf("%s reads pH %.1f, above the ideal range of 6.0 to 8.0. Iron and phosphorus become less available in alkaline soil.", s.Name, s.Value),
			RecommendedActions: []string{
				"Work elemental sulfur or organic compost into the soil",
				"Re-test pH two weeks after treatment",
			},
			Confidence: 0.9,
		}}
	default:
		return []domain.Suggestion{{
			ID:       "ph-good-" + s.ID,
			Severity: domain.SeveritySuccess,
			Title:    "Soil pH is optimal",
			Message:  fmt.Sprintf("%s reads pH %.1f, right in the healthy range. No action needed.", s.Name, s.Value),
			RecommendedActions: []string{
				"Keep monitoring; re-check after heavy rain",
			},
			Confidence: 0.85,
		}}
	}
}

func moistureSuggestion(s domain.SensorReading) []domain.Suggestion {
	switch {
	case s.Value < moistureLow:
		return []domain.Suggestion{{
			ID:       "moisture-low-" + s.ID,
			Severity: domain.SeverityCritical,
			Title:    "Soil moisture critically low",
			Message:  fmt.Sprintf("%s reads %.0f%%, below the minimum of 30%%. Crops are at risk of drought stress.", s.Name, s.Value),
			RecommendedActions: []string{
				"Irrigate within the next few hours",
				"Apply mulch to slow evaporation",
			},
			Confidence: 0.95,
		}}
	case s.Value > moistureHigh:
		return []domain.Suggestion{{
			ID:       "moisture-high-" + s.ID,
			Severity: domain.SeverityWarning,
			Title:    "Soil moisture too high",
			Message:  fmt.Sprintf("%s reads %.0f%%, above 80%%. Waterlogged soil starves roots of oxygen and invites fungal disease.", s.Name, s.Value),
			RecommendedActions: []string{
				"Pause irrigation until readings drop",
				"Check field drainage",
			},
			Confidence: 0.9,
		}}
	}
	// In range is silent for moisture: absence of a suggestion is the OK
	// state for this sensor category, unlike pH which reports success.
	return nil
}

func temperatureSuggestion(s domain.SensorReading) []domain.Suggestion {
	switch {
	case s.Value < tempLow:
		return []domain.Suggestion{{
			ID:       "temp-low-" + s.ID,
			Severity: domain.SeverityWarning,
			Title:    "Temperature is low",
			Message:  fmt.Sprintf("%s reads %.1f°C, below 10°C. Growth slows and frost damage becomes possible.", s.Name, s.Value),
			RecommendedActions: []string{
				"Cover sensitive crops overnight",
				"Delay planting of warm-season crops",
			},
			Confidence: 0.85,
		}}
	case s.Value > tempHigh:
		return []domain.Suggestion{{
			ID:       "temp-high-" + s.ID,
			Severity: domain.SeverityWarning,
			Title:    "Temperature is high",
			Message:  fmt.Sprintf("%s reads %.1f°C, above 35°C. Heat stress reduces yields and raises water demand.", s.Name, s.Value),
			RecommendedActions: []string{
				"Increase irrigation frequency",
				"Provide shade cloth for vulnerable crops",
			},
			Confidence: 0.85,
		}}
	}
	return nil
}

func ecSuggestion(s domain.SensorReading) []domain.Suggestion {
	switch {
	case s.Value < ecLow:
		return []domain.Suggestion{{
			ID:       "ec-low-" + s.ID,
			Severity: domain.SeverityWarning,
			Title:    "Nutrient level is low",
			Message:  fmt.Sprintf("%s reads %.2f mS/cm, below 0.8. The soil solution is carrying too few dissolved nutrients.", s.Name, s.Value),
			RecommendedActions: []string{
				"Apply a balanced fertilizer",
				"Re-check conductivity after the next irrigation",
			},
			Confidence: 0.85,
		}}
	case s.Value > ecHigh:
		return []domain.Suggestion{{
			ID:       "ec-high-" + s.ID,
			Severity: domain.SeverityWarning,
			Title:    "Soil salinity is high",
			Message:  fmt.Sprintf("%s reads %.2f mS/cm, above 3.0. Salt buildup makes it harder for roots to draw water.", s.Name, s.Value),
			RecommendedActions: []string{
				"Leach salts with a deep irrigation cycle",
				"Hold off on fertilizer until readings drop",
			},
			Confidence: 0.85,
		}}
	}
	return nil
}

func evaluateWeather(w *domain.WeatherSnapshot) []domain.Suggestion {
	if w == nil {
		return nil
	}
	var out []domain.Suggestion
	cur := w.Current
	if cur.TemperatureC > weatherHotC && cur.Humidity < weatherDryHumidity {
		out = append(out, domain.Suggestion{
			ID:       "weather-hot-dry",
			Severity: domain.SeverityWarning,
			Title:    "Hot and dry conditions",
			Message:  fmt.Sprintf("It is %.0f°C with %.0f%% humidity. Evaporation will be rapid today.", cur.TemperatureC, cur.Humidity),
			RecommendedActions: []string{
				"Water early in the morning or late in the evening",
				"Watch moisture sensors closely through the day",
			},
			Confidence: 0.8,
		})
	}
	if cur.WindSpeed > weatherWindy {
		out = append(out, domain.Suggestion{
			ID:       "weather-wind",
			Severity: domain.SeverityInfo,
			Title:    "Windy conditions",
			Message:  fmt.Sprintf("Wind speed is %.0f. Avoid spraying and secure row covers.", cur.WindSpeed),
			RecommendedActions: []string{
				"Postpone pesticide or foliar spraying",
			},
			Confidence: 0.75,
		})
	}
	if len(w.Forecast) > 0 {
		if rc := w.Forecast[0].RainChance; !math.IsNaN(rc) && rc > rainChanceHigh {
			out = append(out, domain.Suggestion{
				ID:       "weather-rain",
				Severity: domain.SeverityInfo,
				Title:    "Rain expected",
				Message:  fmt.Sprintf("There is a %.0f%% chance of rain in the next forecast period. Irrigation can likely be reduced.", rc),
				RecommendedActions: []string{
					"Reduce or skip the next irrigation cycle",
				},
				Confidence: 0.7,
			})
		}
	}
	return out
}
