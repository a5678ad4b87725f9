package suggest

import (
	"math"
	"strings"
)

// SensorCategory groups sensor types into the categories the threshold
// rules understand.
type SensorCategory string

const (
	CategoryPH          SensorCategory = "ph"
	CategoryMoisture    SensorCategory = "moisture"
	CategoryTemperature SensorCategory = "temperature"
	CategoryEC          SensorCategory = "ec"
	CategoryUnknown     SensorCategory = ""
)

// Category classifies a sensor type string by case-insensitive substring
// match, the same matching the evaluator's per-sensor rules use.
func Category(sensorType string) SensorCategory {
	t := strings.ToLower(sensorType)
	switch {
	case strings.Contains(t, "ph"):
		return CategoryPH
	case strings.Contains(t, "moisture"), strings.Contains(t, "humidity"):
		return CategoryMoisture
	case strings.Contains(t, "temp"):
		return CategoryTemperature
	case strings.Contains(t, "ec"), strings.Contains(t, "conductivity"), strings.Contains(t, "salinity"):
		return CategoryEC
	}
	return CategoryUnknown
}

// HealthBand is a coarse classification of one reading, used by the
// conversational responder to stay consistent with the suggestion rules.
type HealthBand string

const (
	BandGood     HealthBand = "good"
	BandCaution  HealthBand = "caution"
	BandCritical HealthBand = "critical"
	BandUnknown  HealthBand = "unknown"
)

// Band classifies a reading against the same thresholds Evaluate applies.
// Unrecognized categories and non-finite values are BandUnknown.
func Band(sensorType string, value float64) HealthBand {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return BandUnknown
	}
	switch Category(sensorType) {
	case CategoryPH:
		if value < phLow || value > phHigh {
			return BandCaution
		}
		return BandGood
	case CategoryMoisture:
		if value < moistureLow {
			return BandCritical
		}
		if value > moistureHigh {
			return BandCaution
		}
		return BandGood
	case CategoryTemperature:
		if value < tempLow || value > tempHigh {
			return BandCaution
		}
		return BandGood
	case CategoryEC:
		if value < ecLow || value > ecHigh {
			return BandCaution
		}
		return BandGood
	}
	return BandUnknown
}
