package domain

import "time"

// SensorReading is one sensor's most recent measurement.
type SensorReading struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	ObservedAt time.Time `json:"observedAt"`
}

// CurrentWeather holds the present conditions at the farm's location.
type CurrentWeather struct {
	TemperatureC float64 `json:"temperatureC"`
	Humidity     float64 `json:"humidity"`
	WindSpeed    float64 `json:"windSpeed"`
	Condition    string  `json:"condition"`
}

// ForecastEntry is one day of forecast. RainChance is the normalized
// precipitation probability in percent; upstream payloads name this field
// inconsistently and the snapshot assembler resolves that before anything
// downstream sees it.
type ForecastEntry struct {
	Day          string  `json:"day"`
	TemperatureC float64 `json:"temperatureC"`
	RainChance   float64 `json:"rainChance"`
}

// WeatherSnapshot bundles current conditions with a short forecast.
type WeatherSnapshot struct {
	Current  CurrentWeather  `json:"current"`
	Forecast []ForecastEntry `json:"forecast"`
}

// TelemetrySnapshot is an immutable point-in-time bundle of everything known
// about one farm: identity, sensor readings, and optional weather. A new
// snapshot is assembled for every evaluation cycle; it is never mutated.
type TelemetrySnapshot struct {
	FarmID   string           `json:"farmId"`
	FarmName string           `json:"farmName"`
	Location string           `json:"location"`
	Notes    string           `json:"notes,omitempty"`
	Sensors  []SensorReading  `json:"sensors"`
	Weather  *WeatherSnapshot `json:"weather,omitempty"`
	TakenAt  time.Time        `json:"takenAt"`
}

// Sensor returns the reading whose type contains the given category
// (case-insensitive), or nil if the farm has no such sensor.
func (s *TelemetrySnapshot) Sensor(category string) *SensorReading {
	if s == nil {
		return nil
	}
	for i := range s.Sensors {
		if containsFold(s.Sensors[i].Type, category) {
			return &s.Sensors[i]
		}
	}
	return nil
}
