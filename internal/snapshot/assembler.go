// Package snapshot turns raw farm records from the telemetry source into
// the immutable domain.TelemetrySnapshot consumed by the rule evaluator and
// the conversational path. All payload quirks (stringly-typed sensor values,
// inconsistent forecast field names) are resolved here so downstream code
// sees exactly one shape.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"farm-advisory-agent/internal/domain"
)

// ErrFarmNotFound is returned by Source implementations when no farm record
// exists for the requested id.
var ErrFarmNotFound = errors.New("snapshot: farm not found")

// Source supplies the raw farm record for a farm id. Implemented by the
// DynamoDB repository in production and by fakes in tests.
type Source interface {
	FetchFarm(ctx context.Context, farmID string) (RawFarm, error)
}

// RawSensor is a sensor reading as the data platform stores it. Value is
// kept as a string because upstream writers are not consistent about numeric
// typing; coercion happens in Assemble.
type RawSensor struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Value      string    `json:"value"`
	Unit       string    `json:"unit"`
	ObservedAt time.Time `json:"observedAt"`
}

// RawForecastEntry accepts both historical names for the precipitation
// probability field. Exactly one is expected to be set.
type RawForecastEntry struct {
	Day                      string   `json:"day"`
	TemperatureC             float64  `json:"temperatureC"`
	PrecipitationProbability *float64 `json:"precipitationProbability,omitempty"`
	ChanceOfRain             *float64 `json:"chanceOfRain,omitempty"`
}

// RawWeather mirrors the stored weather record.
type RawWeather struct {
	TemperatureC float64            `json:"temperatureC"`
	Humidity     float64            `json:"humidity"`
	WindSpeed    float64            `json:"windSpeed"`
	Condition    string             `json:"condition"`
	Forecast     []RawForecastEntry `json:"forecast"`
}

// RawFarm is the unprocessed bundle a Source returns for one farm.
type RawFarm struct {
	FarmID   string
	FarmName string
	Location string
	Notes    string
	Sensors  []RawSensor
	Weather  *RawWeather
}

// Assembler builds snapshots from a Source.
type Assembler struct {
	source Source
	now    func() time.Time
}

// New creates an Assembler reading from the given source.
func New(source Source) (*Assembler, error) {
	if source == nil {
		return nil, errors.New("snapshot: source must not be nil")
	}
	return &Assembler{source: source, now: time.Now}, nil
}

// Refresh fetches the raw farm record and assembles a fresh snapshot.
func (a *Assembler) Refresh(ctx context.Context, farmID string) (domain.TelemetrySnapshot, error) {
	if strings.TrimSpace(farmID) == "" {
		return domain.TelemetrySnapshot{}, errors.New("snapshot: farm id must not be empty")
	}
	raw, err := a.source.FetchFarm(ctx, farmID)
	if err != nil {
		return domain.TelemetrySnapshot{}, fmt.Errorf("snapshot: fetch farm %q: %w", farmID, err)
	}
	return Assemble(raw, a.now())
}

// Assemble converts a raw farm record into an immutable snapshot stamped
// with takenAt. Only a structurally invalid record (missing farm id) is an
// error; bad individual sensor values are preserved as NaN and left for the
// rule evaluator to skip.
func Assemble(raw RawFarm, takenAt time.Time) (domain.TelemetrySnapshot, error) {
	if strings.TrimSpace(raw.FarmID) == "" {
		return domain.TelemetrySnapshot{}, errors.New("snapshot: raw farm record has no id")
	}

	snap := domain.TelemetrySnapshot{
		FarmID:   raw.FarmID,
		FarmName: raw.FarmName,
		Location: raw.Location,
		Notes:    raw.Notes,
		TakenAt:  takenAt.UTC(),
	}

	snap.Sensors = make([]domain.SensorReading, 0, len(raw.Sensors))
	for _, rs := range raw.Sensors {
		snap.Sensors = append(snap.Sensors, domain.SensorReading{
			ID:         rs.ID,
			Name:       rs.Name,
			Type:       rs.Type,
			Value:      coerceValue(rs.Value),
			Unit:       rs.Unit,
			ObservedAt: rs.ObservedAt,
		})
	}

	if raw.Weather != nil {
		w := domain.WeatherSnapshot{
			Current: domain.CurrentWeather{
				TemperatureC: raw.Weather.TemperatureC,
				Humidity:     raw.Weather.Humidity,
				WindSpeed:    raw.Weather.WindSpeed,
				Condition:    raw.Weather.Condition,
			},
		}
		for _, fe := range raw.Weather.Forecast {
			w.Forecast = append(w.Forecast, domain.ForecastEntry{
				Day:          fe.Day,
				TemperatureC: fe.TemperatureC,
				RainChance:   rainChance(fe),
			})
		}
		snap.Weather = &w
	}
	return snap, nil
}

// rainChance picks whichever precipitation-probability field the writer
// used. precipitationProbability wins when both are present.
func rainChance(fe RawForecastEntry) float64 {
	if fe.PrecipitationProbability != nil {
		return *fe.PrecipitationProbability
	}
	if fe.ChanceOfRain != nil {
		return *fe.ChanceOfRain
	}
	return math.NaN()
}

// coerceValue parses the stored sensor value. Anything non-numeric becomes
// NaN, which no threshold rule matches.
func coerceValue(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
