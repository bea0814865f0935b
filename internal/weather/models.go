// Package weather defines the domain model shared by the fetch, aggregation
// and presentation layers. All values are immutable once built.
package weather

import (
	"time"

	"multimet/internal/apperr"
	"multimet/internal/units"
)

// Model identifies one of the numerical weather prediction models served
// through the upstream provider.
type Model string

const (
	ModelECMWF       Model = "ecmwf"
	ModelGFS         Model = "gfs"
	ModelICON        Model = "icon"
	ModelMeteoFrance Model = "meteofrance"
	ModelJMA         Model = "jma"
	ModelGEM         Model = "gem"
	ModelUKMO        Model = "ukmo"
)

var modelDisplayNames = map[Model]string{
	ModelECMWF:       "ECMWF IFS",
	ModelGFS:         "NOAA GFS",
	ModelICON:        "DWD ICON",
	ModelMeteoFrance: "Météo-France ARPEGE",
	ModelJMA:         "JMA GSM",
	ModelGEM:         "Canadian GEM",
	ModelUKMO:        "UK Met Office",
}

// AllModels returns every supported model in stable order.
func AllModels() []Model {
	return []Model{
		ModelECMWF, ModelGFS, ModelICON, ModelMeteoFrance,
		ModelJMA, ModelGEM, ModelUKMO,
	}
}

// DisplayName returns the human-readable model name for narratives and UIs.
func (m Model) DisplayName() string {
	if n, ok := modelDisplayNames[m]; ok {
		return n
	}
	return string(m)
}

// ParseModel validates a model identifier from user input.
func ParseModel(s string) (Model, error) {
	m := Model(s)
	if _, ok := modelDisplayNames[m]; !ok {
		return "", apperr.Newf(apperr.InvalidInput, "unknown model %q", s)
	}
	return m, nil
}

// GeocodingResult is a resolved location.
type GeocodingResult struct {
	Name        string            `json:"name"`
	Coordinates units.Coordinates `json:"coordinates"`
	Country     string            `json:"country"`
	CountryCode string            `json:"country_code"`
	Region      string            `json:"region,omitempty"`
	Timezone    string            `json:"timezone"`
	Elevation   *float64          `json:"elevation,omitempty"`
	Population  *int64            `json:"population,omitempty"`
}

// WeatherMetrics is one instantaneous set of conditions.
type WeatherMetrics struct {
	Temperature         units.Celsius          `json:"temperature"`
	ApparentTemperature units.Celsius          `json:"apparent_temperature"`
	Humidity            units.Percent          `json:"humidity"`
	Pressure            units.HectoPascals     `json:"pressure"`
	WindSpeed           units.MetersPerSecond  `json:"wind_speed"`
	WindDirection       units.Degrees          `json:"wind_direction"`
	WindGust            *units.MetersPerSecond `json:"wind_gust,omitempty"`
	Precipitation       units.Millimeters      `json:"precipitation"`
	PrecipProbability   units.Probability      `json:"precipitation_probability"`
	CloudCover          units.Percent          `json:"cloud_cover"`
	Visibility          units.Meters           `json:"visibility"`
	UVIndex             units.UVIndex          `json:"uv_index"`
	WeatherCode         units.WMOCode          `json:"weather_code"`
}

// HourlyForecast is one hour of forecast conditions at a UTC instant.
type HourlyForecast struct {
	Timestamp time.Time `json:"timestamp"`
	WeatherMetrics
}

// TemperatureRange is a (min, max) temperature pair.
type TemperatureRange struct {
	Min units.Celsius `json:"min"`
	Max units.Celsius `json:"max"`
}

// ValueRange is a unitless (min, max) pair for metrics whose brand is
// carried by the surrounding field name.
type ValueRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// PrecipitationSummary is a day's precipitation totals.
type PrecipitationSummary struct {
	Total       units.Millimeters `json:"total"`
	Probability units.Probability `json:"probability"`
	Hours       int               `json:"hours"`
}

// WindSummary is a day's wind averages and extremes.
type WindSummary struct {
	Average           units.MetersPerSecond `json:"average"`
	Max               units.MetersPerSecond `json:"max"`
	DominantDirection units.Degrees         `json:"dominant_direction"`
}

// CloudSummary is a day's cloud cover.
type CloudSummary struct {
	Average units.Percent `json:"average"`
	Max     units.Percent `json:"max"`
}

// SunTimes are a day's sunrise, sunset and daylight length.
type SunTimes struct {
	Sunrise         time.Time `json:"sunrise"`
	Sunset          time.Time `json:"sunset"`
	DaylightSeconds float64   `json:"daylight_seconds"`
}

// DailyForecast is one calendar day in the location's timezone. Date is the
// UTC midnight of that calendar day.
type DailyForecast struct {
	Date          time.Time            `json:"date"`
	Temperature   TemperatureRange     `json:"temperature"`
	Apparent      TemperatureRange     `json:"apparent_temperature"`
	Humidity      ValueRange           `json:"humidity"`
	Pressure      ValueRange           `json:"pressure"`
	Precipitation PrecipitationSummary `json:"precipitation"`
	Wind          WindSummary          `json:"wind"`
	Cloud         CloudSummary         `json:"cloud"`
	UVIndexMax    units.UVIndex        `json:"uv_index_max"`
	Sun           SunTimes             `json:"sun"`
	WeatherCode   units.WMOCode        `json:"weather_code"`
	Hourly        []HourlyForecast     `json:"hourly"`
}

// ModelForecast is the normalized output of one model for one location.
type ModelForecast struct {
	Model       Model             `json:"model"`
	Coordinates units.Coordinates `json:"coordinates"`
	GeneratedAt time.Time         `json:"generated_at"`
	ValidFrom   time.Time         `json:"valid_from"`
	ValidTo     time.Time         `json:"valid_to"`
	Hourly      []HourlyForecast  `json:"hourly"`
	Daily       []DailyForecast   `json:"daily"`
}

// MetricStatistics summarizes one metric across the contributing models at
// a single timestep. StdDev is the population standard deviation.
type MetricStatistics struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"stdev"`
	Range  float64 `json:"range"`
}

// ModelConsensus captures per-timestep model agreement.
type ModelConsensus struct {
	AgreementScore    float64          `json:"agreement_score"`
	ModelsInAgreement []Model          `json:"models_in_agreement"`
	OutlierModels     []Model          `json:"outlier_models"`
	Temperature       MetricStatistics `json:"temperature"`
	Precipitation     MetricStatistics `json:"precipitation"`
	WindSpeed         MetricStatistics `json:"wind_speed"`
}

// Level is the qualitative confidence label.
type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
)

// ConfidenceLevel pairs a bounded score with its derived label.
type ConfidenceLevel struct {
	Level Level   `json:"level"`
	Score float64 `json:"score"`
}

// LevelForScore applies the fixed thresholds: high >= 0.8, medium >= 0.5.
func LevelForScore(score float64) Level {
	switch {
	case score >= 0.8:
		return LevelHigh
	case score >= 0.5:
		return LevelMedium
	default:
		return LevelLow
	}
}

// MetricRanges holds the per-metric min/max spread across models at one
// timestep or day.
type MetricRanges struct {
	Temperature   ValueRange `json:"temperature"`
	Precipitation ValueRange `json:"precipitation"`
	WindSpeed     ValueRange `json:"wind_speed"`
	Humidity      ValueRange `json:"humidity"`
}

// AggregatedHourlyForecast is one consensus hour.
type AggregatedHourlyForecast struct {
	Timestamp  time.Time       `json:"timestamp"`
	Metrics    WeatherMetrics  `json:"metrics"`
	Confidence ConfidenceLevel `json:"confidence"`
	Consensus  ModelConsensus  `json:"consensus"`
	Ranges     MetricRanges    `json:"ranges"`
}

// AggregatedDailyForecast is one consensus day.
type AggregatedDailyForecast struct {
	Date       time.Time       `json:"date"`
	Daily      DailyForecast   `json:"daily"`
	Confidence ConfidenceLevel `json:"confidence"`
	Consensus  ModelConsensus  `json:"consensus"`
	Ranges     MetricRanges    `json:"ranges"`
}

// ModelWeight is the weight assigned to one model with its rationale.
type ModelWeight struct {
	Model     Model   `json:"model"`
	Weight    float64 `json:"weight"`
	Rationale string  `json:"rationale"`
}

// AggregatedForecast is the consensus synthesis of N model forecasts.
type AggregatedForecast struct {
	Coordinates    units.Coordinates          `json:"coordinates"`
	GeneratedAt    time.Time                  `json:"generated_at"`
	ValidFrom      time.Time                  `json:"valid_from"`
	ValidTo        time.Time                  `json:"valid_to"`
	Models         []Model                    `json:"models"`
	ModelForecasts []ModelForecast            `json:"model_forecasts"`
	Hourly         []AggregatedHourlyForecast `json:"hourly"`
	Daily          []AggregatedDailyForecast  `json:"daily"`
	Weights        []ModelWeight              `json:"weights"`
	Confidence     ConfidenceLevel            `json:"confidence"`
}

// FetchFailure records one failed model fetch inside a fanout.
type FetchFailure struct {
	Model Model       `json:"model"`
	Kind  apperr.Kind `json:"kind"`
	Err   error       `json:"-"`
}

// FanoutResult is the joint outcome of fetching every requested model.
type FanoutResult struct {
	Forecasts     []ModelForecast `json:"forecasts"`
	Failures      []FetchFailure  `json:"failures"`
	FetchedAt     time.Time       `json:"fetched_at"`
	TotalDuration time.Duration   `json:"total_duration_ms"`
}

// SuccessRate is the fraction of requested models that returned a forecast.
func (r FanoutResult) SuccessRate() float64 {
	total := len(r.Forecasts) + len(r.Failures)
	if total == 0 {
		return 0
	}
	return float64(len(r.Forecasts)) / float64(total)
}
