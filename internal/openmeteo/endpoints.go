// Package openmeteo talks to the Open-Meteo forecast and geocoding APIs.
// It is the only package that knows upstream URLs, variable names and the
// column-oriented payload shape; everything leaves here as normalized
// weather.ModelForecast values.
package openmeteo

import (
	"multimet/internal/apperr"
	"multimet/internal/weather"
)

const (
	// DefaultForecastBaseURL serves the per-model forecast endpoints.
	DefaultForecastBaseURL = "https://api.open-meteo.com"
	// DefaultGeocodingBaseURL serves the location search endpoint.
	DefaultGeocodingBaseURL = "https://geocoding-api.open-meteo.com"
)

// Endpoint maps a model to its upstream path. Most models have a dedicated
// path; UKMO is multiplexed behind the generic forecast endpoint and needs
// an explicit models= selector.
type Endpoint struct {
	Path     string
	Selector string
}

var endpoints = map[weather.Model]Endpoint{
	weather.ModelECMWF:       {Path: "/v1/ecmwf"},
	weather.ModelGFS:         {Path: "/v1/gfs"},
	weather.ModelICON:        {Path: "/v1/dwd-icon"},
	weather.ModelMeteoFrance: {Path: "/v1/meteofrance"},
	weather.ModelJMA:         {Path: "/v1/jma"},
	weather.ModelGEM:         {Path: "/v1/gem"},
	weather.ModelUKMO:        {Path: "/v1/forecast", Selector: "ukmo_seamless"},
}

// ResolveEndpoint returns the upstream endpoint for a model.
func ResolveEndpoint(m weather.Model) (Endpoint, error) {
	ep, ok := endpoints[m]
	if !ok {
		return Endpoint{}, apperr.Newf(apperr.InvalidInput, "no endpoint for model %q", m)
	}
	return ep, nil
}

// Variable lists are fixed across models so every ModelForecast has the
// same schema and the aggregator can join them without gaps.

var hourlyVariables = []string{
	"temperature_2m",
	"apparent_temperature",
	"relative_humidity_2m",
	"surface_pressure",
	"wind_speed_10m",
	"wind_direction_10m",
	"wind_gusts_10m",
	"precipitation",
	"precipitation_probability",
	"cloud_cover",
	"visibility",
	"uv_index",
	"weather_code",
}

var dailyVariables = []string{
	"temperature_2m_max",
	"temperature_2m_min",
	"apparent_temperature_max",
	"apparent_temperature_min",
	"precipitation_sum",
	"precipitation_probability_max",
	"precipitation_hours",
	"wind_speed_10m_max",
	"wind_gusts_10m_max",
	"wind_direction_10m_dominant",
	"sunrise",
	"sunset",
	"daylight_duration",
	"uv_index_max",
	"weather_code",
}

// HourlyVariables returns the canonical hourly variable list.
func HourlyVariables() []string {
	out := make([]string, len(hourlyVariables))
	copy(out, hourlyVariables)
	return out
}

// DailyVariables returns the canonical daily variable list.
func DailyVariables() []string {
	out := make([]string, len(dailyVariables))
	copy(out, dailyVariables)
	return out
}
