package openmeteo

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multimet/internal/apperr"
	"multimet/internal/units"
	"multimet/internal/weather"
)

var testCoords = func() units.Coordinates {
	c, _ := units.NewCoordinates(60.17, 24.94)
	return c
}()

// fixturePayload builds a minimal column-oriented upstream response. mutate
// tweaks the payload before marshalling.
func fixturePayload(t *testing.T, hours, days int, mutate func(map[string]any)) []byte {
	t.Helper()

	hourTimes := make([]string, hours)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := range hourTimes {
		hourTimes[i] = base.Add(time.Duration(i) * time.Hour).Format("2006-01-02T15:04")
	}
	col := func(v float64) []any {
		out := make([]any, hours)
		for i := range out {
			out[i] = v
		}
		return out
	}

	dayTimes := make([]string, days)
	sunrises := make([]string, days)
	sunsets := make([]string, days)
	for i := range dayTimes {
		d := base.AddDate(0, 0, i)
		dayTimes[i] = d.Format("2006-01-02")
		sunrises[i] = d.Add(4 * time.Hour).Format("2006-01-02T15:04")
		sunsets[i] = d.Add(21 * time.Hour).Format("2006-01-02T15:04")
	}
	dcol := func(v float64) []any {
		out := make([]any, days)
		for i := range out {
			out[i] = v
		}
		return out
	}

	payload := map[string]any{
		"latitude":           60.17,
		"longitude":          24.94,
		"timezone":           "UTC",
		"utc_offset_seconds": 0,
		"hourly": map[string]any{
			"time":                      hourTimes,
			"temperature_2m":            col(15),
			"apparent_temperature":      col(13),
			"relative_humidity_2m":      col(70),
			"surface_pressure":          col(1013),
			"wind_speed_10m":            col(36), // km/h upstream
			"wind_direction_10m":        col(180),
			"wind_gusts_10m":            col(54),
			"precipitation":             col(0),
			"precipitation_probability": col(50),
			"cloud_cover":               col(25),
			"visibility":                col(20000),
			"uv_index":                  col(3),
			"weather_code":              col(2),
		},
		"daily": map[string]any{
			"time":                          dayTimes,
			"temperature_2m_max":            dcol(18),
			"temperature_2m_min":            dcol(9),
			"apparent_temperature_max":      dcol(16),
			"apparent_temperature_min":      dcol(7),
			"precipitation_sum":             dcol(1.2),
			"precipitation_probability_max": dcol(40),
			"precipitation_hours":           dcol(2),
			"wind_speed_10m_max":            dcol(45),
			"wind_gusts_10m_max":            dcol(72),
			"wind_direction_10m_dominant":   dcol(200),
			"sunrise":                       sunrises,
			"sunset":                        sunsets,
			"daylight_duration":             dcol(61200),
			"uv_index_max":                  dcol(4),
			"weather_code":                  dcol(3),
		},
	}
	if mutate != nil {
		mutate(payload)
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return body
}

func TestParseForecastNormalizesUnits(t *testing.T) {
	body := fixturePayload(t, 24, 1, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	fc, err := parseForecast(weather.ModelGFS, testCoords, body, now)
	require.NoError(t, err)

	assert.Equal(t, weather.ModelGFS, fc.Model)
	assert.Equal(t, now, fc.GeneratedAt)
	require.Len(t, fc.Hourly, 24)
	require.Len(t, fc.Daily, 1)

	h := fc.Hourly[0]
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), h.Timestamp)
	assert.InDelta(t, 15, float64(h.Temperature), 1e-9)
	// 36 km/h upstream becomes 10 m/s.
	assert.InDelta(t, 10, float64(h.WindSpeed), 1e-9)
	require.NotNil(t, h.WindGust)
	assert.InDelta(t, 15, float64(*h.WindGust), 1e-9)
	// Probability percentages become fractions.
	assert.InDelta(t, 0.5, float64(h.PrecipProbability), 1e-9)

	d := fc.Daily[0]
	assert.InDelta(t, 18, float64(d.Temperature.Max), 1e-9)
	assert.InDelta(t, 12.5, float64(d.Wind.Max), 1e-9)
	assert.InDelta(t, 0.4, float64(d.Precipitation.Probability), 1e-9)
	assert.Equal(t, 24, len(d.Hourly))
	// Humidity range is derived from the day's hourly rows.
	assert.InDelta(t, 70, d.Humidity.Min, 1e-9)
	assert.InDelta(t, 70, d.Humidity.Max, 1e-9)

	assert.Equal(t, fc.Hourly[0].Timestamp, fc.ValidFrom)
	assert.Equal(t, fc.Hourly[23].Timestamp.Add(time.Hour), fc.ValidTo)
}

func TestParseForecastFillsMissingTemperature(t *testing.T) {
	body := fixturePayload(t, 3, 1, func(p map[string]any) {
		hourly := p["hourly"].(map[string]any)
		hourly["temperature_2m"] = []any{14.0, nil, 16.0}
	})

	fc, err := parseForecast(weather.ModelECMWF, testCoords, body, time.Now())
	require.NoError(t, err)
	require.Len(t, fc.Hourly, 3)
	// The gap fills from the nearest populated hour.
	assert.InDelta(t, 14, float64(fc.Hourly[1].Temperature), 1e-9)
}

func TestParseForecastDefaultsMissingPrecipitation(t *testing.T) {
	body := fixturePayload(t, 2, 1, func(p map[string]any) {
		hourly := p["hourly"].(map[string]any)
		hourly["precipitation"] = []any{nil, nil}
	})

	fc, err := parseForecast(weather.ModelECMWF, testCoords, body, time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 0, float64(fc.Hourly[0].Precipitation), 1e-9)
}

func TestParseForecastUpstreamError(t *testing.T) {
	body := []byte(`{"error": true, "reason": "Latitude must be in range"}`)

	_, err := parseForecast(weather.ModelGFS, testCoords, body, time.Now())
	require.Error(t, err)
	assert.Equal(t, apperr.ApiInvalidResponse, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "Latitude must be in range")
}

func TestParseForecastMalformedJSON(t *testing.T) {
	_, err := parseForecast(weather.ModelGFS, testCoords, []byte("<html>"), time.Now())
	require.Error(t, err)
	assert.Equal(t, apperr.ApiInvalidResponse, apperr.KindOf(err))
}

func TestParseForecastNoHourlyData(t *testing.T) {
	_, err := parseForecast(weather.ModelGFS, testCoords, []byte(`{"hourly": {"time": []}}`), time.Now())
	require.Error(t, err)
	assert.Equal(t, apperr.ApiInvalidResponse, apperr.KindOf(err))
}

func TestParseForecastBadTimestamp(t *testing.T) {
	body := fixturePayload(t, 2, 1, func(p map[string]any) {
		hourly := p["hourly"].(map[string]any)
		hourly["time"] = []any{"2025-06-01T00:00", "not-a-time"}
	})

	_, err := parseForecast(weather.ModelGFS, testCoords, body, time.Now())
	require.Error(t, err)
	assert.Equal(t, apperr.ApiInvalidResponse, apperr.KindOf(err))
}

func TestParseForecastLocalTimezoneConversion(t *testing.T) {
	body := fixturePayload(t, 2, 1, func(p map[string]any) {
		p["timezone"] = "bogus/zone"
		p["utc_offset_seconds"] = 7200
	})

	fc, err := parseForecast(weather.ModelGFS, testCoords, body, time.Now())
	require.NoError(t, err)
	// Wall-clock 00:00 at UTC+2 is 22:00 UTC the previous day.
	assert.Equal(t, time.Date(2025, 5, 31, 22, 0, 0, 0, time.UTC), fc.Hourly[0].Timestamp)
}

func TestHourlyVariableListMatchesColumns(t *testing.T) {
	// Every requested variable must have a decoding column, otherwise data
	// silently drops on the floor.
	var cols map[string]json.RawMessage
	body := fixturePayload(t, 1, 1, nil)
	var resp struct {
		Hourly json.RawMessage `json:"hourly"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	require.NoError(t, json.Unmarshal(resp.Hourly, &cols))
	for _, v := range HourlyVariables() {
		_, ok := cols[v]
		assert.True(t, ok, fmt.Sprintf("hourly variable %s missing from fixture", v))
	}
}

func TestDailyVariableListMatchesColumns(t *testing.T) {
	var cols map[string]json.RawMessage
	body := fixturePayload(t, 1, 1, nil)
	var resp struct {
		Daily json.RawMessage `json:"daily"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	require.NoError(t, json.Unmarshal(resp.Daily, &cols))
	for _, v := range DailyVariables() {
		_, ok := cols[v]
		assert.True(t, ok, fmt.Sprintf("daily variable %s missing from fixture", v))
	}
}
