package openmeteo

import (
	"encoding/json"
	"fmt"
	"time"

	"multimet/internal/apperr"
	"multimet/internal/units"
	"multimet/internal/weather"
)

// The upstream payload is column-oriented: parallel arrays keyed by variable
// name with a shared time array. Each variable decodes into a typed column
// and rows are built by zipping on index, which keeps misaligned columns
// impossible by construction. Cells may be JSON null, hence the pointers.

type forecastResponse struct {
	Latitude         float64       `json:"latitude"`
	Longitude        float64       `json:"longitude"`
	Timezone         string        `json:"timezone"`
	UTCOffsetSeconds int           `json:"utc_offset_seconds"`
	Elevation        float64       `json:"elevation"`
	Error            bool          `json:"error"`
	Reason           string        `json:"reason"`
	Hourly           hourlyColumns `json:"hourly"`
	Daily            dailyColumns  `json:"daily"`
}

type hourlyColumns struct {
	Time              []string   `json:"time"`
	Temperature       []*float64 `json:"temperature_2m"`
	Apparent          []*float64 `json:"apparent_temperature"`
	Humidity          []*float64 `json:"relative_humidity_2m"`
	Pressure          []*float64 `json:"surface_pressure"`
	WindSpeed         []*float64 `json:"wind_speed_10m"`
	WindDirection     []*float64 `json:"wind_direction_10m"`
	WindGusts         []*float64 `json:"wind_gusts_10m"`
	Precipitation     []*float64 `json:"precipitation"`
	PrecipProbability []*float64 `json:"precipitation_probability"`
	CloudCover        []*float64 `json:"cloud_cover"`
	Visibility        []*float64 `json:"visibility"`
	UVIndex           []*float64 `json:"uv_index"`
	WeatherCode       []*float64 `json:"weather_code"`
}

type dailyColumns struct {
	Time              []string   `json:"time"`
	TempMax           []*float64 `json:"temperature_2m_max"`
	TempMin           []*float64 `json:"temperature_2m_min"`
	ApparentMax       []*float64 `json:"apparent_temperature_max"`
	ApparentMin       []*float64 `json:"apparent_temperature_min"`
	PrecipSum         []*float64 `json:"precipitation_sum"`
	PrecipProbMax     []*float64 `json:"precipitation_probability_max"`
	PrecipHours       []*float64 `json:"precipitation_hours"`
	WindSpeedMax      []*float64 `json:"wind_speed_10m_max"`
	WindGustsMax      []*float64 `json:"wind_gusts_10m_max"`
	WindDirDominant   []*float64 `json:"wind_direction_10m_dominant"`
	Sunrise           []string   `json:"sunrise"`
	Sunset            []string   `json:"sunset"`
	DaylightDuration  []*float64 `json:"daylight_duration"`
	UVIndexMax        []*float64 `json:"uv_index_max"`
	WeatherCode       []*float64 `json:"weather_code"`
}

// Upstream local wall-clock layouts.
const (
	wallClockLayout = "2006-01-02T15:04"
	dateLayout      = "2006-01-02"
)

// parseForecast normalizes one model response into a ModelForecast.
func parseForecast(model weather.Model, coords units.Coordinates, body []byte, now time.Time) (weather.ModelForecast, error) {
	var resp forecastResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return weather.ModelForecast{}, apperr.Wrap(apperr.ApiInvalidResponse, "upstream returned malformed JSON", err)
	}
	if resp.Error {
		return weather.ModelForecast{}, apperr.Newf(apperr.ApiInvalidResponse, "upstream rejected request: %s", resp.Reason)
	}
	if len(resp.Hourly.Time) == 0 {
		return weather.ModelForecast{}, apperr.New(apperr.ApiInvalidResponse, "upstream returned no hourly data")
	}

	loc := responseLocation(resp)

	hourly, err := transposeHourly(resp.Hourly, loc)
	if err != nil {
		return weather.ModelForecast{}, err
	}
	if len(hourly) == 0 {
		return weather.ModelForecast{}, apperr.New(apperr.ApiInvalidResponse, "no usable hourly rows in upstream response")
	}

	daily, err := transposeDaily(resp.Daily, hourly, loc)
	if err != nil {
		return weather.ModelForecast{}, err
	}

	return weather.ModelForecast{
		Model:       model,
		Coordinates: coords,
		GeneratedAt: now.UTC(),
		ValidFrom:   hourly[0].Timestamp,
		ValidTo:     hourly[len(hourly)-1].Timestamp.Add(time.Hour),
		Hourly:      hourly,
		Daily:       daily,
	}, nil
}

// responseLocation loads the IANA zone named in the response, falling back
// to the reported fixed offset when the zone database lacks it.
func responseLocation(resp forecastResponse) *time.Location {
	if resp.Timezone != "" {
		if loc, err := time.LoadLocation(resp.Timezone); err == nil {
			return loc
		}
	}
	return time.FixedZone("upstream", resp.UTCOffsetSeconds)
}

func transposeHourly(cols hourlyColumns, loc *time.Location) ([]weather.HourlyForecast, error) {
	n := len(cols.Time)

	// Temperatures fill from the nearest populated cell; a row with no
	// reachable temperature is dropped entirely.
	temps := fillNearest(cols.Temperature, n)
	apparents := fillNearest(cols.Apparent, n)

	rows := make([]weather.HourlyForecast, 0, n)
	for i := 0; i < n; i++ {
		ts, err := time.ParseInLocation(wallClockLayout, cols.Time[i], loc)
		if err != nil {
			return nil, apperr.Wrap(apperr.ApiInvalidResponse, fmt.Sprintf("bad hourly timestamp %q", cols.Time[i]), err)
		}
		if temps[i] == nil {
			continue
		}

		m := weather.WeatherMetrics{
			Temperature:         units.Celsius(*temps[i]),
			ApparentTemperature: units.Celsius(valueOr(apparents, i, *temps[i])),
			Humidity:            units.Percent(clamp(cell(cols.Humidity, i, 0), 0, 100)),
			Pressure:            units.HectoPascals(cell(cols.Pressure, i, 0)),
			WindSpeed:           kmhToMS(cell(cols.WindSpeed, i, 0)),
			WindDirection:       units.Degrees(cell(cols.WindDirection, i, 0)).Normalize(),
			Precipitation:       units.Millimeters(clamp(cell(cols.Precipitation, i, 0), 0, 1e6)),
			PrecipProbability:   units.Probability(clamp(cell(cols.PrecipProbability, i, 0)/100, 0, 1)),
			CloudCover:          units.Percent(clamp(cell(cols.CloudCover, i, 0), 0, 100)),
			Visibility:          units.Meters(cell(cols.Visibility, i, 0)),
			UVIndex:             units.UVIndex(clamp(cell(cols.UVIndex, i, 0), 0, 1e3)),
			WeatherCode:         units.WMOCode(int(cell(cols.WeatherCode, i, 0))),
		}
		if i < len(cols.WindGusts) && cols.WindGusts[i] != nil {
			gust := kmhToMS(*cols.WindGusts[i])
			m.WindGust = &gust
		}

		rows = append(rows, weather.HourlyForecast{
			Timestamp:      ts.UTC(),
			WeatherMetrics: m,
		})
	}
	return rows, nil
}

func transposeDaily(cols dailyColumns, hourly []weather.HourlyForecast, loc *time.Location) ([]weather.DailyForecast, error) {
	// Bucket hourly rows by their calendar date in the daily timezone so
	// each day carries its own slices.
	hoursByDate := make(map[string][]weather.HourlyForecast)
	for _, h := range hourly {
		key := h.Timestamp.In(loc).Format(dateLayout)
		hoursByDate[key] = append(hoursByDate[key], h)
	}

	days := make([]weather.DailyForecast, 0, len(cols.Time))
	for i, dateStr := range cols.Time {
		date, err := time.Parse(dateLayout, dateStr)
		if err != nil {
			return nil, apperr.Wrap(apperr.ApiInvalidResponse, fmt.Sprintf("bad daily date %q", dateStr), err)
		}

		d := weather.DailyForecast{
			Date: date,
			Temperature: weather.TemperatureRange{
				Min: units.Celsius(cell(cols.TempMin, i, 0)),
				Max: units.Celsius(cell(cols.TempMax, i, 0)),
			},
			Apparent: weather.TemperatureRange{
				Min: units.Celsius(cell(cols.ApparentMin, i, 0)),
				Max: units.Celsius(cell(cols.ApparentMax, i, 0)),
			},
			Precipitation: weather.PrecipitationSummary{
				Total:       units.Millimeters(clamp(cell(cols.PrecipSum, i, 0), 0, 1e6)),
				Probability: units.Probability(clamp(cell(cols.PrecipProbMax, i, 0)/100, 0, 1)),
				Hours:       int(cell(cols.PrecipHours, i, 0)),
			},
			Wind: weather.WindSummary{
				Max:               kmhToMS(cell(cols.WindSpeedMax, i, 0)),
				DominantDirection: units.Degrees(cell(cols.WindDirDominant, i, 0)).Normalize(),
			},
			UVIndexMax:  units.UVIndex(clamp(cell(cols.UVIndexMax, i, 0), 0, 1e3)),
			WeatherCode: units.WMOCode(int(cell(cols.WeatherCode, i, 0))),
			Hourly:      hoursByDate[dateStr],
		}

		if i < len(cols.Sunrise) {
			if t, err := time.ParseInLocation(wallClockLayout, cols.Sunrise[i], loc); err == nil {
				d.Sun.Sunrise = t.UTC()
			}
		}
		if i < len(cols.Sunset) {
			if t, err := time.ParseInLocation(wallClockLayout, cols.Sunset[i], loc); err == nil {
				d.Sun.Sunset = t.UTC()
			}
		}
		d.Sun.DaylightSeconds = cell(cols.DaylightDuration, i, 0)

		// Ranges and averages the daily payload does not carry come from
		// the bound hourly slices.
		fillDailyFromHourly(&d)

		days = append(days, d)
	}
	return days, nil
}

// fillDailyFromHourly derives humidity/pressure/cloud ranges and wind
// averages from a day's hourly slices.
func fillDailyFromHourly(d *weather.DailyForecast) {
	if len(d.Hourly) == 0 {
		return
	}
	var (
		humMin, humMax   = 101.0, -1.0
		prsMin, prsMax   = 2000.0, 0.0
		cloudSum, cldMax float64
		windSum          float64
	)
	for _, h := range d.Hourly {
		hum := float64(h.Humidity)
		if hum < humMin {
			humMin = hum
		}
		if hum > humMax {
			humMax = hum
		}
		prs := float64(h.Pressure)
		if prs < prsMin {
			prsMin = prs
		}
		if prs > prsMax {
			prsMax = prs
		}
		cld := float64(h.CloudCover)
		cloudSum += cld
		if cld > cldMax {
			cldMax = cld
		}
		windSum += float64(h.WindSpeed)
	}
	n := float64(len(d.Hourly))
	d.Humidity = weather.ValueRange{Min: humMin, Max: humMax}
	d.Pressure = weather.ValueRange{Min: prsMin, Max: prsMax}
	d.Cloud = weather.CloudSummary{
		Average: units.Percent(cloudSum / n),
		Max:     units.Percent(cldMax),
	}
	d.Wind.Average = units.MetersPerSecond(windSum / n)
}

// cell reads column col at index i, substituting def for missing or null
// cells. Missing precipitation and wind default to zero per the
// normalization rules.
func cell(col []*float64, i int, def float64) float64 {
	if i >= len(col) || col[i] == nil {
		return def
	}
	return *col[i]
}

// fillNearest returns a copy of col, length n, with nil cells replaced by
// the nearest populated value in either direction. Cells stay nil only when
// the whole column is empty.
func fillNearest(col []*float64, n int) []*float64 {
	out := make([]*float64, n)
	for i := 0; i < n && i < len(col); i++ {
		out[i] = col[i]
	}
	for i := 0; i < n; i++ {
		if out[i] != nil {
			continue
		}
		for dist := 1; dist < n; dist++ {
			if j := i - dist; j >= 0 && j < len(col) && col[j] != nil {
				out[i] = col[j]
				break
			}
			if j := i + dist; j < len(col) && col[j] != nil {
				out[i] = col[j]
				break
			}
		}
	}
	return out
}

func valueOr(col []*float64, i int, fallback float64) float64 {
	if i < len(col) && col[i] != nil {
		return *col[i]
	}
	return fallback
}

// kmhToMS converts the upstream's default wind unit to the engine's m/s.
func kmhToMS(v float64) units.MetersPerSecond {
	return units.MetersPerSecond(v / 3.6)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
