// Package aggregate combines per-model forecasts into a single consensus
// forecast on a shared time grid, with per-timestep statistics, outlier
// classification and model weights. Aggregation is pure and deterministic:
// the same set of input forecasts always yields the same consensus,
// regardless of fetch completion order.
package aggregate

import (
	"fmt"
	"slices"
	"time"

	"multimet/internal/apperr"
	"multimet/internal/confidence"
	"multimet/internal/units"
	"multimet/internal/weather"
)

const (
	// maxCoordSpreadKM is how far apart contributing forecasts may be.
	maxCoordSpreadKM = 1.0
	// outlierZ is the leave-one-out z-score beyond which a model value is
	// an outlier at a timestep.
	outlierZ = 2.0
	// overallOutlierFraction is the share of aligned timesteps a model
	// must be an outlier on to be flagged for the whole forecast.
	overallOutlierFraction = 0.25
	// wetThresholdMM is the precipitation amount above which a model
	// counts as predicting rain for the ensemble probability.
	wetThresholdMM = 0.1
)

var timeNow = time.Now

// metric names used for outlier bookkeeping.
const (
	metricTemperature   = "temperature"
	metricPrecipitation = "precipitation"
	metricWind          = "wind"
)

// Aggregate combines the given model forecasts. All forecasts must target
// the same location (within 1 km); the consensus grid is the intersection
// of their time grids. Input order is preserved in Models, ModelForecasts
// and Weights.
func Aggregate(forecasts []weather.ModelForecast) (weather.AggregatedForecast, error) {
	if len(forecasts) == 0 {
		return weather.AggregatedForecast{}, apperr.New(apperr.InvalidInput, "at least one model forecast is required")
	}

	base := forecasts[0].Coordinates
	for _, f := range forecasts[1:] {
		if d := base.DistanceKM(f.Coordinates); d > maxCoordSpreadKM {
			return weather.AggregatedForecast{}, apperr.Newf(apperr.InvalidInput,
				"model forecasts disagree on location: %s is %.1f km from %s", f.Model, d, forecasts[0].Model)
		}
	}

	models := make([]weather.Model, len(forecasts))
	for i, f := range forecasts {
		models[i] = f.Model
	}

	hourlyGrid, hourlyRows := alignHourly(forecasts)
	dailyGrid, dailyRows := alignDaily(forecasts)
	if len(hourlyGrid) == 0 && len(dailyGrid) == 0 {
		return weather.AggregatedForecast{}, apperr.New(apperr.InvalidInput, "model forecast time grids do not overlap")
	}

	counts := newOutlierCounts(models)

	var (
		hourly   []weather.AggregatedHourlyForecast
		daily    []weather.AggregatedDailyForecast
		scoreSum float64
		scoreN   int
	)

	var horizonStart time.Time
	if len(hourlyGrid) > 0 {
		horizonStart = hourlyGrid[0]
	} else {
		horizonStart = dailyGrid[0]
	}

	for _, ts := range hourlyGrid {
		agg := consensusHour(ts, hourlyRows[ts.Unix()], models, daysAhead(horizonStart, ts), counts)
		hourly = append(hourly, agg)
		scoreSum += agg.Confidence.Score
		scoreN++
	}

	for _, date := range dailyGrid {
		agg := consensusDay(date, dailyRows[date.Unix()], models, hourly, daysAhead(horizonStart, date), counts)
		daily = append(daily, agg)
		scoreSum += agg.Confidence.Score
		scoreN++
	}

	steps := len(hourlyGrid) + len(dailyGrid)
	overallOutliers := counts.overall(steps)
	weights := assignWeights(models, overallOutliers)

	overallScore := scoreSum / float64(scoreN)
	validFrom, validTo := validityWindow(hourlyGrid, dailyGrid)

	return weather.AggregatedForecast{
		Coordinates:    base,
		GeneratedAt:    timeNow().UTC(),
		ValidFrom:      validFrom,
		ValidTo:        validTo,
		Models:         models,
		ModelForecasts: forecasts,
		Hourly:         hourly,
		Daily:          daily,
		Weights:        weights,
		Confidence: weather.ConfidenceLevel{
			Level: weather.LevelForScore(overallScore),
			Score: overallScore,
		},
	}, nil
}

// OverallOutliers returns the models flagged as outliers for the whole
// forecast, in model order. Used by the compare surface for highlighting.
func OverallOutliers(agg weather.AggregatedForecast) []weather.Model {
	halved := make(map[weather.Model]bool)
	for _, w := range agg.Weights {
		if w.Rationale != baselineRationale {
			halved[w.Model] = true
		}
	}
	var out []weather.Model
	for _, m := range agg.Models {
		if halved[m] {
			out = append(out, m)
		}
	}
	return out
}

func daysAhead(start, ts time.Time) int {
	if ts.Before(start) {
		return 0
	}
	return int(ts.Sub(start).Hours() / 24)
}

func validityWindow(hourlyGrid, dailyGrid []time.Time) (time.Time, time.Time) {
	if len(hourlyGrid) > 0 {
		return hourlyGrid[0], hourlyGrid[len(hourlyGrid)-1].Add(time.Hour)
	}
	return dailyGrid[0], dailyGrid[len(dailyGrid)-1].Add(24 * time.Hour)
}

// alignHourly builds the inner join of hourly timestamps: only instants
// present in every forecast survive, sorted ascending.
func alignHourly(forecasts []weather.ModelForecast) ([]time.Time, map[int64][]weather.HourlyForecast) {
	present := make(map[int64]int)
	byTime := make(map[int64][]weather.HourlyForecast)
	for fi, f := range forecasts {
		for _, h := range f.Hourly {
			key := h.Timestamp.Unix()
			if present[key] == fi {
				present[key]++
				byTime[key] = append(byTime[key], h)
			}
		}
	}

	var grid []time.Time
	for key, count := range present {
		if count == len(forecasts) {
			grid = append(grid, time.Unix(key, 0).UTC())
		} else {
			delete(byTime, key)
		}
	}
	slices.SortFunc(grid, func(a, b time.Time) int { return a.Compare(b) })
	return grid, byTime
}

func alignDaily(forecasts []weather.ModelForecast) ([]time.Time, map[int64][]weather.DailyForecast) {
	present := make(map[int64]int)
	byDate := make(map[int64][]weather.DailyForecast)
	for fi, f := range forecasts {
		for _, d := range f.Daily {
			key := d.Date.Unix()
			if present[key] == fi {
				present[key]++
				byDate[key] = append(byDate[key], d)
			}
		}
	}

	var grid []time.Time
	for key, count := range present {
		if count == len(forecasts) {
			grid = append(grid, time.Unix(key, 0).UTC())
		} else {
			delete(byDate, key)
		}
	}
	slices.SortFunc(grid, func(a, b time.Time) int { return a.Compare(b) })
	return grid, byDate
}

// consensusHour reduces one aligned hour across models.
func consensusHour(ts time.Time, rows []weather.HourlyForecast, models []weather.Model, days int, counts *outlierCounts) weather.AggregatedHourlyForecast {
	n := len(rows)
	temps := make([]float64, n)
	apparents := make([]float64, n)
	precips := make([]float64, n)
	winds := make([]float64, n)
	dirs := make([]float64, n)
	hums := make([]float64, n)
	pressures := make([]float64, n)
	clouds := make([]float64, n)
	visibilities := make([]float64, n)
	uvs := make([]float64, n)
	codes := make([]int, n)
	var gusts []float64

	reportedProbs := make([]float64, n)

	for i, r := range rows {
		temps[i] = float64(r.Temperature)
		apparents[i] = float64(r.ApparentTemperature)
		precips[i] = float64(r.Precipitation)
		reportedProbs[i] = float64(r.PrecipProbability)
		winds[i] = float64(r.WindSpeed)
		dirs[i] = float64(r.WindDirection)
		hums[i] = float64(r.Humidity)
		pressures[i] = float64(r.Pressure)
		clouds[i] = float64(r.CloudCover)
		visibilities[i] = float64(r.Visibility)
		uvs[i] = float64(r.UVIndex)
		codes[i] = int(r.WeatherCode)
		if r.WindGust != nil {
			gusts = append(gusts, float64(*r.WindGust))
		}
	}

	ensembleProb := ensembleProbability(precips)
	cons, ranges := classify(models, temps, precips, winds, hums, counts)

	metrics := weather.WeatherMetrics{
		Temperature:         units.Celsius(TrimmedMean(temps)),
		ApparentTemperature: units.Celsius(TrimmedMean(apparents)),
		Humidity:            units.Percent(Mean(hums)),
		Pressure:            units.HectoPascals(Mean(pressures)),
		WindSpeed:           units.MetersPerSecond(Median(winds)),
		WindDirection:       units.Degrees(CircularMean(dirs)),
		Precipitation:       units.Millimeters(Mean(precips)),
		PrecipProbability:   units.Probability(consensusProbability(ensembleProb, reportedProbs)),
		CloudCover:          units.Percent(Mean(clouds)),
		Visibility:          units.Meters(Mean(visibilities)),
		UVIndex:             units.UVIndex(Max(uvs)),
		WeatherCode:         units.WMOCode(pluralityCode(codes)),
	}
	if len(gusts) > 0 {
		gust := units.MetersPerSecond(Max(gusts))
		metrics.WindGust = &gust
	}

	conf := confidence.Score(confidence.FromConsensus(cons, ranges, ensembleProb, days))

	return weather.AggregatedHourlyForecast{
		Timestamp:  ts,
		Metrics:    metrics,
		Confidence: conf.Confidence(),
		Consensus:  cons,
		Ranges:     ranges,
	}
}

// consensusDay reduces one aligned calendar day across models.
func consensusDay(date time.Time, rows []weather.DailyForecast, models []weather.Model, hourly []weather.AggregatedHourlyForecast, days int, counts *outlierCounts) weather.AggregatedDailyForecast {
	n := len(rows)
	tempMaxes := make([]float64, n)
	tempMins := make([]float64, n)
	appMaxes := make([]float64, n)
	appMins := make([]float64, n)
	precipTotals := make([]float64, n)
	precipProbs := make([]float64, n)
	precipHours := make([]float64, n)
	windAvgs := make([]float64, n)
	windMaxes := make([]float64, n)
	dirs := make([]float64, n)
	cloudAvgs := make([]float64, n)
	cloudMaxes := make([]float64, n)
	uvs := make([]float64, n)
	humMins := make([]float64, n)
	humMaxes := make([]float64, n)
	prsMins := make([]float64, n)
	prsMaxes := make([]float64, n)
	daylights := make([]float64, n)
	sunrises := make([]float64, n)
	sunsets := make([]float64, n)
	codes := make([]int, n)

	for i, r := range rows {
		tempMaxes[i] = float64(r.Temperature.Max)
		tempMins[i] = float64(r.Temperature.Min)
		appMaxes[i] = float64(r.Apparent.Max)
		appMins[i] = float64(r.Apparent.Min)
		precipTotals[i] = float64(r.Precipitation.Total)
		precipProbs[i] = float64(r.Precipitation.Probability)
		precipHours[i] = float64(r.Precipitation.Hours)
		windAvgs[i] = float64(r.Wind.Average)
		windMaxes[i] = float64(r.Wind.Max)
		dirs[i] = float64(r.Wind.DominantDirection)
		cloudAvgs[i] = float64(r.Cloud.Average)
		cloudMaxes[i] = float64(r.Cloud.Max)
		uvs[i] = float64(r.UVIndexMax)
		humMins[i] = r.Humidity.Min
		humMaxes[i] = r.Humidity.Max
		prsMins[i] = r.Pressure.Min
		prsMaxes[i] = r.Pressure.Max
		daylights[i] = r.Sun.DaylightSeconds
		sunrises[i] = float64(r.Sun.Sunrise.Unix())
		sunsets[i] = float64(r.Sun.Sunset.Unix())
		codes[i] = int(r.WeatherCode)
	}

	ensembleProb := ensembleProbability(precipTotals)
	cons, ranges := classify(models, tempMaxes, precipTotals, windMaxes, humMaxes, counts)

	day := weather.DailyForecast{
		Date: date,
		Temperature: weather.TemperatureRange{
			Min: units.Celsius(TrimmedMean(tempMins)),
			Max: units.Celsius(TrimmedMean(tempMaxes)),
		},
		Apparent: weather.TemperatureRange{
			Min: units.Celsius(TrimmedMean(appMins)),
			Max: units.Celsius(TrimmedMean(appMaxes)),
		},
		Humidity: weather.ValueRange{Min: Mean(humMins), Max: Mean(humMaxes)},
		Pressure: weather.ValueRange{Min: Mean(prsMins), Max: Mean(prsMaxes)},
		Precipitation: weather.PrecipitationSummary{
			Total:       units.Millimeters(Mean(precipTotals)),
			Probability: units.Probability(consensusProbability(ensembleProb, precipProbs)),
			Hours:       int(Mean(precipHours) + 0.5),
		},
		Wind: weather.WindSummary{
			Average:           units.MetersPerSecond(Median(windAvgs)),
			Max:               units.MetersPerSecond(Max(windMaxes)),
			DominantDirection: units.Degrees(CircularMean(dirs)),
		},
		Cloud: weather.CloudSummary{
			Average: units.Percent(Mean(cloudAvgs)),
			Max:     units.Percent(Max(cloudMaxes)),
		},
		UVIndexMax: units.UVIndex(Max(uvs)),
		Sun: weather.SunTimes{
			Sunrise:         time.Unix(int64(Mean(sunrises)), 0).UTC(),
			Sunset:          time.Unix(int64(Mean(sunsets)), 0).UTC(),
			DaylightSeconds: Mean(daylights),
		},
		WeatherCode: units.WMOCode(pluralityCode(codes)),
		Hourly:      hoursOfDate(hourly, date),
	}

	conf := confidence.Score(confidence.FromConsensus(cons, ranges, ensembleProb, days))

	return weather.AggregatedDailyForecast{
		Date:       date,
		Daily:      day,
		Confidence: conf.Confidence(),
		Consensus:  cons,
		Ranges:     ranges,
	}
}

// hoursOfDate selects the consensus hours falling on a UTC calendar date.
func hoursOfDate(hourly []weather.AggregatedHourlyForecast, date time.Time) []weather.HourlyForecast {
	var out []weather.HourlyForecast
	y, m, d := date.Date()
	for _, h := range hourly {
		hy, hm, hd := h.Timestamp.Date()
		if hy == y && hm == m && hd == d {
			out = append(out, weather.HourlyForecast{
				Timestamp:      h.Timestamp,
				WeatherMetrics: h.Metrics,
			})
		}
	}
	return out
}

// consensusProbability combines the ensemble fraction with the models' own
// reported probabilities. Models can report a rain chance without predicting
// measurable amounts yet, so the larger signal wins.
func consensusProbability(ensemble float64, reported []float64) float64 {
	if m := Mean(reported); m > ensemble {
		return m
	}
	return ensemble
}

// ensembleProbability treats each model as a Bernoulli trial: the fraction
// of models predicting more than the wet threshold.
func ensembleProbability(precips []float64) float64 {
	if len(precips) == 0 {
		return 0
	}
	wet := 0
	for _, p := range precips {
		if p > wetThresholdMM {
			wet++
		}
	}
	return float64(wet) / float64(len(precips))
}

// classify computes the per-timestep statistics, the agreement and outlier
// sets, and records per-model outlier hits for the overall classification.
// Agreement is defined on temperature: a model agrees at a timestep iff it
// is not a temperature outlier there.
func classify(models []weather.Model, temps, precips, winds, hums []float64, counts *outlierCounts) (weather.ModelConsensus, weather.MetricRanges) {
	tempOut := looOutliers(temps)
	precipOut := looOutliers(precips)
	windOut := looOutliers(winds)

	var agree, outliers []weather.Model
	for i, m := range models {
		if tempOut[i] {
			outliers = append(outliers, m)
		} else {
			agree = append(agree, m)
		}
		counts.record(m, metricTemperature, tempOut[i])
		counts.record(m, metricPrecipitation, precipOut[i])
		counts.record(m, metricWind, windOut[i])
	}

	cons := weather.ModelConsensus{
		AgreementScore:    float64(len(agree)) / float64(len(models)),
		ModelsInAgreement: agree,
		OutlierModels:     outliers,
		Temperature:       Statistics(temps),
		Precipitation:     Statistics(precips),
		WindSpeed:         Statistics(winds),
	}
	ranges := weather.MetricRanges{
		Temperature:   valueRange(temps),
		Precipitation: valueRange(precips),
		WindSpeed:     valueRange(winds),
		Humidity:      valueRange(hums),
	}
	return cons, ranges
}

// looOutliers flags values whose leave-one-out z-score exceeds the cutoff:
// each value is compared against the mean and stdev of the other models,
// which keeps a single extreme model detectable at small N. When the other
// models agree exactly (stdev zero), any real deviation is an outlier.
func looOutliers(vs []float64) []bool {
	out := make([]bool, len(vs))
	if len(vs) < 2 {
		return out
	}
	for i, v := range vs {
		rest := make([]float64, 0, len(vs)-1)
		rest = append(rest, vs[:i]...)
		rest = append(rest, vs[i+1:]...)
		mean := Mean(rest)
		std := StdDev(rest)
		dev := v - mean
		if dev < 0 {
			dev = -dev
		}
		if std == 0 {
			out[i] = dev > 1e-6
			continue
		}
		out[i] = dev/std > outlierZ
	}
	return out
}

// outlierCounts tallies per-model, per-metric outlier hits across the
// aligned timesteps.
type outlierCounts struct {
	hits map[weather.Model]map[string]int
}

func newOutlierCounts(models []weather.Model) *outlierCounts {
	hits := make(map[weather.Model]map[string]int, len(models))
	for _, m := range models {
		hits[m] = make(map[string]int, 3)
	}
	return &outlierCounts{hits: hits}
}

func (c *outlierCounts) record(m weather.Model, metric string, outlier bool) {
	if outlier {
		c.hits[m][metric]++
	}
}

// overall returns the models that are outliers on at least the threshold
// fraction of timesteps for any one metric.
func (c *outlierCounts) overall(steps int) map[weather.Model]string {
	out := make(map[weather.Model]string)
	if steps == 0 {
		return out
	}
	for m, metrics := range c.hits {
		for _, metric := range []string{metricTemperature, metricPrecipitation, metricWind} {
			frac := float64(metrics[metric]) / float64(steps)
			if frac >= overallOutlierFraction {
				out[m] = fmt.Sprintf("outlier on %s in %.0f%% of timesteps", metric, frac*100)
				break
			}
		}
	}
	return out
}

const baselineRationale = "equal baseline weight"

// assignWeights gives each model 1/N, halves overall outliers, then
// renormalizes so the weights sum to 1.
func assignWeights(models []weather.Model, overallOutliers map[weather.Model]string) []weather.ModelWeight {
	n := float64(len(models))
	raw := make([]float64, len(models))
	var sum float64
	for i, m := range models {
		w := 1.0 / n
		if _, ok := overallOutliers[m]; ok {
			w /= 2
		}
		raw[i] = w
		sum += w
	}

	weights := make([]weather.ModelWeight, len(models))
	for i, m := range models {
		rationale := baselineRationale
		if reason, ok := overallOutliers[m]; ok {
			rationale = "weight halved: " + reason
		}
		weights[i] = weather.ModelWeight{
			Model:     m,
			Weight:    raw[i] / sum,
			Rationale: rationale,
		}
	}
	return weights
}
