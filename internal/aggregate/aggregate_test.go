package aggregate

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multimet/internal/apperr"
	"multimet/internal/units"
	"multimet/internal/weather"
)

var (
	aggCoords = mustCoords(60.17, 24.94)
	aggBase   = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
)

func mustCoords(lat, lon float64) units.Coordinates {
	c, err := units.NewCoordinates(lat, lon)
	if err != nil {
		panic(err)
	}
	return c
}

// hourlyModel builds a forecast with constant per-hour metrics so tests can
// reason about the consensus arithmetic directly.
func hourlyModel(m weather.Model, hours int, temp, precip, wind float64) weather.ModelForecast {
	return hourlyModelAt(m, aggCoords, aggBase, hours, temp, precip, wind)
}

func hourlyModelAt(m weather.Model, coords units.Coordinates, start time.Time, hours int, temp, precip, wind float64) weather.ModelForecast {
	fc := weather.ModelForecast{
		Model:       m,
		Coordinates: coords,
		GeneratedAt: start,
		ValidFrom:   start,
		ValidTo:     start.Add(time.Duration(hours) * time.Hour),
	}
	for i := 0; i < hours; i++ {
		fc.Hourly = append(fc.Hourly, weather.HourlyForecast{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			WeatherMetrics: weather.WeatherMetrics{
				Temperature:         units.Celsius(temp),
				ApparentTemperature: units.Celsius(temp - 2),
				Humidity:            70,
				Pressure:            1013,
				WindSpeed:           units.MetersPerSecond(wind),
				WindDirection:       180,
				Precipitation:       units.Millimeters(precip),
				CloudCover:          40,
				Visibility:          20000,
				UVIndex:             3,
				WeatherCode:         2,
			},
		})
	}
	return fc
}

func dailyModel(m weather.Model, days int, tempMax, precipTotal float64, code int) weather.ModelForecast {
	fc := weather.ModelForecast{
		Model:       m,
		Coordinates: aggCoords,
		ValidFrom:   aggBase,
		ValidTo:     aggBase.AddDate(0, 0, days),
	}
	for i := 0; i < days; i++ {
		fc.Daily = append(fc.Daily, weather.DailyForecast{
			Date: aggBase.AddDate(0, 0, i),
			Temperature: weather.TemperatureRange{
				Min: units.Celsius(tempMax - 8),
				Max: units.Celsius(tempMax),
			},
			Humidity: weather.ValueRange{Min: 55, Max: 80},
			Precipitation: weather.PrecipitationSummary{
				Total: units.Millimeters(precipTotal),
			},
			Wind: weather.WindSummary{
				Average:           5,
				Max:               8,
				DominantDirection: 200,
			},
			WeatherCode: units.WMOCode(code),
		})
	}
	return fc
}

func TestAggregateRequiresInput(t *testing.T) {
	_, err := Aggregate(nil)
	require.Error(t, err)
	assert.Equal(t, apperr.InvalidInput, apperr.KindOf(err))
}

func TestAggregateRejectsLocationMismatch(t *testing.T) {
	a := hourlyModel(weather.ModelGFS, 24, 20, 0, 5)
	b := hourlyModelAt(weather.ModelECMWF, mustCoords(60.27, 24.94), aggBase, 24, 20, 0, 5)

	_, err := Aggregate([]weather.ModelForecast{a, b})
	require.Error(t, err)
	assert.Equal(t, apperr.InvalidInput, apperr.KindOf(err))
}

func TestAggregateRejectsDisjointGrids(t *testing.T) {
	a := hourlyModel(weather.ModelGFS, 24, 20, 0, 5)
	b := hourlyModelAt(weather.ModelECMWF, aggCoords, aggBase.AddDate(0, 0, 2), 24, 20, 0, 5)

	_, err := Aggregate([]weather.ModelForecast{a, b})
	require.Error(t, err)
	assert.Equal(t, apperr.InvalidInput, apperr.KindOf(err))
}

func TestAggregateGridIsIntersection(t *testing.T) {
	a := hourlyModel(weather.ModelGFS, 48, 20, 0, 5)
	b := hourlyModel(weather.ModelECMWF, 24, 21, 0, 5)

	agg, err := Aggregate([]weather.ModelForecast{a, b})
	require.NoError(t, err)
	assert.Len(t, agg.Hourly, 24)
	assert.Equal(t, aggBase, agg.ValidFrom)
	assert.Equal(t, aggBase.Add(24*time.Hour), agg.ValidTo)
}

func TestAggregateSingleExtremeModelIsOutlier(t *testing.T) {
	forecasts := []weather.ModelForecast{
		hourlyModel(weather.ModelECMWF, 24, 20, 0, 5),
		hourlyModel(weather.ModelGFS, 24, 20, 0, 5),
		hourlyModel(weather.ModelICON, 24, 20, 0, 5),
		hourlyModel(weather.ModelGEM, 24, 35, 0, 5),
	}

	agg, err := Aggregate(forecasts)
	require.NoError(t, err)
	require.NotEmpty(t, agg.Hourly)

	h := agg.Hourly[0]
	assert.Equal(t, []weather.Model{weather.ModelGEM}, h.Consensus.OutlierModels)
	assert.ElementsMatch(t,
		[]weather.Model{weather.ModelECMWF, weather.ModelGFS, weather.ModelICON},
		h.Consensus.ModelsInAgreement)
	assert.InDelta(t, 0.75, h.Consensus.AgreementScore, 1e-9)

	// Trimmed mean drops the extreme, so the consensus sits at 20.
	assert.InDelta(t, 20, float64(h.Metrics.Temperature), 1e-9)

	// The persistent outlier loses half its weight overall.
	assert.Equal(t, []weather.Model{weather.ModelGEM}, OverallOutliers(agg))
}

func TestAggregateModelAtMeanIsNeverOutlier(t *testing.T) {
	// ICON sits exactly on the mean of all three models.
	forecasts := []weather.ModelForecast{
		hourlyModel(weather.ModelECMWF, 12, 18, 0, 5),
		hourlyModel(weather.ModelICON, 12, 20, 0, 5),
		hourlyModel(weather.ModelGFS, 12, 22, 0, 5),
	}

	agg, err := Aggregate(forecasts)
	require.NoError(t, err)
	for _, h := range agg.Hourly {
		assert.NotContains(t, h.Consensus.OutlierModels, weather.ModelICON)
	}
}

func TestAggregateIdenticalModelsHighConfidence(t *testing.T) {
	forecasts := []weather.ModelForecast{
		hourlyModel(weather.ModelECMWF, 24, 18, 0, 4),
		hourlyModel(weather.ModelGFS, 24, 18, 0, 4),
		hourlyModel(weather.ModelICON, 24, 18, 0, 4),
	}

	agg, err := Aggregate(forecasts)
	require.NoError(t, err)

	assert.Equal(t, weather.LevelHigh, agg.Confidence.Level)
	assert.GreaterOrEqual(t, agg.Confidence.Score, 0.85)
	for _, h := range agg.Hourly {
		assert.Empty(t, h.Consensus.OutlierModels)
		assert.InDelta(t, 1.0, h.Consensus.AgreementScore, 1e-9)
		assert.InDelta(t, 0, h.Consensus.Temperature.StdDev, 1e-9)
	}
}

func TestAggregateWeightsSumToOne(t *testing.T) {
	forecasts := []weather.ModelForecast{
		hourlyModel(weather.ModelECMWF, 24, 20, 0, 5),
		hourlyModel(weather.ModelGFS, 24, 20, 0, 5),
		hourlyModel(weather.ModelICON, 24, 20, 0, 5),
		hourlyModel(weather.ModelGEM, 24, 35, 0, 5),
	}

	agg, err := Aggregate(forecasts)
	require.NoError(t, err)
	require.Len(t, agg.Weights, 4)

	var sum float64
	byModel := map[weather.Model]weather.ModelWeight{}
	for _, w := range agg.Weights {
		sum += w.Weight
		byModel[w.Model] = w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	// The outlier carries half the weight of an agreeing model.
	assert.InDelta(t, byModel[weather.ModelECMWF].Weight/2, byModel[weather.ModelGEM].Weight, 1e-9)
	assert.Contains(t, byModel[weather.ModelGEM].Rationale, "outlier")
}

func TestAggregateEnsemblePrecipProbability(t *testing.T) {
	forecasts := []weather.ModelForecast{
		hourlyModel(weather.ModelECMWF, 6, 15, 2.0, 5),
		hourlyModel(weather.ModelGFS, 6, 15, 1.5, 5),
		hourlyModel(weather.ModelICON, 6, 15, 0, 5),
		hourlyModel(weather.ModelGEM, 6, 15, 0.05, 5), // under the wet threshold
	}

	agg, err := Aggregate(forecasts)
	require.NoError(t, err)
	// 2 of 4 models exceed 0.1 mm.
	assert.InDelta(t, 0.5, float64(agg.Hourly[0].Metrics.PrecipProbability), 1e-9)
}

func TestAggregateDailyConsensus(t *testing.T) {
	forecasts := []weather.ModelForecast{
		dailyModel(weather.ModelECMWF, 3, 18, 5, 61),
		dailyModel(weather.ModelGFS, 3, 19, 0, 61),
		dailyModel(weather.ModelICON, 3, 17, 0, 3),
		dailyModel(weather.ModelGEM, 3, 18, 0, 3),
	}

	agg, err := Aggregate(forecasts)
	require.NoError(t, err)
	assert.Empty(t, agg.Hourly)
	require.Len(t, agg.Daily, 3)

	d := agg.Daily[0]
	assert.InDelta(t, 18, float64(d.Daily.Temperature.Max), 0.6)
	// One wet model out of four.
	assert.InDelta(t, 0.25, float64(d.Daily.Precipitation.Probability), 1e-9)
	// 61 vs 3 ties two against two; the more severe code wins.
	assert.Equal(t, units.WMOCode(61), d.Daily.WeatherCode)
}

func TestAggregateDailyAgreementHappyPath(t *testing.T) {
	// Dry day, identical temperatures, but every model reports a small
	// rain chance: the reported probability carries through.
	forecasts := []weather.ModelForecast{
		dailyModel(weather.ModelECMWF, 1, 20, 0, 2),
		dailyModel(weather.ModelGFS, 1, 20, 0, 2),
		dailyModel(weather.ModelICON, 1, 20, 0, 2),
	}
	for i := range forecasts {
		forecasts[i].Daily[0].Precipitation.Probability = 0.1
	}

	agg, err := Aggregate(forecasts)
	require.NoError(t, err)
	require.Len(t, agg.Daily, 1)

	d := agg.Daily[0]
	assert.InDelta(t, 20, float64(d.Daily.Temperature.Max), 1e-9)
	assert.InDelta(t, 12, float64(d.Daily.Temperature.Min), 1e-9)
	assert.InDelta(t, 0, float64(d.Daily.Precipitation.Total), 1e-9)
	// No model crosses the wet threshold, so the reported 10% wins.
	assert.InDelta(t, 0.1, float64(d.Daily.Precipitation.Probability), 1e-9)
	assert.Equal(t, weather.LevelHigh, d.Confidence.Level)
	assert.GreaterOrEqual(t, d.Confidence.Score, 0.85)
	assert.Empty(t, d.Consensus.OutlierModels)
}

func TestAggregatePrecipDisagreement(t *testing.T) {
	// Two dry models, one wet one: the wet amount is averaged in but the
	// probability reflects that only one of three predicts rain.
	forecasts := []weather.ModelForecast{
		hourlyModel(weather.ModelECMWF, 6, 15, 0, 5),
		hourlyModel(weather.ModelGFS, 6, 15, 0, 5),
		hourlyModel(weather.ModelICON, 6, 15, 5, 5),
	}

	agg, err := Aggregate(forecasts)
	require.NoError(t, err)

	h := agg.Hourly[0]
	assert.InDelta(t, 5.0/3.0, float64(h.Metrics.Precipitation), 1e-9)
	assert.InDelta(t, 1.0/3.0, float64(h.Metrics.PrecipProbability), 1e-9)
}

func TestAggregateConfidenceDecaysWithHorizon(t *testing.T) {
	forecasts := []weather.ModelForecast{
		dailyModel(weather.ModelECMWF, 7, 18, 0, 2),
		dailyModel(weather.ModelGFS, 7, 18, 0, 2),
		dailyModel(weather.ModelICON, 7, 18, 0, 2),
	}

	agg, err := Aggregate(forecasts)
	require.NoError(t, err)
	require.Len(t, agg.Daily, 7)

	// Identical models everywhere, so only the horizon factor moves.
	assert.Less(t, agg.Daily[6].Confidence.Score, agg.Daily[0].Confidence.Score)
}

func TestAggregateDeterministic(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	old := timeNow
	timeNow = func() time.Time { return fixed }
	defer func() { timeNow = old }()

	forecasts := []weather.ModelForecast{
		hourlyModel(weather.ModelECMWF, 24, 20, 1, 5),
		hourlyModel(weather.ModelGFS, 24, 22, 0, 7),
		hourlyModel(weather.ModelICON, 24, 21, 0.5, 6),
	}

	first, err := Aggregate(forecasts)
	require.NoError(t, err)
	second, err := Aggregate(forecasts)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAggregatedForecastJSONRoundTrip(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	old := timeNow
	timeNow = func() time.Time { return fixed }
	defer func() { timeNow = old }()

	forecasts := []weather.ModelForecast{
		hourlyModel(weather.ModelECMWF, 24, 20, 1, 5),
		hourlyModel(weather.ModelGFS, 24, 22, 0, 7),
		hourlyModel(weather.ModelICON, 24, 35, 0.5, 6),
	}

	agg, err := Aggregate(forecasts)
	require.NoError(t, err)

	data, err := json.Marshal(agg)
	require.NoError(t, err)
	var decoded weather.AggregatedForecast
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, agg, decoded)
}

func TestAggregateIdempotent(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	old := timeNow
	timeNow = func() time.Time { return fixed }
	defer func() { timeNow = old }()

	forecasts := []weather.ModelForecast{
		hourlyModel(weather.ModelECMWF, 24, 20, 1, 5),
		hourlyModel(weather.ModelGFS, 24, 22, 0, 7),
		hourlyModel(weather.ModelICON, 24, 21, 0.5, 6),
	}

	first, err := Aggregate(forecasts)
	require.NoError(t, err)
	// The inputs survive in the result, so aggregating them again must
	// reproduce it exactly.
	second, err := Aggregate(first.ModelForecasts)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAggregateConsensusModelNeverLowersConfidence(t *testing.T) {
	base := []weather.ModelForecast{
		hourlyModel(weather.ModelECMWF, 24, 18, 0, 5),
		hourlyModel(weather.ModelGFS, 24, 20, 0, 5),
		hourlyModel(weather.ModelICON, 24, 22, 0, 5),
	}

	before, err := Aggregate(base)
	require.NoError(t, err)

	// A fourth model sitting exactly on the consensus temperature can
	// only tighten the spread and the agreement.
	consensusTemp := float64(before.Hourly[0].Metrics.Temperature)
	after, err := Aggregate(append(base, hourlyModel(weather.ModelGEM, 24, consensusTemp, 0, 5)))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, after.Confidence.Score, before.Confidence.Score)
}

func TestAggregatePreservesModelOrder(t *testing.T) {
	forecasts := []weather.ModelForecast{
		hourlyModel(weather.ModelUKMO, 6, 20, 0, 5),
		hourlyModel(weather.ModelJMA, 6, 21, 0, 5),
		hourlyModel(weather.ModelGFS, 6, 19, 0, 5),
	}

	agg, err := Aggregate(forecasts)
	require.NoError(t, err)
	assert.Equal(t, []weather.Model{weather.ModelUKMO, weather.ModelJMA, weather.ModelGFS}, agg.Models)
}
