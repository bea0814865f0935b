// Package confidence maps model spread, agreement ratio and forecast
// horizon into a bounded [0, 1] score with a three-level label. Scoring is
// pure and never fails; degenerate inputs produce neutral factors.
package confidence

import (
	"fmt"

	"multimet/internal/weather"
)

// Fixed factor weights, summing to 1.
const (
	spreadWeight    = 0.5
	agreementWeight = 0.3
	horizonWeight   = 0.2
)

// Spread thresholds. Temperature works on the stdev across models in °C,
// wind on the model range in km/h, humidity on the range in percentage
// points. Precipitation scores on the ensemble probability: strong
// agreement either way (almost all or almost no models predicting rain) is
// high confidence.
const (
	tempStdDevFull  = 1.5
	tempStdDevFloor = 4.0
	windRangeFull   = 10.0
	windRangeFloor  = 25.0
	humRangeFull    = 10.0
	humRangeFloor   = 30.0
	precipAgreeHigh = 0.8
	precipAgreeLow  = 0.2
)

// Input are the raw signals for one timestep or day.
type Input struct {
	TemperatureStdDev float64 // °C across models
	WindRangeKmH      float64 // model min-to-max spread, km/h
	PrecipProbability float64 // ensemble fraction of models predicting rain
	HumidityRange     float64 // percentage points across models
	ModelsInAgreement int
	TotalModels       int
	DaysAhead         int
}

// Factor is one weighted component of the final score.
type Factor struct {
	Name         string  `json:"name"`
	Weight       float64 `json:"weight"`
	Score        float64 `json:"score"`
	Contribution float64 `json:"contribution"`
	Detail       string  `json:"detail"`
}

// Result is a scored confidence assessment.
type Result struct {
	Level       weather.Level `json:"level"`
	Score       float64       `json:"score"`
	Factors     []Factor      `json:"factors"`
	Explanation string        `json:"explanation"`
}

// Confidence returns the ConfidenceLevel pair for embedding in forecasts.
func (r Result) Confidence() weather.ConfidenceLevel {
	return weather.ConfidenceLevel{Level: r.Level, Score: r.Score}
}

// FromConsensus assembles scoring input from a timestep's consensus and
// spread data.
func FromConsensus(c weather.ModelConsensus, ranges weather.MetricRanges, precipProbability float64, daysAhead int) Input {
	return Input{
		TemperatureStdDev: c.Temperature.StdDev,
		WindRangeKmH:      (ranges.WindSpeed.Max - ranges.WindSpeed.Min) * 3.6,
		PrecipProbability: precipProbability,
		HumidityRange:     ranges.Humidity.Max - ranges.Humidity.Min,
		ModelsInAgreement: len(c.ModelsInAgreement),
		TotalModels:       len(c.ModelsInAgreement) + len(c.OutlierModels),
		DaysAhead:         daysAhead,
	}
}

// Score combines the three factors with their fixed weights.
func Score(in Input) Result {
	spread, spreadDetail := spreadFactor(in)
	agreement, agreementDetail := agreementFactor(in)
	horizon, horizonDetail := horizonFactor(in)

	score := spread*spreadWeight + agreement*agreementWeight + horizon*horizonWeight
	score = clamp01(score)
	level := weather.LevelForScore(score)

	return Result{
		Level: level,
		Score: score,
		Factors: []Factor{
			{Name: "spread", Weight: spreadWeight, Score: spread, Contribution: spread * spreadWeight, Detail: spreadDetail},
			{Name: "agreement", Weight: agreementWeight, Score: agreement, Contribution: agreement * agreementWeight, Detail: agreementDetail},
			{Name: "horizon", Weight: horizonWeight, Score: horizon, Contribution: horizon * horizonWeight, Detail: horizonDetail},
		},
		Explanation: explain(level, in),
	}
}

// spreadFactor averages the four dispersion sub-scores, each mapped onto
// [0.3, 1.0].
func spreadFactor(in Input) (float64, string) {
	temp := linearScore(in.TemperatureStdDev, tempStdDevFull, tempStdDevFloor)
	wind := linearScore(in.WindRangeKmH, windRangeFull, windRangeFloor)
	hum := linearScore(in.HumidityRange, humRangeFull, humRangeFloor)

	precip := 0.5
	if in.PrecipProbability >= precipAgreeHigh || in.PrecipProbability <= precipAgreeLow {
		precip = 1.0
	}

	score := (temp + wind + precip + hum) / 4
	detail := fmt.Sprintf(
		"temperature stdev %.1f°C, wind spread %.0f km/h, precipitation agreement %.0f%%, humidity spread %.0f pts",
		in.TemperatureStdDev, in.WindRangeKmH, in.PrecipProbability*100, in.HumidityRange,
	)
	return score, detail
}

func agreementFactor(in Input) (float64, string) {
	if in.TotalModels == 0 {
		return 0.5, "no models available"
	}
	ratio := float64(in.ModelsInAgreement) / float64(in.TotalModels)
	return 0.3 + 0.7*ratio, fmt.Sprintf("%d of %d models in agreement", in.ModelsInAgreement, in.TotalModels)
}

func horizonFactor(in Input) (float64, string) {
	days := in.DaysAhead
	if days < 0 {
		days = 0
	}
	capped := days
	if capped > 10 {
		capped = 10
	}
	score := 1.0 - 0.05*float64(capped)
	if score < 0.5 {
		score = 0.5
	}
	return score, fmt.Sprintf("%d days ahead", days)
}

// linearScore maps v onto [0.3, 1.0]: full confidence at or below full,
// floor at or above floor, linear between.
func linearScore(v, full, floor float64) float64 {
	if v <= full {
		return 1.0
	}
	if v >= floor {
		return 0.3
	}
	return 1.0 - (v-full)/(floor-full)*0.7
}

func explain(level weather.Level, in Input) string {
	label := map[weather.Level]string{
		weather.LevelHigh:   "High",
		weather.LevelMedium: "Medium",
		weather.LevelLow:    "Low",
	}[level]
	if in.TotalModels == 0 {
		return fmt.Sprintf("%s confidence: no model data available.", label)
	}
	return fmt.Sprintf("%s confidence: %d of %d models agree on temperature predictions.",
		label, in.ModelsInAgreement, in.TotalModels)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
