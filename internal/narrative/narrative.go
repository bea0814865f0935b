// Package narrative renders an aggregated forecast as a short English
// summary: a headline, a few body sentences, alert lines and per-outlier
// model notes. Building a narrative never fails; missing data simply
// shortens the output.
package narrative

import (
	"fmt"
	"strings"
	"time"

	"multimet/internal/aggregate"
	"multimet/internal/units"
	"multimet/internal/weather"
)

const (
	headlineWindow      = 48 * time.Hour
	agreementThreshold  = 0.7
	windyThresholdMS    = 10.0
	extendedRangeDays   = 5
	severeCodeThreshold = 95
	heatAlertC          = 35.0
	coldAlertC          = -10.0
	heavyRainAlertMM    = 50.0
	galeAlertMS         = 15.0
	disagreementStdevC  = 5.0
)

// Narrative is the rendered summary.
type Narrative struct {
	Headline   string   `json:"headline"`
	Body       string   `json:"body"`
	Alerts     []string `json:"alerts,omitempty"`
	ModelNotes []string `json:"model_notes,omitempty"`
}

// Build composes a narrative from an aggregated forecast.
func Build(agg weather.AggregatedForecast) Narrative {
	if len(agg.Hourly) == 0 && len(agg.Daily) == 0 {
		return Narrative{Headline: "No forecast data available."}
	}
	return Narrative{
		Headline:   headline(agg),
		Body:       body(agg),
		Alerts:     alerts(agg),
		ModelNotes: modelNotes(agg),
	}
}

// condition buckets for the headline.
type condition string

const (
	condDry   condition = "dry"
	condRainy condition = "rainy"
	condSnowy condition = "snowy"
	condMixed condition = "mixed"
)

func codeCondition(code units.WMOCode) condition {
	switch {
	case code >= 71 && code <= 77, code == 85, code == 86:
		return condSnowy
	case code >= 51 && code <= 67, code >= 80 && code <= 82, code >= 95:
		return condRainy
	default:
		return condDry
	}
}

// headline summarizes the dominant condition over the first 48 hours. The
// dominant bucket must cover at least half the window; otherwise the
// conditions read as mixed.
func headline(agg weather.AggregatedForecast) string {
	hours := agg.Hourly
	var windowEnd time.Time
	counts := map[condition]int{}
	total := 0

	if len(hours) > 0 {
		cutoff := hours[0].Timestamp.Add(headlineWindow)
		for _, h := range hours {
			if h.Timestamp.After(cutoff) {
				break
			}
			counts[codeCondition(h.Metrics.WeatherCode)]++
			total++
			windowEnd = h.Timestamp
		}
	} else {
		// Daily-only aggregate: weigh each of the first two days equally.
		for i, d := range agg.Daily {
			if i >= 2 {
				break
			}
			counts[codeCondition(d.Daily.WeatherCode)]++
			total++
			windowEnd = d.Date
		}
	}

	dominant, dominantCount := condMixed, 0
	for _, c := range []condition{condDry, condRainy, condSnowy} {
		if counts[c] > dominantCount {
			dominant, dominantCount = c, counts[c]
		}
	}
	if total == 0 || float64(dominantCount)/float64(total) < 0.5 {
		dominant = condMixed
	}

	dayName := windowEnd.Weekday().String()
	if meanAgreement(agg) >= agreementThreshold {
		return fmt.Sprintf("Models agree on %s conditions through %s", dominant, dayName)
	}
	return fmt.Sprintf("Models disagree on conditions for %s", dayName)
}

func meanAgreement(agg weather.AggregatedForecast) float64 {
	var sum float64
	var n int
	for _, h := range agg.Hourly {
		sum += h.Consensus.AgreementScore
		n++
	}
	for _, d := range agg.Daily {
		sum += d.Consensus.AgreementScore
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func body(agg weather.AggregatedForecast) string {
	var sentences []string

	if len(agg.Daily) > 0 {
		today := agg.Daily[0].Daily
		sentences = append(sentences, fmt.Sprintf(
			"Today's temperatures range from %.0f°C to %.0f°C.",
			float64(today.Temperature.Min), float64(today.Temperature.Max)))

		peakDay, peakProb := peakPrecipitation(agg.Daily)
		if peakProb > 0 {
			sentences = append(sentences, fmt.Sprintf(
				"Precipitation is most likely on %s with a %.0f%% chance.",
				peakDay.Weekday(), peakProb*100))
		}
	}

	if maxWind := maxWindSpeed(agg); maxWind >= windyThresholdMS {
		sentences = append(sentences, fmt.Sprintf(
			"Expect windy conditions with speeds up to %.0f m/s.", maxWind))
	}

	sentences = append(sentences, fmt.Sprintf(
		"Overall forecast confidence is %s.", agg.Confidence.Level))

	return strings.Join(sentences, " ")
}

func peakPrecipitation(daily []weather.AggregatedDailyForecast) (time.Time, float64) {
	var day time.Time
	var peak float64
	for _, d := range daily {
		if p := float64(d.Daily.Precipitation.Probability); p > peak {
			peak = p
			day = d.Date
		}
	}
	return day, peak
}

func maxWindSpeed(agg weather.AggregatedForecast) float64 {
	var max float64
	for _, h := range agg.Hourly {
		if v := float64(h.Metrics.WindSpeed); v > max {
			max = v
		}
	}
	for _, d := range agg.Daily {
		if v := float64(d.Daily.Wind.Max); v > max {
			max = v
		}
	}
	return max
}

func alerts(agg weather.AggregatedForecast) []string {
	var out []string

	if len(agg.Daily) > extendedRangeDays {
		out = append(out, "Extended range beyond 5 days carries higher uncertainty")
	}

	for _, d := range agg.Daily {
		day := d.Daily
		dayName := d.Date.Weekday().String()
		if int(day.WeatherCode) >= severeCodeThreshold {
			out = append(out, fmt.Sprintf("Thunderstorms possible on %s", dayName))
		}
		if float64(day.Temperature.Max) > heatAlertC {
			out = append(out, fmt.Sprintf("Extreme heat on %s: up to %.0f°C", dayName, float64(day.Temperature.Max)))
		}
		if float64(day.Temperature.Min) < coldAlertC {
			out = append(out, fmt.Sprintf("Severe cold on %s: down to %.0f°C", dayName, float64(day.Temperature.Min)))
		}
		if float64(day.Precipitation.Total) > heavyRainAlertMM {
			out = append(out, fmt.Sprintf("Heavy precipitation on %s: %.0f mm expected", dayName, float64(day.Precipitation.Total)))
		}
		if float64(day.Wind.Max) > galeAlertMS {
			out = append(out, fmt.Sprintf("Strong winds on %s: gusts beyond %.0f m/s", dayName, float64(day.Wind.Max)))
		}
	}

	// Days where the models diverge sharply on temperature.
	flagged := map[int]bool{}
	var start time.Time
	if len(agg.Hourly) > 0 {
		start = agg.Hourly[0].Timestamp
	}
	for _, h := range agg.Hourly {
		if h.Consensus.Temperature.StdDev > disagreementStdevC {
			dayN := int(h.Timestamp.Sub(start).Hours() / 24)
			if !flagged[dayN] {
				flagged[dayN] = true
				out = append(out, fmt.Sprintf("Significant model disagreement on day %d", dayN))
			}
		}
	}

	return out
}

// modelNotes renders one line per overall-outlier model, describing how it
// deviates from the consensus.
func modelNotes(agg weather.AggregatedForecast) []string {
	outliers := aggregate.OverallOutliers(agg)
	if len(outliers) == 0 {
		return nil
	}

	consTemp, consPrecip := consensusAverages(agg)

	var notes []string
	for _, m := range outliers {
		mf, ok := forecastFor(agg, m)
		if !ok {
			continue
		}
		temp, precip := modelAverages(mf)

		tempDelta := temp - consTemp
		precipDelta := precip - consPrecip

		// Describe the larger deviation: a degree of temperature counts
		// as much as a millimeter of precipitation.
		if abs(tempDelta) >= abs(precipDelta) {
			dir := "warmer"
			if tempDelta < 0 {
				dir = "cooler"
			}
			notes = append(notes, fmt.Sprintf("%s is notably %s at %.1f°C", m.DisplayName(), dir, temp))
			continue
		}
		dir := "wetter"
		if precipDelta < 0 {
			dir = "drier"
		}
		notes = append(notes, fmt.Sprintf("%s is notably %s at %.1fmm", m.DisplayName(), dir, precip))
	}
	return notes
}

func consensusAverages(agg weather.AggregatedForecast) (temp, precip float64) {
	var tempSum, precipSum float64
	var n int
	for _, h := range agg.Hourly {
		tempSum += float64(h.Metrics.Temperature)
		precipSum += float64(h.Metrics.Precipitation)
		n++
	}
	if n == 0 {
		for _, d := range agg.Daily {
			tempSum += float64(d.Daily.Temperature.Max)
			precipSum += float64(d.Daily.Precipitation.Total)
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return tempSum / float64(n), precipSum / float64(n)
}

func modelAverages(mf weather.ModelForecast) (temp, precip float64) {
	var tempSum, precipSum float64
	var n int
	for _, h := range mf.Hourly {
		tempSum += float64(h.Temperature)
		precipSum += float64(h.Precipitation)
		n++
	}
	if n == 0 {
		for _, d := range mf.Daily {
			tempSum += float64(d.Temperature.Max)
			precipSum += float64(d.Precipitation.Total)
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return tempSum / float64(n), precipSum / float64(n)
}

func forecastFor(agg weather.AggregatedForecast, m weather.Model) (weather.ModelForecast, bool) {
	for _, mf := range agg.ModelForecasts {
		if mf.Model == m {
			return mf, true
		}
	}
	return weather.ModelForecast{}, false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
