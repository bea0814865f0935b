package aggregate

import (
	"math"
	"slices"

	"multimet/internal/weather"
)

// Mean is the arithmetic mean. Zero for an empty input.
func Mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

// Median is the middle value, averaging the two central values for even N.
func Median(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sorted := slices.Clone(vs)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// TrimmedMean drops the single largest and smallest value before averaging.
// Below four values trimming would collapse toward the median, so the plain
// mean is used instead.
func TrimmedMean(vs []float64) float64 {
	if len(vs) < 4 {
		return Mean(vs)
	}
	sorted := slices.Clone(vs)
	slices.Sort(sorted)
	return Mean(sorted[1 : len(sorted)-1])
}

// StdDev is the population standard deviation.
func StdDev(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	mean := Mean(vs)
	var sum float64
	for _, v := range vs {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(vs)))
}

// Statistics summarizes one metric across model values at a timestep.
func Statistics(vs []float64) weather.MetricStatistics {
	if len(vs) == 0 {
		return weather.MetricStatistics{}
	}
	min, max := slices.Min(vs), slices.Max(vs)
	return weather.MetricStatistics{
		Mean:   Mean(vs),
		Median: Median(vs),
		Min:    min,
		Max:    max,
		StdDev: StdDev(vs),
		Range:  max - min,
	}
}

// CircularMean averages compass directions by summing unit vectors and
// taking the atan2 of the totals, normalized into [0, 360). The arithmetic
// mean miscomputes near the 0/360 seam.
func CircularMean(degrees []float64) float64 {
	if len(degrees) == 0 {
		return 0
	}
	var sinSum, cosSum float64
	for _, d := range degrees {
		rad := d * math.Pi / 180
		sinSum += math.Sin(rad)
		cosSum += math.Cos(rad)
	}
	deg := math.Atan2(sinSum, cosSum) * 180 / math.Pi
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg -= 360
	}
	return deg
}

// Max returns the largest value, zero for an empty input.
func Max(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	return slices.Max(vs)
}

// valueRange is the (min, max) spread across model values.
func valueRange(vs []float64) weather.ValueRange {
	if len(vs) == 0 {
		return weather.ValueRange{}
	}
	return weather.ValueRange{Min: slices.Min(vs), Max: slices.Max(vs)}
}

// pluralityCode picks the most common weather code; ties break toward the
// higher (more severe) code so results are deterministic.
func pluralityCode(codes []int) int {
	if len(codes) == 0 {
		return 0
	}
	counts := make(map[int]int)
	for _, c := range codes {
		counts[c]++
	}
	best, bestCount := 0, 0
	for code, count := range counts {
		if count > bestCount || (count == bestCount && code > best) {
			best, bestCount = code, count
		}
	}
	return best
}
