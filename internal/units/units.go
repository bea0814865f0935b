// Package units holds the branded numeric types used across the engine.
// Each brand is a distinct type so a longitude can never slot into a
// latitude parameter and a wind speed can never be added to a temperature
// without an explicit conversion. Range-constrained brands validate at
// construction and reject out-of-range values with InvalidInput.
package units

import (
	"math"

	"multimet/internal/apperr"
)

type (
	// Celsius is an air temperature in degrees Celsius.
	Celsius float64
	// Millimeters is a precipitation amount.
	Millimeters float64
	// MetersPerSecond is a wind speed.
	MetersPerSecond float64
	// Degrees is a compass direction in [0, 360).
	Degrees float64
	// Percent is a 0-100 bounded value (humidity, cloud cover).
	Percent float64
	// HectoPascals is an atmospheric pressure.
	HectoPascals float64
	// Meters is a distance, used for visibility.
	Meters float64
	// UVIndex is the unitless UV index, >= 0.
	UVIndex float64
	// WMOCode is a WMO weather interpretation code.
	WMOCode int
	// Probability is a 0-1 bounded chance.
	Probability float64

	Latitude  float64
	Longitude float64
)

// KmH converts a wind speed to km/h for display and threshold checks.
func (m MetersPerSecond) KmH() float64 { return float64(m) * 3.6 }

// Normalize wraps a direction into [0, 360).
func (d Degrees) Normalize() Degrees {
	v := math.Mod(float64(d), 360)
	if v < 0 {
		v += 360
	}
	return Degrees(v)
}

func NewLatitude(v float64) (Latitude, error) {
	if v < -90 || v > 90 || math.IsNaN(v) {
		return 0, apperr.Newf(apperr.InvalidInput, "latitude %g out of range [-90, 90]", v)
	}
	return Latitude(v), nil
}

func NewLongitude(v float64) (Longitude, error) {
	if v < -180 || v > 180 || math.IsNaN(v) {
		return 0, apperr.Newf(apperr.InvalidInput, "longitude %g out of range [-180, 180]", v)
	}
	return Longitude(v), nil
}

func NewPercent(v float64) (Percent, error) {
	if v < 0 || v > 100 || math.IsNaN(v) {
		return 0, apperr.Newf(apperr.InvalidInput, "percentage %g out of range [0, 100]", v)
	}
	return Percent(v), nil
}

func NewProbability(v float64) (Probability, error) {
	if v < 0 || v > 1 || math.IsNaN(v) {
		return 0, apperr.Newf(apperr.InvalidInput, "probability %g out of range [0, 1]", v)
	}
	return Probability(v), nil
}

func NewDegrees(v float64) (Degrees, error) {
	if v < 0 || v > 360 || math.IsNaN(v) {
		return 0, apperr.Newf(apperr.InvalidInput, "direction %g out of range [0, 360]", v)
	}
	return Degrees(v).Normalize(), nil
}

func NewMillimeters(v float64) (Millimeters, error) {
	if v < 0 || math.IsNaN(v) {
		return 0, apperr.Newf(apperr.InvalidInput, "precipitation %g must be non-negative", v)
	}
	return Millimeters(v), nil
}

func NewMetersPerSecond(v float64) (MetersPerSecond, error) {
	if v < 0 || math.IsNaN(v) {
		return 0, apperr.Newf(apperr.InvalidInput, "wind speed %g must be non-negative", v)
	}
	return MetersPerSecond(v), nil
}

func NewUVIndex(v float64) (UVIndex, error) {
	if v < 0 || math.IsNaN(v) {
		return 0, apperr.Newf(apperr.InvalidInput, "UV index %g must be non-negative", v)
	}
	return UVIndex(v), nil
}

func NewWMOCode(v int) (WMOCode, error) {
	if v < 0 || v > 99 {
		return 0, apperr.Newf(apperr.InvalidInput, "weather code %d out of WMO table range [0, 99]", v)
	}
	return WMOCode(v), nil
}

// Coordinates is a validated (latitude, longitude) pair.
type Coordinates struct {
	Lat Latitude  `json:"latitude"`
	Lon Longitude `json:"longitude"`
}

func NewCoordinates(lat, lon float64) (Coordinates, error) {
	la, err := NewLatitude(lat)
	if err != nil {
		return Coordinates{}, err
	}
	lo, err := NewLongitude(lon)
	if err != nil {
		return Coordinates{}, err
	}
	return Coordinates{Lat: la, Lon: lo}, nil
}

const earthRadiusKM = 6371.0

// DistanceKM returns the great-circle distance between two points.
func (c Coordinates) DistanceKM(o Coordinates) float64 {
	lat1 := float64(c.Lat) * math.Pi / 180
	lat2 := float64(o.Lat) * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (float64(o.Lon) - float64(c.Lon)) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
