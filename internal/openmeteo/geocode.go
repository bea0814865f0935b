package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"multimet/internal/apperr"
	"multimet/internal/units"
	"multimet/internal/weather"
)

const (
	geocodePath  = "/v1/search"
	defaultCount = 5
	maxCount     = 10
)

// SearchOptions tune a geocoding query.
type SearchOptions struct {
	// Count caps the number of results, 1-10. Zero means the default of 5.
	Count int
	// Language is an ISO-639-1 code for localized place names.
	Language string
}

type geocodeResponse struct {
	Results []geocodeResult `json:"results"`
}

type geocodeResult struct {
	Name        string   `json:"name"`
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	Country     string   `json:"country"`
	CountryCode string   `json:"country_code"`
	Admin1      string   `json:"admin1"`
	Timezone    string   `json:"timezone"`
	Elevation   *float64 `json:"elevation"`
	Population  *int64   `json:"population"`
}

// Search returns up to opts.Count matches ordered by upstream relevance.
func (c *Client) Search(ctx context.Context, query string, opts SearchOptions) ([]weather.GeocodingResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.New(apperr.GeocodingInvalidInput, "location query must not be empty")
	}
	count := opts.Count
	if count <= 0 {
		count = defaultCount
	}
	if count > maxCount {
		count = maxCount
	}

	params := url.Values{
		"name":  {query},
		"count": {strconv.Itoa(count)},
	}
	if opts.Language != "" {
		params.Set("language", opts.Language)
	}

	body, err := c.get(ctx, c.geocodingBaseURL+geocodePath, params)
	if err != nil {
		if apperr.KindOf(err) == apperr.Cancelled {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.GeocodingServiceError, fmt.Sprintf("could not look up %q", query), err)
	}

	var resp geocodeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperr.Wrap(apperr.GeocodingServiceError, "geocoding service returned malformed JSON", err)
	}
	if len(resp.Results) == 0 {
		return nil, apperr.Newf(apperr.GeocodingNotFound, "no location found for %q", query)
	}

	results := make([]weather.GeocodingResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		coords, err := units.NewCoordinates(r.Latitude, r.Longitude)
		if err != nil {
			// An out-of-range coordinate from upstream is a bad record,
			// not a bad query; skip it.
			continue
		}
		results = append(results, weather.GeocodingResult{
			Name:        r.Name,
			Coordinates: coords,
			Country:     r.Country,
			CountryCode: r.CountryCode,
			Region:      r.Admin1,
			Timezone:    r.Timezone,
			Elevation:   r.Elevation,
			Population:  r.Population,
		})
	}
	if len(results) == 0 {
		return nil, apperr.Newf(apperr.GeocodingNotFound, "no usable location found for %q", query)
	}
	return results, nil
}

// Resolve returns the first match for a query, which upstream orders by
// relevance.
func (c *Client) Resolve(ctx context.Context, query string, opts SearchOptions) (weather.GeocodingResult, error) {
	opts.Count = 1
	results, err := c.Search(ctx, query, opts)
	if err != nil {
		return weather.GeocodingResult{}, err
	}
	return results[0], nil
}
