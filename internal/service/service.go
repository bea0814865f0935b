// Package service orchestrates the full pipeline: geocode, fan out to the
// models, aggregate, score confidence and build the narrative. Results are
// layered behind an in-memory TTL cache and an optional Postgres cache,
// keyed by snapped grid cell.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"multimet/internal/aggregate"
	"multimet/internal/apperr"
	"multimet/internal/narrative"
	"multimet/internal/openmeteo"
	"multimet/internal/store"
	"multimet/internal/units"
	"multimet/internal/weather"
)

const (
	defaultForecastDays = 7
	// storeFreshness is how old a stored forecast may be before a live
	// refetch.
	storeFreshness = 3 * time.Hour
)

// Geocoder resolves free-text locations.
type Geocoder interface {
	Resolve(ctx context.Context, query string, opts openmeteo.SearchOptions) (weather.GeocodingResult, error)
	Search(ctx context.Context, query string, opts openmeteo.SearchOptions) ([]weather.GeocodingResult, error)
}

// ModelFetcher fans out per-model forecast fetches.
type ModelFetcher interface {
	FetchAll(ctx context.Context, coords units.Coordinates, opts openmeteo.FetchAllOptions) weather.FanoutResult
}

// ForecastStore is the persistent cache layer. A nil store disables it.
type ForecastStore interface {
	GetForecast(ctx context.Context, gridLat, gridLon float64, days int) (weather.AggregatedForecast, time.Time, bool, error)
	UpsertForecasts(ctx context.Context, forecasts []store.CachedForecast) error
	RecordFailures(ctx context.Context, gridLat, gridLon float64, failures []weather.FetchFailure) error
	CachedCells(ctx context.Context) ([]store.CachedForecast, error)
}

// ForecastResponse is the full consensus answer for one location.
type ForecastResponse struct {
	Location    *weather.GeocodingResult   `json:"location,omitempty"`
	Forecast    weather.AggregatedForecast `json:"forecast"`
	Narrative   narrative.Narrative        `json:"narrative"`
	SuccessRate float64                    `json:"success_rate"`
	Failures    []weather.FetchFailure     `json:"failures,omitempty"`
}

// CompareResponse carries the raw per-model forecasts with outlier tags.
type CompareResponse struct {
	Location  *weather.GeocodingResult `json:"location,omitempty"`
	Forecasts []weather.ModelForecast  `json:"forecasts"`
	Outliers  []weather.Model          `json:"outliers"`
	Failures  []weather.FetchFailure   `json:"failures,omitempty"`
}

type Service struct {
	geocoder Geocoder
	fetcher  ModelFetcher
	store    ForecastStore

	forecastCache *weather.Cache[ForecastResponse]
	geocodeCache  *weather.Cache[[]weather.GeocodingResult]
}

func New(geocoder Geocoder, fetcher ModelFetcher, st ForecastStore, cacheTTL time.Duration) *Service {
	return &Service{
		geocoder:      geocoder,
		fetcher:       fetcher,
		store:         st,
		forecastCache: weather.NewCache[ForecastResponse](cacheTTL),
		geocodeCache:  weather.NewCache[[]weather.GeocodingResult](cacheTTL),
	}
}

// Geocode returns up to count matches for a query.
func (s *Service) Geocode(ctx context.Context, query string, count int) ([]weather.GeocodingResult, error) {
	cacheKey := fmt.Sprintf("%s|%d", query, count)
	if cached, ok := s.geocodeCache.Get(cacheKey); ok {
		return cached, nil
	}
	results, err := s.geocoder.Search(ctx, query, openmeteo.SearchOptions{Count: count})
	if err != nil {
		return nil, err
	}
	s.geocodeCache.Set(cacheKey, results)
	return results, nil
}

// ForecastByQuery geocodes a free-text location and builds its consensus
// forecast.
func (s *Service) ForecastByQuery(ctx context.Context, query string, days int, models []weather.Model) (*ForecastResponse, error) {
	loc, err := s.geocoder.Resolve(ctx, query, openmeteo.SearchOptions{})
	if err != nil {
		return nil, err
	}
	resp, err := s.ForecastByCoords(ctx, loc.Coordinates, days, models)
	if err != nil {
		return nil, err
	}
	resp.Location = &loc
	return resp, nil
}

// ForecastByCoords builds the consensus forecast for a coordinate pair.
func (s *Service) ForecastByCoords(ctx context.Context, coords units.Coordinates, days int, models []weather.Model) (*ForecastResponse, error) {
	if days == 0 {
		days = defaultForecastDays
	}
	if days < openmeteo.MinForecastDays || days > openmeteo.MaxForecastDays {
		return nil, apperr.Newf(apperr.InvalidInput, "forecast days %d out of range [%d, %d]",
			days, openmeteo.MinForecastDays, openmeteo.MaxForecastDays)
	}

	gridLat, gridLon := snapToGrid(coords)
	cacheKey := forecastCacheKey(gridLat, gridLon, days, models)

	if cached, ok := s.forecastCache.Get(cacheKey); ok {
		return &cached, nil
	}

	// The persistent layer only caches full-model aggregates; a custom
	// model subset always goes live.
	if s.store != nil && len(models) == 0 {
		agg, fetchedAt, ok, err := s.store.GetForecast(ctx, gridLat, gridLon, days)
		if err != nil {
			slog.Warn("forecast store read failed", "err", err)
		} else if ok && time.Since(fetchedAt) < storeFreshness {
			resp := ForecastResponse{
				Forecast:    agg,
				Narrative:   narrative.Build(agg),
				SuccessRate: 1,
			}
			s.forecastCache.Set(cacheKey, resp)
			return &resp, nil
		}
	}

	resp, err := s.fetchAndAggregate(ctx, coords, days, models)
	if err != nil {
		return nil, err
	}

	if s.store != nil && len(models) == 0 {
		s.persist(ctx, gridLat, gridLon, days, resp)
	}

	s.forecastCache.Set(cacheKey, *resp)
	return resp, nil
}

// persist writes a freshly fetched full-model aggregate to the store and
// records any per-model failures. Store errors are logged, not returned:
// the caller already holds a good forecast.
func (s *Service) persist(ctx context.Context, gridLat, gridLon float64, days int, resp *ForecastResponse) {
	cf := store.CachedForecast{
		GridLat:      gridLat,
		GridLon:      gridLon,
		ForecastDays: days,
		Forecast:     resp.Forecast,
		FetchedAt:    resp.Forecast.GeneratedAt,
	}
	if err := s.store.UpsertForecasts(ctx, []store.CachedForecast{cf}); err != nil {
		slog.Warn("forecast store write failed", "err", err)
	}
	if err := s.store.RecordFailures(ctx, gridLat, gridLon, resp.Failures); err != nil {
		slog.Warn("failure bookkeeping failed", "err", err)
	}
}

// Compare fetches the raw per-model forecasts and tags overall outliers.
func (s *Service) Compare(ctx context.Context, coords units.Coordinates, days int, models []weather.Model) (*CompareResponse, error) {
	resp, err := s.fetchAndAggregate(ctx, coords, days, models)
	if err != nil {
		return nil, err
	}
	return &CompareResponse{
		Forecasts: resp.Forecast.ModelForecasts,
		Outliers:  aggregate.OverallOutliers(resp.Forecast),
		Failures:  resp.Failures,
	}, nil
}

// CompareByQuery is Compare with a geocoding step in front.
func (s *Service) CompareByQuery(ctx context.Context, query string, days int, models []weather.Model) (*CompareResponse, error) {
	loc, err := s.geocoder.Resolve(ctx, query, openmeteo.SearchOptions{})
	if err != nil {
		return nil, err
	}
	resp, err := s.Compare(ctx, loc.Coordinates, days, models)
	if err != nil {
		return nil, err
	}
	resp.Location = &loc
	return resp, nil
}

func (s *Service) fetchAndAggregate(ctx context.Context, coords units.Coordinates, days int, models []weather.Model) (*ForecastResponse, error) {
	result := s.fetcher.FetchAll(ctx, coords, openmeteo.FetchAllOptions{
		Models:       models,
		ForecastDays: days,
	})

	if len(result.Forecasts) == 0 {
		if ctx.Err() != nil {
			return nil, apperr.Wrap(apperr.Cancelled, "forecast request cancelled", ctx.Err())
		}
		return nil, apperr.Newf(apperr.ApiUnavailable, "all %d weather models are unavailable", len(result.Failures))
	}

	agg, err := aggregate.Aggregate(result.Forecasts)
	if err != nil {
		return nil, err
	}

	return &ForecastResponse{
		Forecast:    agg,
		Narrative:   narrative.Build(agg),
		SuccessRate: result.SuccessRate(),
		Failures:    result.Failures,
	}, nil
}

// RunRefreshLoop keeps stored grid cells warm: every interval it refetches
// cells whose payload is going stale and purges expired memory entries.
// Blocks until the context is cancelled.
func (s *Service) RunRefreshLoop(ctx context.Context, interval time.Duration) {
	if s.store == nil {
		return
	}
	slog.Info("forecast refresh loop starting", "interval", interval)

	s.refreshStale(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("forecast refresh loop stopped")
			return
		case <-ticker.C:
			s.forecastCache.Purge()
			s.geocodeCache.Purge()
			s.refreshStale(ctx)
		}
	}
}

func (s *Service) refreshStale(ctx context.Context) {
	cells, err := s.store.CachedCells(ctx)
	if err != nil {
		slog.Error("failed to list cached cells", "err", err)
		return
	}

	start := time.Now()
	refreshed := 0
	for _, cell := range cells {
		if time.Since(cell.FetchedAt) < storeFreshness {
			continue
		}
		coords, err := units.NewCoordinates(cell.GridLat, cell.GridLon)
		if err != nil {
			continue
		}
		resp, err := s.fetchAndAggregate(ctx, coords, cell.ForecastDays, nil)
		if err != nil {
			slog.Warn("cell refresh failed", "lat", cell.GridLat, "lon", cell.GridLon, "err", err)
			continue
		}
		s.persist(ctx, cell.GridLat, cell.GridLon, cell.ForecastDays, resp)
		s.forecastCache.Set(forecastCacheKey(cell.GridLat, cell.GridLon, cell.ForecastDays, nil), *resp)
		refreshed++
	}
	if refreshed > 0 {
		slog.Info("stale cells refreshed", "count", refreshed, "duration", time.Since(start))
	}
}

// snapToGrid rounds coordinates to a 0.01 degree cell so nearby requests
// share cache entries.
func snapToGrid(c units.Coordinates) (float64, float64) {
	return math.Round(float64(c.Lat)*100) / 100, math.Round(float64(c.Lon)*100) / 100
}

func forecastCacheKey(gridLat, gridLon float64, days int, models []weather.Model) string {
	return fmt.Sprintf("%.2f,%.2f,%d,%s", gridLat, gridLon, days, modelsKey(models))
}

func modelsKey(models []weather.Model) string {
	if len(models) == 0 {
		return "all"
	}
	key := ""
	for i, m := range models {
		if i > 0 {
			key += "+"
		}
		key += string(m)
	}
	return key
}
