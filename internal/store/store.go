// Package store is the Postgres-backed cache of aggregated forecasts.
// Forecasts are stored as opaque serialized payloads keyed by snapped grid
// cell and horizon; the engine never queries inside them.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"multimet/internal/apperr"
	"multimet/internal/weather"
)

// Schema is the DDL the store expects. Applied out of band.
const Schema = `
CREATE TABLE IF NOT EXISTS forecast_cache (
	grid_lat      double precision NOT NULL,
	grid_lon      double precision NOT NULL,
	forecast_days integer          NOT NULL,
	payload       jsonb            NOT NULL,
	fetched_at    timestamptz      NOT NULL,
	PRIMARY KEY (grid_lat, grid_lon, forecast_days)
);
CREATE TABLE IF NOT EXISTS fetch_failures (
	model      text        NOT NULL,
	kind       text        NOT NULL,
	grid_lat   double precision NOT NULL,
	grid_lon   double precision NOT NULL,
	occurred_at timestamptz NOT NULL DEFAULT now()
);
`

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// CachedForecast pairs a payload with its grid cell for batch upserts.
type CachedForecast struct {
	GridLat      float64
	GridLon      float64
	ForecastDays int
	Forecast     weather.AggregatedForecast
	FetchedAt    time.Time
}

// GetForecast loads a cached aggregate for a grid cell. The second return
// is false when no row exists.
func (s *Store) GetForecast(ctx context.Context, gridLat, gridLon float64, days int) (weather.AggregatedForecast, time.Time, bool, error) {
	var payload []byte
	var fetchedAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT payload, fetched_at
		 FROM forecast_cache
		 WHERE grid_lat = $1 AND grid_lon = $2 AND forecast_days = $3`,
		gridLat, gridLon, days,
	).Scan(&payload, &fetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return weather.AggregatedForecast{}, time.Time{}, false, nil
	}
	if err != nil {
		return weather.AggregatedForecast{}, time.Time{}, false, apperr.Wrap(apperr.CacheReadError, "read cached forecast", err)
	}

	var agg weather.AggregatedForecast
	if err := json.Unmarshal(payload, &agg); err != nil {
		return weather.AggregatedForecast{}, time.Time{}, false, apperr.Wrap(apperr.CacheCorrupted, "cached forecast is corrupted", err)
	}
	return agg, fetchedAt, true, nil
}

// UpsertForecasts stores serialized copies of aggregated forecasts in one
// batch round-trip.
func (s *Store) UpsertForecasts(ctx context.Context, forecasts []CachedForecast) error {
	batch := &pgx.Batch{}
	for _, cf := range forecasts {
		payload, err := json.Marshal(cf.Forecast)
		if err != nil {
			return apperr.Wrap(apperr.CacheWriteError, "serialize forecast", err)
		}
		batch.Queue(
			`INSERT INTO forecast_cache (grid_lat, grid_lon, forecast_days, payload, fetched_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (grid_lat, grid_lon, forecast_days)
			 DO UPDATE SET payload = $4, fetched_at = $5`,
			cf.GridLat, cf.GridLon, cf.ForecastDays, payload, cf.FetchedAt,
		)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range forecasts {
		if _, err := br.Exec(); err != nil {
			return apperr.Wrap(apperr.CacheWriteError, "upsert cached forecast", err)
		}
	}
	return nil
}

// RecordFailures keeps a trail of model fetch failures for operational
// visibility.
func (s *Store) RecordFailures(ctx context.Context, gridLat, gridLon float64, failures []weather.FetchFailure) error {
	if len(failures) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, f := range failures {
		batch.Queue(
			`INSERT INTO fetch_failures (model, kind, grid_lat, grid_lon)
			 VALUES ($1, $2, $3, $4)`,
			string(f.Model), f.Kind.String(), gridLat, gridLon,
		)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range failures {
		if _, err := br.Exec(); err != nil {
			return apperr.Wrap(apperr.CacheWriteError, "record fetch failure", err)
		}
	}
	return nil
}

// CachedCells lists every grid cell currently cached, for the background
// refresh loop.
func (s *Store) CachedCells(ctx context.Context) ([]CachedForecast, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT grid_lat, grid_lon, forecast_days, fetched_at FROM forecast_cache`)
	if err != nil {
		return nil, apperr.Wrap(apperr.CacheReadError, "list cached cells", err)
	}
	defer rows.Close()

	var cells []CachedForecast
	for rows.Next() {
		var c CachedForecast
		if err := rows.Scan(&c.GridLat, &c.GridLon, &c.ForecastDays, &c.FetchedAt); err != nil {
			return nil, apperr.Wrap(apperr.CacheReadError, "scan cached cell", err)
		}
		cells = append(cells, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.CacheReadError, "iterate cached cells", err)
	}
	return cells, nil
}
