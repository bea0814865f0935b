package openmeteo

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"multimet/internal/apperr"
	"multimet/internal/units"
	"multimet/internal/weather"
)

// FetchAllOptions configure a fanout.
type FetchAllOptions struct {
	// Models to fetch; nil means every supported model.
	Models []weather.Model
	// ForecastDays in [1, 16]; zero means 7.
	ForecastDays int
	// Timezone is an IANA name or "auto".
	Timezone string
}

// fetchSlot is one model's outcome. Each goroutine writes only its own
// slot, so the fanout needs no shared accumulator.
type fetchSlot struct {
	forecast weather.ModelForecast
	err      error
}

// FetchAll fans one fetch per requested model out in parallel and awaits
// them all. A failing model never aborts the rest; failures are collected
// per model, and caller cancellation surfaces as failures with the
// Cancelled kind rather than as an error return.
func (c *Client) FetchAll(ctx context.Context, coords units.Coordinates, opts FetchAllOptions) weather.FanoutResult {
	models := opts.Models
	if len(models) == 0 {
		models = weather.AllModels()
	}
	days := opts.ForecastDays
	if days == 0 {
		days = 7
	}

	start := c.now()
	slots := make([]fetchSlot, len(models))

	g, gctx := errgroup.WithContext(ctx)
	for i, m := range models {
		g.Go(func() error {
			fc, err := c.Fetch(gctx, m, coords, days, opts.Timezone)
			if err != nil {
				slots[i] = fetchSlot{err: err}
				return nil // a model failure must not cancel the siblings
			}
			slots[i] = fetchSlot{forecast: fc}
			return nil
		})
	}
	// All goroutines return nil; Wait is just the join point.
	_ = g.Wait()

	result := weather.FanoutResult{
		FetchedAt:     start.UTC(),
		TotalDuration: time.Since(start),
	}
	for i, slot := range slots {
		if slot.err != nil {
			kind := apperr.KindOf(slot.err)
			if ctx.Err() != nil && kind == apperr.Unknown {
				kind = apperr.Cancelled
			}
			result.Failures = append(result.Failures, weather.FetchFailure{
				Model: models[i],
				Kind:  kind,
				Err:   slot.err,
			})
			slog.Warn("model fetch failed",
				"model", models[i],
				"kind", kind.String(),
				"err", slot.err,
			)
			continue
		}
		result.Forecasts = append(result.Forecasts, slot.forecast)
	}

	slog.Info("fanout complete",
		"requested", len(models),
		"succeeded", len(result.Forecasts),
		"failed", len(result.Failures),
		"duration", result.TotalDuration,
	)
	return result
}
