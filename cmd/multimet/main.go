// Command multimet is the terminal client for the multi-model forecast
// engine: consensus forecasts, side-by-side model comparison and geocoding
// lookups against the live Open-Meteo APIs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"multimet/internal/apperr"
	"multimet/internal/openmeteo"
	"multimet/internal/service"
	"multimet/internal/units"
	"multimet/internal/weather"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", apperr.Message(err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "multimet",
		Short:         "Multi-model weather forecasts with consensus and confidence",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().Int("days", 7, "forecast horizon in days (1-16)")
	root.PersistentFlags().StringSlice("models", nil, "model subset (e.g. ecmwf,gfs); default is all models")
	root.PersistentFlags().String("base-url", openmeteo.DefaultForecastBaseURL, "forecast API base URL")
	root.PersistentFlags().String("geocoding-url", openmeteo.DefaultGeocodingBaseURL, "geocoding API base URL")
	root.PersistentFlags().Duration("timeout", 10*time.Second, "per-request timeout")
	root.PersistentFlags().Bool("json", false, "emit raw JSON instead of text")

	viper.SetEnvPrefix("MULTIMET")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.BindPFlags(root.PersistentFlags())

	// The CLI only needs warnings on stderr; forecasts go to stdout.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	root.AddCommand(newForecastCmd(), newCompareCmd(), newGeocodeCmd())
	return root
}

func newService() *service.Service {
	client := openmeteo.NewClient(
		viper.GetString("base-url"),
		viper.GetString("geocoding-url"),
		openmeteo.WithTimeout(viper.GetDuration("timeout")),
	)
	return service.New(client, client, nil, time.Minute)
}

func selectedModels() ([]weather.Model, error) {
	var models []weather.Model
	for _, name := range viper.GetStringSlice("models") {
		m, err := weather.ParseModel(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, nil
}

// locate resolves the positional location argument, or --lat/--lon when no
// argument is given.
func locate(cmd *cobra.Command, args []string) (query string, coords units.Coordinates, byName bool, err error) {
	if len(args) > 0 {
		return strings.Join(args, " "), units.Coordinates{}, true, nil
	}
	lat, _ := cmd.Flags().GetFloat64("lat")
	lon, _ := cmd.Flags().GetFloat64("lon")
	if !cmd.Flags().Changed("lat") || !cmd.Flags().Changed("lon") {
		return "", units.Coordinates{}, false,
			apperr.New(apperr.InvalidInput, "a location name or both --lat and --lon are required")
	}
	coords, err = units.NewCoordinates(lat, lon)
	return "", coords, false, err
}

func addCoordFlags(cmd *cobra.Command) {
	cmd.Flags().Float64("lat", 0, "latitude in decimal degrees")
	cmd.Flags().Float64("lon", 0, "longitude in decimal degrees")
}

func newForecastCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forecast [location]",
		Short: "Consensus forecast across all models",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query, coords, byName, err := locate(cmd, args)
			if err != nil {
				return err
			}
			models, err := selectedModels()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			svc := newService()
			days := viper.GetInt("days")

			var resp *service.ForecastResponse
			if byName {
				resp, err = svc.ForecastByQuery(ctx, query, days, models)
			} else {
				resp, err = svc.ForecastByCoords(ctx, coords, days, models)
			}
			if err != nil {
				return err
			}

			if viper.GetBool("json") {
				return printJSON(cmd, resp)
			}
			renderForecast(cmd, resp)
			return nil
		},
	}
	addCoordFlags(cmd)
	return cmd
}

func newCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare [location]",
		Short: "Side-by-side per-model forecasts with outlier tags",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query, coords, byName, err := locate(cmd, args)
			if err != nil {
				return err
			}
			models, err := selectedModels()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			svc := newService()
			days := viper.GetInt("days")

			var resp *service.CompareResponse
			if byName {
				resp, err = svc.CompareByQuery(ctx, query, days, models)
			} else {
				resp, err = svc.Compare(ctx, coords, days, models)
			}
			if err != nil {
				return err
			}

			if viper.GetBool("json") {
				return printJSON(cmd, resp)
			}
			renderCompare(cmd, resp)
			return nil
		},
	}
	addCoordFlags(cmd)
	return cmd
}

func newGeocodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "geocode <query>",
		Short: "Look up coordinates for a place name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetInt("count")

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			svc := newService()
			results, err := svc.Geocode(ctx, strings.Join(args, " "), count)
			if err != nil {
				return err
			}

			if viper.GetBool("json") {
				return printJSON(cmd, results)
			}
			for _, r := range results {
				cmd.Printf("%-28s %9.4f %9.4f  %s\n",
					placeLabel(r), float64(r.Coordinates.Lat), float64(r.Coordinates.Lon), r.Timezone)
			}
			return nil
		},
	}
	cmd.Flags().Int("count", 5, "maximum number of matches")
	return cmd
}

func renderForecast(cmd *cobra.Command, resp *service.ForecastResponse) {
	if resp.Location != nil {
		cmd.Printf("Forecast for %s\n\n", placeLabel(*resp.Location))
	}
	cmd.Println(resp.Narrative.Headline)
	cmd.Println(resp.Narrative.Body)
	cmd.Println()

	if len(resp.Forecast.Daily) > 0 {
		cmd.Printf("%-12s %6s %6s %8s %6s %7s  %s\n",
			"Date", "Low", "High", "Precip", "PoP", "Wind", "Confidence")
		for _, d := range resp.Forecast.Daily {
			day := d.Daily
			cmd.Printf("%-12s %5.1f° %5.1f° %6.1fmm %5.0f%% %4.1fm/s  %s (%.2f)\n",
				d.Date.Format("Mon Jan 02"),
				float64(day.Temperature.Min), float64(day.Temperature.Max),
				float64(day.Precipitation.Total), float64(day.Precipitation.Probability)*100,
				float64(day.Wind.Average),
				d.Confidence.Level, d.Confidence.Score)
		}
		cmd.Println()
	}

	for _, alert := range resp.Narrative.Alerts {
		cmd.Println("!", alert)
	}
	for _, note := range resp.Narrative.ModelNotes {
		cmd.Println("-", note)
	}
	for _, f := range resp.Failures {
		cmd.Printf("- %s unavailable: %s\n", f.Model.DisplayName(), f.Kind)
	}
	cmd.Printf("\nModels reporting: %.0f%%\n", resp.SuccessRate*100)
}

func renderCompare(cmd *cobra.Command, resp *service.CompareResponse) {
	if resp.Location != nil {
		cmd.Printf("Model comparison for %s\n\n", placeLabel(*resp.Location))
	}

	outliers := map[weather.Model]bool{}
	for _, m := range resp.Outliers {
		outliers[m] = true
	}

	cmd.Printf("%-22s %10s %10s %8s\n", "Model", "Avg High", "Avg Low", "Precip")
	for _, mf := range resp.Forecasts {
		var hiSum, loSum, precipSum float64
		for _, d := range mf.Daily {
			hiSum += float64(d.Temperature.Max)
			loSum += float64(d.Temperature.Min)
			precipSum += float64(d.Precipitation.Total)
		}
		n := float64(len(mf.Daily))
		if n == 0 {
			n = 1
		}
		tag := ""
		if outliers[mf.Model] {
			tag = " *outlier"
		}
		cmd.Printf("%-22s %9.1f° %9.1f° %6.1fmm%s\n",
			mf.Model.DisplayName(), hiSum/n, loSum/n, precipSum, tag)
	}

	for _, f := range resp.Failures {
		cmd.Printf("%-22s unavailable: %s\n", f.Model.DisplayName(), f.Kind)
	}
}

func placeLabel(r weather.GeocodingResult) string {
	if r.Region != "" {
		return fmt.Sprintf("%s, %s, %s", r.Name, r.Region, r.Country)
	}
	if r.Country != "" {
		return fmt.Sprintf("%s, %s", r.Name, r.Country)
	}
	return r.Name
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
