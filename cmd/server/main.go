package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"multimet/internal/api"
	"multimet/internal/config"
	"multimet/internal/openmeteo"
	"multimet/internal/service"
	"multimet/internal/store"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var forecastStore service.ForecastStore
	if cfg.DatabaseURL != "" {
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		forecastStore = db
	} else {
		slog.Info("no DATABASE_URL set, persistent forecast cache disabled")
	}

	client := openmeteo.NewClient(cfg.ForecastBaseURL, cfg.GeocodingBaseURL,
		openmeteo.WithTimeout(cfg.RequestTimeout))

	svc := service.New(client, client, forecastStore, cfg.CacheTTL)
	go svc.RunRefreshLoop(ctx, cfg.RefreshInterval)

	mux := http.NewServeMux()
	handler := api.NewHandler(svc)
	handler.RegisterRoutes(mux)

	var root http.Handler = mux
	if cfg.ClientSecretsFile != "" {
		secrets, err := config.LoadClientSecrets(cfg.ClientSecretsFile)
		if err != nil {
			slog.Error("failed to load client secrets", "err", err)
			os.Exit(1)
		}
		root = api.NewRequestSignatureMiddleware(secrets, cfg.SignatureMaxAge)(mux)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	slog.Info("server stopped")
}
