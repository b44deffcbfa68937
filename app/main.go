package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/recoverymap/aggregator/app/api"
	"github.com/recoverymap/aggregator/app/cache"
	"github.com/recoverymap/aggregator/app/cfg"
	"github.com/recoverymap/aggregator/app/database"
	"github.com/recoverymap/aggregator/app/feed"
	"github.com/recoverymap/aggregator/app/scrape"
)

func main() {
	// .env is optional; flags and real environment variables win
	godotenv.Load()

	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting RecoveryMap Aggregator", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "path", appCfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "migration_version", version, "dirty", dirty)

	sources := feed.NewSourceCache(appCfg.SourcesFile)
	if err := sources.Run(); err != nil {
		slog.Error("Failed to load sources", "file", appCfg.SourcesFile, "error", err)
		os.Exit(1)
	}
	slog.Info("Sources loaded", "file", appCfg.SourcesFile, "count", sources.Count())

	httpClient := &http.Client{}
	fetcher := feed.NewFetcher(httpClient, appCfg.UserAgent, time.Duration(appCfg.FetchTimeout)*time.Second)
	geocoder := scrape.NewGeocoder(httpClient, appCfg.GeocodeURL, appCfg.UserAgent,
		time.Duration(appCfg.GeocodeDelayMs)*time.Millisecond,
		time.Duration(appCfg.GeocodeTimeout)*time.Second)

	meetingRepo := database.NewMeetingRepository(db)
	respCache := cache.New(cache.DefaultCapacity)

	orchestrator := scrape.NewOrchestrator(sources, fetcher, geocoder, meetingRepo, respCache)

	apiHandler := api.NewHandler(meetingRepo, sources, orchestrator, respCache,
		time.Duration(appCfg.ListingCacheTTL)*time.Second,
		time.Duration(appCfg.AggregateCacheTTL)*time.Second)
	server := api.NewServer(apiHandler, appCfg.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
