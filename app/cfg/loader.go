package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Database configuration
	DBPath string `long:"db-path" env:"DB_PATH" default:"./meetings.db" description:"Path to the SQLite database file"`

	// Application configuration
	SourcesFile  string `long:"sources-file" env:"SOURCES_FILE" default:"./sources.yml" description:"YAML file describing the configured feed sources"`
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseUrl      string `long:"base-url" env:"BASE_URL" description:"Public base URL for the service (e.g., https://meetings.example.com)"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for the scraper control endpoints (optional)"`

	// Scraper tuning
	FetchTimeout   int    `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"20" description:"Per-feed HTTP fetch timeout in seconds"`
	GeocodeURL     string `long:"geocode-url" env:"GEOCODE_URL" default:"https://nominatim.openstreetmap.org/search" description:"Geocoding lookup endpoint for meetings without coordinates"`
	GeocodeDelayMs int    `long:"geocode-delay-ms" env:"GEOCODE_DELAY_MS" default:"1100" description:"Minimum delay between geocoding calls in milliseconds"`
	GeocodeTimeout int    `long:"geocode-timeout" env:"GEOCODE_TIMEOUT" default:"10" description:"Geocoding call timeout in seconds"`

	// Cache tuning
	ListingCacheTTL   int `long:"listing-cache-ttl" env:"LISTING_CACHE_TTL" default:"60" description:"TTL for meeting listing responses in seconds"`
	AggregateCacheTTL int `long:"aggregate-cache-ttl" env:"AGGREGATE_CACHE_TTL" default:"600" description:"TTL for stats and coverage responses in seconds"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"RecoveryMap Aggregator/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:            raw.DBPath,
		SourcesFile:       raw.SourcesFile,
		Port:              raw.Port,
		BaseUrl:           raw.BaseUrl,
		APIAccessKey:      raw.APIAccessKey,
		FetchTimeout:      raw.FetchTimeout,
		GeocodeURL:        raw.GeocodeURL,
		GeocodeDelayMs:    raw.GeocodeDelayMs,
		GeocodeTimeout:    raw.GeocodeTimeout,
		ListingCacheTTL:   raw.ListingCacheTTL,
		AggregateCacheTTL: raw.AggregateCacheTTL,
		UserAgent:         raw.UserAgent,
		Timezone:          raw.Timezone,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
