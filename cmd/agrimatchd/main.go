// Package main provides the agrimatchd daemon - the AgriMatch produce
// marketplace core.
package main

import (
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/agrimatch/core/internal/application/escrowflow"
	"github.com/agrimatch/core/internal/application/logisticsflow"
	"github.com/agrimatch/core/internal/application/orderflow"
	"github.com/agrimatch/core/internal/config"
	"github.com/agrimatch/core/internal/events"
	"github.com/agrimatch/core/internal/httpapi"
	"github.com/agrimatch/core/internal/matcher"
	"github.com/agrimatch/core/internal/monitor"
	"github.com/agrimatch/core/internal/processor"
	"github.com/agrimatch/core/internal/storage"
	"github.com/agrimatch/core/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.agrimatch", "Data directory")
		configFile  = flag.String("config", "", "Config file path; only its directory is used, and config.yaml is read from there (default: <data-dir>/config.yaml)")
		listenAddr  = flag.String("listen", "", "HTTP listen address, overrides config")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{
		Level:      "info",
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("agrimatchd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	configDir := *dataDir
	if *configFile != "" {
		configDir = filepath.Dir(*configFile)
	}
	cfg, err := config.Load(configDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	log.Info("Config loaded", "path", cfg.DBPath())

	store, err := storage.New(storage.Config{
		DataDir: cfg.Storage.DataDir,
		DBFile:  cfg.Storage.DBFile,
	})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("Storage initialized", "path", cfg.DBPath())

	proc := processor.New(cfg.Processor.APIKey, cfg.Processor.Demo)
	log.Info("Payment processor client initialized", "demo", cfg.Processor.Demo)

	fallback, err := matcher.NewFileSeededStore(cfg.Matcher.SeedFile)
	if err != nil {
		log.Warn("Failed to load seeded logistics fallback, continuing without it", "error", err)
	}
	var spatialStore matcher.SpatialStore = matcher.NewSQLiteStore(store)
	if fallback != nil {
		spatialStore = matcher.NewFallbackStore(spatialStore, fallback)
	}
	spatialMatcher := matcher.New(spatialStore)
	log.Info("Spatial matcher initialized", "buffer_km", matcher.DefaultBufferKM)

	hub := events.NewHub()

	orders := orderflow.New(store, hub)
	escrows := escrowflow.New(store, proc, hub)
	logistics := logisticsflow.New(store, spatialMatcher, hub)
	log.Info("Application services wired")

	logisticsMonitor := monitor.NewLogisticsTimeoutMonitor(
		store, orders, escrows,
		cfg.Monitor.LogisticsSearchTimeout, cfg.Monitor.LogisticsPollInterval,
	)
	gpsMonitor := monitor.NewGPSHeartbeatMonitor(
		store, hub,
		cfg.Monitor.GPSHeartbeatTimeout, cfg.Monitor.GPSPollInterval,
	)
	bidMonitor := monitor.NewBidExpiryMonitor(store, cfg.Monitor.BidExpiryPollInterval)

	logisticsMonitor.Start()
	gpsMonitor.Start()
	bidMonitor.Start()
	log.Info("Background monitors started")

	api := httpapi.New(cfg, store, orders, escrows, logistics, spatialMatcher, proc, hub)
	if err := api.Start(); err != nil {
		log.Fatal("Failed to start HTTP API", "error", err)
	}

	printBanner(log, cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("Shutting down...")

	if err := api.Stop(); err != nil {
		log.Error("Error stopping HTTP API", "error", err)
	}
	bidMonitor.Stop()
	gpsMonitor.Stop()
	logisticsMonitor.Stop()

	log.Info("Goodbye!")
}

func printBanner(log *logging.Logger, cfg *config.Config) {
	log.Info("")
	log.Info("=================================================")
	log.Info("  AgriMatch Core")
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  API: http://%s/api/v1", cfg.Server.ListenAddr)
	log.Infof("  WS:  ws://%s/ws/orders/{order_id}", cfg.Server.ListenAddr)
	log.Info("")
	log.Infof("  Data dir: %s", cfg.Storage.DataDir)
	log.Infof("  Processor demo mode: %v", cfg.Processor.Demo)
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
