package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jlefkoff/VATSIM-EDST-API/internal/advisory"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/api"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/config"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/edst"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/events"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/feed"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/navdata"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/route"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/storage/redis"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/storage/sqlite"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/videomaps"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/websocket"
	"github.com/jlefkoff/VATSIM-EDST-API/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting EDST server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	if err := run(cfg, log); err != nil {
		log.Error("Server failed", logger.Error(err))
		log.Sync()
		os.Exit(1)
	}

	log.Info("Server fully stopped")
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Navigation data
	nav, err := navdata.Load(ctx, navdata.Paths{
		Airports:  cfg.Navdata.AirportsPath,
		Waypoints: cfg.Navdata.WaypointsPath,
		Airways:   cfg.Navdata.AirwaysPath,
		CDR:       cfg.Navdata.CDRPath,
		PRD:       cfg.Navdata.PRDPath,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to load navigation data: %w", err)
	}

	advisories, err := advisory.Load(cfg.Navdata.ADRPath, cfg.Navdata.ADARPath, log)
	if err != nil {
		return err
	}

	resolver := route.NewResolver(nav, cfg.Navdata.LookupCacheSize, time.Duration(cfg.Navdata.LookupCacheMins)*time.Minute)
	boundaries := navdata.NewBoundaries(cfg.Navdata.BoundariesDir)

	// Record storage
	var (
		store   edst.Store
		passes  *sqlite.PassStorage
		closers []func() error
	)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Error("Failed to close resource", logger.Error(err))
			}
		}
	}()

	switch cfg.Storage.Type {
	case "redis":
		redisStore, err := redis.New(redis.Options{
			Addr:      cfg.Storage.RedisAddr,
			Password:  cfg.Storage.RedisPassword,
			DB:        cfg.Storage.RedisDB,
			KeyPrefix: cfg.Storage.RedisKeyPrefix,
			Codec:     cfg.Storage.RedisCodec,
			KeyTTL:    time.Duration(cfg.Storage.RedisKeyTTLMins) * time.Minute,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create Redis storage: %w", err)
		}
		closers = append(closers, redisStore.Close)
		store = redisStore
		log.Info("Using Redis storage", logger.String("addr", cfg.Storage.RedisAddr))

	default:
		// Ensure the directory exists
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
		db, err := sqlite.Open(cfg.Storage.SQLitePath, log)
		if err != nil {
			return err
		}
		recordStorage, err := sqlite.NewRecordStorage(db, log)
		if err != nil {
			db.Close()
			return err
		}
		closers = append(closers, recordStorage.Close)
		store = recordStorage

		if cfg.Storage.PassHistory > 0 {
			passes, err = sqlite.NewPassStorage(db, cfg.Storage.PassHistory, log)
			if err != nil {
				return err
			}
		}
		log.Info("Using SQLite storage", logger.String("path", cfg.Storage.SQLitePath))
	}

	// Reconciliation
	feedClient := feed.NewClient(
		cfg.Feed.SourceURL,
		time.Duration(cfg.Feed.RequestTimeoutSecs)*time.Second,
		cfg.Feed.MaxRetries,
		log,
	)

	reconciler := edst.NewReconciler(store, nav, resolver, nav, advisories, edst.Options{
		RecordTTL:         cfg.RecordTTL(),
		DepartingRadiusNM: cfg.Reconciler.DepartingRadiusNM,
		FreshnessMode:     cfg.Reconciler.FreshnessMode,
	}, log)

	service := edst.NewService(reconciler, store, feedClient, resolver, boundaries, edst.ServiceConfig{
		Interval:     cfg.Interval(),
		ARTCCRangeNM: cfg.Reconciler.ARTCCRangeNM,
	}, log)

	// Notifiers
	var passHistory api.PassHistory
	if passes != nil {
		service.AddNotifier(passes)
		passHistory = passes
	}

	var wsHandler http.HandlerFunc
	if cfg.Events.WebSocketEnabled {
		wsServer := websocket.NewServer(service, websocket.BoundaryScope(boundaries, cfg.Reconciler.ARTCCRangeNM), log)
		go wsServer.Run(ctx)
		service.AddNotifier(wsServer)
		wsHandler = wsServer.HandleConnection
	}

	if cfg.Events.NATSURL != "" {
		natsNotifier, err := events.New(events.Options{
			URL:     cfg.Events.NATSURL,
			Subject: cfg.Events.NATSSubject,
			Stream:  cfg.Events.NATSStream,
			MaxAge:  time.Duration(cfg.Events.NATSMaxAgeHours) * time.Hour,
		}, log)
		if err != nil {
			return err
		}
		closers = append(closers, func() error { natsNotifier.Close(); return nil })
		service.AddNotifier(natsNotifier)
	}

	videoMaps := videomaps.NewClient(
		cfg.VideoMaps.APIBaseURL,
		time.Duration(cfg.VideoMaps.RequestTimeoutSecs)*time.Second,
		cfg.VideoMaps.MaxRetries,
		time.Duration(cfg.VideoMaps.CacheMins)*time.Minute,
		log,
	)

	if err := service.Start(ctx); err != nil {
		return fmt.Errorf("failed to start EDST service: %w", err)
	}
	defer service.Stop()

	// Create API router
	handler := api.NewHandler(service, boundaries, passHistory, videoMaps, log)
	router := api.NewRouter(handler, wsHandler, api.RouterConfig{
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
	}, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("Shutting down server...")
	case err := <-serverErr:
		return fmt.Errorf("HTTP server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	} else {
		log.Info("HTTP server shutdown complete")
	}

	return nil
}
