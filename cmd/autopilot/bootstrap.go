package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"dropship-autopilot/internal/approval"
	"dropship-autopilot/internal/attemptlog"
	"dropship-autopilot/internal/creds"
	"dropship-autopilot/internal/db"
	"dropship-autopilot/internal/events"
	"dropship-autopilot/internal/interfaces"
	"dropship-autopilot/internal/ledger"
	"dropship-autopilot/internal/logger"
	"dropship-autopilot/internal/pilot"
	"dropship-autopilot/internal/pilot/pilotobs"
	"dropship-autopilot/internal/publish"
	"dropship-autopilot/internal/publish/publishobs"
	"dropship-autopilot/internal/source"
	"dropship-autopilot/internal/source/sourceobs"
	"dropship-autopilot/internal/store"
	"dropship-autopilot/internal/trace"

	"github.com/joho/godotenv"
)

// initializeSystem initializes environment, logger and tracer
func initializeSystem() error {
	// Load environment variables
	_ = godotenv.Load()

	// Initialize logger
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Initialize tracer
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}

	return nil
}

// loadConfig loads and returns the configuration
func loadConfig(ctx context.Context) (*store.Config, error) {
	path := os.Getenv("AUTOPILOT_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := store.LoadConfig(path)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err)
		return nil, err
	}
	return cfg, nil
}

// compressOldLogs compresses old attempt journal files if retention is configured
func compressOldLogs(ctx context.Context) {
	if v := os.Getenv("AUTOPILOT_LOG_RETENTION_DAYS"); v != "" {
		var n int
		fmt.Sscanf(v, "%d", &n)
		if err := attemptlog.CompressOlder(n); err != nil {
			logger.Warn(ctx, "Failed to compress old attempt logs", "error", err)
		}
	}
}

// initializeSource initializes and returns the opportunity source with observability
func initializeSource(ctx context.Context, cfg *store.Config) interfaces.OpportunitySource {
	var src interfaces.OpportunitySource
	if cfg.SourceMode == "LIVE" {
		logger.Info(ctx, "Using LIVE supplier scraping", "suppliers", len(cfg.Scraper.Sources))
		src = source.NewScraper(cfg.Scraper.Sources, time.Duration(cfg.Marketplace.TimeoutSec)*time.Second)
	} else {
		logger.Info(ctx, "Using STATIC mock opportunity data for testing")
		src = source.NewStaticSource()
	}

	// Wrap with observability middleware
	return sourceobs.Wrap(src)
}

// initializeGateway initializes and returns the publish gateway with observability
func initializeGateway(ctx context.Context, cfg *store.Config) interfaces.PublishGateway {
	gw := publish.NewGateway(publish.Params{
		Mode:          cfg.Mode,
		Marketplace:   cfg.Marketplace.Name,
		SandboxURL:    cfg.Marketplace.SandboxURL,
		ProductionURL: cfg.Marketplace.ProductionURL,
		Timeout:       time.Duration(cfg.Marketplace.TimeoutSec) * time.Second,
	})

	if cfg.Mode == "DRY_RUN" {
		logger.Warn(ctx, "Running in DRY_RUN mode - listings will be simulated")
	}

	// Wrap with observability middleware
	return publishobs.Wrap(gw)
}

// initializePilot wires the per-user stores and returns the autopilot with
// observability. The event bus is created by the caller so it can subscribe
// before the first cycle fires.
func initializePilot(ctx context.Context, cfg *store.Config, dbh *sql.DB, bus *events.Bus) (interfaces.Autopilot, error) {
	purchases := &db.UserPurchases{DB: dbh, UserID: cfg.UserID}
	capital := ledger.New(purchases, cfg.Autopilot.WorkingCapital)

	resolver := creds.NewResolver(
		&db.UserCredentials{DB: dbh, UserID: cfg.UserID},
		cfg.Creds.DefaultEnvironment,
		time.Duration(cfg.Creds.CacheTTLSeconds)*time.Second,
	)

	deps := pilot.Deps{
		UserID:        cfg.UserID,
		Source:        initializeSource(ctx, cfg),
		Gateway:       initializeGateway(ctx, cfg),
		Resolver:      resolver,
		Ledger:        capital,
		Approvals:     approval.NewQueue(&db.UserApprovals{DB: dbh, UserID: cfg.UserID}),
		Results:       &db.UserCycleResults{DB: dbh, UserID: cfg.UserID},
		Configs:       &db.UserConfig{DB: dbh, UserID: cfg.UserID},
		Attempts:      &db.UserAttempts{DB: dbh, UserID: cfg.UserID},
		Bus:           bus,
		CycleDeadline: time.Duration(cfg.Cycle.DeadlineSeconds) * time.Second,
	}

	// Resume from the persisted config if a previous run left one behind;
	// otherwise seed from config.yaml.
	p, err := pilot.Resume(ctx, deps)
	if errors.Is(err, db.ErrNotFound) {
		logger.Info(ctx, "No persisted autopilot config, seeding from config.yaml")
		p, err = pilot.New(ctx, deps, cfg.Autopilot)
	}
	if err != nil {
		return nil, err
	}

	// Wrap with observability middleware
	return pilotobs.Wrap(p), nil
}
