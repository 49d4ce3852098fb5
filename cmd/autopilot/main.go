package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dropship-autopilot/internal/db"
	"dropship-autopilot/internal/events"
	"dropship-autopilot/internal/interfaces"
	"dropship-autopilot/internal/logger"
	"dropship-autopilot/internal/trace"
	"dropship-autopilot/internal/types"
)

func main() {
	if err := initializeSystem(); err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer trace.Shutdown(context.Background())

	cfg, err := loadConfig(ctx)
	if err != nil {
		os.Exit(1)
	}

	compressOldLogs(ctx)

	dbh, err := db.NewDB(cfg.DBPath)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to open database", err)
		os.Exit(1)
	}
	defer dbh.Close()

	bus := events.NewBus(16)
	evc, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	autopilot, err := initializePilot(ctx, cfg, dbh, bus)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to initialize autopilot", err)
		os.Exit(1)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	if err := autopilot.Start(); err != nil {
		logger.ErrorWithErr(ctx, "Failed to start autopilot", err)
		os.Exit(1)
	}
	logger.Info(ctx, "Autopilot started", "user_id", cfg.UserID, "mode", cfg.Mode)

	statusTick := time.NewTicker(60 * time.Second)
	defer statusTick.Stop()

	for {
		select {
		case ev := <-evc:
			b, _ := json.Marshal(ev)
			logger.Info(ctx, "Event", "event", string(b))
		case <-statusTick.C:
			st := autopilot.Status()
			b, _ := json.Marshal(st)
			fmt.Println(string(b))
		case <-sigc:
			logger.Info(ctx, "Shutting down...")
			if err := autopilot.Stop(); err != nil {
				logger.Warn(ctx, "Stop returned error", "error", err)
			}
			drainShutdown(ctx, autopilot)
			return
		case <-ctx.Done():
			return
		}
	}
}

// drainShutdown waits for an in-flight cycle to finish, then prints the
// lifetime performance report the way an operator would want to see it on
// the way out.
func drainShutdown(ctx context.Context, autopilot interfaces.Autopilot) {
	deadline := time.After(2 * time.Minute)
	for autopilot.Status().State != types.StateStopped {
		select {
		case <-deadline:
			logger.Warn(ctx, "Cycle still running at shutdown deadline, exiting anyway")
			return
		case <-time.After(250 * time.Millisecond):
		}
	}
	report, err := autopilot.PerformanceReport(ctx)
	if err != nil {
		logger.Warn(ctx, "Failed to build performance report", "error", err)
		return
	}
	b, _ := json.Marshal(report)
	fmt.Println(string(b))
}
