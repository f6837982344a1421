package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"kgraph-backend/internal/di"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configDir := os.Getenv("KGRAPH_CONFIG_DIR")
	if configDir == "" {
		configDir = "config"
	}

	container, err := di.NewContainer(ctx, configDir)
	if err != nil {
		log.Fatalf("failed to initialize container: %v", err)
	}

	container.Logger.Info("starting worker service",
		zap.String("environment", string(container.Config.Environment)))

	go container.Sched.Run(ctx, 500*time.Millisecond)
	go startRetentionSweep(ctx, container, container.Logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	container.Logger.Info("shutting down worker service")
	cancel()
	container.Sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := container.Shutdown(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}

	log.Println("worker service stopped")
}

// startRetentionSweep periodically deletes terminal jobs older than the
// configured retention window.
func startRetentionSweep(ctx context.Context, c *di.Container, logger *zap.Logger) {
	interval := c.Config.Scheduler.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("retention sweep shutting down")
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-c.Config.Scheduler.RetentionWindow)
			deleted, err := c.Relational.DeleteTerminalJobsOlderThan(ctx, cutoff)
			if err != nil {
				logger.Warn("retention sweep failed", zap.Error(err))
				continue
			}
			if deleted > 0 {
				logger.Info("retention sweep completed", zap.Int("jobs_deleted", deleted))
			}
		}
	}
}
