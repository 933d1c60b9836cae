package bootstrap

import (
	"context"
	"time"

	"marketintel/pkg/logger"
)

// shutdownTimeout bounds the whole shutdown sequence.
const shutdownTimeout = 60 * time.Second

// Start brings the application up: background workers first, then the HTTP
// server. The server runs until Shutdown.
func (c *Container) Start(ctx context.Context) error {
	if err := c.Scheduler.Start(ctx); err != nil {
		return err
	}

	go func() {
		if err := c.Server.Start(); err != nil {
			// A bind failure this early is unrecoverable.
			c.Log.Fatalw("HTTP server failed", "error", err)
		}
	}()

	return nil
}

// Shutdown performs coordinated cleanup in dependency order:
//  1. stop accepting HTTP requests
//  2. stop background sweeps
//  3. suspend active runs at their next checkpoint
//  4. close the event producer
//  5. flush error tracking and logs
//  6. close data stores last, since earlier steps still write to them
func (c *Container) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log := c.Log

	log.Info("[1/6] Stopping HTTP server...")
	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := c.Server.Shutdown(httpCtx); err != nil {
		log.Errorw("HTTP server shutdown failed", "error", err)
	}
	httpCancel()

	log.Info("[2/6] Stopping background workers...")
	if c.Scheduler.IsRunning() {
		if err := c.Scheduler.Stop(); err != nil {
			log.Errorw("Worker shutdown failed", "error", err)
		}
	}

	log.Info("[3/6] Suspending active runs...")
	drainCtx, drainCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := c.Service.Shutdown(drainCtx); err != nil {
		log.Warnw("Some runs did not suspend in time", "error", err)
	}
	drainCancel()

	log.Info("[4/6] Closing event producer...")
	if c.Kafka != nil {
		if err := c.Kafka.Close(); err != nil {
			log.Errorw("Kafka producer close failed", "error", err)
		}
	}

	log.Info("[5/6] Flushing error tracker and logs...")
	if c.ErrorTracker != nil {
		flushCtx, flushCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := c.ErrorTracker.Flush(flushCtx); err != nil {
			log.Errorw("Error tracker flush failed", "error", err)
		}
		flushCancel()
	}
	if err := logger.Sync(); err != nil {
		log.Warn("Log sync completed with warnings")
	}

	log.Info("[6/6] Closing data stores...")
	c.closeStores()

	log.Info("Shutdown complete")
}

func (c *Container) closeStores() {
	log := c.Log

	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			log.Errorw("Checkpoint store close failed", "error", err)
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(); err != nil {
			log.Errorw("Postgres close failed", "error", err)
		}
	}
	if c.ClickHouse != nil {
		if err := c.ClickHouse.Close(); err != nil {
			log.Errorw("ClickHouse close failed", "error", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			log.Errorw("Redis close failed", "error", err)
		}
	}
}
