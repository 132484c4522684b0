// Package tasks wires scheduled maintenance jobs.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/quicklingo/quicklingo/internal/database"
)

// maintenanceSchedule runs the store maintenance nightly, off-peak.
const maintenanceSchedule = "0 4 * * *"

// Scheduler runs periodic maintenance jobs.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
}

// NewScheduler creates a scheduler with the database maintenance job
// registered.
func NewScheduler(store database.Store, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "scheduler")

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.CronJob(maintenanceSchedule, false),
		gocron.NewTask(func(ctx context.Context) {
			log.InfoContext(ctx, "Running scheduled database maintenance")
			start := time.Now()
			if err := store.Vacuum(ctx); err != nil {
				log.ErrorContext(ctx, "Database maintenance failed", "error", err, "duration", time.Since(start))
				return
			}
			log.InfoContext(ctx, "Database maintenance finished", "duration", time.Since(start))
		}, context.Background()),
		gocron.WithName("db_maintenance"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule maintenance job: %w", err)
	}

	return &Scheduler{scheduler: s, logger: log}, nil
}

// Start begins scheduling jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.logger.Info("Scheduler started", "maintenance_schedule", maintenanceSchedule)
}

// Stop shuts the scheduler down, waiting for running jobs.
func (s *Scheduler) Stop() error {
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("scheduler shutdown failed: %w", err)
	}
	s.logger.Info("Scheduler stopped")
	return nil
}
