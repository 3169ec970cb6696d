package usecase

import (
	"context"
	"log/slog"
	"time"

	"EduPipeline/internal/ports"
)

// Scheduler wires the periodic driver with the sanitary crawler.
type Scheduler struct {
	driver    ports.Scheduler
	sanitizer *Sanitizer
	logger    *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring probes.
func NewScheduler(driver ports.Scheduler, sanitizer *Sanitizer, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{driver: driver, sanitizer: sanitizer, logger: logger}
}

// Start registers the crawler with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.sanitizer == nil {
		return nil
	}

	job := func(trigger time.Time) {
		report, err := s.sanitizer.Run(ctx)
		if err != nil {
			s.logger.Error("sanitary run failed", "trigger", trigger, "err", err)
			return
		}
		s.logger.Info("sanitary run done", "trigger", trigger, "run_id", report.RunID, "states", report.States)
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
