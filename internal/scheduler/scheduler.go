// Package scheduler drives periodic refresh cycles and store backups.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/elonfeng/hnmirror/internal/backup"
	"github.com/elonfeng/hnmirror/internal/refresh"
)

// Scheduler runs the pipeline and backup manager on their intervals.
type Scheduler struct {
	pipeline   *refresh.Pipeline
	backups    *backup.Manager
	logger     *slog.Logger
	refreshInt time.Duration
	backupInt  time.Duration
}

// New creates a new scheduler.
func New(pipeline *refresh.Pipeline, backups *backup.Manager, logger *slog.Logger, refreshInt, backupInt time.Duration) *Scheduler {
	if refreshInt == 0 {
		refreshInt = 30 * time.Minute
	}
	if backupInt == 0 {
		backupInt = 24 * time.Hour
	}
	return &Scheduler{
		pipeline:   pipeline,
		backups:    backups,
		logger:     logger,
		refreshInt: refreshInt,
		backupInt:  backupInt,
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	refreshTicker := time.NewTicker(s.refreshInt)
	backupTicker := time.NewTicker(s.backupInt)
	defer refreshTicker.Stop()
	defer backupTicker.Stop()

	// Run a cycle immediately on start.
	s.logger.Info("scheduler: initial refresh")
	s.pipeline.Run(ctx)

	s.logger.Info("scheduler: running",
		"refresh_interval", s.refreshInt.String(),
		"backup_interval", s.backupInt.String())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler: stopped")
			return ctx.Err()
		case <-refreshTicker.C:
			s.logger.Info("scheduler: refreshing")
			s.pipeline.Run(ctx)
		case <-backupTicker.C:
			s.logger.Info("scheduler: creating backup")
			if _, err := s.backups.Create(); err != nil {
				s.logger.Error("scheduled backup failed", "error", err)
			}
		}
	}
}
