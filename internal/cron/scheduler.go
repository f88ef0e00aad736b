package cron

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"sheetwise/internal/config"
	"sheetwise/internal/models"
	"sheetwise/internal/repository"
	"sheetwise/internal/scheduler"
)

// Scheduler runs the periodic maintenance the job engine needs but clients
// never trigger.
type Scheduler struct {
	cron   *cron.Cron
	cfg    config.JobsConfig
	jobs   *scheduler.Scheduler
	store  repository.JobStore
	logger *zap.Logger
}

// New creates the maintenance scheduler.
func New(cfg config.JobsConfig, jobs *scheduler.Scheduler, store repository.JobStore, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		cfg:    cfg,
		jobs:   jobs,
		store:  store,
		logger: logger,
	}
}

// Start registers and starts all maintenance jobs.
func (s *Scheduler) Start() {
	s.logger.Info("Starting maintenance scheduler...")

	// Job retention cleanup - daily at 3 AM
	s.cron.AddFunc("0 0 3 * * *", func() {
		s.logger.Debug("Running: job retention cleanup")
		s.cleanupOldJobs()
	})

	// Backlog report - every 10 minutes
	s.cron.AddFunc("0 */10 * * * *", func() {
		s.logger.Debug("Running: backlog report")
		s.reportBacklog()
	})

	s.cron.Start()
}

// Stop halts the cron loop; running entries finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) cleanupOldJobs() {
	defer s.recoverFromPanic("cleanupOldJobs")

	maxAge := time.Duration(s.cfg.RetentionDays) * 24 * time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := s.jobs.CleanupOldJobs(ctx, maxAge); err != nil {
		s.logger.Error("Job cleanup failed", zap.Error(err))
	}
}

func (s *Scheduler) reportBacklog() {
	defer s.recoverFromPanic("reportBacklog")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	processing, err := s.store.ListByStatus(ctx, models.JobStatusProcessing)
	if err != nil {
		s.logger.Error("Backlog query failed", zap.Error(err))
		return
	}
	queued, err := s.store.ListByStatus(ctx, models.JobStatusQueued)
	if err != nil {
		s.logger.Error("Backlog query failed", zap.Error(err))
		return
	}
	if len(processing)+len(queued) > 0 {
		s.logger.Info("Job backlog",
			zap.Int("processing", len(processing)),
			zap.Int("queued", len(queued)))
	}
}

func (s *Scheduler) recoverFromPanic(name string) {
	if r := recover(); r != nil {
		s.logger.Error("Maintenance job panicked",
			zap.String("job", name),
			zap.Any("panic", r))
	}
}
