package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sheetwise/internal/ai"
	"sheetwise/internal/config"
	"sheetwise/internal/events"
	"sheetwise/internal/models"
	"sheetwise/internal/repository"
	"sheetwise/internal/resilience"
	"sheetwise/internal/sheets"
)

const (
	reasonCancelled   = "cancelled by user"
	reasonInterrupted = "interrupted by restart"

	eventSource = "scheduler"
)

// ErrInvalidTask rejects a malformed creation request before anything is
// persisted.
var ErrInvalidTask = errors.New("invalid task")

// Scheduler owns the job lifecycle: creation, durable persistence, batched
// execution against the row transformer, progress, cancellation, and
// startup recovery. It is the single writer of the job table.
type Scheduler struct {
	cfg         config.JobsConfig
	store       repository.JobStore
	sheets      sheets.Client
	transformer ai.RowTransformer
	exec        *resilience.Executor
	bus         *events.Bus
	logger      *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New wires a Scheduler. The executor shields every transformer call with
// retry and the shared circuit breaker.
func New(
	cfg config.JobsConfig,
	store repository.JobStore,
	sheetClient sheets.Client,
	transformer ai.RowTransformer,
	bus *events.Bus,
	logger *zap.Logger,
) *Scheduler {
	breaker := resilience.NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerReset)
	exec := resilience.NewExecutor(resilience.Options{
		MaxAttempts:   cfg.MaxAttempts,
		InitialDelay:  cfg.InitialDelay,
		MaxDelay:      cfg.MaxDelay,
		BackoffFactor: cfg.BackoffFactor,
		Retryable:     []resilience.Matcher{resilience.IsTransient},
	}, breaker, logger)

	return &Scheduler{
		cfg:         cfg,
		store:       store,
		sheets:      sheetClient,
		transformer: transformer,
		exec:        exec,
		bus:         bus,
		logger:      logger,
		cancels:     make(map[string]context.CancelFunc),
	}
}

// CreateJob validates the task, persists it as queued and starts its batch
// loop without blocking the caller.
func (s *Scheduler) CreateJob(ctx context.Context, task models.TaskSpec) (string, error) {
	if err := validateTask(task); err != nil {
		return "", err
	}

	sourceFields, _ := json.Marshal(task.SourceFields)
	params, _ := json.Marshal(task.Params)

	job := &models.Job{
		ID:           uuid.NewString(),
		SheetID:      task.SheetID,
		Status:       models.JobStatusQueued,
		SourceFields: string(sourceFields),
		TargetField:  task.TargetField,
		Operation:    task.Operation,
		Params:       string(params),
	}
	if err := s.store.Create(ctx, job); err != nil {
		return "", fmt.Errorf("persist job: %w", err)
	}

	s.bus.Publish(events.KindJobCreated, events.JobPayload{
		JobID:   job.ID,
		SheetID: job.SheetID,
		Status:  job.Status,
	}, eventSource)

	signal := s.registerCancel(job.ID)
	go s.run(job, signal)

	return job.ID, nil
}

// GetStatus returns the last durably committed state of a job.
func (s *Scheduler) GetStatus(ctx context.Context, jobID string) (*models.Job, error) {
	return s.store.FindByID(ctx, jobID)
}

// CancelJob signals cooperative cancellation. The in-flight batch, if any,
// finishes before the runner observes the signal. Terminal jobs are a no-op.
func (s *Scheduler) CancelJob(ctx context.Context, jobID string) error {
	job, err := s.store.FindByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Terminal() {
		return nil
	}

	s.mu.Lock()
	cancel, running := s.cancels[jobID]
	s.mu.Unlock()

	if running {
		cancel()
		return nil
	}

	// No live runner for this record (e.g. cancelled right after a crash
	// left it queued): finalize directly. A false transition means the
	// runner beat us to a terminal state; its event already went out.
	transitioned, err := s.store.Finalize(ctx, jobID, models.JobStatusFailed, reasonCancelled)
	if err != nil {
		return err
	}
	if !transitioned {
		return nil
	}
	s.bus.Publish(events.KindJobFailed, events.JobPayload{
		JobID:   jobID,
		SheetID: job.SheetID,
		Status:  models.JobStatusFailed,
		Error:   reasonCancelled,
	}, eventSource)
	return nil
}

// CleanupOldJobs removes terminal records older than the retention window.
func (s *Scheduler) CleanupOldJobs(ctx context.Context, maxAge time.Duration) (int64, error) {
	deleted, err := s.store.DeleteTerminalBefore(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info("Removed old jobs", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

// RecoverInterrupted fails every job left in processing by a previous
// process: no execution loop can be running for it anymore. Jobs are not
// resumed from their last batch.
func (s *Scheduler) RecoverInterrupted(ctx context.Context) error {
	orphans, err := s.store.ListByStatus(ctx, models.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("list orphaned jobs: %w", err)
	}

	for _, job := range orphans {
		transitioned, err := s.store.Finalize(ctx, job.ID, models.JobStatusFailed, reasonInterrupted)
		if err != nil {
			return fmt.Errorf("fail orphaned job %s: %w", job.ID, err)
		}
		if !transitioned {
			continue
		}
		s.logger.Warn("Failed orphaned job from previous run", zap.String("job_id", job.ID))
		s.bus.Publish(events.KindJobFailed, events.JobPayload{
			JobID:     job.ID,
			SheetID:   job.SheetID,
			Status:    models.JobStatusFailed,
			Processed: job.ProcessedCount,
			Total:     job.TotalCount,
			Failed:    job.FailedCount,
			Error:     reasonInterrupted,
		}, eventSource)
	}
	return nil
}

func validateTask(task models.TaskSpec) error {
	if task.SheetID == "" {
		return fmt.Errorf("%w: sheet id is required", ErrInvalidTask)
	}
	if len(task.SourceFields) == 0 {
		return fmt.Errorf("%w: at least one source field is required", ErrInvalidTask)
	}
	for _, f := range task.SourceFields {
		if f == "" {
			return fmt.Errorf("%w: source field names must be non-empty", ErrInvalidTask)
		}
	}
	if task.TargetField == "" {
		return fmt.Errorf("%w: target field is required", ErrInvalidTask)
	}
	if !models.KnownOperation(task.Operation) {
		return fmt.Errorf("%w: unknown operation kind %q", ErrInvalidTask, task.Operation)
	}
	return nil
}

func (s *Scheduler) registerCancel(jobID string) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[jobID] = cancel
	s.mu.Unlock()
	return ctx
}

func (s *Scheduler) releaseCancel(jobID string) {
	s.mu.Lock()
	if cancel, ok := s.cancels[jobID]; ok {
		cancel()
		delete(s.cancels, jobID)
	}
	s.mu.Unlock()
}
