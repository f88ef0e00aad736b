package repository

import (
	"context"
	"errors"
	"time"

	"sheetwise/internal/models"
)

// ErrJobNotFound is returned when no job record exists for an id.
var ErrJobNotFound = errors.New("job not found")

// JobStore is the durable record store for jobs. The scheduler is its single
// writer; everything else only reads.
type JobStore interface {
	Create(ctx context.Context, job *models.Job) error
	FindByID(ctx context.Context, id string) (*models.Job, error)
	// SetProcessing moves a job to processing and records its total unit count.
	SetProcessing(ctx context.Context, id string, total int) error
	UpdateProgress(ctx context.Context, id string, processed, failed int) error
	// Finalize moves a job to a terminal status and stamps completion time.
	// It reports whether the record actually transitioned: a job that is
	// already terminal is left untouched and reported false.
	Finalize(ctx context.Context, id, status, reason string) (bool, error)
	ListByStatus(ctx context.Context, status string) ([]models.Job, error)
	// DeleteTerminalBefore removes completed/failed jobs older than cutoff
	// and returns how many were deleted.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
