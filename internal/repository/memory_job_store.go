package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sheetwise/internal/models"
)

// MemoryJobStore is an in-memory JobStore for tests and single-process
// development runs without a database.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*models.Job)}
}

func (s *MemoryJobStore) Create(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	clone := *job
	s.jobs[job.ID] = &clone
	return nil
}

func (s *MemoryJobStore) FindByID(_ context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	clone := *job
	return &clone, nil
}

func (s *MemoryJobStore) SetProcessing(_ context.Context, id string, total int) error {
	return s.mutate(id, func(job *models.Job) {
		job.Status = models.JobStatusProcessing
		job.TotalCount = total
	})
}

func (s *MemoryJobStore) UpdateProgress(_ context.Context, id string, processed, failed int) error {
	return s.mutate(id, func(job *models.Job) {
		job.ProcessedCount = processed
		job.FailedCount = failed
	})
}

func (s *MemoryJobStore) Finalize(_ context.Context, id, status, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, ErrJobNotFound
	}
	if job.Terminal() {
		return false, nil
	}
	now := time.Now()
	job.Status = status
	job.CompletedAt = &now
	if reason != "" {
		job.ErrorReason = reason
	}
	job.UpdatedAt = now
	return true, nil
}

func (s *MemoryJobStore) ListByStatus(_ context.Context, status string) ([]models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Job
	for _, job := range s.jobs {
		if job.Status == status {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (s *MemoryJobStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, job := range s.jobs {
		if (job.Status == models.JobStatusCompleted || job.Status == models.JobStatusFailed) &&
			job.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryJobStore) mutate(id string, apply func(*models.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	apply(job)
	job.UpdatedAt = time.Now()
	return nil
}

var _ JobStore = (*MemoryJobStore)(nil)
