package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"sheetwise/internal/models"
)

// JobRepository persists jobs in MySQL through GORM.
type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *JobRepository) FindByID(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (r *JobRepository) SetProcessing(ctx context.Context, id string, total int) error {
	return r.update(ctx, id, map[string]interface{}{
		"status":      models.JobStatusProcessing,
		"total_count": total,
	})
}

func (r *JobRepository) UpdateProgress(ctx context.Context, id string, processed, failed int) error {
	return r.update(ctx, id, map[string]interface{}{
		"processed_count": processed,
		"failed_count":    failed,
	})
}

// Finalize moves a job to a terminal status. A job that is already terminal
// stays untouched: terminal records are immutable.
func (r *JobRepository) Finalize(ctx context.Context, id, status, reason string) (bool, error) {
	now := time.Now()
	updates := map[string]interface{}{
		"status":       status,
		"completed_at": &now,
	}
	if reason != "" {
		updates["error_reason"] = reason
	}

	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status IN ?", id, []string{models.JobStatusQueued, models.JobStatusProcessing}).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		// Either unknown or already terminal; only the former is an error.
		if _, err := r.FindByID(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (r *JobRepository) ListByStatus(ctx context.Context, status string) ([]models.Job, error) {
	var jobs []models.Job
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&jobs).Error
	return jobs, err
}

func (r *JobRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []string{models.JobStatusCompleted, models.JobStatusFailed}, cutoff).
		Delete(&models.Job{})
	return res.RowsAffected, res.Error
}

func (r *JobRepository) update(ctx context.Context, id string, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

var _ JobStore = (*JobRepository)(nil)
