package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"sheetwise/internal/ai"
	"sheetwise/internal/events"
	"sheetwise/internal/models"
	"sheetwise/internal/sheets"
)

// run executes one job's batch loop. Batches within a job are strictly
// sequential; the cancellation signal is observed at batch boundaries only,
// so the in-flight batch always finishes.
func (s *Scheduler) run(job *models.Job, signal context.Context) {
	defer s.recoverJob(job.ID)
	defer s.releaseCancel(job.ID)

	ctx := context.Background()

	total, err := s.sheets.RowCount(ctx, job.SheetID)
	if err != nil {
		s.fail(ctx, job, fmt.Sprintf("could not determine row count: %v", err))
		return
	}
	if err := s.store.SetProcessing(ctx, job.ID, total); err != nil {
		s.fail(ctx, job, fmt.Sprintf("persistence failure: %v", err))
		return
	}
	job.TotalCount = total

	template, schema := ai.PromptFor(job.Operation, s.jobParams(job))
	fields := job.SourceFieldList()

	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 25
	}

	processed, failed := 0, 0
	for offset := 0; offset < total; offset += batchSize {
		if signal.Err() != nil {
			s.finalize(ctx, job, models.JobStatusFailed, reasonCancelled, processed, failed)
			return
		}

		limit := batchSize
		if remaining := total - offset; remaining < limit {
			limit = remaining
		}

		done, skipped := s.runBatch(ctx, job, fields, template, schema, offset, limit)
		processed += done
		failed += skipped

		if err := s.store.UpdateProgress(ctx, job.ID, processed, failed); err != nil {
			s.fail(ctx, job, fmt.Sprintf("persistence failure: %v", err))
			return
		}
		s.bus.Publish(events.KindJobProgress, events.JobPayload{
			JobID:     job.ID,
			SheetID:   job.SheetID,
			Status:    models.JobStatusProcessing,
			Processed: processed,
			Total:     total,
			Failed:    failed,
		}, eventSource)
	}

	if signal.Err() != nil {
		s.finalize(ctx, job, models.JobStatusFailed, reasonCancelled, processed, failed)
		return
	}
	s.finalize(ctx, job, models.JobStatusCompleted, "", processed, failed)
}

// runBatch processes one batch and returns (succeeded, failed) unit counts.
// A unit that ultimately fails is counted and skipped, never fatal.
func (s *Scheduler) runBatch(ctx context.Context, job *models.Job, fields []string, template, schema string, offset, limit int) (int, int) {
	rows, err := s.sheets.FetchRows(ctx, job.SheetID, fields, offset, limit)
	if err != nil {
		s.logger.Warn("Batch row fetch failed, skipping batch",
			zap.String("job_id", job.ID),
			zap.Int("offset", offset),
			zap.Error(err))
		return 0, limit
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}

	succeeded := 0
	failed := limit - len(rows)
	updates := make([]sheets.CellUpdate, 0, len(rows))

	for _, row := range rows {
		var out string
		err := s.exec.Do(ctx, func(ctx context.Context) error {
			value, err := s.transformer.TransformRow(ctx, ai.TransformRequest{
				Content:        rowContent(row, fields),
				PromptTemplate: template,
				OutputSchema:   schema,
			})
			out = value
			return err
		})
		if err != nil {
			failed++
			s.logger.Debug("Unit failed",
				zap.String("job_id", job.ID),
				zap.String("row_id", row.ID),
				zap.Error(err))
			continue
		}
		succeeded++
		updates = append(updates, sheets.CellUpdate{
			RowID: row.ID,
			Field: job.TargetField,
			Value: out,
		})
	}

	if len(updates) > 0 {
		if err := s.sheets.ApplyCellUpdates(ctx, job.SheetID, updates); err != nil {
			s.logger.Warn("Batch write-back failed",
				zap.String("job_id", job.ID),
				zap.Int("updates", len(updates)),
				zap.Error(err))
			failed += len(updates)
			succeeded -= len(updates)
		}
	}

	return succeeded, failed
}

func (s *Scheduler) finalize(ctx context.Context, job *models.Job, status, reason string, processed, failed int) {
	transitioned, err := s.store.Finalize(ctx, job.ID, status, reason)
	if err != nil {
		s.logger.Error("Could not finalize job",
			zap.String("job_id", job.ID),
			zap.String("status", status),
			zap.Error(err))
		return
	}
	if !transitioned {
		// Already terminal; whoever got there first published the event.
		return
	}

	payload := events.JobPayload{
		JobID:     job.ID,
		SheetID:   job.SheetID,
		Status:    status,
		Processed: processed,
		Total:     job.TotalCount,
		Failed:    failed,
		Error:     reason,
	}
	if status == models.JobStatusCompleted {
		s.bus.Publish(events.KindJobCompleted, payload, eventSource)
		if processed > 0 {
			s.bus.Publish(events.KindSheetChanged, events.SheetPayload{
				SheetID: job.SheetID,
				JobID:   job.ID,
				Action:  "updated",
			}, eventSource)
		}
	} else {
		s.bus.Publish(events.KindJobFailed, payload, eventSource)
	}
}

// fail aborts a job on a structural error (persistence, total-count
// discovery). Per-unit failures never land here.
func (s *Scheduler) fail(ctx context.Context, job *models.Job, reason string) {
	s.logger.Error("Job failed",
		zap.String("job_id", job.ID),
		zap.String("reason", reason))
	s.finalize(ctx, job, models.JobStatusFailed, reason, job.ProcessedCount, job.FailedCount)
}

func (s *Scheduler) recoverJob(jobID string) {
	if r := recover(); r != nil {
		s.logger.Error("Job runner panicked",
			zap.String("job_id", jobID),
			zap.Any("panic", r))
		_, _ = s.store.Finalize(context.Background(), jobID, models.JobStatusFailed, fmt.Sprintf("panic: %v", r))
	}
}

func (s *Scheduler) jobParams(job *models.Job) map[string]string {
	params := make(map[string]string)
	if job.Params == "" {
		return params
	}
	if err := json.Unmarshal([]byte(job.Params), &params); err != nil {
		s.logger.Warn("Ignoring malformed job params", zap.String("job_id", job.ID), zap.Error(err))
	}
	return params
}

func rowContent(row sheets.Row, fields []string) string {
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		if v := row.Values[field]; v != "" {
			parts = append(parts, field+": "+v)
		}
	}
	return strings.Join(parts, "\n")
}
