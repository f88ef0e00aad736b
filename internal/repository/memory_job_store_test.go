package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetwise/internal/models"
)

func TestMemoryStoreCreateAndFind(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()

	job := &models.Job{ID: "j1", SheetID: "s1", Status: models.JobStatusQueued}
	require.NoError(t, store.Create(ctx, job))
	assert.Error(t, store.Create(ctx, &models.Job{ID: "j1"}), "duplicate id must be rejected")

	found, err := store.FindByID(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "s1", found.SheetID)
	assert.False(t, found.CreatedAt.IsZero())

	// Reads return copies; mutating one must not leak into the store.
	found.Status = models.JobStatusFailed
	again, err := store.FindByID(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, again.Status)

	_, err = store.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestMemoryStoreLifecycle(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &models.Job{ID: "j1", Status: models.JobStatusQueued}))
	require.NoError(t, store.SetProcessing(ctx, "j1", 40))
	require.NoError(t, store.UpdateProgress(ctx, "j1", 10, 2))

	job, err := store.FindByID(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, job.Status)
	assert.Equal(t, 40, job.TotalCount)
	assert.Equal(t, 10, job.ProcessedCount)
	assert.Equal(t, 2, job.FailedCount)

	transitioned, err := store.Finalize(ctx, "j1", models.JobStatusCompleted, "")
	require.NoError(t, err)
	assert.True(t, transitioned)
	job, err = store.FindByID(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)

	assert.ErrorIs(t, store.SetProcessing(ctx, "missing", 1), ErrJobNotFound)
	_, err = store.Finalize(ctx, "missing", models.JobStatusFailed, "x")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestMemoryStoreFinalizeIsTerminalOnce(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &models.Job{ID: "j1", Status: models.JobStatusProcessing}))
	transitioned, err := store.Finalize(ctx, "j1", models.JobStatusCompleted, "")
	require.NoError(t, err)
	assert.True(t, transitioned)

	// A late failure report cannot overwrite the terminal state.
	transitioned, err = store.Finalize(ctx, "j1", models.JobStatusFailed, "too late")
	require.NoError(t, err)
	assert.False(t, transitioned)

	job, err := store.FindByID(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Empty(t, job.ErrorReason)
}

func TestMemoryStoreListByStatus(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &models.Job{ID: "a", Status: models.JobStatusProcessing}))
	require.NoError(t, store.Create(ctx, &models.Job{ID: "b", Status: models.JobStatusProcessing}))
	require.NoError(t, store.Create(ctx, &models.Job{ID: "c", Status: models.JobStatusQueued}))

	processing, err := store.ListByStatus(ctx, models.JobStatusProcessing)
	require.NoError(t, err)
	assert.Len(t, processing, 2)

	idle, err := store.ListByStatus(ctx, models.JobStatusFailed)
	require.NoError(t, err)
	assert.Empty(t, idle)
}

func TestMemoryStoreDeleteTerminalBefore(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &models.Job{ID: "done", Status: models.JobStatusCompleted}))
	require.NoError(t, store.Create(ctx, &models.Job{ID: "dead", Status: models.JobStatusFailed}))
	require.NoError(t, store.Create(ctx, &models.Job{ID: "busy", Status: models.JobStatusProcessing}))

	// Cutoff in the past keeps everything.
	deleted, err := store.DeleteTerminalBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, deleted)

	// Cutoff after the records' last update removes only terminal ones.
	deleted, err = store.DeleteTerminalBefore(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	_, err = store.FindByID(ctx, "busy")
	assert.NoError(t, err)
	_, err = store.FindByID(ctx, "done")
	assert.ErrorIs(t, err, ErrJobNotFound)
}
