package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/ocrflow/internal/store"
	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

func sampleRecord(status models.TaskStatus, created time.Time) *models.TaskRecord {
	rec := &models.TaskRecord{
		ID: uuid.NewString(),
		Job: models.Job{
			ID:        uuid.NewString(),
			SourceRef: "scan.pdf",
			PageRange: models.PageRange{Start: 1, End: 10},
			Provider:  "dashscope",
			Options: models.JobOptions{
				SplittingEnabled: true,
				SplitStrategy:    models.SplitByPages,
				PagesPerChunk:    5,
			},
		},
		Status: status,
		Phase:  models.PhaseProcessing,
		Chunks: []models.Chunk{
			{ID: 0, StartPage: 1, EndPage: 5, Status: models.ChunkCompleted},
			{ID: 1, StartPage: 6, EndPage: 10, Status: models.ChunkPending, RetryCount: 2},
		},
		Counters: models.Counters{PagesDone: 5, PagesTotal: 10, TokensOCR: 600, TokensTotal: 600},
		Log: []models.LogEntry{
			{Timestamp: created, Level: models.LogInfo, Message: "started"},
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
	if status.Terminal() {
		finished := created.Add(time.Minute)
		rec.FinishedAt = &finished
	}
	return rec
}

// runStoreSuite exercises the Store contract against any backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) store.Store) {
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("Ping", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Ping(context.Background()))
	})

	t.Run("CreateAndGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := sampleRecord(models.TaskStatusProcessing, now)
		require.NoError(t, s.CreateTask(ctx, rec))

		got, err := s.GetTask(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, models.TaskStatusProcessing, got.Status)
		assert.Equal(t, rec.Job.SourceRef, got.Job.SourceRef)
		assert.Equal(t, rec.Job.PageRange, got.Job.PageRange)
		assert.Equal(t, rec.Chunks, got.Chunks)
		assert.Equal(t, rec.Counters, got.Counters)
		require.Len(t, got.Log, 1)
		assert.Equal(t, "started", got.Log[0].Message)
		assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
		assert.Nil(t, got.FinishedAt)
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := sampleRecord(models.TaskStatusPending, now)
		require.NoError(t, s.CreateTask(ctx, rec))
		assert.ErrorIs(t, s.CreateTask(ctx, rec), store.ErrDuplicateKey)
	})

	t.Run("GetNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetTask(context.Background(), "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("SaveUpserts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := sampleRecord(models.TaskStatusPending, now)
		require.NoError(t, s.SaveTask(ctx, rec))

		rec.Status = models.TaskStatusCompleted
		rec.Chunks[1].Status = models.ChunkCompleted
		finished := now.Add(time.Hour)
		rec.FinishedAt = &finished
		rec.UpdatedAt = finished
		require.NoError(t, s.SaveTask(ctx, rec))

		got, err := s.GetTask(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusCompleted, got.Status)
		assert.Equal(t, models.ChunkCompleted, got.Chunks[1].Status)
		require.NotNil(t, got.FinishedAt)
		assert.True(t, finished.Equal(*got.FinishedAt))
	})

	t.Run("ListFiltersAndOrders", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		older := sampleRecord(models.TaskStatusProcessing, now.Add(-time.Hour))
		newer := sampleRecord(models.TaskStatusPending, now)
		done := sampleRecord(models.TaskStatusCompleted, now.Add(-2*time.Hour))
		for _, r := range []*models.TaskRecord{older, newer, done} {
			require.NoError(t, s.CreateTask(ctx, r))
		}

		all, err := s.ListTasks(ctx, store.TaskFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, newer.ID, all[0].ID)
		assert.Equal(t, done.ID, all[2].ID)

		open, err := s.ListTasks(ctx, store.TaskFilter{
			Statuses: []models.TaskStatus{models.TaskStatusPending, models.TaskStatusProcessing},
		})
		require.NoError(t, err)
		assert.Len(t, open, 2)

		limited, err := s.ListTasks(ctx, store.TaskFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := sampleRecord(models.TaskStatusStopped, now)
		require.NoError(t, s.CreateTask(ctx, rec))

		require.NoError(t, s.DeleteTask(ctx, rec.ID))
		_, err := s.GetTask(ctx, rec.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.ErrorIs(t, s.DeleteTask(ctx, rec.ID), store.ErrNotFound)
	})

	t.Run("DeleteFinishedBefore", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		old := sampleRecord(models.TaskStatusCompleted, now.Add(-72*time.Hour))
		recent := sampleRecord(models.TaskStatusFailed, now.Add(-time.Hour))
		running := sampleRecord(models.TaskStatusProcessing, now.Add(-72*time.Hour))
		for _, r := range []*models.TaskRecord{old, recent, running} {
			require.NoError(t, s.CreateTask(ctx, r))
		}

		n, err := s.DeleteFinishedBefore(ctx, now.Add(-48*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = s.GetTask(ctx, old.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.GetTask(ctx, recent.ID)
		assert.NoError(t, err)
		_, err = s.GetTask(ctx, running.ID)
		assert.NoError(t, err)
	})
}
