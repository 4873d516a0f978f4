package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store persists task records so tasks survive a restart. All task
// persistence goes through here.
type Store interface {
	Ping(ctx context.Context) error
	Close() error

	CreateTask(ctx context.Context, rec *models.TaskRecord) error
	// SaveTask inserts or replaces the record.
	SaveTask(ctx context.Context, rec *models.TaskRecord) error
	GetTask(ctx context.Context, id string) (*models.TaskRecord, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*models.TaskRecord, error)
	DeleteTask(ctx context.Context, id string) error
	// DeleteFinishedBefore removes terminal tasks that finished before cutoff.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TaskFilter narrows ListTasks. Results are ordered newest first.
type TaskFilter struct {
	Statuses []models.TaskStatus
	Limit    int
}

const defaultListLimit = 100

func (f TaskFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 1000 {
		return defaultListLimit
	}
	return f.Limit
}

func (f TaskFilter) statusStrings() []string {
	out := make([]string, len(f.Statuses))
	for i, s := range f.Statuses {
		out[i] = string(s)
	}
	return out
}

func terminalStatuses() []string {
	return []string{
		string(models.TaskStatusCompleted),
		string(models.TaskStatusFailed),
		string(models.TaskStatusStopped),
	}
}

// taskRow is the column layout shared by both backends. Structured fields
// are stored as JSON documents.
type taskRow struct {
	ID          string `gorm:"primaryKey"`
	Status      string `gorm:"index;not null"`
	Phase       string
	Job         []byte `gorm:"not null"`
	Chunks      []byte
	Counters    []byte
	Log         []byte
	Error       string
	ResumedFrom string
	CreatedAt   time.Time  `gorm:"index;autoCreateTime:false"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime:false"`
	StartedAt   *time.Time
	FinishedAt  *time.Time `gorm:"index"`
}

func (taskRow) TableName() string { return "tasks" }

func encodeRecord(rec *models.TaskRecord) (*taskRow, error) {
	row := &taskRow{
		ID:          rec.ID,
		Status:      string(rec.Status),
		Phase:       string(rec.Phase),
		Error:       rec.Error,
		ResumedFrom: rec.ResumedFrom,
		CreatedAt:   rec.CreatedAt.UTC(),
		UpdatedAt:   rec.UpdatedAt.UTC(),
		StartedAt:   utcPtr(rec.StartedAt),
		FinishedAt:  utcPtr(rec.FinishedAt),
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now().UTC()
	}

	var err error
	if row.Job, err = json.Marshal(rec.Job); err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	chunks := rec.Chunks
	if chunks == nil {
		chunks = []models.Chunk{}
	}
	if row.Chunks, err = json.Marshal(chunks); err != nil {
		return nil, fmt.Errorf("encode chunks: %w", err)
	}
	if row.Counters, err = json.Marshal(rec.Counters); err != nil {
		return nil, fmt.Errorf("encode counters: %w", err)
	}
	log := rec.Log
	if log == nil {
		log = []models.LogEntry{}
	}
	if row.Log, err = json.Marshal(log); err != nil {
		return nil, fmt.Errorf("encode log: %w", err)
	}
	return row, nil
}

func (r *taskRow) record() (*models.TaskRecord, error) {
	rec := &models.TaskRecord{
		ID:          r.ID,
		Status:      models.TaskStatus(r.Status),
		Phase:       models.Phase(r.Phase),
		Error:       r.Error,
		ResumedFrom: r.ResumedFrom,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
		StartedAt:   utcPtr(r.StartedAt),
		FinishedAt:  utcPtr(r.FinishedAt),
	}
	if err := json.Unmarshal(r.Job, &rec.Job); err != nil {
		return nil, fmt.Errorf("decode job of task %s: %w", r.ID, err)
	}
	if err := unmarshalOptional(r.Chunks, &rec.Chunks); err != nil {
		return nil, fmt.Errorf("decode chunks of task %s: %w", r.ID, err)
	}
	if err := unmarshalOptional(r.Counters, &rec.Counters); err != nil {
		return nil, fmt.Errorf("decode counters of task %s: %w", r.ID, err)
	}
	if err := unmarshalOptional(r.Log, &rec.Log); err != nil {
		return nil, fmt.Errorf("decode log of task %s: %w", r.ID, err)
	}
	return rec, nil
}

func unmarshalOptional(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
