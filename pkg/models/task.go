package models

import (
	"fmt"
	"time"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusStopped    TaskStatus = "stopped"
)

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusStopped
}

// Phase is the sub-step a processing task is in.
type Phase string

const (
	PhaseAnalyzing  Phase = "analyzing"
	PhaseSplitting  Phase = "splitting"
	PhaseProcessing Phase = "processing"
	PhaseMerging    Phase = "merging"
)

// ChunkStatus is the per-chunk processing state.
type ChunkStatus string

const (
	ChunkPending    ChunkStatus = "pending"
	ChunkProcessing ChunkStatus = "processing"
	ChunkCompleted  ChunkStatus = "completed"
	ChunkFailed     ChunkStatus = "failed"
)

// Chunk is a contiguous sub-range of a job's pages processed as one unit.
type Chunk struct {
	ID             int         `json:"chunk_id"`
	StartPage      int         `json:"start_page"`
	EndPage        int         `json:"end_page"`
	Status         ChunkStatus `json:"status"`
	RetryCount     int         `json:"retry_count"`
	EstimatedBytes int64       `json:"estimated_bytes,omitempty"`
}

// Pages returns the number of pages in the chunk.
func (c Chunk) Pages() int { return c.EndPage - c.StartPage + 1 }

// Label is the human readable chunk name used in logs and merge summaries.
func (c Chunk) Label() string { return fmt.Sprintf("chunk_%03d", c.ID+1) }

// LogLevel is the severity of a task log entry.
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
	LogSuccess LogLevel = "success"
)

// LogEntry is one line of a task's log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
}

// Counters are the aggregate progress and cost numbers of a task.
type Counters struct {
	PagesDone        int   `json:"pages_done"`
	PagesTotal       int   `json:"pages_total"`
	TokensOCR        int64 `json:"tokens_ocr"`
	TokensCorrection int64 `json:"tokens_correction"`
	TokensTotal      int64 `json:"tokens_total"`
}

// TokenCounts is the token section of a poll response.
type TokenCounts struct {
	OCR        int64 `json:"ocr"`
	Correction int64 `json:"correction"`
	Total      int64 `json:"total"`
}

// TaskSnapshot is the read-only view returned to pollers.
type TaskSnapshot struct {
	ID              string      `json:"task_id"`
	Job             Job         `json:"job"`
	Status          TaskStatus  `json:"status"`
	Phase           Phase       `json:"phase,omitempty"`
	ProgressPercent float64     `json:"progress_percent"`
	CurrentPage     int         `json:"current_page"`
	TotalPages      int         `json:"total_pages"`
	CurrentChunk    int         `json:"current_chunk"`
	TotalChunks     int         `json:"total_chunks"`
	Tokens          TokenCounts `json:"tokens"`
	Chunks          []Chunk     `json:"chunks"`
	Log             []LogEntry  `json:"log"`
	Error           string      `json:"error,omitempty"`
	ResumedFrom     string      `json:"resumed_from,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	FinishedAt      *time.Time  `json:"finished_at,omitempty"`
}

// TaskRecord is the persisted form of a task, used to resume after a restart.
type TaskRecord struct {
	ID          string     `json:"id"`
	Job         Job        `json:"job"`
	Status      TaskStatus `json:"status"`
	Phase       Phase      `json:"phase"`
	Chunks      []Chunk    `json:"chunks"`
	Counters    Counters   `json:"counters"`
	Log         []LogEntry `json:"log"`
	Error       string     `json:"error,omitempty"`
	ResumedFrom string     `json:"resumed_from,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}
