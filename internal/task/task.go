// Package task holds the live, concurrently readable state of one job.
package task

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

// ErrInvalidTransition is returned when a status change is not allowed from
// the current state.
var ErrInvalidTransition = errors.New("invalid task state transition")

// progressWeight is the share of progress_percent covered by page
// processing; merging accounts for the rest.
const progressWeight = 90.0

// Options bound the task log.
type Options struct {
	LogCap         int
	LogTrimTo      int
	PollLogEntries int
	Now            func() time.Time
}

// DefaultOptions keeps 1000 log entries, trims to 500 and returns 50 on poll.
func DefaultOptions() Options {
	return Options{LogCap: 1000, LogTrimTo: 500, PollLogEntries: 50, Now: time.Now}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.LogCap <= 0 {
		o.LogCap = d.LogCap
	}
	if o.LogTrimTo <= 0 || o.LogTrimTo > o.LogCap {
		o.LogTrimTo = min(d.LogTrimTo, o.LogCap)
	}
	if o.PollLogEntries <= 0 {
		o.PollLogEntries = d.PollLogEntries
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Task is the state of one job. The orchestrator is its only writer; any
// number of pollers may read snapshots concurrently.
type Task struct {
	mu   sync.RWMutex
	opts Options

	id          string
	job         models.Job
	status      models.TaskStatus
	phase       models.Phase
	chunks      []models.Chunk
	counters    models.Counters
	log         []models.LogEntry
	lastLogAt   time.Time
	err         string
	resumedFrom string

	currentPage  int
	currentChunk int

	createdAt  time.Time
	updatedAt  time.Time
	startedAt  *time.Time
	finishedAt *time.Time

	pagesDone map[int]struct{}

	cancel     atomic.Bool
	cancelCh   chan struct{}
	cancelOnce sync.Once

	subMu sync.Mutex
	subs  map[chan struct{}]struct{}
}

// New creates a pending task for job.
func New(id string, job models.Job, opts Options) *Task {
	opts = opts.normalized()
	now := opts.Now().UTC()
	return &Task{
		opts:      opts,
		id:        id,
		job:       job,
		status:    models.TaskStatusPending,
		counters:  models.Counters{PagesTotal: job.PageRange.Pages()},
		createdAt: now,
		updatedAt: now,
		pagesDone: make(map[int]struct{}),
		cancelCh:  make(chan struct{}),
		subs:      make(map[chan struct{}]struct{}),
	}
}

// FromRecord restores a persisted task. A record left non-terminal by a
// process that died is brought back as pending so it can be run again;
// chunks that were in flight return to pending and pages_done counts only
// the pages of completed chunks.
func FromRecord(rec models.TaskRecord, opts Options) *Task {
	opts = opts.normalized()
	t := &Task{
		opts:        opts,
		id:          rec.ID,
		job:         rec.Job,
		status:      rec.Status,
		phase:       rec.Phase,
		chunks:      append([]models.Chunk(nil), rec.Chunks...),
		counters:    rec.Counters,
		log:         append([]models.LogEntry(nil), rec.Log...),
		err:         rec.Error,
		resumedFrom: rec.ResumedFrom,
		createdAt:   rec.CreatedAt,
		updatedAt:   rec.UpdatedAt,
		startedAt:   rec.StartedAt,
		finishedAt:  rec.FinishedAt,
		pagesDone:   make(map[int]struct{}),
		cancelCh:    make(chan struct{}),
		subs:        make(map[chan struct{}]struct{}),
	}
	if n := len(t.log); n > 0 {
		t.lastLogAt = t.log[n-1].Timestamp
	}
	if !t.status.Terminal() {
		t.status = models.TaskStatusPending
		for i, c := range t.chunks {
			switch c.Status {
			case models.ChunkProcessing:
				t.chunks[i].Status = models.ChunkPending
			case models.ChunkCompleted:
				for p := c.StartPage; p <= c.EndPage; p++ {
					t.pagesDone[p] = struct{}{}
				}
			}
		}
		t.counters.PagesDone = len(t.pagesDone)
	}
	return t
}

func (t *Task) ID() string { return t.id }

func (t *Task) Job() models.Job {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.job
}

func (t *Task) Status() models.TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// --- Status transitions ---

// Start moves a pending task to processing.
func (t *Task) Start() error {
	return t.transition(models.TaskStatusProcessing, "", models.TaskStatusPending)
}

// Complete finishes a processing task successfully.
func (t *Task) Complete() error {
	return t.transition(models.TaskStatusCompleted, "", models.TaskStatusProcessing)
}

// Fail finishes a processing task with reason as its error.
func (t *Task) Fail(reason string) error {
	return t.transition(models.TaskStatusFailed, reason, models.TaskStatusProcessing)
}

// Stop finishes a processing task after a cancel request was honoured.
func (t *Task) Stop() error {
	return t.transition(models.TaskStatusStopped, "", models.TaskStatusProcessing)
}

func (t *Task) transition(to models.TaskStatus, reason string, from ...models.TaskStatus) error {
	t.mu.Lock()
	allowed := false
	for _, f := range from {
		if t.status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		cur := t.status
		t.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, to)
	}

	now := t.now()
	t.status = to
	t.updatedAt = now
	switch {
	case to == models.TaskStatusProcessing:
		t.startedAt = &now
	case to.Terminal():
		t.finishedAt = &now
		if reason != "" {
			t.err = reason
		}
	}
	t.mu.Unlock()

	t.notify()
	return nil
}

// SetPhase records the sub-step of a processing task.
func (t *Task) SetPhase(p models.Phase) {
	t.mutate(func() { t.phase = p })
}

// SetResumedFrom links this task to the one it continues.
func (t *Task) SetResumedFrom(id string) {
	t.mutate(func() { t.resumedFrom = id })
}

// --- Chunks ---

// SetChunks installs the split plan.
func (t *Task) SetChunks(chunks []models.Chunk) {
	t.mutate(func() {
		t.chunks = append([]models.Chunk(nil), chunks...)
	})
}

// Chunks returns a copy of the chunk list.
func (t *Task) Chunks() []models.Chunk {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]models.Chunk(nil), t.chunks...)
}

var chunkTransitions = map[models.ChunkStatus][]models.ChunkStatus{
	models.ChunkProcessing: {models.ChunkPending},
	models.ChunkCompleted:  {models.ChunkProcessing},
	models.ChunkFailed:     {models.ChunkProcessing},
	models.ChunkPending:    {models.ChunkProcessing},
}

// SetChunkStatus moves chunk id to status.
func (t *Task) SetChunkStatus(id int, status models.ChunkStatus) error {
	t.mu.Lock()
	if id < 0 || id >= len(t.chunks) {
		t.mu.Unlock()
		return fmt.Errorf("%w: no chunk %d", ErrInvalidTransition, id)
	}
	cur := t.chunks[id].Status
	allowed := false
	for _, f := range chunkTransitions[status] {
		if cur == f {
			allowed = true
		}
	}
	if !allowed {
		t.mu.Unlock()
		return fmt.Errorf("%w: chunk %d %s -> %s", ErrInvalidTransition, id, cur, status)
	}
	t.chunks[id].Status = status
	if status == models.ChunkProcessing && id+1 > t.currentChunk {
		t.currentChunk = id + 1
	}
	t.updatedAt = t.now()
	t.mu.Unlock()

	t.notify()
	return nil
}

// IncChunkRetry counts one retry against chunk id.
func (t *Task) IncChunkRetry(id int) {
	t.mutate(func() {
		if id >= 0 && id < len(t.chunks) {
			t.chunks[id].RetryCount++
		}
	})
}

// --- Counters ---

// PageDone records one finished page and what it cost. Cache hits pass zero
// usage. A page is counted once however often it is recorded.
func (t *Task) PageDone(page int, ocr, correction models.TokenUsage) {
	t.mutate(func() {
		if _, ok := t.pagesDone[page]; !ok {
			t.pagesDone[page] = struct{}{}
			t.counters.PagesDone++
		}
		t.counters.TokensOCR += ocr.Total()
		t.counters.TokensCorrection += correction.Total()
		t.counters.TokensTotal = t.counters.TokensOCR + t.counters.TokensCorrection
		t.currentPage = page
	})
}

// Counters returns the aggregate counters.
func (t *Task) Counters() models.Counters {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.counters
}

// --- Cancellation ---

// RequestCancel sets the cooperative cancel flag. It reports false when the
// task already finished.
func (t *Task) RequestCancel() bool {
	t.mu.RLock()
	terminal := t.status.Terminal()
	t.mu.RUnlock()
	if terminal {
		return false
	}
	t.cancel.Store(true)
	t.cancelOnce.Do(func() { close(t.cancelCh) })
	return true
}

// CancelRequested reports whether a cancel was requested.
func (t *Task) CancelRequested() bool { return t.cancel.Load() }

// Cancelled is closed once a cancel is requested.
func (t *Task) Cancelled() <-chan struct{} { return t.cancelCh }

// --- Log ---

// Logf appends an entry to the task log and mirrors it to slog.
func (t *Task) Logf(level models.LogLevel, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)

	t.mu.Lock()
	ts := t.now()
	if ts.Before(t.lastLogAt) {
		ts = t.lastLogAt
	}
	t.lastLogAt = ts
	t.log = append(t.log, models.LogEntry{Timestamp: ts, Level: level, Message: msg})
	if len(t.log) > t.opts.LogCap {
		t.log = append([]models.LogEntry(nil), t.log[len(t.log)-t.opts.LogTrimTo:]...)
	}
	t.updatedAt = ts
	t.mu.Unlock()

	attrs := []any{"task_id", t.id}
	switch level {
	case models.LogError:
		slog.Error(msg, attrs...)
	case models.LogWarning:
		slog.Warn(msg, attrs...)
	default:
		slog.Info(msg, attrs...)
	}
	t.notify()
}

// --- Views ---

// Snapshot returns a consistent view for pollers.
func (t *Task) Snapshot() models.TaskSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	logStart := max(0, len(t.log)-t.opts.PollLogEntries)
	return models.TaskSnapshot{
		ID:              t.id,
		Job:             t.job,
		Status:          t.status,
		Phase:           t.phase,
		ProgressPercent: t.progress(),
		CurrentPage:     t.currentPage,
		TotalPages:      t.counters.PagesTotal,
		CurrentChunk:    t.currentChunk,
		TotalChunks:     len(t.chunks),
		Tokens: models.TokenCounts{
			OCR:        t.counters.TokensOCR,
			Correction: t.counters.TokensCorrection,
			Total:      t.counters.TokensTotal,
		},
		Chunks:      append([]models.Chunk(nil), t.chunks...),
		Log:         append([]models.LogEntry(nil), t.log[logStart:]...),
		Error:       t.err,
		ResumedFrom: t.resumedFrom,
		CreatedAt:   t.createdAt,
		StartedAt:   t.startedAt,
		FinishedAt:  t.finishedAt,
	}
}

func (t *Task) progress() float64 {
	if t.status == models.TaskStatusCompleted {
		return 100
	}
	if t.counters.PagesTotal <= 0 {
		return 0
	}
	return progressWeight * float64(t.counters.PagesDone) / float64(t.counters.PagesTotal)
}

// Record returns the persisted form of the task, including the full log.
func (t *Task) Record() models.TaskRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return models.TaskRecord{
		ID:          t.id,
		Job:         t.job,
		Status:      t.status,
		Phase:       t.phase,
		Chunks:      append([]models.Chunk(nil), t.chunks...),
		Counters:    t.counters,
		Log:         append([]models.LogEntry(nil), t.log...),
		Error:       t.err,
		ResumedFrom: t.resumedFrom,
		CreatedAt:   t.createdAt,
		UpdatedAt:   t.updatedAt,
		StartedAt:   t.startedAt,
		FinishedAt:  t.finishedAt,
	}
}

// --- Change notification ---

// Subscribe returns a channel that receives a signal after state changes.
// Signals coalesce; receivers should take a fresh Snapshot on each one. The
// returned func unsubscribes.
func (t *Task) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	t.subMu.Lock()
	t.subs[ch] = struct{}{}
	t.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.subMu.Lock()
			delete(t.subs, ch)
			t.subMu.Unlock()
		})
	}
}

func (t *Task) notify() {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for ch := range t.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (t *Task) mutate(fn func()) {
	t.mu.Lock()
	fn()
	t.updatedAt = t.now()
	t.mu.Unlock()
	t.notify()
}

func (t *Task) now() time.Time { return t.opts.Now().UTC() }
