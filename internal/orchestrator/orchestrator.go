// Package orchestrator drives OCR jobs: it validates submissions, splits
// documents into chunks, runs the per-page pipeline on a bounded worker pool
// and keeps every task's state current for pollers.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/kiranshivaraju/ocrflow/internal/breaker"
	"github.com/kiranshivaraju/ocrflow/internal/cache"
	"github.com/kiranshivaraju/ocrflow/internal/document"
	"github.com/kiranshivaraju/ocrflow/internal/output"
	"github.com/kiranshivaraju/ocrflow/internal/preprocess"
	"github.com/kiranshivaraju/ocrflow/internal/provider"
	"github.com/kiranshivaraju/ocrflow/internal/retry"
	"github.com/kiranshivaraju/ocrflow/internal/splitter"
	"github.com/kiranshivaraju/ocrflow/internal/store"
	"github.com/kiranshivaraju/ocrflow/internal/task"
	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

var (
	ErrInvalidJob    = errors.New("invalid job")
	ErrTaskNotFound  = errors.New("task not found")
	ErrTaskActive    = errors.New("task is still running")
	ErrNotResumable  = errors.New("task cannot be resumed")
	ErrTaskFinished  = errors.New("task already finished")
	ErrShuttingDown  = errors.New("orchestrator is shutting down")
	errTaskNotActive = errors.New("task is not pending")
)

// Config holds the pipeline settings.
type Config struct {
	Parallelism int
	DPI         int
	Language    string
	CallTimeout time.Duration
	// Split holds the default chunk bounds; jobs may override pages per chunk.
	Split       splitter.Constraints
	TaskOptions task.Options
	// SourceDir resolves relative source refs.
	SourceDir      string
	TerminologyDir string
	Retention      time.Duration
}

// DefaultConfig returns parallelism 4, 300 DPI and a 120s call deadline.
func DefaultConfig() Config {
	return Config{
		Parallelism: 4,
		DPI:         300,
		CallTimeout: 120 * time.Second,
		Split:       splitter.DefaultConstraints(),
		TaskOptions: task.DefaultOptions(),
		Retention:   48 * time.Hour,
	}
}

// Dependencies are the collaborators built at startup. Store and Sink may be
// nil; everything else is required.
type Dependencies struct {
	Providers *provider.Registry
	Breakers  *breaker.Registry
	Retry     *retry.Policy
	Cache     *cache.Resolver
	Converter document.Converter
	Sink      output.Sink
	Store     store.Store

	// Preprocess defaults to preprocess.Apply.
	Preprocess func(models.PageImage, models.PreprocessMode) models.PageImage
	// NewID defaults to uuid.NewString.
	NewID func() string
}

// Orchestrator owns every task of the process.
type Orchestrator struct {
	cfg  Config
	deps Dependencies

	mu      sync.RWMutex
	tasks   map[string]*task.Task
	running map[string]bool
	closed  bool

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an Orchestrator.
func New(cfg Config, deps Dependencies) *Orchestrator {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if cfg.DPI <= 0 {
		cfg.DPI = DefaultConfig().DPI
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig().CallTimeout
	}
	cfg.Split.Parallelism = cfg.Parallelism
	if deps.Preprocess == nil {
		deps.Preprocess = preprocess.Apply
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.Retry == nil {
		deps.Retry = retry.DefaultPolicy()
	}
	if deps.Breakers == nil {
		deps.Breakers = breaker.NewRegistry(breaker.DefaultConfig())
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewResolver(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		tasks:   make(map[string]*task.Task),
		running: make(map[string]bool),
		baseCtx: ctx,
		stop:    cancel,
	}
}

// --- Submission ---

// Submit validates job and creates a pending task for it. Nothing is
// recorded when validation fails.
func (o *Orchestrator) Submit(ctx context.Context, job models.Job) (string, error) {
	if o.isClosed() {
		return "", ErrShuttingDown
	}
	job, err := o.validate(ctx, job)
	if err != nil {
		return "", err
	}

	job.ID = o.deps.NewID()
	job.CreatedAt = time.Now().UTC()
	t := task.New(o.deps.NewID(), job, o.cfg.TaskOptions)
	if err := o.create(ctx, t); err != nil {
		return "", err
	}
	t.Logf(models.LogInfo, "Task submitted: %s pages %s via %s", job.SourceRef, job.PageRange, job.Provider)
	return t.ID(), nil
}

// SubmitAndStart is Submit followed by Start.
func (o *Orchestrator) SubmitAndStart(ctx context.Context, job models.Job) (string, error) {
	id, err := o.Submit(ctx, job)
	if err != nil {
		return "", err
	}
	if err := o.Start(id); err != nil {
		return "", err
	}
	return id, nil
}

func (o *Orchestrator) validate(ctx context.Context, job models.Job) (models.Job, error) {
	if err := job.Validate(); err != nil {
		return job, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if _, err := o.deps.Providers.OCR(job.Provider); err != nil {
		return job, fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}
	if _, err := loadTerminology(o.cfg.TerminologyDir, job.Options.TerminologyRef); err != nil {
		return job, err
	}

	path, err := o.sourcePath(job.SourceRef)
	if err != nil {
		return job, err
	}
	info, err := o.deps.Converter.Inspect(ctx, path)
	if err != nil {
		return job, fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}

	if !job.PageRange.Within(info.PageCount) {
		return job, fmt.Errorf("%w: %w: %s outside 1..%d", ErrInvalidJob, splitter.ErrInvalidRange, job.PageRange, info.PageCount)
	}
	return job, nil
}

// sourcePath resolves a source ref. Relative refs live in SourceDir.
func (o *Orchestrator) sourcePath(ref string) (string, error) {
	path := ref
	if !filepath.IsAbs(ref) {
		if ref != filepath.Base(ref) || ref == "." || ref == ".." {
			return "", fmt.Errorf("%w: source %q must be a file name", ErrInvalidJob, ref)
		}
		path = filepath.Join(o.cfg.SourceDir, ref)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: source %q not found", ErrInvalidJob, ref)
	}
	return path, nil
}

func (o *Orchestrator) create(ctx context.Context, t *task.Task) error {
	if o.deps.Store != nil {
		rec := t.Record()
		if err := o.deps.Store.CreateTask(ctx, &rec); err != nil {
			return fmt.Errorf("persist task: %w", err)
		}
	}
	o.mu.Lock()
	o.tasks[t.ID()] = t
	o.mu.Unlock()
	return nil
}

// --- Running ---

// Start runs a pending task in the background.
func (o *Orchestrator) Start(id string) error {
	t, err := o.claim(id)
	if err != nil {
		return err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.release(id)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in task run", "task_id", id, "error", r, "stack", string(debug.Stack()))
				t.Logf(models.LogError, "Internal error: %v", r)
				if t.Status() == models.TaskStatusProcessing {
					_ = t.Fail(fmt.Sprintf("internal error: %v", r))
				}
				o.persist(context.Background(), t)
			}
		}()
		o.execute(o.baseCtx, t)
	}()
	return nil
}

// Run executes a pending task on the calling goroutine and returns once it
// reaches a terminal state.
func (o *Orchestrator) Run(ctx context.Context, id string) error {
	t, err := o.claim(id)
	if err != nil {
		return err
	}
	defer o.release(id)
	o.execute(ctx, t)
	return nil
}

func (o *Orchestrator) claim(id string) (*task.Task, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrShuttingDown
	}
	t, ok := o.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if o.running[id] {
		return nil, fmt.Errorf("%w: %s", ErrTaskActive, id)
	}
	if t.Status() != models.TaskStatusPending {
		return nil, fmt.Errorf("%w: %s is %s", errTaskNotActive, id, t.Status())
	}
	o.running[id] = true
	return t, nil
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	delete(o.running, id)
	o.mu.Unlock()
}

func (o *Orchestrator) isRunning(id string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.running[id]
}

func (o *Orchestrator) isClosed() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.closed
}

// --- Control ---

// Cancel asks a task to stop at its next safe point. In-flight provider calls
// finish first.
func (o *Orchestrator) Cancel(id string) error {
	t, err := o.get(id)
	if err != nil {
		return err
	}
	if !t.RequestCancel() {
		return fmt.Errorf("%w: %s is %s", ErrTaskFinished, id, t.Status())
	}
	t.Logf(models.LogWarning, "Cancellation requested")

	// A task that is not being run has no worker to observe the flag.
	if t.Status() == models.TaskStatusPending && !o.isRunning(id) {
		if err := t.Start(); err == nil {
			_ = t.Stop()
			t.Logf(models.LogWarning, "Task stopped before processing started")
			o.persist(context.Background(), t)
		}
	}
	return nil
}

// Progress returns the current snapshot of a task.
func (o *Orchestrator) Progress(id string) (models.TaskSnapshot, error) {
	t, err := o.get(id)
	if err != nil {
		return models.TaskSnapshot{}, err
	}
	return t.Snapshot(), nil
}

// Subscribe returns a channel signalled after every change to the task.
func (o *Orchestrator) Subscribe(id string) (<-chan struct{}, func(), error) {
	t, err := o.get(id)
	if err != nil {
		return nil, nil, err
	}
	ch, unsubscribe := t.Subscribe()
	return ch, unsubscribe, nil
}

// List returns snapshots of all known tasks, newest first.
func (o *Orchestrator) List() []models.TaskSnapshot {
	o.mu.RLock()
	tasks := make([]*task.Task, 0, len(o.tasks))
	for _, t := range o.tasks {
		tasks = append(tasks, t)
	}
	o.mu.RUnlock()

	out := make([]models.TaskSnapshot, len(tasks))
	for i, t := range tasks {
		out[i] = t.Snapshot()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Resume continues a task. A task interrupted by a restart runs again under
// its own id. A stopped or failed task spawns a new task for the same job;
// pages that were already recognised come back as cache hits.
func (o *Orchestrator) Resume(ctx context.Context, id string) (string, error) {
	t, err := o.get(id)
	if err != nil {
		return "", err
	}
	if o.isRunning(id) {
		return "", fmt.Errorf("%w: %s", ErrTaskActive, id)
	}

	switch t.Status() {
	case models.TaskStatusPending:
		t.Logf(models.LogInfo, "Resuming interrupted task")
		if err := o.Start(id); err != nil {
			return "", err
		}
		return id, nil
	case models.TaskStatusStopped, models.TaskStatusFailed:
		job := t.Job()
		if _, err := o.deps.Providers.OCR(job.Provider); err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidJob, err)
		}
		next := task.New(o.deps.NewID(), job, o.cfg.TaskOptions)
		next.SetResumedFrom(id)
		if err := o.create(ctx, next); err != nil {
			return "", err
		}
		next.Logf(models.LogInfo, "Resumed from task %s", id)
		if err := o.Start(next.ID()); err != nil {
			return "", err
		}
		return next.ID(), nil
	default:
		return "", fmt.Errorf("%w: %s is %s", ErrNotResumable, id, t.Status())
	}
}

// Purge deletes a finished task together with its outputs.
func (o *Orchestrator) Purge(ctx context.Context, id string) error {
	t, err := o.get(id)
	if err != nil {
		return err
	}
	if o.isRunning(id) || t.Status() == models.TaskStatusProcessing {
		return fmt.Errorf("%w: %s", ErrTaskActive, id)
	}
	return o.purge(ctx, id)
}

func (o *Orchestrator) purge(ctx context.Context, id string) error {
	if o.deps.Store != nil {
		if err := o.deps.Store.DeleteTask(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("delete task record: %w", err)
		}
	}
	if o.deps.Sink != nil {
		if err := o.deps.Sink.Remove(ctx, id); err != nil {
			slog.Warn("removing task outputs failed", "task_id", id, "error", err)
		}
	}
	o.mu.Lock()
	delete(o.tasks, id)
	o.mu.Unlock()
	return nil
}

// PurgeFinished removes tasks that reached a terminal state more than
// olderThan ago and returns how many were removed.
func (o *Orchestrator) PurgeFinished(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	o.mu.RLock()
	var expired []string
	for id, t := range o.tasks {
		snap := t.Snapshot()
		if snap.Status.Terminal() && snap.FinishedAt != nil && snap.FinishedAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	o.mu.RUnlock()

	removed := 0
	for _, id := range expired {
		if err := o.purge(ctx, id); err != nil {
			return removed, err
		}
		removed++
	}

	if o.deps.Store != nil {
		n, err := o.deps.Store.DeleteFinishedBefore(ctx, cutoff)
		if err != nil {
			return removed, fmt.Errorf("delete finished tasks: %w", err)
		}
		if int(n) > removed {
			removed = int(n)
		}
	}
	return removed, nil
}

// RegisterReaper schedules PurgeFinished with the configured retention.
func (o *Orchestrator) RegisterReaper(c *cron.Cron, spec string) error {
	if o.cfg.Retention <= 0 {
		return nil
	}
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		n, err := o.PurgeFinished(ctx, o.cfg.Retention)
		if err != nil {
			slog.Error("task reaper failed", "error", err)
			return
		}
		slog.Info("task reaper finished", "removed", n)
	})
	return err
}

// Analyze inspects a source document and recommends a split strategy.
func (o *Orchestrator) Analyze(ctx context.Context, ref string) (splitter.Profile, error) {
	path, err := o.sourcePath(ref)
	if err != nil {
		return splitter.Profile{}, err
	}
	info, err := o.deps.Converter.Inspect(ctx, path)
	if err != nil {
		return splitter.Profile{}, err
	}
	return splitter.NewProfile(info.PageCount, info.SizeBytes, info.HasImages, o.cfg.Split), nil
}

// Restore loads persisted tasks into memory. Tasks left unfinished by a
// previous process come back as pending and can be resumed.
func (o *Orchestrator) Restore(ctx context.Context) (int, error) {
	if o.deps.Store == nil {
		return 0, nil
	}
	recs, err := o.deps.Store.ListTasks(ctx, store.TaskFilter{Limit: 1000})
	if err != nil {
		return 0, fmt.Errorf("load tasks: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, rec := range recs {
		if _, ok := o.tasks[rec.ID]; ok {
			continue
		}
		t := task.FromRecord(*rec, o.cfg.TaskOptions)
		if !rec.Status.Terminal() {
			t.Logf(models.LogWarning, "Task interrupted by restart; resume to continue")
		}
		o.tasks[rec.ID] = t
		n++
	}
	return n, nil
}

// Shutdown asks every running task to stop and waits for them until ctx is
// done. Calls still in flight after that are abandoned.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	var active []*task.Task
	for id := range o.running {
		active = append(active, o.tasks[id])
	}
	o.mu.Unlock()

	for _, t := range active {
		if t.RequestCancel() {
			t.Logf(models.LogWarning, "Stopping for server shutdown")
		}
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.stop()
		return nil
	case <-ctx.Done():
		o.stop()
		return ctx.Err()
	}
}

func (o *Orchestrator) get(id string) (*task.Task, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	t, ok := o.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return t, nil
}

// persist saves the task record. Failures are logged; the in-memory state
// stays authoritative.
func (o *Orchestrator) persist(ctx context.Context, t *task.Task) {
	if o.deps.Store == nil {
		return
	}
	rec := t.Record()
	if err := o.deps.Store.SaveTask(ctx, &rec); err != nil {
		slog.Warn("persisting task failed", "task_id", t.ID(), "error", err)
	}
}
