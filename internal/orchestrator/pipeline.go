package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/ocrflow/internal/cache"
	"github.com/kiranshivaraju/ocrflow/internal/output"
	"github.com/kiranshivaraju/ocrflow/internal/retry"
	"github.com/kiranshivaraju/ocrflow/internal/splitter"
	"github.com/kiranshivaraju/ocrflow/internal/task"
	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

var errCancelled = errors.New("cancelled")

// run carries what every page of one task needs.
type run struct {
	t          *task.Task
	job        models.Job
	path       string
	ocr        models.OCRProvider
	correction models.CorrectionProvider
	terms      []string
	termsHash  string
	mode       models.PreprocessMode
	params     models.OCRParams
}

// chunkResult is the outcome of one chunk.
type chunkResult struct {
	chunk models.Chunk
	text  string
	err   error
	// ran is false for chunks skipped because of a cancel request.
	ran bool
}

func (o *Orchestrator) execute(ctx context.Context, t *task.Task) {
	bg := context.WithoutCancel(ctx)
	if err := t.Start(); err != nil {
		slog.Warn("task not started", "task_id", t.ID(), "error", err)
		return
	}
	t.Logf(models.LogInfo, "Processing started")
	o.persist(bg, t)

	r, err := o.prepare(ctx, t)
	if err != nil {
		t.Logf(models.LogError, "Preparation failed: %v", err)
		_ = t.Fail(err.Error())
		o.persist(bg, t)
		return
	}

	t.SetPhase(models.PhaseProcessing)
	results := o.processChunks(ctx, r)
	o.finish(bg, r, results)
}

// prepare resolves providers and terminology and plans chunks unless the
// task already carries a plan from an earlier run.
func (o *Orchestrator) prepare(ctx context.Context, t *task.Task) (*run, error) {
	job := t.Job()
	r := &run{
		t:          t,
		job:        job,
		correction: o.deps.Providers.Correction(),
		mode:       job.Options.EffectivePreprocessMode(),
	}

	var err error
	if r.ocr, err = o.deps.Providers.OCR(job.Provider); err != nil {
		return nil, err
	}
	if r.terms, err = loadTerminology(o.cfg.TerminologyDir, job.Options.TerminologyRef); err != nil {
		return nil, err
	}
	r.termsHash = cache.HashTerms(r.terms)
	if r.path, err = o.sourcePath(job.SourceRef); err != nil {
		return nil, err
	}
	r.params = models.OCRParams{Model: r.ocr.Model(), DPI: o.cfg.DPI, Language: o.cfg.Language}

	if len(t.Chunks()) > 0 {
		t.Logf(models.LogInfo, "Continuing with %d planned chunks", len(t.Chunks()))
		return r, nil
	}

	t.SetPhase(models.PhaseAnalyzing)
	info, err := o.deps.Converter.Inspect(ctx, r.path)
	if err != nil {
		return nil, err
	}
	profile := splitter.NewProfile(info.PageCount, info.SizeBytes, info.HasImages, o.cfg.Split)
	t.Logf(models.LogInfo, "Document: %d pages, %d bytes, format %s", info.PageCount, info.SizeBytes, info.Format)

	t.SetPhase(models.PhaseSplitting)
	chunks, strategy, err := o.plan(job, info.PageCount, profile)
	if err != nil {
		return nil, err
	}
	t.SetChunks(chunks)
	t.Logf(models.LogInfo, "Split pages %s into %d chunks (%s)", job.PageRange, len(chunks), strategy)
	o.persist(context.WithoutCancel(ctx), t)
	return r, nil
}

func (o *Orchestrator) plan(job models.Job, pages int, profile splitter.Profile) ([]models.Chunk, models.SplitStrategy, error) {
	if !job.Options.SplittingEnabled {
		chunks, err := splitter.Single(job.PageRange)
		return chunks, "none", err
	}

	c := o.cfg.Split
	c.DocumentPages = pages
	c.Profile = profile
	if job.Options.PagesPerChunk > 0 {
		c.MaxPagesPerChunk = job.Options.PagesPerChunk
		if c.MinPagesPerChunk > c.MaxPagesPerChunk {
			c.MinPagesPerChunk = c.MaxPagesPerChunk
		}
	}
	strategy := job.Options.SplitStrategy
	if strategy == "" {
		strategy = profile.Recommended
	}
	chunks, err := splitter.Split(job.PageRange, strategy, c)
	return chunks, strategy, err
}

// processChunks runs every unfinished chunk on a pool bounded by
// Parallelism. A failed chunk does not stop the others. Results come back in
// chunk order.
func (o *Orchestrator) processChunks(ctx context.Context, r *run) []chunkResult {
	chunks := r.t.Chunks()
	results := make([]chunkResult, len(chunks))

	var g errgroup.Group
	g.SetLimit(o.cfg.Parallelism)
	for i, c := range chunks {
		results[i].chunk = c
		if c.Status == models.ChunkCompleted {
			results[i].ran = true
			results[i].text = o.readChunk(ctx, r, c)
			continue
		}
		g.Go(func() error {
			results[i] = o.runChunk(ctx, r, c)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// readChunk rebuilds a chunk finished by an earlier run from its page outputs.
func (o *Orchestrator) readChunk(ctx context.Context, r *run, c models.Chunk) string {
	if o.deps.Sink == nil {
		return ""
	}
	pages := make([]string, 0, c.Pages())
	for p := c.StartPage; p <= c.EndPage; p++ {
		data, err := o.deps.Sink.Read(ctx, r.t.ID(), output.PageKey(p))
		if err != nil {
			r.t.Logf(models.LogWarning, "%s: page %d output missing: %v", c.Label(), p, err)
			continue
		}
		pages = append(pages, string(data))
	}
	return output.JoinPages(pages)
}

func (o *Orchestrator) runChunk(ctx context.Context, r *run, c models.Chunk) chunkResult {
	res := chunkResult{chunk: c}
	t := r.t
	if t.CancelRequested() {
		return res
	}

	res.ran = true
	if err := t.SetChunkStatus(c.ID, models.ChunkProcessing); err != nil {
		res.err = err
		return res
	}
	t.Logf(models.LogInfo, "%s: processing pages %d-%d", c.Label(), c.StartPage, c.EndPage)

	text, err := o.processPages(ctx, r, c)
	res.text = text
	if err != nil {
		res.err = err
		_ = t.SetChunkStatus(c.ID, models.ChunkFailed)
		if errors.Is(err, errCancelled) {
			t.Logf(models.LogWarning, "%s: interrupted by cancellation", c.Label())
		} else {
			t.Logf(models.LogError, "%s failed (%s): %v", c.Label(), retry.Classify(err), err)
		}
	} else {
		_ = t.SetChunkStatus(c.ID, models.ChunkCompleted)
		t.Logf(models.LogSuccess, "%s completed", c.Label())
	}
	o.persist(context.WithoutCancel(ctx), t)
	return res
}

func (o *Orchestrator) processPages(ctx context.Context, r *run, c models.Chunk) (string, error) {
	images, err := o.deps.Converter.RenderPages(ctx, r.path, models.PageRange{Start: c.StartPage, End: c.EndPage}, o.cfg.DPI)
	if err != nil {
		return "", retry.Permanent("", err)
	}

	pages := make([]string, 0, len(images))
	for _, img := range images {
		if r.t.CancelRequested() {
			return output.JoinPages(pages), errCancelled
		}
		text, err := o.processPage(ctx, r, c, img)
		if err != nil {
			return output.JoinPages(pages), fmt.Errorf("page %d: %w", img.Page, err)
		}
		pages = append(pages, text)
	}
	return output.JoinPages(pages), nil
}

// processPage runs preprocess, fingerprint, cache lookup and on a miss the
// OCR and correction calls. Concurrent misses on one fingerprint compute once.
func (o *Orchestrator) processPage(ctx context.Context, r *run, c models.Chunk, img models.PageImage) (string, error) {
	img = o.deps.Preprocess(img, r.mode)

	fp := cache.Fingerprint(cache.FingerprintInput{
		ImageHash: cache.HashBytes(img.Data),
		Provider:  r.ocr.Name(),
		Params: map[string]string{
			"model":      r.params.Model,
			"dpi":        strconv.Itoa(r.params.DPI),
			"language":   r.params.Language,
			"correction": r.correction.Name() + "/" + r.correction.Model(),
		},
		PreprocessMode: string(r.mode),
		Terminology:    r.termsHash,
	})

	payload, hit, err := o.deps.Cache.Resolve(ctx, fp, func(ctx context.Context) (cache.Payload, error) {
		var ocrRes models.OCRResult
		err := o.call(ctx, r, c, r.ocr.Name(), func(ctx context.Context) error {
			var err error
			ocrRes, err = r.ocr.ExtractText(ctx, img, r.params)
			return err
		})
		if err != nil {
			return cache.Payload{}, err
		}
		if strings.TrimSpace(ocrRes.Text) == "" {
			return cache.Payload{OCRUsage: ocrRes.Usage}, nil
		}

		var corrRes models.CorrectionResult
		err = o.call(ctx, r, c, r.correction.Name(), func(ctx context.Context) error {
			var err error
			corrRes, err = r.correction.Correct(ctx, ocrRes.Text, r.terms)
			return err
		})
		if err != nil {
			return cache.Payload{}, err
		}
		return cache.Payload{Text: corrRes.Text, OCRUsage: ocrRes.Usage, CorrectionUsage: corrRes.Usage}, nil
	})
	if err != nil {
		return "", err
	}

	if hit {
		r.t.PageDone(img.Page, models.TokenUsage{}, models.TokenUsage{})
		r.t.Logf(models.LogInfo, "Page %d: cache hit", img.Page)
	} else {
		r.t.PageDone(img.Page, payload.OCRUsage, payload.CorrectionUsage)
		r.t.Logf(models.LogInfo, "Page %d: recognised (%d tokens)", img.Page,
			payload.OCRUsage.Total()+payload.CorrectionUsage.Total())
	}

	if o.deps.Sink != nil {
		if err := o.deps.Sink.Write(ctx, r.t.ID(), output.PageKey(img.Page), payload.Text); err != nil {
			r.t.Logf(models.LogWarning, "Page %d: writing output failed: %v", img.Page, err)
		}
	}
	return payload.Text, nil
}

// call runs fn behind the provider's breaker inside the retry loop. Every
// attempt gets its own deadline. A cancel request ends the wait between
// attempts; an attempt in flight runs to completion.
func (o *Orchestrator) call(ctx context.Context, r *run, c models.Chunk, name string, fn func(ctx context.Context) error) error {
	if name == "none" {
		return fn(ctx)
	}
	b := o.deps.Breakers.Get(name)

	op := func(attempt int) error {
		if attempt > 1 && r.t.CancelRequested() {
			return retry.Permanent(name, errCancelled)
		}
		if err := b.Check(); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		defer cancel()

		err := fn(callCtx)
		switch {
		case err == nil:
			b.RecordSuccess()
		case ctx.Err() != nil:
			b.Abandon()
		case retry.Classify(err) == retry.KindPermanent:
			// The provider answered; the request itself was bad.
			b.RecordSuccess()
		default:
			b.RecordFailure()
		}
		return err
	}

	onRetry := func(a retry.Attempt) {
		r.t.IncChunkRetry(c.ID)
		r.t.Logf(models.LogWarning, "%s: %s call failed (%s), retry %d/%d in %s: %v",
			c.Label(), name, a.Kind, a.Number, o.deps.Retry.MaxRetries, a.Delay.Round(time.Millisecond), a.Err)
	}

	err := o.deps.Retry.DoUntil(ctx, r.t.Cancelled(), op, onRetry)
	if errors.Is(err, retry.ErrStopped) {
		return retry.Permanent(name, errCancelled)
	}
	return err
}

// finish merges completed chunks, writes the combined output and moves the
// task to its terminal state.
func (o *Orchestrator) finish(ctx context.Context, r *run, results []chunkResult) {
	t := r.t
	t.SetPhase(models.PhaseMerging)

	var sections []output.Section
	var failed []string
	var firstErr error
	var firstFailed models.Chunk
	for _, res := range results {
		switch {
		case res.err != nil:
			failed = append(failed, res.chunk.Label())
			if firstErr == nil && !errors.Is(res.err, errCancelled) {
				firstErr, firstFailed = res.err, res.chunk
			}
		case res.ran:
			sections = append(sections, output.Section{ChunkID: res.chunk.ID, Text: res.text})
		}
	}

	if len(sections) > 0 && o.deps.Sink != nil {
		merged := output.Merge(sections, len(results), failed)
		if err := o.deps.Sink.Write(ctx, t.ID(), output.CombinedKey, merged); err != nil {
			t.Logf(models.LogWarning, "Writing combined output failed: %v", err)
		}
	}

	switch {
	case t.CancelRequested():
		_ = t.Stop()
		t.Logf(models.LogWarning, "Task stopped: %d of %d chunks completed", len(sections), len(results))
	case firstErr != nil:
		reason := fmt.Sprintf("%s failed (%s): %v", firstFailed.Label(), retry.Classify(firstErr), firstErr)
		_ = t.Fail(reason)
		t.Logf(models.LogError, "Task failed: %s; %d chunks failed", reason, len(failed))
	default:
		_ = t.Complete()
		c := t.Counters()
		t.Logf(models.LogSuccess, "Task completed: %d pages, %d tokens", c.PagesDone, c.TokensTotal)
	}
	o.persist(ctx, t)
}
