// Package pipeline drives competitor-citation enrichment over a subject list.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/citation-enricher/internal/checkpoint"
	"github.com/sells-group/citation-enricher/internal/metrics"
	"github.com/sells-group/citation-enricher/internal/model"
	"github.com/sells-group/citation-enricher/internal/subjects"
)

// ErrNoSubjects is returned when loading yields nothing to enrich.
var ErrNoSubjects = eris.New("pipeline: no subjects to enrich")

// Enricher produces a result for one subject. It must not return early
// without a result; failures are reported through EnrichmentResult.Error.
type Enricher interface {
	Enrich(ctx context.Context, s model.Subject) model.EnrichmentResult
}

// CacheCounter reports response cache lookups for status and summary.
type CacheCounter interface {
	Hits() int64
	Misses() int64
}

// Options configures an orchestrator run.
type Options struct {
	RunID         string
	Workers       int
	ChunkSize     int
	ProgressEvery int
	StatusPath    string
	SummaryPath   string
	// IDs and Limit narrow the loaded subjects. Zero values select all.
	IDs   []string
	Limit int
	// Cache, when set, supplies the hit and miss counts reported in status
	// and summary.
	Cache CacheCounter
}

// Orchestrator runs the Enricher over subjects, skipping those in the ledger
// and batching results into chunks.
//
// Each result is finalized under one mutex: append to the chunk buffer, mark
// done in the ledger, report progress, flush at ChunkSize. Marking happens
// before the flush, so a crash can lose up to ChunkSize-1 results that the
// ledger already counts as done.
type Orchestrator struct {
	enricher Enricher
	ledger   *checkpoint.Ledger
	chunks   *checkpoint.ChunkWriter
	opts     Options
	now      func() time.Time

	mu        sync.Mutex
	buf       []model.EnrichmentResult
	prog      *progress
	throttled int
}

// New creates an orchestrator.
func New(enricher Enricher, ledger *checkpoint.Ledger, chunks *checkpoint.ChunkWriter, opts Options) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.ChunkSize < 1 {
		opts.ChunkSize = 100
	}
	if opts.ProgressEvery < 1 {
		opts.ProgressEvery = 10
	}
	o := &Orchestrator{
		enricher: enricher,
		ledger:   ledger,
		chunks:   chunks,
		opts:     opts,
		now:      time.Now,
	}
	o.prog = newProgress(opts.RunID, o.now().UTC())
	o.prog.cache = opts.Cache
	return o
}

// Run loads subjects from src and enriches every one not already done.
//
// Load failures and an empty subject list end the run in FAILED before
// anything is written. On context cancellation no new subjects start,
// in-flight results are still finalized, the partial chunk buffer is NOT
// flushed and the returned error wraps the context error.
func (o *Orchestrator) Run(ctx context.Context, src subjects.Source) (*model.Summary, error) {
	log := zap.L().With(zap.String("run_id", o.opts.RunID))

	o.setState(model.RunStateLoading)
	all, err := o.load(ctx, src)
	if err != nil {
		o.setState(model.RunStateFailed)
		o.writeStatus()
		return nil, err
	}

	var pending []model.Subject
	for _, s := range all {
		if !o.ledger.IsDone(s.ID) {
			pending = append(pending, s)
		}
	}
	skipped := len(all) - len(pending)
	metrics.SubjectsSkipped.Add(float64(skipped))

	o.mu.Lock()
	o.prog.total = len(all)
	o.prog.skipped = skipped
	o.prog.started = o.now().UTC()
	o.mu.Unlock()

	log.Info("run starting",
		zap.Int("total", len(all)),
		zap.Int("skipped", skipped),
		zap.Int("pending", len(pending)),
		zap.Int("workers", o.opts.Workers),
	)

	o.setState(model.RunStateRunning)
	o.writeStatus()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)

	for _, s := range pending {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			start := time.Now()
			res := o.enricher.Enrich(gctx, s)
			if res.Failed() && gctx.Err() != nil {
				// Interrupted, not failed: leave it for the next run.
				return nil
			}
			return o.finalize(res, time.Since(start))
		})
	}

	if err := g.Wait(); err != nil {
		o.writeStatus()
		return nil, eris.Wrap(err, "pipeline: finalize")
	}

	if err := ctx.Err(); err != nil {
		o.mu.Lock()
		dropped := len(o.buf)
		o.mu.Unlock()
		log.Warn("run interrupted; buffered results not flushed",
			zap.Int("unflushed", dropped),
			zap.Int("ledger_done", o.ledger.Done()),
		)
		o.writeStatus()
		return nil, eris.Wrap(err, "pipeline: run interrupted")
	}

	o.setState(model.RunStateFlushing)
	o.mu.Lock()
	err = o.flushLocked()
	o.mu.Unlock()
	if err != nil {
		o.writeStatus()
		return nil, err
	}

	o.mu.Lock()
	summary := o.prog.summary(o.now().UTC())
	o.mu.Unlock()
	switch {
	case o.opts.SummaryPath == "":
	case len(pending) == 0:
		// Nothing ran. Keep the summary of the run that did the work.
		log.Info("all subjects already done; summary left unchanged",
			zap.String("path", o.opts.SummaryPath),
		)
	default:
		if err := checkpoint.WriteSummary(o.opts.SummaryPath, summary); err != nil {
			return nil, eris.Wrap(err, "pipeline: write summary")
		}
	}

	o.setState(model.RunStateDone)
	o.writeStatus()

	log.Info("run complete",
		zap.Int("processed", summary.Processed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("with_competitor", summary.SubjectsWithCompetitor),
		zap.Int("competitor_citations", summary.TotalCompetitorCitations),
		zap.Int("chunks", summary.ChunksWritten),
		zap.Int64("cache_hits", summary.CacheHits),
		zap.Int64("cache_misses", summary.CacheMisses),
		zap.Float64("duration_secs", summary.DurationSecs),
	)
	return &summary, nil
}

func (o *Orchestrator) load(ctx context.Context, src subjects.Source) ([]model.Subject, error) {
	raw, err := src.Load(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load subjects")
	}
	all := subjects.Select(subjects.Clean(raw), o.opts.IDs, o.opts.Limit)
	if len(all) == 0 {
		return nil, ErrNoSubjects
	}
	return all, nil
}

func (o *Orchestrator) finalize(res model.EnrichmentResult, elapsed time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.buf = append(o.buf, res)
	if err := o.ledger.MarkDone(res.PatentID); err != nil {
		return err
	}
	o.prog.record(res)
	observe(res, elapsed)

	if o.prog.processed%o.opts.ProgressEvery == 0 {
		o.reportLocked()
	}
	if len(o.buf) >= o.opts.ChunkSize {
		return o.flushLocked()
	}
	return nil
}

func observe(res model.EnrichmentResult, elapsed time.Duration) {
	outcome := "unmatched"
	switch {
	case res.Failed():
		outcome = "failed"
	case res.HasCompetitor():
		outcome = "matched"
		for _, c := range res.CompetitorCites {
			metrics.CompetitorCitations.WithLabelValues(c.Competitor).Inc()
		}
	}
	metrics.ObserveSubject(outcome, elapsed)
}

func (o *Orchestrator) flushLocked() error {
	if len(o.buf) == 0 {
		return nil
	}
	seq, err := o.chunks.Write(o.buf)
	if err != nil {
		return eris.Wrap(err, "pipeline: flush chunk")
	}
	zap.L().Info("chunk flushed",
		zap.String("run_id", o.opts.RunID),
		zap.Int("sequence", seq),
		zap.Int("subjects", len(o.buf)),
	)
	o.buf = nil
	o.prog.chunks = o.chunks.Written()
	metrics.ChunksWritten.Inc()
	return nil
}

func (o *Orchestrator) reportLocked() {
	st := o.prog.snapshot(o.now().UTC())
	zap.L().Info("progress",
		zap.String("run_id", st.RunID),
		zap.Int("processed", st.Processed),
		zap.Int("pending", st.Total-st.Skipped-st.Processed),
		zap.Int("matched", st.Matched),
		zap.Int("failed", st.Failed),
		zap.Float64("rate_per_min", st.RatePerMin),
		zap.Duration("eta", time.Duration(st.ETASecs*float64(time.Second))),
	)
	o.writeStatusLocked(st)
}

// Status returns the current snapshot. Safe to call from any goroutine.
func (o *Orchestrator) Status() model.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.prog.snapshot(o.now().UTC())
}

// ThrottleStarted and ThrottleEnded mark upstream cooldowns in telemetry.
// The run itself does not change behavior while throttled.
func (o *Orchestrator) ThrottleStarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.throttled++
	if o.prog.state == model.RunStateRunning {
		o.prog.state = model.RunStateThrottled
	}
}

func (o *Orchestrator) ThrottleEnded() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.throttled > 0 {
		o.throttled--
	}
	if o.throttled == 0 && o.prog.state == model.RunStateThrottled {
		o.prog.state = model.RunStateRunning
	}
}

func (o *Orchestrator) setState(s model.RunState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s == model.RunStateRunning && o.throttled > 0 {
		s = model.RunStateThrottled
	}
	o.prog.state = s
}

func (o *Orchestrator) writeStatus() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writeStatusLocked(o.prog.snapshot(o.now().UTC()))
}

// writeStatusLocked persists st. A failed snapshot write is logged, never fatal.
func (o *Orchestrator) writeStatusLocked(st model.Status) {
	if o.opts.StatusPath == "" {
		return
	}
	if err := checkpoint.WriteStatus(o.opts.StatusPath, st); err != nil {
		zap.L().Warn("status write failed", zap.String("path", o.opts.StatusPath), zap.Error(err))
	}
}
