package main

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/citation-enricher/internal/cache"
	"github.com/sells-group/citation-enricher/internal/checkpoint"
	"github.com/sells-group/citation-enricher/internal/config"
	"github.com/sells-group/citation-enricher/internal/fetcher"
	"github.com/sells-group/citation-enricher/internal/matcher"
	"github.com/sells-group/citation-enricher/internal/metrics"
	"github.com/sells-group/citation-enricher/internal/pipeline"
	"github.com/sells-group/citation-enricher/internal/resilience"
	"github.com/sells-group/citation-enricher/internal/subjects"
	"github.com/sells-group/citation-enricher/pkg/patentsview"
)

// enrichEnv holds everything an enrichment run needs.
type enrichEnv struct {
	RunID        string
	Cache        cache.Store
	Ledger       *checkpoint.Ledger
	Source       subjects.Source
	Orchestrator *pipeline.Orchestrator
}

// Close releases resources held by the environment.
func (e *enrichEnv) Close() {
	if c, ok := e.Source.(io.Closer); ok {
		_ = c.Close()
	}
	if e.Ledger != nil {
		_ = e.Ledger.Close()
	}
	if e.Cache != nil {
		_ = e.Cache.Close()
	}
}

// throttleRelay forwards fetcher cooldown events to the orchestrator once it
// exists. The fetcher has to be built first.
type throttleRelay struct {
	mu   sync.Mutex
	orch *pipeline.Orchestrator
}

func (r *throttleRelay) set(o *pipeline.Orchestrator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orch = o
}

func (r *throttleRelay) started() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.orch != nil {
		r.orch.ThrottleStarted()
	}
}

func (r *throttleRelay) ended() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.orch != nil {
		r.orch.ThrottleEnded()
	}
}

// endpointOf maps a request URL to the PatentsView endpoint label used in
// metrics.
func endpointOf(url string) string {
	if strings.Contains(url, "/"+patentsview.EndpointCitations) {
		return patentsview.EndpointCitations
	}
	return patentsview.EndpointAssignees
}

// newHTTPFetcher builds the shared, rate-limited PatentsView transport.
func newHTTPFetcher(c *config.Config, relay *throttleRelay) *fetcher.HTTPFetcher {
	limiter := &fetcher.CountingLimiter{
		Limiter: fetcher.NewIntervalLimiter(c.PatentsView.MinInterval()),
		OnAcquire: func(wait time.Duration) {
			metrics.LimiterWait.Observe(wait.Seconds())
		},
	}

	return fetcher.NewHTTPFetcher(limiter, fetcher.HTTPOptions{
		APIKey:             c.PatentsView.APIKey,
		Timeout:            c.PatentsView.Timeout(),
		ThrottleCooldown:   c.PatentsView.ThrottleCooldown(),
		MaxThrottleRetries: c.PatentsView.MaxThrottleRetries,
		Retry:              resilience.FromRetryConfig(c.PatentsView.RetryAttempts, c.PatentsView.RetryBackoffMs),
		Hooks: fetcher.Hooks{
			OnRequest: func(url string, status int, elapsed time.Duration) {
				metrics.ObserveRequest(endpointOf(url), status, elapsed)
			},
			OnThrottle: func(url string, attempt int) {
				metrics.Throttles.WithLabelValues(endpointOf(url)).Inc()
				relay.started()
			},
			OnThrottleDone: func(string) {
				relay.ended()
			},
		},
	})
}

// initEnrich validates configuration and wires the cache, fetcher, matcher,
// subject source, ledger and orchestrator. Callers should defer env.Close().
func initEnrich(ctx context.Context, ids []string, limit int) (*enrichEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	env := &enrichEnv{RunID: uuid.NewString()}
	log := zap.L().With(zap.String("run_id", env.RunID))

	reg, err := matcher.LoadRegistry(cfg.Registry.Path)
	if err != nil {
		return nil, eris.Wrap(err, "load competitor registry")
	}
	m := matcher.New(reg)
	log.Info("competitor registry loaded",
		zap.String("path", cfg.Registry.Path),
		zap.Strings("competitors", reg.Names()),
	)

	store, err := cache.Open(cfg.Cache.Driver, cfg.Cache.Path)
	if err != nil {
		return nil, eris.Wrap(err, "open response cache")
	}
	env.Cache = store
	if stats, err := store.Stats(ctx); err == nil {
		log.Info("response cache opened",
			zap.String("driver", cfg.Cache.Driver),
			zap.Int("entries", stats.Entries),
		)
	}

	src, err := subjects.FromConfig(ctx, cfg.Input)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "open subject source")
	}
	env.Source = src

	ledger, err := checkpoint.OpenLedger(cfg.Run.LedgerPath())
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "open ledger")
	}
	env.Ledger = ledger

	chunks, err := checkpoint.NewChunkWriter(cfg.Run.ChunkDir(), env.RunID)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "open chunk writer")
	}

	relay := &throttleRelay{}
	client := patentsview.NewClient(newHTTPFetcher(cfg, relay), patentsview.WithBaseURL(cfg.PatentsView.BaseURL))

	cf := cache.NewFetcher(store)
	cf.OnHit = metrics.CacheHit
	cf.OnMiss = metrics.CacheMiss

	worker := pipeline.NewWorker(client, cf, m, pipeline.WorkerConfig{
		MaxCitations: cfg.PatentsView.MaxCitations,
		BatchSize:    cfg.PatentsView.BatchSize,
	})

	env.Orchestrator = pipeline.New(worker, ledger, chunks, pipeline.Options{
		RunID:         env.RunID,
		Workers:       cfg.Run.Workers,
		ChunkSize:     cfg.Run.ChunkSize,
		ProgressEvery: cfg.Run.ProgressEvery,
		StatusPath:    cfg.Run.StatusPath(),
		SummaryPath:   cfg.Run.SummaryPath(),
		IDs:           ids,
		Limit:         limit,
		Cache:         cf,
	})
	relay.set(env.Orchestrator)

	log.Info("enrichment environment ready",
		zap.Int("ledger_done", ledger.Done()),
		zap.Int("next_chunk", chunks.NextSequence()),
	)
	return env, nil
}
