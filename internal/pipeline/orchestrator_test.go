package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/citation-enricher/internal/cache"
	"github.com/sells-group/citation-enricher/internal/checkpoint"
	"github.com/sells-group/citation-enricher/internal/model"
)

type staticSource struct {
	subjects []model.Subject
	err      error
}

func (s staticSource) Load(context.Context) ([]model.Subject, error) {
	return s.subjects, s.err
}

func subjectList(n int) []model.Subject {
	out := make([]model.Subject, n)
	for i := range out {
		out[i] = model.Subject{ID: fmt.Sprintf("P%d", i+1)}
	}
	return out
}

// runEnv holds the durable state shared across simulated process restarts.
type runEnv struct {
	dir   string
	store cache.Store
	api   *fakeAPI
}

func newRunEnv(t *testing.T) *runEnv {
	t.Helper()
	dir := t.TempDir()
	store, err := cache.Open("sqlite", filepath.Join(dir, "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() }) //nolint:errcheck
	return &runEnv{dir: dir, store: store, api: newFakeAPI()}
}

func (e *runEnv) chunkDir() string    { return filepath.Join(e.dir, "chunks") }
func (e *runEnv) ledgerPath() string  { return filepath.Join(e.dir, "ledger.txt") }
func (e *runEnv) statusPath() string  { return filepath.Join(e.dir, "status.json") }
func (e *runEnv) summaryPath() string { return filepath.Join(e.dir, "summary.json") }

// orchestrator builds a fresh orchestrator over the env, as a new process would.
func (e *runEnv) orchestrator(t *testing.T, enricher Enricher, opts Options) *Orchestrator {
	t.Helper()
	ledger, err := checkpoint.OpenLedger(e.ledgerPath())
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() }) //nolint:errcheck

	chunks, err := checkpoint.NewChunkWriter(e.chunkDir(), opts.RunID)
	require.NoError(t, err)

	opts.StatusPath = e.statusPath()
	opts.SummaryPath = e.summaryPath()
	if enricher == nil {
		enricher = e.worker(t)
	}
	return New(enricher, ledger, chunks, opts)
}

func (e *runEnv) worker(t *testing.T) *Worker {
	t.Helper()
	return NewWorker(e.api, cache.NewFetcher(e.store), testMatcher(t, acmeRegistry), WorkerConfig{})
}

func (e *runEnv) chunkedIDs(t *testing.T) []string {
	t.Helper()
	seqs, err := checkpoint.ListChunks(e.chunkDir())
	require.NoError(t, err)
	var ids []string
	for _, seq := range seqs {
		c, err := checkpoint.ReadChunk(e.chunkDir(), seq)
		require.NoError(t, err)
		for _, r := range c.Results {
			ids = append(ids, r.PatentID)
		}
	}
	return ids
}

func seedCitations(api *fakeAPI, n int) {
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("P%d", i)
		c := fmt.Sprintf("C%d", i)
		api.citing[id] = []string{c}
		if i%2 == 0 {
			api.owners[c] = []string{"Acme Widgets Inc"}
		}
	}
}

func TestOrchestrator_FullRun(t *testing.T) {
	env := newRunEnv(t)
	seedCitations(env.api, 5)

	o := env.orchestrator(t, nil, Options{RunID: "r1", ChunkSize: 2, ProgressEvery: 2})
	summary, err := o.Run(context.Background(), staticSource{subjects: subjectList(5)})
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 5, summary.Processed)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 2, summary.SubjectsWithCompetitor)
	assert.Equal(t, 2, summary.TotalCompetitorCitations)
	assert.Equal(t, 5, summary.TotalForwardCitations)
	assert.Equal(t, map[string]int{"Acme": 2}, summary.ByCompetitor)
	assert.Equal(t, 3, summary.ChunksWritten)

	seqs, err := checkpoint.ListChunks(env.chunkDir())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seqs)
	assert.Equal(t, []string{"P1", "P2", "P3", "P4", "P5"}, env.chunkedIDs(t))

	done, err := checkpoint.LoadLedger(env.ledgerPath())
	require.NoError(t, err)
	assert.Len(t, done, 5)

	st, err := checkpoint.ReadStatus(env.statusPath())
	require.NoError(t, err)
	assert.Equal(t, model.RunStateDone, st.State)
	assert.Equal(t, 5, st.Processed)
	assert.Equal(t, "r1", st.RunID)

	saved, err := checkpoint.ReadSummary(env.summaryPath())
	require.NoError(t, err)
	assert.Equal(t, 2, saved.SubjectsWithCompetitor)
}

func TestOrchestrator_IdempotentResume(t *testing.T) {
	env := newRunEnv(t)
	seedCitations(env.api, 4)

	_, err := env.orchestrator(t, nil, Options{RunID: "r1", ChunkSize: 3}).
		Run(context.Background(), staticSource{subjects: subjectList(4)})
	require.NoError(t, err)

	callsAfterFirst := env.api.calls()
	chunksAfterFirst, err := checkpoint.ListChunks(env.chunkDir())
	require.NoError(t, err)

	summary, err := env.orchestrator(t, nil, Options{RunID: "r2", ChunkSize: 3}).
		Run(context.Background(), staticSource{subjects: subjectList(4)})
	require.NoError(t, err)

	assert.Equal(t, callsAfterFirst, env.api.calls(), "no network fetches on resume")
	chunksAfterSecond, err := checkpoint.ListChunks(env.chunkDir())
	require.NoError(t, err)
	assert.Equal(t, chunksAfterFirst, chunksAfterSecond, "no new chunks")
	assert.Equal(t, 4, summary.Skipped)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 0, summary.ChunksWritten)

	saved, err := checkpoint.ReadSummary(env.summaryPath())
	require.NoError(t, err)
	assert.Equal(t, "r1", saved.RunID, "a run with nothing pending keeps the previous summary")
	assert.Equal(t, 4, saved.Processed)

	st, err := checkpoint.ReadStatus(env.statusPath())
	require.NoError(t, err)
	assert.Equal(t, "r2", st.RunID)
	assert.Equal(t, model.RunStateDone, st.State)
}

func TestOrchestrator_RerunAfterForgetUsesCache(t *testing.T) {
	env := newRunEnv(t)
	seedCitations(env.api, 3)

	_, err := env.orchestrator(t, nil, Options{RunID: "r1"}).
		Run(context.Background(), staticSource{subjects: subjectList(3)})
	require.NoError(t, err)
	calls := env.api.calls()

	removed, err := checkpoint.ForgetLedger(env.ledgerPath(), []string{"P2"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	cf := cache.NewFetcher(env.store)
	w := NewWorker(env.api, cf, testMatcher(t, acmeRegistry), WorkerConfig{})
	summary, err := env.orchestrator(t, w, Options{RunID: "r2", Cache: cf}).
		Run(context.Background(), staticSource{subjects: subjectList(3)})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, calls, env.api.calls(), "reprocessed subject is served from cache")

	// One citation lookup and one assignee batch, both cached.
	assert.Equal(t, int64(2), summary.CacheHits)
	assert.Equal(t, int64(0), summary.CacheMisses)

	saved, err := checkpoint.ReadSummary(env.summaryPath())
	require.NoError(t, err)
	assert.Equal(t, "r2", saved.RunID)
	assert.Equal(t, int64(2), saved.CacheHits)
}

// cancelAfter wraps an enricher and cancels the run after n results.
type cancelAfter struct {
	inner  Enricher
	n      int32
	calls  atomic.Int32
	cancel context.CancelFunc
}

func (c *cancelAfter) Enrich(ctx context.Context, s model.Subject) model.EnrichmentResult {
	res := c.inner.Enrich(ctx, s)
	if c.calls.Add(1) == c.n {
		c.cancel()
	}
	return res
}

func TestOrchestrator_CrashBeforeFlushLosesBufferedResults(t *testing.T) {
	env := newRunEnv(t)
	seedCitations(env.api, 6)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	interrupt := &cancelAfter{inner: env.worker(t), n: 3, cancel: cancel}

	o := env.orchestrator(t, interrupt, Options{RunID: "r1", ChunkSize: 10, Workers: 1})
	_, err := o.Run(ctx, staticSource{subjects: subjectList(6)})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	// Three subjects are in the ledger but no chunk was written.
	done, err := checkpoint.LoadLedger(env.ledgerPath())
	require.NoError(t, err)
	assert.Len(t, done, 3)
	assert.Empty(t, env.chunkedIDs(t))

	// The restart trusts the ledger: those three are skipped and their
	// results never reach a chunk. This is the accepted loss window.
	summary, err := env.orchestrator(t, nil, Options{RunID: "r2", ChunkSize: 10}).
		Run(context.Background(), staticSource{subjects: subjectList(6)})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Skipped)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, []string{"P4", "P5", "P6"}, env.chunkedIDs(t))
}

func TestOrchestrator_CancelKeepsFlushedChunks(t *testing.T) {
	env := newRunEnv(t)
	seedCitations(env.api, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	interrupt := &cancelAfter{inner: env.worker(t), n: 3, cancel: cancel}

	_, err := env.orchestrator(t, interrupt, Options{RunID: "r1", ChunkSize: 2, Workers: 1}).
		Run(ctx, staticSource{subjects: subjectList(5)})
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{"P1", "P2"}, env.chunkedIDs(t))
	st, err := checkpoint.ReadStatus(env.statusPath())
	require.NoError(t, err)
	assert.Equal(t, 3, st.Processed)
	assert.NotEqual(t, model.RunStateDone, st.State)
}

// flakyEnricher fails the listed subjects.
type flakyEnricher struct {
	inner Enricher
	fail  map[string]bool
}

func (f flakyEnricher) Enrich(ctx context.Context, s model.Subject) model.EnrichmentResult {
	if f.fail[s.ID] {
		return model.ZeroResult(s.ID, errors.New("malformed response"))
	}
	return f.inner.Enrich(ctx, s)
}

func TestOrchestrator_PerSubjectFailureContinues(t *testing.T) {
	env := newRunEnv(t)
	seedCitations(env.api, 4)
	enricher := flakyEnricher{inner: env.worker(t), fail: map[string]bool{"P2": true}}

	summary, err := env.orchestrator(t, enricher, Options{RunID: "r1"}).
		Run(context.Background(), staticSource{subjects: subjectList(4)})
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.SubjectsWithCompetitor, "P4 matches; P2 failed")

	// The failed subject is done and not retried automatically.
	done, err := checkpoint.LoadLedger(env.ledgerPath())
	require.NoError(t, err)
	assert.Contains(t, done, "P2")

	c, err := checkpoint.ReadChunk(env.chunkDir(), 1)
	require.NoError(t, err)
	require.Len(t, c.Results, 4)
	assert.Equal(t, "malformed response", c.Results[1].Error)
}

func TestOrchestrator_EmptyInputFails(t *testing.T) {
	env := newRunEnv(t)
	o := env.orchestrator(t, nil, Options{RunID: "r1"})

	_, err := o.Run(context.Background(), staticSource{subjects: []model.Subject{{ID: " "}}})
	assert.ErrorIs(t, err, ErrNoSubjects)
	assert.Equal(t, model.RunStateFailed, o.Status().State)
	assert.Empty(t, env.chunkedIDs(t))

	done, err := checkpoint.LoadLedger(env.ledgerPath())
	require.NoError(t, err)
	assert.Empty(t, done)
}

func TestOrchestrator_LoadErrorFails(t *testing.T) {
	env := newRunEnv(t)
	o := env.orchestrator(t, nil, Options{RunID: "r1"})

	_, err := o.Run(context.Background(), staticSource{err: errors.New("file not found")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load subjects")
	assert.Equal(t, model.RunStateFailed, o.Status().State)
}

func TestOrchestrator_SelectsIDsAndLimit(t *testing.T) {
	env := newRunEnv(t)
	seedCitations(env.api, 6)

	summary, err := env.orchestrator(t, nil, Options{RunID: "r1", IDs: []string{"P5", "P2", "P3"}, Limit: 2}).
		Run(context.Background(), staticSource{subjects: subjectList(6)})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, []string{"P2", "P3"}, env.chunkedIDs(t))
}

func TestOrchestrator_WorkerPool(t *testing.T) {
	env := newRunEnv(t)
	seedCitations(env.api, 23)

	summary, err := env.orchestrator(t, nil, Options{RunID: "r1", Workers: 4, ChunkSize: 5}).
		Run(context.Background(), staticSource{subjects: subjectList(23)})
	require.NoError(t, err)

	assert.Equal(t, 23, summary.Processed)
	assert.Equal(t, 5, summary.ChunksWritten)
	assert.ElementsMatch(t, idsOf(subjectList(23)), env.chunkedIDs(t))
}

func idsOf(subs []model.Subject) []string {
	out := make([]string, len(subs))
	for i, s := range subs {
		out[i] = s.ID
	}
	return out
}

// blockingEnricher holds each subject until released, for observing state.
type blockingEnricher struct {
	started chan string
	release chan struct{}
}

func (b blockingEnricher) Enrich(_ context.Context, s model.Subject) model.EnrichmentResult {
	b.started <- s.ID
	<-b.release
	return model.ZeroResult(s.ID, nil)
}

func TestOrchestrator_ThrottleIsTelemetryOnly(t *testing.T) {
	env := newRunEnv(t)
	b := blockingEnricher{started: make(chan string), release: make(chan struct{})}
	o := env.orchestrator(t, b, Options{RunID: "r1"})

	var wg sync.WaitGroup
	wg.Add(1)
	var runErr error
	go func() {
		defer wg.Done()
		_, runErr = o.Run(context.Background(), staticSource{subjects: subjectList(1)})
	}()

	select {
	case <-b.started:
	case <-time.After(5 * time.Second):
		t.Fatal("subject never started")
	}
	assert.Equal(t, model.RunStateRunning, o.Status().State)

	o.ThrottleStarted()
	assert.Equal(t, model.RunStateThrottled, o.Status().State)
	o.ThrottleEnded()
	assert.Equal(t, model.RunStateRunning, o.Status().State)

	close(b.release)
	wg.Wait()
	require.NoError(t, runErr)
	assert.Equal(t, model.RunStateDone, o.Status().State)
}
