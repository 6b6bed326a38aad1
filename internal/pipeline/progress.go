package pipeline

import (
	"time"

	"github.com/sells-group/citation-enricher/internal/model"
)

// progress tracks run counters. It is not synchronized; the orchestrator
// guards it with its finalization mutex.
type progress struct {
	runID     string
	state     model.RunState
	total     int
	skipped   int
	processed int
	matched   int
	failed    int
	chunks    int
	current   string
	started   time.Time

	forward      int
	competitive  int
	byCompetitor map[string]int

	cache CacheCounter
}

func (p *progress) cacheCounts() (hits, misses int64) {
	if p.cache == nil {
		return 0, 0
	}
	return p.cache.Hits(), p.cache.Misses()
}

func newProgress(runID string, now time.Time) *progress {
	return &progress{
		runID:        runID,
		state:        model.RunStateInit,
		started:      now,
		byCompetitor: make(map[string]int),
	}
}

func (p *progress) record(r model.EnrichmentResult) {
	p.processed++
	p.current = r.PatentID
	if r.Failed() {
		p.failed++
		return
	}
	p.forward += r.ForwardCitations
	if r.HasCompetitor() {
		p.matched++
		p.competitive += r.CompetitorCitations
		for _, c := range r.CompetitorCites {
			p.byCompetitor[c.Competitor]++
		}
	}
}

// rate returns subjects per minute processed in this run. Skipped subjects
// do not count.
func (p *progress) rate(now time.Time) float64 {
	elapsed := now.Sub(p.started).Minutes()
	if elapsed <= 0 || p.processed == 0 {
		return 0
	}
	return float64(p.processed) / elapsed
}

// eta estimates seconds until the pending subjects are processed.
func (p *progress) eta(now time.Time) float64 {
	remaining := p.total - p.skipped - p.processed
	r := p.rate(now)
	if remaining <= 0 || r == 0 {
		return 0
	}
	return float64(remaining) / r * 60
}

func (p *progress) snapshot(now time.Time) model.Status {
	hits, misses := p.cacheCounts()
	return model.Status{
		RunID:          p.runID,
		State:          p.state,
		Total:          p.total,
		Processed:      p.processed,
		Skipped:        p.skipped,
		Matched:        p.matched,
		Failed:         p.failed,
		ChunksWritten:  p.chunks,
		CacheHits:      hits,
		CacheMisses:    misses,
		ElapsedSecs:    now.Sub(p.started).Seconds(),
		RatePerMin:     p.rate(now),
		ETASecs:        p.eta(now),
		CurrentSubject: p.current,
		StartedAt:      p.started,
		UpdatedAt:      now,
	}
}

func (p *progress) summary(now time.Time) model.Summary {
	by := make(map[string]int, len(p.byCompetitor))
	for k, v := range p.byCompetitor {
		by[k] = v
	}
	hits, misses := p.cacheCounts()
	return model.Summary{
		RunID:                    p.runID,
		Total:                    p.total,
		Skipped:                  p.skipped,
		Processed:                p.processed,
		Failed:                   p.failed,
		SubjectsWithCompetitor:   p.matched,
		TotalCompetitorCitations: p.competitive,
		TotalForwardCitations:    p.forward,
		ByCompetitor:             by,
		ChunksWritten:            p.chunks,
		CacheHits:                hits,
		CacheMisses:              misses,
		StartedAt:                p.started,
		FinishedAt:               now,
		DurationSecs:             now.Sub(p.started).Seconds(),
	}
}
