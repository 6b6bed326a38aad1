package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/citation-enricher/internal/cache"
	"github.com/sells-group/citation-enricher/internal/matcher"
	"github.com/sells-group/citation-enricher/internal/model"
	"github.com/sells-group/citation-enricher/pkg/patentsview"
)

// PatentAPI fetches raw PatentsView responses. *patentsview.Client
// implements it.
type PatentAPI interface {
	FetchCitations(ctx context.Context, patentID string, size int) ([]byte, error)
	FetchAssignees(ctx context.Context, ids []string) ([]byte, error)
}

// WorkerConfig bounds the requests made per subject.
type WorkerConfig struct {
	// MaxCitations caps how many citing patents are considered.
	MaxCitations int
	// BatchSize caps how many ids go into one assignee request.
	BatchSize int
}

// Worker enriches one subject at a time. It holds no per-subject state and
// is safe for concurrent use.
type Worker struct {
	api     PatentAPI
	cache   *cache.Fetcher
	matcher *matcher.Matcher
	cfg     WorkerConfig
}

// NewWorker creates a worker. Out-of-range limits fall back to the API maximum.
func NewWorker(api PatentAPI, cf *cache.Fetcher, m *matcher.Matcher, cfg WorkerConfig) *Worker {
	if cfg.MaxCitations <= 0 || cfg.MaxCitations > patentsview.MaxPageSize {
		cfg.MaxCitations = patentsview.MaxPageSize
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > patentsview.MaxPageSize {
		cfg.BatchSize = 100
	}
	return &Worker{api: api, cache: cf, matcher: m, cfg: cfg}
}

// Enrich never fails: any error becomes a zero result with Error set, so one
// bad subject cannot stop the batch.
func (w *Worker) Enrich(ctx context.Context, s model.Subject) model.EnrichmentResult {
	res, err := w.enrich(ctx, s.ID)
	if err != nil {
		zap.L().Error("enrichment failed, recording zero result",
			zap.String("patent_id", s.ID),
			zap.Error(err),
		)
		return model.ZeroResult(s.ID, err)
	}
	return res
}

func (w *Worker) enrich(ctx context.Context, id string) (model.EnrichmentResult, error) {
	page, err := w.citations(ctx, id)
	if err != nil {
		return model.EnrichmentResult{}, err
	}

	res := model.ZeroResult(id, nil)
	res.ForwardCitations = page.Total

	citing := page.CitingIDs
	if len(citing) > w.cfg.MaxCitations {
		citing = citing[:w.cfg.MaxCitations]
	}
	if page.Total > len(citing) {
		res.Truncated = true
		zap.L().Debug("citation list truncated",
			zap.String("patent_id", id),
			zap.Int("total", page.Total),
			zap.Int("considered", len(citing)),
		)
	}
	if len(citing) == 0 {
		return res, nil
	}

	refs, err := w.assignees(ctx, citing)
	if err != nil {
		return model.EnrichmentResult{}, err
	}

	seen := make(map[string]bool)
	for _, ref := range refs {
		comp, assignee, ok := w.matcher.MatchFirst(ref.Assignees)
		if !ok {
			continue
		}
		res.CompetitorCites = append(res.CompetitorCites, model.CompetitorCite{
			CitingPatentID: ref.ID,
			Competitor:     comp.Name,
			Assignee:       assignee,
		})
		if !seen[comp.Name] {
			seen[comp.Name] = true
			res.Competitors = append(res.Competitors, comp.Name)
		}
	}
	res.CompetitorCitations = len(res.CompetitorCites)
	res.CompetitorCount = len(res.Competitors)
	res.EnrichedAt = time.Now().UTC()
	return res, nil
}

// citations returns the forward citations of id. Responses are validated
// before caching so an error body is never stored.
func (w *Worker) citations(ctx context.Context, id string) (*patentsview.CitationPage, error) {
	data, err := w.cache.FetchWithCache(ctx, patentsview.EndpointCitations, id, func(ctx context.Context) ([]byte, error) {
		data, err := w.api.FetchCitations(ctx, id, w.cfg.MaxCitations)
		if err != nil {
			return nil, err
		}
		if _, err := patentsview.ParseCitations(data); err != nil {
			return nil, err
		}
		return data, nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: citations for %s", id)
	}
	page, err := patentsview.ParseCitations(data)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: cached citations for %s", id)
	}
	return page, nil
}

// assignees resolves owners for ids in BatchSize requests. The result holds
// one reference per id, in input order, possibly with no names.
func (w *Worker) assignees(ctx context.Context, ids []string) ([]model.CitingReference, error) {
	refs := make([]model.CitingReference, 0, len(ids))
	for start := 0; start < len(ids); start += w.cfg.BatchSize {
		end := min(start+w.cfg.BatchSize, len(ids))
		batch := ids[start:end]

		key := cache.BatchKey(batch)
		data, err := w.cache.FetchWithCache(ctx, patentsview.EndpointAssignees, key, func(ctx context.Context) ([]byte, error) {
			data, err := w.api.FetchAssignees(ctx, batch)
			if err != nil {
				return nil, err
			}
			if _, err := patentsview.ParseAssignees(data); err != nil {
				return nil, err
			}
			return data, nil
		})
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: assignees batch %d-%d", start, end)
		}
		got, err := patentsview.ParseAssignees(data)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: cached assignees")
		}
		for _, id := range batch {
			refs = append(refs, model.CitingReference{ID: id, Assignees: got[id]})
		}
	}
	return refs, nil
}
