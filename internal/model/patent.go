package model

import (
	"strings"
	"time"
)

// Subject is one patent to enrich. The set of subjects is fixed when a run starts.
type Subject struct {
	ID    string   `json:"patent_id"`
	Title string   `json:"title,omitempty"`
	Date  string   `json:"date,omitempty"`
	Score *float64 `json:"score,omitempty"`
}

// CitingReference is a patent that cites a subject, with the assignee
// organizations PatentsView reports for it. Never persisted on its own.
type CitingReference struct {
	ID        string   `json:"patent_id"`
	Assignees []string `json:"assignees,omitempty"`
}

// CompetitorCite records one citing patent resolved to a competitor.
type CompetitorCite struct {
	CitingPatentID string `json:"citing_patent_id"`
	Competitor     string `json:"competitor"`
	Assignee       string `json:"assignee"`
}

// EnrichmentResult is the per-subject output of the enrichment worker.
type EnrichmentResult struct {
	PatentID            string           `json:"patent_id"`
	ForwardCitations    int              `json:"forward_citations"`
	CompetitorCitations int              `json:"competitor_citations"`
	Competitors         []string         `json:"competitors"`
	CompetitorCount     int              `json:"competitor_count"`
	CompetitorCites     []CompetitorCite `json:"competitor_cites"`
	Truncated           bool             `json:"truncated,omitempty"`
	Error               string           `json:"error,omitempty"`
	EnrichedAt          time.Time        `json:"enriched_at"`
}

// ZeroResult returns an empty result for id. A non-nil err is recorded so
// failed subjects stay distinguishable from subjects with no citations.
func ZeroResult(id string, err error) EnrichmentResult {
	r := EnrichmentResult{
		PatentID:        id,
		Competitors:     []string{},
		CompetitorCites: []CompetitorCite{},
		EnrichedAt:      time.Now().UTC(),
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Failed reports whether the worker swallowed an error for this subject.
func (r EnrichmentResult) Failed() bool {
	return r.Error != ""
}

// HasCompetitor reports whether at least one citing patent matched a competitor.
func (r EnrichmentResult) HasCompetitor() bool {
	return r.CompetitorCitations > 0
}

// NormalizeID trims whitespace from a patent identifier. Ids are otherwise
// opaque and compared for equality only.
func NormalizeID(id string) string {
	return strings.TrimSpace(id)
}
