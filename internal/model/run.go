package model

import "time"

// RunState is the batch orchestrator's lifecycle state.
type RunState string

const (
	RunStateInit     RunState = "init"
	RunStateLoading  RunState = "loading"
	RunStateRunning  RunState = "running"
	RunStateFlushing RunState = "flushing"
	RunStateDone     RunState = "done"
	RunStateFailed   RunState = "failed"
	// RunStateThrottled is reported in telemetry while the fetcher sits in a
	// 429 cooldown. The orchestrator never branches on it.
	RunStateThrottled RunState = "throttled"
)

// Chunk is one atomically written batch of results.
type Chunk struct {
	Sequence     int                `json:"sequence"`
	RunID        string             `json:"run_id"`
	SubjectCount int                `json:"subject_count"`
	WrittenAt    time.Time          `json:"written_at"`
	Results      []EnrichmentResult `json:"results"`
}

// Status is the periodically overwritten progress snapshot.
type Status struct {
	RunID          string    `json:"run_id"`
	State          RunState  `json:"state"`
	Total          int       `json:"total"`
	Processed      int       `json:"processed"`
	Skipped        int       `json:"skipped"`
	Matched        int       `json:"matched"`
	Failed         int       `json:"failed"`
	ChunksWritten  int       `json:"chunks_written"`
	CacheHits      int64     `json:"cache_hits"`
	CacheMisses    int64     `json:"cache_misses"`
	ElapsedSecs    float64   `json:"elapsed_secs"`
	RatePerMin     float64   `json:"rate_per_min"`
	ETASecs        float64   `json:"eta_secs"`
	CurrentSubject string    `json:"current_subject,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Summary is written once when a run reaches DONE.
type Summary struct {
	RunID                    string         `json:"run_id"`
	Total                    int            `json:"total"`
	Skipped                  int            `json:"skipped"`
	Processed                int            `json:"processed"`
	Failed                   int            `json:"failed"`
	SubjectsWithCompetitor   int            `json:"subjects_with_competitor"`
	TotalCompetitorCitations int            `json:"total_competitor_citations"`
	TotalForwardCitations    int            `json:"total_forward_citations"`
	ByCompetitor             map[string]int `json:"by_competitor"`
	ChunksWritten            int            `json:"chunks_written"`
	CacheHits                int64          `json:"cache_hits"`
	CacheMisses              int64          `json:"cache_misses"`
	StartedAt                time.Time      `json:"started_at"`
	FinishedAt               time.Time      `json:"finished_at"`
	DurationSecs             float64        `json:"duration_secs"`
}
