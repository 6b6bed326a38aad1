package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/citation-enricher/internal/model"
)

func TestStatus_RoundTripAndOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")

	require.NoError(t, WriteStatus(path, model.Status{
		RunID: "r1", State: model.RunStateRunning, Total: 10, Processed: 3,
	}))
	require.NoError(t, WriteStatus(path, model.Status{
		RunID: "r1", State: model.RunStateDone, Total: 10, Processed: 10, Matched: 4,
	}))

	st, err := ReadStatus(path)
	require.NoError(t, err)
	assert.Equal(t, model.RunStateDone, st.State)
	assert.Equal(t, 10, st.Processed)
	assert.Equal(t, 4, st.Matched)

	// No temp files are left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestReadStatus_Missing(t *testing.T) {
	_, err := ReadStatus(filepath.Join(t.TempDir(), "status.json"))
	assert.Error(t, err)
}

func TestReadStatus_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err := ReadStatus(path)
	assert.Error(t, err)
}

func TestSummary_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.json")
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, WriteSummary(path, model.Summary{
		RunID:                    "r1",
		Total:                    5,
		Processed:                5,
		SubjectsWithCompetitor:   2,
		TotalCompetitorCitations: 7,
		ByCompetitor:             map[string]int{"Acme": 5, "Globex": 2},
		FinishedAt:               now,
	}))

	s, err := ReadSummary(path)
	require.NoError(t, err)
	assert.Equal(t, 7, s.TotalCompetitorCitations)
	assert.Equal(t, 5, s.ByCompetitor["Acme"])
	assert.True(t, now.Equal(s.FinishedAt))
}
