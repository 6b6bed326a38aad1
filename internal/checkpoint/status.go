package checkpoint

import (
	"github.com/sells-group/citation-enricher/internal/model"
)

// WriteStatus atomically replaces the status snapshot at path.
func WriteStatus(path string, st model.Status) error {
	return writeJSONAtomic(path, st)
}

// ReadStatus loads the status snapshot at path.
func ReadStatus(path string) (*model.Status, error) {
	var st model.Status
	if err := readJSON(path, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// WriteSummary atomically writes the end-of-run summary.
func WriteSummary(path string, s model.Summary) error {
	return writeJSONAtomic(path, s)
}

// ReadSummary loads a summary written by WriteSummary.
func ReadSummary(path string) (*model.Summary, error) {
	var s model.Summary
	if err := readJSON(path, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
