package subjects

import (
	"context"
	"encoding/csv"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/citation-enricher/internal/model"
)

// Accepted header names per field, compared case-insensitively.
var (
	idColumns    = []string{"patent_id", "id", "patent_number"}
	titleColumns = []string{"title", "patent_title"}
	dateColumns  = []string{"date", "patent_date", "grant_date"}
	scoreColumns = []string{"score", "base_score"}
)

// CSVSource reads subjects from a CSV file with a header row.
type CSVSource struct {
	Path string
}

func (s *CSVSource) Load(_ context.Context) ([]model.Subject, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "subjects: open csv %s", s.Path)
	}
	defer f.Close() //nolint:errcheck

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "subjects: read csv")
	}
	if len(records) == 0 {
		return nil, nil
	}

	colIdx := make(map[string]int, len(records[0]))
	for i, col := range records[0] {
		colIdx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")))] = i
	}
	idIdx := findCol(colIdx, idColumns)
	if idIdx < 0 {
		return nil, eris.Errorf("subjects: csv %s has no id column (want one of %v)", s.Path, idColumns)
	}
	titleIdx := findCol(colIdx, titleColumns)
	dateIdx := findCol(colIdx, dateColumns)
	scoreIdx := findCol(colIdx, scoreColumns)

	out := make([]model.Subject, 0, len(records)-1)
	for line, row := range records[1:] {
		sub := model.Subject{
			ID:    getCol(row, idIdx),
			Title: getCol(row, titleIdx),
			Date:  getCol(row, dateIdx),
		}
		if raw := getCol(row, scoreIdx); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, eris.Wrapf(err, "subjects: csv line %d: bad score %q", line+2, raw)
			}
			sub.Score = &v
		}
		out = append(out, sub)
	}
	return out, nil
}

func findCol(colIdx map[string]int, names []string) int {
	for _, n := range names {
		if i, ok := colIdx[n]; ok {
			return i
		}
	}
	return -1
}

// getCol safely retrieves a trimmed column value from a CSV row.
func getCol(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
