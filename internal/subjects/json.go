package subjects

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/citation-enricher/internal/model"
)

// JSONSource reads a JSON array of subjects, e.g.
// [{"patent_id":"10000001","title":"...","score":0.8}].
type JSONSource struct {
	Path string
}

func (s *JSONSource) Load(_ context.Context) ([]model.Subject, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "subjects: read json %s", s.Path)
	}
	var out []model.Subject
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrapf(err, "subjects: decode json %s", s.Path)
	}
	return out, nil
}
