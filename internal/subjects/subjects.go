// Package subjects loads the ordered list of patents to enrich from a CSV
// file, a JSON file or a PostgreSQL query.
package subjects

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/citation-enricher/internal/config"
	"github.com/sells-group/citation-enricher/internal/model"
)

// Source yields subjects in input order.
type Source interface {
	Load(ctx context.Context) ([]model.Subject, error)
}

// FromConfig returns the source selected by cfg.Source. The caller closes
// the returned source when it implements io.Closer.
func FromConfig(ctx context.Context, cfg config.InputConfig) (Source, error) {
	switch cfg.Source {
	case "csv":
		return &CSVSource{Path: cfg.Path}, nil
	case "json":
		return &JSONSource{Path: cfg.Path}, nil
	case "postgres":
		src, err := NewPostgresSource(ctx, cfg.DatabaseURL, cfg.Query)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, eris.Errorf("subjects: unknown source %q", cfg.Source)
	}
}

// Clean trims ids and drops blanks and repeats, keeping first occurrences in
// order.
func Clean(in []model.Subject) []model.Subject {
	out := make([]model.Subject, 0, len(in))
	seen := make(map[string]bool, len(in))
	blank, dupes := 0, 0
	for _, s := range in {
		s.ID = model.NormalizeID(s.ID)
		if s.ID == "" {
			blank++
			continue
		}
		if seen[s.ID] {
			dupes++
			continue
		}
		seen[s.ID] = true
		out = append(out, s)
	}
	if blank > 0 || dupes > 0 {
		zap.L().Warn("subjects: dropped input rows",
			zap.Int("blank_ids", blank),
			zap.Int("duplicates", dupes),
		)
	}
	return out
}

// Select narrows subjects to the given ids (if any), then to the first limit
// (if positive). Input order is kept.
func Select(in []model.Subject, ids []string, limit int) []model.Subject {
	out := in
	if len(ids) > 0 {
		want := make(map[string]bool, len(ids))
		for _, id := range ids {
			if id = model.NormalizeID(id); id != "" {
				want[id] = true
			}
		}
		out = make([]model.Subject, 0, len(want))
		for _, s := range in {
			if want[s.ID] {
				out = append(out, s)
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ParseIDList splits a comma-separated id flag.
func ParseIDList(s string) []string {
	var ids []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, part)
		}
	}
	return ids
}
