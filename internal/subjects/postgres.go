package subjects

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/citation-enricher/internal/model"
)

// pool is the subset of pgxpool.Pool the source needs.
type pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// PostgresSource reads subjects from the record store. The query must return
// four columns in order: id, title, date, score. Only id may not be NULL.
type PostgresSource struct {
	pool  pool
	query string
}

// NewPostgresSource connects to url and verifies the connection.
func NewPostgresSource(ctx context.Context, url, query string) (*PostgresSource, error) {
	p, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, eris.Wrap(err, "subjects: connect postgres")
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, eris.Wrap(err, "subjects: ping postgres")
	}
	return &PostgresSource{pool: p, query: query}, nil
}

// newPostgresSourceFromPool is used by tests with pgxmock.
func newPostgresSourceFromPool(p pool, query string) *PostgresSource {
	return &PostgresSource{pool: p, query: query}
}

func (s *PostgresSource) Load(ctx context.Context) ([]model.Subject, error) {
	rows, err := s.pool.Query(ctx, s.query)
	if err != nil {
		return nil, eris.Wrap(err, "subjects: query postgres")
	}
	defer rows.Close()

	var out []model.Subject
	for rows.Next() {
		var (
			id          string
			title, date *string
			score       *float64
		)
		if err := rows.Scan(&id, &title, &date, &score); err != nil {
			return nil, eris.Wrap(err, "subjects: scan row")
		}
		sub := model.Subject{ID: id, Score: score}
		if title != nil {
			sub.Title = *title
		}
		if date != nil {
			sub.Date = *date
		}
		out = append(out, sub)
	}
	return out, eris.Wrap(rows.Err(), "subjects: iterate rows")
}

// Close releases the connection pool.
func (s *PostgresSource) Close() error {
	s.pool.Close()
	return nil
}
