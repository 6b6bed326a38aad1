package cache

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "sqlite: create dir %s", dir)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection keeps writers from tripping over SQLITE_BUSY when
	// several workers store responses at once.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS response_cache (
	endpoint   TEXT NOT NULL,
	key        TEXT NOT NULL,
	payload    BLOB NOT NULL,
	fetched_at DATETIME NOT NULL,
	PRIMARY KEY (endpoint, key)
);
`

// Migrate creates the cache table if needed.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, endpoint, key string) ([]byte, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM response_cache WHERE endpoint = ? AND key = ?`,
		endpoint, key,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: get %s/%s", endpoint, key)
	}
	return payload, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, endpoint, key string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO response_cache (endpoint, key, payload, fetched_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (endpoint, key) DO UPDATE SET
			payload = excluded.payload,
			fetched_at = excluded.fetched_at`,
		endpoint, key, payload, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: put %s/%s", endpoint, key)
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByEndpoint: make(map[string]int)}
	rows, err := s.db.QueryContext(ctx,
		`SELECT endpoint, COUNT(*) FROM response_cache GROUP BY endpoint`,
	)
	if err != nil {
		return st, eris.Wrap(err, "sqlite: stats")
	}
	defer rows.Close()

	for rows.Next() {
		var endpoint string
		var n int
		if err := rows.Scan(&endpoint, &n); err != nil {
			return st, eris.Wrap(err, "sqlite: scan stats")
		}
		st.ByEndpoint[endpoint] = n
		st.Entries += n
	}
	return st, eris.Wrap(rows.Err(), "sqlite: stats iterate")
}
