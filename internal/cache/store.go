// Package cache persists raw API responses so a resumed run never refetches
// a (endpoint, key) pair it has already seen. Entries have no expiry: the
// citation data is historical.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
)

// Store is a durable key-value store for response payloads.
type Store interface {
	// Get returns the cached payload. found is false on a miss.
	Get(ctx context.Context, endpoint, key string) (payload []byte, found bool, err error)
	// Put stores payload, overwriting any previous entry for the same key.
	Put(ctx context.Context, endpoint, key string, payload []byte) error
	// Stats reports entry counts per endpoint.
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Stats summarizes cache contents.
type Stats struct {
	Entries    int            `json:"entries"`
	ByEndpoint map[string]int `json:"by_endpoint"`
}

// Open creates the store selected by driver: sqlite, badger or memory.
func Open(driver, path string) (Store, error) {
	switch driver {
	case "sqlite":
		st, err := NewSQLite(path)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(context.Background()); err != nil {
			st.Close() //nolint:errcheck
			return nil, err
		}
		return st, nil
	case "badger":
		st, err := NewBadger(BadgerConfig{Path: path, SyncWrites: true})
		if err != nil {
			return nil, err
		}
		return st, nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, eris.Errorf("cache: unknown driver %q", driver)
	}
}

// BatchKey derives a stable key for a batch of ids: the SHA-256 hex of the
// sorted ids, so the same batch hits regardless of order.
func BatchKey(ids []string) string {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	h := sha256.Sum256([]byte(strings.Join(sorted, "|")))
	return fmt.Sprintf("%x", h)
}
