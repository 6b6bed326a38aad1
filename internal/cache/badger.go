package cache

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BadgerConfig holds configuration for the embedded BadgerDB backend.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string
	// InMemory skips disk persistence. Tests only.
	InMemory bool
	// SyncWrites fsyncs every write so a crash cannot lose a stored response.
	SyncWrites bool
}

// BadgerStore implements Store on an embedded BadgerDB.
// Keys are "<endpoint>/<key>"; values are an 8-byte fetch timestamp
// (unix nanos, big endian) followed by the payload.
type BadgerStore struct {
	db *badger.DB
}

// zapBadgerLogger adapts the global zap logger to badger.Logger.
type zapBadgerLogger struct {
	log *zap.SugaredLogger
}

func (l zapBadgerLogger) Errorf(format string, args ...any)   { l.log.Errorf(format, args...) }
func (l zapBadgerLogger) Warningf(format string, args ...any) { l.log.Warnf(format, args...) }
func (l zapBadgerLogger) Infof(format string, args ...any)    { l.log.Debugf(format, args...) }
func (l zapBadgerLogger) Debugf(format string, args ...any)   { l.log.Debugf(format, args...) }

// NewBadger opens a BadgerDB-backed cache.
func NewBadger(cfg BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, eris.New("badger: path is required for persistent cache")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, eris.Wrapf(err, "badger: create dir %s", cfg.Path)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(zapBadgerLogger{log: zap.L().Named("badger").Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, eris.Wrap(err, "badger: open")
	}
	return &BadgerStore{db: db}, nil
}

func badgerKey(endpoint, key string) []byte {
	return []byte(endpoint + "/" + key)
}

func (s *BadgerStore) Get(_ context.Context, endpoint, key string) ([]byte, bool, error) {
	var payload []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(endpoint, key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) < 8 {
				return eris.Errorf("badger: corrupt entry %s/%s", endpoint, key)
			}
			payload = bytes.Clone(val[8:])
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "badger: get %s/%s", endpoint, key)
	}
	return payload, true, nil
}

func (s *BadgerStore) Put(_ context.Context, endpoint, key string, payload []byte) error {
	val := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint64(val, uint64(time.Now().UnixNano()))
	copy(val[8:], payload)

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(endpoint, key), val)
	})
	return eris.Wrapf(err, "badger: put %s/%s", endpoint, key)
}

func (s *BadgerStore) Stats(_ context.Context) (Stats, error) {
	st := Stats{ByEndpoint: make(map[string]int)}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().Key()
			endpoint := string(k)
			if i := bytes.IndexByte(k, '/'); i >= 0 {
				endpoint = string(k[:i])
			}
			st.ByEndpoint[endpoint]++
			st.Entries++
		}
		return nil
	})
	return st, eris.Wrap(err, "badger: stats")
}

func (s *BadgerStore) Close() error {
	return eris.Wrap(s.db.Close(), "badger: close")
}

func (s *BadgerStore) String() string {
	return fmt.Sprintf("badger(%s)", s.db.Opts().Dir)
}
