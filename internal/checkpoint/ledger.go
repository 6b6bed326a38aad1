// Package checkpoint persists run progress: the append-only ledger of
// finished subjects, atomically written result chunks, and the status
// snapshot.
//
// The ledger is the only source of truth for "done". A subject is marked
// done as soon as its result enters the chunk buffer, before that buffer is
// flushed. A crash between the two loses the buffered results while the
// ledger still skips those subjects on restart. Use ForgetLedger to force
// them back in.
package checkpoint

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Ledger is an append-only, one-id-per-line file of completed subjects.
type Ledger struct {
	mu   sync.Mutex
	path string
	f    *os.File
	done map[string]struct{}
}

// OpenLedger loads the done-set from path, creating the file if needed, and
// opens it for appending. A trailing line without a newline is the remains
// of an interrupted write and is truncated away.
func OpenLedger(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrapf(err, "ledger: create dir for %s", path)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: open %s", path)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		f.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "ledger: read %s", path)
	}

	keep := len(completeLines(data))
	if keep < len(data) {
		zap.L().Warn("ledger: truncating torn trailing line",
			zap.String("path", path),
			zap.String("fragment", string(data[keep:])),
		)
		if err := f.Truncate(int64(keep)); err != nil {
			f.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "ledger: truncate %s", path)
		}
		if err := f.Sync(); err != nil {
			f.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "ledger: sync %s", path)
		}
	}
	if _, err := f.Seek(int64(keep), io.SeekStart); err != nil {
		f.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "ledger: seek %s", path)
	}

	return &Ledger{
		path: path,
		f:    f,
		done: parseLedger(data[:keep]),
	}, nil
}

// LoadLedger reads the done-set without opening the ledger for writing.
// A missing file is an empty set.
func LoadLedger(path string) (map[string]struct{}, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]struct{}{}, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: read %s", path)
	}
	return parseLedger(completeLines(data)), nil
}

// completeLines drops a trailing fragment that lacks its newline.
func completeLines(data []byte) []byte {
	if n := len(data); n > 0 && data[n-1] != '\n' {
		return data[:bytes.LastIndexByte(data, '\n')+1]
	}
	return data
}

func parseLedger(data []byte) map[string]struct{} {
	done := make(map[string]struct{})
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if id := strings.TrimSpace(sc.Text()); id != "" {
			done[id] = struct{}{}
		}
	}
	return done
}

// IsDone reports whether id has been marked done.
func (l *Ledger) IsDone(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.done[id]
	return ok
}

// MarkDone appends id and fsyncs before returning. Marking an id twice
// writes a harmless duplicate line.
func (l *Ledger) MarkDone(id string) error {
	if strings.ContainsAny(id, "\r\n") {
		return eris.Errorf("ledger: id %q contains a newline", id)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return eris.New("ledger: closed")
	}
	if _, err := l.f.WriteString(id + "\n"); err != nil {
		return eris.Wrapf(err, "ledger: append %s to %s", id, l.path)
	}
	if err := l.f.Sync(); err != nil {
		return eris.Wrapf(err, "ledger: sync %s after %s", l.path, id)
	}
	l.done[id] = struct{}{}
	return nil
}

// Done returns the number of distinct completed ids.
func (l *Ledger) Done() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.done)
}

// Close closes the underlying file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return eris.Wrap(err, "ledger: close")
}

// ForgetLedger rewrites the ledger at path without the given ids so the next
// run reprocesses them. It returns how many distinct ids were removed. Never
// call it while a run holds the ledger open.
func ForgetLedger(path string, ids []string) (int, error) {
	done, err := LoadLedger(path)
	if err != nil {
		return 0, err
	}

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[strings.TrimSpace(id)] = true
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrapf(err, "ledger: read %s", path)
	}

	var buf bytes.Buffer
	removed := 0
	sc := bufio.NewScanner(bytes.NewReader(completeLines(data)))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		id := strings.TrimSpace(sc.Text())
		if id == "" {
			continue
		}
		if drop[id] {
			continue
		}
		buf.WriteString(id)
		buf.WriteByte('\n')
	}
	for id := range drop {
		if _, ok := done[id]; ok {
			removed++
		}
	}

	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		return 0, err
	}
	return removed, nil
}
