package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/citation-enricher/internal/model"
)

var chunkNameRe = regexp.MustCompile(`^chunk-(\d{6,})\.json$`)

// ChunkName returns the file name for a chunk sequence number.
func ChunkName(seq int) string {
	return fmt.Sprintf("chunk-%06d.json", seq)
}

// ChunkWriter writes numbered result chunks into a directory. Numbering
// continues after the highest chunk already present, so resumed runs never
// overwrite earlier output.
type ChunkWriter struct {
	mu      sync.Mutex
	dir     string
	runID   string
	next    int
	written int
}

// NewChunkWriter prepares dir and scans it for existing chunks.
func NewChunkWriter(dir, runID string) (*ChunkWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "chunk: create dir %s", dir)
	}
	seqs, err := ListChunks(dir)
	if err != nil {
		return nil, err
	}
	next := 1
	if len(seqs) > 0 {
		next = seqs[len(seqs)-1] + 1
	}
	return &ChunkWriter{dir: dir, runID: runID, next: next}, nil
}

// Write persists results as the next chunk and returns its sequence number.
// An empty slice writes nothing and returns 0.
func (w *ChunkWriter) Write(results []model.EnrichmentResult) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	seq := w.next
	chunk := model.Chunk{
		Sequence:     seq,
		RunID:        w.runID,
		SubjectCount: len(results),
		WrittenAt:    time.Now().UTC(),
		Results:      results,
	}
	if err := writeJSONAtomic(filepath.Join(w.dir, ChunkName(seq)), chunk); err != nil {
		return 0, eris.Wrapf(err, "chunk: write %d", seq)
	}
	w.next++
	w.written++
	return seq, nil
}

// Written returns how many chunks this writer has produced.
func (w *ChunkWriter) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// NextSequence returns the sequence number the next Write will use.
func (w *ChunkWriter) NextSequence() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.next
}

// ListChunks returns the sequence numbers of chunk files in dir, ascending.
// Temp files from interrupted writes are ignored.
func ListChunks(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "chunk: list %s", dir)
	}
	var seqs []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := chunkNameRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		seqs = append(seqs, n)
	}
	sort.Ints(seqs)
	return seqs, nil
}

// ReadChunk loads one chunk file.
func ReadChunk(dir string, seq int) (*model.Chunk, error) {
	var c model.Chunk
	if err := readJSON(filepath.Join(dir, ChunkName(seq)), &c); err != nil {
		return nil, err
	}
	return &c, nil
}
