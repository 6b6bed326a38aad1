package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run", "ledger.txt")
	l, err := OpenLedger(path)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() }) //nolint:errcheck
	return l, path
}

func TestLedger_MarkAndReload(t *testing.T) {
	l, path := newTestLedger(t)

	assert.False(t, l.IsDone("P1"))
	require.NoError(t, l.MarkDone("P1"))
	require.NoError(t, l.MarkDone("P2"))
	assert.True(t, l.IsDone("P1"))
	assert.Equal(t, 2, l.Done())
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "P1\nP2\n", string(data))

	l2, err := OpenLedger(path)
	require.NoError(t, err)
	defer l2.Close() //nolint:errcheck
	assert.True(t, l2.IsDone("P1"))
	assert.True(t, l2.IsDone("P2"))
	assert.False(t, l2.IsDone("P3"))

	require.NoError(t, l2.MarkDone("P3"))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "P1\nP2\nP3\n", string(data))
}

func TestLedger_DuplicateAppendTolerated(t *testing.T) {
	l, path := newTestLedger(t)

	require.NoError(t, l.MarkDone("P1"))
	require.NoError(t, l.MarkDone("P1"))
	assert.Equal(t, 1, l.Done())

	done, err := LoadLedger(path)
	require.NoError(t, err)
	assert.Len(t, done, 1)
}

func TestLedger_TornTailTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.txt")
	require.NoError(t, os.WriteFile(path, []byte("P1\nP2\nP3-parti"), 0o644))

	l, err := OpenLedger(path)
	require.NoError(t, err)
	defer l.Close() //nolint:errcheck

	assert.Equal(t, 2, l.Done())
	assert.False(t, l.IsDone("P3-parti"))

	require.NoError(t, l.MarkDone("P3"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "P1\nP2\nP3\n", string(data))
}

func TestLedger_IgnoresBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.txt")
	require.NoError(t, os.WriteFile(path, []byte("P1\n\n  \nP2\n"), 0o644))

	done, err := LoadLedger(path)
	require.NoError(t, err)
	assert.Len(t, done, 2)
}

func TestLedger_RejectsNewlineInID(t *testing.T) {
	l, _ := newTestLedger(t)
	assert.Error(t, l.MarkDone("P1\nP2"))
	assert.Equal(t, 0, l.Done())
}

func TestLedger_MarkAfterClose(t *testing.T) {
	l, _ := newTestLedger(t)
	require.NoError(t, l.Close())
	assert.Error(t, l.MarkDone("P1"))
	assert.NoError(t, l.Close())
}

func TestLedger_ConcurrentAppendsDoNotInterleave(t *testing.T) {
	l, path := newTestLedger(t)

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 25 {
				assert.NoError(t, l.MarkDone(fmt.Sprintf("W%d-%d", w, i)))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, l.Close())

	done, err := LoadLedger(path)
	require.NoError(t, err)
	assert.Len(t, done, 100)
}

func TestLoadLedger_Missing(t *testing.T) {
	done, err := LoadLedger(filepath.Join(t.TempDir(), "nope.txt"))
	require.NoError(t, err)
	assert.Empty(t, done)
}

func TestForgetLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.txt")
	require.NoError(t, os.WriteFile(path, []byte("P1\nP2\nP3\nP2\n"), 0o644))

	removed, err := ForgetLedger(path, []string{"P2", " P9 "})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "P1\nP3\n", string(data))
}

func TestForgetLedger_Missing(t *testing.T) {
	removed, err := ForgetLedger(filepath.Join(t.TempDir(), "nope.txt"), []string{"P1"})
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}
