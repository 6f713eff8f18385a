package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codegrep/internal/indexer"
	"github.com/dshills/codegrep/internal/parser"
	"github.com/dshills/codegrep/internal/storage"
)

const (
	testDebounce = 50 * time.Millisecond
	waitFor      = 3 * time.Second
	tick         = 10 * time.Millisecond
)

// countingRevalidator records every run
type countingRevalidator struct {
	calls atomic.Int32
	busy  atomic.Bool

	mu   sync.Mutex
	cfgs []indexer.Config
}

func (r *countingRevalidator) Revalidate(_ context.Context, _ string, cfg *indexer.Config) (*indexer.Statistics, error) {
	if r.busy.Load() {
		return nil, indexer.ErrRevalidationInProgress
	}
	r.mu.Lock()
	r.cfgs = append(r.cfgs, *cfg)
	r.mu.Unlock()
	r.calls.Add(1)
	return &indexer.Statistics{}, nil
}

func createTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// startWatcher runs w until the test ends
func startWatcher(t *testing.T, w *Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(waitFor):
			t.Error("watcher did not stop")
		}
	})
}

func pyFilter(path string) bool { return strings.HasSuffix(path, ".py") }

func TestWatcher_InitialAndChange(t *testing.T) {
	root := t.TempDir()
	reval := &countingRevalidator{}
	w, err := New(root, reval, &indexer.Config{Workers: 1}, WithDebounce(testDebounce), WithFilter(pyFilter))
	require.NoError(t, err)
	startWatcher(t, w)

	require.Eventually(t, func() bool { return reval.calls.Load() == 1 }, waitFor, tick, "initial revalidation")

	createTestFile(t, root, "a.py", "x = 1\n")
	require.Eventually(t, func() bool { return reval.calls.Load() == 2 }, waitFor, tick)

	reval.mu.Lock()
	defer reval.mu.Unlock()
	assert.True(t, reval.cfgs[1].Prune, "watch runs prune deleted files")
	assert.Equal(t, 1, reval.cfgs[1].Workers)
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	root := t.TempDir()
	reval := &countingRevalidator{}
	w, err := New(root, reval, nil, WithDebounce(200*time.Millisecond))
	require.NoError(t, err)
	startWatcher(t, w)
	require.Eventually(t, func() bool { return reval.calls.Load() == 1 }, waitFor, tick)

	for i := 0; i < 5; i++ {
		createTestFile(t, root, filepath.Join("burst", "f"+string(rune('a'+i))+".py"), "x = 1\n")
	}

	require.Eventually(t, func() bool { return reval.calls.Load() >= 2 }, waitFor, tick)
	time.Sleep(400 * time.Millisecond)
	assert.LessOrEqual(t, reval.calls.Load(), int32(3), "a burst coalesces into few runs")
}

func TestWatcher_IgnoresFilteredAndCacheFiles(t *testing.T) {
	root := t.TempDir()
	cache := filepath.Join(root, ".codegrep")
	require.NoError(t, os.MkdirAll(cache, 0755))

	reval := &countingRevalidator{}
	w, err := New(root, reval, &indexer.Config{CacheDir: cache}, WithDebounce(testDebounce), WithFilter(pyFilter))
	require.NoError(t, err)
	startWatcher(t, w)
	require.Eventually(t, func() bool { return reval.calls.Load() == 1 }, waitFor, tick)

	createTestFile(t, root, "notes.txt", "ignored")
	createTestFile(t, cache, "content.db", "ignored")
	time.Sleep(5 * testDebounce)
	assert.Equal(t, int32(1), reval.calls.Load())
}

func TestWatcher_RetriesWhenBusy(t *testing.T) {
	root := t.TempDir()
	reval := &countingRevalidator{}
	w, err := New(root, reval, nil, WithDebounce(testDebounce))
	require.NoError(t, err)
	startWatcher(t, w)
	require.Eventually(t, func() bool { return reval.calls.Load() == 1 }, waitFor, tick)

	reval.busy.Store(true)
	createTestFile(t, root, "a.py", "x = 1\n")
	time.Sleep(4 * testDebounce)
	assert.Equal(t, int32(1), reval.calls.Load())

	reval.busy.Store(false)
	require.Eventually(t, func() bool { return reval.calls.Load() == 2 }, waitFor, tick)
}

func TestWatcher_NewDirectory(t *testing.T) {
	root := t.TempDir()
	reval := &countingRevalidator{}
	w, err := New(root, reval, nil, WithDebounce(testDebounce), WithFilter(pyFilter))
	require.NoError(t, err)
	startWatcher(t, w)
	require.Eventually(t, func() bool { return reval.calls.Load() == 1 }, waitFor, tick)

	require.NoError(t, os.Mkdir(filepath.Join(root, "pkg"), 0755))
	require.Eventually(t, func() bool { return reval.calls.Load() == 2 }, waitFor, tick)

	createTestFile(t, root, "pkg/b.py", "y = 2\n")
	require.Eventually(t, func() bool { return reval.calls.Load() == 3 }, waitFor, tick)
}

func TestWatcher_MissingRoot(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "missing"), &countingRevalidator{}, nil)
	require.NoError(t, err)
	assert.Error(t, w.Run(context.Background()))
}

func TestWatcher_Ignored(t *testing.T) {
	w, err := New("/p", &countingRevalidator{}, &indexer.Config{CacheDir: "/p/.cache"})
	require.NoError(t, err)

	assert.True(t, w.ignored("/p/.cache"))
	assert.True(t, w.ignored("/p/.cache/content/units.db"))
	assert.True(t, w.ignored("/p/.git/HEAD"))
	assert.False(t, w.ignored("/p/src/a.py"))
	assert.False(t, w.ignored("/p"))

	w.cfg.IncludeHidden = true
	assert.False(t, w.ignored("/p/.github/workflows/ci.py"))
	assert.True(t, w.ignored("/p/.cache/x"))
}

func TestWatcher_IndexesChanges(t *testing.T) {
	root := t.TempDir()
	cache := filepath.Join(root, ".codegrep")
	store, err := storage.NewSQLiteStorage(cache)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	registry := parser.DefaultRegistry()
	idx := indexer.New(store, registry)

	var runs atomic.Int32
	w, err := New(root, idx, &indexer.Config{Workers: 1, CacheDir: cache},
		WithDebounce(testDebounce),
		WithFilter(registry.IsValidFile),
		OnRevalidate(func(_ *indexer.Statistics, err error) {
			assert.NoError(t, err)
			runs.Add(1)
		}),
	)
	require.NoError(t, err)
	startWatcher(t, w)
	require.Eventually(t, func() bool { return runs.Load() == 1 }, waitFor, tick)

	a := createTestFile(t, root, "a.py", "x = \"hello\"\n")
	require.Eventually(t, func() bool {
		_, found, err := store.GetFingerprint(context.Background(), a)
		return err == nil && found
	}, waitFor, tick)

	require.NoError(t, os.Remove(a))
	require.Eventually(t, func() bool {
		_, found, err := store.GetFingerprint(context.Background(), a)
		return err == nil && !found
	}, waitFor, tick, "removed files are pruned")
}
