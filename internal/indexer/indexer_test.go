package indexer

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codegrep/internal/parser"
	"github.com/dshills/codegrep/internal/storage"
	"github.com/dshills/codegrep/pkg/types"
)

// stubBinding indexes every non-empty line of a .txt file as a string
// literal. Files containing "BROKEN" fail to parse and files containing
// "SLOW" block until the context is done.
type stubBinding struct{}

type stubTree struct {
	path string
	src  []byte
}

func (t *stubTree) Path() string     { return t.path }
func (t *stubTree) Language() string { return "stub" }
func (t *stubTree) Close()           {}

type stubExtractor struct{}

func (stubBinding) Name() string                   { return "stub" }
func (stubBinding) Strategy() types.SearchStrategy { return types.StrategyLeafText }
func (stubBinding) IsValidFile(path string) bool   { return filepath.Ext(path) == ".txt" }
func (stubBinding) NewExtractor() parser.Extractor { return stubExtractor{} }

func (stubBinding) Parse(ctx context.Context, path string, src []byte) (parser.Tree, error) {
	if bytes.Contains(src, []byte("SLOW")) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if bytes.Contains(src, []byte("BROKEN")) {
		return nil, &types.ParseError{File: path, Line: 1, Column: 1, Message: "broken input"}
	}
	return &stubTree{path: path, src: src}, nil
}

func (stubExtractor) Walk(tree parser.Tree) []types.Unit {
	t := tree.(*stubTree)
	var units []types.Unit
	for i, line := range strings.Split(string(t.src), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		node := types.Leaf{Name: "string_literal", Value: line}
		units = append(units, types.Unit{
			Path:      t.path,
			Kind:      types.KindStringLiteral,
			StartLine: i + 1,
			EndLine:   i + 1,
			Node:      node,
			Content:   line,
		})
	}
	return units
}

// setupTestStorage creates a file-backed store in a temporary directory
func setupTestStorage(t testing.TB) *storage.SQLiteStorage {
	t.Helper()

	store, err := storage.NewSQLiteStorage(t.TempDir())
	require.NoError(t, err, "Failed to create test storage")
	t.Cleanup(func() { _ = store.Close() })

	return store
}

// createTestFile creates a file (and its parent directories) for testing
func createTestFile(t testing.TB, dir, name, content string) string {
	t.Helper()

	filePath := filepath.Join(dir, name)
	err := os.MkdirAll(filepath.Dir(filePath), 0755)
	require.NoError(t, err)

	err = os.WriteFile(filePath, []byte(content), 0644)
	require.NoError(t, err)

	return filePath
}

func searchPaths(t *testing.T, store storage.Storage, term string) []string {
	t.Helper()
	docs, err := store.Search(context.Background(), storage.Query{Term: term})
	require.NoError(t, err)
	var paths []string
	for _, d := range docs {
		paths = append(paths, d.Path)
	}
	return paths
}

func TestNew(t *testing.T) {
	store := setupTestStorage(t)
	idx := New(store, stubBinding{})

	assert.NotNil(t, idx.storage)
	assert.NotNil(t, idx.binding)
	assert.NotNil(t, idx.logger)
	assert.NotNil(t, idx.Lock())

	shared := &IndexLock{}
	idx = New(store, stubBinding{}, WithLock(shared))
	assert.Same(t, shared, idx.Lock())
}

func TestConfigDefaults(t *testing.T) {
	cfg := (*Config)(nil).withDefaults()
	assert.Equal(t, DefaultConfig(), cfg)

	partial := &Config{Workers: 3, ParseFailurePolicy: PolicyAdvance}
	cfg = partial.withDefaults()
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, FingerprintXXH3, cfg.Fingerprint)
	assert.Equal(t, PolicyAdvance, cfg.ParseFailurePolicy)
	assert.Equal(t, 3, partial.Workers, "caller config is not modified")
}

func TestRevalidate_IndexesThenIdempotent(t *testing.T) {
	store := setupTestStorage(t)
	root := t.TempDir()
	createTestFile(t, root, "a.txt", "alpha\n\nbeta\n")
	createTestFile(t, root, "sub/b.txt", "gamma\n")
	createTestFile(t, root, "ignored.md", "alpha\n")

	idx := New(store, stubBinding{})
	ctx := context.Background()

	stats, err := idx.Revalidate(ctx, root, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, stats.RunID)
	assert.Equal(t, 2, stats.FilesScanned)
	assert.Equal(t, 2, stats.FilesInvalidated)
	assert.Equal(t, 2, stats.FilesIndexed)
	assert.Equal(t, 3, stats.UnitsExtracted)
	assert.True(t, stats.Committed)
	assert.Equal(t, uint64(1), store.Generation())
	assert.Equal(t, []string{filepath.Join(root, "a.txt")}, searchPaths(t, store, "alpha"))

	second, err := idx.Revalidate(ctx, root, nil)
	require.NoError(t, err)
	assert.NotEqual(t, stats.RunID, second.RunID)
	assert.Equal(t, 2, second.FilesUpToDate)
	assert.Equal(t, 0, second.FilesInvalidated)
	assert.Equal(t, 0, second.FilesIndexed)
	assert.False(t, second.Committed)
	assert.Equal(t, uint64(1), store.Generation(), "no store mutation on an unchanged tree")
}

func TestRevalidate_OnlyChangedFiles(t *testing.T) {
	store := setupTestStorage(t)
	root := t.TempDir()
	a := createTestFile(t, root, "a.txt", "hello\n")
	b := createTestFile(t, root, "b.txt", "untouched\n")

	idx := New(store, stubBinding{})
	ctx := context.Background()
	_, err := idx.Revalidate(ctx, root, nil)
	require.NoError(t, err)

	fpB, _, err := store.GetFingerprint(ctx, b)
	require.NoError(t, err)

	createTestFile(t, root, "a.txt", "\ngoodbye\n")
	stats, err := idx.Revalidate(ctx, root, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, 1, stats.FilesUpToDate)

	assert.Empty(t, searchPaths(t, store, "hello"))
	assert.Equal(t, []string{a}, searchPaths(t, store, "goodbye"))
	assert.Equal(t, []string{b}, searchPaths(t, store, "untouched"))

	fpB2, _, err := store.GetFingerprint(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, fpB, fpB2)
}

func TestRevalidate_EmptiedFileClearsUnits(t *testing.T) {
	store := setupTestStorage(t)
	root := t.TempDir()
	a := createTestFile(t, root, "a.txt", "hello\n")

	idx := New(store, stubBinding{})
	ctx := context.Background()
	_, err := idx.Revalidate(ctx, root, nil)
	require.NoError(t, err)

	createTestFile(t, root, "a.txt", "\n")
	stats, err := idx.Revalidate(ctx, root, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, 0, stats.UnitsExtracted)
	assert.Empty(t, searchPaths(t, store, "hello"))

	_, found, err := store.GetFingerprint(ctx, a)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestRevalidate_ParseFailurePolicies(t *testing.T) {
	tests := []struct {
		name           string
		policy         ParseFailurePolicy
		wantRetried    bool
		wantRecordedFP bool
	}{
		{"retry keeps fingerprint empty", PolicyRetry, true, false},
		{"advance records fingerprint", PolicyAdvance, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := setupTestStorage(t)
			root := t.TempDir()
			createTestFile(t, root, "ok.txt", "fine\n")
			broken := createTestFile(t, root, "broken.txt", "BROKEN\n")

			idx := New(store, stubBinding{})
			ctx := context.Background()
			cfg := &Config{ParseFailurePolicy: tt.policy}

			stats, err := idx.Revalidate(ctx, root, cfg)
			require.NoError(t, err)
			assert.Equal(t, 1, stats.FilesIndexed)
			assert.Equal(t, 1, stats.ParseFailures)
			assert.True(t, stats.Committed)
			require.Len(t, stats.ErrorMessages, 1)
			assert.Contains(t, stats.ErrorMessages[0], "broken input")

			fp, found, err := store.GetFingerprint(ctx, broken)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, tt.wantRecordedFP, fp != "")
			assert.Empty(t, searchPaths(t, store, "BROKEN"))

			second, err := idx.Revalidate(ctx, root, cfg)
			require.NoError(t, err)
			if tt.wantRetried {
				assert.Equal(t, 1, second.ParseFailures)
				assert.Equal(t, 1, second.FilesInvalidated)
			} else {
				assert.Equal(t, 0, second.ParseFailures)
				assert.Equal(t, 2, second.FilesUpToDate)
			}
		})
	}
}

func TestRevalidate_PreviouslyIndexedFileBreaks(t *testing.T) {
	store := setupTestStorage(t)
	root := t.TempDir()
	createTestFile(t, root, "a.txt", "hello\n")

	idx := New(store, stubBinding{})
	ctx := context.Background()
	_, err := idx.Revalidate(ctx, root, nil)
	require.NoError(t, err)

	createTestFile(t, root, "a.txt", "hello BROKEN\n")
	stats, err := idx.Revalidate(ctx, root, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ParseFailures)
	assert.Empty(t, searchPaths(t, store, "hello"), "stale units are cleared")
}

func TestRevalidate_SkipsCacheDirAndHidden(t *testing.T) {
	root := t.TempDir()
	cacheDir := filepath.Join(root, ".codegrep")
	store, err := storage.NewSQLiteStorage(cacheDir)
	require.NoError(t, err)
	defer store.Close()

	createTestFile(t, root, "visible.txt", "one\n")
	createTestFile(t, root, ".hidden/secret.txt", "two\n")
	createTestFile(t, root, ".dotfile.txt", "three\n")
	createTestFile(t, cacheDir, "cached.txt", "four\n")

	idx := New(store, stubBinding{})
	ctx := context.Background()

	stats, err := idx.Revalidate(ctx, root, &Config{CacheDir: cacheDir})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesScanned)

	stats, err = idx.Revalidate(ctx, root, &Config{CacheDir: cacheDir, IncludeHidden: true})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.FilesScanned, "cache dir is excluded even with hidden files included")
	assert.Empty(t, searchPaths(t, store, "four"))
}

func TestRevalidate_Timeout(t *testing.T) {
	store := setupTestStorage(t)
	root := t.TempDir()
	fast := createTestFile(t, root, "a_fast.txt", "quick\n")
	slow := createTestFile(t, root, "b_slow.txt", "SLOW\n")

	idx := New(store, stubBinding{})
	ctx := context.Background()

	stats, err := idx.Revalidate(ctx, root, &Config{Workers: 2, Timeout: 300 * time.Millisecond})
	require.ErrorIs(t, err, ErrRevalidationTimeout)
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.True(t, stats.Committed, "files written before the deadline are committed")

	_, found, err := store.GetFingerprint(ctx, fast)
	require.NoError(t, err)
	assert.True(t, found)

	_, found, err = store.GetFingerprint(ctx, slow)
	require.NoError(t, err)
	assert.False(t, found, "unfinished files stay stale")
	assert.False(t, idx.Lock().Held())
}

func TestRevalidate_CancelledContext(t *testing.T) {
	store := setupTestStorage(t)
	root := t.TempDir()
	createTestFile(t, root, "a.txt", "hello\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(store, stubBinding{}).Revalidate(ctx, root, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(0), store.Generation())
}

func TestRevalidate_InProgress(t *testing.T) {
	store := setupTestStorage(t)
	idx := New(store, stubBinding{})

	require.True(t, idx.Lock().TryAcquire())
	_, err := idx.Revalidate(context.Background(), t.TempDir(), nil)
	assert.ErrorIs(t, err, ErrRevalidationInProgress)

	idx.Lock().Release()
	_, err = idx.Revalidate(context.Background(), t.TempDir(), nil)
	assert.NoError(t, err)
}

func TestRevalidate_ConcurrentRunsRejected(t *testing.T) {
	store := setupTestStorage(t)
	root := t.TempDir()
	createTestFile(t, root, "slow.txt", "SLOW\n")

	idx := New(store, stubBinding{})
	cfg := &Config{Timeout: 500 * time.Millisecond}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = idx.Revalidate(context.Background(), root, cfg)
		}(i)
	}
	wg.Wait()

	var rejected int
	for _, err := range errs {
		if errors.Is(err, ErrRevalidationInProgress) {
			rejected++
		} else {
			assert.ErrorIs(t, err, ErrRevalidationTimeout)
		}
	}
	assert.Equal(t, 1, rejected)
}

func TestRevalidate_Prune(t *testing.T) {
	store := setupTestStorage(t)
	root := t.TempDir()
	a := createTestFile(t, root, "a.txt", "hello\n")
	createTestFile(t, root, "b.txt", "world\n")

	idx := New(store, stubBinding{})
	ctx := context.Background()
	_, err := idx.Revalidate(ctx, root, nil)
	require.NoError(t, err)

	require.NoError(t, os.Remove(a))

	stats, err := idx.Revalidate(ctx, root, nil)
	require.NoError(t, err)
	assert.False(t, stats.Committed, "without pruning deleted files are left for lazy eviction")
	_, found, err := store.GetFingerprint(ctx, a)
	require.NoError(t, err)
	assert.True(t, found)

	stats, err = idx.Revalidate(ctx, root, &Config{Prune: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesPruned)
	assert.True(t, stats.Committed)
	_, found, err = store.GetFingerprint(ctx, a)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, searchPaths(t, store, "hello"))
}

func TestRevalidate_UnreadableFile(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	store := setupTestStorage(t)
	root := t.TempDir()
	locked := createTestFile(t, root, "locked.txt", "secret\n")
	createTestFile(t, root, "open.txt", "public\n")
	require.NoError(t, os.Chmod(locked, 0000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0644) })

	stats, err := New(store, stubBinding{}).Revalidate(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesFailed)
	assert.Equal(t, 1, stats.FilesIndexed)

	_, found, err := store.GetFingerprint(context.Background(), locked)
	require.NoError(t, err)
	assert.False(t, found, "unreadable files are neither invalidated nor marked valid")
}

func TestRevalidate_MissingRoot(t *testing.T) {
	store := setupTestStorage(t)

	_, err := New(store, stubBinding{}).Revalidate(context.Background(), filepath.Join(t.TempDir(), "nope"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrFileAccess)
}

func TestRevalidate_Progress(t *testing.T) {
	store := setupTestStorage(t)
	root := t.TempDir()
	createTestFile(t, root, "a.txt", "a\n")
	createTestFile(t, root, "b.txt", "b\n")

	var events []Progress
	idx := New(store, stubBinding{}, WithProgress(func(p Progress) { events = append(events, p) }))
	_, err := idx.Revalidate(context.Background(), root, &Config{Workers: 1})
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, Progress{Phase: PhaseScan, Done: 2, Total: 2}, events[0])
	assert.Equal(t, Progress{Phase: PhaseParse, Done: 2, Total: 2}, events[2])
}

func TestRevalidate_GoAndPythonBindings(t *testing.T) {
	store := setupTestStorage(t)
	root := t.TempDir()
	goFile := createTestFile(t, root, "main.go", "package main\n\nfunc run() {}\n")
	pyFile := createTestFile(t, root, "a.py", "import os\n\nx = \"hello\"\n")

	stats, err := New(store, parser.DefaultRegistry()).Revalidate(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesIndexed)

	docs, err := store.Search(context.Background(), storage.Query{Term: "run", Kind: types.KindFunctionDecl})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, goFile, docs[0].Path)

	docs, err = store.Search(context.Background(), storage.Query{Term: "hello", Kind: types.KindStringLiteral})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, pyFile, docs[0].Path)
	assert.Equal(t, 3, docs[0].StartLine)
}
