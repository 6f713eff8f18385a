package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dshills/codegrep/internal/parser"
	"github.com/dshills/codegrep/internal/storage"
	"github.com/dshills/codegrep/pkg/types"
)

var (
	// ErrRevalidationTimeout is returned when a run exceeds Config.Timeout.
	// Files written before the deadline are still committed.
	ErrRevalidationTimeout = errors.New("revalidation timed out")
	// ErrRevalidationInProgress is returned when another run holds the lock
	ErrRevalidationInProgress = errors.New("revalidation already in progress")
)

// DefaultTimeout bounds one revalidation run
const DefaultTimeout = 5 * time.Minute

// ParseFailurePolicy decides what a parse failure records for the file
type ParseFailurePolicy string

const (
	// PolicyRetry keeps the fingerprint empty so the file is parsed again
	// on every run until it parses
	PolicyRetry ParseFailurePolicy = "retry"
	// PolicyAdvance records the fingerprint with zero Units so the file is
	// only retried after it changes
	PolicyAdvance ParseFailurePolicy = "advance"
)

// ParseParseFailurePolicy converts a configuration value. An empty string
// selects PolicyRetry.
func ParseParseFailurePolicy(s string) (ParseFailurePolicy, error) {
	switch ParseFailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyRetry:
		return PolicyRetry, nil
	case PolicyAdvance:
		return PolicyAdvance, nil
	default:
		return "", fmt.Errorf("unknown parse failure policy %q", s)
	}
}

// Indexer brings the store up to date with the filesystem: walk -> compare
// fingerprints -> parse stale files -> replace -> commit
type Indexer struct {
	binding  parser.Binding
	storage  storage.Storage
	logger   *slog.Logger
	lock     *IndexLock
	progress func(Progress)
}

// Config contains configuration for one revalidation run
type Config struct {
	Workers            int           // Number of concurrent workers (default: runtime.NumCPU())
	Timeout            time.Duration // Bound on the whole run (default: 5m)
	CacheDir           string        // Excluded from the walk
	Fingerprint        FingerprintAlgo
	ParseFailurePolicy ParseFailurePolicy
	IncludeHidden      bool // Walk dot files and dot directories
	Prune              bool // Drop indexed files under the root that no longer exist
}

// Phase names reported through Progress
const (
	PhaseScan  = "scan"
	PhaseParse = "parse"
)

// Progress tracks a running revalidation
type Progress struct {
	Phase string
	Done  int
	Total int
}

// Statistics contains statistics about one revalidation run
type Statistics struct {
	RunID            string
	FilesScanned     int
	FilesUpToDate    int
	FilesInvalidated int
	FilesIndexed     int
	FilesFailed      int
	ParseFailures    int
	WriteFailures    int
	UnitsExtracted   int
	FilesPruned      int
	Committed        bool
	Duration         time.Duration
	ErrorMessages    []string
}

// Option configures an Indexer
type Option func(*Indexer)

// WithLogger sets the logger for the run diagnostics
func WithLogger(logger *slog.Logger) Option {
	return func(idx *Indexer) {
		if logger != nil {
			idx.logger = logger
		}
	}
}

// WithLock shares a lock with other store writers of the process
func WithLock(lock *IndexLock) Option {
	return func(idx *Indexer) {
		if lock != nil {
			idx.lock = lock
		}
	}
}

// WithProgress registers a callback invoked from a single goroutine as
// files are scanned and written
func WithProgress(fn func(Progress)) Option {
	return func(idx *Indexer) { idx.progress = fn }
}

// New creates a new Indexer instance
func New(store storage.Storage, binding parser.Binding, opts ...Option) *Indexer {
	idx := &Indexer{
		binding: binding,
		storage: store,
		logger:  slog.Default(),
		lock:    &IndexLock{},
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Lock returns the lock guarding store mutation
func (idx *Indexer) Lock() *IndexLock {
	return idx.lock
}

// DefaultConfig returns the defaults applied to a nil or partial Config
func DefaultConfig() *Config {
	return &Config{
		Workers:            runtime.NumCPU(),
		Timeout:            DefaultTimeout,
		Fingerprint:        FingerprintXXH3,
		ParseFailurePolicy: PolicyRetry,
	}
}

func (c *Config) withDefaults() *Config {
	out := DefaultConfig()
	if c == nil {
		return out
	}
	merged := *c
	if merged.Workers <= 0 {
		merged.Workers = out.Workers
	}
	if merged.Timeout <= 0 {
		merged.Timeout = out.Timeout
	}
	if merged.Fingerprint == "" {
		merged.Fingerprint = out.Fingerprint
	}
	if merged.ParseFailurePolicy == "" {
		merged.ParseFailurePolicy = out.ParseFailurePolicy
	}
	return &merged
}

// candidate is a file whose stored fingerprint is absent or different
type candidate struct {
	path        string
	fingerprint string
}

// parseResult is the outcome of one parse task, handed to the writer
type parseResult struct {
	path        string
	fingerprint string
	units       []types.Unit
	readErr     error
	parseErr    error
}

// runState collects statistics from concurrent tasks
type runState struct {
	mu    sync.Mutex
	stats *Statistics
}

func (r *runState) addError(path string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.ErrorMessages = append(r.stats.ErrorMessages, fmt.Sprintf("%s: %v", path, err))
}

// Revalidate brings the index under cfg.CacheDir up to date with the files
// below root. Only stale files are parsed, and all writes are made visible
// by a single commit at the end of the run.
func (idx *Indexer) Revalidate(ctx context.Context, root string, cfg *Config) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrRevalidationInProgress
	}
	defer idx.lock.Release()

	cfg = cfg.withDefaults()
	startTime := time.Now()
	state := &runState{stats: &Statistics{
		RunID:         uuid.NewString(),
		ErrorMessages: make([]string, 0),
	}}
	stats := state.stats
	defer func() { stats.Duration = time.Since(startTime) }()

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return stats, fmt.Errorf("failed to resolve root: %w", err)
	}
	if info, err := os.Stat(absRoot); err != nil {
		return stats, fmt.Errorf("%w: %w", types.ErrFileAccess, err)
	} else if !info.IsDir() {
		return stats, fmt.Errorf("%w: %s is not a directory", types.ErrFileAccess, absRoot)
	}

	logger := idx.logger.With("run_id", stats.RunID)
	logger.Info("revalidation started", "root", absRoot, "workers", cfg.Workers)

	runCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	files, err := idx.discoverFiles(runCtx, absRoot, cfg, logger)
	if err != nil {
		return stats, idx.runError(ctx, runCtx, err)
	}
	stats.FilesScanned = len(files)

	invalid, err := idx.checkFingerprints(runCtx, files, cfg, state, logger)
	if err != nil {
		return stats, idx.runError(ctx, runCtx, err)
	}
	stats.FilesInvalidated = len(invalid)

	var pruned []string
	if cfg.Prune {
		pruned, err = idx.stalePaths(runCtx, absRoot)
		if err != nil {
			logger.Warn("failed to list indexed files for pruning", "error", err)
		}
	}

	if len(invalid) == 0 && len(pruned) == 0 {
		logger.Info("index up to date", "files", stats.FilesScanned)
		return stats, nil
	}

	wrote := idx.indexFiles(runCtx, invalid, cfg, state, logger)

	if len(pruned) > 0 && runCtx.Err() == nil {
		if err := idx.storage.DeleteFiles(runCtx, pruned); err != nil {
			logger.Warn("failed to prune deleted files", "error", err)
		} else {
			stats.FilesPruned = len(pruned)
			wrote = true
		}
	}

	if wrote {
		// Everything already written is committed, even after the
		// deadline: the commit runs detached from the run context.
		if err := idx.storage.Commit(context.WithoutCancel(ctx)); err != nil {
			logger.Error("commit failed", "error", err)
			return stats, fmt.Errorf("failed to commit revalidation: %w", err)
		}
		stats.Committed = true
	}

	logger.Info("revalidation finished",
		"scanned", stats.FilesScanned,
		"up_to_date", stats.FilesUpToDate,
		"indexed", stats.FilesIndexed,
		"failed", stats.FilesFailed,
		"parse_failures", stats.ParseFailures,
		"units", stats.UnitsExtracted,
		"pruned", stats.FilesPruned,
		"duration", time.Since(startTime))

	if runCtx.Err() != nil {
		return stats, idx.runError(ctx, runCtx, runCtx.Err())
	}
	return stats, nil
}

// runError maps a deadline on the run context to ErrRevalidationTimeout
func (idx *Indexer) runError(parent, runCtx context.Context, err error) error {
	if parent.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return ErrRevalidationTimeout
	}
	return err
}

// discoverFiles walks root and returns every file the binding handles,
// sorted. Unreadable directories are logged and skipped.
func (idx *Indexer) discoverFiles(ctx context.Context, root string, cfg *Config, logger *slog.Logger) ([]string, error) {
	cacheDir := ""
	if cfg.CacheDir != "" {
		if abs, err := filepath.Abs(cfg.CacheDir); err == nil {
			cacheDir = abs
		}
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err != nil {
			if path == root {
				return fmt.Errorf("%w: %w", types.ErrFileAccess, err)
			}
			logger.Warn("skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path == root {
				return nil
			}
			if cacheDir != "" && path == cacheDir {
				return filepath.SkipDir
			}
			if !cfg.IncludeHidden && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}
		if !cfg.IncludeHidden && strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if !idx.binding.IsValidFile(path) {
			return nil
		}

		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// checkFingerprints hashes every file concurrently and returns the files
// whose stored fingerprint is absent or different, in walk order
func (idx *Indexer) checkFingerprints(ctx context.Context, files []string, cfg *Config,
	state *runState, logger *slog.Logger) ([]candidate, error) {

	results := make([]*candidate, len(files))
	var upToDate, failed, done atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(cfg.Workers))

	for i, path := range files {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}

		g.Go(func() error {
			defer sem.Release(1)
			defer done.Add(1)

			fingerprint, _, err := FingerprintFile(cfg.Fingerprint, path)
			if err != nil {
				logger.Warn("failed to read file", "path", path, "error", err)
				failed.Add(1)
				state.addError(path, err)
				return nil
			}

			stored, found, err := idx.storage.GetFingerprint(gctx, path)
			if err != nil {
				logger.Warn("fingerprint lookup failed, treating file as new", "path", path, "error", err)
				found = false
			}
			if found && stored == fingerprint {
				upToDate.Add(1)
				return nil
			}

			results[i] = &candidate{path: path, fingerprint: fingerprint}
			return nil
		})
	}

	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	state.stats.FilesUpToDate = int(upToDate.Load())
	state.stats.FilesFailed += int(failed.Load())
	idx.report(Progress{Phase: PhaseScan, Done: int(done.Load()), Total: len(files)})

	invalid := make([]candidate, 0)
	for _, c := range results {
		if c != nil {
			invalid = append(invalid, *c)
		}
	}
	return invalid, nil
}

// indexFiles parses the invalidated files on the worker pool and writes the
// results through a single writer goroutine. It reports whether anything
// reached the pending batch.
func (idx *Indexer) indexFiles(ctx context.Context, invalid []candidate, cfg *Config,
	state *runState, logger *slog.Logger) bool {

	results := make(chan parseResult, cfg.Workers)
	var wrote bool

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		written := 0
		for r := range results {
			// Results that arrive after the deadline are discarded
			if ctx.Err() != nil {
				continue
			}
			if idx.writeResult(ctx, r, cfg, state.stats, logger) {
				wrote = true
			}
			written++
			idx.report(Progress{Phase: PhaseParse, Done: written, Total: len(invalid)})
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(cfg.Workers))

	for _, c := range invalid {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}

		g.Go(func() error {
			defer sem.Release(1)

			r := idx.parseFile(gctx, c, cfg)
			if gctx.Err() != nil {
				return nil
			}
			select {
			case results <- r:
			case <-gctx.Done():
			}
			return nil
		})
	}

	_ = g.Wait()
	close(results)
	<-writerDone

	return wrote
}

// parseFile reads the file once and fingerprints the bytes it parses, so
// the recorded fingerprint always matches the indexed content
func (idx *Indexer) parseFile(ctx context.Context, c candidate, cfg *Config) parseResult {
	r := parseResult{path: c.path}

	src, err := os.ReadFile(c.path)
	if err != nil {
		r.readErr = fmt.Errorf("%w: %w", types.ErrFileAccess, err)
		return r
	}
	r.fingerprint = Fingerprint(cfg.Fingerprint, src)

	units, err := parser.Extract(ctx, idx.binding, c.path, src)
	if err != nil {
		r.parseErr = err
		return r
	}
	r.units = units
	return r
}

// writeResult applies one parse result to the pending batch. It reports
// whether the batch changed.
func (idx *Indexer) writeResult(ctx context.Context, r parseResult, cfg *Config,
	stats *Statistics, logger *slog.Logger) bool {

	if r.readErr != nil {
		logger.Warn("failed to read file", "path", r.path, "error", r.readErr)
		stats.FilesFailed++
		stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", r.path, r.readErr))
		return false
	}

	var err error
	if r.parseErr != nil {
		logger.Warn("failed to parse file", "path", r.path, "error", r.parseErr, "policy", cfg.ParseFailurePolicy)
		stats.ParseFailures++
		stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", r.path, r.parseErr))

		if cfg.ParseFailurePolicy == PolicyAdvance {
			err = idx.storage.ReplaceFile(ctx, r.path, r.fingerprint, nil)
		} else {
			err = idx.storage.RecordParseFailure(ctx, r.path, r.parseErr.Error())
		}
	} else {
		err = idx.storage.ReplaceFile(ctx, r.path, r.fingerprint, r.units)
	}

	if err != nil {
		logger.Error("failed to write file", "path", r.path, "error", err)
		stats.WriteFailures++
		stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", r.path, err))
		return false
	}

	if r.parseErr == nil {
		stats.FilesIndexed++
		stats.UnitsExtracted += len(r.units)
		logger.Debug("indexed file", "path", r.path, "units", len(r.units))
	}
	return true
}

// stalePaths lists indexed paths under root that no longer exist on disk
func (idx *Indexer) stalePaths(ctx context.Context, root string) ([]string, error) {
	files, err := idx.storage.ListFiles(ctx)
	if err != nil {
		return nil, err
	}

	prefix := root + string(filepath.Separator)
	var stale []string
	for _, f := range files {
		if !strings.HasPrefix(f.Path, prefix) {
			continue
		}
		if _, err := os.Stat(f.Path); errors.Is(err, fs.ErrNotExist) {
			stale = append(stale, f.Path)
		}
	}
	return stale, nil
}

func (idx *Indexer) report(p Progress) {
	if idx.progress != nil {
		idx.progress(p)
	}
}
