package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/codegrep/internal/storage"
	"github.com/dshills/codegrep/pkg/types"
)

// DefaultCacheSize is the number of responses kept in the LRU cache
const DefaultCacheSize = 1000

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Term     string
	Kind     types.Kind // KindAny matches every kind
	Mode     storage.SearchMode
	Field    storage.SearchField
	MaxEdits int      // Fuzzy edit distance (default: storage.DefaultMaxEdits)
	KeyTerms []string // Exact key paths that must all be present
	UseCache bool     // Whether to use the query cache
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results  *types.ResultSet
	Evicted  []string // Paths dropped because they no longer exist
	Mode     storage.SearchMode
	Duration time.Duration
	CacheHit bool
}

// Locker is the non-blocking lock shared with the indexer. Eviction only
// writes when it can take the lock.
type Locker interface {
	TryAcquire() bool
	Release()
}

// Searcher runs queries against committed index state, groups the hits by
// path and lazily evicts files that were deleted from disk
type Searcher struct {
	storage storage.Storage
	lock    Locker
	logger  *slog.Logger
	cache   *lru.Cache[[32]byte, *types.ResultSet]
	cacheMu sync.RWMutex
}

// Option configures a Searcher
type Option func(*Searcher) error

// WithLogger sets the logger for eviction diagnostics
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithLock shares the store write lock with an indexer
func WithLock(lock Locker) Option {
	return func(s *Searcher) error {
		if lock != nil {
			s.lock = lock
		}
		return nil
	}
}

// WithCacheSize sets the number of cached responses
func WithCacheSize(size int) Option {
	return func(s *Searcher) error {
		cache, err := lru.New[[32]byte, *types.ResultSet](size)
		if err != nil {
			return fmt.Errorf("failed to create LRU cache: %w", err)
		}
		s.cache = cache
		return nil
	}
}

// NewSearcher creates a new Searcher instance
func NewSearcher(store storage.Storage, opts ...Option) (*Searcher, error) {
	cache, err := lru.New[[32]byte, *types.ResultSet](DefaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	s := &Searcher{
		storage: store,
		lock:    &localLock{},
		logger:  slog.Default(),
		cache:   cache,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Search performs a search based on the request parameters. Zero matches
// is an empty result set; a store failure is an error wrapping
// types.ErrStoreQuery.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if err := validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	response := &SearchResponse{Mode: req.Mode}

	// results are cached under the generation they were read at
	generation := s.storage.Generation()
	if req.UseCache {
		if cached, ok := s.checkCache(computeQueryHash(req, generation)); ok {
			response.Results = cached
			response.CacheHit = true
		}
	}

	if response.Results == nil {
		docs, err := s.storage.Search(ctx, storage.Query{
			Term:     req.Term,
			Kind:     req.Kind,
			Mode:     req.Mode,
			Field:    req.Field,
			MaxEdits: req.MaxEdits,
			KeyTerms: req.KeyTerms,
		})
		if err != nil {
			if !errors.Is(err, types.ErrStoreQuery) {
				err = fmt.Errorf("%w: %w", types.ErrStoreQuery, err)
			}
			return nil, fmt.Errorf("search failed: %w", err)
		}
		response.Results = groupByPath(docs)
	}

	evicted, evictCommitted := s.evictMissing(ctx, response.Results)
	response.Evicted = evicted

	if req.UseCache && !response.CacheHit {
		// The read is only current for the generation it saw, or the one
		// after it when the eviction above made the only commit since.
		// Any other commit may have added matches.
		current := s.storage.Generation()
		expected := generation
		if evictCommitted {
			expected++
		}
		if current == expected {
			s.storeInCache(computeQueryHash(req, current), response.Results)
		} else {
			s.logger.Debug("index changed during search, result not cached",
				"read_generation", generation, "generation", current)
		}
	}

	response.Duration = time.Since(startTime)
	return response, nil
}

// validateRequest applies the defaults of an empty mode, field and edit
// distance
func validateRequest(req *SearchRequest) error {
	q, err := storage.NormalizeQuery(storage.Query{
		Term:     req.Term,
		Kind:     req.Kind,
		Mode:     req.Mode,
		Field:    req.Field,
		MaxEdits: req.MaxEdits,
		KeyTerms: req.KeyTerms,
	})
	if err != nil {
		return err
	}
	req.Term = q.Term
	req.KeyTerms = q.KeyTerms
	req.Mode = q.Mode
	req.Field = q.Field
	req.MaxEdits = q.MaxEdits
	return nil
}

// groupByPath keeps store order within and across paths
func groupByPath(docs []storage.Document) *types.ResultSet {
	rs := types.NewResultSet()
	for _, doc := range docs {
		rs.Add(doc.Path, types.Match{
			Kind:    doc.Kind,
			Content: doc.Content,
			Span:    types.MatchSpan{StartLine: doc.StartLine, EndLine: doc.EndLine},
		})
	}
	return rs
}

// evictMissing drops every path that no longer exists from rs and, when
// no revalidation is running, deletes those paths from the index. It
// reports whether the deletion was committed. Eviction failures are only
// logged: the next revalidation never re-adds them.
func (s *Searcher) evictMissing(ctx context.Context, rs *types.ResultSet) ([]string, bool) {
	var missing []string
	for _, path := range rs.Paths() {
		_, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			rs.Remove(path)
			missing = append(missing, path)
		} else if err != nil {
			s.logger.Debug("cannot stat result path", "path", path, "error", err)
		}
	}
	if len(missing) == 0 {
		return nil, false
	}

	if !s.lock.TryAcquire() {
		s.logger.Debug("index busy, eviction deferred", "paths", len(missing))
		return missing, false
	}
	defer s.lock.Release()

	if err := s.storage.DeleteFiles(ctx, missing); err != nil {
		s.logger.Warn("failed to evict deleted files", "paths", len(missing), "error", err)
		_ = s.storage.Rollback()
		return missing, false
	}
	if err := s.storage.Commit(ctx); err != nil {
		s.logger.Warn("failed to commit eviction", "paths", len(missing), "error", err)
		return missing, false
	}
	s.logger.Debug("evicted deleted files", "paths", missing)
	return missing, true
}

// checkCache looks up a cached result set and returns a copy
func (s *Searcher) checkCache(hash [32]byte) (*types.ResultSet, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	entry, found := s.cache.Get(hash)
	if !found {
		return nil, false
	}
	return entry.Clone(), true
}

// storeInCache saves a copy of the result set
func (s *Searcher) storeInCache(hash [32]byte, rs *types.ResultSet) {
	s.cacheMu.Lock()
	s.cache.Add(hash, rs.Clone())
	s.cacheMu.Unlock()
}

// computeQueryHash computes a unique hash for a search request at one
// store generation, so every commit invalidates earlier entries
func computeQueryHash(req SearchRequest, generation uint64) [32]byte {
	var data strings.Builder
	data.WriteString(req.Term)
	data.WriteString("|")
	data.WriteString(string(req.Kind))
	data.WriteString("|")
	data.WriteString(string(req.Mode))
	data.WriteString("|")
	data.WriteString(string(req.Field))
	data.WriteString("|")
	data.WriteString(strconv.Itoa(req.MaxEdits))
	data.WriteString("|")
	for _, key := range req.KeyTerms {
		data.WriteString(strconv.Quote(key))
	}
	data.WriteString("|")
	data.WriteString(strconv.FormatUint(generation, 10))

	return sha256.Sum256([]byte(data.String()))
}

// InvalidateCache removes every cached response
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen returns the number of cached responses
func (s *Searcher) CacheLen() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}

// localLock is used when no lock is shared with an indexer
type localLock struct {
	mu sync.Mutex
}

func (l *localLock) TryAcquire() bool { return l.mu.TryLock() }
func (l *localLock) Release()         { l.mu.Unlock() }
