// Package indexer brings the index up to date with the filesystem with
// minimal re-parsing.
//
// # Basic Usage
//
//	idx := indexer.New(store, parser.DefaultRegistry(), indexer.WithLogger(logger))
//
//	stats, err := idx.Revalidate(ctx, "/path/to/project", &indexer.Config{
//	    CacheDir: "/path/to/project/.codegrep",
//	    Timeout:  5 * time.Minute,
//	})
//	if errors.Is(err, indexer.ErrRevalidationTimeout) {
//	    // partial run: files written before the deadline were committed
//	}
//
// # Revalidation
//
//  1. Walk the root and keep files the binding accepts. The cache
//     directory is never walked; hidden entries are skipped by default.
//  2. Fingerprint every file on a bounded worker pool and compare with the
//     stored fingerprint. Unreadable files are logged and left untouched.
//  3. Stop without touching the store when nothing changed.
//  4. Parse the invalidated files on the worker pool. Each task reads the
//     file once and fingerprints exactly the bytes it parsed.
//  5. A single writer goroutine calls ReplaceFile for every result.
//  6. Commit once.
//
// A file that fails to parse has its Units cleared. Under PolicyRetry
// (default) its fingerprint stays empty and it is parsed again next run;
// under PolicyAdvance the fingerprint is recorded and the file is retried
// only after it changes.
//
// # Fingerprints
//
// Fingerprints are content hashes written as "<algo>:<hex>", xxh3 by
// default. Switching algorithms re-indexes every file once.
//
// # Concurrency
//
// IndexLock keeps a second run in the same process from starting; it
// fails fast with ErrRevalidationInProgress. The searcher shares the lock
// for lazy eviction.
package indexer
