// Package searcher answers structural and textual queries over the index.
//
// A query is a conjunction of a primary clause over one field of every
// Unit (its content or its key paths) and a kind filter. The primary
// clause is one of three modes:
//   - phrase (default): the term must occur as a phrase
//   - regex: a Go regular expression
//   - fuzzy: every word of the term within a bounded edit distance
//
// # Basic Usage
//
//	s, err := searcher.NewSearcher(store, searcher.WithLock(idx.Lock()))
//
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    Term: "hello",
//	    Kind: types.KindStringLiteral,
//	})
//	if errors.Is(err, types.ErrStoreQuery) {
//	    // search failed, which is not the same as zero matches
//	}
//
//	for _, path := range resp.Results.Paths() {
//	    for _, m := range resp.Results.Matches(path) {
//	        fmt.Printf("%s:%d\t%s\n", path, m.Span.StartLine, m.Content)
//	    }
//	}
//
// Results are grouped by path. Paths keep the order in which the store
// returned them, and matches keep store order within a path. Nothing is
// ranked or truncated.
//
// # Lazy Eviction
//
// Every path in a result is checked on disk. Missing paths are dropped
// from the response and reported in SearchResponse.Evicted. When no
// revalidation holds the shared lock, they are also deleted from the
// index. Failures are logged only.
//
// # Caching
//
// With UseCache set, responses are kept in an LRU cache keyed by a
// SHA-256 of the request and the store generation. Any commit therefore
// misses every earlier entry. InvalidateCache drops all entries.
package searcher
