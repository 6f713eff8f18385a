// Package storage provides the SQLite-based index store.
//
// The index lives under one cache root as two databases that are opened
// and closed together:
//   - content/index.db: one row per Unit plus the units_fts FTS5 index
//   - metadata/index.db: one row per file (fingerprint, unit count, parse
//     error) and the vocabulary of generalized key shapes
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStorage("/project/.codegrep")
//	if err != nil {
//	    return err // wraps types.ErrStoreInit
//	}
//	defer store.Close()
//
//	if err := store.ReplaceFile(ctx, path, fingerprint, units); err != nil {
//	    return err // wraps types.ErrStoreWrite
//	}
//	if err := store.Commit(ctx); err != nil {
//	    return err
//	}
//
//	docs, err := store.Search(ctx, storage.Query{Term: "hello", Kind: types.KindStringLiteral})
//
// # Batches
//
// Writes go into a pending batch that is begun lazily: one connection per
// database holding an open transaction. ReplaceFile runs inside a savepoint
// on both connections, so a failed file leaves the rest of the batch
// intact. Readers use other pool connections and keep seeing the last
// committed state (WAL) until Commit. Commit writes content first and
// metadata second, then bumps Generation.
//
// # Search Modes
//
//   - phrase: FTS5 phrase match on the content or keys column. Terms
//     without any letter or digit fall back to a substring scan.
//   - regex: Go regexp over the selected column.
//   - fuzzy: every query word within MaxEdits (Levenshtein) of some token.
//
// Results are never truncated and come back in store order.
//
// # Build Modes
//
// The default build uses modernc.org/sqlite (pure Go). Building with
// -tags "cgo_sqlite,sqlite_fts5" switches to github.com/mattn/go-sqlite3.
package storage
