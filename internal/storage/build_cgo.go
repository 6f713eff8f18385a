//go:build cgo_sqlite

package storage

// This file is compiled when building with CGO and the cgo_sqlite tag.
//
// Build command:
//   CGO_ENABLED=1 go build -tags "cgo_sqlite,sqlite_fts5" ./...
//
// The sqlite_fts5 tag is required: mattn/go-sqlite3 only compiles FTS5 in
// when asked to.
//
// Driver used: github.com/mattn/go-sqlite3

import (
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// BuildMode names the SQLite driver build, not the whole binary
	BuildMode = "cgo"
)

// dataSourceName applies per-connection settings through the DSN so every
// connection of the pool gets them
func dataSourceName(path string) string {
	return fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL", path, busyTimeoutMs)
}
