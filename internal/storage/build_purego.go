//go:build !cgo_sqlite

package storage

// This file is compiled by default. It uses a pure Go SQLite
// implementation that ships FTS5, so the store itself needs no C compiler.
// The binary still needs cgo: the Python grammar of internal/parser is
// tree-sitter C code.
//
// Build command:
//   go build ./...
//
// Driver used: modernc.org/sqlite

import (
	"fmt"

	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// BuildMode names the SQLite driver build, not the whole binary
	BuildMode = "purego"
)

// dataSourceName applies per-connection settings through the DSN so every
// connection of the pool gets them
func dataSourceName(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path, busyTimeoutMs)
}
