package types

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the indexer, store and searcher. Callers test
// with errors.Is; concrete errors wrap one of these.
var (
	// ErrFileAccess marks an unreadable file or directory
	ErrFileAccess = errors.New("file access error")
	// ErrParse marks source that the grammar binding could not turn into a tree
	ErrParse = errors.New("parse error")
	// ErrStoreWrite marks a failed ReplaceFile or delete
	ErrStoreWrite = errors.New("store write error")
	// ErrStoreQuery marks a failed search or fingerprint lookup
	ErrStoreQuery = errors.New("store query error")
	// ErrStoreInit marks a store that could not be opened or created
	ErrStoreInit = errors.New("store init error")
)

// ParseError represents an error that occurred during parsing
type ParseError struct {
	File    string
	Line    int
	Column  int
	Message string
}

// Error implements the error interface
func (pe *ParseError) Error() string {
	if pe.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", pe.File, pe.Line, pe.Column, pe.Message)
	}
	return fmt.Sprintf("%s: %s", pe.File, pe.Message)
}

// Unwrap lets errors.Is(err, ErrParse) match
func (pe *ParseError) Unwrap() error {
	return ErrParse
}
