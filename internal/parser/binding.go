package parser

import (
	"context"
	"fmt"
	"os"

	"github.com/dshills/codegrep/pkg/types"
)

// Binding is the capability set of one language grammar
type Binding interface {
	// Name returns the language name, e.g. "go"
	Name() string
	// Strategy selects how Unit content is derived for search
	Strategy() types.SearchStrategy
	// IsValidFile reports whether the binding handles the path
	IsValidFile(path string) bool
	// Parse builds a syntax tree. It fails with *types.ParseError only when
	// no usable tree can be produced.
	Parse(ctx context.Context, path string, src []byte) (Tree, error)
	// NewExtractor returns a fresh extractor for trees of this binding
	NewExtractor() Extractor
}

// Tree is a parsed file. The path travels with the tree so extractors hold
// no per-file state of their own.
type Tree interface {
	Path() string
	Language() string
	Close()
}

// Extractor walks a tree and returns its Units in document order
type Extractor interface {
	Walk(tree Tree) []types.Unit
}

// Extract parses src with the binding and returns the extracted Units
func Extract(ctx context.Context, b Binding, path string, src []byte) ([]types.Unit, error) {
	tree, err := b.Parse(ctx, path, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	return b.NewExtractor().Walk(tree), nil
}

// ParseFile reads a file from disk and extracts its Units
func ParseFile(ctx context.Context, b Binding, path string) ([]types.Unit, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w: %w", path, types.ErrFileAccess, err)
	}
	return Extract(ctx, b, path, src)
}

// newUnit fills the derived fields of a Unit
func newUnit(path string, kind types.Kind, start, end, column int, node types.ValueNode, strategy types.SearchStrategy) types.Unit {
	if end < start {
		end = start
	}
	return types.Unit{
		Path:      path,
		Kind:      kind,
		StartLine: start,
		EndLine:   end,
		Column:    column,
		Node:      node,
		Content:   types.SearchableText(node, strategy),
	}
}
