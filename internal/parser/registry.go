package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dshills/codegrep/pkg/types"
)

// Registry maps file extensions to bindings. It is itself a Binding that
// dispatches on the file extension.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]Binding // extension (without dot) → binding
	langs    map[string]Binding // language name → binding
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		bindings: make(map[string]Binding),
		langs:    make(map[string]Binding),
	}
}

// DefaultRegistry returns a registry with the Go and Python bindings
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewGoBinding(), "go")
	r.Register(NewPythonBinding(), "py", "pyi")
	return r
}

// Register adds a binding under the given extensions
func (r *Registry) Register(b Binding, extensions ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.langs[b.Name()] = b
	for _, ext := range extensions {
		r.bindings[strings.TrimPrefix(ext, ".")] = b
	}
}

// Lookup returns the binding for a path based on its extension, or nil
func (r *Registry) Lookup(path string) Binding {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bindings[ext]
}

// Languages returns the registered language names, sorted
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.langs))
	for name := range r.langs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Name() string { return "registry" }

// Strategy returns the default strategy; the per-file strategy comes from
// the binding Lookup returns.
func (r *Registry) Strategy() types.SearchStrategy { return types.StrategyLeafText }

func (r *Registry) IsValidFile(path string) bool {
	b := r.Lookup(path)
	return b != nil && b.IsValidFile(path)
}

func (r *Registry) Parse(ctx context.Context, path string, src []byte) (Tree, error) {
	b := r.Lookup(path)
	if b == nil {
		return nil, &types.ParseError{File: path, Message: fmt.Sprintf("no grammar registered for %q", filepath.Ext(path))}
	}
	return b.Parse(ctx, path, src)
}

func (r *Registry) NewExtractor() Extractor {
	return &registryExtractor{registry: r, extractors: make(map[string]Extractor)}
}

// registryExtractor routes each tree to the extractor of its language
type registryExtractor struct {
	registry   *Registry
	extractors map[string]Extractor
}

func (e *registryExtractor) Walk(tree Tree) []types.Unit {
	lang := tree.Language()
	ex, ok := e.extractors[lang]
	if !ok {
		e.registry.mu.RLock()
		b := e.registry.langs[lang]
		e.registry.mu.RUnlock()
		if b == nil {
			return nil
		}
		ex = b.NewExtractor()
		e.extractors[lang] = ex
	}
	return ex.Walk(tree)
}
