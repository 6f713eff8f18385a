// Package parser turns source files into Units through grammar bindings.
//
// A Binding parses one language and hands back a Tree; the Binding's
// Extractor walks that tree once and returns Units in document order:
//
//	b := parser.DefaultRegistry()
//	units, err := parser.ParseFile(ctx, b, "/path/to/a.py")
//	if err != nil {
//	    return err
//	}
//	for _, u := range units {
//	    fmt.Printf("%s:%d %s %s\n", u.Path, u.StartLine, u.Kind, u.Content)
//	}
//
// # Bindings
//
// The Go binding is built on go/parser and go/ast. The Python binding is
// built on tree-sitter. Registry dispatches on the file extension and is a
// Binding itself, so callers never need to know which grammar handles a
// file.
//
// # Error Handling
//
// Both bindings tolerate syntax errors: malformed subtrees (ast.Bad* nodes,
// tree-sitter ERROR nodes) are skipped and the rest of the file is still
// extracted. Parse returns a *types.ParseError only when no usable tree
// exists, for example a Go file without a package clause.
package parser
