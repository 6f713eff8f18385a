package parser

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/dshills/codegrep/pkg/types"
)

// PythonGrammar names the Python grammar implementation. It is C code
// linked through cgo whatever SQLite driver the store is built with.
const PythonGrammar = "tree-sitter (cgo)"

// PythonBinding parses Python sources with tree-sitter
type PythonBinding struct {
	language *sitter.Language
}

// NewPythonBinding creates a Python binding that indexes leaf text
func NewPythonBinding() *PythonBinding {
	return &PythonBinding{language: python.GetLanguage()}
}

func (b *PythonBinding) Name() string                   { return "python" }
func (b *PythonBinding) Strategy() types.SearchStrategy { return types.StrategyLeafText }

func (b *PythonBinding) IsValidFile(path string) bool {
	return strings.HasSuffix(path, ".py") || strings.HasSuffix(path, ".pyi")
}

// Parse builds a tree-sitter tree. tree-sitter recovers from syntax errors
// with ERROR nodes, so only a missing root is a parse failure.
func (b *PythonBinding) Parse(ctx context.Context, path string, src []byte) (Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(b.language)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &types.ParseError{File: path, Message: err.Error()}
	}
	if tree == nil || tree.RootNode() == nil {
		return nil, &types.ParseError{File: path, Message: "no syntax tree produced"}
	}

	return &pyTree{path: path, src: src, tree: tree}, nil
}

func (b *PythonBinding) NewExtractor() Extractor {
	return &pyExtractor{}
}

type pyTree struct {
	path string
	src  []byte
	tree *sitter.Tree
}

func (t *pyTree) Path() string     { return t.path }
func (t *pyTree) Language() string { return "python" }
func (t *pyTree) Close()           { t.tree.Close() }

type pyExtractor struct{}

// Walk extracts Units from a Python tree
func (e *pyExtractor) Walk(tree Tree) []types.Unit {
	t, ok := tree.(*pyTree)
	if !ok {
		return nil
	}
	w := &pyWalker{path: t.path, src: t.src}
	w.walk(t.tree.RootNode())
	return w.units
}

type pyWalker struct {
	path  string
	src   []byte
	units []types.Unit
}

func (w *pyWalker) walk(n *sitter.Node) {
	if n == nil || n.IsMissing() {
		return
	}

	switch n.Type() {
	case "ERROR":
		return
	case "string":
		w.emit(types.KindStringLiteral, n, types.Leaf{Name: "string_literal", Value: stripPythonQuotes(n.Content(w.src))})
		return
	case "integer", "float":
		w.emit(types.KindLiteral, n, types.Leaf{Name: "literal", Value: n.Content(w.src)})
		return
	case "import_statement":
		w.importStatement(n)
		return
	case "import_from_statement":
		w.importFrom(n)
		return
	case "function_definition":
		w.functionDefinition(n)
	case "class_definition":
		w.classDefinition(n)
	}

	for i := 0; i < int(n.NamedChildCount()); i++ {
		w.walk(n.NamedChild(i))
	}
}

func (w *pyWalker) emit(kind types.Kind, n *sitter.Node, value types.ValueNode) {
	start := int(n.StartPoint().Row) + 1
	end := int(n.EndPoint().Row) + 1
	column := int(n.StartPoint().Column) + 1
	w.units = append(w.units, newUnit(w.path, kind, start, end, column, value, types.StrategyLeafText))
}

func (w *pyWalker) functionDefinition(n *sitter.Node) {
	name := n.ChildByFieldName("name")
	if name == nil {
		return
	}

	params := types.Array{Name: "parameters"}
	if list := n.ChildByFieldName("parameters"); list != nil {
		for i := 0; i < int(list.NamedChildCount()); i++ {
			if p := w.parameterName(list.NamedChild(i)); p != "" {
				params.Elements = append(params.Elements, types.Leaf{Name: "parameter", Value: p})
			}
		}
	}

	w.emit(types.KindFunctionDecl, n, types.Fields{Name: "function_definition", Children: []types.ValueNode{
		types.Leaf{Name: "identifier", Value: name.Content(w.src)},
		params,
	}})
}

// parameterName returns the bound name of a parameter node
func (w *pyWalker) parameterName(p *sitter.Node) string {
	if p == nil {
		return ""
	}
	switch p.Type() {
	case "identifier":
		return p.Content(w.src)
	case "typed_parameter", "list_splat_pattern", "dictionary_splat_pattern":
		for i := 0; i < int(p.NamedChildCount()); i++ {
			if c := p.NamedChild(i); c.Type() == "identifier" {
				return c.Content(w.src)
			}
		}
	case "default_parameter", "typed_default_parameter":
		if name := p.ChildByFieldName("name"); name != nil {
			return name.Content(w.src)
		}
	}
	return ""
}

func (w *pyWalker) classDefinition(n *sitter.Node) {
	name := n.ChildByFieldName("name")
	if name == nil {
		return
	}

	bases := types.Array{Name: "bases"}
	if list := n.ChildByFieldName("superclasses"); list != nil {
		for i := 0; i < int(list.NamedChildCount()); i++ {
			base := list.NamedChild(i)
			if base.Type() == "ERROR" {
				continue
			}
			bases.Elements = append(bases.Elements, types.Leaf{Name: "base", Value: base.Content(w.src)})
		}
	}

	w.emit(types.KindTypeDecl, n, types.Fields{Name: "class_definition", Children: []types.ValueNode{
		types.Leaf{Name: "identifier", Value: name.Content(w.src)},
		bases,
	}})
}

// importStatement emits one Unit per imported module: import a, b as c
func (w *pyWalker) importStatement(n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		w.importName(n, "", n.NamedChild(i))
	}
}

// importFrom emits one Unit per imported name: from m import a, b as c
func (w *pyWalker) importFrom(n *sitter.Node) {
	module := n.ChildByFieldName("module_name")
	if module == nil {
		return
	}
	prefix := module.Content(w.src)
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.StartByte() == module.StartByte() {
			continue
		}
		w.importName(n, prefix, c)
	}
}

func (w *pyWalker) importName(stmt *sitter.Node, prefix string, c *sitter.Node) {
	var path, alias string
	switch c.Type() {
	case "dotted_name":
		path = c.Content(w.src)
	case "aliased_import":
		if name := c.ChildByFieldName("name"); name != nil {
			path = name.Content(w.src)
		}
		if a := c.ChildByFieldName("alias"); a != nil {
			alias = a.Content(w.src)
		}
	case "wildcard_import":
		path = "*"
	default:
		return
	}
	if path == "" {
		return
	}
	if prefix != "" {
		path = joinModule(prefix, path)
	}

	children := []types.ValueNode{types.Leaf{Name: "path", Value: path}}
	if alias != "" {
		children = append(children, types.Leaf{Name: "alias", Value: alias})
	}
	w.emit(types.KindImport, stmt, types.Fields{Name: "import", Children: children})
}

// joinModule joins a from-import module and a name; relative modules
// already end in a dot
func joinModule(module, name string) string {
	if strings.HasSuffix(module, ".") {
		return module + name
	}
	return module + "." + name
}

// stripPythonQuotes removes string prefixes and quotes from a literal
func stripPythonQuotes(lit string) string {
	s := strings.TrimLeft(lit, "rRbBuUfF")
	for _, q := range []string{`"""`, `'''`} {
		if len(s) >= 6 && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			return s[3 : len(s)-3]
		}
	}
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}
