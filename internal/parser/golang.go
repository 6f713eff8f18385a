package parser

import (
	"context"
	"errors"
	"go/ast"
	goparser "go/parser"
	"go/scanner"
	"go/token"
	gotypes "go/types"
	"strconv"
	"strings"

	"github.com/dshills/codegrep/pkg/types"
)

// GoBinding parses Go sources with go/parser
type GoBinding struct {
	strategy types.SearchStrategy
}

// NewGoBinding creates a Go binding that indexes key paths
func NewGoBinding() *GoBinding {
	return &GoBinding{strategy: types.StrategyKeyPaths}
}

// WithStrategy returns a copy of the binding using the given strategy
func (b *GoBinding) WithStrategy(strategy types.SearchStrategy) *GoBinding {
	return &GoBinding{strategy: strategy}
}

func (b *GoBinding) Name() string                   { return "go" }
func (b *GoBinding) Strategy() types.SearchStrategy { return b.strategy }

func (b *GoBinding) IsValidFile(path string) bool {
	return strings.HasSuffix(path, ".go")
}

// Parse parses a Go file. Syntax errors are non-fatal as long as the package
// clause is readable; the partial AST is used.
func (b *GoBinding) Parse(ctx context.Context, path string, src []byte) (Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fset := token.NewFileSet()
	file, err := goparser.ParseFile(fset, path, src, goparser.SkipObjectResolution)
	if file == nil || file.Name == nil || file.Name.Name == "" || file.Name.Name == "_" {
		return nil, newGoParseError(path, err)
	}

	return &goTree{path: path, fset: fset, file: file, syntaxErr: err}, nil
}

func (b *GoBinding) NewExtractor() Extractor {
	return &goExtractor{strategy: b.strategy}
}

func newGoParseError(path string, err error) *types.ParseError {
	perr := &types.ParseError{File: path, Message: "missing package clause"}
	var list scanner.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		perr.Line = list[0].Pos.Line
		perr.Column = list[0].Pos.Column
		perr.Message = list[0].Msg
	} else if err != nil {
		perr.Message = err.Error()
	}
	return perr
}

type goTree struct {
	path      string
	fset      *token.FileSet
	file      *ast.File
	syntaxErr error
}

func (t *goTree) Path() string     { return t.path }
func (t *goTree) Language() string { return "go" }
func (t *goTree) Close()           {}

// SyntaxErr returns the recoverable syntax errors of a partial parse
func (t *goTree) SyntaxErr() error { return t.syntaxErr }

type goExtractor struct {
	strategy types.SearchStrategy
}

// Walk extracts Units from a Go tree
func (e *goExtractor) Walk(tree Tree) []types.Unit {
	t, ok := tree.(*goTree)
	if !ok {
		return nil
	}

	w := &goWalker{
		fset:     t.fset,
		path:     t.path,
		strategy: e.strategy,
		callees:  make(map[ast.Expr]bool),
	}
	w.emit(types.KindPackage, t.file.Name, types.Leaf{Name: "package", Value: t.file.Name.Name})
	for _, decl := range t.file.Decls {
		ast.Inspect(decl, w.visit)
	}
	return w.units
}

// goWalker is a single-pass visitor over one file
type goWalker struct {
	fset     *token.FileSet
	path     string
	strategy types.SearchStrategy
	callees  map[ast.Expr]bool
	units    []types.Unit
}

func (w *goWalker) visit(node ast.Node) bool {
	if node == nil {
		return false
	}

	switch n := node.(type) {
	case *ast.BadExpr, *ast.BadStmt, *ast.BadDecl:
		return false
	case *ast.FuncDecl:
		w.funcDecl(n)
		if n.Body != nil {
			ast.Inspect(n.Body, w.visit)
		}
		return false
	case *ast.GenDecl:
		w.genDecl(n)
		return false
	case *ast.FuncLit:
		if n.Body != nil {
			ast.Inspect(n.Body, w.visit)
		}
		return false
	case *ast.TypeAssertExpr:
		ast.Inspect(n.X, w.visit)
		return false
	case *ast.StructType, *ast.InterfaceType, *ast.FuncType, *ast.MapType, *ast.ChanType, *ast.ArrayType:
		return false
	case *ast.BasicLit:
		w.basicLit(n)
	case *ast.CallExpr:
		w.callExpr(n)
	case *ast.SelectorExpr:
		if !w.callees[n] {
			w.emit(types.KindPrimaryExpression, n, types.Fields{Name: "selector_expr", Children: []types.ValueNode{
				types.Leaf{Name: "operand", Value: exprString(n.X)},
				types.Leaf{Name: "selector", Value: n.Sel.Name},
			}})
		}
	}
	return true
}

func (w *goWalker) emit(kind types.Kind, node ast.Node, value types.ValueNode) {
	w.emitAt(kind, node.Pos(), node.End(), value)
}

func (w *goWalker) emitAt(kind types.Kind, pos, end token.Pos, value types.ValueNode) {
	start := w.fset.Position(pos)
	stop := w.fset.Position(end)
	w.units = append(w.units, newUnit(w.path, kind, start.Line, stop.Line, start.Column, value, w.strategy))
}

// funcDecl extracts function and method declarations
func (w *goWalker) funcDecl(fn *ast.FuncDecl) {
	if fn.Name == nil || fn.Type == nil {
		return
	}

	if fn.Recv != nil && len(fn.Recv.List) > 0 {
		w.emit(types.KindMethodDecl, fn, types.Fields{Name: "method_decl", Children: []types.ValueNode{
			w.parameters("receiver", fn.Recv),
			types.Leaf{Name: "identifier", Value: fn.Name.Name},
			w.signature(fn.Type),
		}})
		return
	}

	children := []types.ValueNode{types.Leaf{Name: "identifier", Value: fn.Name.Name}}
	if fn.Type.TypeParams != nil && len(fn.Type.TypeParams.List) > 0 {
		children = append(children, w.typeParameters(fn.Type.TypeParams))
	}
	children = append(children, w.signature(fn.Type))
	w.emit(types.KindFunctionDecl, fn, types.Fields{Name: "function_decl", Children: children})
}

// genDecl extracts import, type, const and var declarations
func (w *goWalker) genDecl(decl *ast.GenDecl) {
	for _, spec := range decl.Specs {
		switch s := spec.(type) {
		case *ast.ImportSpec:
			w.importSpec(s)
		case *ast.TypeSpec:
			w.typeSpec(s)
		case *ast.ValueSpec:
			w.valueSpec(s, decl.Tok)
		}
	}
}

func (w *goWalker) importSpec(spec *ast.ImportSpec) {
	if spec.Path == nil {
		return
	}
	children := []types.ValueNode{types.Leaf{Name: "path", Value: unquote(spec.Path.Value)}}
	if spec.Name != nil {
		children = append(children, types.Leaf{Name: "alias", Value: spec.Name.Name})
	}
	w.emit(types.KindImport, spec, types.Fields{Name: "import", Children: children})
}

func (w *goWalker) typeSpec(spec *ast.TypeSpec) {
	if spec.Name == nil {
		return
	}

	children := []types.ValueNode{types.Leaf{Name: "identifier", Value: spec.Name.Name}}
	if spec.TypeParams != nil && len(spec.TypeParams.List) > 0 {
		children = append(children, w.typeParameters(spec.TypeParams))
	}
	if typ := w.typeNode(spec.Type); typ != nil {
		children = append(children, typ)
	}
	w.emit(types.KindTypeDecl, spec, types.Fields{Name: "type_spec", Children: children})

	if st, ok := spec.Type.(*ast.StructType); ok {
		w.structFields(st)
	}
}

// structFields emits one Unit per named field
func (w *goWalker) structFields(st *ast.StructType) {
	if st.Fields == nil {
		return
	}
	for _, field := range st.Fields.List {
		typ := w.typeNode(field.Type)
		if typ == nil {
			continue
		}
		var tag types.ValueNode
		if field.Tag != nil {
			tag = types.Leaf{Name: "tag", Value: unquote(field.Tag.Value)}
		}

		if len(field.Names) == 0 {
			children := []types.ValueNode{types.Leaf{Name: "embedded", Value: strings.TrimPrefix(exprString(field.Type), "*")}, typ}
			if tag != nil {
				children = append(children, tag)
			}
			w.emit(types.KindField, field, types.Fields{Name: "field", Children: children})
			continue
		}

		for _, name := range field.Names {
			children := []types.ValueNode{types.Leaf{Name: "identifier", Value: name.Name}, typ}
			if tag != nil {
				children = append(children, tag)
			}
			w.emitAt(types.KindField, name.Pos(), field.End(), types.Fields{Name: "field", Children: children})
		}
	}
}

// valueSpec emits one Unit per identifier; the type annotation is shared
func (w *goWalker) valueSpec(spec *ast.ValueSpec, tok token.Token) {
	kind, name := types.KindVarDecl, "var_spec"
	if tok == token.CONST {
		kind, name = types.KindConstDecl, "const_spec"
	}

	var typ types.ValueNode
	if spec.Type != nil {
		typ = w.typeNode(spec.Type)
	}

	for _, ident := range spec.Names {
		children := []types.ValueNode{types.Leaf{Name: "identifier", Value: ident.Name}}
		if typ != nil {
			children = append(children, typ)
		}
		w.emitAt(kind, ident.Pos(), spec.End(), types.Fields{Name: name, Children: children})
	}

	for _, value := range spec.Values {
		ast.Inspect(value, w.visit)
	}
}

func (w *goWalker) basicLit(lit *ast.BasicLit) {
	if lit.Kind == token.STRING {
		w.emit(types.KindStringLiteral, lit, types.Leaf{Name: "string_literal", Value: unquote(lit.Value)})
		return
	}
	w.emit(types.KindLiteral, lit, types.Leaf{Name: "literal", Value: lit.Value})
}

func (w *goWalker) callExpr(call *ast.CallExpr) {
	if sel, ok := call.Fun.(*ast.SelectorExpr); ok {
		w.callees[sel] = true
	}

	args := make([]types.ValueNode, 0, len(call.Args))
	for _, arg := range call.Args {
		args = append(args, types.Leaf{Name: "argument", Value: exprString(arg)})
	}
	w.emit(types.KindPrimaryExpression, call, types.Fields{Name: "call_expr", Children: []types.ValueNode{
		types.Leaf{Name: "function", Value: exprString(call.Fun)},
		types.Array{Name: "arguments", Elements: args},
	}})
}

// signature builds signature(parameters, result?)
func (w *goWalker) signature(ft *ast.FuncType) types.ValueNode {
	children := []types.ValueNode{w.parameters("parameters", ft.Params)}
	if result := w.result(ft.Results); result != nil {
		children = append(children, result)
	}
	return types.Fields{Name: "signature", Children: children}
}

func (w *goWalker) result(results *ast.FieldList) types.ValueNode {
	if results == nil || len(results.List) == 0 {
		return nil
	}
	if len(results.List) == 1 && len(results.List[0].Names) == 0 {
		if typ := w.typeNode(results.List[0].Type); typ != nil {
			return types.Fields{Name: "result", Children: []types.ValueNode{typ}}
		}
		return nil
	}
	return types.Fields{Name: "result", Children: []types.ValueNode{w.parameters("parameters", results)}}
}

// parameters builds an Array of parameter(identifier_list, type_)
func (w *goWalker) parameters(name string, list *ast.FieldList) types.ValueNode {
	params := types.Array{Name: name}
	if list == nil {
		return params
	}
	for _, field := range list.List {
		typ := w.typeNode(field.Type)
		if typ == nil {
			continue
		}
		params.Elements = append(params.Elements, types.Fields{Name: "parameter", Children: []types.ValueNode{
			identifierList(field.Names),
			typ,
		}})
	}
	return params
}

func (w *goWalker) typeParameters(list *ast.FieldList) types.ValueNode {
	params := types.Array{Name: "type_parameters"}
	for _, field := range list.List {
		params.Elements = append(params.Elements, types.Fields{Name: "type_parameter", Children: []types.ValueNode{
			identifierList(field.Names),
			types.Leaf{Name: "constraint", Value: exprString(field.Type)},
		}})
	}
	return params
}

func identifierList(names []*ast.Ident) types.ValueNode {
	list := types.Array{Name: "identifier_list"}
	for _, name := range names {
		list.Elements = append(list.Elements, types.Leaf{Name: "identifier", Value: name.Name})
	}
	return list
}

// typeNode wraps a type expression as type_ with exactly one alternative.
// It returns nil for expressions that are not types.
func (w *goWalker) typeNode(expr ast.Expr) types.ValueNode {
	alt := w.typeAlternative(expr)
	if alt == nil {
		return nil
	}
	return types.Fields{Name: "type_", Children: []types.ValueNode{alt}}
}

func (w *goWalker) typeAlternative(expr ast.Expr) types.ValueNode {
	switch t := expr.(type) {
	case *ast.Ident:
		return types.Leaf{Name: "type_name", Value: t.Name}
	case *ast.SelectorExpr:
		pkg, ok := t.X.(*ast.Ident)
		if !ok {
			return nil
		}
		return types.Fields{Name: "qualified_ident", Children: []types.ValueNode{
			types.Leaf{Name: "package_name", Value: pkg.Name},
			types.Leaf{Name: "identifier", Value: t.Sel.Name},
		}}
	case *ast.ParenExpr:
		return w.typeAlternative(t.X)
	case *ast.StarExpr:
		return w.wrapType("pointer_type", t.X)
	case *ast.Ellipsis:
		return w.wrapType("variadic_type", t.Elt)
	case *ast.ArrayType:
		if t.Len == nil {
			return w.wrapType("slice_type", t.Elt)
		}
		elem := w.typeNode(t.Elt)
		if elem == nil {
			return nil
		}
		return types.Fields{Name: "array_type", Children: []types.ValueNode{
			types.Leaf{Name: "length", Value: exprString(t.Len)},
			elem,
		}}
	case *ast.MapType:
		key, value := w.typeNode(t.Key), w.typeNode(t.Value)
		if key == nil || value == nil {
			return nil
		}
		return types.Fields{Name: "map_type", Children: []types.ValueNode{
			types.Fields{Name: "key", Children: []types.ValueNode{key}},
			types.Fields{Name: "value", Children: []types.ValueNode{value}},
		}}
	case *ast.ChanType:
		elem := w.typeNode(t.Value)
		if elem == nil {
			return nil
		}
		return types.Fields{Name: "channel_type", Children: []types.ValueNode{
			types.Leaf{Name: "direction", Value: chanDirection(t.Dir)},
			elem,
		}}
	case *ast.FuncType:
		return types.Fields{Name: "function_type", Children: []types.ValueNode{w.signature(t)}}
	case *ast.StructType:
		fields := types.Array{Name: "fields"}
		if t.Fields != nil {
			for _, field := range t.Fields.List {
				typ := w.typeNode(field.Type)
				if typ == nil {
					continue
				}
				children := []types.ValueNode{identifierList(field.Names), typ}
				if field.Tag != nil {
					children = append(children, types.Leaf{Name: "tag", Value: unquote(field.Tag.Value)})
				}
				fields.Elements = append(fields.Elements, types.Fields{Name: "field", Children: children})
			}
		}
		return types.Fields{Name: "struct_type", Children: []types.ValueNode{fields}}
	case *ast.InterfaceType:
		methods := types.Array{Name: "methods"}
		embedded := types.Array{Name: "embedded"}
		if t.Methods != nil {
			for _, field := range t.Methods.List {
				if ft, ok := field.Type.(*ast.FuncType); ok && len(field.Names) > 0 {
					methods.Elements = append(methods.Elements, types.Fields{Name: "method_spec", Children: []types.ValueNode{
						types.Leaf{Name: "identifier", Value: field.Names[0].Name},
						w.signature(ft),
					}})
					continue
				}
				embedded.Elements = append(embedded.Elements, types.Leaf{Name: "constraint", Value: exprString(field.Type)})
			}
		}
		return types.Fields{Name: "interface_type", Children: []types.ValueNode{methods, embedded}}
	case *ast.IndexExpr:
		return w.genericType(t.X, []ast.Expr{t.Index})
	case *ast.IndexListExpr:
		return w.genericType(t.X, t.Indices)
	default:
		return nil
	}
}

func (w *goWalker) wrapType(name string, elem ast.Expr) types.ValueNode {
	typ := w.typeNode(elem)
	if typ == nil {
		return nil
	}
	return types.Fields{Name: name, Children: []types.ValueNode{typ}}
}

func (w *goWalker) genericType(base ast.Expr, args []ast.Expr) types.ValueNode {
	typ := w.typeNode(base)
	if typ == nil {
		return nil
	}
	list := types.Array{Name: "type_arguments"}
	for _, arg := range args {
		if argType := w.typeNode(arg); argType != nil {
			list.Elements = append(list.Elements, argType)
		}
	}
	return types.Fields{Name: "generic_type", Children: []types.ValueNode{typ, list}}
}

func chanDirection(dir ast.ChanDir) string {
	switch dir {
	case ast.SEND:
		return "send"
	case ast.RECV:
		return "recv"
	default:
		return "both"
	}
}

// exprString renders an expression as Go source
func exprString(expr ast.Expr) string {
	if expr == nil {
		return ""
	}
	return gotypes.ExprString(expr)
}

// unquote strips Go string quoting, keeping the raw text if it is malformed
func unquote(lit string) string {
	if s, err := strconv.Unquote(lit); err == nil {
		return s
	}
	return strings.Trim(lit, "`\"")
}
