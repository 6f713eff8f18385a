package types

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the closed set of constructs a grammar binding can emit
type Kind string

const (
	KindPackage           Kind = "package"
	KindImport            Kind = "import"
	KindFunctionDecl      Kind = "function-decl"
	KindMethodDecl        Kind = "method-decl"
	KindVarDecl           Kind = "var-decl"
	KindConstDecl         Kind = "const-decl"
	KindTypeDecl          Kind = "type-decl"
	KindField             Kind = "field"
	KindLiteral           Kind = "literal"
	KindStringLiteral     Kind = "string-literal"
	KindPrimaryExpression Kind = "primary-expression"

	// KindAny matches every kind in a query
	KindAny Kind = ""
)

// AllKinds lists every concrete kind in declaration order
var AllKinds = []Kind{
	KindPackage, KindImport, KindFunctionDecl, KindMethodDecl, KindVarDecl,
	KindConstDecl, KindTypeDecl, KindField, KindLiteral, KindStringLiteral,
	KindPrimaryExpression,
}

// ParseKind converts user input into a Kind. "any" and "" map to KindAny.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "any" || s == "all" {
		return KindAny, nil
	}
	k := Kind(strings.ReplaceAll(s, "_", "-"))
	if err := k.Validate(); err != nil {
		return KindAny, err
	}
	return k, nil
}

// Validate checks that the kind is one of the known kinds
func (k Kind) Validate() error {
	for _, known := range AllKinds {
		if k == known {
			return nil
		}
	}
	return fmt.Errorf("invalid unit kind %q", string(k))
}

// Unit is one extracted construct of a source file. Units have no identity
// across parses: a file's Units are always replaced wholesale.
type Unit struct {
	Path      string
	Kind      Kind
	StartLine int
	EndLine   int
	Column    int
	Node      ValueNode

	// Content is the searchable text derived from Node by the binding's
	// search strategy
	Content string
}

// Keys returns the key paths of the unit's node
func (u *Unit) Keys() []string {
	return Keys(u.Node)
}

// Span returns the line range covered by the unit
func (u *Unit) Span() MatchSpan {
	return MatchSpan{StartLine: u.StartLine, EndLine: u.EndLine}
}

// Validate performs basic validation of the unit
func (u *Unit) Validate() error {
	if u.Path == "" {
		return errors.New("unit path is required")
	}

	if err := u.Kind.Validate(); err != nil {
		return err
	}

	if u.Node == nil {
		return errors.New("unit node is required")
	}

	if u.StartLine <= 0 || u.EndLine <= 0 {
		return errors.New("invalid position: line numbers must be positive")
	}

	if u.StartLine > u.EndLine {
		return errors.New("invalid position: start line must be before or equal to end line")
	}

	return nil
}
