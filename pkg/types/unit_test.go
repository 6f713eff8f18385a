package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		input   string
		want    Kind
		wantErr bool
	}{
		{"string-literal", KindStringLiteral, false},
		{"STRING_LITERAL", KindStringLiteral, false},
		{"function-decl", KindFunctionDecl, false},
		{"any", KindAny, false},
		{"", KindAny, false},
		{"bogus", KindAny, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseKind(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnit_Validate(t *testing.T) {
	valid := Unit{
		Path:      "/tmp/a.py",
		Kind:      KindStringLiteral,
		StartLine: 3,
		EndLine:   3,
		Node:      Leaf{Name: "string_literal", Value: "hello"},
	}
	assert.NoError(t, valid.Validate())

	missingPath := valid
	missingPath.Path = ""
	assert.Error(t, missingPath.Validate())

	badKind := valid
	badKind.Kind = "nope"
	assert.Error(t, badKind.Validate())

	badLines := valid
	badLines.StartLine = 4
	assert.Error(t, badLines.Validate())

	assert.Equal(t, MatchSpan{StartLine: 3, EndLine: 3}, valid.Span())
	assert.Equal(t, []string{"string_literal", "string_literal.hello"}, valid.Keys())
}

func TestParseError(t *testing.T) {
	err := &ParseError{File: "a.go", Line: 2, Column: 5, Message: "expected ';'"}
	assert.Equal(t, "a.go:2:5: expected ';'", err.Error())
	assert.True(t, errors.Is(err, ErrParse))

	var pe *ParseError
	assert.True(t, errors.As(error(err), &pe))
}

func TestResultSet(t *testing.T) {
	rs := NewResultSet()
	assert.True(t, rs.IsEmpty())

	rs.Add("b.py", Match{Span: MatchSpan{StartLine: 1, EndLine: 1}})
	rs.Add("a.py", Match{Span: MatchSpan{StartLine: 3, EndLine: 3}})
	rs.Add("b.py", Match{Span: MatchSpan{StartLine: 7, EndLine: 9}})

	assert.Equal(t, []string{"b.py", "a.py"}, rs.Paths())
	assert.Equal(t, 3, rs.Total())
	assert.Equal(t, 2, rs.Len())
	assert.Equal(t, map[string][]MatchSpan{
		"b.py": {{1, 1}, {7, 9}},
		"a.py": {{3, 3}},
	}, rs.Spans())

	clone := rs.Clone()
	rs.Remove("b.py")
	assert.Equal(t, []string{"a.py"}, rs.Paths())
	assert.Nil(t, rs.Matches("b.py"))
	assert.Equal(t, []string{"b.py", "a.py"}, clone.Paths())
}
