package types

// MatchSpan is the line range of a match
type MatchSpan struct {
	StartLine int
	EndLine   int
}

// Match is one search hit inside a file
type Match struct {
	Kind    Kind
	Content string
	Span    MatchSpan
}

// ResultSet groups matches by path. Paths keep the order in which they
// were first encountered; matches keep store order within a path.
type ResultSet struct {
	paths   []string
	matches map[string][]Match
}

// NewResultSet creates an empty result set
func NewResultSet() *ResultSet {
	return &ResultSet{matches: make(map[string][]Match)}
}

// Add appends a match for path
func (rs *ResultSet) Add(path string, m Match) {
	if _, ok := rs.matches[path]; !ok {
		rs.paths = append(rs.paths, path)
	}
	rs.matches[path] = append(rs.matches[path], m)
}

// Remove drops every match of path
func (rs *ResultSet) Remove(path string) {
	if _, ok := rs.matches[path]; !ok {
		return
	}
	delete(rs.matches, path)
	for i, p := range rs.paths {
		if p == path {
			rs.paths = append(rs.paths[:i:i], rs.paths[i+1:]...)
			break
		}
	}
}

// Paths returns the grouped paths in encounter order
func (rs *ResultSet) Paths() []string {
	out := make([]string, len(rs.paths))
	copy(out, rs.paths)
	return out
}

// Matches returns the matches for path
func (rs *ResultSet) Matches(path string) []Match {
	return rs.matches[path]
}

// Spans returns path -> spans, the caller-facing projection
func (rs *ResultSet) Spans() map[string][]MatchSpan {
	out := make(map[string][]MatchSpan, len(rs.paths))
	for _, p := range rs.paths {
		spans := make([]MatchSpan, 0, len(rs.matches[p]))
		for _, m := range rs.matches[p] {
			spans = append(spans, m.Span)
		}
		out[p] = spans
	}
	return out
}

// Len returns the number of distinct paths
func (rs *ResultSet) Len() int {
	return len(rs.paths)
}

// Total returns the number of matches across all paths
func (rs *ResultSet) Total() int {
	total := 0
	for _, m := range rs.matches {
		total += len(m)
	}
	return total
}

// IsEmpty reports whether there are no matches
func (rs *ResultSet) IsEmpty() bool {
	return len(rs.paths) == 0
}

// Clone returns a deep copy of the result set
func (rs *ResultSet) Clone() *ResultSet {
	dst := NewResultSet()
	for _, p := range rs.paths {
		for _, m := range rs.matches[p] {
			dst.Add(p, m)
		}
	}
	return dst
}
