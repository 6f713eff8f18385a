package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/dshills/codegrep/pkg/types"
)

// ErrEmptyQuery is returned for a query without a term
var ErrEmptyQuery = errors.New("empty search query")

const documentColumns = `u.id, u.path, u.kind, u.content, u.keys, u.json, u.start_line, u.end_line, u.col`

// Search returns every committed document matching the query, in store
// order. Failures wrap types.ErrStoreQuery.
func (s *SQLiteStorage) Search(ctx context.Context, query Query) ([]Document, error) {
	query, err := NormalizeQuery(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrStoreQuery, err)
	}

	var clauses []string
	var match func(string) bool
	if query.Term != "" {
		switch query.Mode {
		case ModePhrase:
			if hasWordChar(query.Term) {
				clauses = append(clauses, ftsPhrase(query.Field, query.Term))
				if query.Field == FieldKeys {
					match = newPhraseMatcher(query.Term).match
				}
			} else {
				term := strings.ToLower(query.Term)
				match = func(text string) bool {
					return strings.Contains(strings.ToLower(text), term)
				}
			}
		case ModeRegex:
			re, compileErr := regexp.Compile(query.Term)
			if compileErr != nil {
				return nil, fmt.Errorf("%w: invalid regex: %w", types.ErrStoreQuery, compileErr)
			}
			match = re.MatchString
		case ModeFuzzy:
			match = newFuzzyMatcher(query.Term, query.MaxEdits).match
		}
	}

	// exact key terms narrow the FTS candidates; the Go filter below
	// decides
	if query.Mode != ModeFuzzy {
		for _, key := range query.KeyTerms {
			if hasWordChar(key) {
				clauses = append(clauses, ftsPhrase(FieldKeys, key))
			}
		}
	}

	keys := newKeyTermMatcher(query)
	keep := func(doc *Document) bool {
		if match != nil {
			if query.Field == FieldKeys {
				if !anyLine(doc.Keys, match) {
					return false
				}
			} else if !match(doc.Content) {
				return false
			}
		}
		return keys.match(doc.Keys)
	}

	var docs []Document
	if len(clauses) > 0 {
		docs, err = s.searchFTS(ctx, query, strings.Join(clauses, " AND "), keep)
	} else {
		docs, err = s.searchScan(ctx, query, keep)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrStoreQuery, err)
	}
	return docs, nil
}

// NormalizeQuery validates a query and applies defaults
func NormalizeQuery(query Query) (Query, error) {
	if strings.TrimSpace(query.Term) == "" {
		query.Term = ""
	}
	if len(query.KeyTerms) > 0 {
		terms := make([]string, 0, len(query.KeyTerms))
		for _, key := range query.KeyTerms {
			key = strings.TrimSpace(key)
			if key == "" {
				return query, errors.New("empty key term")
			}
			terms = append(terms, key)
		}
		query.KeyTerms = terms
	}
	if query.Term == "" && len(query.KeyTerms) == 0 {
		return query, ErrEmptyQuery
	}
	if query.Mode == "" {
		query.Mode = ModePhrase
	}
	if query.Field == "" {
		query.Field = FieldContent
	}
	if query.MaxEdits <= 0 {
		query.MaxEdits = DefaultMaxEdits
	}

	switch query.Mode {
	case ModePhrase, ModeRegex, ModeFuzzy:
	default:
		return query, fmt.Errorf("invalid search mode %q", query.Mode)
	}
	switch query.Field {
	case FieldContent, FieldKeys:
	default:
		return query, fmt.Errorf("invalid search field %q", query.Field)
	}
	if query.Kind != types.KindAny {
		if err := query.Kind.Validate(); err != nil {
			return query, err
		}
	}
	return query, nil
}

// searchFTS selects the candidates of an FTS5 match expression and filters
// them with keep
func (s *SQLiteStorage) searchFTS(ctx context.Context, query Query, expr string, keep func(*Document) bool) ([]Document, error) {
	sqlQuery := `
		SELECT ` + documentColumns + `
		FROM units u
		WHERE u.id IN (SELECT rowid FROM units_fts WHERE units_fts MATCH ?)
	`
	args := []interface{}{expr}
	sqlQuery, args = applyKindFilter(sqlQuery, args, query.Kind)
	sqlQuery += " ORDER BY u.id"

	rows, err := s.content.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectDocuments(rows, keep)
}

// searchScan filters every candidate row of the kind in Go
func (s *SQLiteStorage) searchScan(ctx context.Context, query Query, keep func(*Document) bool) ([]Document, error) {
	sqlQuery := `
		SELECT ` + documentColumns + `
		FROM units u
		WHERE 1 = 1
	`
	sqlQuery, args := applyKindFilter(sqlQuery, nil, query.Kind)
	sqlQuery += " ORDER BY u.id"

	rows, err := s.content.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan units: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectDocuments(rows, keep)
}

// anyLine matches key paths one at a time, so no match spans two keys
func anyLine(keys []string, match func(string) bool) bool {
	for _, key := range keys {
		if match(key) {
			return true
		}
	}
	return false
}

// applyKindFilter adds the kind clause of the conjunction
func applyKindFilter(query string, args []interface{}, kind types.Kind) (string, []interface{}) {
	if kind == types.KindAny {
		return query, args
	}
	return query + " AND u.kind = ?", append(args, string(kind))
}

func collectDocuments(rows *sql.Rows, keep func(*Document) bool) ([]Document, error) {
	docs := make([]Document, 0)
	for rows.Next() {
		var doc Document
		var kind, keys string
		if err := rows.Scan(&doc.ID, &doc.Path, &kind, &doc.Content, &keys, &doc.JSON,
			&doc.StartLine, &doc.EndLine, &doc.Column); err != nil {
			return nil, err
		}
		doc.Kind = types.Kind(kind)
		if keys != "" {
			doc.Keys = strings.Split(keys, "\n")
		}
		if keep != nil && !keep(&doc) {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ftsPhrase quotes a term as an FTS5 string restricted to one column, so
// operators and special characters inside the term have no meaning
func ftsPhrase(field SearchField, term string) string {
	return fmt.Sprintf(`%s : "%s"`, field, strings.ReplaceAll(term, `"`, `""`))
}

// hasWordChar reports whether FTS5 would produce at least one token
func hasWordChar(s string) bool {
	for _, r := range s {
		if isTokenChar(r) {
			return true
		}
	}
	return false
}

// isTokenChar mirrors the units_fts tokenizer: unicode61 with '_' as a
// token character
func isTokenChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// tokenize splits text the way the units_fts tokenizer does
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !isTokenChar(r)
	})
}

// phraseMatcher requires the phrase tokens to appear consecutively
type phraseMatcher struct {
	tokens []string
}

func newPhraseMatcher(term string) *phraseMatcher {
	return &phraseMatcher{tokens: tokenize(term)}
}

func (m *phraseMatcher) match(text string) bool {
	if len(m.tokens) == 0 {
		return false
	}
	tokens := tokenize(text)
	for i := 0; i+len(m.tokens) <= len(tokens); i++ {
		found := true
		for j, want := range m.tokens {
			if tokens[i+j] != want {
				found = false
				break
			}
		}
		if found {
			return true
		}
	}
	return false
}

// keyTermMatcher requires every key term to equal one key of the unit
type keyTermMatcher struct {
	terms    []string
	fuzzy    bool
	maxEdits int
}

func newKeyTermMatcher(query Query) *keyTermMatcher {
	return &keyTermMatcher{terms: query.KeyTerms, fuzzy: query.Mode == ModeFuzzy, maxEdits: query.MaxEdits}
}

func (m *keyTermMatcher) match(keys []string) bool {
	for _, term := range m.terms {
		if !m.matchTerm(term, keys) {
			return false
		}
	}
	return true
}

func (m *keyTermMatcher) matchTerm(term string, keys []string) bool {
	termLen := utf8.RuneCountInString(term)
	for _, key := range keys {
		if key == term {
			return true
		}
		if !m.fuzzy {
			continue
		}
		diff := utf8.RuneCountInString(key) - termLen
		if diff > m.maxEdits || -diff > m.maxEdits {
			continue
		}
		if fuzzy.LevenshteinDistance(term, key) <= m.maxEdits {
			return true
		}
	}
	return false
}

// fuzzyMatcher requires every query word to be within maxEdits of some
// token of the text
type fuzzyMatcher struct {
	term     string
	words    []string
	maxEdits int
}

func newFuzzyMatcher(term string, maxEdits int) *fuzzyMatcher {
	return &fuzzyMatcher{term: strings.ToLower(term), words: tokenize(term), maxEdits: maxEdits}
}

func (m *fuzzyMatcher) match(text string) bool {
	if len(m.words) == 0 {
		return strings.Contains(strings.ToLower(text), m.term)
	}

	tokens := tokenize(text)
	for _, word := range m.words {
		if !m.matchWord(word, tokens) {
			return false
		}
	}
	return true
}

func (m *fuzzyMatcher) matchWord(word string, tokens []string) bool {
	wordLen := utf8.RuneCountInString(word)
	for _, token := range tokens {
		diff := utf8.RuneCountInString(token) - wordLen
		if diff > m.maxEdits || -diff > m.maxEdits {
			continue
		}
		if fuzzy.LevenshteinDistance(word, token) <= m.maxEdits {
			return true
		}
	}
	return false
}
