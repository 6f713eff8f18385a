package storage

import (
	"context"
	"time"

	"github.com/dshills/codegrep/pkg/types"
)

// Storage persists Units and per-file metadata. Writes accumulate in a
// pending batch and become visible to readers only after Commit.
type Storage interface {
	// Metadata operations
	GetFingerprint(ctx context.Context, path string) (fingerprint string, found bool, err error)
	ListFiles(ctx context.Context) ([]*FileRecord, error)
	KeyShapes(ctx context.Context, prefix string) ([]string, error)

	// Batch operations
	ReplaceFile(ctx context.Context, path, fingerprint string, units []types.Unit) error
	RecordParseFailure(ctx context.Context, path, message string) error
	DeleteFiles(ctx context.Context, paths []string) error
	Commit(ctx context.Context) error
	Rollback() error

	// Search operations
	Search(ctx context.Context, query Query) ([]Document, error)

	// Status operations
	GetStatus(ctx context.Context) (*Status, error)
	Generation() uint64

	// Database operations
	Close() error
}

// FileRecord is the metadata row kept for every indexed path
type FileRecord struct {
	Path        string
	Fingerprint string // empty when the last parse failed
	UnitCount   int
	ParseError  *string // Nullable
	IndexedAt   time.Time
}

// Document is one indexed Unit as stored in the content database
type Document struct {
	ID        int64
	Path      string
	Kind      types.Kind
	Content   string
	Keys      []string
	JSON      string
	StartLine int
	EndLine   int
	Column    int
}

// SearchMode selects how Query.Term is matched
type SearchMode string

const (
	ModePhrase SearchMode = "phrase"
	ModeRegex  SearchMode = "regex"
	ModeFuzzy  SearchMode = "fuzzy"
)

// SearchField selects which text of a document is matched
type SearchField string

const (
	FieldContent SearchField = "content"
	FieldKeys    SearchField = "keys"
)

// DefaultMaxEdits is the fuzzy edit distance used when Query.MaxEdits is 0
const DefaultMaxEdits = 2

// Query is a conjunction of a primary clause on one field, exact key
// clauses and a kind filter. Term may be empty when KeyTerms is not.
type Query struct {
	Term     string
	Kind     types.Kind // KindAny matches every kind
	Mode     SearchMode
	Field    SearchField
	MaxEdits int

	// KeyTerms must each equal one flattened key of the unit. In fuzzy
	// mode a key within MaxEdits edits matches.
	KeyTerms []string
}

// Status contains statistics about the index
type Status struct {
	CacheDir          string
	FilesCount        int
	ParseFailures     int
	UnitsCount        int
	UnitsByKind       map[types.Kind]int
	KeyShapesCount    int
	ContentSizeBytes  int64
	MetadataSizeBytes int64
	LastIndexedAt     time.Time
	Generation        uint64
	Pending           bool
	Health            HealthStatus
}

// HealthStatus represents the health of the index
type HealthStatus struct {
	DatabaseAccessible bool
	FTSIndexesBuilt    bool
	DriverName         string
	BuildMode          string
}

// ToUnit rebuilds a Unit from a stored document
func (d *Document) ToUnit() (types.Unit, error) {
	node, err := types.ParseNodeJSON([]byte(d.JSON))
	if err != nil {
		return types.Unit{}, err
	}
	return types.Unit{
		Path:      d.Path,
		Kind:      d.Kind,
		StartLine: d.StartLine,
		EndLine:   d.EndLine,
		Column:    d.Column,
		Node:      node,
		Content:   d.Content,
	}, nil
}
