package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/codegrep/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrClosed is returned by operations on a closed store
	ErrClosed = errors.New("storage closed")
)

const (
	// ContentDir and MetadataDir are the two halves of the index under the
	// cache root
	ContentDir  = "content"
	MetadataDir = "metadata"
	// DBFileName is the database file inside each half
	DBFileName = "index.db"

	busyTimeoutMs = 5000
	maxOpenConns  = 4
	savepointName = "replace_file"
)

// SQLiteStorage implements the Storage interface with two SQLite databases:
// content (Units + FTS5) and metadata (fingerprints + key shapes).
type SQLiteStorage struct {
	cacheDir string
	content  *sql.DB
	metadata *sql.DB
	logger   *slog.Logger
	retry    RetryConfig

	mu         sync.Mutex // guards batch and closed
	batch      *batch
	closed     bool
	generation atomic.Uint64
}

// Option configures a SQLiteStorage
type Option func(*SQLiteStorage)

// WithLogger sets the logger used for store diagnostics
func WithLogger(logger *slog.Logger) Option {
	return func(s *SQLiteStorage) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRetryConfig sets the commit retry policy
func WithRetryConfig(config RetryConfig) Option {
	return func(s *SQLiteStorage) { s.retry = config }
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dataSourceName(dbPath))
	if err != nil {
		return nil, err
	}

	// Readers use their own connections and see the last committed
	// snapshot while the batch connection holds the write transaction.
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)
	db.SetConnMaxLifetime(0)

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if !strings.EqualFold(mode, "wal") {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: journal mode is %q", mode)
	}

	return db, nil
}

// NewSQLiteStorage opens or creates the index under cacheDir. Failures wrap
// types.ErrStoreInit.
func NewSQLiteStorage(cacheDir string, opts ...Option) (*SQLiteStorage, error) {
	s := &SQLiteStorage{
		cacheDir: cacheDir,
		logger:   slog.Default(),
		retry:    DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, dir := range []string{ContentDir, MetadataDir} {
		if err := os.MkdirAll(filepath.Join(cacheDir, dir), 0755); err != nil {
			return nil, fmt.Errorf("%w: failed to create %s directory: %w", types.ErrStoreInit, dir, err)
		}
	}

	ctx := context.Background()

	content, err := openDatabase(filepath.Join(cacheDir, ContentDir, DBFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open content database: %w", types.ErrStoreInit, err)
	}
	if err := ApplyMigrations(ctx, content, ContentMigrations); err != nil {
		_ = content.Close()
		return nil, fmt.Errorf("%w: failed to apply content migrations: %w", types.ErrStoreInit, err)
	}

	metadata, err := openDatabase(filepath.Join(cacheDir, MetadataDir, DBFileName))
	if err != nil {
		_ = content.Close()
		return nil, fmt.Errorf("%w: failed to open metadata database: %w", types.ErrStoreInit, err)
	}
	if err := ApplyMigrations(ctx, metadata, MetadataMigrations); err != nil {
		_ = content.Close()
		_ = metadata.Close()
		return nil, fmt.Errorf("%w: failed to apply metadata migrations: %w", types.ErrStoreInit, err)
	}

	s.content = content
	s.metadata = metadata
	return s, nil
}

// CacheDir returns the cache root of the store
func (s *SQLiteStorage) CacheDir() string {
	return s.cacheDir
}

// Close discards any pending batch and closes both databases
func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.batch != nil {
		s.batch.rollback(context.Background())
		s.batch = nil
	}

	return errors.Join(s.content.Close(), s.metadata.Close())
}

// Generation is bumped by every successful commit
func (s *SQLiteStorage) Generation() uint64 {
	return s.generation.Load()
}

// querier is an interface that *sql.DB, *sql.Tx and *sql.Conn implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// batch is the pending write set: one connection per database, each holding
// an open transaction
type batch struct {
	content  *sql.Conn
	metadata *sql.Conn
}

// beginLocked returns the pending batch, starting it on first use. The
// caller holds s.mu.
func (s *SQLiteStorage) beginLocked(ctx context.Context) (*batch, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.batch != nil {
		return s.batch, nil
	}

	content, err := beginConn(ctx, s.content)
	if err != nil {
		return nil, fmt.Errorf("failed to begin content transaction: %w", err)
	}
	metadata, err := beginConn(ctx, s.metadata)
	if err != nil {
		_, _ = content.ExecContext(ctx, "ROLLBACK")
		_ = content.Close()
		return nil, fmt.Errorf("failed to begin metadata transaction: %w", err)
	}

	s.batch = &batch{content: content, metadata: metadata}
	return s.batch, nil
}

func beginConn(ctx context.Context, db *sql.DB) (*sql.Conn, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// savepoint runs fn inside a savepoint on both connections. On error both
// savepoints are rolled back and the rest of the batch is untouched.
func (b *batch) savepoint(ctx context.Context, fn func(content, metadata querier) error) error {
	if _, err := b.content.ExecContext(ctx, "SAVEPOINT "+savepointName); err != nil {
		return err
	}
	if _, err := b.metadata.ExecContext(ctx, "SAVEPOINT "+savepointName); err != nil {
		rollbackTo(ctx, b.content)
		return err
	}

	if err := fn(b.content, b.metadata); err != nil {
		rollbackTo(ctx, b.content)
		rollbackTo(ctx, b.metadata)
		return err
	}

	_, errContent := b.content.ExecContext(ctx, "RELEASE "+savepointName)
	_, errMetadata := b.metadata.ExecContext(ctx, "RELEASE "+savepointName)
	return errors.Join(errContent, errMetadata)
}

func rollbackTo(ctx context.Context, conn *sql.Conn) {
	_, _ = conn.ExecContext(ctx, "ROLLBACK TO "+savepointName)
	_, _ = conn.ExecContext(ctx, "RELEASE "+savepointName)
}

func (b *batch) rollback(ctx context.Context) {
	_, _ = b.content.ExecContext(ctx, "ROLLBACK")
	_, _ = b.metadata.ExecContext(ctx, "ROLLBACK")
	b.release()
}

func (b *batch) release() {
	_ = b.content.Close()
	_ = b.metadata.Close()
}

// Batch operations

// ReplaceFile atomically replaces every Unit and the metadata row of path
// inside the pending batch
func (s *SQLiteStorage) ReplaceFile(ctx context.Context, path, fingerprint string, units []types.Unit) error {
	return s.replaceFile(ctx, path, fingerprint, nil, units)
}

// RecordParseFailure clears the Units of path and stores an empty
// fingerprint, so the next revalidation retries the file
func (s *SQLiteStorage) RecordParseFailure(ctx context.Context, path, message string) error {
	return s.replaceFile(ctx, path, "", &message, nil)
}

func (s *SQLiteStorage) replaceFile(ctx context.Context, path, fingerprint string, parseError *string, units []types.Unit) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	docs, shapes, err := buildDocuments(path, units)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", types.ErrStoreWrite, path, err)
	}

	record := &FileRecord{
		Path:        path,
		Fingerprint: fingerprint,
		UnitCount:   len(docs),
		ParseError:  parseError,
		IndexedAt:   time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Statements of the pending batch are never interrupted mid-way: an
	// interrupted write would roll back the whole SQLite transaction.
	wctx := context.WithoutCancel(ctx)
	b, err := s.beginLocked(wctx)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", types.ErrStoreWrite, path, err)
	}

	err = b.savepoint(wctx, func(content, metadata querier) error {
		if err := deleteUnitsWithQuerier(wctx, content, path); err != nil {
			return err
		}
		for i := range docs {
			if err := insertUnitWithQuerier(wctx, content, &docs[i]); err != nil {
				return err
			}
		}
		if err := upsertFileWithQuerier(wctx, metadata, record); err != nil {
			return err
		}
		return insertKeyShapesWithQuerier(wctx, metadata, shapes)
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", types.ErrStoreWrite, path, err)
	}
	return nil
}

// DeleteFiles removes the Units and metadata of every path inside the
// pending batch
func (s *SQLiteStorage) DeleteFiles(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	wctx := context.WithoutCancel(ctx)
	b, err := s.beginLocked(wctx)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrStoreWrite, err)
	}

	err = b.savepoint(wctx, func(content, metadata querier) error {
		for _, path := range paths {
			if err := deleteUnitsWithQuerier(wctx, content, path); err != nil {
				return err
			}
			if err := deleteFileWithQuerier(wctx, metadata, path); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: delete %d files: %w", types.ErrStoreWrite, len(paths), err)
	}
	return nil
}

// Commit makes the pending batch visible. Content commits first, then
// metadata: a failure in between leaves fingerprints stale, which only
// causes the files to be indexed again.
func (s *SQLiteStorage) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.batch
	if b == nil {
		return nil
	}
	s.batch = nil

	wctx := context.WithoutCancel(ctx)
	commit := func(conn *sql.Conn) func() (struct{}, error) {
		return func() (struct{}, error) {
			_, err := conn.ExecContext(wctx, "COMMIT")
			return struct{}{}, err
		}
	}

	if _, err := retryWithBackoff(wctx, s.retry, isBusy, commit(b.content)); err != nil {
		b.rollback(wctx)
		return fmt.Errorf("%w: commit content: %w", types.ErrStoreWrite, err)
	}

	if _, err := retryWithBackoff(wctx, s.retry, isBusy, commit(b.metadata)); err != nil {
		_, _ = b.metadata.ExecContext(wctx, "ROLLBACK")
		b.release()
		s.generation.Add(1)
		s.logger.Warn("metadata commit failed after content commit; affected files will be re-indexed",
			"error", err)
		return fmt.Errorf("%w: commit metadata: %w", types.ErrStoreWrite, err)
	}

	b.release()
	s.generation.Add(1)
	return nil
}

// Rollback discards the pending batch
func (s *SQLiteStorage) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.batch == nil {
		return nil
	}
	s.batch.rollback(context.Background())
	s.batch = nil
	return nil
}

// hasPending reports whether a batch is open
func (s *SQLiteStorage) hasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batch != nil
}

// buildDocuments validates Units and serializes them for storage. It also
// collects the generalized key shapes of the file.
func buildDocuments(path string, units []types.Unit) ([]Document, []string, error) {
	docs := make([]Document, 0, len(units))
	shapeSet := make(map[string]struct{})

	for i := range units {
		u := units[i]
		if u.Path == "" {
			u.Path = path
		}
		if u.Path != path {
			return nil, nil, fmt.Errorf("unit %d belongs to %s", i, u.Path)
		}
		if err := u.Validate(); err != nil {
			return nil, nil, fmt.Errorf("unit %d: %w", i, err)
		}

		raw, err := json.Marshal(u.Node)
		if err != nil {
			return nil, nil, fmt.Errorf("unit %d: failed to encode node: %w", i, err)
		}

		docs = append(docs, Document{
			Path:      u.Path,
			Kind:      u.Kind,
			Content:   u.Content,
			Keys:      types.Keys(u.Node),
			JSON:      string(raw),
			StartLine: u.StartLine,
			EndLine:   u.EndLine,
			Column:    u.Column,
		})

		for _, shape := range types.GeneralizedKeys(u.Node) {
			shapeSet[shape] = struct{}{}
		}
	}

	shapes := make([]string, 0, len(shapeSet))
	for shape := range shapeSet {
		shapes = append(shapes, shape)
	}
	sort.Strings(shapes)
	return docs, shapes, nil
}

// Content operations

func deleteUnitsWithQuerier(ctx context.Context, q querier, path string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM units WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("failed to delete units: %w", err)
	}
	return nil
}

func insertUnitWithQuerier(ctx context.Context, q querier, doc *Document) error {
	query := `
		INSERT INTO units (path, kind, start_line, end_line, col, content, keys, json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := q.ExecContext(ctx, query,
		doc.Path, string(doc.Kind), doc.StartLine, doc.EndLine, doc.Column,
		doc.Content, strings.Join(doc.Keys, "\n"), doc.JSON)
	if err != nil {
		return fmt.Errorf("failed to insert unit: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		doc.ID = id
	}
	return nil
}

// Metadata operations

func upsertFileWithQuerier(ctx context.Context, q querier, file *FileRecord) error {
	query := `
		INSERT INTO files (path, fingerprint, unit_count, parse_error, indexed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			unit_count = excluded.unit_count,
			parse_error = excluded.parse_error,
			indexed_at = excluded.indexed_at
	`
	_, err := q.ExecContext(ctx, query,
		file.Path, file.Fingerprint, file.UnitCount, file.ParseError, file.IndexedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert file: %w", err)
	}
	return nil
}

func deleteFileWithQuerier(ctx context.Context, q querier, path string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func insertKeyShapesWithQuerier(ctx context.Context, q querier, shapes []string) error {
	for _, shape := range shapes {
		if _, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO key_shapes (shape) VALUES (?)`, shape); err != nil {
			return fmt.Errorf("failed to record key shape: %w", err)
		}
	}
	return nil
}

// GetFingerprint looks up the committed fingerprint of an exact path
func (s *SQLiteStorage) GetFingerprint(ctx context.Context, path string) (string, bool, error) {
	file, err := getFileWithQuerier(ctx, s.metadata, path)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", types.ErrStoreQuery, err)
	}
	return file.Fingerprint, true, nil
}

// GetFile returns the committed metadata row of an exact path
func (s *SQLiteStorage) GetFile(ctx context.Context, path string) (*FileRecord, error) {
	return getFileWithQuerier(ctx, s.metadata, path)
}

func getFileWithQuerier(ctx context.Context, q querier, path string) (*FileRecord, error) {
	query := `
		SELECT path, fingerprint, unit_count, parse_error, indexed_at
		FROM files
		WHERE path = ?
	`
	row := q.QueryRowContext(ctx, query, path)
	file, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return file, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanFile(row scanner) (*FileRecord, error) {
	var file FileRecord
	var parseError sql.NullString
	var indexedAt int64
	if err := row.Scan(&file.Path, &file.Fingerprint, &file.UnitCount, &parseError, &indexedAt); err != nil {
		return nil, err
	}
	if parseError.Valid {
		file.ParseError = &parseError.String
	}
	if indexedAt > 0 {
		file.IndexedAt = time.Unix(0, indexedAt)
	}
	return &file, nil
}

// ListFiles returns every committed metadata row ordered by path
func (s *SQLiteStorage) ListFiles(ctx context.Context) ([]*FileRecord, error) {
	query := `
		SELECT path, fingerprint, unit_count, parse_error, indexed_at
		FROM files
		ORDER BY path
	`
	rows, err := s.metadata.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrStoreQuery, err)
	}
	defer func() { _ = rows.Close() }()

	files := make([]*FileRecord, 0)
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrStoreQuery, err)
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

// KeyShapes returns the recorded generalized key shapes starting with
// prefix, sorted
func (s *SQLiteStorage) KeyShapes(ctx context.Context, prefix string) ([]string, error) {
	query := `
		SELECT shape FROM key_shapes
		WHERE substr(shape, 1, length(?)) = ?
		ORDER BY shape
	`
	rows, err := s.metadata.QueryContext(ctx, query, prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrStoreQuery, err)
	}
	defer func() { _ = rows.Close() }()

	shapes := make([]string, 0)
	for rows.Next() {
		var shape string
		if err := rows.Scan(&shape); err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrStoreQuery, err)
		}
		shapes = append(shapes, shape)
	}
	return shapes, rows.Err()
}

// Status operations

// GetStatus reports committed index statistics
func (s *SQLiteStorage) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{
		CacheDir:    s.cacheDir,
		UnitsByKind: make(map[types.Kind]int),
		Generation:  s.Generation(),
		Pending:     s.hasPending(),
		Health: HealthStatus{
			DriverName: DriverName,
			BuildMode:  BuildMode,
		},
	}

	var lastIndexed sql.NullInt64
	err := s.metadata.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN fingerprint = '' THEN 1 ELSE 0 END), 0),
		       MAX(indexed_at)
		FROM files
	`).Scan(&status.FilesCount, &status.ParseFailures, &lastIndexed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrStoreQuery, err)
	}
	if lastIndexed.Valid && lastIndexed.Int64 > 0 {
		status.LastIndexedAt = time.Unix(0, lastIndexed.Int64)
	}

	if err := s.metadata.QueryRowContext(ctx, "SELECT COUNT(*) FROM key_shapes").Scan(&status.KeyShapesCount); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrStoreQuery, err)
	}

	rows, err := s.content.QueryContext(ctx, "SELECT kind, COUNT(*) FROM units GROUP BY kind")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrStoreQuery, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrStoreQuery, err)
		}
		status.UnitsByKind[types.Kind(kind)] = count
		status.UnitsCount += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrStoreQuery, err)
	}

	status.ContentSizeBytes = databaseSize(ctx, s.content)
	status.MetadataSizeBytes = databaseSize(ctx, s.metadata)

	var ftsCount int
	err = s.content.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='units_fts'").Scan(&ftsCount)
	status.Health.DatabaseAccessible = true
	status.Health.FTSIndexesBuilt = err == nil && ftsCount == 1

	return status, nil
}

// databaseSize calculates the size of a database from its page count
func databaseSize(ctx context.Context, db *sql.DB) int64 {
	var pageCount, pageSize int64
	if err := db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0
	}
	if err := db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0
	}
	return pageCount * pageSize
}
