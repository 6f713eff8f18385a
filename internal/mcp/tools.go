package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/codegrep/internal/indexer"
	"github.com/dshills/codegrep/internal/searcher"
	"github.com/dshills/codegrep/internal/storage"
	"github.com/dshills/codegrep/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeProjectNotFound    = -32001 // Specified path does not contain source files
	ErrorCodeIndexingInProgress = -32002 // Another revalidation is already running
	ErrorCodeSearchFailed       = -32003 // The store could not answer the query
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
)

// maxReportedErrors bounds the error messages included in a response
const maxReportedErrors = 5

// handleIndexCodebase handles the index_codebase tool invocation
func (s *Server) handleIndexCodebase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok && request.Params.Arguments != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path := getStringDefault(args, "path", s.cfg.Root)
	if err := s.validatePath(path); err != nil {
		code := ErrorCodeInvalidParams
		if errors.Is(err, ErrNoSourceFiles) {
			code = ErrorCodeProjectNotFound
		}
		return nil, newMCPError(code, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	cfg, err := s.cfg.IndexerConfig()
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "invalid index configuration", map[string]interface{}{
			"error": err.Error(),
		})
	}
	cfg.Prune = getBoolDefault(args, "prune", cfg.Prune)
	if raw, ok := args["parse_failure_policy"].(string); ok {
		policy, err := indexer.ParseParseFailurePolicy(raw)
		if err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid parse_failure_policy", map[string]interface{}{
				"param":   "parse_failure_policy",
				"value":   raw,
				"allowed": []string{string(indexer.PolicyRetry), string(indexer.PolicyAdvance)},
			})
		}
		cfg.ParseFailurePolicy = policy
	}

	stats, err := s.indexer.Revalidate(ctx, path, cfg)
	switch {
	case errors.Is(err, indexer.ErrRevalidationInProgress):
		return nil, newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", nil)
	case err != nil && !errors.Is(err, indexer.ErrRevalidationTimeout):
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := statsResponse(stats)
	response["timed_out"] = errors.Is(err, indexer.ErrRevalidationTimeout)
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchCode handles the search_code tool invocation
func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	keyTerms, err := getStringSlice(args, "keys")
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid keys", map[string]interface{}{
			"param": "keys",
			"error": err.Error(),
		})
	}

	query, _ := args["query"].(string)
	if query == "" && len(keyTerms) == 0 {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query or keys is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	kind, mode, field, err := s.cfg.SearchDefaults()
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "invalid search configuration", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if raw, ok := args["kind"].(string); ok {
		kind, err = types.ParseKind(raw)
		if err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid kind", map[string]interface{}{
				"param":   "kind",
				"value":   raw,
				"allowed": kindNames(),
			})
		}
	}

	req := searcher.SearchRequest{
		Term:     query,
		Kind:     kind,
		Mode:     storage.SearchMode(getStringDefault(args, "search_mode", string(mode))),
		Field:    storage.SearchField(getStringDefault(args, "field", string(field))),
		MaxEdits: getIntDefault(args, "max_edits", 0),
		KeyTerms: keyTerms,
		UseCache: true,
	}
	if _, err := storage.NormalizeQuery(storage.Query{Term: req.Term, Kind: req.Kind, Mode: req.Mode, Field: req.Field, KeyTerms: req.KeyTerms}); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid search parameters", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if getBoolDefault(args, "revalidate", true) {
		s.revalidateRoot(ctx)
	}

	resp, err := s.searcher.Search(ctx, req)
	if err != nil {
		return nil, newMCPError(ErrorCodeSearchFailed, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	files := make([]map[string]interface{}, 0, resp.Results.Len())
	for _, path := range resp.Results.Paths() {
		matches := resp.Results.Matches(path)
		items := make([]map[string]interface{}, 0, len(matches))
		for _, m := range matches {
			items = append(items, map[string]interface{}{
				"kind":       string(m.Kind),
				"start_line": m.Span.StartLine,
				"end_line":   m.Span.EndLine,
				"content":    m.Content,
			})
		}
		files = append(files, map[string]interface{}{
			"path":    path,
			"matches": items,
		})
	}

	response := map[string]interface{}{
		"query":       query,
		"keys":        keyTerms,
		"mode":        string(resp.Mode),
		"total":       resp.Results.Total(),
		"files":       files,
		"duration_ms": resp.Duration.Milliseconds(),
	}
	if len(resp.Evicted) > 0 {
		response["evicted"] = resp.Evicted
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// revalidateRoot brings the index up to date before a search. A failed
// or concurrent run leaves the last committed state searchable.
func (s *Server) revalidateRoot(ctx context.Context) {
	cfg, err := s.cfg.IndexerConfig()
	if err != nil {
		s.logger.Warn("skipping revalidation", "error", err)
		return
	}
	if _, err := s.indexer.Revalidate(ctx, s.cfg.Root, cfg); err != nil {
		s.logger.Info("revalidation before search did not complete", "error", err)
	}
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.storage.GetStatus(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	byKind := make(map[string]interface{}, len(status.UnitsByKind))
	for kind, count := range status.UnitsByKind {
		byKind[string(kind)] = count
	}

	response := map[string]interface{}{
		"indexed": status.FilesCount > 0,
		"root":    s.cfg.Root,
		"statistics": map[string]interface{}{
			"files_count":        status.FilesCount,
			"parse_failures":     status.ParseFailures,
			"units_count":        status.UnitsCount,
			"units_by_kind":      byKind,
			"key_shapes_count":   status.KeyShapesCount,
			"content_size_mb":    fmt.Sprintf("%.2f", float64(status.ContentSizeBytes)/(1024*1024)),
			"metadata_size_mb":   fmt.Sprintf("%.2f", float64(status.MetadataSizeBytes)/(1024*1024)),
			"generation":         status.Generation,
			"uncommitted_writes": status.Pending,
		},
		"health": map[string]interface{}{
			"database_accessible": status.Health.DatabaseAccessible,
			"fts_indexes_built":   status.Health.FTSIndexesBuilt,
			"driver":              status.Health.DriverName,
			"build_mode":          status.Health.BuildMode,
		},
	}
	if !status.LastIndexedAt.IsZero() {
		response["last_indexed_at"] = status.LastIndexedAt.Format(time.RFC3339)
	} else {
		response["message"] = "Project not indexed. Use index_codebase tool to index this project."
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleListKeyShapes handles the list_key_shapes tool invocation
func (s *Server) handleListKeyShapes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	prefix := getStringDefault(args, "prefix", "")

	shapes, err := s.storage.KeyShapes(ctx, prefix)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to list key shapes", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if shapes == nil {
		shapes = []string{}
	}

	response := map[string]interface{}{
		"prefix": prefix,
		"count":  len(shapes),
		"shapes": shapes,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// statsResponse formats the statistics of one revalidation run
func statsResponse(stats *indexer.Statistics) map[string]interface{} {
	response := map[string]interface{}{
		"run_id":            stats.RunID,
		"committed":         stats.Committed,
		"files_scanned":     stats.FilesScanned,
		"files_up_to_date":  stats.FilesUpToDate,
		"files_invalidated": stats.FilesInvalidated,
		"files_indexed":     stats.FilesIndexed,
		"files_failed":      stats.FilesFailed,
		"parse_failures":    stats.ParseFailures,
		"units_extracted":   stats.UnitsExtracted,
		"files_pruned":      stats.FilesPruned,
		"duration_ms":       stats.Duration.Milliseconds(),
	}

	if len(stats.ErrorMessages) > 0 {
		errorCount := len(stats.ErrorMessages)
		if errorCount > maxReportedErrors {
			response["errors"] = stats.ErrorMessages[:maxReportedErrors]
			response["error_count"] = errorCount
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}
	return response
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks that path is a readable directory holding at least
// one file a grammar binding accepts
func (s *Server) validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}

	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()

	hasSourceFiles := false
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && s.binding.IsValidFile(p) {
			hasSourceFiles = true
			return fs.SkipAll
		}
		return nil
	})

	if !hasSourceFiles {
		return ErrNoSourceFiles
	}

	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a non-empty string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok && val != "" {
		return val
	}
	return defaultValue
}

// getStringSlice extracts an optional array of strings
func getStringSlice(args map[string]interface{}, key string) ([]string, error) {
	switch val := args[key].(type) {
	case nil:
		return nil, nil
	case []string:
		return val, nil
	case []interface{}:
		out := make([]string, 0, len(val))
		for i, item := range val {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("element %d is not a string", i)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be an array of strings", key)
	}
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
	ErrNoSourceFiles   = errors.New("directory does not contain supported source files")
)
