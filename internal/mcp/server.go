package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/codegrep/internal/config"
	"github.com/dshills/codegrep/internal/indexer"
	"github.com/dshills/codegrep/internal/parser"
	"github.com/dshills/codegrep/internal/searcher"
	"github.com/dshills/codegrep/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "codegrep"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies. One server
// serves the index of one project root.
type Server struct {
	mcp      *server.MCPServer
	cfg      *config.Config
	logger   *slog.Logger
	binding  parser.Binding
	storage  storage.Storage
	indexer  *indexer.Indexer
	searcher *searcher.Searcher
}

// NewServer opens the index under cfg.CacheDir and registers the tools
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := storage.NewSQLiteStorage(cfg.CacheDir, storage.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	binding := parser.DefaultRegistry()

	// indexer and searcher share one lock so eviction never races a run
	idx := indexer.New(store, binding, indexer.WithLogger(logger))
	srch, err := searcher.NewSearcher(store,
		searcher.WithLogger(logger),
		searcher.WithLock(idx.Lock()),
		searcher.WithCacheSize(cfg.Search.CacheSize),
	)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize searcher: %w", err)
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		mcp:      mcpServer,
		cfg:      cfg,
		logger:   logger,
		binding:  binding,
		storage:  store,
		indexer:  idx,
		searcher: srch,
	}

	if err := s.registerTools(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Serve runs the MCP protocol on stdio until ctx is cancelled or stdin
// is closed
func (s *Server) Serve(ctx context.Context) error {
	defer func() { _ = s.Close() }()
	stdio := server.NewStdioServer(s.mcp)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// Close releases the index
func (s *Server) Close() error {
	return s.storage.Close()
}

// registerTools registers all MCP tools
func (s *Server) registerTools() error {
	s.mcp.AddTool(indexCodebaseTool(), s.handleIndexCodebase)
	s.mcp.AddTool(searchCodeTool(), s.handleSearchCode)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(listKeyShapesTool(), s.handleListKeyShapes)
	return nil
}
