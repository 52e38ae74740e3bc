package mcp

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/JQX369/tellyads-rag-sub000/internal/searcher"
	"github.com/JQX369/tellyads-rag-sub000/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "adsearch"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Searcher runs public searches on behalf of tool calls
type Searcher interface {
	Search(ctx context.Context, req searcher.Request) (*searcher.Response, error)
}

// Reporter serves counts and index health
type Reporter interface {
	AdCounts(ctx context.Context, adIDs []int64) (map[int64]storage.AdCount, error)
	GetStatus(ctx context.Context) (*storage.Status, error)
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	searcher Searcher
	reporter Reporter
	logger   *slog.Logger
}

// NewServer creates a new MCP server instance. Tool calls never carry admin
// rights, so results always pass the publish gate.
func NewServer(srch Searcher, reporter Reporter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		searcher: srch,
		reporter: reporter,
		logger:   logger,
	}
	s.registerTools()

	return s
}

// Serve speaks MCP on stdin/stdout until ctx is cancelled or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	return s.ServeIO(ctx, os.Stdin, os.Stdout)
}

// ServeIO speaks MCP over the given streams. Diagnostics go to stderr since
// stdout carries the protocol.
func (s *Server) ServeIO(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(os.Stderr, "mcp: ", log.LstdFlags))

	s.logger.Info("MCP server started", "name", ServerName, "version", ServerVersion)
	err := stdio.Listen(ctx, in, out)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchAdsTool(), s.handleSearchAds)
	s.mcp.AddTool(getAdCountsTool(), s.handleGetAdCounts)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
