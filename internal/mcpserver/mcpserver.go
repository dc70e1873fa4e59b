// Package mcpserver exposes dead code analysis as Model Context Protocol
// tools.
package mcpserver

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/neural-garage/tools/internal/logging"
)

// Server wraps the MCP server and registers the bury tools and prompts.
type Server struct {
	server *mcp.Server
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used by tool handlers.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new MCP server with all tools registered.
func NewServer(version string, opts ...Option) *Server {
	if version == "" {
		version = "dev"
	}
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "bury",
			Version: version,
		},
		nil,
	)

	s := &Server{server: server, logger: logging.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerPrompts()
	return s
}

// Run starts the MCP server over stdio transport.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "analyze_dead_code",
		Description: describeDeadCode(),
	}, s.handleAnalyzeDeadCode)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "dead_code_cache_stats",
		Description: describeCacheStats(),
	}, s.handleCacheStats)
}
