// Package service runs the canvas MCP server. It is a thin transport
// adapter: tool meaning lives in the domain package, data comes from the
// canvas HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mosaicforge/tessella/internal/services/canvas/api/client"
	"github.com/mosaicforge/tessella/internal/services/mcp/domain"
)

const (
	serverName    = "tessella-canvas"
	serverVersion = "0.1.0"
)

// Config configures the MCP server.
type Config struct {
	// APIBaseURL is the canvas HTTP API root the tools read from.
	APIBaseURL string
}

// Server hosts the MCP server.
type Server struct {
	mcpServer *mcp.Server
}

// New creates an MCP server whose tools read from the canvas API at the
// configured base URL.
func New(cfg Config) (*Server, error) {
	api, err := client.New(client.Options{BaseURL: cfg.APIBaseURL})
	if err != nil {
		return nil, fmt.Errorf("canvas API client: %w", err)
	}
	return newServer(api), nil
}

// newServer binds the tool handlers once. Split from New so tests can inject
// a fake canvas API.
func newServer(api domain.CanvasAPI) *Server {
	mcpServer := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)

	mcp.AddTool(mcpServer, domain.CanvasInfoTool(), domain.CanvasInfoHandler(api))
	mcp.AddTool(mcpServer, domain.CanvasCellTool(), domain.CanvasCellHandler(api))
	mcp.AddTool(mcpServer, domain.CanvasWindowTool(), domain.CanvasWindowHandler(api))
	mcp.AddTool(mcpServer, domain.CanvasParticipantTool(), domain.CanvasParticipantHandler(api))

	return &Server{mcpServer: mcpServer}
}

// Serve starts the MCP server on stdio and blocks until it stops or the
// context ends.
func (s *Server) Serve(ctx context.Context) error {
	return s.serveWithTransport(ctx, &mcp.StdioTransport{})
}

func (s *Server) serveWithTransport(ctx context.Context, transport mcp.Transport) error {
	if s == nil || s.mcpServer == nil {
		return errors.New("MCP server is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := s.mcpServer.Run(ctx, transport)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("serve MCP: %w", err)
	}
	return nil
}

// Run is the service entrypoint: build a server from config and serve stdio
// until context cancellation.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}
