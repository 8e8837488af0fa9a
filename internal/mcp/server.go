// ABOUTME: MCP server publishing every registered capability as a tool.
// ABOUTME: Calls route through the dispatcher so MCP clients see the same envelopes as the model.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cappelaere/wai/internal/capability"
	"github.com/cappelaere/wai/internal/dispatch"
)

// DefaultName is the server name advertised in the initialize handshake.
const DefaultName = "wai-gateway"

const instructions = "Tools for reading, analyzing and comparing processed scholarship applications. " +
	"Every result is JSON; failures carry an error_kind."

// Dispatcher lists and invokes capabilities. *dispatch.Manager satisfies it.
type Dispatcher interface {
	Entries() []capability.Entry
	Dispatch(ctx context.Context, name string, args json.RawMessage) dispatch.Envelope
}

// Config holds configuration for the MCP server.
type Config struct {
	Dispatcher Dispatcher
	Logger     *slog.Logger
	Name       string
	Version    string
}

// Server exposes the capability set over MCP.
type Server struct {
	dispatcher Dispatcher
	logger     *slog.Logger
	mcp        *server.MCPServer
	tools      int
}

// NewServer builds the MCP server from the dispatcher's current registry. The
// dispatcher must already be initialized.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.Name
	if name == "" {
		name = DefaultName
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		dispatcher: cfg.Dispatcher,
		logger:     logger.With("component", "mcp"),
		mcp: server.NewMCPServer(name, version,
			server.WithToolCapabilities(false),
			server.WithInstructions(instructions),
			server.WithRecovery(),
		),
	}
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	for _, e := range s.dispatcher.Entries() {
		d := e.Descriptor
		tool := mcp.NewToolWithRawSchema(d.Name, d.Description, d.Schema())
		s.mcp.AddTool(tool, s.handler(d.Name))
		s.tools++
	}
	s.logger.Info("MCP tools registered", "count", s.tools)
}

// handler adapts one capability to an MCP tool handler. Dispatch failures are
// tool-level errors, never protocol errors.
func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError("arguments are not valid JSON: " + err.Error()), nil
		}

		s.logger.Debug("tools/call", "tool_name", name)
		env := s.dispatcher.Dispatch(ctx, name, args)
		if env.IsError() {
			s.logger.Debug("tools/call failed", "tool_name", name, "error_kind", env.Kind)
			return mcp.NewToolResultError(env.ModelContent()), nil
		}
		return mcp.NewToolResultText(env.ModelContent()), nil
	}
}

// ToolCount returns the number of published tools.
func (s *Server) ToolCount() int { return s.tools }

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// Handler returns the Streamable HTTP transport, mountable at any path.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp)
}

// ServeStdio serves MCP over the given streams until ctx is cancelled or in
// reaches EOF.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("MCP server listening on stdio", "tools", s.tools)
	err := server.NewStdioServer(s.mcp).Listen(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
