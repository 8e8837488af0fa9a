// Package mcp publishes the capability set as a Model Context Protocol server.
//
// # Overview
//
// Every capability in the registry becomes an MCP tool with its JSON Schema
// passed through unchanged. tools/call goes through the dispatcher, so MCP
// clients get exactly the envelopes the conversation engine feeds the model:
// the raw JSON result on success, and an error result carrying the encoded
// failure (error, error_kind, tool_name, details) otherwise.
//
// # Transports
//
//   - Streamable HTTP: Handler() is mounted at /mcp by the gateway.
//   - stdio: ServeStdio is used by `wai-gateway mcp` for desktop clients.
//
// # Usage
//
//	srv, err := mcp.NewServer(mcp.Config{Dispatcher: manager, Version: version})
//	router.Handle("/mcp", srv.Handler())
//
// Add to an MCP client configuration:
//
//	{
//	  "mcpServers": {
//	    "wai": {"command": "wai-gateway", "args": ["mcp", "--config", "gateway.yaml"]}
//	  }
//	}
package mcp
