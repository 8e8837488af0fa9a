// ABOUTME: mcp command: serves the capability set as MCP tools over stdio
// ABOUTME: Logs go to stderr so they never corrupt the JSON-RPC stream on stdout

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cappelaere/wai/internal/gateway"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run the Model Context Protocol server on stdio",
		Long: `Starts the capability set as an MCP server on standard input and output,
so desktop assistants and other MCP clients can call the application tools
directly. The same server is available over HTTP at mcp.path while serving.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.Logging, os.Stderr)

			app, err := gateway.NewAppContext(cmd.Context(), cfg, version, logger)
			if err != nil {
				return fmt.Errorf("initializing capabilities: %w", err)
			}
			defer app.Close()

			return app.MCP.ServeStdio(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
