// ABOUTME: serve command: prints the startup banner and runs the gateway
// ABOUTME: Blocks until SIGINT or SIGTERM, then shuts down gracefully

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cappelaere/wai/internal/config"
	"github.com/cappelaere/wai/internal/gateway"
	"github.com/cappelaere/wai/internal/model"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			cyan := color.New(color.FgCyan)
			cyan.Fprint(out, banner)
			color.New(color.FgHiBlack).Fprintf(out, "    version: %s\n\n", version)

			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			printStartup(out, cfg, path)

			logger := setupLogger(cfg.Logging, os.Stdout)
			logger.Info("starting wai-gateway",
				"config", path,
				"grpc_addr", cfg.Server.GRPCAddr,
				"http_addr", cfg.Server.HTTPAddr,
				"records_root", cfg.Records.Root,
				"session_backend", cfg.Sessions.Backend,
			)

			gw, err := gateway.New(cmd.Context(), cfg, version, logger)
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}
			return gw.Run(cmd.Context())
		},
	}
}

// printStartup writes the colored summary of the effective configuration.
func printStartup(out io.Writer, cfg *config.Config, path string) {
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)

	line := func(label, value string) {
		green.Fprint(out, "    ▶ ")
		fmt.Fprintf(out, "%-10s %s\n", label+":", value)
	}

	line("Config", path)
	if cfg.Tailscale.Enabled {
		green.Fprint(out, "    ▶ ")
		fmt.Fprintf(out, "%-10s ", "Tailscale:")
		cyan.Fprint(out, cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Fprint(out, " [funnel]")
		} else if cfg.Tailscale.HTTPS {
			yellow.Fprint(out, " [https]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Fprint(out, " (ephemeral)")
		}
		fmt.Fprintln(out)
	} else {
		line("gRPC", cfg.Server.GRPCAddr)
		line("HTTP", cfg.Server.HTTPAddr)
	}
	line("Records", cfg.Records.Root)
	line("Sessions", cfg.Sessions.Backend)
	name := cfg.Model.Name
	if name == "" {
		name = model.DefaultModel
	}
	if cfg.Model.APIKey == "" {
		name += yellow.Sprint(" (no API key)")
	}
	line("Model", name)
	if cfg.MCP.Enabled {
		line("MCP", cfg.MCP.Path)
	}
	fmt.Fprintln(out)
}
