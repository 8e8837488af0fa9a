// ABOUTME: Root cobra command and the flags shared by every subcommand
// ABOUTME: Resolves the config path from --config, WAI_CONFIG or the XDG default

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cappelaere/wai/internal/config"
)

const banner = `
                 _                      _
 __      ____ _ (_)  __ _  __ _| |_ _____      ____ _ _   _
 \ \ /\ / / _' || | / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
  \ V  V / (_| || || (_| | (_| | ||  __/\ V  V / (_| | |_| |
   \_/\_/ \__,_||_| \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                    |___/                             |___/
`

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wai-gateway",
		Short: "Question answering over scholarship application records",
		Long: `wai-gateway answers natural-language questions about scholarship
applications. A language model plans tool calls against the processed
application records and replies with a grounded answer.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Path to the config file (default $WAI_CONFIG or ~/.config/wai/gateway.yaml)")

	root.AddCommand(
		newServeCmd(),
		newInitCmd(),
		newHealthCmd(),
		newToolsCmd(),
		newAskCmd(),
		newMCPCmd(),
		newVersionCmd(),
	)
	return root
}

// configPath returns the --config flag or the default location.
func configPath(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		return p
	}
	return config.DefaultPath()
}

// loadConfig loads the config selected for cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path := configPath(cmd)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wai-gateway %s\n", version)
		},
	}
}
