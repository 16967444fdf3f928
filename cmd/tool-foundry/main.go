// ABOUTME: Entry point for the tool-foundry gateway
// ABOUTME: Cobra command tree: serve, build-manifest, tools, health, ready and version

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _              _        __                       _
 | |_ ___   ___ | |      / _| ___  _   _ _ __   __| |_ __ _   _
 | __/ _ \ / _ \| |_____| |_ / _ \| | | | '_ \ / _' | '__| | | |
 | || (_) | (_) | |_____|  _| (_) | |_| | | | | (_| | |  | |_| |
  \__\___/ \___/|_|     |_|  \___/ \__,_|_| |_|\__,_|_|   \__, |
                                                          |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: --config > TOOL_FOUNDRY_CONFIG > XDG_CONFIG_HOME/tool-foundry/gateway.yaml > ~/.config/tool-foundry/gateway.yaml
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envPath := os.Getenv("TOOL_FOUNDRY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "tool-foundry", "gateway.yaml")
}

// newRootCmd builds the command tree. Each call returns fresh flag state.
func newRootCmd() *cobra.Command {
	var configFlag string

	root := &cobra.Command{
		Use:           "tool-foundry",
		Short:         "Tool-calling gateway for OpenAI-compatible models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Path to the gateway config file")

	configPath := func() string { return getConfigPath(configFlag) }

	root.AddCommand(
		newServeCmd(configPath),
		newBuildManifestCmd(configPath),
		newToolsCmd(configPath),
		newHealthCmd(configPath, "health", "/health", "Check gateway liveness"),
		newHealthCmd(configPath, "ready", "/health/ready", "Check that the gateway has tools registered"),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "tool-foundry %s\n", version)
			},
		},
	)
	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
