// ABOUTME: Offline commands over the discovery walk: build-manifest and tools
// ABOUTME: Neither talks to the model endpoint, so the config is parsed but not validated

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xiaolintangyuan/tool-foundry/internal/builtins"
	"github.com/xiaolintangyuan/tool-foundry/internal/catalog"
	"github.com/xiaolintangyuan/tool-foundry/internal/config"
	"github.com/xiaolintangyuan/tool-foundry/internal/store"
	"github.com/xiaolintangyuan/tool-foundry/internal/tools"
)

// discoverManifest runs discovery and projects the manifest. Builtin packs
// that need storage get a throwaway in-memory store; only their schemas
// are used here.
func discoverManifest(ctx context.Context, cfg *config.Config, logger *slog.Logger) (tools.Manifest, error) {
	scratch, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening scratch store: %w", err)
	}
	defer func() { _ = scratch.Close() }()

	modules, err := catalog.Discover(ctx, cfg, logger, builtins.Deps{Notes: scratch})
	if err != nil {
		return nil, err
	}
	return tools.BuildManifest(modules, tools.WithOverride(cfg.Tools.AllowOverride))
}

func parseConfig(path string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Parse(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, setupLogger(cfg.Logging, os.Stderr), nil
}

func newBuildManifestCmd(configPath func() string) *cobra.Command {
	var out, sourceDir string

	cmd := &cobra.Command{
		Use:   "build-manifest",
		Short: "Discover tools and write the manifest artifact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := parseConfig(configPath())
			if err != nil {
				return err
			}
			if sourceDir != "" {
				cfg.Tools.SourceDir = sourceDir
			}
			if out == "" {
				out = cfg.Tools.ManifestPath
			}

			manifest, err := discoverManifest(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			if err := tools.WriteManifest(out, manifest); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			green := color.New(color.FgGreen)
			green.Fprint(w, "  ✓ ")
			fmt.Fprintf(w, "Wrote %d tools to %s\n", len(manifest), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Manifest output path (default tools.manifest_path)")
	cmd.Flags().StringVar(&sourceDir, "source-dir", "", "Directory of declarative tool files (default tools.source_dir)")
	return cmd
}

func newToolsCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools discovery would offer the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := parseConfig(configPath())
			if err != nil {
				return err
			}
			manifest, err := discoverManifest(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			printManifest(cmd.OutOrStdout(), manifest)
			return nil
		},
	}
}

func printManifest(w io.Writer, manifest tools.Manifest) {
	width := 0
	for _, name := range manifest.Names() {
		width = max(width, len(name))
	}

	cyan := color.New(color.FgCyan)
	for _, entry := range manifest {
		cyan.Fprintf(w, "  %-*s", width, entry.Function.Name)
		fmt.Fprintf(w, "  %s\n", entry.Function.Description)
	}
	if len(manifest) == 0 {
		fmt.Fprintln(w, "  (no tools)")
	}
}
