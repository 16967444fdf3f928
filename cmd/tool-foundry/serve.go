// ABOUTME: The serve command: loads config, prints the startup banner and runs the gateway
// ABOUTME: Blocks until SIGINT/SIGTERM, then shuts down gracefully

package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xiaolintangyuan/tool-foundry/internal/config"
	"github.com/xiaolintangyuan/tool-foundry/internal/gateway"
)

func newServeCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()

			cyan := color.New(color.FgCyan)
			gray := color.New(color.FgHiBlack)
			green := color.New(color.FgGreen)
			yellow := color.New(color.FgYellow)

			cyan.Print(banner)
			gray.Printf("    version: %s\n\n", version)

			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			logger := setupLogger(cfg.Logging, os.Stderr)

			green.Print("    ▶ ")
			fmt.Printf("Config:    %s\n", path)
			green.Print("    ▶ ")
			fmt.Printf("Model:     %s @ %s\n", cfg.Model.ID, cfg.Model.BaseURL)
			if cfg.Tailscale.Enabled {
				green.Print("    ▶ ")
				fmt.Printf("Tailscale: ")
				cyan.Print(cfg.Tailscale.Hostname)
				if cfg.Tailscale.Funnel {
					yellow.Print(" [funnel]")
				}
				if cfg.Tailscale.Ephemeral {
					gray.Print(" (ephemeral)")
				}
				fmt.Println()
			} else {
				green.Print("    ▶ ")
				fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
			}
			if cfg.Database.Path != "" {
				green.Print("    ▶ ")
				fmt.Printf("Ledger:    %s\n", cfg.Database.Path)
			}
			fmt.Println()

			logger.Info("starting tool-foundry",
				"config", path,
				"http_addr", cfg.Server.HTTPAddr,
				"model", cfg.Model.ID,
			)

			gw, err := gateway.New(cmd.Context(), cfg, logger, gateway.WithVersion(version))
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}
			return gw.Run(cmd.Context())
		},
	}
}
