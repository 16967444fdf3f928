// ABOUTME: health and ready commands that probe a running gateway over HTTP
// ABOUTME: Exit non-zero unless the endpoint answers 200

package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xiaolintangyuan/tool-foundry/internal/config"
)

// probeURL turns a listen address into a URL a local client can reach.
func probeURL(addr, path string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + path
}

func newHealthCmd(configPath func() string, use, path, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Parse(configPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, probeURL(cfg.Server.HTTPAddr, path), nil)
			if err != nil {
				return fmt.Errorf("creating request: %w", err)
			}

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("%s check failed: %w", use, err)
			}
			defer func() { _ = resp.Body.Close() }()

			body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("%s check failed: status %d: %s", use, resp.StatusCode, strings.TrimSpace(string(body)))
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(body))
			return nil
		},
	}
}
