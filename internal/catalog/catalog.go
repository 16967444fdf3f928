// ABOUTME: The discovery walk shared by build-manifest and the gateway.
// ABOUTME: Collects builtin packs, declarative source files and MCP servers in a fixed order.

package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xiaolintangyuan/tool-foundry/internal/builtins"
	"github.com/xiaolintangyuan/tool-foundry/internal/config"
	"github.com/xiaolintangyuan/tool-foundry/internal/remote"
	"github.com/xiaolintangyuan/tool-foundry/internal/tools"
)

// Discover returns every tool module the configuration names:
// builtin packs first, then tools.source_dir, then one module per MCP server.
// Any failure is fatal and wraps tools.ErrDiscovery.
func Discover(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps builtins.Deps) ([]tools.Module, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "catalog")

	modules, err := builtins.Packs(cfg.Tools.Builtins, deps)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", tools.ErrDiscovery, err)
	}
	for _, m := range modules {
		logger.Debug("builtin pack enabled", "module", m.Name, "tools", builtins.ToolNames(m))
	}

	if dir := cfg.Tools.SourceDir; dir != "" {
		declared, err := tools.LoadDir(dir, builtins.Bindings(deps))
		if err != nil {
			return nil, err
		}
		logger.Debug("loaded tool source directory", "dir", dir, "module_count", len(declared))
		modules = append(modules, declared...)
	}

	for _, srv := range cfg.Tools.MCPServers {
		m, err := remote.Module(ctx, remote.Config{
			Name:           srv.Name,
			URL:            srv.URL,
			ConnectTimeout: cfg.Tools.ConnectTimeout,
			Logger:         logger,
		})
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}

	logger.Info("discovery complete", "module_count", len(modules))
	return modules, nil
}

// Populate registers every callable of modules into registry, in order.
func Populate(registry *tools.Registry, modules []tools.Module) error {
	for _, m := range modules {
		if err := registry.RegisterModule(m); err != nil {
			return err
		}
	}
	return nil
}
