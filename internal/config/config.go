// ABOUTME: Configuration loading and parsing for tool-foundry
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing and env overrides

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Defaults applied when a field is left empty.
const (
	DefaultHTTPAddr        = ":3000"
	DefaultManifestPath    = "tools.json"
	DefaultMaxTurns        = 16
	DefaultMaxToolCalls    = 64
	DefaultDeadline        = 5 * time.Minute
	DefaultToolTimeout     = 30 * time.Second
	DefaultModelTimeout    = 120 * time.Second
	DefaultConnectTimeout  = 10 * time.Second
	DefaultIdempotencyTTL  = 10 * time.Minute
	DefaultArtifactsPrefix = "/pdfs/"
	DefaultReferer         = "https://github.com/xiaolintangyuan/tool-foundry"
	DefaultTitle           = "tool-foundry"
)

// Config represents the complete tool-foundry configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Model     ModelConfig     `yaml:"model"`
	Loop      LoopConfig      `yaml:"loop"`
	Tools     ToolsConfig     `yaml:"tools"`
	Database  DatabaseConfig  `yaml:"database"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname" validate:"required_if=Enabled true"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`     // Serve HTTPS on :443 with Tailscale-provisioned certs
	CertFile  string `yaml:"cert_file"` // TLS cert file (generate via: tailscale cert <hostname>)
	KeyFile   string `yaml:"key_file"`
	Funnel    bool   `yaml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// ServerConfig holds the HTTP listener and request-scoped settings
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	// IdempotencyTTL is how long a completed response stays replayable
	// under its Idempotency-Key. Zero disables replay.
	IdempotencyTTL    time.Duration `yaml:"-"`
	IdempotencyTTLRaw string        `yaml:"idempotency_ttl"`
}

// ModelConfig describes the OpenAI-compatible chat-completions endpoint
type ModelConfig struct {
	ID      string `yaml:"id" validate:"required"`
	BaseURL string `yaml:"base_url" validate:"required,url"`
	APIKey  string `yaml:"api_key"`
	Referer string `yaml:"referer"`
	Title   string `yaml:"title"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// LoopConfig bounds a single conversation run
type LoopConfig struct {
	MaxTurns     int `yaml:"max_turns" validate:"gte=0"`
	MaxToolCalls int `yaml:"max_tool_calls" validate:"gte=0"`

	Deadline    time.Duration `yaml:"-"`
	ToolTimeout time.Duration `yaml:"-"`

	DeadlineRaw    string `yaml:"deadline"`
	ToolTimeoutRaw string `yaml:"tool_timeout"`
}

// ToolsConfig controls tool discovery
type ToolsConfig struct {
	// Builtins lists the compiled-in tool packs to enable.
	Builtins []string `yaml:"builtins"`

	// SourceDir holds declarative tool files (.toml, .yaml, .json).
	SourceDir string `yaml:"source_dir"`

	ManifestPath string `yaml:"manifest_path"`

	// AllowOverride lets a later registration replace an earlier one with the
	// same name instead of failing startup.
	AllowOverride bool `yaml:"allow_override"`

	MCPServers []MCPServerConfig `yaml:"mcp_servers" validate:"dive"`

	ConnectTimeout    time.Duration `yaml:"-"`
	ConnectTimeoutRaw string        `yaml:"connect_timeout"`
}

// MCPServerConfig names a remote MCP server whose tools join the registry
type MCPServerConfig struct {
	Name string `yaml:"name" validate:"required"`
	URL  string `yaml:"url" validate:"required,url"`
}

// DatabaseConfig holds the run ledger location. An empty path disables it.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ArtifactsConfig serves generated files (documents written by tools) over HTTP
type ArtifactsConfig struct {
	Dir    string `yaml:"dir"`
	Prefix string `yaml:"prefix"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
// A missing file is not an error: defaults plus environment overrides are used.
func Load(path string) (*Config, error) {
	cfg, err := Parse(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Parse is Load without validation. Offline commands such as build-manifest
// use it because they never talk to the model endpoint.
func Parse(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// env-only configuration
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		expandedData := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnvOverrides honours the plain environment variables the gateway has
// always been configured with. They win over the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LLM_BASEMODEL"); v != "" {
		cfg.Model.ID = v
	}
	if v := os.Getenv("LLM_BASEURL"); v != "" {
		cfg.Model.BaseURL = v
	}
	if v := os.Getenv("LLM_APIKEY"); v != "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("GATEWAY_PORT"); v != "" {
		cfg.Server.HTTPAddr = ":" + strings.TrimPrefix(v, ":")
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Server.IdempotencyTTLRaw == "" {
		cfg.Server.IdempotencyTTL = DefaultIdempotencyTTL
	}
	if cfg.Model.Referer == "" {
		cfg.Model.Referer = DefaultReferer
	}
	if cfg.Model.Title == "" {
		cfg.Model.Title = DefaultTitle
	}
	if cfg.Model.Timeout == 0 {
		cfg.Model.Timeout = DefaultModelTimeout
	}
	cfg.Model.BaseURL = strings.TrimRight(cfg.Model.BaseURL, "/")

	if cfg.Loop.MaxTurns == 0 {
		cfg.Loop.MaxTurns = DefaultMaxTurns
	}
	if cfg.Loop.MaxToolCalls == 0 {
		cfg.Loop.MaxToolCalls = DefaultMaxToolCalls
	}
	if cfg.Loop.Deadline == 0 {
		cfg.Loop.Deadline = DefaultDeadline
	}
	if cfg.Loop.ToolTimeout == 0 {
		cfg.Loop.ToolTimeout = DefaultToolTimeout
	}

	if cfg.Tools.Builtins == nil {
		cfg.Tools.Builtins = []string{"calculator"}
	}
	if cfg.Tools.ManifestPath == "" {
		cfg.Tools.ManifestPath = DefaultManifestPath
	}
	if cfg.Tools.ConnectTimeout == 0 {
		cfg.Tools.ConnectTimeout = DefaultConnectTimeout
	}

	if cfg.Artifacts.Prefix == "" {
		cfg.Artifacts.Prefix = DefaultArtifactsPrefix
	}
	if !strings.HasSuffix(cfg.Artifacts.Prefix, "/") {
		cfg.Artifacts.Prefix += "/"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%s failed %q check", verrs[0].Namespace(), verrs[0].Tag())
		}
		return err
	}

	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	seen := make(map[string]bool, len(c.Tools.MCPServers))
	for _, srv := range c.Tools.MCPServers {
		if seen[srv.Name] {
			return fmt.Errorf("tools.mcp_servers: duplicate name %q", srv.Name)
		}
		seen[srv.Name] = true
	}

	if c.Server.IdempotencyTTL < 0 {
		return fmt.Errorf("server.idempotency_ttl must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.idempotency_ttl", cfg.Server.IdempotencyTTLRaw, &cfg.Server.IdempotencyTTL},
		{"model.timeout", cfg.Model.TimeoutRaw, &cfg.Model.Timeout},
		{"loop.deadline", cfg.Loop.DeadlineRaw, &cfg.Loop.Deadline},
		{"loop.tool_timeout", cfg.Loop.ToolTimeoutRaw, &cfg.Loop.ToolTimeout},
		{"tools.connect_timeout", cfg.Tools.ConnectTimeoutRaw, &cfg.Tools.ConnectTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
