// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, env overrides, defaults and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func clearModelEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"LLM_BASEMODEL", "LLM_BASEURL", "LLM_APIKEY", "GATEWAY_PORT"} {
		t.Setenv(k, "")
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	clearModelEnv(t)

	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
  idempotency_ttl: "2m"

model:
  id: "openai/gpt-4o-mini"
  base_url: "https://openrouter.ai/api/v1/"
  api_key: "sk-test"
  timeout: "45s"

loop:
  max_turns: 4
  max_tool_calls: 10
  deadline: "90s"
  tool_timeout: "5s"

tools:
  builtins: ["calculator"]
  source_dir: "./tools"
  manifest_path: "./build/tools.json"
  allow_override: true
  mcp_servers:
    - name: docs
      url: "http://localhost:8081/mcp"

database:
  path: "./ledger.db"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Server.IdempotencyTTL != 2*time.Minute {
		t.Errorf("Server.IdempotencyTTL = %v, want %v", cfg.Server.IdempotencyTTL, 2*time.Minute)
	}
	if cfg.Model.BaseURL != "https://openrouter.ai/api/v1" {
		t.Errorf("Model.BaseURL = %q, want trailing slash trimmed", cfg.Model.BaseURL)
	}
	if cfg.Model.Timeout != 45*time.Second {
		t.Errorf("Model.Timeout = %v, want %v", cfg.Model.Timeout, 45*time.Second)
	}
	if cfg.Loop.MaxTurns != 4 || cfg.Loop.MaxToolCalls != 10 {
		t.Errorf("Loop limits = %d/%d, want 4/10", cfg.Loop.MaxTurns, cfg.Loop.MaxToolCalls)
	}
	if cfg.Loop.Deadline != 90*time.Second {
		t.Errorf("Loop.Deadline = %v, want %v", cfg.Loop.Deadline, 90*time.Second)
	}
	if cfg.Loop.ToolTimeout != 5*time.Second {
		t.Errorf("Loop.ToolTimeout = %v, want %v", cfg.Loop.ToolTimeout, 5*time.Second)
	}
	if !cfg.Tools.AllowOverride {
		t.Error("Tools.AllowOverride = false, want true")
	}
	if len(cfg.Tools.MCPServers) != 1 || cfg.Tools.MCPServers[0].Name != "docs" {
		t.Errorf("Tools.MCPServers = %+v, want one server named docs", cfg.Tools.MCPServers)
	}
	if cfg.Database.Path != "./ledger.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./ledger.db")
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want debug/json", cfg.Logging)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearModelEnv(t)

	configPath := writeConfig(t, `
model:
  id: "m"
  base_url: "http://localhost:1234"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != DefaultHTTPAddr {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, DefaultHTTPAddr)
	}
	if cfg.Loop.MaxTurns != DefaultMaxTurns {
		t.Errorf("Loop.MaxTurns = %d, want %d", cfg.Loop.MaxTurns, DefaultMaxTurns)
	}
	if cfg.Loop.MaxToolCalls != DefaultMaxToolCalls {
		t.Errorf("Loop.MaxToolCalls = %d, want %d", cfg.Loop.MaxToolCalls, DefaultMaxToolCalls)
	}
	if cfg.Loop.Deadline != DefaultDeadline {
		t.Errorf("Loop.Deadline = %v, want %v", cfg.Loop.Deadline, DefaultDeadline)
	}
	if cfg.Loop.ToolTimeout != DefaultToolTimeout {
		t.Errorf("Loop.ToolTimeout = %v, want %v", cfg.Loop.ToolTimeout, DefaultToolTimeout)
	}
	if cfg.Tools.ManifestPath != DefaultManifestPath {
		t.Errorf("Tools.ManifestPath = %q, want %q", cfg.Tools.ManifestPath, DefaultManifestPath)
	}
	if len(cfg.Tools.Builtins) != 1 || cfg.Tools.Builtins[0] != "calculator" {
		t.Errorf("Tools.Builtins = %v, want [calculator]", cfg.Tools.Builtins)
	}
	if cfg.Artifacts.Prefix != DefaultArtifactsPrefix {
		t.Errorf("Artifacts.Prefix = %q, want %q", cfg.Artifacts.Prefix, DefaultArtifactsPrefix)
	}
	if cfg.Model.Title != DefaultTitle || cfg.Model.Referer != DefaultReferer {
		t.Errorf("Model attribution headers not defaulted: %+v", cfg.Model)
	}
	if cfg.Server.IdempotencyTTL != DefaultIdempotencyTTL {
		t.Errorf("Server.IdempotencyTTL = %v, want %v", cfg.Server.IdempotencyTTL, DefaultIdempotencyTTL)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	clearModelEnv(t)
	t.Setenv("TEST_FOUNDRY_KEY", "sk-from-env")

	configPath := writeConfig(t, `
model:
  id: "m"
  base_url: "http://localhost:1234"
  api_key: "${TEST_FOUNDRY_KEY}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Model.APIKey != "sk-from-env" {
		t.Errorf("Model.APIKey = %q, want %q", cfg.Model.APIKey, "sk-from-env")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LLM_BASEMODEL", "env-model")
	t.Setenv("LLM_BASEURL", "http://env.example/v1")
	t.Setenv("LLM_APIKEY", "env-key")
	t.Setenv("GATEWAY_PORT", "4000")

	configPath := writeConfig(t, `
server:
  http_addr: ":9999"
model:
  id: "file-model"
  base_url: "http://file.example/v1"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Model.ID != "env-model" {
		t.Errorf("Model.ID = %q, want %q", cfg.Model.ID, "env-model")
	}
	if cfg.Model.BaseURL != "http://env.example/v1" {
		t.Errorf("Model.BaseURL = %q, want %q", cfg.Model.BaseURL, "http://env.example/v1")
	}
	if cfg.Model.APIKey != "env-key" {
		t.Errorf("Model.APIKey = %q, want %q", cfg.Model.APIKey, "env-key")
	}
	if cfg.Server.HTTPAddr != ":4000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, ":4000")
	}
}

func TestLoad_MissingFileUsesEnv(t *testing.T) {
	clearModelEnv(t)
	t.Setenv("LLM_BASEMODEL", "env-model")
	t.Setenv("LLM_BASEURL", "http://localhost:1234")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Model.ID != "env-model" {
		t.Errorf("Model.ID = %q, want %q", cfg.Model.ID, "env-model")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "model: [unclosed")

	if _, err := Load(configPath); err == nil {
		t.Fatal("Load() expected error for invalid YAML")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	clearModelEnv(t)

	configPath := writeConfig(t, `
model:
  id: "m"
  base_url: "http://localhost:1234"
loop:
  deadline: "forever"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "loop.deadline") {
		t.Errorf("error %q should name the offending field", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server: ServerConfig{HTTPAddr: ":3000"},
			Model:  ModelConfig{ID: "m", BaseURL: "http://localhost:1234"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing model id", mutate: func(c *Config) { c.Model.ID = "" }, wantErr: "ID"},
		{name: "missing base url", mutate: func(c *Config) { c.Model.BaseURL = "" }, wantErr: "BaseURL"},
		{name: "malformed base url", mutate: func(c *Config) { c.Model.BaseURL = "not a url" }, wantErr: "BaseURL"},
		{name: "negative max turns", mutate: func(c *Config) { c.Loop.MaxTurns = -1 }, wantErr: "MaxTurns"},
		{name: "tailscale without hostname", mutate: func(c *Config) { c.Tailscale.Enabled = true }, wantErr: "Hostname"},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "Level"},
		{
			name: "duplicate mcp server names",
			mutate: func(c *Config) {
				c.Tools.MCPServers = []MCPServerConfig{
					{Name: "a", URL: "http://one/mcp"},
					{Name: "a", URL: "http://two/mcp"},
				}
			},
			wantErr: "duplicate",
		},
		{
			name:    "missing http addr without tailscale",
			mutate:  func(c *Config) { c.Server.HTTPAddr = "" },
			wantErr: "http_addr",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOUNDRY_A", "alpha")

	got := expandEnvVars("x=${FOUNDRY_A} y=${FOUNDRY_UNSET_VAR}")
	if got != "x=alpha y=" {
		t.Errorf("expandEnvVars() = %q, want %q", got, "x=alpha y=")
	}
}
