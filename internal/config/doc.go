// Package config handles configuration loading for tool-foundry.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable expansion,
// then overlaid with the plain environment variables the gateway has always
// honoured. A missing file is allowed: defaults plus environment are enough to
// run against a model endpoint.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path given with --config
//  2. Path from TOOL_FOUNDRY_CONFIG environment variable
//  3. ~/.config/tool-foundry/gateway.yaml
//
// # Environment Variables
//
// Values can reference environment variables:
//
//	model:
//	  api_key: "${OPENROUTER_API_KEY}"
//
// These variables override the file directly:
//
//	LLM_BASEMODEL  model.id
//	LLM_BASEURL    model.base_url
//	LLM_APIKEY     model.api_key
//	GATEWAY_PORT   server.http_addr (as ":<port>")
//
// # Configuration Sections
//
//	server:
//	  http_addr: ":3000"
//	  idempotency_ttl: "10m"
//
//	model:
//	  id: "openai/gpt-4o-mini"
//	  base_url: "https://openrouter.ai/api/v1"
//	  api_key: "${LLM_APIKEY}"
//	  timeout: "120s"
//
//	loop:
//	  max_turns: 16
//	  max_tool_calls: 64
//	  deadline: "5m"
//	  tool_timeout: "30s"
//
//	tools:
//	  builtins: ["calculator"]
//	  source_dir: "./tools"
//	  manifest_path: "tools.json"
//	  allow_override: false
//	  mcp_servers:
//	    - name: docs
//	      url: "http://localhost:8081/mcp"
//
//	database:
//	  path: "/var/lib/tool-foundry/ledger.db"   # empty disables the run ledger
//
//	artifacts:
//	  dir: "./public/pdfs"
//	  prefix: "/pdfs/"
//
//	tailscale:
//	  enabled: false
//	  hostname: "tool-foundry"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: false      # Tailscale-provisioned certs on :443
//	  funnel: false     # public HTTPS through Funnel
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load validates struct tags with go-playground/validator and then applies
// cross-field checks. Parse skips validation for offline commands.
package config
