// Package remote adapts MCP servers into tool modules.
//
// Each configured server becomes one tools.Module named after it. Connect
// runs the MCP initialize handshake over Streamable HTTP, retrying with
// exponential backoff. Module then pages through tools/list. Every listed
// tool becomes a descriptor whose handler proxies tools/call.
//
// Call results are reduced to JSON: text content that is already JSON is
// passed through, other text is returned as {"text": "..."}.
package remote
