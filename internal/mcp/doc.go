// Package mcp exposes the gateway's dispatch table over the Model Context
// Protocol.
//
// # Overview
//
// MCP clients (editors, desktop assistants, other gateways) can list and
// call the same tools the conversation loop uses, without going through a
// model. Calls share the router, so argument validation and per-tool
// timeouts behave identically.
//
// # Protocol
//
// JSON-RPC 2.0 over Streamable HTTP at a single endpoint:
//
//   - POST /mcp: initialize, ping, tools/list, tools/call, notifications
//   - DELETE /mcp: end a session (Mcp-Session-Id header)
//
// initialize returns an Mcp-Session-Id header. Clients that omit the header
// on later requests are served statelessly.
//
// # Tool Execution
//
//	{
//	  "jsonrpc": "2.0",
//	  "method": "tools/call",
//	  "params": {"name": "add", "arguments": {"numbers": [1, 2, 3]}},
//	  "id": 2
//	}
//
// The tool's JSON result is returned as one text content item. A tool that
// fails produces a result with isError set; an unknown tool or invalid
// arguments produce a JSON-RPC error.
//
// # Client Configuration
//
//	{
//	  "mcpServers": {
//	    "tool-foundry": {"url": "http://localhost:3000/mcp"}
//	  }
//	}
package mcp
