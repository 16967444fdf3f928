// Package gateway serves the tool-calling conversation loop over HTTP.
//
// # Overview
//
// New wires every component of a running server: it opens the optional run
// ledger, discovers tool modules, builds and seals the dispatch table,
// resolves the manifest the model is offered and mounts the HTTP routes.
// Run listens on a TCP address or a Tailscale node and blocks until its
// context is canceled.
//
// # HTTP API
//
//	POST /invoke            Run the loop: {"messages":[...]} -> {"response": Message}
//	GET  /api/tools         The manifest offered to the model
//	GET  /api/runs          Recent runs from the ledger (?limit=N)
//	GET  /api/runs/{id}     One run with its tool invocations
//	GET  /api/stats/usage   Aggregated token usage (?model=&since=&until=)
//	GET  /health            Liveness
//	GET  /health/ready      Ready once at least one tool is registered
//	POST /mcp               The same tools over MCP (JSON-RPC)
//	GET  /pdfs/...          Files from artifacts.dir, when configured
//
// Messages in an /invoke body are either plain strings, which become user
// messages, or objects with a non-empty string role and content.
//
// # Errors
//
// Failures are returned as {"error": "..."}:
//
//	400  malformed body or messages
//	409  a request with the same Idempotency-Key is still running
//	500  a tool call failed or a run limit was hit
//	502  the model endpoint failed or answered with something unusable
//	504  the run deadline expired
//
// Every response produced by the loop carries an X-Run-Id header naming the
// ledger entry.
//
// # Idempotency
//
// When server.idempotency_ttl is non-zero, a request carrying an
// Idempotency-Key header is executed at most once per TTL. Completed 2xx and
// 4xx responses are replayed with Idempotent-Replayed: true; 5xx responses
// are forgotten so the client may retry.
package gateway
