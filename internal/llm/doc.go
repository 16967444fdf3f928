// Package llm is a minimal client for OpenAI-compatible chat-completions
// endpoints (OpenAI, OpenRouter, vLLM, llama.cpp server and friends).
//
// Only the non-streamed request/response shape with function tools is
// supported. A non-2xx response is returned as *APIError so callers can
// surface the upstream status code.
package llm
