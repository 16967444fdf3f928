// Package conversation runs the tool-calling loop between a model and the
// dispatch table.
//
// # Overview
//
// A Loop holds everything that is fixed for the life of the process: the
// model id, the chat-completions client, the tool manifest and the router.
// Each call to Run owns a private copy of the caller's conversation:
//
//	loop := conversation.New(conversation.Config{
//	    Model:      cfg.Model.ID,
//	    Client:     llmClient,
//	    Dispatcher: router,
//	    Manifest:   manifest,
//	    Limits:     conversation.Limits{MaxTurns: 16},
//	})
//	res, err := loop.Run(ctx, conversation.Request{Messages: msgs})
//
// # States
//
//   - AWAITING_MODEL: one blocking request with the conversation and manifest
//   - DISPATCHING_TOOLS: each requested call runs in model order and its
//     result is appended as a tool message
//   - DONE: the model answered without tool calls
//   - FAILED: any error; no partial answer is returned
//
// Tool results always follow the assistant message that requested them and
// precede the next model call.
//
// # Limits
//
// MaxTurns caps model calls. MaxToolCalls caps tool calls for the whole run
// and is checked before a turn's calls start, so an over-budget turn runs
// none of them. Deadline bounds the run through its context.
//
// # Run Ledger
//
// With a store.RunStore configured, each run and tool invocation is recorded
// (never message content). Ledger failures are logged and ignored.
package conversation
