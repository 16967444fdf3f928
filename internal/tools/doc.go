// Package tools defines the tool contract and the dispatch machinery around it.
//
// # Overview
//
// A tool is a Descriptor: a name, a description, a JSON-Schema parameter
// object and an Invoke handler. Tools arrive grouped in Modules, each of which
// exports either a single descriptor or a mapping of descriptors.
//
// Two views are derived from the same discovery walk:
//
//   - Manifest: the schema projection sent to the model as "tools". Only
//     complete descriptors (name, description, parameters) appear.
//   - Registry: the dispatch table from name to callable. Only descriptors
//     with a handler are registered.
//
// # Registration
//
// The registry is built once at startup and sealed. A second registration of
// the same name fails with ErrToolCollision unless the registry was created
// with AllowOverride, in which case the later registration wins and a
// warning is logged. BuildManifest takes the same choice through
// WithOverride and keeps the replaced entry's position.
//
// # Declarative Modules
//
// LoadDir reads .toml, .yaml and .json files. A file with a top-level "name"
// is a single tool; otherwise every table in the file is a tool:
//
//	# tools/sum.toml
//	name = "sum"
//	description = "Add a list of numbers"
//	handler = "calculator.add"
//
//	[parameters]
//	type = "object"
//	required = ["numbers"]
//
//	[parameters.properties.numbers]
//	type = "array"
//	items = { type = "number" }
//
// The handler key selects an in-process implementation from Bindings. A tool
// without a handler is manifest-only.
//
// # Dispatch
//
// Router.Dispatch parses the model's argument string, validates it against the
// tool's schema, runs the handler under a timeout and returns the result as a
// JSON string. Failures are *DispatchError values wrapping ErrToolNotFound,
// ErrInvalidArguments or ErrToolFailed.
//
// # Side Effects
//
// A conversation that fails part way through is not rolled back. Tools that
// already ran keep whatever effects they had, and a client retrying the request
// will run them again. Tool handlers must therefore be idempotent or otherwise
// safe to repeat.
package tools
