// Package builtins provides the compiled-in tool packs.
//
// # Tool Packs
//
// Calculator (calculator), always available:
//
//   - add: {"numbers": [...]} -> {"sum": n}
//   - subtract: first minus the rest -> {"difference": n}
//   - multiply: -> {"product": n}
//   - divide: first divided by the rest -> {"quotient": n}
//
// An empty list yields 0, except multiply which yields 1. Dividing by zero is
// a tool error.
//
// Notes (notes), available when the SQLite database is configured:
//
//   - note_set, note_get, note_list, note_delete
//
// # Schemas
//
// Parameter schemas are reflected from the input structs the handlers decode
// into, so a schema can never drift from its handler.
//
// # Bindings
//
// Bindings exposes every handler as "<pack>.<tool>", for example
// "calculator.add". Declarative tool files reference these keys to publish a
// compiled-in implementation under a different name or description.
package builtins
