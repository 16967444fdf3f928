// Package store provides the run ledger and tool-side storage using SQLite.
//
// # Architecture
//
// The package is interface-driven:
//
//   - RunStore: audit records of conversation runs and their tool invocations
//   - NoteStore: key-value storage behind the notes tool pack
//   - Store: both, plus Close
//
// SQLiteStore implements all of them on modernc.org/sqlite (pure Go, no cgo).
// MockStore is an in-memory Store for tests; the parity tests run both through
// the same cases.
//
// # What Is Recorded
//
// A Run captures the model, terminal status, turn and tool-call counts, token
// usage and the error text of a failed run. A ToolInvocation captures which
// tool ran, in which turn and position, how long it took and whether it
// failed. Message content is never written: conversations live only for the
// duration of a request.
//
// # Schema
//
// Tables are created with CREATE TABLE IF NOT EXISTS on open, then
// runMigrations adds columns introduced after the first release. Both steps
// are idempotent.
//
// # Usage
//
//	s, err := store.NewSQLiteStore("/var/lib/tool-foundry/ledger.db")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	stats, err := s.GetUsageStats(ctx, store.UsageFilter{})
package store
