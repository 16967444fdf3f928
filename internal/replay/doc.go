// Package replay stores gateway responses under a client-supplied
// Idempotency-Key so a retried request returns the original answer instead
// of running its tools a second time.
//
// The gateway calls Begin before running a conversation. StateNew hands the
// key to the caller, which must finish with Complete (success or a
// deterministic failure) or Release (so the client may retry). StateReplay
// carries the stored response. StateInFlight means a request with the same
// key is still running.
package replay
