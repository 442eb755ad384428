// Package recon implements the paper-trade reconciliation engine: fill
// detection, exit evaluation, stale-order cancellation, and the
// per-pass lifecycle orchestrator.
package recon

import "errors"

// Error taxonomy. The reconciler classifies per-trade failures with
// these sentinels; every class skips the trade for the pass and leaves
// stored state untouched.
var (
	// ErrInsufficientData covers missing trade fields, short lookback
	// history, and unparsable timestamps. Retried next pass.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInvariantViolation marks a broken timestamp ordering. The
	// transition is aborted and recorded to the audit log.
	ErrInvariantViolation = errors.New("timestamp invariant violation")

	// ErrExternalFailure covers remote fetch errors and evaluator
	// subprocess timeouts or bad output. A failed check is never
	// treated as "no exit"; the trade stays open for retry.
	ErrExternalFailure = errors.New("external check failed")

	// ErrUnknownStrategy marks a trade whose kind matches no exit
	// logic. Configuration error; never defaulted into wrong logic.
	ErrUnknownStrategy = errors.New("unknown strategy kind")
)
