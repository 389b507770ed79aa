// Package merrors enumerates the error kinds the engine recognizes (spec §7)
// and the retry/classification machinery used on the WAL append path and
// table-file replace path.
package merrors

import "errors"

var (
	// ErrNotFound — missing file or missing key; expected and recoverable.
	ErrNotFound = errors.New("not found")

	// ErrValidation — malformed arguments: missing table or value, oversized
	// or space-containing keys, invalid table names.
	ErrValidation = errors.New("validation failed")

	// ErrVersionMismatch signals an optimistic-concurrency rejection.
	// Internal only: write/delete translate this into a plain `false`
	// return rather than propagating it to callers.
	ErrVersionMismatch = errors.New("version mismatch")

	// ErrCorrupt — invalid magic bytes or unreadable table header.
	ErrCorrupt = errors.New("corrupt table file")

	// ErrCheckpointFailed is raised upward when a checkpoint cannot finish;
	// the marker file is retained so the next start can retry.
	ErrCheckpointFailed = errors.New("checkpoint failed")

	// ErrCrypto — bad key or tampered ciphertext.
	ErrCrypto = errors.New("decryption failed")

	ErrClosed = errors.New("engine is closed")
)
