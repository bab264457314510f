// Package reason defines the error taxonomy shared by every component of
// the ingestion core (§7): a closed set of failure reasons plus an error
// type that carries one of them so callers can branch with errors.Is.
package reason

import "fmt"

// Reason tags why an operation failed. The zero value is never returned.
type Reason string

const (
	// MissingBlock: neither the local cache nor chain RPC has the
	// requested block (§4.2).
	MissingBlock Reason = "missing_block"
	// BlockMismatch: the reorg formulator's dual walk found its two
	// cursors at different heights (§4.2).
	BlockMismatch Reason = "block_mismatch"
	// HashMismatch: a submitted reorg's from_hash does not match the
	// current LastProcessedBlock (§4.4).
	HashMismatch Reason = "hash_mismatch"
	// CryptoError: signature recovery failed.
	CryptoError Reason = "crypto_error"
	// UnknownValidator: the recovered signer is not a member of the
	// current validator set.
	UnknownValidator Reason = "unknown_validator"
	// BadOrigin: an on-chain entry point was invoked by something other
	// than the expected internal origin (§6).
	BadOrigin Reason = "bad_origin"
	// WorkerBusy: the named time-bounded mutex could not be acquired
	// within its deadline (§4.1).
	WorkerBusy Reason = "worker_busy"
	// FailedToSubmitExtrinsic: the worker could not hand its message to
	// the substrate.
	FailedToSubmitExtrinsic Reason = "failed_to_submit_extrinsic"
	// MathOverflow / MathUnderflow: arithmetic over/underflow.
	MathOverflow  Reason = "math_overflow"
	MathUnderflow Reason = "math_underflow"
	// Unreachable signals a programmer error; it is never recovered from.
	Unreachable Reason = "unreachable"
)

// Error pairs a Reason with free-form detail.
type Error struct {
	Reason Reason
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// Is reports whether target is the same Reason, so callers can write
// errors.Is(err, reason.Of(reason.MissingBlock)).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Reason == other.Reason
}

// New constructs an error carrying r, with optional formatted detail.
func New(r Reason, format string, args ...any) error {
	return &Error{Reason: r, Detail: fmt.Sprintf(format, args...)}
}

// Of constructs a bare reason error with no detail, usable as a sentinel
// for errors.Is(err, reason.Of(reason.WorkerBusy)).
func Of(r Reason) error {
	return &Error{Reason: r}
}
