package types

import "errors"

// Error taxonomy (spec.md §7): lower layers report one of these
// distinguishable kinds; middle layers translate or wrap them with
// %w; user-facing layers map them to exit codes.
var (
	// ErrCasMismatch is returned by the ref store when a compare-and-swap
	// observes a current value other than the expected old one. It is a
	// ref race, recoverable by the caller, and is never silently retried
	// by the core.
	ErrCasMismatch = errors.New("cas mismatch: ref was modified concurrently")

	// ErrRefNotFound distinguishes ref absence (not itself an error
	// condition for read(), but useful for callers that require presence).
	ErrRefNotFound = errors.New("ref not found")

	// ErrInconsistentRefState means the epoch/branch refs are in a shape
	// the commit-phase recovery table (spec.md §4.5.3) does not predict.
	// Fatal; requires operator intervention.
	ErrInconsistentRefState = errors.New("inconsistent ref state")

	// ErrCorruptState means a merge-state or commit-state JSON file exists
	// but failed to parse. Surfaced distinctly from "absent".
	ErrCorruptState = errors.New("corrupt phase-state file")

	// ErrSecurityRejected means a remote operation blob failed transport
	// validation (spec.md §4.6 step 1). Non-fatal to the pull; the ref is
	// skipped.
	ErrSecurityRejected = errors.New("security rejected")

	// ErrPartialCommit means the COMMIT phase observed the epoch ref move
	// but not the branch ref, outside of the atomic step itself. Rare;
	// triggers commit-phase recovery.
	ErrPartialCommit = errors.New("partial commit")

	// ErrInvariantViolation marks an invariant breach that must be
	// surfaced loudly rather than swallowed: a single-writer breach on an
	// op log head, a destroy attempted without a capture, and similar.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrNotFound is returned by the object store when a referenced
	// object does not exist.
	ErrNotFound = errors.New("object not found")
)
