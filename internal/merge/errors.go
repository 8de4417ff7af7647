package merge

import "errors"

var (
	// ErrMalformedCandidate means the candidate lacks its identity or a
	// required descriptive field. Nothing was written.
	ErrMalformedCandidate = errors.New("malformed candidate")

	// ErrStoreUnavailable means the store could not be read or written.
	// The merge may be retried later with the same candidate.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrConflict is returned by a Tx when another writer raced the same
	// identity. The engine retries the read-modify-write on it.
	ErrConflict = errors.New("concurrent write conflict")
)
