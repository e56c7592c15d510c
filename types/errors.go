// Error taxonomy shared by the store, workflow and lifecycle layers.
// Callers classify failures with errors.Is; the router translates them
// into user-facing replies.
package types

import "errors"

var (
	// ErrNotFound means the referenced record or request is absent. For
	// request resolution this is benign: the request was already resolved
	// or expired, and the caller treats it as an idempotent no-op.
	ErrNotFound = errors.New("not found")

	// ErrConflict means the operation would violate an invariant: a
	// duplicate link target, a duplicate outstanding request, or a taken
	// username. Nothing is changed.
	ErrConflict = errors.New("conflict")

	// ErrInvalidArgument means the input was rejected before any
	// transaction began.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPersistence means a snapshot write failed. The attempted
	// transaction is discarded wholesale; in-memory state still matches
	// the last durable snapshot.
	ErrPersistence = errors.New("persistence failure")

	// ErrCollaborator means an external call failed after bounded retries.
	// Local state committed before the call stays committed.
	ErrCollaborator = errors.New("collaborator failure")
)
