package docmodel

import "errors"

var (
	// ErrNotFound covers a missing document, section or annotation.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied is returned when the store refuses access.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrMutationRejected means the store refused a batch. Batches are atomic,
	// so nothing was applied.
	ErrMutationRejected = errors.New("mutation rejected")

	// ErrAnchorNotFound means a text search found no match in the snapshot.
	ErrAnchorNotFound = errors.New("anchor not found")
)
