package types

import "errors"

var (
	// ErrNotFound is a normal negative result: the entity is empty or expired.
	ErrNotFound = errors.New("not found")

	// ErrRejected is returned when subscribing to an entity with no live expiry.
	ErrRejected = errors.New("rejected: entity has no live expiry")

	// ErrOccupied is returned when storing into an entity that is still live.
	ErrOccupied = errors.New("entity is live")

	// ErrCollision marks a freshly allocated candidate that is already live or
	// reserved. The allocator absorbs it; callers never see it.
	ErrCollision = errors.New("allocation collision")

	// ErrAllocationExhausted is returned when the claim loop runs out of attempts.
	ErrAllocationExhausted = errors.New("allocation exhausted")

	// ErrStorage wraps failures of the underlying storage backend.
	ErrStorage = errors.New("storage failure")
)
