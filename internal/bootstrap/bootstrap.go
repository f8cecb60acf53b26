// Package bootstrap supplies PE membership: world rank and size,
// communicator split with deterministic ordering, and the blocking
// barrier used around heap allocation and team setup. The runtime
// consumes this contract; it never defines how ranks were assigned.
package bootstrap

import "errors"

var ErrClosed = errors.New("bootstrap: closed")

// Comm is a communicator: an ordered subset of the world.
type Comm interface {
	// Rank is this PE's index within the communicator.
	Rank() int
	// Size is the number of members.
	Size() int
}

// Bootstrap wires one PE into the job.
type Bootstrap interface {
	// Rank and Size are world coordinates.
	Rank() int
	Size() int

	// World returns the communicator covering every PE.
	World() Comm

	// Split partitions parent by color. Members of the same color
	// form a new communicator ordered by (key, world rank). A
	// negative color opts out: the caller still participates in the
	// rendezvous but receives a nil communicator. Collective over
	// parent: every member must call in the same relative order.
	Split(parent Comm, color, key int) (Comm, error)

	// Barrier blocks until every member of c has entered it.
	Barrier(c Comm) error

	Close() error
}
