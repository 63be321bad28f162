package hlod

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidID indicates a container lookup for an id that is not live.
	// It is a contract violation by the caller and is never retried.
	ErrInvalidID = errors.New("hlod: invalid node id")

	// ErrNodeInTree indicates an attempt to change the shape of a hierarchy
	// that a Tree already drives.
	ErrNodeInTree = errors.New("hlod: node belongs to a tree")

	// ErrStalledTransition indicates a node has waited too long for its
	// target state to become ready. It is a diagnostic; other nodes keep
	// progressing.
	ErrStalledTransition = errors.New("hlod: stalled transition")

	// ErrInconsistentInvariant indicates a tree invariant was observed
	// broken, which points at a logic defect.
	ErrInconsistentInvariant = errors.New("hlod: inconsistent invariant")
)

// StalledTransitionError reports a node stuck between two states.
type StalledTransitionError struct {
	Node   NodeID
	Level  int
	From   State
	To     State
	Frames int
}

func (e *StalledTransitionError) Error() string {
	return fmt.Sprintf("node %v (level %d) pending %s -> %s for %d frames", e.Node, e.Level, e.From, e.To, e.Frames)
}

func (e *StalledTransitionError) Unwrap() error { return ErrStalledTransition }

// InvariantError reports one broken invariant at one node.
type InvariantError struct {
	Node   NodeID
	Rule   string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("node %v: %s: %s", e.Node, e.Rule, e.Detail)
}

func (e *InvariantError) Unwrap() error { return ErrInconsistentInvariant }
