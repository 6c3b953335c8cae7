package eventledger

import (
	"errors"
	"fmt"
)

var (
	// ErrCorruptChain is matched by every *CorruptChainError.
	ErrCorruptChain = errors.New("eventledger: corrupt chain")

	// ErrPersistence is matched by every *PersistenceError.
	ErrPersistence = errors.New("eventledger: persistence failed")

	// ErrInvariant is matched by every *InvariantViolation.
	ErrInvariant = errors.New("eventledger: invariant violation")

	// ErrNotFound is returned when an entry index is out of range.
	ErrNotFound = errors.New("eventledger: entry not found")

	// ErrInvalidEntry is returned when Append is given an empty feature label
	// or a payload that cannot be represented as JSON.
	ErrInvalidEntry = errors.New("eventledger: invalid entry")
)

// ChainBreak describes the earliest point at which a chain fails verification.
type ChainBreak struct {
	Index  int
	Reason string
}

func (b *ChainBreak) Error() string {
	return fmt.Sprintf("chain broken at index %d: %s", b.Index, b.Reason)
}

// CorruptChainError is returned when persisted chain data fails to decode
// or fails verification at load time. Index is the first broken index, or
// -1 when the data could not be decoded at all.
type CorruptChainError struct {
	Source string
	Index  int
	Err    error
}

func (e *CorruptChainError) Error() string {
	return fmt.Sprintf("eventledger: corrupt chain in %s: %v", e.Source, e.Err)
}

func (e *CorruptChainError) Unwrap() error { return e.Err }

func (e *CorruptChainError) Is(target error) bool { return target == ErrCorruptChain }

// PersistenceError is returned when a durable write fails. The in-memory
// chain is never advanced when this error is returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("eventledger: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// InvariantViolation reports an internal consistency failure. It is
// unreachable in correct operation.
type InvariantViolation struct {
	Index  int
	Reason string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("eventledger: invariant violated at index %d: %s", e.Index, e.Reason)
}

func (e *InvariantViolation) Is(target error) bool { return target == ErrInvariant }
