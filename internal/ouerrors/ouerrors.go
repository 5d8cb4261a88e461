// Package ouerrors expresses the closed error taxonomy of §7 as
// sentinel values, so callers can classify a failure with errors.Is instead
// of string matching.
package ouerrors

import "errors"

var (
	// ErrTransient covers a perf counter read failure, a non-monotonic
	// counter (CPU migration), or a map lookup miss - the key is RESET and
	// execution continues.
	ErrTransient = errors.New("ouerrors: transient read failure")

	// ErrCapacityExhausted covers a full bounded map or a full ring buffer -
	// the record is dropped and a drop counter is incremented.
	ErrCapacityExhausted = errors.New("ouerrors: capacity exhausted")

	// ErrProtocolViolation covers FEATURES/FLUSH without a matching BEGIN,
	// a nested BEGIN for an already-outstanding key, or END without a
	// running snapshot - the key is RESET and discarded.
	ErrProtocolViolation = errors.New("ouerrors: protocol violation")

	// ErrPersistence covers an in-server table insert failure. It must
	// surface to the owning backend; no partial row may persist.
	ErrPersistence = errors.New("ouerrors: persistence failure")

	// ErrConfiguration covers a sampling rate outside [0,1] or a reference
	// to an unknown OU - rejected at the boundary.
	ErrConfiguration = errors.New("ouerrors: configuration error")

	// ErrAttach covers a coordinator attach failure - fatal to the
	// coordinator, but the server under observation is unaffected.
	ErrAttach = errors.New("ouerrors: attach failure")
)
