package arena

import "errors"

// Sentinel errors returned by Arena operations. Callers should compare
// with errors.Is; wrapped errors from package host/ring add context via
// fmt.Errorf("...: %w", err).
var (
	// ErrOutOfArena is returned when growth would exceed MaxCapacity.
	ErrOutOfArena = errors.New("arena: out of arena: growth would exceed max capacity")

	// ErrInvalidConfig is returned by New when capacities are not powers
	// of two, or MaxCapacity < InitialCapacity.
	ErrInvalidConfig = errors.New("arena: invalid config")
)
