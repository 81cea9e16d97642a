package reducer

import (
	"errors"

	"github.com/ski-arena/ski-arena/arena"
)

// IOPorts is the reducer's view of the optional I/O rings (see package
// ring). A nil IOPorts disables the extensions entirely: encountering
// a readOne/writeOne head then fails with ErrIOPortsUnavailable rather
// than silently blocking forever.
type IOPorts interface {
	// TryReadStdin attempts to pop one byte without blocking.
	TryReadStdin() (b byte, ok bool)
	// TryWriteStdout attempts to push one byte without blocking.
	TryWriteStdout(b byte) (ok bool)
}

// ErrIOPortsUnavailable is returned when a program uses a readOne or
// writeOne terminal but the reducer was not given IOPorts.
var ErrIOPortsUnavailable = errors.New("reducer: io primitive used with no IOPorts configured")

// ErrNotAByte is returned when writeOne's first argument does not
// reduce to a byte terminal.
var ErrNotAByte = errors.New("reducer: writeOne argument is not a byte terminal")

// applyReadOne implements ',' k -> k <byte>, suspending (blocked=true)
// when stdin has nothing buffered.
func applyReadOne(a *arena.Arena, ports IOPorts, args []arena.ID) (arena.ID, bool, error) {
	if ports == nil {
		return 0, false, ErrIOPortsUnavailable
	}
	b, ok := ports.TryReadStdin()
	if !ok {
		return 0, true, nil
	}
	k := args[0]
	byteID, err := a.AllocTerminal(arena.SymByte(b))
	if err != nil {
		return 0, false, err
	}
	r, err := a.AllocCons(k, byteID)
	return r, false, err
}

// applyWriteOne implements '.' b k -> k, suspending (blocked=true) when
// stdout has no room buffered.
func applyWriteOne(a *arena.Arena, ports IOPorts, args []arena.ID) (arena.ID, bool, error) {
	if ports == nil {
		return 0, false, ErrIOPortsUnavailable
	}
	b, ok := byteOf(a, args[0])
	if !ok {
		return 0, false, ErrNotAByte
	}
	if !ports.TryWriteStdout(b) {
		return 0, true, nil
	}
	return args[1], false, nil
}

func byteOf(a *arena.Arena, id arena.ID) (byte, bool) {
	if a.KindOf(id) != arena.KindTerminal {
		return 0, false
	}
	return arena.ByteValue(a.SymOf(id))
}
