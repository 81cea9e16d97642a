// Package reducer implements the iterative leftmost-outermost rewrite
// engine over an arena.Arena: the S/K/I core, the optional Turner
// extensions (B, C, S', B', C'), and the optional primitive I/O
// terminals.
package reducer

import (
	"errors"
	"fmt"

	"github.com/ski-arena/ski-arena/arena"
)

// ErrNoRule is returned by applyRule for a head symbol with no defined
// rewrite (a combinator tag outside the fixed set, or a raw byte
// terminal misused as an applicable head).
var ErrNoRule = errors.New("reducer: no rewrite rule for symbol")

// arity reports how many arguments a head symbol's redex consumes, or
// -1 if sym never heads a redex on its own (it's a value, not an
// applicable combinator).
func arity(sym arena.Sym) int {
	switch sym {
	case arena.SymI:
		return 1
	case arena.SymK:
		return 2
	case arena.SymS, arena.SymB, arena.SymC:
		return 3
	case arena.SymSPrime, arena.SymBPrime, arena.SymCPrime:
		return 4
	case arena.SymReadOne:
		return 1
	case arena.SymWriteOne:
		return 2
	default:
		return -1
	}
}

// errBlockedSentinel describes an I/O primitive that cannot complete
// against the current ring state. applyRule does not return it: it
// reports that case through its blocked result, which is not a
// failure; the caller suspends and retries once the ring changes.
var errBlockedSentinel = errors.New("reducer: io primitive blocked")

// applyRule rewrites a saturated redex (sym applied to args, args
// ordered closest-to-head first) into its result id. args must have at
// least arity(sym) elements; callers pass exactly arity(sym).
func applyRule(a *arena.Arena, ports IOPorts, sym arena.Sym, args []arena.ID) (result arena.ID, blocked bool, err error) {
	switch sym {
	case arena.SymI:
		// I x -> x
		return args[0], false, nil

	case arena.SymK:
		// K x y -> x
		return args[0], false, nil

	case arena.SymS:
		// S x y z -> (x z) (y z)
		x, y, z := args[0], args[1], args[2]
		xz, err := a.AllocCons(x, z)
		if err != nil {
			return 0, false, err
		}
		yz, err := a.AllocCons(y, z)
		if err != nil {
			return 0, false, err
		}
		r, err := a.AllocCons(xz, yz)
		return r, false, err

	case arena.SymB:
		// B x y z -> x (y z)
		x, y, z := args[0], args[1], args[2]
		yz, err := a.AllocCons(y, z)
		if err != nil {
			return 0, false, err
		}
		r, err := a.AllocCons(x, yz)
		return r, false, err

	case arena.SymC:
		// C x y z -> (x z) y
		x, y, z := args[0], args[1], args[2]
		xz, err := a.AllocCons(x, z)
		if err != nil {
			return 0, false, err
		}
		r, err := a.AllocCons(xz, y)
		return r, false, err

	case arena.SymSPrime:
		// S' c f g x -> c (f x) (g x)
		c, f, g, x := args[0], args[1], args[2], args[3]
		fx, err := a.AllocCons(f, x)
		if err != nil {
			return 0, false, err
		}
		gx, err := a.AllocCons(g, x)
		if err != nil {
			return 0, false, err
		}
		cfx, err := a.AllocCons(c, fx)
		if err != nil {
			return 0, false, err
		}
		r, err := a.AllocCons(cfx, gx)
		return r, false, err

	case arena.SymBPrime:
		// B' c f g x -> c f (g x)
		c, f, g, x := args[0], args[1], args[2], args[3]
		gx, err := a.AllocCons(g, x)
		if err != nil {
			return 0, false, err
		}
		cf, err := a.AllocCons(c, f)
		if err != nil {
			return 0, false, err
		}
		r, err := a.AllocCons(cf, gx)
		return r, false, err

	case arena.SymCPrime:
		// C' c f g x -> c (f x) g
		c, f, g, x := args[0], args[1], args[2], args[3]
		fx, err := a.AllocCons(f, x)
		if err != nil {
			return 0, false, err
		}
		cfx, err := a.AllocCons(c, fx)
		if err != nil {
			return 0, false, err
		}
		r, err := a.AllocCons(cfx, g)
		return r, false, err

	case arena.SymReadOne:
		return applyReadOne(a, ports, args)

	case arena.SymWriteOne:
		return applyWriteOne(a, ports, args)

	default:
		return 0, false, fmt.Errorf("%w: %v", ErrNoRule, sym)
	}
}
