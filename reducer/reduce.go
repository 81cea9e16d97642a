package reducer

import (
	"errors"
	"fmt"

	"github.com/ski-arena/ski-arena/arena"
)

// ErrReduceOnSuspension is returned by Reduce when handed a Suspension
// id directly: callers must unwrap it via Resume, since a Suspension's
// Sym slot carries a SuspendReason rather than a combinator tag and
// must never be walked as if it were tree structure.
var ErrReduceOnSuspension = errors.New("reducer: Reduce called on a Suspension id, use Resume")

// Reduce applies Step repeatedly starting from id, stopping when:
//
//   - maxSteps is 0: no step is taken and id is returned unchanged,
//     (id, false, nil).
//   - the tree reaches normal form (no more redexes): returns
//     (resultID, false, nil).
//   - maxSteps steps have been consumed without reaching normal form:
//     returns a Suspension node wrapping the current root, (suspID,
//     true, nil). The suspension's hash slot carries maxSteps itself,
//     so a caller resubmitting with Resume(a, ports, suspID, 0) gets
//     another maxSteps-sized slice rather than a budget of zero.
//   - an I/O primitive blocks (readOne against empty stdin, writeOne
//     against full stdout): returns a Suspension with reason
//     SuspendIOWait wrapping the current root, ready for Resume once
//     the ring state changes.
//
// For any split maxSteps = a+b, Reduce(id, a+b) yields the same final
// id as Reduce(id, a) followed by Resume(..., suspension, b).
func Reduce(a *arena.Arena, ports IOPorts, id arena.ID, maxSteps uint32) (resultID arena.ID, suspended bool, err error) {
	if IsSuspension(a, id) {
		return 0, false, fmt.Errorf("%w (id %d)", ErrReduceOnSuspension, id)
	}
	if maxSteps == 0 {
		return id, false, nil
	}
	cur := id
	for n := uint32(0); n < maxSteps; n++ {
		altered, next, serr := Step(a, ports, cur)
		if serr != nil {
			var blk *IOBlock
			if errors.As(serr, &blk) {
				return suspend(a, blk.Reason, cur, maxSteps)
			}
			return 0, false, serr
		}
		if !altered {
			return cur, false, nil
		}
		cur = next
	}
	return suspend(a, arena.SuspendStepBudget, cur, maxSteps)
}

func suspend(a *arena.Arena, reason arena.SuspendReason, root arena.ID, budget uint32) (arena.ID, bool, error) {
	susp, err := a.AllocSuspension(reason, root, arena.EmptyID, budget)
	if err != nil {
		return 0, false, err
	}
	return susp, true, nil
}

// IsSuspension reports whether id names a Suspension node.
func IsSuspension(a *arena.Arena, id arena.ID) bool {
	return a.KindOf(id) == arena.KindSuspension
}

// SuspensionReason returns why id suspended. id must be a Suspension.
func SuspensionReason(a *arena.Arena, id arena.ID) arena.SuspendReason {
	return arena.SuspendReason(a.SymOf(id))
}

// SuspensionRoot returns the tree id suspended reduction should resume
// from. id must be a Suspension.
func SuspensionRoot(a *arena.Arena, id arena.ID) arena.ID {
	return a.LeftOf(id)
}

// SuspensionBudget returns the per-segment step budget stored with the
// suspension (the maxSteps value active when it was created). id must
// be a Suspension.
func SuspensionBudget(a *arena.Arena, id arena.ID) uint32 {
	return a.HashOf(id)
}

// Resume continues a suspended reduction. If maxSteps is 0, the
// suspension's own stored budget is reapplied — the convention the
// host's async resubmission path (hostSubmit(id, reqId, 0)) relies on
// so it never needs to track per-request budgets itself. A non-zero
// maxSteps overrides the stored budget, which is what the synchronous
// API uses to satisfy split-budget resumption (reduce(id, a) then
// resume with budget b).
func Resume(a *arena.Arena, ports IOPorts, suspensionID arena.ID, maxSteps uint32) (resultID arena.ID, suspended bool, err error) {
	if !IsSuspension(a, suspensionID) {
		return Reduce(a, ports, suspensionID, maxSteps)
	}
	root := SuspensionRoot(a, suspensionID)
	budget := maxSteps
	if budget == 0 {
		budget = SuspensionBudget(a, suspensionID)
	}
	return Reduce(a, ports, root, budget)
}
