package reducer

import "github.com/ski-arena/ski-arena/arena"

// IOBlock is returned by Step when it located the leftmost-outermost
// redex but that redex is a readOne/writeOne primitive that cannot
// complete against the current ring state. Callers (Reduce) translate
// this into a Suspension node rather than treating it as failure.
type IOBlock struct {
	Reason arena.SuspendReason
}

func (e *IOBlock) Error() string { return "reducer: blocked on io primitive" }

// Step performs a single leftmost-outermost rewrite of id, per spec:
// finds the leftmost-outermost redex in the tree rooted at id and
// replaces exactly it, leaving every other subtree shared by id with
// the original (hash-consing makes this free). If id already has no
// redex, altered is false and newID equals id.
//
// The search is a single explicit stack (searchFrame), never Go
// recursion, so its depth tracks the combinator term's spine depth,
// not the caller's goroutine stack.
func Step(a *arena.Arena, ports IOPorts, id arena.ID) (altered bool, newID arena.ID, err error) {
	stack := []searchFrame{newFrame(a, id)}

	var pending arena.ID
	unwinding := false

	for len(stack) > 0 {
		top := &stack[len(stack)-1]

		if unwinding {
			top.args[top.tryIdx] = pending
			unwinding = false
			rebuilt, ferr := foldArgs(a, top.head, top.args)
			if ferr != nil {
				return false, 0, ferr
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return true, rebuilt, nil
			}
			pending = rebuilt
			unwinding = true
			continue
		}

		if ar := arity(top.sym); ar >= 0 && len(top.args) >= ar {
			redexArgs := top.args[:ar]
			result, blk, aerr := applyRule(a, ports, top.sym, redexArgs)
			if aerr != nil {
				return false, 0, aerr
			}
			if blk {
				return false, 0, &IOBlock{Reason: arena.SuspendIOWait}
			}
			rebuilt, ferr := foldArgs(a, result, top.args[ar:])
			if ferr != nil {
				return false, 0, ferr
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return true, rebuilt, nil
			}
			pending = rebuilt
			unwinding = true
			continue
		}

		if top.tryIdx >= len(top.args) {
			// Normal form at this level: nothing beneath it changed.
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return false, id, nil
			}
			stack[len(stack)-1].tryIdx++
			continue
		}

		child := top.args[top.tryIdx]
		if a.KindOf(child) != arena.KindNonTerminal {
			top.tryIdx++
			continue
		}
		stack = append(stack, newFrame(a, child))
	}

	return false, id, nil
}
