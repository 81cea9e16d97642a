package reducer

import "github.com/ski-arena/ski-arena/arena"

// spineOf walks node's left spine down to its head (the first
// non-application it finds) and returns the arguments collected along
// the way ordered closest-to-head first: for ((head a) b) c, that is
// [a, b, c], matching the order the fixed rewrite rules expect.
func spineOf(a *arena.Arena, node arena.ID) (head arena.ID, args []arena.ID) {
	var outerFirst []arena.ID
	cur := node
	for a.KindOf(cur) == arena.KindNonTerminal {
		outerFirst = append(outerFirst, a.RightOf(cur))
		cur = a.LeftOf(cur)
	}
	head = cur
	args = make([]arena.ID, len(outerFirst))
	for i, v := range outerFirst {
		args[len(outerFirst)-1-i] = v
	}
	return head, args
}

// foldArgs rebuilds an application chain: start applied to each of
// args in order. Unchanged arguments hash-cons straight back to their
// original ids, so folding a partially-modified args slice is cheap
// and never duplicates untouched structure.
func foldArgs(a *arena.Arena, start arena.ID, args []arena.ID) (arena.ID, error) {
	cur := start
	for _, arg := range args {
		next, err := a.AllocCons(cur, arg)
		if err != nil {
			return 0, err
		}
		cur = next
	}
	return cur, nil
}

// searchFrame is one level of the explicit (non-recursive) search
// stack step.go walks. It records a subtree's head/args, lazily
// computed on first visit, and which argument is currently being
// searched for a nested redex.
type searchFrame struct {
	head   arena.ID
	sym    arena.Sym
	args   []arena.ID
	tryIdx int
}

func newFrame(a *arena.Arena, node arena.ID) searchFrame {
	head, args := spineOf(a, node)
	return searchFrame{head: head, sym: a.SymOf(head), args: args}
}
