// Package marshal converts between the arena's internal node ids and
// an external tree representation callers build programs with: a
// binary Terminal/NonTerminal tree, the same shape spec §2 describes
// as "an expression is a binary tree whose leaves are combinator
// symbols."
//
// Both directions are iterative post-order walks over an explicit
// stack (not Go recursion), the same "stack depth independent of tree
// depth" discipline package reducer uses for Step, because an
// external tree built by a caller can be arbitrarily deep. Sharing is
// preserved across the boundary in both directions: marshalIn dedupes
// identical Go pointers via an identity map (on top of the arena's own
// structural hash-consing), and marshalOut rebuilds exactly one Tree
// value per visited node id via an id→tree cache, so a DAG with a
// subtree referenced a thousand times produces a thousand shared
// pointers to one Go value, not a thousand copies.
package marshal

import (
	"errors"
	"fmt"

	"github.com/ski-arena/ski-arena/arena"
)

// Tree is the external representation of a program: a leaf names a
// combinator symbol, an internal node applies Left to Right.
//
// Two *Tree values compare as the same subtree by Go pointer identity,
// not by field equality — this is what lets MarshalIn recognize and
// dedupe a shared subtree passed in by reference, and what MarshalOut
// preserves by handing back the same *Tree for every occurrence of a
// given node id.
type Tree struct {
	Sym         arena.Sym // meaningful only when Left == nil && Right == nil
	Left, Right *Tree
}

// Leaf builds a Tree terminal naming sym.
func Leaf(sym arena.Sym) *Tree { return &Tree{Sym: sym} }

// App builds a Tree application of fn to arg.
func App(fn, arg *Tree) *Tree { return &Tree{Left: fn, Right: arg} }

// ErrNilTree is returned when MarshalIn is handed a nil *Tree.
var ErrNilTree = errors.New("marshal: nil tree")

// MarshalIn is the Host's ingestion path (spec §6 marshalIn): an
// iterative post-order walk that allocates each node bottom-up so a
// NonTerminal's children are always already-resolved ids by the time
// it is allocated. identity→id deduplication happens twice over: the
// local `seen` map short-circuits a *Tree pointer already visited in
// this call, and arena.AllocCons/AllocTerminal hash-cons structurally
// equal but textually distinct subtrees into the same id regardless.
func MarshalIn(a *arena.Arena, t *Tree) (arena.ID, error) {
	if t == nil {
		return 0, ErrNilTree
	}

	seen := make(map[*Tree]arena.ID)

	type frame struct {
		t         *Tree
		childDone bool
	}
	stack := []frame{{t: t}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		cur := top.t

		if _, ok := seen[cur]; ok {
			// Already resolved by an earlier occurrence of this same
			// pointer elsewhere in the tree; drop this duplicate frame.
			stack = stack[:len(stack)-1]
			continue
		}

		if cur.Left == nil && cur.Right == nil {
			id, err := a.AllocTerminal(cur.Sym)
			if err != nil {
				return 0, fmt.Errorf("marshal: AllocTerminal: %w", err)
			}
			seen[cur] = id
			stack = stack[:len(stack)-1]
			continue
		}
		if cur.Left == nil || cur.Right == nil {
			return 0, fmt.Errorf("marshal: malformed tree: exactly one of Left/Right is nil")
		}

		if !top.childDone {
			top.childDone = true
			if _, ok := seen[cur.Right]; !ok {
				stack = append(stack, frame{t: cur.Right})
			}
			if _, ok := seen[cur.Left]; !ok {
				stack = append(stack, frame{t: cur.Left})
			}
			continue
		}

		leftID, ok := seen[cur.Left]
		if !ok {
			return 0, fmt.Errorf("marshal: internal error: left child not resolved")
		}
		rightID, ok := seen[cur.Right]
		if !ok {
			return 0, fmt.Errorf("marshal: internal error: right child not resolved")
		}
		id, err := a.AllocCons(leftID, rightID)
		if err != nil {
			return 0, fmt.Errorf("marshal: AllocCons: %w", err)
		}
		seen[cur] = id
		stack = stack[:len(stack)-1]
	}

	id, ok := seen[t]
	if !ok {
		return 0, fmt.Errorf("marshal: internal error: root not resolved")
	}
	return id, nil
}

// ErrUnmarshalableKind is returned when MarshalOut is asked to convert
// a Continuation or Suspension id — those are the reducer's private
// bookkeeping structures, never a valid external tree.
var ErrUnmarshalableKind = errors.New("marshal: id names a Continuation or Suspension node, not a tree")

// MarshalOut is the Host's egestion path (spec §6 marshalOut): an
// iterative post-order walk over node ids. An id→*Tree cache ensures a
// node id visited more than once (a shared subtree, or the common case
// of the same small combinator terminal recurring throughout a
// program) produces exactly one *Tree, shared by pointer, mirroring
// the arena's own hash-consing on the way back out.
func MarshalOut(a *arena.Arena, id arena.ID) (*Tree, error) {
	cache := make(map[arena.ID]*Tree)

	type frame struct {
		id        arena.ID
		childDone bool
	}
	stack := []frame{{id: id}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		cur := top.id

		if _, ok := cache[cur]; ok {
			stack = stack[:len(stack)-1]
			continue
		}

		switch a.KindOf(cur) {
		case arena.KindTerminal:
			cache[cur] = Leaf(a.SymOf(cur))
			stack = stack[:len(stack)-1]

		case arena.KindNonTerminal:
			left, right := a.LeftOf(cur), a.RightOf(cur)
			if !top.childDone {
				top.childDone = true
				if _, ok := cache[right]; !ok {
					stack = append(stack, frame{id: right})
				}
				if _, ok := cache[left]; !ok {
					stack = append(stack, frame{id: left})
				}
				continue
			}
			cache[cur] = App(cache[left], cache[right])
			stack = stack[:len(stack)-1]

		default:
			return nil, fmt.Errorf("%w (id %d, kind %v)", ErrUnmarshalableKind, cur, a.KindOf(cur))
		}
	}

	return cache[id], nil
}
