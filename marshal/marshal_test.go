package marshal

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ski-arena/ski-arena/arena"
)

func newTestArena(t *testing.T) *arena.Arena {
	t.Helper()
	a, err := arena.New(arena.Config{
		InitialCapacity: 8,
		MaxCapacity:     1 << 16,
		BucketCount:     8,
		StripeCount:     2,
	})
	if err != nil {
		t.Fatalf("arena.New: %v", err)
	}
	return a
}

func TestMarshalRoundTripSimpleTerm(t *testing.T) {
	a := newTestArena(t)
	// III: ((S K) applied never appears here, just III itself)
	i := Leaf(arena.SymI)
	tree := App(App(i, i), i)

	id, err := MarshalIn(a, tree)
	if err != nil {
		t.Fatalf("MarshalIn: %v", err)
	}
	out, err := MarshalOut(a, id)
	if err != nil {
		t.Fatalf("MarshalOut: %v", err)
	}
	if diff := cmp.Diff(tree, out); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMarshalRoundTripAllCombinators(t *testing.T) {
	a := newTestArena(t)
	syms := []arena.Sym{
		arena.SymS, arena.SymK, arena.SymI,
		arena.SymB, arena.SymC, arena.SymSPrime, arena.SymBPrime, arena.SymCPrime,
	}
	var tree *Tree
	for _, s := range syms {
		leaf := Leaf(s)
		if tree == nil {
			tree = leaf
		} else {
			tree = App(tree, leaf)
		}
	}

	id, err := MarshalIn(a, tree)
	if err != nil {
		t.Fatalf("MarshalIn: %v", err)
	}
	out, err := MarshalOut(a, id)
	if err != nil {
		t.Fatalf("MarshalOut: %v", err)
	}
	if diff := cmp.Diff(tree, out); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

// TestMarshalPreservesSharedSubtreeDAG builds a tree where the same
// *Tree pointer is referenced many times (spec §9 "Tests must include
// a DAG where the same subtree appears many times") and checks that
// MarshalIn produces one id for it and MarshalOut hands back one
// shared *Tree for every occurrence.
func TestMarshalPreservesSharedSubtreeDAG(t *testing.T) {
	a := newTestArena(t)

	shared := App(Leaf(arena.SymS), Leaf(arena.SymK))
	root := shared
	const depth = 20
	for i := 0; i < depth; i++ {
		root = App(root, shared)
	}

	id, err := MarshalIn(a, root)
	if err != nil {
		t.Fatalf("MarshalIn: %v", err)
	}

	sharedID, err := MarshalIn(a, shared)
	if err != nil {
		t.Fatalf("MarshalIn(shared): %v", err)
	}

	out, err := MarshalOut(a, id)
	if err != nil {
		t.Fatalf("MarshalOut: %v", err)
	}
	if diff := cmp.Diff(root, out); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}

	// Walk out's left spine; every right child on it, and the leftmost
	// node the walk ends at, should be the exact same *Tree pointer,
	// since they all marshalled from sharedID.
	cur := out
	count := 0
	for cur != out.Right {
		if cur.Left == nil || cur.Right != out.Right {
			t.Fatalf("expected every occurrence of the shared subtree to share one *Tree pointer")
		}
		count++
		cur = cur.Left
	}
	count++ // the leftmost occurrence is the shared *Tree itself
	if count != depth+1 {
		t.Fatalf("expected %d occurrences of the shared subtree, walked %d", depth+1, count)
	}

	outShared, err := MarshalOut(a, sharedID)
	if err != nil {
		t.Fatalf("MarshalOut(sharedID): %v", err)
	}
	if a.RightOf(id) != sharedID {
		t.Fatalf("expected the shared subtree to marshal to one id %d, root's right child is %d", sharedID, a.RightOf(id))
	}
	if diff := cmp.Diff(out.Right, outShared); diff != "" {
		t.Fatalf("expected MarshalOut(sharedID) to rebuild the shared occurrence within root (-want +got):\n%s", diff)
	}
}

func TestMarshalOutRejectsContinuationAndSuspension(t *testing.T) {
	a := newTestArena(t)
	i, _ := a.AllocTerminal(arena.SymI)
	susp, err := a.AllocSuspension(arena.SuspendStepBudget, i, arena.EmptyID, 10)
	if err != nil {
		t.Fatalf("AllocSuspension: %v", err)
	}
	if _, err := MarshalOut(a, susp); err == nil {
		t.Fatalf("expected MarshalOut to reject a Suspension id")
	}
}

func TestMarshalInRejectsNilTree(t *testing.T) {
	a := newTestArena(t)
	if _, err := MarshalIn(a, nil); err == nil {
		t.Fatalf("expected MarshalIn(nil) to error")
	}
}

func TestMarshalInDedupesIdenticalSubtreesAcrossCalls(t *testing.T) {
	a := newTestArena(t)
	// Two structurally-identical but textually-distinct trees must
	// hash-cons to the same id (the arena's own job, exercised here via
	// marshal's allocation path).
	t1 := App(Leaf(arena.SymK), Leaf(arena.SymI))
	t2 := App(Leaf(arena.SymK), Leaf(arena.SymI))

	id1, err := MarshalIn(a, t1)
	if err != nil {
		t.Fatalf("MarshalIn(t1): %v", err)
	}
	id2, err := MarshalIn(a, t2)
	if err != nil {
		t.Fatalf("MarshalIn(t2): %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected structurally identical trees to hash-cons to the same id, got %d and %d", id1, id2)
	}
}

func TestMarshalRoundTripAcrossGrowth(t *testing.T) {
	a := newTestArena(t)
	cfg := a.Config()

	first := App(Leaf(arena.SymK), Leaf(arena.SymI))
	firstID, err := MarshalIn(a, first)
	if err != nil {
		t.Fatalf("MarshalIn(first): %v", err)
	}

	// Force arena growth by marshalling more distinct NonTerminals than
	// the initial capacity (spec §9 seed scenario 6).
	var last *Tree
	for i := uint32(0); i < cfg.InitialCapacity+2; i++ {
		leaf := Leaf(arena.SymByte(byte(i % 251)))
		last = App(Leaf(arena.SymI), leaf)
		if _, err := MarshalIn(a, last); err != nil {
			t.Fatalf("MarshalIn(growth tree %d): %v", i, err)
		}
	}

	out, err := MarshalOut(a, firstID)
	if err != nil {
		t.Fatalf("MarshalOut(firstID) after growth: %v", err)
	}
	if diff := cmp.Diff(first, out); diff != "" {
		t.Fatalf("pre-growth id mismatch after growth (-want +got):\n%s", diff)
	}

	// marshalIn of a previously seen tree returns its original id.
	again, err := MarshalIn(a, App(Leaf(arena.SymK), Leaf(arena.SymI)))
	if err != nil {
		t.Fatalf("MarshalIn(again): %v", err)
	}
	if again != firstID {
		t.Fatalf("expected re-marshalling an already-seen tree to return its original id %d, got %d", firstID, again)
	}
}
