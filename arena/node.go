// Package arena implements the hash-consed node store the reducer and
// rings operate over: a flat, id-addressed array of combinator-tree nodes
// with concurrent-safe allocation and O(1) lookup of structurally equal
// subtrees.
package arena

// ID addresses a node in an Arena. Ids are dense and monotonically
// assigned from a bump pointer; id < Arena.Top() holds for every live id.
type ID uint32

// EmptyID is the sentinel id used for absent children, empty bucket
// chains, and terminated Next links.
const EmptyID ID = 0xFFFFFFFF

// Kind identifies the variant of a stored node.
type Kind uint8

const (
	// KindHole is the uninitialised sentinel a freshly grown segment is
	// filled with. dumpArena skips nodes still in this state.
	KindHole Kind = iota
	KindTerminal
	KindNonTerminal
	KindContinuation
	KindSuspension
)

func (k Kind) String() string {
	switch k {
	case KindHole:
		return "hole"
	case KindTerminal:
		return "terminal"
	case KindNonTerminal:
		return "nonterminal"
	case KindContinuation:
		return "continuation"
	case KindSuspension:
		return "suspension"
	default:
		return "unknown"
	}
}

// Sym is a small dense enum identifying a combinator terminal. Values
// begin at 1 so the zero value (SymNone) never collides with a real
// symbol. It is wide enough (uint16) to additionally name the 256 byte
// terminals used to thread values through the optional I/O primitives
// (see SymByte); the combinator tags live below symCount and never
// overlap that range.
type Sym uint16

const (
	SymNone Sym = iota
	SymS
	SymK
	SymI
	SymB
	SymC
	SymSPrime
	SymBPrime
	SymCPrime
	SymReadOne  // ',' primitive I/O terminal
	SymWriteOne // '.' primitive I/O terminal

	symCount // sentinel; keep last
)

// symByteBase is the first Sym value naming a byte terminal. Byte
// terminals are plain Terminal nodes (Kind unchanged) used only by the
// optional readOne/writeOne rewrite rules in package reducer to carry a
// value read from or destined for an IO ring; they never appear in a
// program a caller marshals in directly.
const symByteBase Sym = symCount

// SymByte returns the Sym naming the terminal for byte value b.
func SymByte(b byte) Sym { return symByteBase + Sym(b) }

// ByteValue reports the byte value named by s, if s is a byte terminal.
func ByteValue(s Sym) (byte, bool) {
	if s < symByteBase {
		return 0, false
	}
	v := s - symByteBase
	if v > 0xFF {
		return 0, false
	}
	return byte(v), true
}

func (s Sym) String() string {
	switch s {
	case SymS:
		return "S"
	case SymK:
		return "K"
	case SymI:
		return "I"
	case SymB:
		return "B"
	case SymC:
		return "C"
	case SymSPrime:
		return "S'"
	case SymBPrime:
		return "B'"
	case SymCPrime:
		return "C'"
	case SymReadOne:
		return ","
	case SymWriteOne:
		return "."
	default:
		if b, ok := ByteValue(s); ok {
			return "byte(" + string(rune('0'+b%10)) + ")"
		}
		return "?"
	}
}

// SuspendReason distinguishes why a Suspension node was produced.
type SuspendReason uint8

const (
	SuspendStepBudget SuspendReason = iota // maxSteps exhausted mid-reduction
	SuspendIOWait                          // blocked on an empty/full IO ring
)

// Node is a single record in the arena. Its shape is shared by all four
// Kinds; which fields are meaningful depends on Kind:
//
//   - Terminal: Sym identifies the combinator; Hash is the symbol tag.
//   - NonTerminal: Left/Right are child ids; Hash is mix(hash(Left),
//     hash(Right)); Next chains within its hash bucket.
//   - Continuation/Suspension: Left/Right/Sym encode the reducer's
//     private spine-frame payload (see package reducer); Hash is
//     repurposed to carry the remaining step budget.
type Node struct {
	Kind  Kind
	Sym   Sym
	Left  ID
	Right ID
	Hash  uint32
	Next  ID
}
