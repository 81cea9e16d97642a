package arena

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Config configures a new Arena. InitialCapacity, MaxCapacity, and
// BucketCount must be powers of two; StripeCount must be a power of two
// no greater than BucketCount.
type Config struct {
	InitialCapacity uint32
	MaxCapacity     uint32
	BucketCount     uint32
	StripeCount     uint32

	// Logger receives debug-level logs on allocation growth and
	// arena-exhausted warnings. Defaults to a JSON logrus logger at
	// info level (growth logs at debug are then simply filtered) when
	// left nil.
	Logger *logrus.Logger
}

// DefaultConfig returns sane defaults for an interactive evaluation
// session: a small initial arena that can grow to a few million nodes.
func DefaultConfig() Config {
	return Config{
		InitialCapacity: 1 << 12,
		MaxCapacity:     1 << 24,
		BucketCount:     1 << 12,
		StripeCount:     1 << 6,
	}
}

func isPow2(n uint32) bool { return n != 0 && n&(n-1) == 0 }

func (c Config) validate() error {
	if !isPow2(c.InitialCapacity) || !isPow2(c.MaxCapacity) || !isPow2(c.BucketCount) || !isPow2(c.StripeCount) {
		return ErrInvalidConfig
	}
	if c.MaxCapacity < c.InitialCapacity {
		return ErrInvalidConfig
	}
	if c.StripeCount > c.BucketCount {
		return ErrInvalidConfig
	}
	return nil
}

// Arena is a content-addressed, hash-consed store of combinator-tree
// nodes shared between a Host and its Workers. It is safe for concurrent
// allocation and inspection; lifecycle operations (New, Reset) are
// owned exclusively by the Host (see spec §3 "Ownership").
type Arena struct {
	cfg Config
	log *logrus.Logger

	// bumpMu serializes growth and Reset. Id reservation itself never
	// takes it: every allocation path reserves through tryReserve's
	// lock-free CAS on top.
	bumpMu sync.Mutex

	// seq is a sequence lock: odd while growth is in progress, even
	// otherwise. Readers snapshot it before and after acquiring a
	// stripe lock; a mismatch means growth raced them and they must
	// retry with a fresh view (spec §4.1 "Growth").
	seq atomic.Uint64

	nodesPtr   atomic.Pointer[[]Node]
	bucketsPtr atomic.Pointer[[]atomic.Uint32]
	bucketMask atomic.Uint32
	capacity   atomic.Uint32
	top        atomic.Uint32

	stripes    []sync.Mutex
	stripeMask uint32

	termCache []atomic.Uint32
}

// termCacheSize covers every combinator tag plus the full byte-terminal
// range used by the optional readOne/writeOne rewrite rules.
const termCacheSize = int(symCount) + 256

// New creates an arena with the given configuration.
func New(cfg Config) (*Arena, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.New()
		log.SetFormatter(&logrus.JSONFormatter{})
		log.SetLevel(logrus.InfoLevel)
	}

	a := &Arena{
		cfg:        cfg,
		log:        log,
		stripes:    make([]sync.Mutex, cfg.StripeCount),
		stripeMask: cfg.StripeCount - 1,
	}
	a.resetLocked()
	return a, nil
}

// Config returns the configuration the arena was created with.
func (a *Arena) Config() Config { return a.cfg }

// Capacity returns the current node capacity.
func (a *Arena) Capacity() uint32 { return a.capacity.Load() }

// Top returns the bump pointer: the number of ids ever issued since the
// last Reset.
func (a *Arena) Top() uint32 { return a.top.Load() }

// Reset empties the arena. top becomes 0, all buckets are cleared, and
// the terminal cache is cleared. Every previously issued id is
// invalidated. Callers (the Host) must discard all prior ids and any
// marshalling caches keyed by them.
func (a *Arena) Reset() {
	a.bumpMu.Lock()
	defer a.bumpMu.Unlock()
	a.resetLocked()
}

func (a *Arena) resetLocked() {
	a.seq.Add(1)
	nodes := make([]Node, a.cfg.InitialCapacity)
	buckets := make([]atomic.Uint32, a.cfg.BucketCount)
	for i := range buckets {
		buckets[i].Store(uint32(EmptyID))
	}
	a.nodesPtr.Store(&nodes)
	a.bucketsPtr.Store(&buckets)
	a.bucketMask.Store(a.cfg.BucketCount - 1)
	a.capacity.Store(a.cfg.InitialCapacity)
	a.top.Store(0)
	a.termCache = make([]atomic.Uint32, termCacheSize)
	for i := range a.termCache {
		a.termCache[i].Store(uint32(EmptyID))
	}
	a.seq.Add(1)
}

// view is a consistent snapshot of the arena's growable state, valid
// until the next growth event.
type view struct {
	nodes      []Node
	buckets    []atomic.Uint32
	bucketMask uint32
}

// snapshot takes a seqlock-guarded view of the arena, retrying across
// any in-progress or intervening growth.
func (a *Arena) snapshot() (view, uint64) {
	for {
		s1 := a.seq.Load()
		if s1&1 != 0 {
			runtime.Gosched()
			continue
		}
		v := view{
			nodes:      *a.nodesPtr.Load(),
			buckets:    *a.bucketsPtr.Load(),
			bucketMask: a.bucketMask.Load(),
		}
		if a.seq.Load() != s1 {
			continue
		}
		return v, s1
	}
}

// tryReserve attempts a lock-free bump-pointer allocation. It fails
// (ok=false) when the arena is at capacity; the caller must grow and
// retry.
func (a *Arena) tryReserve() (id ID, ok bool) {
	for {
		top := a.top.Load()
		if top >= a.capacity.Load() {
			return 0, false
		}
		if a.top.CompareAndSwap(top, top+1) {
			return ID(top), true
		}
	}
}

// grow doubles capacity (up to MaxCapacity), copies existing node data
// into the new backing array, and rebuilds every hash bucket from
// scratch. It is a rare, globally-serialised event (spec §4.1
// "Growth").
func (a *Arena) grow() error {
	a.bumpMu.Lock()
	defer a.bumpMu.Unlock()

	// Another goroutine may have already grown the arena while we
	// waited for bumpMu.
	if a.top.Load() < a.capacity.Load() {
		return nil
	}

	oldCap := a.capacity.Load()
	if oldCap >= a.cfg.MaxCapacity {
		a.log.WithField("capacity", oldCap).Warn("arena exhausted")
		return ErrOutOfArena
	}
	newCap := oldCap * 2
	if newCap > a.cfg.MaxCapacity {
		newCap = a.cfg.MaxCapacity
	}
	newBucketCount := a.cfg.BucketCount
	for newBucketCount < newCap && newBucketCount < a.cfg.MaxCapacity {
		newBucketCount *= 2
	}

	a.seq.Add(1) // odd: growth in progress, readers must retry

	oldNodes := *a.nodesPtr.Load()
	newNodes := make([]Node, newCap)
	copy(newNodes, oldNodes)

	newBuckets := make([]atomic.Uint32, newBucketCount)
	for i := range newBuckets {
		newBuckets[i].Store(uint32(EmptyID))
	}
	newMask := newBucketCount - 1

	top := a.top.Load()
	for id := uint32(0); id < top; id++ {
		n := &newNodes[id]
		if n.Kind != KindNonTerminal {
			continue
		}
		b := n.Hash & newMask
		n.Next = ID(newBuckets[b].Load())
		newBuckets[b].Store(id)
	}

	a.nodesPtr.Store(&newNodes)
	a.bucketsPtr.Store(&newBuckets)
	a.bucketMask.Store(newMask)
	a.capacity.Store(newCap)

	a.seq.Add(1) // even: growth done

	a.log.WithFields(logrus.Fields{
		"old_capacity": oldCap,
		"new_capacity": newCap,
	}).Debug("arena grew")
	return nil
}

// hashOf returns the content hash of an existing node.
func (a *Arena) hashOf(id ID) uint32 {
	v, _ := a.snapshot()
	n := &v.nodes[id]
	if n.Kind == KindTerminal {
		return symHash(n.Sym)
	}
	return n.Hash
}

// AllocTerminal returns the canonical id for sym, allocating it on first
// use. Idempotent per symbol until Reset.
//
// Id reservation goes through the same lock-free CAS (tryReserve) as
// AllocCons and allocRaw, here via reserve, below: AllocTerminal runs concurrently with
// ordinary reduction (a worker's readOne calls it while other workers
// concurrently AllocCons through Step), so two different reservation
// mechanisms for the same bump pointer could hand out the same id to
// two goroutines at once. If two goroutines race to allocate the same
// sym for the first time, both reserve distinct ids and write their
// own node, but only one wins the termCache CAS below; the loser's id
// is simply never referenced again.
func (a *Arena) AllocTerminal(sym Sym) (ID, error) {
	if id := ID(a.termCache[sym].Load()); id != EmptyID {
		return id, nil
	}
	id, err := a.reserve()
	if err != nil {
		return 0, err
	}
	nodes := *a.nodesPtr.Load()
	nodes[id] = Node{Kind: KindTerminal, Sym: sym, Hash: symHash(sym), Next: EmptyID}
	if !a.termCache[sym].CompareAndSwap(uint32(EmptyID), uint32(id)) {
		return ID(a.termCache[sym].Load()), nil
	}
	return id, nil
}

// reserve is the lock-free bump-pointer reservation used by
// AllocTerminal and allocRaw: a tryReserve CAS loop, growing and
// retrying whenever the arena is at capacity. AllocCons calls
// tryReserve directly under its stripe lock and grows on its own.
// Reserving only through tryReserve's CAS is what keeps top's CAS the
// sole source of truth — no caller may reserve via a plain Load+Store
// under bumpMu, which could hand out an id already claimed by a
// concurrent CAS.
func (a *Arena) reserve() (ID, error) {
	for {
		if id, ok := a.tryReserve(); ok {
			return id, nil
		}
		if err := a.grow(); err != nil {
			return 0, err
		}
	}
}

// AllocCons returns the canonical id of the application node (left
// right), creating it if it does not already exist.
func (a *Arena) AllocCons(left, right ID) (ID, error) {
	h := mix(a.hashOf(left), a.hashOf(right))
	for {
		v, s1 := a.snapshot()
		b := h & v.bucketMask
		stripe := &a.stripes[b&a.stripeMask]
		stripe.Lock()

		if a.seq.Load() != s1 {
			stripe.Unlock()
			continue
		}

		if id, ok := lookup(v, b, h, left, right); ok {
			stripe.Unlock()
			return id, nil
		}

		if a.top.Load() >= a.capacity.Load() {
			stripe.Unlock()
			if err := a.grow(); err != nil {
				return 0, err
			}
			continue
		}

		id, ok := a.tryReserve()
		if !ok {
			stripe.Unlock()
			continue
		}
		v.nodes[id] = Node{Kind: KindNonTerminal, Left: left, Right: right, Hash: h, Next: EmptyID}
		for {
			old := v.buckets[b].Load()
			v.nodes[id].Next = ID(old)
			if v.buckets[b].CompareAndSwap(old, uint32(id)) {
				break
			}
		}
		stripe.Unlock()
		return id, nil
	}
}

func lookup(v view, bucket, hash uint32, left, right ID) (ID, bool) {
	cur := ID(v.buckets[bucket].Load())
	for cur != EmptyID {
		n := &v.nodes[cur]
		if n.Kind == KindNonTerminal && n.Hash == hash && n.Left == left && n.Right == right {
			return cur, true
		}
		cur = n.Next
	}
	return 0, false
}

// allocRaw allocates a fresh node outside the hash-cons index: used for
// Continuation and Suspension roots, which are never deduplicated and
// never appear as NonTerminal children (spec §3 invariants).
func (a *Arena) allocRaw(kind Kind, sym Sym, left, right ID, hash uint32) (ID, error) {
	id, err := a.reserve()
	if err != nil {
		return 0, err
	}
	nodes := *a.nodesPtr.Load()
	nodes[id] = Node{Kind: kind, Sym: sym, Left: left, Right: right, Hash: hash, Next: EmptyID}
	return id, nil
}

// AllocContinuation allocates a reducer spine frame. payloadLeft/Right
// encode the frame's private shape (see package reducer); remaining is
// stored in the Hash slot per spec §3.
func (a *Arena) AllocContinuation(sym Sym, payloadLeft, payloadRight ID, remaining uint32) (ID, error) {
	return a.allocRaw(KindContinuation, sym, payloadLeft, payloadRight, remaining)
}

// AllocSuspension allocates a suspended-reduction root. reason is
// encoded in Sym; root and frame carry the suspended root/top-of-spine
// ids in Left/Right; remaining is stored in the Hash slot (package
// reducer stores the step budget of the suspended segment there).
func (a *Arena) AllocSuspension(reason SuspendReason, root, frame ID, remaining uint32) (ID, error) {
	return a.allocRaw(KindSuspension, Sym(reason), root, frame, remaining)
}

// KindOf, SymOf, LeftOf, RightOf, NextOf, HashOf are inspectors. They are
// defined for every id < Top(); callers violating that bound get a
// programmer error (index panic), per spec's "InvalidId never surfaces
// from inspectors... violations are programmer errors."
func (a *Arena) KindOf(id ID) Kind   { return (*a.nodesPtr.Load())[id].Kind }
func (a *Arena) SymOf(id ID) Sym     { return (*a.nodesPtr.Load())[id].Sym }
func (a *Arena) LeftOf(id ID) ID     { return (*a.nodesPtr.Load())[id].Left }
func (a *Arena) RightOf(id ID) ID    { return (*a.nodesPtr.Load())[id].Right }
func (a *Arena) NextOf(id ID) ID     { return (*a.nodesPtr.Load())[id].Next }
func (a *Arena) HashOf(id ID) uint32 { return (*a.nodesPtr.Load())[id].Hash }

// Node returns a copy of the raw record at id.
func (a *Arena) Node(id ID) Node { return (*a.nodesPtr.Load())[id] }

// IndexedNode pairs a node with the id it lives at.
type IndexedNode struct {
	ID   ID
	Node Node
}

// DumpArena streams the live ids 0..Top() in fixed-size chunks, skipping
// holes (nodes whose Kind is the uninitialised sentinel). The returned
// function yields successive chunks; it returns false once exhausted.
// Artificially zeroing one live slot's Kind omits only that slot; every
// later id still appears (spec P10).
func (a *Arena) DumpArena(chunkSize int) func() ([]IndexedNode, bool) {
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	nodes := *a.nodesPtr.Load()
	top := a.top.Load()
	next := uint32(0)
	return func() ([]IndexedNode, bool) {
		if next >= top {
			return nil, false
		}
		chunk := make([]IndexedNode, 0, chunkSize)
		for next < top && len(chunk) < chunkSize {
			if nodes[next].Kind != KindHole {
				chunk = append(chunk, IndexedNode{ID: ID(next), Node: nodes[next]})
			}
			next++
		}
		return chunk, true
	}
}
