// Package ring implements the io_uring-style bounded MPMC rings the
// Host and Worker pool hand work and results through: a generic
// Vyukov-style sequence-word ring (this file), submission/completion
// instantiations, and byte-payload I/O rings (ioring.go).
package ring

import (
	"context"
	"sync"
	"sync/atomic"
)

// ringSlot is one cell of the ring: a sequence word plus its payload.
// The sequence word is the Vyukov handshake between producers and
// consumers; val is only safe to read/write once the handshake grants
// ownership of the slot, so no separate lock guards it.
type ringSlot[T any] struct {
	seq atomic.Uint32
	val T
}

// Ring is a fixed-capacity, lock-free, multi-producer multi-consumer
// ring buffer. Capacity must be a power of two (spec §4.3 "Ring
// capacity is a power of two").
type Ring[T any] struct {
	buf  []ringSlot[T]
	mask uint32

	head atomic.Uint32
	tail atomic.Uint32

	notEmpty *waitWord
	notFull  *waitWord
}

// NewRing allocates a ring of the given capacity, rounded up to the
// next power of two if necessary.
func NewRing[T any](capacity uint32) *Ring[T] {
	capacity = nextPow2(capacity)
	r := &Ring[T]{
		buf:      make([]ringSlot[T], capacity),
		mask:     capacity - 1,
		notEmpty: newWaitWord(),
		notFull:  newWaitWord(),
	}
	for i := range r.buf {
		r.buf[i].seq.Store(uint32(i))
	}
	return r
}

func nextPow2(n uint32) uint32 {
	if n < 2 {
		return 2
	}
	p := uint32(1)
	for p < n {
		p <<= 1
	}
	return p
}

// Cap returns the ring's fixed capacity.
func (r *Ring[T]) Cap() uint32 { return r.mask + 1 }

// TryPush is the non-blocking producer side. It returns false
// (`full`, spec rc=1) rather than blocking.
func (r *Ring[T]) TryPush(v T) bool {
	for {
		tail := r.tail.Load()
		slot := &r.buf[tail&r.mask]
		seq := slot.seq.Load()
		diff := int64(seq) - int64(tail)
		switch {
		case diff == 0:
			if r.tail.CompareAndSwap(tail, tail+1) {
				slot.val = v
				slot.seq.Store(tail + 1)
				r.notEmpty.notify()
				return true
			}
		case diff < 0:
			return false
		default:
			// Another producer claimed this slot between our load and
			// CAS attempt; retry with a fresh tail.
		}
	}
}

// TryPop is the non-blocking consumer side.
func (r *Ring[T]) TryPop() (v T, ok bool) {
	for {
		head := r.head.Load()
		slot := &r.buf[head&r.mask]
		seq := slot.seq.Load()
		diff := int64(seq) - int64(head+1)
		switch {
		case diff == 0:
			if r.head.CompareAndSwap(head, head+1) {
				v = slot.val
				var zero T
				slot.val = zero
				slot.seq.Store(head + r.mask + 1)
				r.notFull.notify()
				return v, true
			}
		case diff < 0:
			return v, false
		default:
		}
	}
}

// Push blocks until v is enqueued or ctx is done: producers never
// busy-spin, they wait on the ring's notFull word between attempts.
// CqPost and the IO-ring writers use it; the Host's hostSubmit retry
// goes through TryPush and its own backoff instead.
func (r *Ring[T]) Push(ctx context.Context, v T) error {
	for {
		if r.TryPush(v) {
			return nil
		}
		if err := r.notFull.wait(ctx); err != nil {
			return err
		}
	}
}

// Wait blocks until a value is available or ctx is done. This is the
// Worker's sqWait(); besides it, a worker blocks only in IO-ring waits
// and in CqPost while the CQ is full.
func (r *Ring[T]) Wait(ctx context.Context) (T, error) {
	for {
		if v, ok := r.TryPop(); ok {
			return v, nil
		}
		if err := r.notEmpty.wait(ctx); err != nil {
			var zero T
			return zero, err
		}
	}
}

// waitWord is the futex-style notification primitive §4.3/§5 call for
// producer/consumer wakeups. Go has no portable userspace futex, so
// this substitutes a sync.Cond: notify wakes every waiter, each of
// which simply retries its Try* operation (spurious wakeups are
// harmless).
type waitWord struct {
	mu   sync.Mutex
	cond *sync.Cond
}

func newWaitWord() *waitWord {
	w := &waitWord{}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *waitWord) notify() {
	w.cond.Broadcast()
}

func (w *waitWord) wait(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		stop := context.AfterFunc(ctx, w.cond.Broadcast)
		defer stop()
	}
	w.cond.Wait()
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}
