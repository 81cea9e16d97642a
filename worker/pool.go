// Package worker runs the reducer against a shared arena on behalf of
// a Host: spawn, ready/connectArena handshake, then a blocking loop
// over the submission ring posting completions to the completion ring.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/ski-arena/ski-arena/arena"
	"github.com/ski-arena/ski-arena/reducer"
	"github.com/ski-arena/ski-arena/ring"
)

// ErrWorkerTrapped wraps an unrecoverable worker fault (a reducer
// panic, or a reducer error that can never be retried) on its way to
// the Host's error listener.
var ErrWorkerTrapped = errors.New("worker: trapped on unrecoverable fault")

// DefaultPoolSize mirrors GOMAXPROCS after letting automaxprocs adjust
// it to the container's CPU quota, falling back to 1 if GOMAXPROCS
// somehow reports less.
func DefaultPoolSize() int {
	undo, err := maxprocs.Set()
	if err == nil && undo != nil {
		defer undo()
	}
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		n = 1
	}
	return n
}

// Pool is a fixed-size set of workers sharing one arena, one IOPorts,
// and one SQ/CQ pair.
type Pool struct {
	a      *arena.Arena
	ports  reducer.IOPorts
	sq     *ring.SQ
	cq     *ring.CQ
	io     *ring.IORings // optional; nil if the program never uses readOne/writeOne
	size   int

	connected atomic.Bool
	group     *errgroup.Group
}

// New constructs a pool. size <= 0 defaults to DefaultPoolSize(). io may
// be nil for programs that never use the optional readOne/writeOne
// primitives.
func New(a *arena.Arena, ports reducer.IOPorts, sq *ring.SQ, cq *ring.CQ, io *ring.IORings, size int) *Pool {
	if size <= 0 {
		size = DefaultPoolSize()
	}
	return &Pool{a: a, ports: ports, sq: sq, cq: cq, io: io, size: size}
}

// Connected reports whether every worker has completed its
// connectArena handshake; hostSubmit consults this for its
// SubmitNotConnected rc.
func (p *Pool) Connected() bool { return p.connected.Load() }

// Start spawns the pool's workers and blocks until every one of them
// has completed the ready/connectArena handshake (spec §4.5
// lifecycle). The arena and rings are already shared Go values, so the
// handshake here is the synchronization gate itself: Start does not
// return (and Connected does not flip) until every worker goroutine
// has been scheduled and announced ready.
func (p *Pool) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	p.group = g

	ready := make(chan struct{}, p.size)
	for i := 0; i < p.size; i++ {
		idx := i
		g.Go(func() error {
			ready <- struct{}{}
			return p.runWorker(gctx, idx)
		})
	}
	for i := 0; i < p.size; i++ {
		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.connected.Store(true)
	return nil
}

// Wait blocks until every worker has exited, returning the first
// trapped fault (if any) wrapped in ErrWorkerTrapped.
func (p *Pool) Wait() error {
	if p.group == nil {
		return nil
	}
	return p.group.Wait()
}

// runWorker is the spec §4.5 worker loop:
//
//	loop:
//	  (nodeId, reqId, maxSteps) = sqWait()
//	  if maxSteps == 0 and kindOf(nodeId) in {Continuation, Suspension}:
//	      resultId = resumeReducer(nodeId, suspension.remainingBudget)
//	  else:
//	      resultId = reduce(nodeId, maxSteps)
//	  cqPost(pack(reqId, resultId))
//
// reducer.Resume already implements exactly this branch (forwarding
// straight to Reduce for a non-suspension id, and reapplying the
// suspension's stored budget on maxSteps==0 otherwise), so the worker
// body is a single Resume call.
func (p *Pool) runWorker(ctx context.Context, idx int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: worker %d: %v", ErrWorkerTrapped, idx, r)
		}
	}()

	for {
		entry, werr := p.sq.Wait(ctx)
		if werr != nil {
			// Context cancellation is a graceful shutdown signal, not a trap.
			return nil
		}

		resultID, suspended, rerr := reducer.Resume(p.a, p.ports, entry.NodeID, entry.MaxSteps)
		if rerr != nil {
			return fmt.Errorf("%w: worker %d: %v", ErrWorkerTrapped, idx, rerr)
		}

		// §6 IO rings: a reducer that blocked on empty stdin additionally
		// announces itself on stdinWait, separately from its normal CQ
		// completion, so the Host can learn it is IO-blocked without
		// scanning every in-flight request.
		if p.io != nil && suspended && reducer.IsSuspension(p.a, resultID) &&
			reducer.SuspensionReason(p.a, resultID) == arena.SuspendIOWait {
			if werr := p.io.PostStdinWait(ctx, resultID); werr != nil {
				return nil
			}
		}

		if cerr := ring.CqPost(ctx, p.cq, entry.ReqID, resultID); cerr != nil {
			return nil
		}
	}
}
