package host

import (
	"context"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ski-arena/ski-arena/arena"
	"github.com/ski-arena/ski-arena/reducer"
	"github.com/ski-arena/ski-arena/ring"
)

// Backoff tuning from spec §4.4: a fast microtask-yield path, then a
// coarser macrotask sleep path once that's exhausted. The per-slice
// event/time budgets are configurable (Config.SliceEventBudget,
// Config.SliceBudget) and live on Host as sliceEventBudget/sliceBudget.
const (
	microtaskYieldThreshold = 512
	macrotaskSleep          = time.Millisecond
)

// yieldBackoff is the Host's generic "retry with backoff" primitive,
// shared by submitWithBackoff and the poller's empty-CQ loop: a handful
// of scheduler yields, then short sleeps, bounded by ctx.
func yieldBackoff(ctx context.Context, attempt, microtaskAttempts int) error {
	if attempt < microtaskAttempts {
		runtime.Gosched()
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(macrotaskSleep):
		return nil
	}
}

// pollerLoop is the single-threaded cooperative poller of spec §4.4: it
// drains CQ, correlates completions to tracked requests, and resolves
// or resubmits them.
func (h *Host) pollerLoop(ctx context.Context) {
	emptyStreak := 0
	processed := 0
	sliceStart := time.Now()

	for {
		if ctx.Err() != nil || h.isAborted() {
			return
		}

		packed, ok := ring.HostPull(h.cq)
		if !ok {
			emptyStreak++
			if emptyStreak < microtaskYieldThreshold {
				runtime.Gosched()
			} else if err := yieldBackoff(ctx, microtaskYieldThreshold, microtaskYieldThreshold); err != nil {
				return
			}
			continue
		}
		emptyStreak = 0

		h.processCompletion(ctx, packed)
		processed++

		if processed >= h.sliceEventBudget || time.Since(sliceStart) >= h.sliceBudget {
			runtime.Gosched()
			processed = 0
			sliceStart = time.Now()
		}
	}
}

// processCompletion implements spec §4.4 step 4: distinguish a
// continuation/suspension signal from a final result, and act
// accordingly.
func (h *Host) processCompletion(ctx context.Context, packed uint64) {
	reqID64, nodeID := ring.Unpack(packed)
	reqID := uint64(reqID64)

	kind := h.a.KindOf(nodeID)
	if kind != arena.KindContinuation && kind != arena.KindSuspension {
		h.met.requestsCompleted.Inc()
		h.resolve(reqID, Result{NodeID: nodeID})
		return
	}

	tr, pending := h.trackerFor(reqID)
	if !pending {
		// Caller cancelled; per spec §4.4 "drop if reqId is no longer
		// pending."
		return
	}

	if kind == arena.KindSuspension && reducer.SuspensionReason(h.a, nodeID) == arena.SuspendIOWait {
		h.log.WithFields(logrus.Fields{"req_id": reqID, "node_id": nodeID}).Debug("request suspended on io")
		h.mu.Lock()
		h.ioWaitByNode[nodeID] = reqID
		h.mu.Unlock()
		h.met.ioWaits.Inc()
		return
	}

	tr.resubmitCount++
	if tr.resubmitCount > h.maxResubmits {
		h.log.WithFields(logrus.Fields{"req_id": reqID, "resubmits": tr.resubmitCount}).Warn("resubmission limit exceeded")
		h.met.resubmitLimitExceeded.Inc()
		h.resolve(reqID, Result{Err: ErrResubmissionLimitExceeded})
		return
	}

	h.log.WithFields(logrus.Fields{"req_id": reqID, "node_id": nodeID, "resubmits": tr.resubmitCount}).Debug("resubmitting request")
	h.met.resubmits.Inc()
	if err := h.submitWithBackoff(ctx, nodeID, uint32(reqID), 0); err != nil {
		h.resolve(reqID, Result{Err: err})
	}
}

// ioWakePump drains the stdinWait ring (spec §6): each entry names a
// Suspension node blocked on empty stdin. It rendezvous with the
// poller's ioWaitByNode registration (populated from the same
// suspension's ordinary CQ completion) to learn the owning reqId, then
// waits for a WriteStdin call before resubmitting. If stdin is still
// empty by the time the worker re-runs readOne, it simply re-suspends
// and the cycle repeats — the protocol is idempotent by construction.
func (h *Host) ioWakePump(ctx context.Context) {
	for {
		nodeID, err := h.io.StdinWait.Wait(ctx)
		if err != nil {
			return
		}
		h.handleIOBlocked(ctx, nodeID)
	}
}

func (h *Host) handleIOBlocked(ctx context.Context, nodeID arena.ID) {
	reqID, err := h.awaitReqIDFor(ctx, nodeID)
	if err != nil {
		return
	}

	select {
	case <-h.dataWritten:
	case <-ctx.Done():
		return
	}

	if err := h.submitWithBackoff(ctx, nodeID, uint32(reqID), 0); err != nil {
		h.resolve(reqID, Result{Err: err})
	}
}

// awaitReqIDFor resolves the race between a suspension's stdinWait
// publish and its ordinary CQ completion, both posted by the same
// worker call in either order.
func (h *Host) awaitReqIDFor(ctx context.Context, nodeID arena.ID) (uint64, error) {
	for {
		h.mu.Lock()
		reqID, ok := h.ioWaitByNode[nodeID]
		if ok {
			delete(h.ioWaitByNode, nodeID)
		}
		h.mu.Unlock()
		if ok {
			return reqID, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

// WriteStdin is the Host-side producer for the optional stdin ring; it
// wakes any reducer suspended on readOne.
func (h *Host) WriteStdin(ctx context.Context, data []byte) error {
	if h.io == nil {
		return ErrIOError
	}
	if err := h.io.WriteStdin(ctx, data); err != nil {
		return err
	}
	select {
	case h.dataWritten <- struct{}{}:
	default:
	}
	return nil
}

// ReadStdout drains up to max bytes written by writeOne.
func (h *Host) ReadStdout(max int) ([]byte, error) {
	if h.io == nil {
		return nil, ErrIOError
	}
	return h.io.ReadStdout(max), nil
}
