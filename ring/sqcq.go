package ring

import (
	"context"

	"github.com/ski-arena/ski-arena/arena"
)

// SQEntry is one submission-queue slot: a job for a worker to run
// reduce (or resume) on.
type SQEntry struct {
	NodeID   arena.ID
	ReqID    uint32
	MaxSteps uint32
}

// SQ is the Host->Worker submission queue.
type SQ = Ring[SQEntry]

// CQ is the Worker->Host completion queue. Each entry is a packed
// (reqID, resultNodeID) pair (spec §4.3 wire format); EmptyPacked is
// the sentinel hostPull returns when the queue looked empty.
type CQ = Ring[uint64]

// EmptyPacked is the CQ sentinel for "no entry" (spec §6 "Sentinels").
const EmptyPacked uint64 = 0xFFFFFFFFFFFFFFFF

// NewSQ and NewCQ construct the two rings with the given power-of-two
// capacity.
func NewSQ(capacity uint32) *SQ { return NewRing[SQEntry](capacity) }
func NewCQ(capacity uint32) *CQ { return NewRing[uint64](capacity) }

// Pack encodes a completion as the wire format's packed uint64:
// (reqID << 32) | resultNodeID.
func Pack(reqID uint32, resultNodeID arena.ID) uint64 {
	return uint64(reqID)<<32 | uint64(uint32(resultNodeID))
}

// Unpack decodes a packed completion.
func Unpack(packed uint64) (reqID uint32, resultNodeID arena.ID) {
	return uint32(packed >> 32), arena.ID(uint32(packed))
}

// Submit return codes (spec §4.3 hostSubmit).
const (
	SubmitOK           = 0
	SubmitFull         = 1
	SubmitNotConnected = 2
)

// HostSubmit is the Host's non-blocking producer on sq. connected must
// be supplied by the caller (package worker tracks whether any worker
// has completed the connectArena handshake); a disconnected submission
// fails fast with SubmitNotConnected rather than queuing work no
// worker will ever drain.
func HostSubmit(sq *SQ, connected bool, nodeID arena.ID, reqID uint32, maxSteps uint32) int {
	if !connected {
		return SubmitNotConnected
	}
	if sq.TryPush(SQEntry{NodeID: nodeID, ReqID: reqID, MaxSteps: maxSteps}) {
		return SubmitOK
	}
	return SubmitFull
}

// HostPull is the Host's non-blocking consumer on cq. When cq is empty
// it returns (EmptyPacked, false).
func HostPull(cq *CQ) (packed uint64, ok bool) {
	packed, ok = cq.TryPop()
	if !ok {
		return EmptyPacked, false
	}
	return packed, true
}

// CqPost is the Worker's completion/suspension publish (spec §4.5
// cqPost). The caller packs reqID with whichever node id is being
// reported — a final result or a Continuation/Suspension signal. It
// blocks until the Host's poller has drained room for it: every
// completion must eventually surface (spec P7), and with the Host
// continuously draining CQ on its poller loop, a worker blocking here
// briefly is preferable to silently dropping a completion.
func CqPost(ctx context.Context, cq *CQ, reqID uint32, nodeID arena.ID) error {
	return cq.Push(ctx, Pack(reqID, nodeID))
}
