// Package host implements the request-facing side of the evaluator:
// arena/ring/pool lifecycle, the synchronous and asynchronous reduce
// entrypoints, and the request tracker the poller (poller.go) resolves
// completions against.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ski-arena/ski-arena/arena"
	"github.com/ski-arena/ski-arena/reducer"
	"github.com/ski-arena/ski-arena/ring"
	"github.com/ski-arena/ski-arena/worker"
)

// Defaults applied by New to any Config field left at its zero value.
const (
	// DefaultMaxResubmits bounds how many times the poller will
	// automatically resubmit a suspended (non-IO) request before
	// giving up with ErrResubmissionLimitExceeded.
	DefaultMaxResubmits = 10

	// DefaultSliceEventBudget caps how many CQ completions the poller
	// drains in one slice before yielding, so a busy CQ never starves
	// the rest of the cooperative event loop.
	DefaultSliceEventBudget = 4096

	// DefaultSliceTimeBudget caps how long the poller spends in one
	// slice before yielding, independent of the event count.
	DefaultSliceTimeBudget = 8 * time.Millisecond
)

// Sentinel errors surfaced to callers (spec §7 error taxonomy).
var (
	ErrSubmitNotConnected        = errors.New("host: submit failed, no worker has connected")
	ErrResubmissionLimitExceeded = errors.New("host: resubmission limit exceeded")
	ErrAborted                   = errors.New("host: aborted")
	ErrWorkerCrashed             = errors.New("host: worker crashed")
	ErrIOError                   = errors.New("host: IO rings were not configured (IORingSize == 0)")
	ErrInvalidConfig             = errors.New("host: invalid config")
)

// Config configures a new Host.
type Config struct {
	Arena       arena.Config
	RingSize    uint32 // SQ/CQ capacity, rounded up to a power of two
	IORingSize  uint32 // 0 disables the IO rings (readOne/writeOne unsupported)
	WorkerCount int    // <= 0 uses worker.DefaultPoolSize()
	Logger      *logrus.Logger

	// MaxResubmits bounds how many times the poller will automatically
	// resubmit a suspended (non-IO) request before giving up with
	// ErrResubmissionLimitExceeded. <= 0 uses DefaultMaxResubmits.
	MaxResubmits int

	// SliceEventBudget caps how many CQ completions the poller drains
	// per slice before yielding to the rest of the cooperative event
	// loop. <= 0 uses DefaultSliceEventBudget.
	SliceEventBudget int

	// SliceEventBudget's time-based counterpart: caps how long the
	// poller spends in one slice regardless of event count. <= 0 uses
	// DefaultSliceTimeBudget.
	SliceBudget time.Duration
}

// validate checks the poller tunables after New has applied defaults
// to any of them left at zero or below.
func (c Config) validate() error {
	if c.MaxResubmits <= 0 {
		return ErrInvalidConfig
	}
	if c.SliceEventBudget <= 0 {
		return ErrInvalidConfig
	}
	if c.SliceBudget <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// Result is the outcome of a reduction: the final node id, or an error
// (ResubmissionLimitExceeded, WorkerCrashed, Aborted, ...).
type Result struct {
	NodeID arena.ID
	Err    error
}

// Future is the handle returned by SubmitAsync.
type Future struct {
	ch <-chan Result
}

// Wait blocks for the request's outcome or ctx's cancellation.
func (f *Future) Wait(ctx context.Context) (arena.ID, error) {
	select {
	case r, ok := <-f.ch:
		if !ok {
			return 0, ErrAborted
		}
		return r.NodeID, r.Err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

type trackerEntry struct {
	ch            chan Result
	resubmitCount int
}

// Host owns one arena, one worker pool, and the SQ/CQ/IO rings between
// them. It is the "single-threaded cooperative event loop" of spec §5:
// all of Host's own bookkeeping is confined to the poller goroutine and
// the methods below, which only ever touch it through the mutex.
type Host struct {
	a     *arena.Arena
	pool  *worker.Pool
	sq    *ring.SQ
	cq    *ring.CQ
	io    *ring.IORings
	ports reducer.IOPorts
	log   *logrus.Logger
	met   *metrics

	maxResubmits     int
	sliceEventBudget int
	sliceBudget      time.Duration

	mu           sync.Mutex
	nextReqID    uint64
	tracker      map[uint64]*trackerEntry
	stash        map[uint64]Result
	ioWaitByNode map[arena.ID]uint64

	dataWritten chan struct{}

	aborted  atomic.Bool
	abortErr atomic.Pointer[error]

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Host: an arena, SQ/CQ (and optionally IO rings), and a
// worker pool sized per cfg. The pool is not started until Start.
func New(cfg Config) (*Host, error) {
	if cfg.MaxResubmits <= 0 {
		cfg.MaxResubmits = DefaultMaxResubmits
	}
	if cfg.SliceEventBudget <= 0 {
		cfg.SliceEventBudget = DefaultSliceEventBudget
	}
	if cfg.SliceBudget <= 0 {
		cfg.SliceBudget = DefaultSliceTimeBudget
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = newDefaultLogger()
	}
	if cfg.Arena.Logger == nil {
		cfg.Arena.Logger = logger
	}

	a, err := arena.New(cfg.Arena)
	if err != nil {
		return nil, fmt.Errorf("host: arena.New: %w", err)
	}

	ringSize := cfg.RingSize
	if ringSize == 0 {
		ringSize = 1024
	}
	sq := ring.NewSQ(ringSize)
	cq := ring.NewCQ(ringSize)

	var io *ring.IORings
	var ports reducer.IOPorts
	if cfg.IORingSize > 0 {
		io = ring.NewIORings(cfg.IORingSize)
		ports = io.WorkerPorts()
	}

	h := &Host{
		a:                a,
		sq:               sq,
		cq:               cq,
		io:               io,
		ports:            ports,
		log:              logger,
		met:              newMetrics(),
		maxResubmits:     cfg.MaxResubmits,
		sliceEventBudget: cfg.SliceEventBudget,
		sliceBudget:      cfg.SliceBudget,
		tracker:          make(map[uint64]*trackerEntry),
		stash:            make(map[uint64]Result),
		ioWaitByNode:     make(map[arena.ID]uint64),
		dataWritten:      make(chan struct{}, 1),
	}
	h.pool = worker.New(a, ports, sq, cq, io, cfg.WorkerCount)
	return h, nil
}

// Arena exposes the underlying arena for package marshal and dumpArena
// consumers; Host itself never interprets tree contents.
func (h *Host) Arena() *arena.Arena { return h.a }

// Start spawns the worker pool and the poller/IO-wake goroutines. It
// blocks until every worker has completed its ready/connectArena
// handshake.
func (h *Host) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	if err := h.pool.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("host: pool.Start: %w", err)
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.pollerLoop(runCtx)
	}()

	if h.io != nil {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.ioWakePump(runCtx)
		}()
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.pool.Wait(); err != nil {
			h.log.WithError(err).Error("worker crashed")
			h.abort(fmt.Errorf("%w: %v", ErrWorkerCrashed, err))
		}
	}()

	h.log.Info("host started")
	return nil
}

// Close cancels the poller/worker goroutines and waits for them to
// exit. It does not reject pending requests (use Abort for that).
func (h *Host) Close() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
}

// Abort implements spec §4.4 "System-level abort": it marks the Host
// dead, rejects every pending request with err, and stops the poller
// and worker pool. No further CQ entries are processed; stashed
// completions are discarded.
func (h *Host) Abort(err error) {
	if !h.aborted.CompareAndSwap(false, true) {
		return
	}
	wrapped := fmt.Errorf("%w: %v", ErrAborted, err)
	h.abortErr.Store(&wrapped)
	h.log.WithError(err).Error("host aborted")

	h.mu.Lock()
	pending := h.tracker
	h.tracker = make(map[uint64]*trackerEntry)
	h.stash = make(map[uint64]Result)
	h.mu.Unlock()

	for _, tr := range pending {
		tr.ch <- Result{Err: wrapped}
		close(tr.ch)
	}

	if h.cancel != nil {
		h.cancel()
	}
}

func (h *Host) abort(err error) { h.Abort(err) }

// isAborted reports whether the Host has entered the dead state.
func (h *Host) isAborted() bool { return h.aborted.Load() }

// ReduceSync is the synchronous, same-thread reduce path (spec §6
// reduceSync): it bypasses the rings and worker pool entirely. id may
// be a Suspension returned by an earlier ReduceSync, which is resumed
// with maxSteps as its budget.
func (h *Host) ReduceSync(id arena.ID, maxSteps uint32) (arena.ID, error) {
	resultID, _, err := reducer.Resume(h.a, h.ports, id, maxSteps)
	if err != nil {
		return 0, err
	}
	return resultID, nil
}

// SubmitAsync is the parallel path (spec §6 submitAsync): it registers
// a tracker entry, submits to SQ (retrying on SubmitFull with a
// microtask/macrotask-style backoff per spec §4.3), and returns a
// Future the caller waits on.
func (h *Host) SubmitAsync(ctx context.Context, id arena.ID, maxSteps uint32) (*Future, error) {
	if h.isAborted() {
		return nil, ErrAborted
	}

	reqID := atomic.AddUint64(&h.nextReqID, 1)
	entry := &trackerEntry{ch: make(chan Result, 1)}

	h.mu.Lock()
	h.tracker[reqID] = entry
	h.mu.Unlock()

	if err := h.submitWithBackoff(ctx, id, uint32(reqID), maxSteps); err != nil {
		h.mu.Lock()
		delete(h.tracker, reqID)
		h.mu.Unlock()
		return nil, err
	}

	h.met.requestsSubmitted.Inc()
	return &Future{ch: entry.ch}, nil
}

// submitWithBackoff is the Host's retry loop over hostSubmit's `full`
// return: first a handful of scheduler yields (the "microtask" fast
// path), then short sleeps (the "macrotask" path), bounded by ctx.
func (h *Host) submitWithBackoff(ctx context.Context, id arena.ID, reqID uint32, maxSteps uint32) error {
	const microtaskAttempts = 64
	for attempt := 0; ; attempt++ {
		rc := ring.HostSubmit(h.sq, h.pool.Connected(), id, reqID, maxSteps)
		switch rc {
		case ring.SubmitOK:
			return nil
		case ring.SubmitNotConnected:
			return ErrSubmitNotConnected
		case ring.SubmitFull:
			if err := yieldBackoff(ctx, attempt, microtaskAttempts); err != nil {
				return err
			}
		default:
			return fmt.Errorf("host: unexpected hostSubmit rc %d", rc)
		}
	}
}

func (h *Host) trackerFor(reqID uint64) (*trackerEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tr, ok := h.tracker[reqID]
	return tr, ok
}

func (h *Host) resolve(reqID uint64, res Result) {
	h.mu.Lock()
	tr, ok := h.tracker[reqID]
	if ok {
		delete(h.tracker, reqID)
	} else {
		h.stash[reqID] = res
	}
	h.mu.Unlock()

	if ok {
		tr.ch <- res
		close(tr.ch)
	}
}
