package ring

import (
	"context"

	"github.com/ski-arena/ski-arena/arena"
)

// ByteRing is a ring whose payload is a single byte (stdin/stdout,
// spec §6).
type ByteRing = Ring[byte]

func NewByteRing(capacity uint32) *ByteRing { return NewRing[byte](capacity) }

// IORings bundles the three optional I/O rings (spec §6 "IO rings"):
// stdin (Host producer, Worker consumer), stdout (Worker producer,
// Host consumer), and stdinWait (Worker producer, Host consumer,
// carrying the node id of a reducer suspended on empty stdin).
type IORings struct {
	Stdin     *ByteRing
	Stdout    *ByteRing
	StdinWait *Ring[arena.ID]
}

// NewIORings allocates all three rings at the given capacity.
func NewIORings(capacity uint32) *IORings {
	return &IORings{
		Stdin:     NewByteRing(capacity),
		Stdout:    NewByteRing(capacity),
		StdinWait: NewRing[arena.ID](capacity),
	}
}

// WorkerPorts adapts IORings to package reducer's IOPorts for
// worker-side use: a blocked readOne/writeOne never blocks the ring
// directly, it reports back to Step as a suspension.
func (io *IORings) WorkerPorts() *WorkerPorts { return &WorkerPorts{rings: io} }

// WorkerPorts implements reducer.IOPorts over a set of IORings.
type WorkerPorts struct {
	rings *IORings
}

func (p *WorkerPorts) TryReadStdin() (byte, bool)     { return p.rings.Stdin.TryPop() }
func (p *WorkerPorts) TryWriteStdout(b byte) (ok bool) { return p.rings.Stdout.TryPush(b) }

// WriteStdin is the Host-side producer for stdin (spec §6
// writeStdin(bytes)); it blocks only if the ring is momentarily full.
func (io *IORings) WriteStdin(ctx context.Context, data []byte) error {
	for _, b := range data {
		if err := io.Stdin.Push(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

// ReadStdout drains up to max bytes from stdout without blocking
// (spec §6 readStdout(max)).
func (io *IORings) ReadStdout(max int) []byte {
	out := make([]byte, 0, max)
	for len(out) < max {
		b, ok := io.Stdout.TryPop()
		if !ok {
			break
		}
		out = append(out, b)
	}
	return out
}

// PostStdinWait is the Worker-side publish when a reducer suspends on
// empty stdin: it registers suspensionID for the Host's IO-wake path.
func (io *IORings) PostStdinWait(ctx context.Context, suspensionID arena.ID) error {
	return io.StdinWait.Push(ctx, suspensionID)
}

// PullStdinWait is the Host-side non-blocking drain of stdinWait.
func (io *IORings) PullStdinWait() (arena.ID, bool) {
	return io.StdinWait.TryPop()
}
