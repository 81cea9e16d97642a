package ring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ski-arena/ski-arena/arena"
)

func TestRingTryPushTryPopFIFO(t *testing.T) {
	r := NewRing[int](4)
	for i := 0; i < 4; i++ {
		if !r.TryPush(i) {
			t.Fatalf("TryPush(%d) failed unexpectedly", i)
		}
	}
	if r.TryPush(99) {
		t.Fatalf("expected TryPush to fail once the ring is full")
	}
	for i := 0; i < 4; i++ {
		v, ok := r.TryPop()
		if !ok || v != i {
			t.Fatalf("expected FIFO order %d, got %d ok=%v", i, v, ok)
		}
	}
	if _, ok := r.TryPop(); ok {
		t.Fatalf("expected TryPop to fail on an empty ring")
	}
}

func TestRingCapacityRoundsToPow2(t *testing.T) {
	r := NewRing[int](5)
	if r.Cap() != 8 {
		t.Fatalf("expected capacity 5 to round up to 8, got %d", r.Cap())
	}
}

// TestRingWrapDeliversEveryEntryExactlyOnce exercises P8: submitting
// strictly more than `entries` requests over the ring's lifetime still
// delivers every completion exactly once.
func TestRingWrapDeliversEveryEntryExactlyOnce(t *testing.T) {
	r := NewRing[int](8)
	const total = 8 * 5 // well over 4x capacity

	var wg sync.WaitGroup
	wg.Add(1)
	seen := make([]bool, total)
	go func() {
		defer wg.Done()
		for n := 0; n < total; n++ {
			v, err := r.Wait(context.Background())
			if err != nil {
				t.Errorf("Wait: %v", err)
				return
			}
			if v < 0 || v >= total || seen[v] {
				t.Errorf("unexpected or duplicate value %d", v)
				return
			}
			seen[v] = true
		}
	}()

	for n := 0; n < total; n++ {
		if err := r.Push(context.Background(), n); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	wg.Wait()

	for i, ok := range seen {
		if !ok {
			t.Fatalf("value %d was never delivered", i)
		}
	}
}

func TestRingConcurrentProducersConsumers(t *testing.T) {
	r := NewRing[int](16)
	const perProducer = 200
	const producers = 4
	total := perProducer * producers

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if err := r.Push(context.Background(), base*perProducer+i); err != nil {
					t.Errorf("Push: %v", err)
					return
				}
			}
		}(p)
	}

	results := make(chan int, total)
	for c := 0; c < producers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < total/producers; i++ {
				v, err := r.Wait(context.Background())
				if err != nil {
					t.Errorf("Wait: %v", err)
					return
				}
				results <- v
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int]bool, total)
	for v := range results {
		if seen[v] {
			t.Fatalf("value %d delivered more than once", v)
		}
		seen[v] = true
	}
	if len(seen) != total {
		t.Fatalf("expected %d distinct values, got %d", total, len(seen))
	}
}

func TestRingPushBlocksUntilSpace(t *testing.T) {
	r := NewRing[int](2)
	if !r.TryPush(1) || !r.TryPush(2) {
		t.Fatalf("expected ring to fill")
	}

	done := make(chan error, 1)
	go func() {
		done <- r.Push(context.Background(), 3)
	}()

	select {
	case <-done:
		t.Fatalf("expected Push to block while the ring is full")
	case <-time.After(20 * time.Millisecond):
	}

	if _, ok := r.TryPop(); !ok {
		t.Fatalf("expected a value to drain")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Push: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected Push to unblock once space freed up")
	}
}

func TestRingWaitRespectsContextCancellation(t *testing.T) {
	r := NewRing[int](2)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Wait(ctx)
	if err == nil {
		t.Fatalf("expected Wait to return once ctx is done on an empty ring")
	}
}

func TestSQCQPackUnpackRoundTrip(t *testing.T) {
	packed := Pack(42, arena.ID(7))
	reqID, nodeID := Unpack(packed)
	if reqID != 42 || nodeID != 7 {
		t.Fatalf("round trip mismatch: reqID=%d nodeID=%d", reqID, nodeID)
	}
}

func TestHostSubmitNotConnected(t *testing.T) {
	sq := NewSQ(4)
	if rc := HostSubmit(sq, false, 1, 1, 10); rc != SubmitNotConnected {
		t.Fatalf("expected SubmitNotConnected, got %d", rc)
	}
}

func TestHostSubmitFullThenDrain(t *testing.T) {
	sq := NewSQ(2)
	if rc := HostSubmit(sq, true, 1, 1, 10); rc != SubmitOK {
		t.Fatalf("expected SubmitOK, got %d", rc)
	}
	if rc := HostSubmit(sq, true, 2, 2, 10); rc != SubmitOK {
		t.Fatalf("expected SubmitOK, got %d", rc)
	}
	if rc := HostSubmit(sq, true, 3, 3, 10); rc != SubmitFull {
		t.Fatalf("expected SubmitFull, got %d", rc)
	}
	if _, ok := sq.TryPop(); !ok {
		t.Fatalf("expected an entry to drain")
	}
	if rc := HostSubmit(sq, true, 3, 3, 10); rc != SubmitOK {
		t.Fatalf("expected SubmitOK after drain, got %d", rc)
	}
}

func TestCqPostAndHostPull(t *testing.T) {
	cq := NewCQ(4)
	if err := CqPost(context.Background(), cq, 9, arena.ID(123)); err != nil {
		t.Fatalf("CqPost: %v", err)
	}
	packed, ok := HostPull(cq)
	if !ok {
		t.Fatalf("expected an entry")
	}
	reqID, nodeID := Unpack(packed)
	if reqID != 9 || nodeID != 123 {
		t.Fatalf("unexpected completion reqID=%d nodeID=%d", reqID, nodeID)
	}
	if _, ok := HostPull(cq); ok {
		t.Fatalf("expected CQ to be empty after drain")
	}
}

func TestIORingsRoundTrip(t *testing.T) {
	io := NewIORings(8)
	ports := io.WorkerPorts()

	if _, ok := ports.TryReadStdin(); ok {
		t.Fatalf("expected empty stdin to report no byte")
	}

	if err := io.WriteStdin(context.Background(), []byte("hi")); err != nil {
		t.Fatalf("WriteStdin: %v", err)
	}
	b, ok := ports.TryReadStdin()
	if !ok || b != 'h' {
		t.Fatalf("expected 'h', got %v ok=%v", b, ok)
	}
	b, ok = ports.TryReadStdin()
	if !ok || b != 'i' {
		t.Fatalf("expected 'i', got %v ok=%v", b, ok)
	}

	if !ports.TryWriteStdout('o') || !ports.TryWriteStdout('k') {
		t.Fatalf("expected writes to stdout to succeed")
	}
	out := io.ReadStdout(8)
	if string(out) != "ok" {
		t.Fatalf("expected 'ok', got %q", out)
	}

	if err := io.PostStdinWait(context.Background(), arena.ID(5)); err != nil {
		t.Fatalf("PostStdinWait: %v", err)
	}
	id, ok := io.PullStdinWait()
	if !ok || id != 5 {
		t.Fatalf("expected suspension id 5, got %d ok=%v", id, ok)
	}
}
