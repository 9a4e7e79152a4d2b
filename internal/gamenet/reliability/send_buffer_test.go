package reliability

import (
	"sync"
	"testing"
	"time"

	"github.com/duskforge/gamenet/internal/gamenet/clock"
	"github.com/duskforge/gamenet/internal/gamenet/protocol"
)

func newTestSendBuffer(t *testing.T, window uint32) (*SendBuffer, *clock.Service, *recordingEmitter) {
	t.Helper()
	timers := clock.NewService()
	t.Cleanup(timers.Stop)
	emitter := &recordingEmitter{}
	sb := NewSendBuffer(window, 0, timers, emitter.emit, 0, 0, 0)
	return sb, timers, emitter
}

type recordingEmitter struct {
	mu     sync.Mutex
	frames []*protocol.Frame
}

func (e *recordingEmitter) emit(f *protocol.Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frames = append(e.frames, f)
	return nil
}

func (e *recordingEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.frames)
}

func TestSendBufferAssignsSequentialSeqAndSendsImmediatelyWithinWindow(t *testing.T) {
	sb, _, emitter := newTestSendBuffer(t, 4)

	for i := 0; i < 3; i++ {
		if err := sb.Send([]byte("x")); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if emitter.count() != 3 {
		t.Fatalf("expected 3 frames emitted, got %d", emitter.count())
	}
	if sb.InflightCount() != 3 {
		t.Fatalf("InflightCount = %d, want 3", sb.InflightCount())
	}
}

func TestSendBufferQueuesBeyondWindow(t *testing.T) {
	sb, _, emitter := newTestSendBuffer(t, 2)

	for i := 0; i < 4; i++ {
		if err := sb.Send([]byte("x")); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if sb.InflightCount() != 2 {
		t.Fatalf("InflightCount = %d, want 2 (window-limited)", sb.InflightCount())
	}
	if emitter.count() != 2 {
		t.Fatalf("expected only 2 frames emitted immediately, got %d", emitter.count())
	}
	if got := sb.Statistics()["pending"]; got != 2 {
		t.Fatalf("pending = %d, want 2", got)
	}
}

func TestSendBufferHandleSACKFreesWindowAndDrainsPending(t *testing.T) {
	sb, _, emitter := newTestSendBuffer(t, 2)

	sb.Send([]byte("a")) // seq 0
	sb.Send([]byte("b")) // seq 1
	sb.Send([]byte("c")) // queued

	sb.HandleSACK(0, nil) // cumAck=0 acks seq 0 only

	if sb.InflightCount() != 2 {
		t.Fatalf("InflightCount = %d, want 2 after draining one pending slot", sb.InflightCount())
	}
	if emitter.count() != 3 {
		t.Fatalf("expected pending payload 'c' to be sent, emitter count = %d", emitter.count())
	}
	if got := sb.Statistics()["pending"]; got != 0 {
		t.Fatalf("pending = %d, want 0", got)
	}
}

func TestSendBufferPendingQueueCapBackpressure(t *testing.T) {
	timers := clock.NewService()
	t.Cleanup(timers.Stop)
	emitter := &recordingEmitter{}
	sb := NewSendBuffer(1, 1, timers, emitter.emit, 0, 0, 0)

	if err := sb.Send([]byte("a")); err != nil { // fills window
		t.Fatalf("Send a: %v", err)
	}
	if err := sb.Send([]byte("b")); err != nil { // fills pending cap
		t.Fatalf("Send b: %v", err)
	}
	if err := sb.Send([]byte("c")); err != ErrPendingQueueFull {
		t.Fatalf("expected ErrPendingQueueFull, got %v", err)
	}
}

func TestSendBufferTimerExpiryRetransmits(t *testing.T) {
	timers := clock.NewService()
	t.Cleanup(timers.Stop)
	emitter := &recordingEmitter{}
	sb := NewSendBuffer(4, 0, timers, emitter.emit, 0, 0, 0)
	sb.rto = 20 * time.Millisecond

	sb.Send([]byte("x")) // seq 0, one emission now

	deadline := time.After(2 * time.Second)
	for emitter.count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for retransmit, emitted=%d", emitter.count())
		case <-time.After(5 * time.Millisecond):
		}
	}

	if got := sb.Statistics()["retransmits"]; got < 1 {
		t.Fatalf("expected at least 1 retransmit recorded, got %d", got)
	}
}

func TestSendBufferAbandonsAfterMaxRetries(t *testing.T) {
	timers := clock.NewService()
	t.Cleanup(timers.Stop)
	emitter := &recordingEmitter{}
	sb := NewSendBuffer(1, 0, timers, emitter.emit, 0, 0, 0)
	sb.rto = 5 * time.Millisecond

	sb.Send([]byte("x")) // seq 0, never acked

	deadline := time.After(5 * time.Second)
	for sb.InflightCount() != 0 {
		select {
		case <-deadline:
			t.Fatalf("seq never abandoned, inflight=%d stats=%v", sb.InflightCount(), sb.Statistics())
		case <-time.After(10 * time.Millisecond):
		}
	}

	if got := sb.Statistics()["abandoned"]; got != 1 {
		t.Fatalf("abandoned = %d, want 1", got)
	}
}
