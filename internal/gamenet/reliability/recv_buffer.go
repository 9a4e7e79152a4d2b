package reliability

import (
	"sync"

	"github.com/duskforge/gamenet/internal/gamenet/protocol"
)

// SkipTimeout is the per-gap head-of-line bound (spec.md §4.3, §6).
const SkipTimeout = 200 // milliseconds

// DefaultRecvWindow bounds the reorder buffer the same way the sender's
// window bounds the maximum forward gap it can open (spec.md §5).
const DefaultRecvWindow = 64

// Delivered is one reliable delivery handed to the caller in order.
type Delivered struct {
	Seq     uint16
	TSMs    uint32
	Payload []byte
}

type reorderEntry struct {
	payload    []byte
	tsMs       uint32
	receivedMs uint64
}

// ReceiveBuffer is the receive-side reliability engine: deduplication,
// out-of-order buffering, SACK generation, and the skip-deadline policy
// (spec.md §4.3). One mutex protects next_expected, the reorder buffer,
// and skip_deadline, per spec.md §5.
type ReceiveBuffer struct {
	mu sync.Mutex

	window       uint32
	nextExpected uint16
	buffer       map[uint16]*reorderEntry
	skipDeadline uint64 // 0 == unset
	skipTimeoutMs uint64
	sackBitmapBytes int

	stats Stats2
}

// Stats2 holds cumulative receive-side statistics (named distinctly from
// the send side's Stats to keep both Statistics() call sites unambiguous
// about which buffer they snapshot).
type Stats2 struct {
	TotalReceived uint64
	Duplicates    uint64
	OutOfOrder    uint64
	Skipped       uint64
}

// NewReceiveBuffer creates a receive buffer with the given reorder
// window, skip-deadline timeout, and SACK bitmap width (in sequences;
// 0 falls back to protocol.MaxSACKBitmapBytes worth of coverage).
func NewReceiveBuffer(window uint32, skipTimeoutMs uint64, sackWidth int) *ReceiveBuffer {
	if window == 0 {
		window = DefaultRecvWindow
	}
	if skipTimeoutMs == 0 {
		skipTimeoutMs = SkipTimeout
	}
	return &ReceiveBuffer{
		window:          window,
		buffer:          make(map[uint16]*reorderEntry),
		skipTimeoutMs:   skipTimeoutMs,
		sackBitmapBytes: protocol.SACKBitmapBytes(sackWidth),
	}
}

// OnData processes one inbound RELIABLE_DATA frame. It returns the
// in-order deliveries unlocked by this arrival (possibly empty), plus the
// cum_ack/bitmap for the SACK the caller must send in reply — spec.md
// §4.3: "every data reception generates a SACK: duplicates too".
func (rb *ReceiveBuffer) OnData(seq uint16, tsMs uint32, payload []byte, nowMs uint64) (delivered []Delivered, cumAck uint16, bitmap []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	switch {
	case protocol.SeqLess(seq, rb.nextExpected):
		// Already delivered; drop, but still SACK.
		rb.stats.Duplicates++

	case seq == rb.nextExpected:
		delivered = append(delivered, Delivered{Seq: seq, TSMs: tsMs, Payload: payload})
		rb.nextExpected++
		rb.stats.TotalReceived++
		delivered = append(delivered, rb.drainContiguousLocked()...)
		if len(rb.buffer) == 0 {
			rb.skipDeadline = 0
		}

	default:
		if _, exists := rb.buffer[seq]; exists {
			rb.stats.Duplicates++
		} else if gap := seq - rb.nextExpected; uint32(gap) >= rb.window {
			// Outside the receive window (spec.md §5 resource bound); the
			// sender's own window admission should prevent this gap from
			// opening, so treat it as an already-seen duplicate rather
			// than growing the buffer unbounded.
			rb.stats.Duplicates++
		} else {
			rb.buffer[seq] = &reorderEntry{payload: payload, tsMs: tsMs, receivedMs: nowMs}
			rb.stats.OutOfOrder++
			rb.stats.TotalReceived++
		}
		if rb.skipDeadline == 0 {
			rb.skipDeadline = nowMs + rb.skipTimeoutMs
		}
	}

	delivered = append(delivered, rb.maybeSkipLocked(nowMs)...)

	cumAck = rb.nextExpected - 1
	acked := make(map[uint16]struct{}, len(rb.buffer)+1)
	for s := range rb.buffer {
		acked[s] = struct{}{}
	}
	acked[seq] = struct{}{}
	bitmap = protocol.EncodeSACKBitmap(cumAck, acked, rb.sackBitmapBytes)

	return delivered, cumAck, bitmap
}

// Tick runs the skip-deadline policy on its own, for the idle tick the
// recv loop generates every SOCK_RECV_TIMEOUT_MS even with no traffic
// (spec.md §4.1, §4.3).
func (rb *ReceiveBuffer) Tick(nowMs uint64) []Delivered {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.maybeSkipLocked(nowMs)
}

// maybeSkipLocked advances next_expected past a missing sequence once its
// skip deadline has passed, then attempts contiguous delivery. Caller
// must hold rb.mu.
func (rb *ReceiveBuffer) maybeSkipLocked(nowMs uint64) []Delivered {
	if rb.skipDeadline == 0 || nowMs < rb.skipDeadline {
		return nil
	}
	if _, present := rb.buffer[rb.nextExpected]; present {
		// Next expected has actually arrived; normal delivery path handles it.
		return nil
	}

	rb.nextExpected++
	rb.stats.Skipped++

	delivered := rb.drainContiguousLocked()

	if len(rb.buffer) == 0 {
		rb.skipDeadline = 0
	} else {
		rb.skipDeadline = nowMs + rb.skipTimeoutMs
	}
	return delivered
}

// drainContiguousLocked pops every buffered entry starting at
// next_expected while the run stays contiguous. Caller must hold rb.mu.
func (rb *ReceiveBuffer) drainContiguousLocked() []Delivered {
	var out []Delivered
	for {
		e, ok := rb.buffer[rb.nextExpected]
		if !ok {
			break
		}
		out = append(out, Delivered{Seq: rb.nextExpected, TSMs: e.tsMs, Payload: e.payload})
		delete(rb.buffer, rb.nextExpected)
		rb.nextExpected++
		rb.stats.TotalReceived++
	}
	return out
}

// NextExpected returns the lowest reliable sequence not yet delivered.
func (rb *ReceiveBuffer) NextExpected() uint16 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.nextExpected
}

// BufferedCount returns the number of out-of-order packets currently held.
func (rb *ReceiveBuffer) BufferedCount() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.buffer)
}

// Statistics returns a snapshot of receive-side counters.
func (rb *ReceiveBuffer) Statistics() map[string]uint64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return map[string]uint64{
		"total_received": rb.stats.TotalReceived,
		"duplicates":     rb.stats.Duplicates,
		"out_of_order":   rb.stats.OutOfOrder,
		"skipped":        rb.stats.Skipped,
		"buffered":       uint64(len(rb.buffer)),
	}
}
