// Package reliability implements the Selective-Repeat send-side engine
// and the reorder-buffer receive-side engine for gameNet's reliable
// channel (spec.md §4.2, §4.3).
package reliability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/duskforge/gamenet/internal/gamenet/clock"
	"github.com/duskforge/gamenet/internal/gamenet/protocol"
)

// tracer is the subset of telemetry.Tracer the send buffer needs to span
// a reliable sequence's lifetime. Kept as a local interface so this
// package does not import telemetry directly.
type tracer interface {
	StartReliableSend(ctx context.Context, seq uint16) (context.Context, trace.Span)
	EndAcked(span trace.Span, rtt time.Duration)
	EndAbandoned(span trace.Span, retries int)
}

// RTO bounds and defaults, per spec.md §4.2 / §6.
const (
	DefaultRTO = 500 * time.Millisecond
	MinRTO     = 100 * time.Millisecond
	MaxRTO     = 2000 * time.Millisecond

	// MaxRetries is the retransmit cap before a sequence is abandoned
	// and its slot skipped (spec.md §4.2 failure mode).
	MaxRetries = 16

	// DefaultWindow is the default number of inflight reliable packets.
	DefaultWindow = 64

	rtoAlpha = 0.125
	rtoBeta  = 0.25
)

// sendEntry is one live send-buffer entry (spec.md §3: "Reliable Send
// Buffer").
type sendEntry struct {
	frame        *protocol.Frame
	firstSentMs  uint64
	lastSentMs   uint64
	retries      int
	sentOnce     bool // true iff never retransmitted (Karn's rule eligibility)
	span         trace.Span
}

// SendBuffer is the send-side reliability engine: sequence assignment,
// window admission, the pending queue, per-packet timers, and RTO
// estimation. One mutex protects the whole tuple, per spec.md §5.
type SendBuffer struct {
	mu sync.Mutex

	timers *clock.Service
	emit   func(frame *protocol.Frame) error
	tracer tracer // optional; nil disables span tracking

	window  uint32
	nextRSN uint16
	entries map[uint16]*sendEntry

	pending      [][]byte
	pendingCap   int // 0 = unbounded

	srtt   time.Duration
	rttvar time.Duration
	rto    time.Duration

	minRTO     time.Duration
	maxRTO     time.Duration
	maxRetries int

	stats Stats
}

// Stats holds cumulative send-side statistics.
type Stats struct {
	TotalSent    uint64
	Retransmits  uint64
	Abandoned    uint64
	PendingDrops uint64
}

// ErrPendingQueueFull is returned by Send when the pending queue has a
// configured cap and is at capacity (spec.md §9 open question, resolved
// in DESIGN.md: a capped queue with a backpressure signal).
type fullQueueError struct{}

func (fullQueueError) Error() string { return "gamenet: pending send queue full" }

// ErrPendingQueueFull is the sentinel error for a capped, full pending queue.
var ErrPendingQueueFull error = fullQueueError{}

// NewSendBuffer creates a send buffer bound to the given window size,
// timer service, and frame-emission callback. minRTO, maxRTO, and
// maxRetries are the RTO clamp bounds and retransmit cap (spec.md §6's
// tunable RTOMinMs/RTOMaxMs/MaxRetries); a zero value for any of them
// falls back to the package default, the same way a zero window falls
// back to DefaultWindow.
func NewSendBuffer(window uint32, pendingCap int, timers *clock.Service, emit func(*protocol.Frame) error, minRTO, maxRTO time.Duration, maxRetries int) *SendBuffer {
	if window == 0 {
		window = DefaultWindow
	}
	if minRTO == 0 {
		minRTO = MinRTO
	}
	if maxRTO == 0 {
		maxRTO = MaxRTO
	}
	if maxRetries == 0 {
		maxRetries = MaxRetries
	}
	return &SendBuffer{
		timers:     timers,
		emit:       emit,
		window:     window,
		nextRSN:    0,
		entries:    make(map[uint16]*sendEntry),
		pendingCap: pendingCap,
		rto:        DefaultRTO,
		minRTO:     minRTO,
		maxRTO:     maxRTO,
		maxRetries: maxRetries,
	}
}

// SetTracer attaches an optional tracer used to span each reliable
// sequence's lifetime from first send to ack or abandonment. Passing nil
// (the zero value) disables span tracking.
func (sb *SendBuffer) SetTracer(t tracer) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.tracer = t
}

// InflightCount returns the number of unacknowledged sequences currently
// in the send buffer. Invariant (spec.md §8): equals len(send buffer) at
// every observation point, since both are read under the same lock.
func (sb *SendBuffer) InflightCount() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return len(sb.entries)
}

// Send assigns a sequence number and transmits immediately if the window
// has room, otherwise appends to the pending queue (spec.md §4.2).
func (sb *SendBuffer) Send(payload []byte) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if uint32(len(sb.entries)) < sb.window {
		sb.sendNowLocked(payload)
		return nil
	}

	if sb.pendingCap > 0 && len(sb.pending) >= sb.pendingCap {
		sb.stats.PendingDrops++
		return ErrPendingQueueFull
	}
	sb.pending = append(sb.pending, payload)
	return nil
}

// sendNowLocked assigns the next sequence number, builds and emits the
// frame, inserts the send-buffer entry, and schedules its retransmit
// timer. Caller must hold sb.mu.
func (sb *SendBuffer) sendNowLocked(payload []byte) {
	seq := sb.nextRSN
	sb.nextRSN++

	now := clock.NowMs()
	frame := &protocol.Frame{
		Chan:    protocol.ChanReliableData,
		Seq:     seq,
		TSMs:    uint32(now),
		Payload: payload,
	}

	entry := &sendEntry{
		frame:       frame,
		firstSentMs: now,
		lastSentMs:  now,
		sentOnce:    true,
	}
	if sb.tracer != nil {
		_, entry.span = sb.tracer.StartReliableSend(context.Background(), seq)
	}
	sb.entries[seq] = entry
	sb.stats.TotalSent++

	sb.timers.Schedule(seq, now+uint64(sb.rto.Milliseconds()), func() {
		sb.onTimerExpiry(seq)
	})

	_ = sb.emit(frame) // spec.md §4.1: a socket send error is logged by the caller, not retried here
}

// onTimerExpiry retransmits seq if it is still unacknowledged, or
// abandons it after MaxRetries (spec.md §4.2).
func (sb *SendBuffer) onTimerExpiry(seq uint16) {
	sb.mu.Lock()
	entry, ok := sb.entries[seq]
	if !ok {
		sb.mu.Unlock()
		return // acked (or already abandoned) — the cancelled timer is a no-op per clock.Service
	}

	if entry.retries >= sb.maxRetries {
		delete(sb.entries, seq)
		sb.stats.Abandoned++
		if sb.tracer != nil && entry.span != nil {
			sb.tracer.EndAbandoned(entry.span, entry.retries)
		}
		pending := sb.drainOnePendingLocked()
		sb.mu.Unlock()
		if pending != nil {
			sb.Send(pending)
		}
		return
	}

	now := clock.NowMs()
	entry.retries++
	entry.lastSentMs = now
	entry.sentOnce = false // retransmitted: no longer an unambiguous RTT sample (Karn's rule)
	entry.frame.TSMs = uint32(now)

	// RTO doubles per consecutive retry for at most four doublings (16x),
	// capped at maxRTO (spec.md §4.2).
	backoff := sb.rto * time.Duration(1<<uint(min(entry.retries, 4)))
	if backoff > sb.maxRTO {
		backoff = sb.maxRTO
	}
	sb.stats.Retransmits++

	frame := entry.frame
	sb.timers.Schedule(seq, now+uint64(backoff.Milliseconds()), func() {
		sb.onTimerExpiry(seq)
	})
	sb.mu.Unlock()

	_ = sb.emit(frame)
}

// drainOnePendingLocked pops the oldest pending payload, if any. Caller
// must hold sb.mu.
func (sb *SendBuffer) drainOnePendingLocked() []byte {
	if len(sb.pending) == 0 {
		return nil
	}
	p := sb.pending[0]
	sb.pending = sb.pending[1:]
	return p
}

// HandleSACK consumes a SACK frame: cancels timers and frees send-buffer
// slots for every acknowledged sequence, updates RTO per Karn's rule, and
// drains one pending payload per freed slot (spec.md §4.2).
func (sb *SendBuffer) HandleSACK(cumAck uint16, bitmap []byte) {
	extra := protocol.DecodeSACKBitmap(cumAck, bitmap)

	sb.mu.Lock()
	var toDrain int

	for seq, entry := range sb.entries {
		acked := protocol.SeqLeq(seq, cumAck)
		if !acked {
			if _, ok := extra[seq]; ok {
				acked = true
			}
		}
		if !acked {
			continue
		}

		sb.timers.Cancel(seq)
		delete(sb.entries, seq)
		toDrain++

		rtt := time.Duration(clock.NowMs()-entry.firstSentMs) * time.Millisecond
		if entry.sentOnce {
			sb.updateRTOLocked(rtt)
		}
		if sb.tracer != nil && entry.span != nil {
			sb.tracer.EndAcked(entry.span, rtt)
		}
	}

	var toResend [][]byte
	for i := 0; i < toDrain; i++ {
		if p := sb.drainOnePendingLocked(); p != nil {
			toResend = append(toResend, p)
		}
	}
	sb.mu.Unlock()

	for _, p := range toResend {
		sb.Send(p)
	}
}

// updateRTOLocked applies the RFC 6298-style smoothing from spec.md
// §4.2. Caller must hold sb.mu.
func (sb *SendBuffer) updateRTOLocked(rtt time.Duration) {
	if sb.srtt == 0 && sb.rttvar == 0 {
		sb.srtt = rtt
		sb.rttvar = rtt / 2
	} else {
		delta := sb.srtt - rtt
		if delta < 0 {
			delta = -delta
		}
		sb.rttvar = time.Duration((1-rtoBeta)*float64(sb.rttvar) + rtoBeta*float64(delta))
		sb.srtt = time.Duration((1-rtoAlpha)*float64(sb.srtt) + rtoAlpha*float64(rtt))
	}

	rto := sb.srtt + 4*sb.rttvar
	if rto < sb.minRTO {
		rto = sb.minRTO
	} else if rto > sb.maxRTO {
		rto = sb.maxRTO
	}
	sb.rto = rto
}

// RTO returns the current retransmission timeout estimate.
func (sb *SendBuffer) RTO() time.Duration {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.rto
}

// SRTT returns the current smoothed RTT estimate.
func (sb *SendBuffer) SRTT() time.Duration {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.srtt
}

// Statistics returns a snapshot of send-side counters.
func (sb *SendBuffer) Statistics() map[string]uint64 {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return map[string]uint64{
		"total_sent":   sb.stats.TotalSent,
		"retransmits":  sb.stats.Retransmits,
		"abandoned":    sb.stats.Abandoned,
		"pending_drops": sb.stats.PendingDrops,
		"in_flight":    uint64(len(sb.entries)),
		"pending":      uint64(len(sb.pending)),
		"window":       uint64(sb.window),
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
