// Package unreliable implements gameNet's fire-and-forget channel:
// stamp-and-send on egress, stamp-and-enqueue on ingress, no buffering,
// no retransmission, no ordering (spec.md §4.4).
package unreliable

import (
	"sync"
	"sync/atomic"

	"github.com/duskforge/gamenet/internal/gamenet/clock"
	"github.com/duskforge/gamenet/internal/gamenet/protocol"
)

// Channel assigns the unreliable counter and emits frames; it holds no
// per-packet state once a frame has been handed to the transport layer.
type Channel struct {
	nextUSeq uint32 // atomic; truncated to uint16 on the wire
	emit     func(frame *protocol.Frame) error

	mu    sync.Mutex
	stats Stats
}

// Stats holds cumulative unreliable-channel statistics.
type Stats struct {
	Sent     uint64
	Received uint64
}

// NewChannel creates an unreliable channel bound to the given emit
// callback (typically transport.Conn.Emit).
func NewChannel(emit func(*protocol.Frame) error) *Channel {
	return &Channel{emit: emit}
}

// Send stamps payload with the next unreliable counter and the current
// timestamp, then emits it once — no timer, no buffering (spec.md §4.4).
func (c *Channel) Send(payload []byte) error {
	seq := uint16(atomic.AddUint32(&c.nextUSeq, 1) - 1)
	frame := &protocol.Frame{
		Chan:    protocol.ChanUnreliable,
		Seq:     seq,
		TSMs:    uint32(clock.NowMs()),
		Payload: payload,
	}
	err := c.emit(frame)

	c.mu.Lock()
	c.stats.Sent++
	c.mu.Unlock()

	return err
}

// OnReceive records receipt of an inbound UNRELIABLE frame. The caller
// is responsible for enqueueing the delivery record immediately (spec.md
// §4.4); this method only tracks statistics.
func (c *Channel) OnReceive() {
	c.mu.Lock()
	c.stats.Received++
	c.mu.Unlock()
}

// Statistics returns a snapshot of the unreliable channel's counters.
func (c *Channel) Statistics() map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]uint64{
		"sent":     c.stats.Sent,
		"received": c.stats.Received,
	}
}
