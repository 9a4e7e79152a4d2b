// Package transport owns the one bound UDP socket backing a gameNet
// endpoint: framed send (emit) and a continuously running receive loop
// that dispatches inbound frames by channel tag (spec.md §4.1).
package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/duskforge/gamenet/internal/gamenet/protocol"
)

// DefaultReadBufferSize is the UDP socket read buffer size.
const DefaultReadBufferSize = 2 * 1024 * 1024

// DefaultWriteBufferSize is the UDP socket write buffer size.
const DefaultWriteBufferSize = 2 * 1024 * 1024

// DefaultRecvTimeout is the short socket read deadline (spec.md §6:
// SOCK_RECV_TIMEOUT_MS default 50ms) that doubles as the skip-deadline
// policy's idle tick.
const DefaultRecvTimeout = 50 * time.Millisecond

// maxFrameSize bounds a single read: header plus a generous payload
// ceiling, matching typical UDP MTU headroom.
const maxFrameSize = protocol.HeaderSize + 1500

// Config configures the transport layer.
type Config struct {
	ReadBufferSize  int
	WriteBufferSize int
	RecvTimeout     time.Duration
}

// DefaultConfig returns the transport defaults.
func DefaultConfig() *Config {
	return &Config{
		ReadBufferSize:  DefaultReadBufferSize,
		WriteBufferSize: DefaultWriteBufferSize,
		RecvTimeout:     DefaultRecvTimeout,
	}
}

// Stats holds cumulative transport-layer statistics.
type Stats struct {
	FramesSent      uint64
	FramesReceived  uint64
	BytesSent       uint64
	BytesReceived   uint64
	MalformedDropped uint64
	SendErrors      uint64
}

// Conn wraps a net.PacketConn with gameNet's framing. The underlying
// socket is safe for concurrent send+recv without additional locking
// (spec.md §5), so Conn adds no lock around I/O itself — only around the
// plain statistics counters.
type Conn struct {
	pc         net.PacketConn
	remoteAddr net.Addr
	recvBuf    []byte
	recvTimeout time.Duration

	statsMu sync.Mutex
	stats   Stats
}

// Listen opens a UDP socket bound to address for receiving from any peer.
func Listen(address string, cfg *Config) (*Conn, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("gamenet/transport: resolve %q: %w", address, err)
	}
	pc, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("gamenet/transport: listen %q: %w", address, err)
	}
	applyBufferSizes(pc, cfg)

	return newConn(pc, nil, cfg), nil
}

// Dial opens a UDP socket bound to localAddress (or any free port, if
// empty) with a fixed remote peer.
func Dial(localAddress, remoteAddress string, cfg *Config) (*Conn, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	remoteAddr, err := net.ResolveUDPAddr("udp", remoteAddress)
	if err != nil {
		return nil, fmt.Errorf("gamenet/transport: resolve remote %q: %w", remoteAddress, err)
	}
	var localAddr *net.UDPAddr
	if localAddress != "" {
		localAddr, err = net.ResolveUDPAddr("udp", localAddress)
		if err != nil {
			return nil, fmt.Errorf("gamenet/transport: resolve local %q: %w", localAddress, err)
		}
	}
	pc, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("gamenet/transport: dial: %w", err)
	}
	applyBufferSizes(pc, cfg)

	return newConn(pc, remoteAddr, cfg), nil
}

// NewFromPacketConn wraps an already-open net.PacketConn, used by the
// in-memory netsim harness to exercise the endpoint without real sockets.
func NewFromPacketConn(pc net.PacketConn, remoteAddr net.Addr, cfg *Config) *Conn {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return newConn(pc, remoteAddr, cfg)
}

func newConn(pc net.PacketConn, remoteAddr net.Addr, cfg *Config) *Conn {
	return &Conn{
		pc:          pc,
		remoteAddr:  remoteAddr,
		recvBuf:     make([]byte, maxFrameSize),
		recvTimeout: cfg.RecvTimeout,
	}
}

func applyBufferSizes(pc *net.UDPConn, cfg *Config) {
	if cfg.ReadBufferSize > 0 {
		_ = pc.SetReadBuffer(cfg.ReadBufferSize)
	}
	if cfg.WriteBufferSize > 0 {
		_ = pc.SetWriteBuffer(cfg.WriteBufferSize)
	}
}

// Emit sends a frame to the connection's remote peer, or to addr if
// addr is non-nil (used for SACK replies to an observed sender address
// on a listening socket with no fixed remote).
func (c *Conn) Emit(frame *protocol.Frame, addr net.Addr) error {
	if addr == nil {
		addr = c.remoteAddr
	}
	if addr == nil {
		return fmt.Errorf("gamenet/transport: no remote address to send to")
	}

	data := frame.Marshal()
	n, err := c.pc.WriteTo(data, addr)
	if err != nil {
		c.statsMu.Lock()
		c.stats.SendErrors++
		c.statsMu.Unlock()
		return fmt.Errorf("gamenet/transport: send: %w", err)
	}
	c.statsMu.Lock()
	c.stats.FramesSent++
	c.stats.BytesSent += uint64(n)
	c.statsMu.Unlock()
	return nil
}

// Received is one inbound frame plus the address it arrived from.
type Received struct {
	Frame *protocol.Frame
	Addr  net.Addr
}

// ErrTimeout is returned by RecvOnce when the short read deadline elapses
// with no datagram; this is the idle tick the skip-deadline policy relies
// on even when no traffic arrives.
var ErrTimeout = fmt.Errorf("gamenet/transport: recv timeout")

// RecvOnce reads and parses a single datagram, blocking for at most the
// configured RecvTimeout. A malformed frame (too short, unknown channel)
// is counted and reported as an error without being retried.
func (c *Conn) RecvOnce() (*Received, error) {
	if err := c.pc.SetReadDeadline(time.Now().Add(c.recvTimeout)); err != nil {
		return nil, fmt.Errorf("gamenet/transport: set read deadline: %w", err)
	}

	n, addr, err := c.pc.ReadFrom(c.recvBuf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("gamenet/transport: read: %w", err)
	}

	frame, err := protocol.Unmarshal(c.recvBuf[:n])
	if err != nil {
		c.statsMu.Lock()
		c.stats.MalformedDropped++
		c.statsMu.Unlock()
		return nil, fmt.Errorf("gamenet/transport: malformed frame from %s: %w", addr, err)
	}

	c.statsMu.Lock()
	c.stats.FramesReceived++
	c.stats.BytesReceived += uint64(n)
	c.statsMu.Unlock()
	return &Received{Frame: frame, Addr: addr}, nil
}

// LocalAddr returns the socket's local address.
func (c *Conn) LocalAddr() net.Addr { return c.pc.LocalAddr() }

// RemoteAddr returns the fixed remote peer address, if any.
func (c *Conn) RemoteAddr() net.Addr { return c.remoteAddr }

// HasRemote reports whether the connection has a fixed remote peer.
func (c *Conn) HasRemote() bool { return c.remoteAddr != nil }

// Stats returns a snapshot of cumulative transport statistics.
func (c *Conn) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// Close releases the underlying socket.
func (c *Conn) Close() error {
	return c.pc.Close()
}
