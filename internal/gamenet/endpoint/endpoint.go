// Package endpoint wires together transport I/O, the reliable sender
// and receiver, the unreliable channel, the delivery queue, and the
// timer service into the application-facing gameNet endpoint: open,
// send, receive, close (spec.md §4.7). It is grounded on the teacher's
// internal/quantum/connection.go Connection type, stripped of the
// handshake, BBR congestion control, and FEC that have no home here
// (no connection establishment, no congestion control, no forward
// error correction per spec.md's Non-goals).
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/duskforge/gamenet/internal/gamenet/clock"
	gnconfig "github.com/duskforge/gamenet/internal/gamenet/config"
	"github.com/duskforge/gamenet/internal/gamenet/delivery"
	"github.com/duskforge/gamenet/internal/gamenet/metrics"
	"github.com/duskforge/gamenet/internal/gamenet/monitor"
	"github.com/duskforge/gamenet/internal/gamenet/protocol"
	"github.com/duskforge/gamenet/internal/gamenet/reliability"
	"github.com/duskforge/gamenet/internal/gamenet/telemetry"
	"github.com/duskforge/gamenet/internal/gamenet/transport"
	"github.com/duskforge/gamenet/internal/gamenet/unreliable"
)

// ErrNoRemote is returned by Send when the endpoint has no fixed peer.
var ErrNoRemote = errors.New("gamenet/endpoint: send on receiver-only endpoint")

// ErrClosed is returned by Send after Close; Receive reports ok=false
// once the endpoint is closed.
var ErrClosed = errors.New("gamenet/endpoint: endpoint closed")

// Endpoint is one side of a gameNet dual-channel connection.
type Endpoint struct {
	// id is a random v4 UUID used purely for structured-logging/metrics
	// correlation across an endpoint's lifetime; it never touches the
	// wire.
	id string

	conn   *transport.Conn
	timers *clock.Service

	// sendBuf and recvBuf each own the coarse-grained mutex that guards
	// their half of the shared state (spec.md §5: one lock over
	// {send_buffer, inflight_count, pending_queue, rto state}, a second
	// over {reorder_buffer, next_expected, skip_deadline}); the endpoint
	// does not duplicate that locking at this layer.
	sendBuf *reliability.SendBuffer
	recvBuf *reliability.ReceiveBuffer

	unreliableCh *unreliable.Channel
	queue        *delivery.Queue

	logger   *zap.Logger
	metrics  *metrics.Metrics
	tracer   *telemetry.Tracer
	cfg      gnconfig.EndpointConfig

	wg          sync.WaitGroup
	closeSignal chan struct{}
	closeOnce   sync.Once
	closed      bool
	closedMu    sync.Mutex

	// metricsMu guards the last-seen cumulative counters used to turn
	// the reliability engines' running totals into Prometheus Add()
	// deltas (StatsSnapshot may be called concurrently by more than one
	// poller).
	metricsMu       sync.Mutex
	lastRetransmits uint64
	lastAbandoned   uint64
	lastSkipEvents  uint64
}

// Deps bundles the optional ambient collaborators an Endpoint may be
// wired to. All fields may be left nil.
type Deps struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Tracer  *telemetry.Tracer
}

// Open binds a new endpoint, optionally with a fixed remote peer. A
// remote-less endpoint ("receiver-only") may Receive but Send always
// fails with ErrNoRemote — matching spec.md
// §4.7's "without a remote, send() fails".
func Open(cfg gnconfig.EndpointConfig, deps Deps) (*Endpoint, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	tconn, err := openTransport(cfg)
	if err != nil {
		return nil, err
	}
	return newEndpoint(tconn, cfg, logger, deps.Metrics, deps.Tracer), nil
}

// OpenOnConn wires an endpoint around an already-constructed
// transport.Conn, used by the netsim test harness to bypass real
// sockets entirely.
func OpenOnConn(tconn *transport.Conn, cfg gnconfig.EndpointConfig, deps Deps) *Endpoint {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return newEndpoint(tconn, cfg, logger, deps.Metrics, deps.Tracer)
}

func openTransport(cfg gnconfig.EndpointConfig) (*transport.Conn, error) {
	tcfg := transport.DefaultConfig()
	if cfg.SockRecvTimeoutMs > 0 {
		tcfg.RecvTimeout = time.Duration(cfg.SockRecvTimeoutMs) * time.Millisecond
	}

	local := fmt.Sprintf(":%d", cfg.LocalPort)
	if cfg.RemoteHost == "" {
		return transport.Listen(local, tcfg)
	}
	remote := fmt.Sprintf("%s:%d", cfg.RemoteHost, cfg.RemotePort)
	return transport.Dial(local, remote, tcfg)
}

func newEndpoint(tconn *transport.Conn, cfg gnconfig.EndpointConfig, logger *zap.Logger, m *metrics.Metrics, tr *telemetry.Tracer) *Endpoint {
	if tr == nil {
		tr, _ = telemetry.New(gnconfig.TracingConfig{Enable: false}, logger)
	}

	id := uuid.NewString()
	logger = logger.With(zap.String("endpoint_id", id))

	timers := clock.NewService()
	window := cfg.Window
	if window == 0 {
		window = reliability.DefaultWindow
	}
	skipTimeout := cfg.SkipTimeoutMs
	if skipTimeout == 0 {
		skipTimeout = reliability.SkipTimeout
	}
	minRTO := time.Duration(cfg.RTOMinMs) * time.Millisecond
	maxRTO := time.Duration(cfg.RTOMaxMs) * time.Millisecond

	ep := &Endpoint{
		id:          id,
		conn:        tconn,
		timers:      timers,
		recvBuf:     reliability.NewReceiveBuffer(window, skipTimeout, cfg.SACKWidth),
		logger:      logger,
		metrics:     m,
		tracer:      tr,
		cfg:         cfg,
		closeSignal: make(chan struct{}),
	}
	ep.sendBuf = reliability.NewSendBuffer(window, cfg.PendingQueueCap, timers, ep.emitReliable, minRTO, maxRTO, cfg.MaxRetries)
	ep.sendBuf.SetTracer(tr)
	ep.unreliableCh = unreliable.NewChannel(ep.emitUnreliable)
	ep.queue = delivery.NewQueue()

	ep.wg.Add(1)
	go ep.recvLoop()

	return ep
}

func (e *Endpoint) emitReliable(frame *protocol.Frame) error {
	if e.metrics != nil {
		e.metrics.FramesSent.WithLabelValues("reliable").Inc()
		e.metrics.BytesSent.WithLabelValues("reliable").Add(float64(len(frame.Payload)))
	}
	if err := e.conn.Emit(frame, nil); err != nil {
		e.logger.Debug("gamenet reliable emit failed", zap.Uint16("seq", frame.Seq), zap.Error(err))
		return err
	}
	return nil
}

func (e *Endpoint) emitUnreliable(frame *protocol.Frame) error {
	if e.metrics != nil {
		e.metrics.FramesSent.WithLabelValues("unreliable").Inc()
		e.metrics.BytesSent.WithLabelValues("unreliable").Add(float64(len(frame.Payload)))
	}
	return e.conn.Emit(frame, nil)
}

// Send transmits payload over the reliable or unreliable channel. A
// reliable send either enters the send buffer immediately or queues
// behind the window; an unreliable send is fire-and-forget.
func (e *Endpoint) Send(payload []byte, reliable bool) error {
	if e.isClosed() {
		return ErrClosed
	}
	if !e.conn.HasRemote() {
		return ErrNoRemote
	}

	if !reliable {
		if err := e.unreliableCh.Send(payload); err != nil {
			return fmt.Errorf("gamenet/endpoint: unreliable send: %w", err)
		}
		return nil
	}

	err := e.sendBuf.Send(payload)
	if err != nil {
		if errors.Is(err, reliability.ErrPendingQueueFull) && e.metrics != nil {
			e.metrics.PendingDropped.Inc()
		}
		return fmt.Errorf("gamenet/endpoint: reliable send: %w", err)
	}
	return nil
}

// Receive is the non-blocking application poll: it returns the head of
// the delivery queue, or ok=false if empty or after Close.
func (e *Endpoint) Receive() (delivery.Record, bool) {
	if e.isClosed() {
		return delivery.Record{}, false
	}
	return e.queue.Pop()
}

// recvLoop is the recv worker: it continuously reads the socket, and on
// each idle tick also drives the skip-deadline policy (spec.md §4.1's
// "short socket timeout ... periodic idle tick").
func (e *Endpoint) recvLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.closeSignal:
			return
		default:
		}

		received, err := e.conn.RecvOnce()
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				e.onIdleTick()
				continue
			}
			e.logger.Debug("gamenet recv error", zap.Error(err))
			continue
		}
		e.handleFrame(received)
	}
}

func (e *Endpoint) onIdleTick() {
	now := clock.NowMs()
	delivered := e.recvBuf.Tick(now)
	e.enqueueDelivered(delivered)
}

func (e *Endpoint) handleFrame(r *transport.Received) {
	switch r.Frame.Chan {
	case protocol.ChanReliableData:
		e.handleReliableData(r.Frame, r.Addr)
	case protocol.ChanSACK:
		e.handleSACK(r.Frame)
	case protocol.ChanUnreliable:
		e.unreliableCh.OnReceive()
		e.queue.Push(delivery.Record{HasSeq: false, TSMs: r.Frame.TSMs, Payload: r.Frame.Payload})
		if e.metrics != nil {
			e.metrics.FramesReceived.WithLabelValues("unreliable").Inc()
			e.metrics.BytesReceived.WithLabelValues("unreliable").Add(float64(len(r.Frame.Payload)))
		}
	}
}

func (e *Endpoint) handleReliableData(frame *protocol.Frame, addr net.Addr) {
	now := clock.NowMs()

	delivered, cumAck, bitmap := e.recvBuf.OnData(frame.Seq, frame.TSMs, frame.Payload, now)
	e.enqueueDelivered(delivered)

	sack := &protocol.Frame{Chan: protocol.ChanSACK, Seq: cumAck, TSMs: uint32(now), Payload: bitmap}
	if err := e.conn.Emit(sack, addr); err != nil {
		e.logger.Debug("gamenet sack emit failed", zap.Error(err))
	}

	if e.metrics != nil {
		e.metrics.FramesReceived.WithLabelValues("reliable").Inc()
		e.metrics.BytesReceived.WithLabelValues("reliable").Add(float64(len(frame.Payload)))
	}
}

func (e *Endpoint) handleSACK(frame *protocol.Frame) {
	e.sendBuf.HandleSACK(frame.Seq, frame.Payload)
}

func (e *Endpoint) enqueueDelivered(delivered []reliability.Delivered) {
	for _, d := range delivered {
		e.queue.Push(delivery.Record{HasSeq: true, Seq: d.Seq, TSMs: d.TSMs, Payload: d.Payload})
	}
}

// Statistics returns the combined sent/received/retransmit/skip counters
// as a flat map, matching the shape of the teacher's
// SendBuffer.Statistics()/ReceiveBuffer.Statistics().
func (e *Endpoint) Statistics() map[string]uint64 {
	tstats := e.conn.Stats()
	stats := map[string]uint64{
		"frames_sent":       tstats.FramesSent,
		"frames_received":   tstats.FramesReceived,
		"bytes_sent":        tstats.BytesSent,
		"bytes_received":    tstats.BytesReceived,
		"malformed_dropped": tstats.MalformedDropped,
		"send_errors":       tstats.SendErrors,
	}
	for k, v := range e.sendBuf.Statistics() {
		stats["send_"+k] = v
	}
	for k, v := range e.recvBuf.Statistics() {
		stats["recv_"+k] = v
	}
	return stats
}

// StatsSnapshot implements monitor.StatsSource.
func (e *Endpoint) StatsSnapshot() monitor.Snapshot {
	tstats := e.conn.Stats()

	sstats := e.sendBuf.Statistics()
	inflight := e.sendBuf.InflightCount()
	rto := e.sendBuf.RTO()
	srtt := e.sendBuf.SRTT()

	rstats := e.recvBuf.Statistics()
	buffered := e.recvBuf.BufferedCount()

	if e.metrics != nil {
		e.metrics.InflightCount.Set(float64(inflight))
		e.metrics.PendingDepth.Set(float64(sstats["pending"]))
		e.metrics.BufferedDepth.Set(float64(buffered))
		e.metrics.DeliveryDepth.Set(float64(e.queue.Len()))
		e.metrics.RTOMs.Set(float64(rto.Milliseconds()))
		e.metrics.SRTTMs.Set(float64(srtt.Milliseconds()))
		e.recordCounterDeltas(sstats["retransmits"], sstats["abandoned"], rstats["skipped"])
	}

	return monitor.Snapshot{
		AtUnixMs:       time.Now().UnixMilli(),
		FramesSent:     tstats.FramesSent,
		FramesReceived: tstats.FramesReceived,
		BytesSent:      tstats.BytesSent,
		BytesReceived:  tstats.BytesReceived,
		InflightCount:  inflight,
		PendingDepth:   int(sstats["pending"]),
		BufferedDepth:  buffered,
		DeliveryDepth:  e.queue.Len(),
		Retransmits:    sstats["retransmits"],
		Abandoned:      sstats["abandoned"],
		SkipEvents:     rstats["skipped"],
		PendingDropped: sstats["pending_drops"],
		RTOMs:          rto.Milliseconds(),
		SRTTMs:         srtt.Milliseconds(),
	}
}

// recordCounterDeltas turns the reliability engines' running totals into
// Prometheus Add() calls. Both sides only grow for the lifetime of the
// endpoint, so the gap since the last observation is always >= 0.
func (e *Endpoint) recordCounterDeltas(retransmits, abandoned, skipEvents uint64) {
	e.metricsMu.Lock()
	defer e.metricsMu.Unlock()

	if d := retransmits - e.lastRetransmits; d > 0 {
		e.metrics.Retransmits.Add(float64(d))
		e.lastRetransmits = retransmits
	}
	if d := abandoned - e.lastAbandoned; d > 0 {
		e.metrics.Abandoned.Add(float64(d))
		e.lastAbandoned = abandoned
	}
	if d := skipEvents - e.lastSkipEvents; d > 0 {
		e.metrics.SkipEvents.Add(float64(d))
		e.lastSkipEvents = skipEvents
	}
}

func (e *Endpoint) isClosed() bool {
	e.closedMu.Lock()
	defer e.closedMu.Unlock()
	return e.closed
}

// Close stops all workers, cancels pending timers, and releases the
// socket. Idempotent (spec.md §4.7).
func (e *Endpoint) Close() error {
	var closeErr error
	e.closeOnce.Do(func() {
		e.closedMu.Lock()
		e.closed = true
		e.closedMu.Unlock()

		close(e.closeSignal)
		e.timers.Stop()
		closeErr = e.conn.Close()
		e.wg.Wait()
	})
	if e.tracer != nil {
		_ = e.tracer.Shutdown(context.Background())
	}
	return closeErr
}

// LocalAddr returns the bound socket's local address.
func (e *Endpoint) LocalAddr() net.Addr { return e.conn.LocalAddr() }

// ID returns the endpoint's random v4 UUID, used to correlate its log
// lines and metrics across a process's lifetime.
func (e *Endpoint) ID() string { return e.id }
