package monitor

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Snapshot is one point-in-time view of an endpoint's statistics,
// published to every subscriber on each publish tick.
type Snapshot struct {
	AtUnixMs        int64  `json:"at_unix_ms"`
	FramesSent      uint64 `json:"frames_sent"`
	FramesReceived  uint64 `json:"frames_received"`
	BytesSent       uint64 `json:"bytes_sent"`
	BytesReceived   uint64 `json:"bytes_received"`
	InflightCount   int    `json:"inflight_count"`
	PendingDepth    int    `json:"pending_depth"`
	BufferedDepth   int    `json:"buffered_depth"`
	DeliveryDepth   int    `json:"delivery_depth"`
	Retransmits     uint64 `json:"retransmits"`
	Abandoned       uint64 `json:"abandoned"`
	SkipEvents      uint64 `json:"skip_events"`
	PendingDropped  uint64 `json:"pending_dropped"`
	RTOMs           int64  `json:"rto_ms"`
	SRTTMs          int64  `json:"srtt_ms"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub tracks subscribers to an endpoint's live statistics stream and
// broadcasts each published Snapshot to all of them.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	logger      *zap.Logger
	closed      bool
}

// NewHub creates an empty statistics hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		logger:      logger,
	}
}

// Register adds a connection to the broadcast set.
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[conn.ID] = conn
	h.logger.Info("monitor subscriber registered",
		zap.String("conn_id", conn.ID), zap.Int("subscribers", len(h.connections)))
}

// Unregister removes a connection from the broadcast set.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.connections, connID)
	h.logger.Info("monitor subscriber unregistered",
		zap.String("conn_id", connID), zap.Int("subscribers", len(h.connections)))
}

// Publish sends one Snapshot to every registered subscriber.
func (h *Hub) Publish(snap Snapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, conn := range h.connections {
		_ = conn.Send(snap)
	}
}

// SubscriberCount reports the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, conn := range h.connections {
		conn.Close()
		delete(h.connections, id)
	}
}

// HandleUpgrade upgrades an incoming HTTP request to a websocket and
// registers it as a statistics subscriber.
func (h *Hub) HandleUpgrade() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Error("monitor upgrade failed", zap.Error(err), zap.String("remote_addr", r.RemoteAddr))
			return
		}

		wsConn := NewConnection(uuid.NewString(), conn, h.logger)
		h.Register(wsConn)
		wsConn.Start()

		go func() {
			<-wsConn.ctx.Done()
			h.Unregister(wsConn.ID)
		}()
	}
}

// StatsSource is satisfied by anything that can report a Snapshot of
// itself — implemented by *endpoint.Endpoint.
type StatsSource interface {
	StatsSnapshot() Snapshot
}

// RunPublisher periodically pulls a Snapshot from src and broadcasts it
// until stop is closed. Intended to run as its own goroutine.
func (h *Hub) RunPublisher(stop <-chan struct{}, interval time.Duration, src StatsSource) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.Publish(src.StatsSnapshot())
		case <-stop:
			return
		}
	}
}
