// Package monitor serves live endpoint statistics over a websocket hub,
// grounded on the teacher's internal/gateway/websocket/connection.go and
// hub.go (stripped of auth, channel subscriptions, and per-user fanout,
// none of which this endpoint has a concept of).
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrConnectionClosed is returned by Send on an already-closed connection.
	ErrConnectionClosed = errors.New("gamenet/monitor: connection closed")
	// ErrSendChannelFull is returned by Send when a slow subscriber's
	// outbound buffer is saturated; the snapshot is dropped, not queued.
	ErrSendChannelFull = errors.New("gamenet/monitor: send channel full")
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 32
)

// Connection wraps one subscriber's websocket, pushing Snapshot frames
// as they are published by the Hub.
type Connection struct {
	ID   string
	conn *websocket.Conn
	send chan Snapshot

	mu     sync.RWMutex
	closed bool

	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewConnection wraps an upgraded websocket connection.
func NewConnection(id string, conn *websocket.Conn, logger *zap.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		ID:     id,
		conn:   conn,
		send:   make(chan Snapshot, sendBufferSize),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Send enqueues a snapshot for delivery, dropping it if the subscriber's
// buffer is already full rather than blocking the publisher. c.send is
// never closed (only c.ctx is cancelled), so a send racing a concurrent
// Close can only be rejected here, never panic on a closed channel.
func (c *Connection) Send(snap Snapshot) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- snap:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		c.logger.Warn("monitor send buffer full, dropping snapshot",
			zap.String("conn_id", c.ID))
		return ErrSendChannelFull
	}
}

// Close tears down the connection and its write pump. c.send is
// intentionally left open; writePump and readPump exit on c.ctx.Done()
// instead, and the channel is left for the garbage collector.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.cancel()
	return c.conn.Close()
}

// IsClosed reports whether Close has already run.
func (c *Connection) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Start launches the read and write pumps. readPump only drains pings;
// subscribers never send application data to this endpoint.
func (c *Connection) Start() {
	go c.writePump()
	go c.readPump()
}

func (c *Connection) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("monitor read error", zap.String("conn_id", c.ID), zap.Error(err))
			}
			return
		}
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case snap := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			data, err := json.Marshal(snap)
			if err != nil {
				c.logger.Error("failed to marshal snapshot", zap.Error(err))
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}
