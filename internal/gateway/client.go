package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/walletgate/walletgate/internal/logger"
	"github.com/walletgate/walletgate/pkg/protocol"
)

const (
	// Payloads larger than this never come from a legitimate page or the UI.
	maxFrameSize = 512 * 1024

	readTimeout   = 60 * time.Second
	writeTimeout  = 10 * time.Second
	pingInterval  = 30 * time.Second
	sendQueueSize = 256
)

// Client is one live WebSocket connection, trusted UI or untrusted tab. The
// trust bit is fixed at upgrade time and drives all dispatch decisions.
type Client struct {
	id      string
	conn    *websocket.Conn
	server  *Server
	trusted bool
	origin  string // empty for trusted clients
	url     string // full Origin header value for tabs

	// send is never closed: parked settle goroutines may still enqueue after
	// teardown. done signals the write pump instead; late frames just drop.
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	subMu sync.Mutex
	subs  map[string]func() // subscribe request id -> unsubscribe
}

func newClient(conn *websocket.Conn, server *Server, trusted bool, origin, url string) *Client {
	return &Client{
		id:      uuid.NewString(),
		conn:    conn,
		server:  server,
		trusted: trusted,
		origin:  origin,
		url:     url,
		send:    make(chan []byte, sendQueueSize),
		done:    make(chan struct{}),
		subs:    make(map[string]func()),
	}
}

// run drives both pumps and unregisters the client when the read side ends.
func (c *Client) run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
	c.server.removeClient(c)
}

func (c *Client) readPump(ctx context.Context) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read error", "client", c.id, "error", err)
			}
			return
		}

		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		c.handleFrame(ctx, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleFrame(ctx context.Context, data []byte) {
	var req protocol.RequestFrame
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("", "bad_request", "malformed frame: "+err.Error())
		return
	}

	c.server.dispatch(logger.WithConnID(ctx, c.id), c, &req)
}

// SendResponse queues a response frame. A full send queue drops the frame
// rather than blocking the caller; the write pump owns the connection pace.
func (c *Client) SendResponse(resp *protocol.ResponseFrame) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("marshal response failed", "error", err)
		return
	}
	c.enqueue(data)
}

// SendEvent queues an unsolicited event frame.
func (c *Client) SendEvent(event protocol.EventFrame) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("marshal event failed", "error", err)
		return
	}
	c.enqueue(data)
}

func (c *Client) enqueue(data []byte) {
	select {
	case <-c.done:
	case c.send <- data:
	default:
		slog.Warn("client send queue full, dropping frame", "client", c.id)
	}
}

func (c *Client) sendError(id, code, message string) {
	c.SendResponse(protocol.NewErrorResponse(id, code, message))
}

// addSubscription records an active subscription keyed by the subscribe
// request id, replacing any previous one under the same id.
func (c *Client) addSubscription(id string, unsubscribe func()) {
	c.subMu.Lock()
	prev := c.subs[id]
	c.subs[id] = unsubscribe
	c.subMu.Unlock()

	if prev != nil {
		prev()
	}
}

// removeSubscription tears down one subscription; reports whether it existed.
func (c *Client) removeSubscription(id string) bool {
	c.subMu.Lock()
	unsubscribe, ok := c.subs[id]
	delete(c.subs, id)
	c.subMu.Unlock()

	if ok {
		unsubscribe()
	}
	return ok
}

func (c *Client) cancelSubscriptions() {
	c.subMu.Lock()
	subs := c.subs
	c.subs = make(map[string]func())
	c.subMu.Unlock()

	for _, unsubscribe := range subs {
		unsubscribe()
	}
}

// Close shuts the connection down from the server side.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
