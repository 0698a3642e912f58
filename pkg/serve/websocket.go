package serve

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	holonlog "github.com/holon-run/localagent/pkg/log"
)

const (
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 4 << 20
)

// wsConn serializes writes to one websocket; gorilla allows a single writer.
type wsConn struct {
	id   string
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

func (c *wsConn) WriteNotification(n Notification) error {
	return c.writeJSON(n)
}

// handleWebSocket serves JSON-RPC over a websocket: one request per text
// message, one response per request, plus broadcast notifications.
func (hs *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := hs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		holonlog.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsConn{id: uuid.NewString(), conn: conn}
	hs.trackWebSocket(c, true)
	unsubscribe := hs.broadcaster.Subscribe(c)
	defer func() {
		unsubscribe()
		hs.trackWebSocket(c, false)
		_ = conn.Close()
		holonlog.Debug("websocket client disconnected", "conn_id", c.id)
	}()
	holonlog.Debug("websocket client connected", "conn_id", c.id, "remote", r.RemoteAddr)

	conn.SetReadLimit(wsMaxMessageSize)
	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				holonlog.Debug("websocket read error", "conn_id", c.id, "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		resp, ok := hs.methods.HandleMessage(message)
		if !ok {
			continue
		}
		if err := c.writeJSON(resp); err != nil {
			holonlog.Debug("websocket write failed", "conn_id", c.id, "error", err)
			return
		}
	}
}

func (hs *HTTPServer) trackWebSocket(c *wsConn, add bool) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if add {
		hs.conns[c] = struct{}{}
		return
	}
	delete(hs.conns, c)
}

func (hs *HTTPServer) closeWebSockets() {
	hs.mu.Lock()
	conns := make([]*wsConn, 0, len(hs.conns))
	for c := range hs.conns {
		conns = append(conns, c)
	}
	hs.mu.Unlock()

	deadline := time.Now().Add(wsWriteWait)
	for _, c := range conns {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
		c.mu.Unlock()
		_ = c.conn.Close()
	}
}
