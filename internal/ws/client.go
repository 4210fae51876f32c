package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/coedit/server/internal/ratelimit"
	"github.com/coedit/server/internal/session"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 1024 * 1024
	messagesPerSecond = 100
	messageBurst      = 200
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket connection bound to a single document room.
type Client struct {
	hub      *Hub
	sessions *session.Store
	conn     *websocket.Conn
	send     chan []byte

	// sendMu guards send against the hub closing it while readPump is
	// still producing replies for this connection.
	sendMu     sync.Mutex
	sendClosed bool

	docID       string
	userID      string
	role        string
	rateLimiter *ratelimit.Limiter
}

// ServeWs upgrades the connection and binds it to the document named by
// the `doc` query parameter. Identity and role come from the already
// authenticated transport layer as `user` and `role` query parameters;
// anonymous connections get a generated id and the default editor role.
func ServeWs(hub *Hub, sessions *session.Store, w http.ResponseWriter, r *http.Request) {
	docID := r.URL.Query().Get("doc")
	if docID == "" {
		http.Error(w, "doc query parameter is required", http.StatusBadRequest)
		return
	}

	userID := r.URL.Query().Get("user")
	if userID == "" {
		userID = "anon-" + uuid.NewString()[:8]
	}
	role := r.URL.Query().Get("role")
	if role == "" {
		role = "editor"
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade error:", err)
		return
	}

	client := &Client{
		hub:         hub,
		sessions:    sessions,
		conn:        conn,
		send:        make(chan []byte, 512),
		docID:       docID,
		userID:      userID,
		role:        role,
		rateLimiter: ratelimit.NewLimiter(messagesPerSecond, messageBurst),
	}

	hub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		if !c.rateLimiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				log.Printf("⚠️ Rate limit exceeded for %s in doc %s (warning #%d)",
					c.userID, c.docID, rateLimitWarnings)
			}
			if rateLimitWarnings > 1000 {
				log.Printf("🚫 Disconnecting %s for excessive rate limit violations", c.userID)
				return
			}
			continue
		}

		c.handleMessage(message)
	}
}

// handleMessage dispatches one inbound frame. Malformed or unauthorized
// requests are answered on this connection only and never touch the
// session.
func (c *Client) handleMessage(data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("malformed message")
		return
	}

	switch msg.Type {
	case MsgJoin:
		c.handleJoin()
	case MsgEdit:
		c.handleEdit(&msg)
	case MsgCursor:
		c.handleCursor(&msg)
	default:
		c.sendError("unknown message type: " + msg.Type)
	}
}

func (c *Client) handleJoin() {
	snap, err := c.sessions.Join(c.docID)
	if err != nil {
		log.Printf("Join failed for %s: %v", c.docID, err)
		c.sendError("join failed")
		return
	}

	c.enqueue(joinedMessage{
		Type:    MsgJoined,
		DocID:   c.docID,
		Version: snap.Version,
		Content: snap.Content,
		Cursors: snap.Cursors,
	})

	// Announce presence to the rest of the room.
	if data, err := json.Marshal(cursorMessage{
		Type:   MsgUserCursor,
		DocID:  c.docID,
		UserID: c.userID,
		Cursor: session.Cursor{Pos: 0},
	}); err == nil {
		c.hub.Broadcast(c.docID, data, c)
	}
}

func (c *Client) handleEdit(msg *clientMessage) {
	if msg.Ops == nil {
		c.sendError("ops are required")
		return
	}
	if !hasRequiredRole(c.role, "editor") {
		c.sendError("insufficient permission")
		return
	}

	ops := msg.Ops
	for i := range ops {
		if ops[i].ClientID == "" {
			ops[i].ClientID = c.userID
		}
	}

	// Commit and broadcast under the per-document lock so observers see
	// version N before N+1.
	lock := c.hub.editLock(c.docID)
	lock.Lock()
	defer lock.Unlock()

	res, err := c.sessions.SubmitEdit(c.docID, c.userID, msg.BaseVersion, ops)
	if err != nil {
		log.Printf("Edit failed for %s: %v", c.docID, err)
		c.sendError("edit failed")
		return
	}

	data, err := json.Marshal(opMessage{
		Type:    MsgBroadcast,
		DocID:   c.docID,
		Version: res.Version,
		Content: res.Content,
		Ops:     res.Ops,
		UserID:  c.userID,
	})
	if err != nil {
		return
	}
	c.hub.Broadcast(c.docID, data, nil)
}

func (c *Client) handleCursor(msg *clientMessage) {
	if msg.Cursor == nil {
		return
	}

	if err := c.sessions.UpdateCursor(c.docID, c.userID, *msg.Cursor); err != nil {
		log.Printf("Cursor update failed for %s: %v", c.docID, err)
		return
	}

	if data, err := json.Marshal(cursorMessage{
		Type:   MsgUserCursor,
		DocID:  c.docID,
		UserID: c.userID,
		Cursor: *msg.Cursor,
	}); err == nil {
		c.hub.Broadcast(c.docID, data, c)
	}
}

func (c *Client) sendError(message string) {
	c.enqueue(errorMessage{Type: MsgError, Message: message})
}

func (c *Client) enqueue(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.trySend(data)
}

// trySend queues data for writePump unless the hub already closed this
// connection's channel. Dropping is fine; closing mid-send is not.
func (c *Client) trySend(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.sendClosed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend shuts the send channel down exactly once. Only the hub's
// Run goroutine calls this, so the hub itself never writes after the
// close; trySend covers the connection's own writers.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
