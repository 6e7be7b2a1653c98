package collab

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // whole-document snapshots can be large
	sendBuffer     = 64
)

type outbound struct {
	event string
	data  any
}

// client adapts one websocket connection to the hub's Conn interface. A
// buffered send channel decouples the reactor from the peer; when the
// buffer is full the event is dropped rather than blocking the hub.
type client struct {
	id     string
	userID string
	hub    *Hub
	access Access
	conn   *websocket.Conn
	send   chan outbound
}

func newClient(id, userID string, hub *Hub, access Access, conn *websocket.Conn) *client {
	return &client{
		id:     id,
		userID: userID,
		hub:    hub,
		access: access,
		conn:   conn,
		send:   make(chan outbound, sendBuffer),
	}
}

// Send implements Conn. Called from the hub goroutine; never blocks.
func (c *client) Send(event string, data any) {
	select {
	case c.send <- outbound{event: event, data: data}:
	default:
		log.Printf("collab: dropping %s event for slow connection %s", event, c.id)
	}
}

// closeSend is called by the hub once the connection is unregistered and no
// further Send can happen, letting writePump drain and exit.
func (c *client) closeSend() {
	close(c.send)
}

// readPump decodes envelopes from the peer and turns them into hub
// commands. It owns the read side; returning unregisters the connection.
func (c *client) readPump() {
	defer func() {
		c.hub.Unregister(c.id)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("collab: read error on %s: %v", c.id, err)
			}
			return
		}

		var envelope Envelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			log.Printf("collab: malformed message on %s: %v", c.id, err)
			continue
		}
		c.dispatch(envelope)
	}
}

func (c *client) dispatch(envelope Envelope) {
	switch envelope.Event {
	case EventJoinDocument:
		if id := documentIDFrom(envelope.Data); id != "" {
			// Permission is resolved here, on the connection's read
			// goroutine, so the hub never waits on storage.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			permission, err := c.access.DocumentPermission(ctx, id, c.userID)
			cancel()
			if err != nil {
				log.Printf("collab: %s denied access to document %s: %v", c.userID, id, err)
				return
			}
			c.hub.Join(c.id, id, permission)
		}
	case EventLeaveDocument:
		if id := documentIDFrom(envelope.Data); id != "" {
			c.hub.Leave(c.id, id)
		}
	case EventDocumentChange:
		var payload ChangePayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil || payload.DocumentID == "" {
			return
		}
		c.hub.Change(c.id, payload.DocumentID, payload.Content)
	case EventCursorPosition:
		var payload CursorPayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil || payload.DocumentID == "" {
			return
		}
		c.hub.Cursor(c.id, payload.DocumentID, payload.Position)
	default:
		// Unknown events are ignored, not fatal.
	}
}

// documentIDFrom accepts either a bare string or a {"documentId": ...}
// object, since join/leave carry nothing else.
func documentIDFrom(data json.RawMessage) string {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		return id
	}
	var payload JoinPayload
	if err := json.Unmarshal(data, &payload); err == nil {
		return payload.DocumentID
	}
	return ""
}

// writePump drains the send channel onto the wire and keeps the
// connection alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(message.data)
			if err != nil {
				log.Printf("collab: marshal %s event: %v", message.event, err)
				continue
			}
			if err := c.conn.WriteJSON(Envelope{Event: message.event, Data: data}); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
