// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

package internal_hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// client is one authenticated agent UI connection. Reads and writes are
// split into two pumps so a stalled socket never blocks hub dispatch.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	sid  string
	send chan []byte

	mu    sync.Mutex
	rooms []string // self-room first, then joined conversation rooms
}

func newClient(h *Hub, conn *websocket.Conn) *client {
	sid := uuid.NewString()
	return &client{
		hub:   h,
		conn:  conn,
		sid:   sid,
		send:  make(chan []byte, h.sendBuffer),
		rooms: []string{sid},
	}
}

// readPump consumes client frames until the socket dies, then tears the
// client down. Pongs refresh the read deadline.
func (c *client) readPump() {
	defer c.hub.unregister(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.hub.logger.Debugw("hub client read failed", "sid", c.sid, "error", err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.hub.logger.Warnw("ignoring malformed hub frame", "sid", c.sid, "error", err)
			continue
		}

		switch frame.Event {
		case eventJoinConversation:
			c.hub.join(c, frame.Data)
		case eventLeaveConversation:
			c.hub.leave(c, frame.Data)
		default:
			c.hub.logger.Debugw("ignoring unknown hub event", "sid", c.sid, "event", frame.Event)
		}
	}
}

// writePump owns all writes on the socket: queued frames plus the heartbeat
// ping. A closed send channel means the hub unregistered us.
func (c *client) writePump() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.logger.Debugw("hub client write failed", "sid", c.sid, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// trySend queues a frame without ever blocking dispatch; a full queue means
// the client is too slow and the frame is dropped.
func (c *client) trySend(msg []byte) {
	select {
	case c.send <- msg:
	default:
		c.hub.logger.Warnw("dropping frame for slow hub client", "sid", c.sid)
	}
}

func (c *client) sendFrame(event string, data interface{}) {
	msg, err := json.Marshal(outboundFrame{Event: event, Data: data})
	if err != nil {
		c.hub.logger.Warnw("failed to encode hub frame", "sid", c.sid, "event", event, "error", err)
		return
	}
	c.trySend(msg)
}

func (c *client) addRoom(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.rooms {
		if existing == room {
			return
		}
	}
	c.rooms = append(c.rooms, room)
}

func (c *client) removeRoom(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.rooms {
		if existing == room && i > 0 { // never drop the self-room
			c.rooms = append(c.rooms[:i], c.rooms[i+1:]...)
			return
		}
	}
}

func (c *client) joinedRooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make([]string, len(c.rooms))
	copy(snapshot, c.rooms)
	return snapshot
}
