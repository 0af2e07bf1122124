// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

// Package internal_hub fans broker events out to agent UI websockets. Each
// hub instance owns a unique channel space on the broker; conversation
// events reach the right instance through routing entries written when a
// client joins a conversation room.
package internal_hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/meshvox/agent-assist/pkg/commons"
	"github.com/meshvox/agent-assist/pkg/events"
	"github.com/meshvox/agent-assist/pkg/metrics"
	"github.com/meshvox/agent-assist/pkg/routing"

	internal_auth "github.com/meshvox/agent-assist/internal/connector-api/auth"
)

const (
	defaultAuthDeadline = 10 * time.Second
	defaultPingInterval = 25 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultWriteWait    = 10 * time.Second
	defaultSendBuffer   = 32

	maxFrameBytes = 64 * 1024

	routeTimeout = 5 * time.Second
)

// Events exchanged with agent UIs.
const (
	eventJoinConversation  = "join-conversation"
	eventLeaveConversation = "leave-conversation"
	eventUnauthenticated   = "unauthenticated"
)

var hubUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// inboundFrame is everything a client may send: an auth handshake or a
// room event carrying a conversation name.
type inboundFrame struct {
	Event string       `json:"event"`
	Data  string       `json:"data"`
	Auth  *authPayload `json:"auth"`
}

type authPayload struct {
	Token string `json:"token"`
}

type outboundFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

type roomAck struct {
	Success          bool   `json:"success"`
	ConversationName string `json:"conversationName"`
}

// ============================================================================
// Hub
// ============================================================================

// Hub tracks authenticated connections and their rooms, consumes the hub's
// broker channel space, and emits events to the matching room (or to every
// connection for summaries, which UIs may not have a room for yet).
type Hub struct {
	logger commons.Logger
	router *routing.Router
	tokens *internal_auth.TokenService
	id     string

	authDeadline time.Duration
	pingInterval time.Duration
	pongWait     time.Duration
	writeWait    time.Duration
	sendBuffer   int

	mu      sync.RWMutex
	clients map[*client]struct{}
	rooms   map[string]map[*client]struct{}
}

// HubOption overrides connection-handling defaults.
type HubOption func(*Hub)

// WithAuthDeadline bounds how long a fresh connection may take to present
// its auth frame.
func WithAuthDeadline(d time.Duration) HubOption {
	return func(h *Hub) {
		h.authDeadline = d
	}
}

// WithHeartbeat sets the server ping interval and the pong-refreshed read
// deadline. pongWait must exceed pingInterval or healthy clients get cut.
func WithHeartbeat(pingInterval, pongWait time.Duration) HubOption {
	return func(h *Hub) {
		h.pingInterval = pingInterval
		h.pongWait = pongWait
	}
}

// WithSendBuffer sizes the per-client outbound queue.
func WithSendBuffer(size int) HubOption {
	return func(h *Hub) {
		h.sendBuffer = size
	}
}

func NewHub(logger commons.Logger, router *routing.Router, tokens *internal_auth.TokenService, opts ...HubOption) *Hub {
	hub := &Hub{
		logger:       logger,
		router:       router,
		tokens:       tokens,
		id:           routing.NewHubID(),
		authDeadline: defaultAuthDeadline,
		pingInterval: defaultPingInterval,
		pongWait:     defaultPongWait,
		writeWait:    defaultWriteWait,
		sendBuffer:   defaultSendBuffer,
		clients:      make(map[*client]struct{}),
		rooms:        make(map[string]map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(hub)
	}
	return hub
}

// ID returns the hub's broker identity. Routing entries written by this
// instance all point at it.
func (h *Hub) ID() string {
	return h.id
}

// Start subscribes the hub's channel space and dispatches deliveries in the
// background until ctx is cancelled. The subscription is on the wire before
// Start returns, so routes written afterwards cannot lose events.
func (h *Hub) Start(ctx context.Context) error {
	deliveries, err := h.router.Subscribe(ctx, h.id)
	if err != nil {
		return fmt.Errorf("hub subscription failed: %w", err)
	}
	h.logger.Infow("hub consuming broker deliveries", "hubId", h.id)
	go func() {
		for env := range deliveries {
			h.dispatch(env)
		}
	}()
	return nil
}

// dispatch forwards one broker delivery to its audience. Summaries are
// broadcast to every authenticated connection since the UI may not know the
// conversation name to join yet; everything else is room-scoped.
func (h *Hub) dispatch(env *events.Envelope) {
	payload, err := env.Encode()
	if err != nil {
		h.logger.Warnw("dropping unencodable event", "dataType", env.DataType, "error", err)
		return
	}
	msg, err := json.Marshal(outboundFrame{Event: env.DataType, Data: json.RawMessage(payload)})
	if err != nil {
		h.logger.Warnw("dropping unencodable event frame", "dataType", env.DataType, "error", err)
		return
	}

	if env.DataType == events.DataTypeSummarization {
		h.broadcast(msg)
		metrics.RecordEventRouted("broadcast")
		h.logger.Infow("broadcast summary to all clients",
			"conversationName", env.ConversationName)
		return
	}
	h.emitToRoom(env.ConversationName, msg)
	metrics.RecordEventRouted("room")
}

func (h *Hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.trySend(msg)
	}
}

func (h *Hub) emitToRoom(room string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		c.trySend(msg)
	}
}

// ============================================================================
// Membership
// ============================================================================

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	// every connection gets a self-room keyed by its sid
	h.rooms[c.sid] = map[*client]struct{}{c: {}}
	h.mu.Unlock()
	metrics.RecordHubClientConnected()
	h.logger.Infow("hub client connected", "sid", c.sid)
}

// unregister drops the client from every room and deletes the routing
// entries for the conversation rooms it was still in. The self-room is not
// a routing key and is skipped.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	joined := c.joinedRooms()
	for _, room := range joined {
		h.removeFromRoomLocked(c, room)
	}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), routeTimeout)
	defer cancel()
	for _, room := range joined[1:] {
		if err := h.router.DeleteRoute(ctx, room); err != nil {
			h.logger.Warnw("failed to delete routing entry on disconnect",
				"sid", c.sid, "conversationName", room, "error", err)
		}
	}

	close(c.send)
	metrics.RecordHubClientDisconnected()
	h.logger.Infow("hub client disconnected", "sid", c.sid, "rooms", len(joined)-1)
}

func (h *Hub) join(c *client, conversationName string) {
	stripped := routing.ConversationNameWithoutLocation(conversationName)
	h.mu.Lock()
	members, ok := h.rooms[stripped]
	if !ok {
		members = make(map[*client]struct{})
		h.rooms[stripped] = members
	}
	members[c] = struct{}{}
	h.mu.Unlock()
	c.addRoom(stripped)

	ctx, cancel := context.WithTimeout(context.Background(), routeTimeout)
	defer cancel()
	success := true
	if err := h.router.SetRoute(ctx, stripped, h.id); err != nil {
		h.logger.Warnw("failed to set routing entry",
			"sid", c.sid, "conversationName", stripped, "error", err)
		success = false
	}
	h.logger.Infow("client joined conversation", "sid", c.sid, "conversationName", stripped)
	c.sendFrame(eventJoinConversation, roomAck{Success: success, ConversationName: stripped})
}

func (h *Hub) leave(c *client, conversationName string) {
	stripped := routing.ConversationNameWithoutLocation(conversationName)
	h.mu.Lock()
	h.removeFromRoomLocked(c, stripped)
	h.mu.Unlock()
	c.removeRoom(stripped)

	ctx, cancel := context.WithTimeout(context.Background(), routeTimeout)
	defer cancel()
	success := true
	if err := h.router.DeleteRoute(ctx, stripped); err != nil {
		h.logger.Warnw("failed to delete routing entry",
			"sid", c.sid, "conversationName", stripped, "error", err)
		success = false
	}
	h.logger.Infow("client left conversation", "sid", c.sid, "conversationName", stripped)
	c.sendFrame(eventLeaveConversation, roomAck{Success: success, ConversationName: stripped})
}

func (h *Hub) removeFromRoomLocked(c *client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// ============================================================================
// Connection intake
// ============================================================================

// HandleConnection upgrades an agent UI request and serves it until the
// socket dies. Routes register it as a plain gin handler.
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := hubUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnw("hub websocket upgrade failed", "error", err, "remote", c.ClientIP())
		return
	}
	h.serve(conn)
}

func (h *Hub) serve(conn *websocket.Conn) {
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	if !h.authenticate(conn) {
		return
	}

	client := newClient(h, conn)
	h.register(client)
	go client.writePump()
	client.readPump()
}

// authenticate enforces the first-frame contract: an auth payload with a
// verifiable token, inside the deadline. Anything else gets the
// unauthenticated event and a policy-violation close.
func (h *Hub) authenticate(conn *websocket.Conn) bool {
	_ = conn.SetReadDeadline(time.Now().Add(h.authDeadline))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		h.logger.Debugw("connection dropped before authenticating", "error", err)
		return false
	}

	var first inboundFrame
	if err := json.Unmarshal(payload, &first); err == nil && first.Auth != nil {
		if err := h.tokens.Verify(first.Auth.Token); err == nil {
			return true
		}
		h.logger.Warnw("rejecting hub connection with invalid token")
	} else {
		h.logger.Warnw("rejecting hub connection without auth frame")
	}

	msg, _ := json.Marshal(outboundFrame{Event: eventUnauthenticated})
	_ = conn.SetWriteDeadline(time.Now().Add(h.writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, msg)
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"))
	return false
}
