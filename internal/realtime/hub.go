package realtime

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apperrors "github.com/parleyhq/parley/pkg/errors"
	"github.com/parleyhq/parley/pkg/logger"
	"github.com/parleyhq/parley/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB

	defaultBufferSize = 64
)

// Message represents a JSON payload delivered to realtime subscribers.
type Message struct {
	ChatID string `json:"chatId,omitempty"`
	Event  string `json:"event"`
	Data   any    `json:"data,omitempty"`
}

// clientFrame is a single inbound event from a connected client.
type clientFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type roomRef struct {
	ChatID string `json:"chatId"`
}

// Session identifies the authenticated connection an event arrived on.
type Session struct {
	ConnectionID string
	UserID       string
}

// Dispatcher handles application events received from a connection.
// Join and leave are handled by the hub itself; everything else is forwarded.
type Dispatcher interface {
	HandleEvent(ctx context.Context, sess Session, event string, data json.RawMessage) error
}

// SessionListener observes connection lifecycle transitions. SessionEnded is
// invoked exactly once per connection, regardless of how the transport fails.
type SessionListener interface {
	SessionStarted(userID, connectionID string)
	SessionEnded(userID, connectionID string)
}

// Hub coordinates room-scoped fan-out for connected chat clients.
type Hub struct {
	mu         sync.RWMutex
	rooms      map[string]map[string]map[*connection]struct{}
	users      map[string]map[*connection]struct{}
	upgrader   websocket.Upgrader
	dispatcher Dispatcher
	listener   SessionListener
	log        *zap.Logger
}

// NewHub constructs a realtime hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[string]map[*connection]struct{}),
		users: make(map[string]map[*connection]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Allow same-origin requests and explicit localhost development.
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				requestHost := hostWithoutPort(r.Host)
				return originHost == requestHost || isLoopback(originHost)
			},
		},
		log: logger.WithModule("realtime"),
	}
}

// SetDispatcher installs the handler for application events. Must be called
// before Serve.
func (h *Hub) SetDispatcher(d Dispatcher) {
	h.dispatcher = d
}

// SetListener installs the connection lifecycle observer. Must be called
// before Serve.
func (h *Hub) SetListener(l SessionListener) {
	h.listener = l
}

// Serve upgrades the HTTP connection to a WebSocket and runs its read/write
// loops until the peer disconnects. The caller must have authenticated userID.
func (h *Hub) Serve(userID string, w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	client := newConnection(h, conn, userID)
	h.register(client)

	metrics.ConnectedClients.Inc()
	if h.listener != nil {
		h.listener.SessionStarted(client.userID, client.id)
	}

	go client.writeLoop()
	client.readLoop(r.Context())
}

// BroadcastRoom delivers a message to every connection subscribed to the room.
func (h *Hub) BroadcastRoom(chatID string, message Message) {
	h.broadcastRoom(chatID, "", message)
}

// BroadcastRoomExcept delivers a message to room subscribers, skipping all
// connections belonging to exceptUserID. Used for typing indicators, which
// must not echo back to the emitter.
func (h *Hub) BroadcastRoomExcept(chatID, exceptUserID string, message Message) {
	h.broadcastRoom(chatID, exceptUserID, message)
}

func (h *Hub) broadcastRoom(chatID, exceptUserID string, message Message) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return
	}

	h.mu.RLock()
	clientsByUser, ok := h.rooms[chatID]
	if !ok {
		h.mu.RUnlock()
		return
	}

	message.ChatID = chatID
	var backpressured []*connection
	for userID, clients := range clientsByUser {
		if exceptUserID != "" && userID == exceptUserID {
			continue
		}
		for client := range clients {
			if !client.trySend(message) {
				backpressured = append(backpressured, client)
			}
		}
	}
	h.mu.RUnlock()

	h.dropClients(backpressured)
}

// SendToUser delivers a message to every open connection for the supplied user,
// regardless of room subscriptions. Call signaling relies on this for replies
// that target one peer rather than the whole room.
func (h *Hub) SendToUser(userID string, message Message) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return
	}

	h.mu.RLock()
	var backpressured []*connection
	for client := range h.users[userID] {
		if !client.trySend(message) {
			backpressured = append(backpressured, client)
		}
	}
	h.mu.RUnlock()

	h.dropClients(backpressured)
}

// RoomMembers reports the user ids with at least one live subscription to the room.
func (h *Hub) RoomMembers(chatID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clientsByUser := h.rooms[strings.TrimSpace(chatID)]
	members := make([]string, 0, len(clientsByUser))
	for userID := range clientsByUser {
		members = append(members, userID)
	}
	return members
}

func (h *Hub) register(client *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.users[client.userID] == nil {
		h.users[client.userID] = make(map[*connection]struct{})
	}
	h.users[client.userID][client] = struct{}{}
}

// join subscribes the connection to a room. Joining twice has no additional effect.
func (h *Hub) join(client *connection, chatID string) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if client.rooms == nil {
		client.rooms = make(map[string]struct{})
	}
	if _, exists := client.rooms[chatID]; exists {
		return
	}

	if h.rooms[chatID] == nil {
		h.rooms[chatID] = make(map[string]map[*connection]struct{})
	}
	if h.rooms[chatID][client.userID] == nil {
		h.rooms[chatID][client.userID] = make(map[*connection]struct{})
	}

	client.rooms[chatID] = struct{}{}
	h.rooms[chatID][client.userID][client] = struct{}{}
}

// leave unsubscribes the connection from a room. Safe to call when not a member.
func (h *Hub) leave(client *connection, chatID string) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeSubscriptionLocked(client, chatID)
	delete(client.rooms, chatID)
}

func (h *Hub) unregister(client *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for chatID := range client.rooms {
		h.removeSubscriptionLocked(client, chatID)
	}
	client.rooms = nil

	if clients, ok := h.users[client.userID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.users, client.userID)
		}
	}
}

func (h *Hub) removeSubscriptionLocked(client *connection, chatID string) {
	clientsByUser, ok := h.rooms[chatID]
	if !ok {
		return
	}

	userClients := clientsByUser[client.userID]
	if len(userClients) == 0 {
		return
	}

	delete(userClients, client)
	if len(userClients) == 0 {
		delete(clientsByUser, client.userID)
	}
	if len(clientsByUser) == 0 {
		delete(h.rooms, chatID)
	}
}

// dropClients disconnects clients that could not absorb a send. Must run
// without h.mu held: close re-enters the hub to unregister the connection.
func (h *Hub) dropClients(clients []*connection) {
	for _, client := range clients {
		h.log.Warn("dropping backpressure client", zap.String("user_id", client.userID))
		client.close()
	}
}

type connection struct {
	hub    *Hub
	socket *websocket.Conn
	id     string
	userID string
	rooms  map[string]struct{}

	sendMu sync.Mutex
	send   chan Message
	closed bool
	once   sync.Once
}

func newConnection(hub *Hub, conn *websocket.Conn, userID string) *connection {
	return &connection{
		hub:    hub,
		socket: conn,
		id:     uuid.NewString(),
		userID: userID,
		send:   make(chan Message, defaultBufferSize),
	}
}

func (c *connection) readLoop(ctx context.Context) {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("unexpected close", zap.String("user_id", c.userID), zap.Error(err))
			}
			break
		}

		if len(payload) == 0 {
			continue
		}

		var frame clientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.hub.log.Warn("invalid frame", zap.String("user_id", c.userID), zap.Error(err))
			continue
		}

		c.handleFrame(ctx, frame)
	}
}

func (c *connection) handleFrame(ctx context.Context, frame clientFrame) {
	event := strings.TrimSpace(frame.Event)
	if event == "" {
		return
	}

	switch event {
	case EventJoinChat:
		var ref roomRef
		if err := json.Unmarshal(frame.Data, &ref); err != nil || strings.TrimSpace(ref.ChatID) == "" {
			c.sendError(apperrors.NewBadRequest("join-chat requires a chat id"))
			metrics.RealtimeEvents.WithLabelValues(event, "error").Inc()
			return
		}
		c.hub.join(c, ref.ChatID)
	case EventLeaveChat:
		var ref roomRef
		if err := json.Unmarshal(frame.Data, &ref); err != nil {
			return
		}
		c.hub.leave(c, ref.ChatID)
	default:
		if c.hub.dispatcher == nil {
			return
		}
		sess := Session{ConnectionID: c.id, UserID: c.userID}
		if err := c.hub.dispatcher.HandleEvent(ctx, sess, event, frame.Data); err != nil {
			c.sendError(err)
			metrics.RealtimeEvents.WithLabelValues(event, "error").Inc()
			return
		}
	}
	metrics.RealtimeEvents.WithLabelValues(event, "ok").Inc()
}

// trySend offers a message to the connection's outbound buffer without
// blocking. Returns false when the buffer is full or the connection closed.
func (c *connection) trySend(message Message) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// sendError reports an operation failure back to the originating connection
// only; other room members never observe it.
func (c *connection) sendError(err error) {
	c.trySend(Message{Event: EventError, Data: apperrors.FromError(err)})
}

func (c *connection) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) close() {
	c.once.Do(func() {
		c.hub.unregister(c)
		metrics.ConnectedClients.Dec()
		if c.hub.listener != nil {
			c.hub.listener.SessionEnded(c.userID, c.id)
		}
		c.sendMu.Lock()
		c.closed = true
		close(c.send)
		c.sendMu.Unlock()
		_ = c.socket.Close()
	})
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
