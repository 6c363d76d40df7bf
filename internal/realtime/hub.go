// Package realtime fans project events out to websocket clients and, when a
// relay is attached, to other API instances.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event types published by the API.
const (
	EventTaskCreated    = "task.created"
	EventTaskUpdated    = "task.updated"
	EventTaskDeleted    = "task.deleted"
	EventSubtaskCreated = "subtask.created"
	EventSubtaskUpdated = "subtask.updated"
	EventSubtaskDeleted = "subtask.deleted"
	EventCommentCreated = "comment.created"
	EventCommentUpdated = "comment.updated"
	EventCommentDeleted = "comment.deleted"
	EventTimeLogCreated = "timelog.created"
	EventTimeLogDeleted = "timelog.deleted"
	EventProjectUpdated = "project.updated"
	EventProjectDeleted = "project.deleted"
)

// Event is one message delivered to a project room.
type Event struct {
	Type      string          `json:"type"`
	ProjectID string          `json:"projectId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Origin    string          `json:"origin"`
	At        time.Time       `json:"at"`
}

// Publisher forwards events to other instances.
type Publisher interface {
	Publish(evt *Event) error
}

// RoomID names the room for a project.
func RoomID(projectID string) string {
	return "project:" + projectID
}

// Client is one websocket connection subscribed to a room.
type Client struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	hub      *Hub
	roomID   string
	closedMu sync.Mutex
	closed   bool
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, userID string) *Client {
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, 64),
	}
}

type broadcastMessage struct {
	roomID  string
	message []byte
}

// Hub tracks rooms and routes broadcasts to their clients. All room
// mutations happen on the run goroutine.
type Hub struct {
	instanceID string
	rooms      map[string]map[*Client]bool
	broadcast  chan *broadcastMessage
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *zap.Logger
	ctx        context.Context
	done       chan struct{}

	relayMu sync.RWMutex
	relay   Publisher
}

// NewHub starts a hub that runs until ctx is cancelled.
func NewHub(ctx context.Context, logger *zap.Logger) *Hub {
	h := &Hub{
		instanceID: uuid.NewString(),
		rooms:      make(map[string]map[*Client]bool),
		broadcast:  make(chan *broadcastMessage, 256),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		logger:     logger,
		ctx:        ctx,
		done:       make(chan struct{}),
	}
	go h.run()
	return h
}

// InstanceID identifies this process in relayed events.
func (h *Hub) InstanceID() string { return h.instanceID }

// SetRelay attaches a cross-instance publisher.
func (h *Hub) SetRelay(p Publisher) {
	h.relayMu.Lock()
	h.relay = p
	h.relayMu.Unlock()
}

// Done is closed once the hub has shut down and closed its connections.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) run() {
	defer close(h.done)
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("Realtime hub shutting down")
			h.closeAllConnections()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.broadcastToRoom(msg)

		case <-ticker.C:
			h.mu.RLock()
			roomCount := len(h.rooms)
			clientCount := 0
			for _, clients := range h.rooms {
				clientCount += len(clients)
			}
			h.mu.RUnlock()

			h.logger.Debug("Realtime stats",
				zap.Int("rooms", roomCount),
				zap.Int("clients", clientCount),
			)
		}
	}
}

// Register subscribes a client to a project room and starts its pumps.
func (h *Hub) Register(client *Client, projectID string) {
	client.hub = h
	client.roomID = RoomID(projectID)
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		client.Conn.Close()
	}
}

// Unregister removes a client from its room.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Publish stamps evt, delivers it to the local room and hands it to the
// relay if one is attached.
func (h *Hub) Publish(evt *Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	if evt.Origin == "" {
		evt.Origin = h.instanceID
	}
	h.deliver(evt)

	h.relayMu.RLock()
	relay := h.relay
	h.relayMu.RUnlock()
	if relay != nil && evt.Origin == h.instanceID {
		if err := relay.Publish(evt); err != nil {
			h.logger.Warn("Failed to relay realtime event",
				zap.String("type", evt.Type),
				zap.String("project_id", evt.ProjectID),
				zap.Error(err),
			)
		}
	}
}

// PublishPayload marshals payload into an event for projectID. Events for
// an empty project are dropped.
func (h *Hub) PublishPayload(eventType, projectID string, payload any) {
	if projectID == "" {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("Failed to encode realtime payload", zap.String("type", eventType), zap.Error(err))
		return
	}
	h.Publish(&Event{Type: eventType, ProjectID: projectID, Payload: raw})
}

// Deliver sends an event received from another instance to local clients
// only.
func (h *Hub) Deliver(evt *Event) {
	if evt.Origin == h.instanceID {
		return
	}
	h.deliver(evt)
}

func (h *Hub) deliver(evt *Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("Failed to encode realtime event", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- &broadcastMessage{roomID: RoomID(evt.ProjectID), message: data}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[client.roomID] == nil {
		h.rooms[client.roomID] = make(map[*Client]bool)
	}
	h.rooms[client.roomID][client] = true

	h.logger.Info("Client joined room",
		zap.String("client_id", client.ID),
		zap.String("user_id", client.UserID),
		zap.String("room_id", client.roomID),
		zap.Int("room_size", len(h.rooms[client.roomID])),
	)

	go client.writePump()
	go client.readPump()
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.rooms[client.roomID]
	if !ok {
		return
	}
	if _, exists := clients[client]; !exists {
		return
	}
	delete(clients, client)
	client.closeSend()
	if len(clients) == 0 {
		delete(h.rooms, client.roomID)
	}

	h.logger.Info("Client left room",
		zap.String("client_id", client.ID),
		zap.String("user_id", client.UserID),
		zap.String("room_id", client.roomID),
		zap.Int("room_size", len(clients)),
	)
}

func (h *Hub) broadcastToRoom(msg *broadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[msg.roomID] {
		select {
		case client.Send <- msg.message:
		default:
			h.logger.Warn("Client send buffer full, dropping message",
				zap.String("client_id", client.ID),
			)
		}
	}
}

func (h *Hub) closeAllConnections() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for roomID, clients := range h.rooms {
		for client := range clients {
			client.closeSend()
			client.Conn.Close()
		}
		delete(h.rooms, roomID)
	}
}

// RoomSize returns the number of clients watching a project.
func (h *Hub) RoomSize(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[RoomID(projectID)])
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

func (c *Client) closeSend() {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()
	if !c.closed {
		close(c.Send)
		c.closed = true
	}
}

// readPump only keeps the connection alive; rooms are read-only for
// clients.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("Realtime read error",
					zap.String("client_id", c.ID),
					zap.Error(err),
				)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
