package websocket

import (
	"log/slog"
	"strconv"
	"sync"

	"github.com/lorrc/issue-tracker-backend/internal/core/ports"
)

// UserRoom names the implicit room every connection of a user joins.
func UserRoom(userID int64) string {
	return "user_" + strconv.FormatInt(userID, 10)
}

// ProjectRoom names the room a connection joins to follow a project.
func ProjectRoom(projectID int64) string {
	return "project_" + strconv.FormatInt(projectID, 10)
}

// Hub maintains the set of active Clients and the rooms they joined.
// All membership changes happen under mu, so a client that has been
// unregistered can never be added back to a room.
type Hub struct {
	// Clients maps user IDs to their active connections
	// A single user can have multiple connections (multiple tabs/devices)
	clients map[int64]map[*Client]struct{}

	// Rooms maps room names to joined clients
	rooms map[string]map[*Client]struct{}

	mu sync.RWMutex

	logger *slog.Logger
}

var (
	_ ports.Sink          = (*Hub)(nil)
	_ ports.AccessRevoker = (*Hub)(nil)
)

// NewHub creates a new WebSocket hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[int64]map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
		logger:  logger.With("component", "websocket_hub"),
	}
}

// Register adds a client to the hub and to its user room.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.UserID] == nil {
		h.clients[client.UserID] = make(map[*Client]struct{})
	}
	h.clients[client.UserID][client] = struct{}{}
	h.joinLocked(client, UserRoom(client.UserID))

	h.logger.Info("client registered",
		"user_id", client.UserID,
		"connection_id", client.ID,
		"total_connections", len(h.clients[client.UserID]),
	)
}

// Unregister removes a client from the hub and all rooms, then closes its
// send queue. Calling it again is a no-op.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	userClients, ok := h.clients[client.UserID]
	if !ok {
		return
	}
	if _, exists := userClients[client]; !exists {
		return
	}

	delete(userClients, client)
	if len(userClients) == 0 {
		delete(h.clients, client.UserID)
	}

	for _, room := range client.Rooms() {
		h.leaveLocked(client, room)
	}

	client.CloseSend()

	h.logger.Info("client unregistered",
		"user_id", client.UserID,
		"connection_id", client.ID,
	)
}

// Join adds a registered client to a room. It reports false if the client
// is no longer registered.
func (h *Hub) Join(client *Client, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.UserID][client]; !ok {
		return false
	}
	h.joinLocked(client, room)

	h.logger.Debug("client joined room",
		"user_id", client.UserID,
		"connection_id", client.ID,
		"room", room,
	)
	return true
}

// Leave removes a client from a room.
func (h *Hub) Leave(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(client, room)

	h.logger.Debug("client left room",
		"user_id", client.UserID,
		"connection_id", client.ID,
		"room", room,
	)
}

func (h *Hub) joinLocked(client *Client, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][client] = struct{}{}
	client.addRoom(room)
}

func (h *Hub) leaveLocked(client *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	client.removeRoom(room)
}

// Deliver queues a frame on every client in the audience's room. Clients
// whose queue is full miss the frame.
func (h *Hub) Deliver(audience ports.Audience, frame []byte) {
	room := ProjectRoom(audience.ID)
	if audience.Kind == ports.AudienceUser {
		room = UserRoom(audience.ID)
	}

	h.mu.RLock()
	members, ok := h.rooms[room]
	if !ok {
		h.mu.RUnlock()
		return
	}

	// Copy the client list to avoid holding the lock while sending
	clients := make([]*Client, 0, len(members))
	for client := range members {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if !client.enqueue(frame) {
			h.logger.Warn("client send buffer full, dropping frame",
				"user_id", client.UserID,
				"connection_id", client.ID,
				"room", room,
			)
		}
	}
}

// RevokeProjectAccess removes every connection of the user from the
// project's room.
func (h *Hub) RevokeProjectAccess(projectID, userID int64) {
	room := ProjectRoom(projectID)

	h.mu.Lock()
	defer h.mu.Unlock()

	revoked := 0
	for client := range h.clients[userID] {
		if client.inRoom(room) {
			h.leaveLocked(client, room)
			revoked++
		}
	}

	if revoked > 0 {
		h.logger.Info("revoked project room access",
			"user_id", userID,
			"project_id", projectID,
			"connections", revoked,
		)
	}
}

// Close closes every client's send queue. Each connection then runs its
// normal disconnect path.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, userClients := range h.clients {
		for client := range userClients {
			client.CloseSend()
		}
	}
}

// GetClientCount returns the total number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, userClients := range h.clients {
		count += len(userClients)
	}
	return count
}

// GetRoomCount returns the number of active rooms
func (h *Hub) GetRoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// GetClientsInRoom returns the number of clients in a room
func (h *Hub) GetClientsInRoom(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// IsUserConnected checks if a user has any active connections
func (h *Hub) IsUserConnected(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}
