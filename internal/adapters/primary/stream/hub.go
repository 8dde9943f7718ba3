// Package stream is the push-stream transport: one long-lived server-sent
// events response per connection, registered under a single project.
package stream

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/lorrc/issue-tracker-backend/internal/core/ports"
)

// Subscription is one registered push-stream connection.
type Subscription struct {
	ID        string
	ProjectID int64
	UserID    int64

	frames chan []byte
}

// Frames yields serialized events. It is closed when the subscription is
// unregistered or its access is revoked.
func (s *Subscription) Frames() <-chan []byte {
	return s.frames
}

// Hub tracks push-stream subscriptions per project.
type Hub struct {
	mu         sync.RWMutex
	projects   map[int64]map[*Subscription]struct{}
	bufferSize int
	logger     *slog.Logger
}

var (
	_ ports.Sink          = (*Hub)(nil)
	_ ports.AccessRevoker = (*Hub)(nil)
)

// NewHub creates a push-stream hub whose subscriptions buffer up to
// bufferSize frames.
func NewHub(bufferSize int, logger *slog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Hub{
		projects:   make(map[int64]map[*Subscription]struct{}),
		bufferSize: bufferSize,
		logger:     logger.With("component", "stream_hub"),
	}
}

// Register subscribes a connection to a project. Callers must have checked
// membership already.
func (h *Hub) Register(projectID, userID int64) *Subscription {
	sub := &Subscription{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		UserID:    userID,
		frames:    make(chan []byte, h.bufferSize),
	}

	h.mu.Lock()
	if h.projects[projectID] == nil {
		h.projects[projectID] = make(map[*Subscription]struct{})
	}
	h.projects[projectID][sub] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("stream registered",
		"project_id", projectID,
		"user_id", userID,
		"connection_id", sub.ID,
	)
	return sub
}

// Unregister removes a subscription and closes its frame channel. Calling it
// again is a no-op.
func (h *Hub) Unregister(sub *Subscription) {
	h.mu.Lock()
	removed := h.removeLocked(sub)
	h.mu.Unlock()

	if removed {
		h.logger.Info("stream unregistered",
			"project_id", sub.ProjectID,
			"user_id", sub.UserID,
			"connection_id", sub.ID,
		)
	}
}

func (h *Hub) removeLocked(sub *Subscription) bool {
	subs, ok := h.projects[sub.ProjectID]
	if !ok {
		return false
	}
	if _, exists := subs[sub]; !exists {
		return false
	}

	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.projects, sub.ProjectID)
	}
	close(sub.frames)
	return true
}

// Deliver queues a frame on every stream of the audience's project. The
// push-stream has no per-user channel, so user audiences are ignored.
func (h *Hub) Deliver(audience ports.Audience, frame []byte) {
	if audience.Kind != ports.AudienceProject {
		return
	}

	// Sends are non-blocking, so holding the read lock keeps them from
	// racing a close in Unregister.
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.projects[audience.ID] {
		select {
		case sub.frames <- frame:
		default:
			h.logger.Warn("stream buffer full, dropping frame",
				"project_id", sub.ProjectID,
				"connection_id", sub.ID,
			)
		}
	}
}

// RevokeProjectAccess ends every stream the user holds on the project.
func (h *Hub) RevokeProjectAccess(projectID, userID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.projects[projectID] {
		if sub.UserID == userID {
			h.removeLocked(sub)
			h.logger.Info("stream revoked",
				"project_id", projectID,
				"user_id", userID,
				"connection_id", sub.ID,
			)
		}
	}
}

// Close ends every open stream.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	closed := 0
	for _, subs := range h.projects {
		for sub := range subs {
			h.removeLocked(sub)
			closed++
		}
	}
	h.logger.Info("stream hub closed", "streams", closed)
}

// GetConnectionCount returns the number of open streams.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, subs := range h.projects {
		count += len(subs)
	}
	return count
}

// GetProjectConnectionCount returns the number of open streams of a project.
func (h *Hub) GetProjectConnectionCount(projectID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.projects[projectID])
}
