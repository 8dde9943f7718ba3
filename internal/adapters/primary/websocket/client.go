package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lorrc/issue-tracker-backend/internal/infrastructure/logging"
	"golang.org/x/time/rate"
)

// ClientConfig tunes the pumps of a single connection.
type ClientConfig struct {
	// Time allowed to write a message to the peer.
	WriteWait time.Duration
	// Time allowed to read the next pong message from the peer.
	PongWait time.Duration
	// Send pings to peer with this period. Must be less than PongWait.
	PingPeriod time.Duration
	// Maximum message size allowed from peer.
	MaxMessageSize int64
	// Outbound frames buffered before new ones are dropped.
	SendBufferSize int
	// Inbound messages allowed per second, with burst.
	InboundRPS   float64
	InboundBurst int
}

// DefaultClientConfig returns the pump settings used when none are configured.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 4096,
		SendBufferSize: 256,
		InboundRPS:     20,
		InboundBurst:   40,
	}
}

// MessageHandler processes inbound messages and the end of a connection.
type MessageHandler interface {
	HandleMessage(ctx context.Context, client *Client, msg ClientMessage)
	HandleDisconnect(client *Client)
}

// Client is a middleman between the websocket connection and the hub. It is
// the per-connection record: its rooms here and its views in the viewer
// registry are both keyed by ID.
type Client struct {
	// ID identifies the physical connection.
	ID string

	// User ID for this client.
	UserID int64

	Hub *Hub

	// The websocket connection.
	Conn *websocket.Conn

	// Buffered channel of outbound frames.
	Send chan []byte

	handler MessageHandler
	limiter *rate.Limiter
	cfg     ClientConfig

	// rooms joined, guarded by mu
	rooms map[string]struct{}
	mu    sync.RWMutex

	// sendMu guards closed so enqueue never sends on a closed channel
	sendMu sync.RWMutex
	closed bool

	logger *slog.Logger
}

// NewClient creates a new WebSocket client
func NewClient(
	hub *Hub,
	conn *websocket.Conn,
	id string,
	userID int64,
	handler MessageHandler,
	cfg ClientConfig,
	logger *slog.Logger,
) *Client {
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = DefaultClientConfig().SendBufferSize
	}
	limit := rate.Inf
	if cfg.InboundRPS > 0 {
		limit = rate.Limit(cfg.InboundRPS)
	}
	if cfg.InboundBurst <= 0 {
		cfg.InboundBurst = 1
	}

	return &Client{
		ID:      id,
		UserID:  userID,
		Hub:     hub,
		Conn:    conn,
		Send:    make(chan []byte, cfg.SendBufferSize),
		handler: handler,
		limiter: rate.NewLimiter(limit, cfg.InboundBurst),
		cfg:     cfg,
		rooms:   make(map[string]struct{}),
		logger:  logger.With("user_id", userID, "connection_id", id),
	}
}

// CloseSend closes the Send channel exactly once.
func (c *Client) CloseSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// enqueue offers a frame without blocking. It reports false when the frame
// was dropped because the queue is full.
func (c *Client) enqueue(frame []byte) bool {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.closed {
		return true
	}
	select {
	case c.Send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) addRoom(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[room] = struct{}{}
}

func (c *Client) removeRoom(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, room)
}

func (c *Client) inRoom(room string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

// Rooms returns a copy of the rooms the client is in.
func (c *Client) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// ReadPump pumps messages from the websocket connection to the handler.
// Messages of one connection are handled in order, and disconnect cleanup
// runs here once reading stops. This method runs in its own goroutine.
func (c *Client) ReadPump() {
	ctx, cancel := context.WithCancel(logging.WithConnectionID(context.Background(), c.ID))
	defer func() {
		cancel()
		c.handler.HandleDisconnect(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.cfg.MaxMessageSize)
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		c.logger.Error("failed to set read deadline", "error", err)
		return
	}

	c.Conn.SetPongHandler(func(string) error {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
			c.logger.Error("failed to set read deadline in pong handler", "error", err)
		}
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Warn("failed to unmarshal client message", "error", err)
			c.SendError("", CodeBadRequest, "malformed message")
			continue
		}

		if !c.limiter.Allow() {
			c.SendError(msg.Type, CodeRateLimited, "too many messages")
			continue
		}

		c.handler.HandleMessage(ctx, c, msg)
	}
}

// WritePump pumps frames from the hub to the websocket connection.
// This method runs in its own goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
				c.logger.Error("failed to set write deadline", "error", err)
				return
			}

			if !ok {
				// The hub closed the channel. Send close message.
				if err := c.Conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					c.logger.Debug("failed to send close message", "error", err)
				}
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Error("failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
				c.logger.Error("failed to set write deadline for ping", "error", err)
				return
			}

			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
				return
			}
		}
	}
}

// SendJSON queues a connection-local frame such as an error or a pong.
func (c *Client) SendJSON(v any) {
	frame, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("failed to marshal frame", "error", err)
		return
	}
	if !c.enqueue(frame) {
		c.logger.Warn("client send buffer full, dropping reply")
	}
}

// SendError tells the client one of its messages was rejected.
func (c *Client) SendError(requestType, code, message string) {
	c.SendJSON(ServerMessage{
		Type: TypeError,
		Payload: ErrorPayload{
			RequestType: requestType,
			Code:        code,
			Message:     message,
		},
	})
}
