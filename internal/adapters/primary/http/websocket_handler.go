package http

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	wsAdapter "github.com/lorrc/issue-tracker-backend/internal/adapters/primary/websocket"
	"github.com/lorrc/issue-tracker-backend/internal/config"
)

// WebSocketHandler handles WebSocket connection upgrades
type WebSocketHandler struct {
	hub       *wsAdapter.Hub
	handler   wsAdapter.MessageHandler
	clientCfg wsAdapter.ClientConfig
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(
	hub *wsAdapter.Hub,
	messageHandler wsAdapter.MessageHandler,
	cfg *config.Config,
	logger *slog.Logger,
) *WebSocketHandler {
	handler := &WebSocketHandler{
		hub:       hub,
		handler:   messageHandler,
		clientCfg: ClientConfigFrom(cfg),
		logger:    logger.With("handler", "websocket"),
	}

	handler.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		CheckOrigin:     handler.makeOriginChecker(cfg),
	}

	return handler
}

// makeOriginChecker creates an origin checking function based on configuration
func (h *WebSocketHandler) makeOriginChecker(cfg *config.Config) func(r *http.Request) bool {
	allowedOrigins := cfg.WebSocket.AllowedOrigins

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		// In development mode, allow all origins (but log a warning)
		if cfg.IsDevelopment() {
			if origin != "" {
				h.logger.Warn("allowing websocket connection in development mode",
					"origin", origin,
					"remote_addr", r.RemoteAddr,
				)
			}
			return true
		}

		// No origin header (same-origin request or non-browser client)
		if origin == "" {
			return true
		}

		// Check against allowed origins
		parsedOrigin, err := url.Parse(origin)
		if err != nil {
			h.logger.Warn("failed to parse websocket origin",
				"origin", origin,
				"error", err,
			)
			return false
		}

		originHost := parsedOrigin.Host

		for _, allowed := range allowedOrigins {
			// Support wildcard subdomains like "*.example.com"
			if strings.HasPrefix(allowed, "*.") {
				suffix := allowed[1:] // Remove the "*", keep ".example.com"
				if strings.HasSuffix(originHost, suffix) || originHost == allowed[2:] {
					return true
				}
			} else if originHost == allowed {
				return true
			}
		}

		h.logger.Warn("websocket connection rejected due to origin",
			"origin", origin,
			"remote_addr", r.RemoteAddr,
			"allowed_origins", allowedOrigins,
		)
		return false
	}
}

// ClientConfigFrom maps the WebSocket settings onto pump settings, keeping
// defaults for anything unset.
func ClientConfigFrom(cfg *config.Config) wsAdapter.ClientConfig {
	clientCfg := wsAdapter.DefaultClientConfig()
	ws := cfg.WebSocket

	if ws.WriteWait > 0 {
		clientCfg.WriteWait = ws.WriteWait
	}
	if ws.PongWait > 0 {
		clientCfg.PongWait = ws.PongWait
	}
	if ws.PingInterval > 0 {
		clientCfg.PingPeriod = ws.PingInterval
	}
	if ws.MaxMessageSize > 0 {
		clientCfg.MaxMessageSize = ws.MaxMessageSize
	}
	if ws.SendBufferSize > 0 {
		clientCfg.SendBufferSize = ws.SendBufferSize
	}
	if ws.InboundRPS > 0 {
		clientCfg.InboundRPS = ws.InboundRPS
		clientCfg.InboundBurst = ws.InboundBurst
	}
	return clientCfg
}

// ServeHTTP upgrades an authenticated request. Expects QueryTokenMiddleware
// in front, since browsers cannot set headers on the handshake.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	claims, ok := getClaims(w, r)
	if !ok {
		h.logger.Warn("websocket connection rejected: missing claims",
			"request_id", requestID,
			"remote_addr", r.RemoteAddr,
		)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket connection",
			"request_id", requestID,
			"user_id", claims.UserID,
			"error", err,
		)
		return
	}

	client := wsAdapter.NewClient(
		h.hub,
		conn,
		uuid.NewString(),
		claims.UserID,
		h.handler,
		h.clientCfg,
		h.logger,
	)
	h.hub.Register(client)

	h.logger.Info("websocket connection established",
		"request_id", requestID,
		"user_id", claims.UserID,
		"connection_id", client.ID,
		"remote_addr", r.RemoteAddr,
	)

	go client.WritePump()
	go client.ReadPump()
}
