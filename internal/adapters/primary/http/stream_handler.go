package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lorrc/issue-tracker-backend/internal/adapters/primary/stream"
	"github.com/lorrc/issue-tracker-backend/internal/adapters/primary/validation"
	"github.com/lorrc/issue-tracker-backend/internal/core/ports"
	"github.com/lorrc/issue-tracker-backend/internal/infrastructure/logging"
)

// StreamHandler serves the per-project server-sent event stream.
type StreamHandler struct {
	hub          *stream.Hub
	oracle       ports.MembershipOracle
	keepAlive    time.Duration
	errorHandler *ErrorHandler
	logger       *slog.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(
	hub *stream.Hub,
	oracle ports.MembershipOracle,
	keepAlive time.Duration,
	errorHandler *ErrorHandler,
	logger *slog.Logger,
) *StreamHandler {
	if keepAlive <= 0 {
		keepAlive = 25 * time.Second
	}
	return &StreamHandler{
		hub:          hub,
		oracle:       oracle,
		keepAlive:    keepAlive,
		errorHandler: errorHandler,
		logger:       logger.With("handler", "stream"),
	}
}

// RegisterRoutes registers the stream route. Expects QueryTokenMiddleware
// in front, since EventSource cannot set headers.
func (h *StreamHandler) RegisterRoutes(r chi.Router) {
	r.Get("/projects/{projectID}/stream", h.HandleStream)
}

// HandleStream subscribes the caller to a project's events until the client
// goes away or the subscription is revoked.
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	claims, ok := getClaims(w, r)
	if !ok {
		return
	}

	projectID, err := validation.ParseIDParam(r, "projectID")
	if HandleError(w, r, err, h.errorHandler) {
		return
	}

	if HandleError(w, r, h.oracle.RequireMember(r.Context(), projectID, claims.UserID), h.errorHandler) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.errorHandler.Handle(w, r, fmt.Errorf("response writer does not support flushing"))
		return
	}

	ctx := r.Context()
	// The client may have gone away during the membership check.
	if ctx.Err() != nil {
		return
	}

	sub := h.hub.Register(projectID, claims.UserID)
	defer h.hub.Unregister(sub)

	logger := logging.LoggerFromContext(
		logging.WithProjectID(ctx, strconv.FormatInt(projectID, 10)),
		h.logger,
	).With("subscription_id", sub.ID)

	// Streams outlive the server write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		logger.Warn("could not clear write deadline; server write timeout will end the stream", "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	flusher.Flush()
	logger.Info("stream opened")

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	frames := sub.Frames()
	for {
		select {
		case <-ctx.Done():
			logger.Info("stream closed by client")
			return

		case frame, ok := <-frames:
			if !ok {
				logger.Info("stream closed by server")
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
				logger.Warn("stream write failed", "error", err)
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				logger.Warn("stream keepalive failed", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}
