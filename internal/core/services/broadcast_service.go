package services

import (
	"log/slog"

	"github.com/lorrc/issue-tracker-backend/internal/core/domain"
	"github.com/lorrc/issue-tracker-backend/internal/core/ports"
)

// BroadcastService fans every event out to all transports.
type BroadcastService struct {
	sinks  []ports.Sink
	logger *slog.Logger
}

// Ensure implementation matches the interface.
var _ ports.EventBroadcaster = (*BroadcastService)(nil)

// NewBroadcastService creates a broadcaster delivering to the given sinks.
func NewBroadcastService(logger *slog.Logger, sinks ...ports.Sink) *BroadcastService {
	return &BroadcastService{
		sinks:  sinks,
		logger: logger.With("component", "broadcaster"),
	}
}

// Broadcast serializes the event once and offers the same frame to every
// sink. Delivery is best-effort; nothing is reported back to the caller.
func (s *BroadcastService) Broadcast(event domain.Event) {
	frame, err := event.Marshal()
	if err != nil {
		s.logger.Error("failed to serialize event",
			"event_type", event.Type,
			"project_id", event.ProjectID,
			"error", err,
		)
		return
	}

	audience := resolveAudience(event)
	if audience.ID <= 0 {
		s.logger.Warn("dropping event without audience",
			"event_type", event.Type,
			"project_id", event.ProjectID,
			"user_id", event.UserID,
		)
		return
	}

	s.logger.Debug("broadcasting event",
		"event_type", event.Type,
		"project_id", event.ProjectID,
		"audience_id", audience.ID,
		"sink_count", len(s.sinks),
	)

	for _, sink := range s.sinks {
		sink.Deliver(audience, frame)
	}
}

func resolveAudience(event domain.Event) ports.Audience {
	switch event.Scope() {
	case domain.ScopeUser:
		return ports.Audience{Kind: ports.AudienceUser, ID: event.UserID}
	default:
		return ports.Audience{Kind: ports.AudienceProject, ID: event.ProjectID}
	}
}
