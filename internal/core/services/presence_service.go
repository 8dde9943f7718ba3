package services

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lorrc/issue-tracker-backend/internal/core/domain"
	apperrors "github.com/lorrc/issue-tracker-backend/internal/core/errors"
	"github.com/lorrc/issue-tracker-backend/internal/core/ports"
	"github.com/lorrc/issue-tracker-backend/internal/core/presence"
)

// PresenceService turns socket signals into viewer registry changes and
// bug_viewers broadcasts.
type PresenceService struct {
	oracle      ports.MembershipOracle
	users       ports.UserDirectory
	viewers     *presence.ViewerRegistry
	broadcaster ports.EventBroadcaster
	logger      *slog.Logger
	now         func() time.Time

	// mu spans each registry mutation and the broadcast it triggers, so a
	// leave racing a disconnect cannot publish a stale list last.
	mu sync.Mutex
}

var (
	_ ports.PresenceService = (*PresenceService)(nil)
	_ ports.AccessRevoker   = (*PresenceService)(nil)
)

// NewPresenceService creates a new presence service.
func NewPresenceService(
	oracle ports.MembershipOracle,
	users ports.UserDirectory,
	viewers *presence.ViewerRegistry,
	broadcaster ports.EventBroadcaster,
	logger *slog.Logger,
) *PresenceService {
	return &PresenceService{
		oracle:      oracle,
		users:       users,
		viewers:     viewers,
		broadcaster: broadcaster,
		logger:      logger.With("component", "presence"),
		now:         time.Now,
	}
}

// ViewBug records that a user opened a bug on a connection and broadcasts the
// new viewer list to the bug's project.
func (s *PresenceService) ViewBug(ctx context.Context, params ports.ViewBugParams) ([]domain.Viewer, error) {
	if params.ConnectionID == "" {
		return nil, apperrors.ErrConnectionRequired
	}

	// 1. Authorization (suspends on the store, so it runs before any lock)
	projectID, err := s.oracle.RequireBugAccess(ctx, params.BugID, params.UserID)
	if err != nil {
		return nil, err
	}
	if params.ProjectID != 0 && params.ProjectID != projectID {
		return nil, apperrors.ErrForbidden
	}

	// 2. Resolve a display name when the client did not send one
	name := strings.TrimSpace(params.DisplayName)
	if name == "" {
		name = s.lookupDisplayName(ctx, params.UserID)
	}

	// 3. Mutate and broadcast as one step
	s.mu.Lock()
	defer s.mu.Unlock()

	viewers := s.viewers.RecordView(domain.Viewer{
		BugID:        params.BugID,
		ProjectID:    projectID,
		UserID:       params.UserID,
		DisplayName:  name,
		ConnectionID: params.ConnectionID,
	})
	s.broadcastViewers(projectID, params.BugID, viewers)

	return viewers, nil
}

// LeaveBug removes the user's view of a bug. Leaving a bug that is not being
// viewed changes nothing and broadcasts nothing.
func (s *PresenceService) LeaveBug(_ context.Context, params ports.LeaveBugParams) ([]domain.Viewer, error) {
	if params.BugID <= 0 {
		return nil, apperrors.ErrInvalidBugID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.viewers.Viewer(params.BugID, params.UserID)
	if !ok {
		return s.viewers.ListViewers(params.BugID), nil
	}

	viewers := s.viewers.RecordLeave(params.BugID, params.UserID)
	s.broadcastViewers(current.ProjectID, params.BugID, viewers)

	return viewers, nil
}

// Disconnect drops every view owned by the connection and re-broadcasts each
// affected bug's viewer list.
func (s *PresenceService) Disconnect(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changes := s.viewers.RemoveByConnection(connectionID)
	for _, change := range changes {
		s.broadcastViewers(change.ProjectID, change.BugID, change.Viewers)
	}

	if len(changes) > 0 {
		s.logger.Debug("connection views cleared",
			"connection_id", connectionID,
			"bug_count", len(changes),
		)
	}
}

// RevokeProjectAccess clears a removed member's views on the project's bugs
// and re-broadcasts each affected bug's viewer list.
func (s *PresenceService) RevokeProjectAccess(projectID, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changes := s.viewers.RemoveUserFromProject(projectID, userID)
	for _, change := range changes {
		s.broadcastViewers(change.ProjectID, change.BugID, change.Viewers)
	}

	if len(changes) > 0 {
		s.logger.Info("removed member views cleared",
			"project_id", projectID,
			"user_id", userID,
			"bug_count", len(changes),
		)
	}
}

// Typing relays a typing indicator to the bug's project.
func (s *PresenceService) Typing(ctx context.Context, params ports.TypingParams) error {
	projectID, err := s.oracle.RequireBugAccess(ctx, params.BugID, params.UserID)
	if err != nil {
		return err
	}

	name := strings.TrimSpace(params.DisplayName)
	if name == "" {
		name = s.lookupDisplayName(ctx, params.UserID)
	}

	s.broadcaster.Broadcast(domain.NewProjectEvent(projectID, domain.TypingCommentPayload{
		BugID:       params.BugID,
		UserID:      params.UserID,
		DisplayName: name,
		IsTyping:    params.IsTyping,
	}))
	return nil
}

// MarkCommentsRead tells the project a user caught up on a bug's comments.
func (s *PresenceService) MarkCommentsRead(ctx context.Context, params ports.CommentsReadParams) error {
	projectID, err := s.oracle.RequireBugAccess(ctx, params.BugID, params.UserID)
	if err != nil {
		return err
	}

	s.broadcaster.Broadcast(domain.NewProjectEvent(projectID, domain.CommentsReadPayload{
		BugID:  params.BugID,
		UserID: params.UserID,
		ReadAt: s.now().UTC().Format(time.RFC3339),
	}))
	return nil
}

// ViewerSnapshot returns the viewer list of every viewed bug in a project.
func (s *PresenceService) ViewerSnapshot(ctx context.Context, projectID, viewerID int64) (map[int64][]domain.Viewer, error) {
	if err := s.oracle.RequireMember(ctx, projectID, viewerID); err != nil {
		return nil, err
	}
	return s.viewers.Snapshot(projectID), nil
}

func (s *PresenceService) broadcastViewers(projectID, bugID int64, viewers []domain.Viewer) {
	s.broadcaster.Broadcast(domain.NewProjectEvent(projectID, domain.BugViewersPayload{
		BugID:   bugID,
		Viewers: domain.NewViewerSnapshots(viewers),
	}))
}

func (s *PresenceService) lookupDisplayName(ctx context.Context, userID int64) string {
	names, err := s.users.GetDisplayNames(ctx, []int64{userID})
	if err != nil {
		s.logger.Warn("failed to resolve display name",
			"user_id", userID,
			"error", err,
		)
		return ""
	}
	return names[userID].DisplayName()
}
