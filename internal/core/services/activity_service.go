package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/lorrc/issue-tracker-backend/internal/core/domain"
	apperrors "github.com/lorrc/issue-tracker-backend/internal/core/errors"
	"github.com/lorrc/issue-tracker-backend/internal/core/ports"
)

// MaxActionLength bounds the free-form action label of a ping.
const MaxActionLength = 100

// ActivityServiceConfig tunes the reaper.
type ActivityServiceConfig struct {
	InactivityThreshold time.Duration
	DefaultListLimit    int
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// ActivityService records activity pings, derives online status and reaps
// users that went silent.
type ActivityService struct {
	oracle      ports.MembershipOracle
	store       ports.ActivityStore
	users       ports.UserDirectory
	broadcaster ports.EventBroadcaster
	logger      *slog.Logger
	threshold   time.Duration
	listLimit   int
	now         func() time.Time

	// mu spans store mutation and the broadcasts derived from it.
	mu sync.Mutex
}

var _ ports.ActivityService = (*ActivityService)(nil)

// NewActivityService creates a new activity service.
func NewActivityService(
	oracle ports.MembershipOracle,
	store ports.ActivityStore,
	users ports.UserDirectory,
	broadcaster ports.EventBroadcaster,
	logger *slog.Logger,
	cfg ActivityServiceConfig,
) *ActivityService {
	threshold := cfg.InactivityThreshold
	if threshold <= 0 {
		threshold = domain.DefaultInactivityThreshold
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &ActivityService{
		oracle:      oracle,
		store:       store,
		users:       users,
		broadcaster: broadcaster,
		logger:      logger.With("component", "activity"),
		threshold:   threshold,
		listLimit:   cfg.DefaultListLimit,
		now:         clock,
	}
}

// RecordActivity upserts the caller's activity in a project and tells the
// project about it.
func (s *ActivityService) RecordActivity(ctx context.Context, params ports.RecordActivityParams) (domain.ActivityEntry, error) {
	action := strings.TrimSpace(params.Action)
	if utf8.RuneCountInString(action) > MaxActionLength {
		return domain.ActivityEntry{}, apperrors.ErrActionTooLong
	}

	if err := s.oracle.RequireMember(ctx, params.ProjectID, params.UserID); err != nil {
		return domain.ActivityEntry{}, err
	}

	name := s.lookupName(ctx, params.UserID)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, wasOnline, err := s.store.Upsert(ctx, domain.ActivityUpdate{
		UserID:    params.UserID,
		ProjectID: params.ProjectID,
		Action:    action,
		Timestamp: s.now().UTC(),
		IsOffline: params.IsOffline,
	})
	if err != nil {
		return domain.ActivityEntry{}, fmt.Errorf("record activity: %w", err)
	}
	entry.FirstName = name.FirstName
	entry.LastName = name.LastName

	s.broadcaster.Broadcast(domain.NewProjectEvent(entry.ProjectID, domain.NewUserActivityPayload(entry)))
	if wasOnline != entry.IsOnline {
		s.broadcaster.Broadcast(domain.NewProjectEvent(entry.ProjectID, domain.NewUserOnlineStatusPayload(entry)))
	}

	return entry, nil
}

// ListRecent returns the newest activity entries of a project. Stale entries
// are reaped before returning, and the list reflects the reaped state.
func (s *ActivityService) ListRecent(ctx context.Context, projectID, viewerID int64, limit int) ([]domain.ActivityEntry, error) {
	if err := s.oracle.RequireMember(ctx, projectID, viewerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.listLimit
	}

	entries, err := s.store.ListRecent(ctx, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	s.enrich(ctx, entries)

	reaped, err := s.ReapInactive(ctx, projectID)
	if err != nil {
		// The list is still valid; the next read or sweep retries the reap.
		s.logger.Warn("reap after list failed",
			"project_id", projectID,
			"error", err,
		)
		return entries, nil
	}

	if len(reaped) > 0 {
		offline := make(map[int64]struct{}, len(reaped))
		for _, r := range reaped {
			offline[r.UserID] = struct{}{}
		}
		for i := range entries {
			if _, ok := offline[entries[i].UserID]; ok {
				entries[i].IsOnline = false
			}
		}
	}

	return entries, nil
}

// ReapInactive marks every user of the project whose last activity is older
// than the threshold as offline and broadcasts one status event per user.
func (s *ActivityService) ReapInactive(ctx context.Context, projectID int64) ([]domain.ActivityEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().UTC().Add(-s.threshold)
	reaped, err := s.store.MarkStaleOffline(ctx, projectID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("reap inactive users: %w", err)
	}

	for _, entry := range reaped {
		entry.IsOnline = false
		s.broadcaster.Broadcast(domain.NewProjectEvent(projectID, domain.NewUserOnlineStatusPayload(entry)))
	}

	if len(reaped) > 0 {
		s.logger.Debug("reaped inactive users",
			"project_id", projectID,
			"count", len(reaped),
		)
	}
	return reaped, nil
}

// RunSweeper reaps every project with online users each interval until ctx is
// cancelled. A non-positive interval returns immediately.
func (s *ActivityService) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("activity sweeper started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("activity sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *ActivityService) sweep(ctx context.Context) {
	projectIDs, err := s.store.ProjectsWithOnlineUsers(ctx)
	if err != nil {
		s.logger.Error("failed to list projects for sweep", "error", err)
		return
	}
	for _, projectID := range projectIDs {
		if _, err := s.ReapInactive(ctx, projectID); err != nil {
			s.logger.Error("sweep failed",
				"project_id", projectID,
				"error", err,
			)
		}
	}
}

func (s *ActivityService) enrich(ctx context.Context, entries []domain.ActivityEntry) {
	if len(entries) == 0 {
		return
	}

	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.UserID)
	}

	names, err := s.users.GetDisplayNames(ctx, ids)
	if err != nil {
		s.logger.Warn("failed to resolve display names", "error", err)
		return
	}

	for i := range entries {
		if name, ok := names[entries[i].UserID]; ok {
			entries[i].FirstName = name.FirstName
			entries[i].LastName = name.LastName
		}
	}
}

func (s *ActivityService) lookupName(ctx context.Context, userID int64) domain.UserName {
	names, err := s.users.GetDisplayNames(ctx, []int64{userID})
	if err != nil {
		s.logger.Warn("failed to resolve display name",
			"user_id", userID,
			"error", err,
		)
		return domain.UserName{}
	}
	return names[userID]
}
