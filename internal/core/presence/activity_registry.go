package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lorrc/issue-tracker-backend/internal/core/domain"
	"github.com/lorrc/issue-tracker-backend/internal/core/ports"
)

type activityKey struct {
	userID    int64
	projectID int64
}

// ActivityRegistry is the in-memory ActivityStore. Entries live for the
// lifetime of the process.
type ActivityRegistry struct {
	mu      sync.RWMutex
	entries map[activityKey]domain.ActivityEntry
}

var _ ports.ActivityStore = (*ActivityRegistry)(nil)

// NewActivityRegistry creates an empty registry.
func NewActivityRegistry() *ActivityRegistry {
	return &ActivityRegistry{
		entries: make(map[activityKey]domain.ActivityEntry),
	}
}

// Upsert records a ping for (UserID, ProjectID).
func (r *ActivityRegistry) Upsert(_ context.Context, update domain.ActivityUpdate) (domain.ActivityEntry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := activityKey{userID: update.UserID, projectID: update.ProjectID}
	prev, exists := r.entries[key]

	entry := domain.ActivityEntry{
		UserID:       update.UserID,
		ProjectID:    update.ProjectID,
		Action:       update.Action,
		LastActionAt: update.Timestamp,
		IsOnline:     !update.IsOffline,
		LastSeenAt:   update.Timestamp,
	}
	if entry.Action == "" && exists {
		entry.Action = prev.Action
	}

	r.entries[key] = entry
	return entry, exists && prev.IsOnline, nil
}

// ListRecent returns a project's entries, newest action first.
func (r *ActivityRegistry) ListRecent(_ context.Context, projectID int64, limit int) ([]domain.ActivityEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]domain.ActivityEntry, 0)
	for key, entry := range r.entries {
		if key.projectID == projectID {
			list = append(list, entry)
		}
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].LastActionAt.Equal(list[j].LastActionAt) {
			return list[i].UserID < list[j].UserID
		}
		return list[i].LastActionAt.After(list[j].LastActionAt)
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// MarkStaleOffline flips online entries last seen strictly before cutoff.
func (r *ActivityRegistry) MarkStaleOffline(_ context.Context, projectID int64, cutoff time.Time) ([]domain.ActivityEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var flipped []domain.ActivityEntry
	for key, entry := range r.entries {
		if key.projectID != projectID || !entry.IsOnline || !entry.LastSeenAt.Before(cutoff) {
			continue
		}
		entry.IsOnline = false
		r.entries[key] = entry
		flipped = append(flipped, entry)
	}

	sort.Slice(flipped, func(i, j int) bool { return flipped[i].UserID < flipped[j].UserID })
	return flipped, nil
}

// ProjectsWithOnlineUsers lists projects with at least one online entry.
func (r *ActivityRegistry) ProjectsWithOnlineUsers(_ context.Context) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[int64]struct{})
	for key, entry := range r.entries {
		if entry.IsOnline {
			seen[key.projectID] = struct{}{}
		}
	}

	projects := make([]int64, 0, len(seen))
	for projectID := range seen {
		projects = append(projects, projectID)
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i] < projects[j] })
	return projects, nil
}
