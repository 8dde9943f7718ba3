// Package presence holds the in-memory registries behind real-time presence.
// Registries never broadcast; callers pair each mutation with the matching
// event.
package presence

import (
	"sort"
	"sync"

	"github.com/lorrc/issue-tracker-backend/internal/core/domain"
)

type viewerKey struct {
	bugID  int64
	userID int64
}

// ViewerRegistry maps bugs to the users currently viewing them.
type ViewerRegistry struct {
	mu sync.RWMutex

	// bugs maps bug IDs to their viewers keyed by user ID.
	bugs map[int64]map[int64]domain.Viewer

	// connections indexes the viewer entries owned by each connection so
	// disconnect cleanup is a single lookup.
	connections map[string]map[viewerKey]struct{}
}

// NewViewerRegistry creates an empty registry.
func NewViewerRegistry() *ViewerRegistry {
	return &ViewerRegistry{
		bugs:        make(map[int64]map[int64]domain.Viewer),
		connections: make(map[string]map[viewerKey]struct{}),
	}
}

// RecordView upserts the viewer entry for (BugID, UserID) and returns the
// bug's viewer list. A later view from another connection takes ownership of
// the entry.
func (r *ViewerRegistry) RecordView(v domain.Viewer) []domain.Viewer {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := viewerKey{bugID: v.BugID, userID: v.UserID}

	viewers, ok := r.bugs[v.BugID]
	if !ok {
		viewers = make(map[int64]domain.Viewer)
		r.bugs[v.BugID] = viewers
	}

	if prev, exists := viewers[v.UserID]; exists && prev.ConnectionID != v.ConnectionID {
		r.unindex(prev.ConnectionID, key)
	}

	viewers[v.UserID] = v
	r.index(v.ConnectionID, key)

	return sortedViewers(viewers)
}

// RecordLeave removes the viewer entry for (bugID, userID) if present and
// returns the bug's remaining viewers.
func (r *ViewerRegistry) RecordLeave(bugID, userID int64) []domain.Viewer {
	r.mu.Lock()
	defer r.mu.Unlock()

	viewers, ok := r.bugs[bugID]
	if !ok {
		return []domain.Viewer{}
	}

	if prev, exists := viewers[userID]; exists {
		delete(viewers, userID)
		r.unindex(prev.ConnectionID, viewerKey{bugID: bugID, userID: userID})
	}

	list := sortedViewers(viewers)
	if len(viewers) == 0 {
		delete(r.bugs, bugID)
	}
	return list
}

// RemoveByConnection drops every entry owned by connectionID and returns the
// updated viewer list of each affected bug, ordered by bug ID. Unknown
// connections yield no changes.
func (r *ViewerRegistry) RemoveByConnection(connectionID string) []domain.ViewerChange {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys, ok := r.connections[connectionID]
	if !ok {
		return nil
	}
	delete(r.connections, connectionID)

	changed := make(map[int64]int64) // bug ID -> project ID
	for key := range keys {
		viewers, ok := r.bugs[key.bugID]
		if !ok {
			continue
		}
		v, exists := viewers[key.userID]
		if !exists || v.ConnectionID != connectionID {
			continue
		}
		delete(viewers, key.userID)
		changed[key.bugID] = v.ProjectID
	}

	changes := make([]domain.ViewerChange, 0, len(changed))
	for bugID, projectID := range changed {
		viewers := r.bugs[bugID]
		changes = append(changes, domain.ViewerChange{
			BugID:     bugID,
			ProjectID: projectID,
			Viewers:   sortedViewers(viewers),
		})
		if len(viewers) == 0 {
			delete(r.bugs, bugID)
		}
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].BugID < changes[j].BugID })
	return changes
}

// RemoveUserFromProject drops every entry userID holds on projectID's bugs,
// whatever connection owns it, and returns the affected bugs' viewer lists
// ordered by bug ID.
func (r *ViewerRegistry) RemoveUserFromProject(projectID, userID int64) []domain.ViewerChange {
	r.mu.Lock()
	defer r.mu.Unlock()

	var changes []domain.ViewerChange
	for bugID, viewers := range r.bugs {
		v, exists := viewers[userID]
		if !exists || v.ProjectID != projectID {
			continue
		}
		delete(viewers, userID)
		r.unindex(v.ConnectionID, viewerKey{bugID: bugID, userID: userID})

		changes = append(changes, domain.ViewerChange{
			BugID:     bugID,
			ProjectID: projectID,
			Viewers:   sortedViewers(viewers),
		})
		if len(viewers) == 0 {
			delete(r.bugs, bugID)
		}
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].BugID < changes[j].BugID })
	return changes
}

// ListViewers returns a snapshot of a bug's viewers.
func (r *ViewerRegistry) ListViewers(bugID int64) []domain.Viewer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedViewers(r.bugs[bugID])
}

// Viewer returns the entry for (bugID, userID) if one exists.
func (r *ViewerRegistry) Viewer(bugID, userID int64) (domain.Viewer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.bugs[bugID][userID]
	return v, ok
}

// Snapshot returns the viewer list of every viewed bug of a project.
func (r *ViewerRegistry) Snapshot(projectID int64) map[int64][]domain.Viewer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[int64][]domain.Viewer)
	for bugID, viewers := range r.bugs {
		for _, v := range viewers {
			if v.ProjectID == projectID {
				result[bugID] = append(result[bugID], v)
			}
		}
	}
	for bugID := range result {
		sortViewers(result[bugID])
	}
	return result
}

// ConnectionCount returns the number of connections holding at least one view.
func (r *ViewerRegistry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

func (r *ViewerRegistry) index(connectionID string, key viewerKey) {
	keys, ok := r.connections[connectionID]
	if !ok {
		keys = make(map[viewerKey]struct{})
		r.connections[connectionID] = keys
	}
	keys[key] = struct{}{}
}

func (r *ViewerRegistry) unindex(connectionID string, key viewerKey) {
	keys, ok := r.connections[connectionID]
	if !ok {
		return
	}
	delete(keys, key)
	if len(keys) == 0 {
		delete(r.connections, connectionID)
	}
}

func sortedViewers(viewers map[int64]domain.Viewer) []domain.Viewer {
	list := make([]domain.Viewer, 0, len(viewers))
	for _, v := range viewers {
		list = append(list, v)
	}
	sortViewers(list)
	return list
}

func sortViewers(list []domain.Viewer) {
	sort.Slice(list, func(i, j int) bool { return list[i].UserID < list[j].UserID })
}
