package domain

// Viewer records that a user has a bug's detail view open on a connection.
// At most one Viewer exists per (BugID, UserID).
type Viewer struct {
	BugID        int64
	ProjectID    int64
	UserID       int64
	DisplayName  string
	ConnectionID string
}

// ViewerSnapshot is the wire shape of a viewer. The connection id stays
// server-side.
type ViewerSnapshot struct {
	UserID    int64  `json:"userId"`
	Name      string `json:"name"`
	ProjectID int64  `json:"projectId"`
}

// NewViewerSnapshots converts a viewer list for broadcasting.
func NewViewerSnapshots(viewers []Viewer) []ViewerSnapshot {
	snapshots := make([]ViewerSnapshot, 0, len(viewers))
	for _, v := range viewers {
		snapshots = append(snapshots, ViewerSnapshot{
			UserID:    v.UserID,
			Name:      v.DisplayName,
			ProjectID: v.ProjectID,
		})
	}
	return snapshots
}

// ViewerChange is one bug whose viewer list changed during a bulk removal.
type ViewerChange struct {
	BugID     int64
	ProjectID int64
	Viewers   []Viewer
}
