package domain

import "time"

// DefaultInactivityThreshold is how long a user may stay silent before the
// reaper marks them offline.
const DefaultInactivityThreshold = 2 * time.Minute

// ActivityEntry is the last known activity of a user within a project.
// Unique per (UserID, ProjectID).
type ActivityEntry struct {
	UserID       int64
	ProjectID    int64
	Action       string
	LastActionAt time.Time
	IsOnline     bool
	LastSeenAt   time.Time

	// Filled from the user directory on reads.
	FirstName string
	LastName  string
}

// ActivityUpdate is a single activity ping.
type ActivityUpdate struct {
	UserID    int64
	ProjectID int64
	Action    string
	Timestamp time.Time
	IsOffline bool
}

// NewUserActivityPayload builds the user_activity body for an entry.
func NewUserActivityPayload(entry ActivityEntry) UserActivityPayload {
	return UserActivityPayload{
		UserID:    entry.UserID,
		Action:    entry.Action,
		Timestamp: entry.LastActionAt.UTC().Format(time.RFC3339Nano),
		IsOnline:  entry.IsOnline,
		FirstName: entry.FirstName,
		LastName:  entry.LastName,
	}
}

// NewUserOnlineStatusPayload builds the user_online_status body for an entry,
// reporting its last seen instant.
func NewUserOnlineStatusPayload(entry ActivityEntry) UserOnlineStatusPayload {
	return UserOnlineStatusPayload{
		UserID:   entry.UserID,
		IsOnline: entry.IsOnline,
		LastSeen: entry.LastSeenAt.UTC().Format(time.RFC3339Nano),
	}
}
