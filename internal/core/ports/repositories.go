package ports

import (
	"context"
	"time"

	"github.com/lorrc/issue-tracker-backend/internal/core/domain"
)

// MembershipRepository answers project membership questions from the store.
type MembershipRepository interface {
	IsMember(ctx context.Context, projectID, userID int64) (bool, error)
	// GetBugProjectID returns the project owning a bug, or ErrBugNotFound.
	GetBugProjectID(ctx context.Context, bugID int64) (int64, error)
}

// UserDirectory resolves display names for user ids. Unknown ids are left
// out of the result rather than reported as errors.
type UserDirectory interface {
	GetDisplayNames(ctx context.Context, userIDs []int64) (map[int64]domain.UserName, error)
}

// ActivityStore holds user x project activity entries with upsert semantics.
type ActivityStore interface {
	// Upsert records a ping and reports whether the user was online before it.
	Upsert(ctx context.Context, update domain.ActivityUpdate) (entry domain.ActivityEntry, wasOnline bool, err error)
	// ListRecent returns up to limit entries of a project, newest action first.
	ListRecent(ctx context.Context, projectID int64, limit int) ([]domain.ActivityEntry, error)
	// MarkStaleOffline flips every online entry whose LastSeenAt is strictly
	// before cutoff and returns the flipped entries with their original
	// LastSeenAt.
	MarkStaleOffline(ctx context.Context, projectID int64, cutoff time.Time) ([]domain.ActivityEntry, error)
	// ProjectsWithOnlineUsers lists projects that have at least one online entry.
	ProjectsWithOnlineUsers(ctx context.Context) ([]int64, error)
}
