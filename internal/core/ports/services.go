package ports

import (
	"context"

	"github.com/lorrc/issue-tracker-backend/internal/core/domain"
)

// MembershipOracle gates every real-time signal on project membership.
type MembershipOracle interface {
	IsMember(ctx context.Context, projectID, userID int64) (bool, error)
	// RequireMember returns ErrNotMember when userID is not in projectID.
	RequireMember(ctx context.Context, projectID, userID int64) error
	// RequireBugAccess resolves the bug's project and checks membership in it.
	RequireBugAccess(ctx context.Context, bugID, userID int64) (projectID int64, err error)
}

// EventBroadcaster is the single choke point for real-time delivery.
type EventBroadcaster interface {
	Broadcast(event domain.Event)
}

// AudienceKind selects the addressing scheme of a delivery.
type AudienceKind int

const (
	AudienceProject AudienceKind = iota
	AudienceUser
)

// Audience names the recipients of a frame.
type Audience struct {
	Kind AudienceKind
	ID   int64
}

// Sink is one transport capable of delivering serialized frames.
// Deliver must not block and must not report per-recipient failures.
type Sink interface {
	Deliver(audience Audience, frame []byte)
}

// AccessRevoker drops a user's live subscriptions to a project after they
// lose membership.
type AccessRevoker interface {
	RevokeProjectAccess(projectID, userID int64)
}

// ViewBugParams is a "view bug" signal from a socket session.
type ViewBugParams struct {
	BugID        int64
	ProjectID    int64
	UserID       int64
	DisplayName  string
	ConnectionID string
}

// LeaveBugParams is a "leave bug" signal from a socket session.
type LeaveBugParams struct {
	BugID  int64
	UserID int64
}

// TypingParams is a typing indicator from a socket session.
type TypingParams struct {
	BugID       int64
	UserID      int64
	DisplayName string
	IsTyping    bool
}

// CommentsReadParams reports a user caught up on a bug's comments.
type CommentsReadParams struct {
	BugID  int64
	UserID int64
}

// PresenceService tracks who is viewing which bug.
type PresenceService interface {
	ViewBug(ctx context.Context, params ViewBugParams) ([]domain.Viewer, error)
	LeaveBug(ctx context.Context, params LeaveBugParams) ([]domain.Viewer, error)
	// Disconnect drops every view held by the connection and re-broadcasts
	// the affected viewer lists.
	Disconnect(connectionID string)
	Typing(ctx context.Context, params TypingParams) error
	MarkCommentsRead(ctx context.Context, params CommentsReadParams) error
	ViewerSnapshot(ctx context.Context, projectID, viewerID int64) (map[int64][]domain.Viewer, error)
}

// RecordActivityParams is an activity ping.
type RecordActivityParams struct {
	UserID    int64
	ProjectID int64
	Action    string
	IsOffline bool
}

// ActivityService tracks user activity and online status per project.
type ActivityService interface {
	RecordActivity(ctx context.Context, params RecordActivityParams) (domain.ActivityEntry, error)
	ListRecent(ctx context.Context, projectID, viewerID int64, limit int) ([]domain.ActivityEntry, error)
	ReapInactive(ctx context.Context, projectID int64) ([]domain.ActivityEntry, error)
}

// MutationTriggers is the entry point for the CRUD layer after a successful
// store write. Calls are fire-and-forget.
type MutationTriggers interface {
	OnBugCreated(ctx context.Context, bug *domain.Bug)
	OnBugUpdated(ctx context.Context, bug *domain.Bug)
	OnBugAssignmentChanged(ctx context.Context, bug *domain.Bug, previousAssigneeID *int64, actorID int64)
	OnBugDeleted(ctx context.Context, projectID, bugID int64)
	OnCommentAdded(ctx context.Context, comment *domain.Comment)
	OnProjectCreated(ctx context.Context, project *domain.Project)
	OnProjectUpdated(ctx context.Context, project *domain.Project)
	OnProjectMemberAdded(ctx context.Context, project *domain.Project, userID int64)
	OnProjectMemberRemoved(ctx context.Context, project *domain.Project, userID int64)
}

// NotificationParams defines a transactional email keyed by template name.
type NotificationParams struct {
	RecipientUserID int64
	Template        string
	Variables       map[string]string
}

// Notifier defines the port for sending asynchronous notifications.
type Notifier interface {
	Notify(ctx context.Context, params NotificationParams)
}
