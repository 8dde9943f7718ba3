package domain

import (
	"encoding/json"
	"fmt"
)

// EventType defines the type of real-time event.
type EventType string

const (
	EventBugCreated           EventType = "bug_created"
	EventBugUpdated           EventType = "bug_updated"
	EventBugDeleted           EventType = "bug_deleted"
	EventBugAssignmentChanged EventType = "bug_assignment_changed"
	EventCommentAdded         EventType = "comment_added"
	EventBugViewers           EventType = "bug_viewers"
	EventUserActivity         EventType = "user_activity"
	EventUserOnlineStatus     EventType = "user_online_status"
	EventProjectCreated       EventType = "project_created"
	EventProjectUpdated       EventType = "project_updated"
	EventProjectRemoved       EventType = "project_removed"
	EventTypingComment        EventType = "typing_comment"
	EventCommentsRead         EventType = "comments_read"
)

// Scope tells the broadcaster which audience an event is addressed to.
type Scope int

const (
	// ScopeProject reaches push-streams registered for the project and the
	// socket room project_{id}.
	ScopeProject Scope = iota
	// ScopeUser reaches only the socket room user_{id}.
	ScopeUser
)

// Payload is the closed set of event bodies. Only types in this package
// implement it.
type Payload interface {
	eventType() EventType
}

// Event is an immutable broadcast unit. Build it with NewProjectEvent or
// NewUserEvent so Type always matches Payload.
type Event struct {
	Type      EventType
	ProjectID int64
	UserID    int64
	Payload   Payload
}

// NewProjectEvent builds an event addressed to everyone watching projectID.
func NewProjectEvent(projectID int64, payload Payload) Event {
	return Event{
		Type:      payload.eventType(),
		ProjectID: projectID,
		Payload:   payload,
	}
}

// NewUserEvent builds an event addressed to a single user's socket room.
func NewUserEvent(userID, projectID int64, payload Payload) Event {
	return Event{
		Type:      payload.eventType(),
		ProjectID: projectID,
		UserID:    userID,
		Payload:   payload,
	}
}

// Scope resolves the audience kind from the event type.
func (e Event) Scope() Scope {
	switch e.Type {
	case EventProjectCreated, EventProjectRemoved:
		return ScopeUser
	default:
		return ScopeProject
	}
}

// Frame is the wire shape shared by both transports.
type Frame struct {
	Type      EventType `json:"type"`
	ProjectID int64     `json:"projectId"`
	Payload   Payload   `json:"payload"`
}

// Marshal serializes the event once for delivery to every recipient.
func (e Event) Marshal() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("event %q has no payload", e.Type)
	}
	data, err := json.Marshal(Frame{
		Type:      e.Type,
		ProjectID: e.ProjectID,
		Payload:   e.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", e.Type, err)
	}
	return data, nil
}

// --- Payloads ---

// BugCreatedPayload announces a new bug.
type BugCreatedPayload struct {
	Bug BugSnapshot `json:"bug"`
}

// BugUpdatedPayload carries the bug after an update.
type BugUpdatedPayload struct {
	Bug BugSnapshot `json:"bug"`
}

// BugDeletedPayload identifies a removed bug.
type BugDeletedPayload struct {
	BugID int64 `json:"bugId"`
}

// BugAssignmentChangedPayload carries the previous and new assignee.
type BugAssignmentChangedPayload struct {
	BugID              int64       `json:"bugId"`
	PreviousAssigneeID *int64      `json:"previousAssigneeId"`
	AssigneeID         *int64      `json:"assigneeId"`
	Bug                BugSnapshot `json:"bug"`
}

// CommentAddedPayload carries a newly posted comment.
type CommentAddedPayload struct {
	Comment CommentSnapshot `json:"comment"`
}

// BugViewersPayload is the full viewer list of a bug after a change.
type BugViewersPayload struct {
	BugID   int64            `json:"bugId"`
	Viewers []ViewerSnapshot `json:"viewers"`
}

// UserActivityPayload reports an activity ping.
//
// The activity frames are the one snake_case part of the wire format
// (user_id, is_online, last_seen); activity clients match on these keys.
type UserActivityPayload struct {
	UserID    int64  `json:"user_id"`
	Action    string `json:"action"`
	Timestamp string `json:"timestamp"`
	IsOnline  bool   `json:"is_online"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// UserOnlineStatusPayload reports a user's online flag. LastSeen is the last
// activity instant, not the time the status changed.
type UserOnlineStatusPayload struct {
	UserID   int64  `json:"user_id"`
	IsOnline bool   `json:"is_online"`
	LastSeen string `json:"last_seen"`
}

// ProjectCreatedPayload tells a user a project became visible to them.
type ProjectCreatedPayload struct {
	Project ProjectSnapshot `json:"project"`
}

// ProjectUpdatedPayload carries a project after a change (including its
// membership).
type ProjectUpdatedPayload struct {
	Project ProjectSnapshot `json:"project"`
	Reason  string          `json:"reason,omitempty"`
}

// ProjectRemovedPayload tells a user they lost access to a project.
type ProjectRemovedPayload struct {
	ProjectID int64 `json:"projectId"`
}

// TypingCommentPayload relays a typing indicator.
type TypingCommentPayload struct {
	BugID       int64  `json:"bugId"`
	UserID      int64  `json:"userId"`
	DisplayName string `json:"name"`
	IsTyping    bool   `json:"isTyping"`
}

// CommentsReadPayload reports that a user caught up on a bug's comments.
type CommentsReadPayload struct {
	BugID  int64  `json:"bugId"`
	UserID int64  `json:"userId"`
	ReadAt string `json:"readAt"`
}

func (BugCreatedPayload) eventType() EventType           { return EventBugCreated }
func (BugUpdatedPayload) eventType() EventType           { return EventBugUpdated }
func (BugDeletedPayload) eventType() EventType           { return EventBugDeleted }
func (BugAssignmentChangedPayload) eventType() EventType { return EventBugAssignmentChanged }
func (CommentAddedPayload) eventType() EventType         { return EventCommentAdded }
func (BugViewersPayload) eventType() EventType           { return EventBugViewers }
func (UserActivityPayload) eventType() EventType         { return EventUserActivity }
func (UserOnlineStatusPayload) eventType() EventType     { return EventUserOnlineStatus }
func (ProjectCreatedPayload) eventType() EventType       { return EventProjectCreated }
func (ProjectUpdatedPayload) eventType() EventType       { return EventProjectUpdated }
func (ProjectRemovedPayload) eventType() EventType       { return EventProjectRemoved }
func (TypingCommentPayload) eventType() EventType        { return EventTypingComment }
func (CommentsReadPayload) eventType() EventType         { return EventCommentsRead }
