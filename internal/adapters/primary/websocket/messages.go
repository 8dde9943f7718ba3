package websocket

import (
	"encoding/json"
	"time"
)

// Inbound message types.
const (
	TypeJoinUser      = "join_user"
	TypeJoinProject   = "join_project"
	TypeLeaveProject  = "leave_project"
	TypeViewBug       = "view_bug"
	TypeLeaveBug      = "leave_bug"
	TypeTypingComment = "typing_comment"
	TypeNewComment    = "new_comment"
	TypeReadComments  = "read_comments"
	TypePing          = "ping"
)

// Connection-local outbound types. Broadcast frames carry domain event types.
const (
	TypeError = "error"
	TypePong  = "pong"
)

// Error codes sent in error frames.
const (
	CodeBadRequest  = "bad_request"
	CodeForbidden   = "forbidden"
	CodeNotFound    = "not_found"
	CodeRateLimited = "rate_limited"
	CodeUnknownType = "unknown_type"
	CodeNotJoined   = "not_joined"
	CodeInternal    = "internal_error"
)

// ClientMessage is the structure for messages sent from the client.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ServerMessage is a frame that only concerns the receiving connection.
type ServerMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// ErrorPayload describes a rejected inbound message.
type ErrorPayload struct {
	RequestType string `json:"requestType,omitempty"`
	Code        string `json:"code"`
	Message     string `json:"message"`
}

type joinUserPayload struct {
	UserID int64 `json:"userId"`
}

type projectPayload struct {
	ProjectID int64 `json:"projectId"`
}

type viewBugPayload struct {
	BugID     int64  `json:"bugId"`
	ProjectID int64  `json:"projectId"`
	UserID    int64  `json:"userId"`
	Name      string `json:"name"`
}

type bugPayload struct {
	BugID int64 `json:"bugId"`
}

type typingPayload struct {
	BugID    int64  `json:"bugId"`
	Name     string `json:"name"`
	IsTyping bool   `json:"isTyping"`
}

// newCommentPayload announces a comment the client already stored through
// the REST API.
type newCommentPayload struct {
	BugID   int64 `json:"bugId"`
	Comment struct {
		ID        int64      `json:"id"`
		ParentID  *int64     `json:"parentId"`
		Body      string     `json:"body"`
		CreatedAt *time.Time `json:"createdAt"`
	} `json:"comment"`
}
