package domain

import "time"

// Comment is a posted comment on a bug.
type Comment struct {
	ID        int64
	BugID     int64
	ProjectID int64
	AuthorID  int64
	ParentID  *int64
	Body      string
	CreatedAt time.Time
}

// CommentSnapshot matches the API response shape for comments.
type CommentSnapshot struct {
	ID        int64  `json:"id"`
	BugID     int64  `json:"bugId"`
	AuthorID  int64  `json:"authorId"`
	ParentID  *int64 `json:"parentId,omitempty"`
	Body      string `json:"body"`
	CreatedAt string `json:"createdAt"`
}

// NewCommentSnapshot builds a comment snapshot from a domain comment.
func NewCommentSnapshot(comment *Comment) CommentSnapshot {
	return CommentSnapshot{
		ID:        comment.ID,
		BugID:     comment.BugID,
		AuthorID:  comment.AuthorID,
		ParentID:  comment.ParentID,
		Body:      comment.Body,
		CreatedAt: comment.CreatedAt.UTC().Format(time.RFC3339),
	}
}
