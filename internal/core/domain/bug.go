package domain

import "time"

// Bug is the slice of a bug ticket the real-time layer needs. The CRUD layer
// owns the full record.
type Bug struct {
	ID          int64
	ProjectID   int64
	Title       string
	Description string
	Status      string
	Priority    string
	ReporterID  int64
	AssigneeID  *int64
	CreatedAt   time.Time
	UpdatedAt   *time.Time
}

// BugSnapshot matches the API response shape for bugs.
type BugSnapshot struct {
	ID          int64   `json:"id"`
	ProjectID   int64   `json:"projectId"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Status      string  `json:"status"`
	Priority    string  `json:"priority"`
	ReporterID  int64   `json:"reporterId"`
	AssigneeID  *int64  `json:"assigneeId"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   *string `json:"updatedAt"`
}

// NewBugSnapshot builds a bug snapshot from a domain bug.
func NewBugSnapshot(bug *Bug) BugSnapshot {
	var updatedAt *string
	if bug.UpdatedAt != nil {
		value := bug.UpdatedAt.UTC().Format(time.RFC3339)
		updatedAt = &value
	}

	return BugSnapshot{
		ID:          bug.ID,
		ProjectID:   bug.ProjectID,
		Title:       bug.Title,
		Description: bug.Description,
		Status:      bug.Status,
		Priority:    bug.Priority,
		ReporterID:  bug.ReporterID,
		AssigneeID:  bug.AssigneeID,
		CreatedAt:   bug.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   updatedAt,
	}
}
