package domain

import "time"

// Project is a tenant workspace that owns bugs and members.
type Project struct {
	ID          int64
	Name        string
	Description string
	OwnerID     int64
	MemberIDs   []int64
	CreatedAt   time.Time
}

// ProjectSnapshot matches the API response shape for projects.
type ProjectSnapshot struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	OwnerID     int64   `json:"ownerId"`
	MemberIDs   []int64 `json:"memberIds"`
	CreatedAt   string  `json:"createdAt"`
}

// NewProjectSnapshot builds a project snapshot from a domain project.
func NewProjectSnapshot(project *Project) ProjectSnapshot {
	memberIDs := project.MemberIDs
	if memberIDs == nil {
		memberIDs = []int64{}
	}
	return ProjectSnapshot{
		ID:          project.ID,
		Name:        project.Name,
		Description: project.Description,
		OwnerID:     project.OwnerID,
		MemberIDs:   memberIDs,
		CreatedAt:   project.CreatedAt.UTC().Format(time.RFC3339),
	}
}
