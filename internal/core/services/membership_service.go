package services

import (
	"context"
	"fmt"

	apperrors "github.com/lorrc/issue-tracker-backend/internal/core/errors"
	"github.com/lorrc/issue-tracker-backend/internal/core/ports"
)

// MembershipService answers whether a user may see a project or bug.
type MembershipService struct {
	repo ports.MembershipRepository
}

// Ensure implementation matches the interface.
var _ ports.MembershipOracle = (*MembershipService)(nil)

// NewMembershipService creates a new membership oracle.
func NewMembershipService(repo ports.MembershipRepository) *MembershipService {
	return &MembershipService{repo: repo}
}

// IsMember checks if userID belongs to projectID.
func (s *MembershipService) IsMember(ctx context.Context, projectID, userID int64) (bool, error) {
	if projectID <= 0 || userID <= 0 {
		return false, nil
	}
	isMember, err := s.repo.IsMember(ctx, projectID, userID)
	if err != nil {
		// If the store is unreachable, deny access.
		return false, fmt.Errorf("check membership: %w", err)
	}
	return isMember, nil
}

// RequireMember returns ErrNotMember unless userID belongs to projectID.
func (s *MembershipService) RequireMember(ctx context.Context, projectID, userID int64) error {
	if projectID <= 0 {
		return apperrors.ErrInvalidProjectID
	}
	if userID <= 0 {
		return apperrors.ErrInvalidUserID
	}

	isMember, err := s.IsMember(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if !isMember {
		return apperrors.ErrNotMember
	}
	return nil
}

// RequireBugAccess resolves the project owning bugID and checks userID is a
// member of it.
func (s *MembershipService) RequireBugAccess(ctx context.Context, bugID, userID int64) (int64, error) {
	if bugID <= 0 {
		return 0, apperrors.ErrInvalidBugID
	}

	projectID, err := s.repo.GetBugProjectID(ctx, bugID)
	if err != nil {
		return 0, err
	}

	if err := s.RequireMember(ctx, projectID, userID); err != nil {
		return 0, err
	}
	return projectID, nil
}
