package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	apperrors "github.com/lorrc/issue-tracker-backend/internal/core/errors"
	"github.com/lorrc/issue-tracker-backend/internal/core/ports"
)

// MembershipRepository reads project membership and bug ownership.
type MembershipRepository struct {
	pool *pgxpool.Pool
}

var _ ports.MembershipRepository = (*MembershipRepository)(nil)

func NewMembershipRepository(pool *pgxpool.Pool) *MembershipRepository {
	return &MembershipRepository{pool: pool}
}

func (r *MembershipRepository) IsMember(ctx context.Context, projectID, userID int64) (bool, error) {
	const query = `
SELECT EXISTS (
    SELECT 1 FROM project_members
    WHERE project_id = $1 AND user_id = $2
)`

	var isMember bool
	if err := GetDBTX(ctx, r.pool).QueryRow(ctx, query, projectID, userID).Scan(&isMember); err != nil {
		return false, fmt.Errorf("query membership: %w", err)
	}
	return isMember, nil
}

func (r *MembershipRepository) GetBugProjectID(ctx context.Context, bugID int64) (int64, error) {
	const query = `SELECT project_id FROM bugs WHERE id = $1`

	var projectID int64
	err := GetDBTX(ctx, r.pool).QueryRow(ctx, query, bugID).Scan(&projectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperrors.ErrBugNotFound
		}
		return 0, fmt.Errorf("query bug project: %w", err)
	}
	return projectID, nil
}
