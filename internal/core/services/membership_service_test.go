package services_test

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/lorrc/issue-tracker-backend/internal/core/errors"
	"github.com/lorrc/issue-tracker-backend/internal/core/mocks"
	"github.com/lorrc/issue-tracker-backend/internal/core/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMembershipService_RequireMember(t *testing.T) {
	ctx := context.Background()

	t.Run("member", func(t *testing.T) {
		repo := mocks.NewMockMembershipRepository()
		repo.On("IsMember", ctx, int64(3), int64(1)).Return(true, nil)

		err := services.NewMembershipService(repo).RequireMember(ctx, 3, 1)

		require.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("not a member", func(t *testing.T) {
		repo := mocks.NewMockMembershipRepository()
		repo.On("IsMember", ctx, int64(3), int64(9)).Return(false, nil)

		err := services.NewMembershipService(repo).RequireMember(ctx, 3, 9)

		assert.ErrorIs(t, err, apperrors.ErrNotMember)
	})

	t.Run("store failure denies", func(t *testing.T) {
		repo := mocks.NewMockMembershipRepository()
		repo.On("IsMember", ctx, int64(3), int64(1)).Return(false, errors.New("connection refused"))

		err := services.NewMembershipService(repo).RequireMember(ctx, 3, 1)

		require.Error(t, err)
		assert.NotErrorIs(t, err, apperrors.ErrNotMember)
	})

	t.Run("invalid ids never reach the store", func(t *testing.T) {
		repo := mocks.NewMockMembershipRepository()
		svc := services.NewMembershipService(repo)

		assert.ErrorIs(t, svc.RequireMember(ctx, 0, 1), apperrors.ErrInvalidProjectID)
		assert.ErrorIs(t, svc.RequireMember(ctx, 3, -1), apperrors.ErrInvalidUserID)

		isMember, err := svc.IsMember(ctx, 0, 1)
		require.NoError(t, err)
		assert.False(t, isMember)

		repo.AssertNotCalled(t, "IsMember", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestMembershipService_RequireBugAccess(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves the project", func(t *testing.T) {
		repo := mocks.NewMockMembershipRepository()
		repo.On("GetBugProjectID", ctx, int64(7)).Return(int64(3), nil)
		repo.On("IsMember", ctx, int64(3), int64(1)).Return(true, nil)

		projectID, err := services.NewMembershipService(repo).RequireBugAccess(ctx, 7, 1)

		require.NoError(t, err)
		assert.Equal(t, int64(3), projectID)
	})

	t.Run("unknown bug", func(t *testing.T) {
		repo := mocks.NewMockMembershipRepository()
		repo.On("GetBugProjectID", ctx, int64(99)).Return(int64(0), apperrors.ErrBugNotFound)

		_, err := services.NewMembershipService(repo).RequireBugAccess(ctx, 99, 1)

		assert.ErrorIs(t, err, apperrors.ErrBugNotFound)
	})

	t.Run("bug in a foreign project", func(t *testing.T) {
		repo := mocks.NewMockMembershipRepository()
		repo.On("GetBugProjectID", ctx, int64(7)).Return(int64(4), nil)
		repo.On("IsMember", ctx, int64(4), int64(1)).Return(false, nil)

		_, err := services.NewMembershipService(repo).RequireBugAccess(ctx, 7, 1)

		assert.ErrorIs(t, err, apperrors.ErrNotMember)
	})

	t.Run("invalid bug id", func(t *testing.T) {
		repo := mocks.NewMockMembershipRepository()

		_, err := services.NewMembershipService(repo).RequireBugAccess(ctx, 0, 1)

		assert.ErrorIs(t, err, apperrors.ErrInvalidBugID)
	})
}
