package services

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/lorrc/issue-tracker-backend/internal/core/domain"
	"github.com/lorrc/issue-tracker-backend/internal/core/ports"
)

// Email template names understood by the notifier.
const (
	TemplateBugAssigned       = "bug_assigned"
	TemplateProjectInvitation = "project_invitation"
	TemplateProjectRemoved    = "project_removed"
)

// Reasons attached to project_updated after membership changes.
const (
	ReasonMemberAdded   = "member_added"
	ReasonMemberRemoved = "member_removed"
)

// NotificationService turns CRUD mutations into broadcasts and emails.
// Nothing it does is reported back to the mutating caller.
type NotificationService struct {
	broadcaster ports.EventBroadcaster
	notifier    ports.Notifier
	revokers    []ports.AccessRevoker
	logger      *slog.Logger
	wg          sync.WaitGroup
}

var _ ports.MutationTriggers = (*NotificationService)(nil)

// NewNotificationService creates the mutation trigger entry point. Revokers
// are told when a member loses access to a project.
func NewNotificationService(
	broadcaster ports.EventBroadcaster,
	notifier ports.Notifier,
	logger *slog.Logger,
	revokers ...ports.AccessRevoker,
) *NotificationService {
	return &NotificationService{
		broadcaster: broadcaster,
		notifier:    notifier,
		revokers:    revokers,
		logger:      logger.With("component", "notifications"),
	}
}

func (s *NotificationService) OnBugCreated(_ context.Context, bug *domain.Bug) {
	if bug == nil {
		return
	}
	s.broadcaster.Broadcast(domain.NewProjectEvent(bug.ProjectID, domain.BugCreatedPayload{
		Bug: domain.NewBugSnapshot(bug),
	}))
}

func (s *NotificationService) OnBugUpdated(_ context.Context, bug *domain.Bug) {
	if bug == nil {
		return
	}
	s.broadcaster.Broadcast(domain.NewProjectEvent(bug.ProjectID, domain.BugUpdatedPayload{
		Bug: domain.NewBugSnapshot(bug),
	}))
}

// OnBugAssignmentChanged broadcasts the change and emails the new assignee,
// unless they assigned themselves.
func (s *NotificationService) OnBugAssignmentChanged(_ context.Context, bug *domain.Bug, previousAssigneeID *int64, actorID int64) {
	if bug == nil {
		return
	}

	s.broadcaster.Broadcast(domain.NewProjectEvent(bug.ProjectID, domain.BugAssignmentChangedPayload{
		BugID:              bug.ID,
		PreviousAssigneeID: previousAssigneeID,
		AssigneeID:         bug.AssigneeID,
		Bug:                domain.NewBugSnapshot(bug),
	}))

	if bug.AssigneeID != nil && *bug.AssigneeID != actorID {
		s.notify(ports.NotificationParams{
			RecipientUserID: *bug.AssigneeID,
			Template:        TemplateBugAssigned,
			Variables: map[string]string{
				"bug_id":     strconv.FormatInt(bug.ID, 10),
				"bug_title":  bug.Title,
				"project_id": strconv.FormatInt(bug.ProjectID, 10),
			},
		})
	}
}

func (s *NotificationService) OnBugDeleted(_ context.Context, projectID, bugID int64) {
	s.broadcaster.Broadcast(domain.NewProjectEvent(projectID, domain.BugDeletedPayload{
		BugID: bugID,
	}))
}

func (s *NotificationService) OnCommentAdded(_ context.Context, comment *domain.Comment) {
	if comment == nil {
		return
	}
	s.broadcaster.Broadcast(domain.NewProjectEvent(comment.ProjectID, domain.CommentAddedPayload{
		Comment: domain.NewCommentSnapshot(comment),
	}))
}

// OnProjectCreated tells the owner's sessions about the new project.
func (s *NotificationService) OnProjectCreated(_ context.Context, project *domain.Project) {
	if project == nil {
		return
	}
	s.broadcaster.Broadcast(domain.NewUserEvent(project.OwnerID, project.ID, domain.ProjectCreatedPayload{
		Project: domain.NewProjectSnapshot(project),
	}))
}

func (s *NotificationService) OnProjectUpdated(_ context.Context, project *domain.Project) {
	if project == nil {
		return
	}
	s.broadcaster.Broadcast(domain.NewProjectEvent(project.ID, domain.ProjectUpdatedPayload{
		Project: domain.NewProjectSnapshot(project),
	}))
}

// OnProjectMemberAdded makes the project appear for the new member and
// refreshes the member list for everyone else.
func (s *NotificationService) OnProjectMemberAdded(_ context.Context, project *domain.Project, userID int64) {
	if project == nil {
		return
	}
	snapshot := domain.NewProjectSnapshot(project)

	s.broadcaster.Broadcast(domain.NewUserEvent(userID, project.ID, domain.ProjectCreatedPayload{
		Project: snapshot,
	}))
	s.broadcaster.Broadcast(domain.NewProjectEvent(project.ID, domain.ProjectUpdatedPayload{
		Project: snapshot,
		Reason:  ReasonMemberAdded,
	}))

	s.notify(ports.NotificationParams{
		RecipientUserID: userID,
		Template:        TemplateProjectInvitation,
		Variables: map[string]string{
			"project_id":   strconv.FormatInt(project.ID, 10),
			"project_name": project.Name,
		},
	})
}

// OnProjectMemberRemoved drops the removed user's live subscriptions before
// announcing the new member list, so they never see it.
func (s *NotificationService) OnProjectMemberRemoved(_ context.Context, project *domain.Project, userID int64) {
	if project == nil {
		return
	}

	for _, revoker := range s.revokers {
		revoker.RevokeProjectAccess(project.ID, userID)
	}

	s.broadcaster.Broadcast(domain.NewUserEvent(userID, project.ID, domain.ProjectRemovedPayload{
		ProjectID: project.ID,
	}))
	s.broadcaster.Broadcast(domain.NewProjectEvent(project.ID, domain.ProjectUpdatedPayload{
		Project: domain.NewProjectSnapshot(project),
		Reason:  ReasonMemberRemoved,
	}))

	s.notify(ports.NotificationParams{
		RecipientUserID: userID,
		Template:        TemplateProjectRemoved,
		Variables: map[string]string{
			"project_id":   strconv.FormatInt(project.ID, 10),
			"project_name": project.Name,
		},
	})
}

func (s *NotificationService) notify(params ports.NotificationParams) {
	if s.notifier == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// The mutating request may already be done.
		s.notifier.Notify(context.Background(), params)
	}()
}

// Shutdown waits for in-flight emails.
func (s *NotificationService) Shutdown() {
	s.wg.Wait()
}
