package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/lorrc/issue-tracker-backend/internal/core/domain"
	apperrors "github.com/lorrc/issue-tracker-backend/internal/core/errors"
	"github.com/lorrc/issue-tracker-backend/internal/core/ports"
)

// errNotRegistered is returned when a room join arrives for a connection the
// hub has already dropped.
var errNotRegistered = errors.New("connection is not registered")

// Router dispatches inbound socket messages to the core services.
type Router struct {
	hub      *Hub
	presence ports.PresenceService
	oracle   ports.MembershipOracle
	triggers ports.MutationTriggers
	logger   *slog.Logger
}

var _ MessageHandler = (*Router)(nil)

// NewRouter creates the inbound message dispatcher.
func NewRouter(
	hub *Hub,
	presence ports.PresenceService,
	oracle ports.MembershipOracle,
	triggers ports.MutationTriggers,
	logger *slog.Logger,
) *Router {
	return &Router{
		hub:      hub,
		presence: presence,
		oracle:   oracle,
		triggers: triggers,
		logger:   logger.With("component", "websocket_router"),
	}
}

// HandleMessage processes one inbound message. Rejections are answered with
// an error frame and leave every registry untouched.
func (r *Router) HandleMessage(ctx context.Context, client *Client, msg ClientMessage) {
	var err error

	switch msg.Type {
	case TypeJoinUser:
		err = r.joinUser(client, msg.Payload)
	case TypeJoinProject:
		err = r.joinProject(ctx, client, msg.Payload)
	case TypeLeaveProject:
		err = r.leaveProject(client, msg.Payload)
	case TypeViewBug:
		err = r.viewBug(ctx, client, msg.Payload)
	case TypeLeaveBug:
		err = r.leaveBug(ctx, client, msg.Payload)
	case TypeTypingComment:
		err = r.typing(ctx, client, msg.Payload)
	case TypeNewComment:
		err = r.newComment(ctx, client, msg.Payload)
	case TypeReadComments:
		err = r.readComments(ctx, client, msg.Payload)
	case TypePing:
		client.SendJSON(ServerMessage{Type: TypePong})
	default:
		err = apperrors.ErrUnknownMessageType
	}

	if err != nil {
		code, message := errorFrame(err)
		if code == CodeInternal {
			client.logger.Error("socket message failed", "type", msg.Type, "error", err)
		} else {
			client.logger.Debug("socket message rejected", "type", msg.Type, "error", err)
		}
		client.SendError(msg.Type, code, message)
	}
}

// HandleDisconnect drops the client's rooms and views. It runs in the read
// pump after the last message of the connection was handled.
func (r *Router) HandleDisconnect(client *Client) {
	r.hub.Unregister(client)
	r.presence.Disconnect(client.ID)
}

func (r *Router) joinUser(client *Client, raw json.RawMessage) error {
	var p joinUserPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return apperrors.ErrBadRequest
		}
	}
	if p.UserID != 0 && p.UserID != client.UserID {
		return apperrors.ErrForbidden
	}
	if !r.hub.Join(client, UserRoom(client.UserID)) {
		return errNotRegistered
	}
	return nil
}

func (r *Router) joinProject(ctx context.Context, client *Client, raw json.RawMessage) error {
	var p projectPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperrors.ErrBadRequest
	}

	if err := r.oracle.RequireMember(ctx, p.ProjectID, client.UserID); err != nil {
		return err
	}

	if !r.hub.Join(client, ProjectRoom(p.ProjectID)) {
		return errNotRegistered
	}
	return nil
}

func (r *Router) leaveProject(client *Client, raw json.RawMessage) error {
	var p projectPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperrors.ErrBadRequest
	}
	r.hub.Leave(client, ProjectRoom(p.ProjectID))
	return nil
}

func (r *Router) viewBug(ctx context.Context, client *Client, raw json.RawMessage) error {
	var p viewBugPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperrors.ErrBadRequest
	}
	if p.UserID != 0 && p.UserID != client.UserID {
		return apperrors.ErrForbidden
	}

	_, err := r.presence.ViewBug(ctx, ports.ViewBugParams{
		BugID:        p.BugID,
		ProjectID:    p.ProjectID,
		UserID:       client.UserID,
		DisplayName:  p.Name,
		ConnectionID: client.ID,
	})
	return err
}

func (r *Router) leaveBug(ctx context.Context, client *Client, raw json.RawMessage) error {
	var p bugPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperrors.ErrBadRequest
	}

	_, err := r.presence.LeaveBug(ctx, ports.LeaveBugParams{
		BugID:  p.BugID,
		UserID: client.UserID,
	})
	return err
}

func (r *Router) typing(ctx context.Context, client *Client, raw json.RawMessage) error {
	var p typingPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperrors.ErrBadRequest
	}

	return r.presence.Typing(ctx, ports.TypingParams{
		BugID:       p.BugID,
		UserID:      client.UserID,
		DisplayName: p.Name,
		IsTyping:    p.IsTyping,
	})
}

func (r *Router) newComment(ctx context.Context, client *Client, raw json.RawMessage) error {
	var p newCommentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperrors.ErrBadRequest
	}
	if p.Comment.ID <= 0 {
		return apperrors.ErrInvalidCommentID
	}
	if strings.TrimSpace(p.Comment.Body) == "" {
		return apperrors.ErrCommentBodyEmpty
	}

	projectID, err := r.oracle.RequireBugAccess(ctx, p.BugID, client.UserID)
	if err != nil {
		return err
	}

	createdAt := time.Now().UTC()
	if p.Comment.CreatedAt != nil {
		createdAt = *p.Comment.CreatedAt
	}

	r.triggers.OnCommentAdded(ctx, &domain.Comment{
		ID:        p.Comment.ID,
		BugID:     p.BugID,
		ProjectID: projectID,
		AuthorID:  client.UserID,
		ParentID:  p.Comment.ParentID,
		Body:      p.Comment.Body,
		CreatedAt: createdAt,
	})
	return nil
}

func (r *Router) readComments(ctx context.Context, client *Client, raw json.RawMessage) error {
	var p bugPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperrors.ErrBadRequest
	}

	return r.presence.MarkCommentsRead(ctx, ports.CommentsReadParams{
		BugID:  p.BugID,
		UserID: client.UserID,
	})
}

// errorFrame maps a core error to an error frame code and message.
func errorFrame(err error) (string, string) {
	switch {
	case errors.Is(err, apperrors.ErrNotMember),
		errors.Is(err, apperrors.ErrForbidden):
		return CodeForbidden, "not allowed"
	case errors.Is(err, apperrors.ErrBugNotFound),
		errors.Is(err, apperrors.ErrProjectNotFound):
		return CodeNotFound, err.Error()
	case errors.Is(err, apperrors.ErrUnknownMessageType):
		return CodeUnknownType, err.Error()
	case errors.Is(err, errNotRegistered):
		return CodeNotJoined, err.Error()
	case errors.Is(err, apperrors.ErrBadRequest),
		errors.Is(err, apperrors.ErrInvalidProjectID),
		errors.Is(err, apperrors.ErrInvalidBugID),
		errors.Is(err, apperrors.ErrInvalidUserID),
		errors.Is(err, apperrors.ErrInvalidCommentID),
		errors.Is(err, apperrors.ErrCommentBodyEmpty),
		errors.Is(err, apperrors.ErrConnectionRequired):
		return CodeBadRequest, err.Error()
	default:
		return CodeInternal, "internal error"
	}
}
