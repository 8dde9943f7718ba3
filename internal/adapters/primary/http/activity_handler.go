package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lorrc/issue-tracker-backend/internal/adapters/primary/validation"
	"github.com/lorrc/issue-tracker-backend/internal/core/domain"
	"github.com/lorrc/issue-tracker-backend/internal/core/ports"
	"github.com/lorrc/issue-tracker-backend/internal/core/services"
)

// maxActivityListLimit caps the limit query parameter.
const maxActivityListLimit = 200

// ActivityHandler handles activity pings and the recent activity feed.
type ActivityHandler struct {
	activity     ports.ActivityService
	defaultLimit int
	errorHandler *ErrorHandler
	logger       *slog.Logger
}

// NewActivityHandler creates a new activity handler
func NewActivityHandler(
	activity ports.ActivityService,
	defaultLimit int,
	errorHandler *ErrorHandler,
	logger *slog.Logger,
) *ActivityHandler {
	if defaultLimit <= 0 || defaultLimit > maxActivityListLimit {
		defaultLimit = 50
	}
	return &ActivityHandler{
		activity:     activity,
		defaultLimit: defaultLimit,
		errorHandler: errorHandler,
		logger:       logger.With("handler", "activity"),
	}
}

// RegisterRoutes registers activity routes
func (h *ActivityHandler) RegisterRoutes(r chi.Router) {
	r.Post("/projects/{projectID}/activity", h.HandleRecordActivity)
	r.Get("/projects/{projectID}/activity", h.HandleListActivity)
}

// RecordActivityRequest is the body of an activity ping.
type RecordActivityRequest struct {
	Action    string `json:"action"`
	IsOffline bool   `json:"isOffline"`
}

// Validate validates the request. An offline ping may omit the action, in
// which case the previous one is kept.
func (r *RecordActivityRequest) Validate() error {
	v := validation.NewValidator()
	if !r.IsOffline {
		v.Required("action", r.Action)
	}
	v.MaxLength("action", strings.TrimSpace(r.Action), services.MaxActionLength)

	if v.HasErrors() {
		return v.Errors()
	}
	return nil
}

// ActivityResponse is the API shape of an activity entry.
type ActivityResponse struct {
	UserID       int64  `json:"userId"`
	ProjectID    int64  `json:"projectId"`
	Action       string `json:"action"`
	LastActionAt string `json:"lastActionAt"`
	IsOnline     bool   `json:"isOnline"`
	LastSeenAt   string `json:"lastSeenAt"`
	FirstName    string `json:"firstName,omitempty"`
	LastName     string `json:"lastName,omitempty"`
}

func toActivityResponse(entry domain.ActivityEntry) ActivityResponse {
	return ActivityResponse{
		UserID:       entry.UserID,
		ProjectID:    entry.ProjectID,
		Action:       entry.Action,
		LastActionAt: entry.LastActionAt.UTC().Format(time.RFC3339Nano),
		IsOnline:     entry.IsOnline,
		LastSeenAt:   entry.LastSeenAt.UTC().Format(time.RFC3339Nano),
		FirstName:    entry.FirstName,
		LastName:     entry.LastName,
	}
}

// HandleRecordActivity records a ping for the caller in a project.
func (h *ActivityHandler) HandleRecordActivity(w http.ResponseWriter, r *http.Request) {
	claims, ok := getClaims(w, r)
	if !ok {
		return
	}

	projectID, err := validation.ParseIDParam(r, "projectID")
	if HandleError(w, r, err, h.errorHandler) {
		return
	}

	req, err := validation.DecodeJSON[RecordActivityRequest](r)
	if HandleError(w, r, err, h.errorHandler) {
		return
	}
	if HandleError(w, r, req.Validate(), h.errorHandler) {
		return
	}

	entry, err := h.activity.RecordActivity(r.Context(), ports.RecordActivityParams{
		UserID:    claims.UserID,
		ProjectID: projectID,
		Action:    req.Action,
		IsOffline: req.IsOffline,
	})
	if HandleError(w, r, err, h.errorHandler) {
		return
	}

	WriteJSON(w, http.StatusOK, toActivityResponse(entry))
}

// HandleListActivity returns the most recent activity of a project.
func (h *ActivityHandler) HandleListActivity(w http.ResponseWriter, r *http.Request) {
	claims, ok := getClaims(w, r)
	if !ok {
		return
	}

	projectID, err := validation.ParseIDParam(r, "projectID")
	if HandleError(w, r, err, h.errorHandler) {
		return
	}

	limit, err := validation.ParseLimit(r, h.defaultLimit, maxActivityListLimit)
	if HandleError(w, r, err, h.errorHandler) {
		return
	}

	entries, err := h.activity.ListRecent(r.Context(), projectID, claims.UserID, limit)
	if HandleError(w, r, err, h.errorHandler) {
		return
	}

	resp := make([]ActivityResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, toActivityResponse(entry))
	}
	WriteList(w, resp)
}
