package http

import (
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	mw "github.com/lorrc/issue-tracker-backend/internal/adapters/primary/http/middleware"
	"github.com/lorrc/issue-tracker-backend/internal/adapters/primary/validation"
	"github.com/lorrc/issue-tracker-backend/internal/auth"
	"github.com/lorrc/issue-tracker-backend/internal/core/domain"
	"github.com/lorrc/issue-tracker-backend/internal/core/ports"
)

// PresenceHandler serves the viewer snapshot of a project.
type PresenceHandler struct {
	presence     ports.PresenceService
	errorHandler *ErrorHandler
	logger       *slog.Logger
}

// NewPresenceHandler creates a new presence handler
func NewPresenceHandler(
	presence ports.PresenceService,
	errorHandler *ErrorHandler,
	logger *slog.Logger,
) *PresenceHandler {
	return &PresenceHandler{
		presence:     presence,
		errorHandler: errorHandler,
		logger:       logger.With("handler", "presence"),
	}
}

// RegisterRoutes registers presence routes. Expects to be mounted behind
// JWT authentication.
func (h *PresenceHandler) RegisterRoutes(r chi.Router) {
	r.Get("/projects/{projectID}/viewers", h.HandleViewerSnapshot)
}

// ViewersResponse maps bug ids to their current viewers.
type ViewersResponse struct {
	ProjectID int64                              `json:"projectId"`
	Viewers   map[string][]domain.ViewerSnapshot `json:"viewers"`
}

// HandleViewerSnapshot returns every viewer list of a project.
func (h *PresenceHandler) HandleViewerSnapshot(w http.ResponseWriter, r *http.Request) {
	claims, ok := getClaims(w, r)
	if !ok {
		return
	}

	projectID, err := validation.ParseIDParam(r, "projectID")
	if HandleError(w, r, err, h.errorHandler) {
		return
	}

	snapshot, err := h.presence.ViewerSnapshot(r.Context(), projectID, claims.UserID)
	if HandleError(w, r, err, h.errorHandler) {
		return
	}

	bugIDs := make([]int64, 0, len(snapshot))
	for bugID := range snapshot {
		bugIDs = append(bugIDs, bugID)
	}
	sort.Slice(bugIDs, func(i, j int) bool { return bugIDs[i] < bugIDs[j] })

	viewers := make(map[string][]domain.ViewerSnapshot, len(snapshot))
	for _, bugID := range bugIDs {
		viewers[strconv.FormatInt(bugID, 10)] = domain.NewViewerSnapshots(snapshot[bugID])
	}

	WriteJSON(w, http.StatusOK, ViewersResponse{
		ProjectID: projectID,
		Viewers:   viewers,
	})
}

// getClaims reads the authenticated user or writes a 401.
func getClaims(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, ok := mw.GetClaims(r.Context())
	if !ok {
		WriteJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error: "Not authorized",
			Code:  "UNAUTHORIZED",
		})
		return nil, false
	}
	return claims, true
}
