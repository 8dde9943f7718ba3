package http

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	mw "github.com/lorrc/issue-tracker-backend/internal/adapters/primary/http/middleware"
	"github.com/lorrc/issue-tracker-backend/internal/adapters/primary/stream"
	wsAdapter "github.com/lorrc/issue-tracker-backend/internal/adapters/primary/websocket"
	"github.com/lorrc/issue-tracker-backend/internal/auth"
	"github.com/lorrc/issue-tracker-backend/internal/config"
	"github.com/lorrc/issue-tracker-backend/internal/core/domain"
	apperrors "github.com/lorrc/issue-tracker-backend/internal/core/errors"
	"github.com/lorrc/issue-tracker-backend/internal/core/mocks"
	"github.com/lorrc/issue-tracker-backend/internal/core/ports"
	"github.com/lorrc/issue-tracker-backend/internal/core/presence"
	"github.com/lorrc/issue-tracker-backend/internal/core/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-that-is-long-enough"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type apiEnv struct {
	router      stdhttp.Handler
	tm          *auth.TokenManager
	oracle      *mocks.MockMembershipOracle
	users       *mocks.MockUserDirectory
	viewers     *presence.ViewerRegistry
	streamHub   *stream.Hub
	socketHub   *wsAdapter.Hub
	broadcaster *services.BroadcastService
}

// newAPIEnv mounts the real-time routes the way the server does, over real
// services and mocked membership.
func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	logger := testLogger()
	env := &apiEnv{
		tm:        auth.NewTokenManager(testSecret, time.Hour),
		oracle:    mocks.NewMockMembershipOracle(),
		users:     mocks.NewMockUserDirectory(),
		viewers:   presence.NewViewerRegistry(),
		streamHub: stream.NewHub(16, logger),
		socketHub: wsAdapter.NewHub(logger),
	}
	env.broadcaster = services.NewBroadcastService(logger, env.streamHub, env.socketHub)

	presenceSvc := services.NewPresenceService(env.oracle, env.users, env.viewers, env.broadcaster, logger)
	activitySvc := services.NewActivityService(env.oracle, presence.NewActivityRegistry(), env.users, env.broadcaster, logger,
		services.ActivityServiceConfig{DefaultListLimit: 50})
	triggers := services.NewNotificationService(env.broadcaster, nil, logger)
	wsRouter := wsAdapter.NewRouter(env.socketHub, presenceSvc, env.oracle, triggers, logger)

	cfg := &config.Config{App: config.AppConfig{Environment: "development"}}
	errorHandler := NewErrorHandler(logger)

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(mw.JWTMiddleware(env.tm))
			NewPresenceHandler(presenceSvc, errorHandler, logger).RegisterRoutes(r)
			NewActivityHandler(activitySvc, 50, errorHandler, logger).RegisterRoutes(r)
		})
		r.Group(func(r chi.Router) {
			r.Use(mw.QueryTokenMiddleware(env.tm))
			NewStreamHandler(env.streamHub, env.oracle, time.Hour, errorHandler, logger).RegisterRoutes(r)
			r.Handle("/ws", NewWebSocketHandler(env.socketHub, wsRouter, cfg, logger))
		})
	})
	env.router = r
	return env
}

func (e *apiEnv) token(t *testing.T, userID int64) string {
	t.Helper()
	token, err := e.tm.GenerateToken(userID, "user@example.com")
	require.NoError(t, err)
	return token
}

func (e *apiEnv) do(t *testing.T, method, path string, userID int64, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID > 0 {
		req.Header.Set("Authorization", "Bearer "+e.token(t, userID))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestPresenceHandler_ViewerSnapshot(t *testing.T) {
	env := newAPIEnv(t)
	env.oracle.On("RequireMember", mock.Anything, int64(3), int64(1)).Return(nil)
	env.oracle.On("RequireMember", mock.Anything, int64(3), int64(9)).Return(apperrors.ErrNotMember)

	env.viewers.RecordView(domain.Viewer{BugID: 7, ProjectID: 3, UserID: 1, DisplayName: "Ada", ConnectionID: "a"})
	env.viewers.RecordView(domain.Viewer{BugID: 8, ProjectID: 3, UserID: 2, DisplayName: "Bob", ConnectionID: "b"})
	env.viewers.RecordView(domain.Viewer{BugID: 9, ProjectID: 4, UserID: 2, DisplayName: "Bob", ConnectionID: "b"})

	t.Run("member sees project viewers", func(t *testing.T) {
		rec := env.do(t, stdhttp.MethodGet, "/api/v1/projects/3/viewers", 1, "")
		require.Equal(t, stdhttp.StatusOK, rec.Code)

		var resp ViewersResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, int64(3), resp.ProjectID)
		require.Len(t, resp.Viewers, 2)
		assert.Equal(t, "Ada", resp.Viewers["7"][0].Name)
		assert.Equal(t, int64(2), resp.Viewers["8"][0].UserID)
	})

	t.Run("non-member is forbidden", func(t *testing.T) {
		rec := env.do(t, stdhttp.MethodGet, "/api/v1/projects/3/viewers", 9, "")
		assert.Equal(t, stdhttp.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), "NOT_MEMBER")
	})

	t.Run("missing token", func(t *testing.T) {
		rec := env.do(t, stdhttp.MethodGet, "/api/v1/projects/3/viewers", 0, "")
		assert.Equal(t, stdhttp.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid project id", func(t *testing.T) {
		rec := env.do(t, stdhttp.MethodGet, "/api/v1/projects/abc/viewers", 1, "")
		assert.Equal(t, stdhttp.StatusUnprocessableEntity, rec.Code)
	})
}

func TestActivityHandler_RecordAndList(t *testing.T) {
	env := newAPIEnv(t)
	env.oracle.On("RequireMember", mock.Anything, int64(3), int64(1)).Return(nil)
	env.oracle.On("RequireMember", mock.Anything, int64(3), int64(9)).Return(apperrors.ErrNotMember)
	env.users.On("GetDisplayNames", mock.Anything, mock.Anything).Return(map[int64]domain.UserName{
		1: {UserID: 1, FirstName: "Ada", LastName: "Lovelace"},
	}, nil)

	rec := env.do(t, stdhttp.MethodPost, "/api/v1/projects/3/activity", 1, `{"action":"viewing bug #7"}`)
	require.Equal(t, stdhttp.StatusOK, rec.Code, rec.Body.String())

	var entry ActivityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, "viewing bug #7", entry.Action)
	assert.True(t, entry.IsOnline)
	assert.Equal(t, "Ada", entry.FirstName)

	rec = env.do(t, stdhttp.MethodGet, "/api/v1/projects/3/activity?limit=10", 1, "")
	require.Equal(t, stdhttp.StatusOK, rec.Code)

	var list ListResponse[ActivityResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, int64(1), list.Data[0].UserID)
}

func TestActivityHandler_OfflinePingKeepsAction(t *testing.T) {
	env := newAPIEnv(t)
	env.oracle.On("RequireMember", mock.Anything, int64(3), int64(1)).Return(nil)
	env.users.On("GetDisplayNames", mock.Anything, mock.Anything).Return(map[int64]domain.UserName{}, nil)

	action := strings.Repeat("я", 60)
	rec := env.do(t, stdhttp.MethodPost, "/api/v1/projects/3/activity", 1, `{"action":"`+action+`"}`)
	require.Equal(t, stdhttp.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, stdhttp.MethodPost, "/api/v1/projects/3/activity", 1, `{"isOffline":true}`)
	require.Equal(t, stdhttp.StatusOK, rec.Code, rec.Body.String())

	var entry ActivityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.False(t, entry.IsOnline)
	assert.Equal(t, action, entry.Action)
}

func TestActivityHandler_Rejections(t *testing.T) {
	env := newAPIEnv(t)
	env.oracle.On("RequireMember", mock.Anything, int64(3), int64(9)).Return(apperrors.ErrNotMember)
	env.users.On("GetDisplayNames", mock.Anything, mock.Anything).Return(map[int64]domain.UserName{}, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"empty action", stdhttp.MethodPost, "/api/v1/projects/3/activity", `{"action":"  "}`, stdhttp.StatusUnprocessableEntity},
		{"action too long", stdhttp.MethodPost, "/api/v1/projects/3/activity", `{"action":"` + strings.Repeat("x", 101) + `"}`, stdhttp.StatusUnprocessableEntity},
		{"multibyte action too long", stdhttp.MethodPost, "/api/v1/projects/3/activity", `{"action":"` + strings.Repeat("я", 101) + `"}`, stdhttp.StatusUnprocessableEntity},
		{"malformed body", stdhttp.MethodPost, "/api/v1/projects/3/activity", `{`, stdhttp.StatusBadRequest},
		{"non-member ping", stdhttp.MethodPost, "/api/v1/projects/3/activity", `{"action":"x"}`, stdhttp.StatusForbidden},
		{"bad limit", stdhttp.MethodGet, "/api/v1/projects/3/activity?limit=0", "", stdhttp.StatusUnprocessableEntity},
		{"non-member list", stdhttp.MethodGet, "/api/v1/projects/3/activity", "", stdhttp.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, 9, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestStreamHandler_DeliversProjectFrames(t *testing.T) {
	env := newAPIEnv(t)
	env.oracle.On("RequireMember", mock.Anything, int64(3), int64(1)).Return(nil)

	server := httptest.NewServer(env.router)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := stdhttp.NewRequestWithContext(ctx, stdhttp.MethodGet,
		server.URL+"/api/v1/projects/3/stream?token="+env.token(t, 1), nil)
	require.NoError(t, err)

	resp, err := stdhttp.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, stdhttp.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)
	assert.Equal(t, 1, env.streamHub.GetProjectConnectionCount(3))

	// Other projects and user-scoped events never reach this stream.
	env.broadcaster.Broadcast(domain.NewProjectEvent(4, domain.BugDeletedPayload{BugID: 1}))
	env.broadcaster.Broadcast(domain.NewUserEvent(1, 3, domain.ProjectRemovedPayload{ProjectID: 3}))
	env.broadcaster.Broadcast(domain.NewProjectEvent(3, domain.BugDeletedPayload{BugID: 42}))

	var data string
	for data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimSuffix(strings.TrimPrefix(line, "data: "), "\n")
		}
	}

	var frame struct {
		Type      string          `json:"type"`
		ProjectID int64           `json:"projectId"`
		Payload   json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal([]byte(data), &frame))
	assert.Equal(t, "bug_deleted", frame.Type)
	assert.Equal(t, int64(3), frame.ProjectID)
	assert.JSONEq(t, `{"bugId":42}`, string(frame.Payload))

	cancel()
	assert.Eventually(t, func() bool {
		return env.streamHub.GetConnectionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamHandler_WarnsWhenDeadlineCannotBeCleared(t *testing.T) {
	env := newAPIEnv(t)
	env.oracle.On("RequireMember", mock.Anything, int64(3), int64(1)).Return(nil)

	var logs strings.Builder
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	handler := NewStreamHandler(env.streamHub, env.oracle, time.Hour, NewErrorHandler(logger), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("projectID", "3")
	ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	ctx = context.WithValue(ctx, mw.UserClaimsKey, &auth.Claims{UserID: 1})

	// The recorder flushes but has no write deadline to clear.
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.HandleStream(rec, httptest.NewRequest(stdhttp.MethodGet, "/", nil).WithContext(ctx))
	}()

	assert.Eventually(t, func() bool {
		return env.streamHub.GetProjectConnectionCount(3) == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Contains(t, logs.String(), "could not clear write deadline")
	assert.Contains(t, logs.String(), "level=WARN")
}

func TestStreamHandler_RejectsNonMember(t *testing.T) {
	env := newAPIEnv(t)
	env.oracle.On("RequireMember", mock.Anything, int64(3), int64(9)).Return(apperrors.ErrNotMember)

	req := httptest.NewRequest(stdhttp.MethodGet, "/api/v1/projects/3/stream?token="+env.token(t, 9), nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, stdhttp.StatusForbidden, rec.Code)
	assert.Equal(t, 0, env.streamHub.GetConnectionCount())
}

func TestWebSocketHandler_Handshake(t *testing.T) {
	env := newAPIEnv(t)
	env.oracle.On("RequireMember", mock.Anything, int64(3), int64(1)).Return(nil)

	server := httptest.NewServer(env.router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/ws"

	t.Run("missing token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, stdhttp.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("authenticated client joins a project room", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+env.token(t, 1), nil)
		require.NoError(t, err)
		defer conn.Close()

		assert.Eventually(t, func() bool {
			return env.socketHub.IsUserConnected(1)
		}, 2*time.Second, 10*time.Millisecond)

		require.NoError(t, conn.WriteJSON(map[string]any{
			"type":    "join_project",
			"payload": map[string]any{"projectId": 3},
		}))
		assert.Eventually(t, func() bool {
			return env.socketHub.GetClientsInRoom(wsAdapter.ProjectRoom(3)) == 1
		}, 2*time.Second, 10*time.Millisecond)

		env.broadcaster.Broadcast(domain.NewProjectEvent(3, domain.BugDeletedPayload{BugID: 5}))

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg struct {
			Type string `json:"type"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, "bug_deleted", msg.Type)
	})
}

func TestErrorHandler_MapsDomainErrors(t *testing.T) {
	h := NewErrorHandler(testLogger())

	tests := []struct {
		err    error
		status int
	}{
		{apperrors.ErrNotMember, stdhttp.StatusForbidden},
		{apperrors.ErrForbidden, stdhttp.StatusForbidden},
		{apperrors.ErrInvalidToken, stdhttp.StatusUnauthorized},
		{apperrors.ErrBugNotFound, stdhttp.StatusNotFound},
		{apperrors.ErrActionTooLong, stdhttp.StatusBadRequest},
		{apperrors.ErrRateLimited, stdhttp.StatusTooManyRequests},
		{io.EOF, stdhttp.StatusInternalServerError},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.Handle(rec, httptest.NewRequest(stdhttp.MethodGet, "/", nil), tt.err)
		assert.Equal(t, tt.status, rec.Code, tt.err.Error())
	}
}

func TestHealthHandler_ReportsConnections(t *testing.T) {
	h := NewHealthHandler(nil, "test")
	h.AddConnectionCounter("stream", func() int { return 2 })

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(stdhttp.MethodGet, "/health", nil))

	var resp struct {
		Connections map[string]int `json:"connections"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Connections["stream"])
	assert.Equal(t, stdhttp.StatusServiceUnavailable, rec.Code)
}

var _ ports.PresenceService = (*services.PresenceService)(nil)
