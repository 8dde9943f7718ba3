package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	apperrors "github.com/lorrc/issue-tracker-backend/internal/core/errors"
	"github.com/lorrc/issue-tracker-backend/internal/core/mocks"
	"github.com/lorrc/issue-tracker-backend/internal/core/presence"
	"github.com/lorrc/issue-tracker-backend/internal/core/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type socketEnv struct {
	server  *httptest.Server
	hub     *Hub
	oracle  *mocks.MockMembershipOracle
	viewers *presence.ViewerRegistry
}

// newSocketEnv wires a hub, router and real presence service behind an
// httptest server. The user id is taken from the uid query parameter.
func newSocketEnv(t *testing.T) *socketEnv {
	t.Helper()

	logger := testLogger()
	hub := NewHub(logger)
	oracle := mocks.NewMockMembershipOracle()
	users := mocks.NewMockUserDirectory()
	viewers := presence.NewViewerRegistry()
	broadcaster := services.NewBroadcastService(logger, hub)
	presenceSvc := services.NewPresenceService(oracle, users, viewers, broadcaster, logger)
	triggers := services.NewNotificationService(broadcaster, nil, logger)
	router := NewRouter(hub, presenceSvc, oracle, triggers, logger)

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(r.URL.Query().Get("uid"), 10, 64)
		if err != nil {
			http.Error(w, "bad uid", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn, uuid.NewString(), userID, router, DefaultClientConfig(), logger)
		hub.Register(client)
		go client.WritePump()
		go client.ReadPump()
	}))
	t.Cleanup(server.Close)

	return &socketEnv{server: server, hub: hub, oracle: oracle, viewers: viewers}
}

func (e *socketEnv) dial(t *testing.T, userID int64) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/?uid=" + strconv.FormatInt(userID, 10)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return e.hub.IsUserConnected(userID) }, time.Second, 5*time.Millisecond)
	return conn
}

type frame struct {
	Type      string          `json:"type"`
	ProjectID int64           `json:"projectId"`
	Payload   json.RawMessage `json:"payload"`
}

type viewersFrame struct {
	BugID   int64 `json:"bugId"`
	Viewers []struct {
		UserID    int64  `json:"userId"`
		Name      string `json:"name"`
		ProjectID int64  `json:"projectId"`
	} `json:"viewers"`
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: msgType, Payload: raw}))
}

// readUntil returns the next frame of the given type, skipping others.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string, accept func(frame) bool) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == msgType && (accept == nil || accept(f)) {
			return f
		}
	}
}

func viewerIDs(t *testing.T, f frame) []int64 {
	t.Helper()
	var p viewersFrame
	require.NoError(t, json.Unmarshal(f.Payload, &p))
	ids := make([]int64, 0, len(p.Viewers))
	for _, v := range p.Viewers {
		ids = append(ids, v.UserID)
	}
	return ids
}

func withViewers(t *testing.T, n int) func(frame) bool {
	return func(f frame) bool { return len(viewerIDs(t, f)) == n }
}

func TestRouter_ViewersFollowConnections(t *testing.T) {
	env := newSocketEnv(t)
	env.oracle.On("RequireMember", mock.Anything, int64(3), mock.Anything).Return(nil)
	env.oracle.On("RequireBugAccess", mock.Anything, int64(42), mock.Anything).Return(int64(3), nil)

	ann := env.dial(t, 7)
	bob := env.dial(t, 9)

	send(t, ann, TypeJoinProject, map[string]any{"projectId": 3})
	send(t, ann, TypeViewBug, map[string]any{"bugId": 42, "projectId": 3, "userId": 7, "name": "Ann"})

	f := readUntil(t, ann, "bug_viewers", withViewers(t, 1))
	assert.Equal(t, int64(3), f.ProjectID)
	assert.Equal(t, []int64{7}, viewerIDs(t, f))

	send(t, bob, TypeJoinProject, map[string]any{"projectId": 3})
	send(t, bob, TypeViewBug, map[string]any{"bugId": 42, "projectId": 3, "name": "Bob"})

	f = readUntil(t, bob, "bug_viewers", withViewers(t, 2))
	assert.ElementsMatch(t, []int64{7, 9}, viewerIDs(t, f))

	// Ann drops without sending leave_bug.
	require.NoError(t, ann.Close())

	f = readUntil(t, bob, "bug_viewers", withViewers(t, 1))
	assert.Equal(t, []int64{9}, viewerIDs(t, f))
	assert.Equal(t, int64(3), f.ProjectID)

	require.Eventually(t, func() bool { return !env.hub.IsUserConnected(7) }, time.Second, 5*time.Millisecond)
	assert.Len(t, env.viewers.ListViewers(42), 1)
}

func TestRouter_RejectsWithErrorFrame(t *testing.T) {
	env := newSocketEnv(t)
	env.oracle.On("RequireMember", mock.Anything, int64(4), int64(7)).Return(apperrors.ErrNotMember)
	env.oracle.On("RequireBugAccess", mock.Anything, int64(42), int64(7)).Return(int64(0), apperrors.ErrNotMember)

	conn := env.dial(t, 7)

	tests := []struct {
		msgType string
		payload any
		code    string
	}{
		{TypeJoinProject, map[string]any{"projectId": 4}, CodeForbidden},
		{TypeViewBug, map[string]any{"bugId": 42, "name": "Ann"}, CodeForbidden},
		{TypeViewBug, map[string]any{"bugId": 42, "userId": 8}, CodeForbidden},
		{TypeJoinUser, map[string]any{"userId": 8}, CodeForbidden},
		{TypeNewComment, map[string]any{"bugId": 42, "comment": map[string]any{"id": 0}}, CodeBadRequest},
		{"shout", map[string]any{}, CodeUnknownType},
	}

	for _, tt := range tests {
		send(t, conn, tt.msgType, tt.payload)

		f := readUntil(t, conn, TypeError, nil)
		var p ErrorPayload
		require.NoError(t, json.Unmarshal(f.Payload, &p))
		assert.Equal(t, tt.code, p.Code, tt.msgType)
		assert.Equal(t, tt.msgType, p.RequestType)
	}

	assert.Zero(t, env.hub.GetClientsInRoom(ProjectRoom(4)))
	assert.Empty(t, env.viewers.ListViewers(42))
}

func TestRouter_NewCommentReachesProjectRoom(t *testing.T) {
	env := newSocketEnv(t)
	env.oracle.On("RequireMember", mock.Anything, int64(3), mock.Anything).Return(nil)
	env.oracle.On("RequireBugAccess", mock.Anything, int64(42), int64(7)).Return(int64(3), nil)

	author := env.dial(t, 7)
	watcher := env.dial(t, 9)

	send(t, watcher, TypeJoinProject, map[string]any{"projectId": 3})
	send(t, watcher, TypePing, nil)
	readUntil(t, watcher, TypePong, nil)

	send(t, author, TypeNewComment, map[string]any{
		"bugId":   42,
		"comment": map[string]any{"id": 11, "body": "Reproduced on staging"},
	})

	f := readUntil(t, watcher, "comment_added", nil)
	assert.Equal(t, int64(3), f.ProjectID)

	var p struct {
		Comment struct {
			ID       int64  `json:"id"`
			AuthorID int64  `json:"authorId"`
			Body     string `json:"body"`
		} `json:"comment"`
	}
	require.NoError(t, json.Unmarshal(f.Payload, &p))
	assert.Equal(t, int64(11), p.Comment.ID)
	assert.Equal(t, int64(7), p.Comment.AuthorID)
	assert.Equal(t, "Reproduced on staging", p.Comment.Body)
}

func TestRouter_LeaveProjectStopsDelivery(t *testing.T) {
	env := newSocketEnv(t)
	env.oracle.On("RequireMember", mock.Anything, int64(3), int64(7)).Return(nil)

	conn := env.dial(t, 7)
	send(t, conn, TypeJoinProject, map[string]any{"projectId": 3})
	send(t, conn, TypeLeaveProject, map[string]any{"projectId": 3})
	send(t, conn, TypePing, nil)
	readUntil(t, conn, TypePong, nil)

	assert.Zero(t, env.hub.GetClientsInRoom(ProjectRoom(3)))
}

func TestRouter_JoinOnDroppedConnection(t *testing.T) {
	hub := NewHub(testLogger())
	oracle := mocks.NewMockMembershipOracle()
	oracle.On("RequireMember", mock.Anything, int64(3), int64(7)).Return(nil)
	router := NewRouter(hub, nil, oracle, nil, testLogger())

	// Never registered, as after the hub has let go of it.
	c := newTestClient(hub, "a", 7, 4)

	for _, msg := range []ClientMessage{
		{Type: TypeJoinUser},
		{Type: TypeJoinProject, Payload: json.RawMessage(`{"projectId":3}`)},
	} {
		router.HandleMessage(context.Background(), c, msg)

		frames := drain(c)
		require.Len(t, frames, 1, msg.Type)
		var f struct {
			Type    string       `json:"type"`
			Payload ErrorPayload `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(frames[0], &f))
		assert.Equal(t, TypeError, f.Type)
		assert.Equal(t, CodeNotJoined, f.Payload.Code)
		assert.Equal(t, msg.Type, f.Payload.RequestType)
	}

	assert.Zero(t, hub.GetRoomCount())
	assert.Empty(t, c.Rooms())
}
