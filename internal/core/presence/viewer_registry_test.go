package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/issue-tracker-backend/internal/core/domain"
)

func viewer(bugID, userID int64, name, conn string) domain.Viewer {
	return domain.Viewer{BugID: bugID, ProjectID: 3, UserID: userID, DisplayName: name, ConnectionID: conn}
}

func userIDs(viewers []domain.Viewer) []int64 {
	ids := make([]int64, 0, len(viewers))
	for _, v := range viewers {
		ids = append(ids, v.UserID)
	}
	return ids
}

func TestViewerRegistry_RecordView(t *testing.T) {
	r := NewViewerRegistry()

	list := r.RecordView(viewer(42, 7, "Ann", "c1"))
	require.Len(t, list, 1)
	assert.Equal(t, "Ann", list[0].DisplayName)
	assert.Equal(t, int64(3), list[0].ProjectID)

	list = r.RecordView(viewer(42, 9, "Bob", "c2"))
	assert.ElementsMatch(t, []int64{7, 9}, userIDs(list))
}

func TestViewerRegistry_RecordView_LastWriteWins(t *testing.T) {
	r := NewViewerRegistry()

	r.RecordView(viewer(42, 7, "Ann", "c1"))
	list := r.RecordView(viewer(42, 7, "Ann B.", "c2"))

	require.Len(t, list, 1, "same user on same bug must not duplicate")
	assert.Equal(t, "c2", list[0].ConnectionID)
	assert.Equal(t, "Ann B.", list[0].DisplayName)

	// The old connection no longer owns the entry.
	assert.Empty(t, r.RemoveByConnection("c1"))
	assert.Len(t, r.ListViewers(42), 1)

	changes := r.RemoveByConnection("c2")
	require.Len(t, changes, 1)
	assert.Empty(t, changes[0].Viewers)
}

func TestViewerRegistry_RecordLeave(t *testing.T) {
	r := NewViewerRegistry()
	r.RecordView(viewer(42, 7, "Ann", "c1"))
	r.RecordView(viewer(42, 9, "Bob", "c2"))

	list := r.RecordLeave(42, 7)
	assert.Equal(t, []int64{9}, userIDs(list))

	t.Run("leave is idempotent", func(t *testing.T) {
		first := r.RecordLeave(42, 7)
		second := r.RecordLeave(42, 7)
		assert.Len(t, first, 1)
		assert.Len(t, second, 1)
	})

	t.Run("leave on unknown bug", func(t *testing.T) {
		list := r.RecordLeave(999, 7)
		assert.NotNil(t, list)
		assert.Empty(t, list)
	})
}

func TestViewerRegistry_NetEffectOfLastOperation(t *testing.T) {
	ops := []struct {
		name  string
		views []bool // true = view, false = leave
		want  int
	}{
		{"view", []bool{true}, 1},
		{"view view", []bool{true, true}, 1},
		{"view leave", []bool{true, false}, 0},
		{"leave view", []bool{false, true}, 1},
		{"view leave leave", []bool{true, false, false}, 0},
		{"view leave view", []bool{true, false, true}, 1},
	}

	for _, tt := range ops {
		t.Run(tt.name, func(t *testing.T) {
			r := NewViewerRegistry()
			for _, isView := range tt.views {
				if isView {
					r.RecordView(viewer(42, 7, "Ann", "c1"))
				} else {
					r.RecordLeave(42, 7)
				}
			}
			assert.Len(t, r.ListViewers(42), tt.want)
		})
	}
}

func TestViewerRegistry_RemoveByConnection(t *testing.T) {
	r := NewViewerRegistry()
	r.RecordView(viewer(42, 7, "Ann", "c1"))
	r.RecordView(viewer(43, 7, "Ann", "c1"))
	r.RecordView(viewer(42, 9, "Bob", "c2"))
	r.RecordView(viewer(44, 9, "Bob", "c2"))

	changes := r.RemoveByConnection("c1")

	require.Len(t, changes, 2)
	assert.Equal(t, int64(42), changes[0].BugID)
	assert.Equal(t, int64(3), changes[0].ProjectID)
	assert.Equal(t, []int64{9}, userIDs(changes[0].Viewers))
	assert.Equal(t, int64(43), changes[1].BugID)
	assert.Empty(t, changes[1].Viewers)

	assert.Equal(t, []int64{9}, userIDs(r.ListViewers(42)))
	assert.Empty(t, r.ListViewers(43))
	assert.Equal(t, []int64{9}, userIDs(r.ListViewers(44)))
	assert.Equal(t, 1, r.ConnectionCount())
}

func TestViewerRegistry_RemoveByConnection_Unknown(t *testing.T) {
	r := NewViewerRegistry()
	r.RecordView(viewer(42, 7, "Ann", "c1"))

	assert.Empty(t, r.RemoveByConnection("nope"))
	assert.Len(t, r.ListViewers(42), 1)
}

func TestViewerRegistry_RemoveAfterLeave(t *testing.T) {
	r := NewViewerRegistry()
	r.RecordView(viewer(42, 7, "Ann", "c1"))
	r.RecordLeave(42, 7)

	assert.Empty(t, r.RemoveByConnection("c1"))
	assert.Equal(t, 0, r.ConnectionCount())
}

func TestViewerRegistry_RemoveUserFromProject(t *testing.T) {
	r := NewViewerRegistry()
	r.RecordView(viewer(42, 7, "Ann", "c1"))
	r.RecordView(viewer(43, 7, "Ann", "c2"))
	r.RecordView(viewer(42, 9, "Bob", "c3"))
	other := viewer(50, 7, "Ann", "c1")
	other.ProjectID = 4
	r.RecordView(other)

	changes := r.RemoveUserFromProject(3, 7)

	require.Len(t, changes, 2)
	assert.Equal(t, int64(42), changes[0].BugID)
	assert.Equal(t, []int64{9}, userIDs(changes[0].Viewers))
	assert.Equal(t, int64(43), changes[1].BugID)
	assert.Empty(t, changes[1].Viewers)

	// Views on other projects and the connection index stay consistent.
	assert.Equal(t, []int64{7}, userIDs(r.ListViewers(50)))
	assert.Empty(t, r.RemoveByConnection("c2"))
	assert.Len(t, r.RemoveByConnection("c1"), 1)
	assert.Empty(t, r.RemoveUserFromProject(3, 7))
}

func TestViewerRegistry_Snapshot(t *testing.T) {
	r := NewViewerRegistry()
	r.RecordView(viewer(42, 7, "Ann", "c1"))
	r.RecordView(domain.Viewer{BugID: 50, ProjectID: 4, UserID: 7, DisplayName: "Ann", ConnectionID: "c1"})

	snapshot := r.Snapshot(3)

	require.Len(t, snapshot, 1)
	assert.Equal(t, []int64{7}, userIDs(snapshot[42]))
	assert.Empty(t, r.Snapshot(99))
}
