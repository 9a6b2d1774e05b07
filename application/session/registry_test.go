package session

import (
	"sort"
	"testing"

	"mindsync/domain/mindmap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConn struct{ id string }

func (c stubConn) ID() string                { return c.id }
func (c stubConn) Deliver(frame []byte) bool { return true }

func participant(connID, userID string) *Participant {
	return &Participant{Conn: stubConn{id: connID}, UserID: userID, Level: mindmap.LevelEdit}
}

func targetIDs(ps []*Participant) []string {
	ids := make([]string, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.Conn.ID())
	}
	sort.Strings(ids)
	return ids
}

func TestRegistry_JoinAndTargets(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Join("m1", participant("a", "alice")))
	require.NoError(t, r.Join("m1", participant("b", "bob")))
	require.NoError(t, r.Join("m2", participant("c", "carol")))

	assert.Equal(t, []string{"b"}, targetIDs(r.BroadcastTargets("m1", "a")))
	assert.Equal(t, []string{"a", "b"}, targetIDs(r.BroadcastTargets("m1", "")))
	assert.Empty(t, r.BroadcastTargets("m2", "c"))
	assert.Empty(t, r.BroadcastTargets("unknown", "a"))
	assert.Equal(t, 2, r.SessionCount())
}

func TestRegistry_JoinIsIdempotent(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Join("m1", participant("a", "alice")))
	require.NoError(t, r.Join("m1", participant("a", "alice")))

	assert.Equal(t, 1, r.Size("m1"))
}

func TestRegistry_OneSessionPerConnection(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Join("m1", participant("a", "alice")))
	err := r.Join("m2", participant("a", "alice"))

	assert.ErrorIs(t, err, ErrInOtherSession)
	assert.Equal(t, 0, r.Size("m2"))

	room, ok := r.RoomOf("a")
	require.True(t, ok)
	assert.Equal(t, "m1", room)
}

func TestRegistry_LeaveEvictsEmptySessions(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Join("m1", participant("a", "alice")))
	require.NoError(t, r.Join("m1", participant("b", "bob")))

	assert.True(t, r.Leave("m1", "a"))
	assert.False(t, r.Leave("m1", "a"), "second leave is a no-op")
	assert.False(t, r.Leave("m9", "b"), "leaving a room never joined is a no-op")
	assert.Equal(t, 1, r.SessionCount())

	assert.True(t, r.Leave("m1", "b"))
	assert.Equal(t, 0, r.SessionCount())

	_, ok := r.Member("m1", "b")
	assert.False(t, ok)
}

func TestRegistry_LeaveAll(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Join("m1", participant("a", "alice")))

	assert.Equal(t, []string{"m1"}, r.LeaveAll("a"))
	assert.Nil(t, r.LeaveAll("a"))

	_, ok := r.RoomOf("a")
	assert.False(t, ok)

	require.NoError(t, r.Join("m2", participant("a", "alice")), "connection may join another room after leaving")
}

func TestRegistry_TargetsReflectCurrentMembership(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Join("m1", participant("a", "alice")))
	require.NoError(t, r.Join("m1", participant("b", "bob")))

	before := r.BroadcastTargets("m1", "a")
	require.NoError(t, r.Join("m1", participant("c", "carol")))
	r.Leave("m1", "b")

	assert.Equal(t, []string{"b"}, targetIDs(before))
	assert.Equal(t, []string{"c"}, targetIDs(r.BroadcastTargets("m1", "a")))
}
