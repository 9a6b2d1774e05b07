package presence

import (
	"context"
	"testing"

	"mindsync/application/permissions"
	"mindsync/application/session"
	"mindsync/domain/events"
	"mindsync/domain/mindmap"
	"mindsync/infrastructure/persistence/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubConn struct{ id string }

func (c stubConn) ID() string                { return c.id }
func (c stubConn) Deliver(frame []byte) bool { return true }

type recordingPublisher struct {
	events []events.DomainEvent
}

func (p *recordingPublisher) Publish(e events.DomainEvent) { p.events = append(p.events, e) }

func (p *recordingPublisher) types() []string {
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.GetEventType()+":"+e.GetAggregateID())
	}
	return out
}

type fixture struct {
	registry  *session.Registry
	publisher *recordingPublisher
	lifecycle *Lifecycle
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewDocumentRepository()
	store.Create(mindmap.Document{ID: "m1", OwnerID: "alice"})
	store.Create(mindmap.Document{ID: "m2", OwnerID: "alice"})
	store.Grant(mindmap.Permission{DocumentID: "m1", UserID: "bob", Level: mindmap.LevelEdit})
	store.Grant(mindmap.Permission{DocumentID: "m1", UserID: "victor", Level: mindmap.LevelView})

	registry := session.NewRegistry()
	publisher := &recordingPublisher{}
	gate := permissions.NewGate(store, zap.NewNop(), nil, nil)

	return &fixture{
		registry:  registry,
		publisher: publisher,
		lifecycle: NewLifecycle(registry, gate, publisher, zap.NewNop(), nil),
	}
}

func (f *fixture) join(t *testing.T, c *Connection, documentID string) Outcome {
	t.Helper()
	ticket, ok := f.lifecycle.BeginJoin(c, documentID)
	require.True(t, ok)
	require.Equal(t, Joining, c.State())
	return f.lifecycle.CompleteJoin(f.lifecycle.Authorize(context.Background(), ticket))
}

func TestTransition(t *testing.T) {
	tests := []struct {
		from  State
		event Event
		to    State
		ok    bool
	}{
		{Connected, EventJoin, Joining, true},
		{Joining, EventJoin, Joining, true},
		{Joining, EventAdmit, Joined, true},
		{Joining, EventDeny, Connected, true},
		{Joined, EventLeave, Connected, true},
		{Joining, EventLeave, Connected, true},
		{Connected, EventLeave, Connected, false},
		{Connected, EventAdmit, Connected, false},
		{Joined, EventJoin, Joined, false},
		{Joined, EventDisconnect, Disconnected, true},
		{Connected, EventDisconnect, Disconnected, true},
		{Disconnected, EventJoin, Disconnected, false},
		{Disconnected, EventDisconnect, Disconnected, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String(), func(t *testing.T) {
			to, ok := transition(tt.from, tt.event)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.to, to)
		})
	}
}

func TestLifecycle_OwnerAndEditorAreAdmitted(t *testing.T) {
	f := newFixture(t)
	alice := f.lifecycle.Connect(stubConn{id: "a"}, "alice")
	bob := f.lifecycle.Connect(stubConn{id: "b"}, "bob")

	assert.Equal(t, OutcomeAdmitted, f.join(t, alice, "m1"))
	assert.Equal(t, OutcomeAdmitted, f.join(t, bob, "m1"))

	assert.Equal(t, Joined, alice.State())
	assert.Equal(t, "m1", alice.DocumentID())
	assert.Equal(t, 2, f.registry.Size("m1"))
	assert.Equal(t, []string{"session.joined:m1", "session.joined:m1"}, f.publisher.types())
}

func TestLifecycle_DeniedUsersAreNeverAdmitted(t *testing.T) {
	f := newFixture(t)

	for _, userID := range []string{"carol", "victor"} {
		c := f.lifecycle.Connect(stubConn{id: userID}, userID)
		assert.Equal(t, OutcomeDenied, f.join(t, c, "m1"))
		assert.Equal(t, Connected, c.State())
		assert.Empty(t, c.DocumentID())

		_, member := f.registry.Member("m1", userID)
		assert.False(t, member)
	}
	assert.Empty(t, f.publisher.events)
}

func TestLifecycle_JoinSameDocumentAgainIsNoop(t *testing.T) {
	f := newFixture(t)
	alice := f.lifecycle.Connect(stubConn{id: "a"}, "alice")
	require.Equal(t, OutcomeAdmitted, f.join(t, alice, "m1"))

	_, ok := f.lifecycle.BeginJoin(alice, "m1")

	assert.False(t, ok)
	assert.Equal(t, Joined, alice.State())
	assert.Equal(t, 1, f.registry.Size("m1"))
}

func TestLifecycle_SwitchingDocumentsLeavesFirst(t *testing.T) {
	f := newFixture(t)
	alice := f.lifecycle.Connect(stubConn{id: "a"}, "alice")
	require.Equal(t, OutcomeAdmitted, f.join(t, alice, "m1"))

	ticket, ok := f.lifecycle.BeginJoin(alice, "m2")
	require.True(t, ok)
	assert.Equal(t, 0, f.registry.Size("m1"), "previous room is left before the new join is authorized")

	require.Equal(t, OutcomeAdmitted, f.lifecycle.CompleteJoin(f.lifecycle.Authorize(context.Background(), ticket)))
	room, _ := f.registry.RoomOf("a")
	assert.Equal(t, "m2", room)

	require.Len(t, f.publisher.events, 3)
	left, ok := f.publisher.events[1].(events.SessionLeft)
	require.True(t, ok)
	assert.Equal(t, events.LeaveSwitched, left.Reason)
}

func TestLifecycle_SupersededDecisionIsDiscarded(t *testing.T) {
	f := newFixture(t)
	alice := f.lifecycle.Connect(stubConn{id: "a"}, "alice")

	first, ok := f.lifecycle.BeginJoin(alice, "m1")
	require.True(t, ok)
	second, ok := f.lifecycle.BeginJoin(alice, "m2")
	require.True(t, ok)

	assert.Equal(t, OutcomeStale, f.lifecycle.CompleteJoin(f.lifecycle.Authorize(context.Background(), first)))
	assert.Equal(t, 0, f.registry.Size("m1"))

	assert.Equal(t, OutcomeAdmitted, f.lifecycle.CompleteJoin(f.lifecycle.Authorize(context.Background(), second)))
	assert.Equal(t, 1, f.registry.Size("m2"))
}

func TestLifecycle_DecisionAfterDisconnectIsDiscarded(t *testing.T) {
	f := newFixture(t)
	alice := f.lifecycle.Connect(stubConn{id: "a"}, "alice")

	ticket, ok := f.lifecycle.BeginJoin(alice, "m1")
	require.True(t, ok)
	decision := f.lifecycle.Authorize(context.Background(), ticket)
	f.lifecycle.Disconnect(alice)

	assert.Equal(t, OutcomeStale, f.lifecycle.CompleteJoin(decision))
	assert.Equal(t, 0, f.registry.Size("m1"))
	assert.Equal(t, Disconnected, alice.State())
}

func TestLifecycle_LeaveCancelsPendingJoin(t *testing.T) {
	f := newFixture(t)
	alice := f.lifecycle.Connect(stubConn{id: "a"}, "alice")

	ticket, ok := f.lifecycle.BeginJoin(alice, "m1")
	require.True(t, ok)
	assert.True(t, f.lifecycle.Leave(alice, "m1"))

	assert.Equal(t, OutcomeStale, f.lifecycle.CompleteJoin(f.lifecycle.Authorize(context.Background(), ticket)))
	assert.Equal(t, Connected, alice.State())
	assert.Equal(t, 0, f.registry.Size("m1"))
}

func TestLifecycle_LeaveWithoutJoinIsNoop(t *testing.T) {
	f := newFixture(t)
	alice := f.lifecycle.Connect(stubConn{id: "a"}, "alice")

	assert.False(t, f.lifecycle.Leave(alice, "m1"))
	assert.Equal(t, Connected, alice.State())

	require.Equal(t, OutcomeAdmitted, f.join(t, alice, "m1"))
	assert.False(t, f.lifecycle.Leave(alice, "m2"), "leaving another document is a no-op")
	assert.True(t, f.lifecycle.Leave(alice, "m1"))
	assert.False(t, f.lifecycle.Leave(alice, "m1"))
	assert.Equal(t, 0, f.registry.SessionCount())
}

func TestLifecycle_DisconnectLeavesEverySession(t *testing.T) {
	f := newFixture(t)
	alice := f.lifecycle.Connect(stubConn{id: "a"}, "alice")
	bob := f.lifecycle.Connect(stubConn{id: "b"}, "bob")
	require.Equal(t, OutcomeAdmitted, f.join(t, alice, "m1"))
	require.Equal(t, OutcomeAdmitted, f.join(t, bob, "m1"))

	f.lifecycle.Disconnect(alice)
	f.lifecycle.Disconnect(alice)

	_, member := f.registry.Member("m1", "a")
	assert.False(t, member)
	assert.Equal(t, 1, f.registry.Size("m1"))
	assert.Equal(t, Disconnected, alice.State())

	_, ok := f.lifecycle.BeginJoin(alice, "m1")
	assert.False(t, ok, "a disconnected connection cannot join")

	last := f.publisher.events[len(f.publisher.events)-1].(events.SessionLeft)
	assert.Equal(t, events.LeaveDisconnect, last.Reason)
	assert.Len(t, f.publisher.events, 3)
}

func TestLifecycle_LevelIsReportedOnlyWhileJoined(t *testing.T) {
	f := newFixture(t)
	bob := f.lifecycle.Connect(stubConn{id: "b"}, "bob")

	assert.Empty(t, f.lifecycle.Level(bob))

	ticket, ok := f.lifecycle.BeginJoin(bob, "m1")
	require.True(t, ok)
	assert.Empty(t, f.lifecycle.Level(bob))

	require.Equal(t, OutcomeAdmitted, f.lifecycle.CompleteJoin(f.lifecycle.Authorize(context.Background(), ticket)))
	assert.Equal(t, mindmap.LevelEdit, f.lifecycle.Level(bob))

	require.True(t, f.lifecycle.Leave(bob, "m1"))
	assert.Empty(t, f.lifecycle.Level(bob))
}
