package websocket_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mindsync/application/permissions"
	"mindsync/application/presence"
	"mindsync/application/relay"
	"mindsync/application/session"
	"mindsync/domain/changes"
	"mindsync/domain/mindmap"
	"mindsync/infrastructure/persistence/memory"
	"mindsync/interfaces/websocket"
	"mindsync/pkg/auth"
	apperrors "mindsync/pkg/errors"
	"mindsync/pkg/protocol"
	"mindsync/pkg/syncclient"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testSecret = "test-secret"

type testServer struct {
	url      string
	tokens   *auth.JWTGenerator
	registry *session.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, zap.NewNop(), websocket.DefaultServerConfig())
}

func newTestServerWith(t *testing.T, logger *zap.Logger, config websocket.ServerConfig) *testServer {
	t.Helper()

	store := memory.NewDocumentRepository()
	store.Create(mindmap.Document{ID: "m1", OwnerID: "alice"})
	store.Grant(mindmap.Permission{DocumentID: "m1", UserID: "bob", Level: mindmap.LevelEdit})
	store.Grant(mindmap.Permission{DocumentID: "m1", UserID: "victor", Level: mindmap.LevelView})

	registry := session.NewRegistry()
	gate := permissions.NewGate(store, logger, nil, nil)
	lifecycle := presence.NewLifecycle(registry, gate, nil, logger, nil)
	hub := websocket.NewHub(lifecycle, relay.New(registry, logger, nil), websocket.HubConfig{}, logger, nil)
	go hub.Run()

	validator, err := auth.NewJWTValidator(auth.JWTConfig{SecretKey: testSecret})
	require.NoError(t, err)
	tokens, err := auth.NewJWTGenerator(auth.JWTConfig{SecretKey: testSecret}, time.Hour)
	require.NoError(t, err)

	server := websocket.NewServer(hub, validator, nil, apperrors.NewErrorHandler(logger, false), config, logger)
	ts := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	t.Cleanup(func() {
		ts.Close()
		hub.Stop()
	})

	return &testServer{
		url:      "ws" + strings.TrimPrefix(ts.URL, "http"),
		tokens:   tokens,
		registry: registry,
	}
}

func (s *testServer) dial(t *testing.T, userID string) *syncclient.Client {
	t.Helper()
	token, err := s.tokens.GenerateToken(userID, userID+"@example.com")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := syncclient.Dial(ctx, s.url, token)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// dialRaw opens a bare websocket connection without waiting for the greeting.
func (s *testServer) dialRaw(t *testing.T, userID string) *gorilla.Conn {
	t.Helper()
	token, err := s.tokens.GenerateToken(userID, userID+"@example.com")
	require.NoError(t, err)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := gorilla.DefaultDialer.DialContext(timeout(t), s.url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeFrame(t *testing.T, conn *gorilla.Conn, eventType protocol.EventType, data interface{}) {
	t.Helper()
	frame, err := protocol.Encode(eventType, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(gorilla.TextMessage, frame))
}

func readFrame(t *testing.T, conn *gorilla.Conn) protocol.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.Decode(frame)
	require.NoError(t, err)
	return env
}

func (s *testServer) dialJoined(t *testing.T, userID, documentID string) *syncclient.Client {
	t.Helper()
	c := s.dial(t, userID)
	_, err := c.Join(timeout(t), documentID)
	require.NoError(t, err)
	return c
}

func timeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func node(id string, x, y float64) mindmap.Node {
	return mindmap.Node{ID: id, Position: mindmap.Position{X: x, Y: y}, Topics: []mindmap.Topic{{Text: id}}}
}

func nextBroadcast(t *testing.T, c *syncclient.Client) syncclient.Event {
	t.Helper()
	ev, err := c.Next(timeout(t))
	require.NoError(t, err)
	require.NotEmpty(t, ev.Target, "expected a broadcast, got %s", ev.Type)
	return ev
}

func TestServer_RejectsMissingToken(t *testing.T) {
	s := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := syncclient.Dial(ctx, s.url, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestServer_JoinReportsLevel(t *testing.T) {
	s := newTestServer(t)

	owner := s.dial(t, "alice")
	assert.Equal(t, "alice", owner.UserID)
	assert.NotEmpty(t, owner.ConnectionID)

	result, err := owner.Join(timeout(t), "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", result.DocumentID)
	assert.Equal(t, string(mindmap.LevelEdit), result.Level)

	// Joining again is answered without a second admission
	result, err = owner.Join(timeout(t), "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", result.DocumentID)
	assert.Equal(t, 1, s.registry.Size("m1"))
}

func TestServer_RelaysToOthersOnly(t *testing.T) {
	s := newTestServer(t)
	alice := s.dialJoined(t, "alice", "m1")
	bob := s.dialJoined(t, "bob", "m1")

	require.NoError(t, alice.SendNodeChanges("m1", changes.AddNode(node("n1", 10, 20))))

	ev := nextBroadcast(t, bob)
	assert.Equal(t, protocol.NodeChangeBroadcast, ev.Type)
	require.Len(t, ev.Operations, 1)
	assert.Equal(t, changes.KindAdd, ev.Operations[0].Kind)
	got, ok := viewOf(bob).Node("n1")
	require.True(t, ok)
	assert.Equal(t, mindmap.Position{X: 10, Y: 20}, got.Position)

	require.NoError(t, bob.SendEdgeChanges("m1", changes.AddEdge(mindmap.Connection{ID: "e1", Source: "n1", Target: "n2"})))

	// alice's first broadcast is bob's edge; her own node batch never came back
	ev = nextBroadcast(t, alice)
	assert.Equal(t, protocol.EdgeChangeBroadcast, ev.Type)
	assert.Equal(t, "e1", ev.Operations[0].ID)
}

func TestServer_ForwardsChangesVerbatim(t *testing.T) {
	s := newTestServer(t)
	alice := s.dialJoined(t, "alice", "m1")
	bob := s.dialJoined(t, "bob", "m1")

	raw := `[ {"type":"remove",  "id":"<n1>&"} ]`
	require.NoError(t, alice.SendRaw([]byte(`{"type":"node-change","data":{"documentId":"m1","changes":`+raw+`}}`)))

	ev := nextBroadcast(t, bob)
	assert.Equal(t, raw, string(ev.Data))
}

func TestServer_DeniedUserReceivesNothing(t *testing.T) {
	s := newTestServer(t)
	alice := s.dialJoined(t, "alice", "m1")
	bob := s.dialJoined(t, "bob", "m1")

	for _, user := range []string{"carol", "victor"} {
		t.Run(user, func(t *testing.T) {
			c := s.dial(t, user)
			_, err := c.Join(timeout(t), "m1")
			require.ErrorIs(t, err, syncclient.ErrJoinDenied)
			assert.Contains(t, err.Error(), permissions.DeniedMessage)

			require.NoError(t, alice.SendNodeChanges("m1", changes.AddNode(node("n-"+user, 0, 0))))
			nextBroadcast(t, bob)

			// Submitting without membership is dropped silently
			require.NoError(t, c.SendNodeChanges("m1", changes.Remove(changes.TargetNode, "n-"+user)))

			// The next frame c sees is its own error reply, not a broadcast
			barrier(t, c)
		})
	}

	assert.Equal(t, 2, s.registry.Size("m1"))
}

func TestServer_DropsMalformedBatches(t *testing.T) {
	s := newTestServer(t)
	alice := s.dialJoined(t, "alice", "m1")
	bob := s.dialJoined(t, "bob", "m1")

	require.NoError(t, alice.SendRaw([]byte(`{"type":"node-change","data":{"documentId":"m1","changes":[{"type":"position","id":"n1"}]}}`)))
	require.NoError(t, alice.SendRaw([]byte(`{"type":"node-change","data":{"documentId":"m1","changes":[]}}`)))
	require.NoError(t, alice.SendNodeChanges("m1", changes.MoveTo("n1", mindmap.Position{X: 1, Y: 2})))

	ev := nextBroadcast(t, bob)
	require.Len(t, ev.Operations, 1)
	assert.Equal(t, changes.KindPosition, ev.Operations[0].Kind)
}

func TestServer_LeaveStopsBroadcasts(t *testing.T) {
	s := newTestServer(t)
	alice := s.dialJoined(t, "alice", "m1")
	bob := s.dialJoined(t, "bob", "m1")

	require.NoError(t, bob.Leave("m1"))
	require.Eventually(t, func() bool { return s.registry.Size("m1") == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, alice.SendNodeChanges("m1", changes.AddNode(node("n1", 0, 0))))
	barrier(t, alice)

	// Rejoining does not replay the batch bob missed
	_, err := bob.Join(timeout(t), "m1")
	require.NoError(t, err)
	barrier(t, bob)
	_, seen := viewOf(bob).Node("n1")
	assert.False(t, seen)
}

func TestServer_DisconnectIsImplicitLeave(t *testing.T) {
	s := newTestServer(t)
	alice := s.dialJoined(t, "alice", "m1")
	bob := s.dialJoined(t, "bob", "m1")

	require.NoError(t, alice.Close())
	require.Eventually(t, func() bool { return s.registry.Size("m1") == 1 }, time.Second, 10*time.Millisecond)

	// bob keeps editing alone without error
	require.NoError(t, bob.SendNodeChanges("m1", changes.AddNode(node("missed", 0, 0))))
	barrier(t, bob)

	again := s.dialJoined(t, "alice", "m1")
	require.NoError(t, bob.SendNodeChanges("m1", changes.AddNode(node("seen", 0, 0))))

	ev := nextBroadcast(t, again)
	assert.Equal(t, "seen", ev.Operations[0].ID)
	_, missed := viewOf(again).Node("missed")
	assert.False(t, missed)
}

func TestServer_JoinSentBeforeGreetingIsAnswered(t *testing.T) {
	s := newTestServer(t)

	for i := 0; i < 20; i++ {
		conn := s.dialRaw(t, "alice")
		writeFrame(t, conn, protocol.JoinRequest, "m1")

		assert.Equal(t, protocol.ConnectionEstablished, readFrame(t, conn).Type)
		env := readFrame(t, conn)
		require.Equal(t, protocol.JoinConfirmed, env.Type, "attempt %d", i)

		require.NoError(t, conn.Close())
		require.Eventually(t, func() bool { return s.registry.Size("m1") == 0 }, time.Second, 10*time.Millisecond)
	}
}

func TestServer_AbruptDropIsImplicitLeave(t *testing.T) {
	s := newTestServer(t)
	bob := s.dialJoined(t, "bob", "m1")

	alice := s.dialRaw(t, "alice")
	assert.Equal(t, protocol.ConnectionEstablished, readFrame(t, alice).Type)
	writeFrame(t, alice, protocol.JoinRequest, "m1")
	require.Equal(t, protocol.JoinConfirmed, readFrame(t, alice).Type)
	require.Equal(t, 2, s.registry.Size("m1"))

	// Drop the TCP connection without a close frame
	require.NoError(t, alice.UnderlyingConn().Close())
	require.Eventually(t, func() bool { return s.registry.Size("m1") == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, bob.SendNodeChanges("m1", changes.AddNode(node("n1", 0, 0))))
	barrier(t, bob)
	got, ok := viewOf(bob).Node("n1")
	require.True(t, ok)
	assert.Equal(t, "n1", got.ID)
}

func TestServer_EnforcesConnectionLimit(t *testing.T) {
	config := websocket.DefaultServerConfig()
	config.MaxConnectionsPerUser = 1
	s := newTestServerWith(t, zap.NewNop(), config)

	s.dial(t, "alice")

	token, err := s.tokens.GenerateToken("alice", "alice@example.com")
	require.NoError(t, err)
	_, err = syncclient.Dial(timeout(t), s.url, token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestServer_ReportsFirstMalformedBatchAtInfo(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := newTestServerWith(t, zap.New(core), websocket.DefaultServerConfig())
	alice := s.dialJoined(t, "alice", "m1")

	// React Flow ends a drag with a position change that carries no position
	dragEnd := []byte(`{"type":"node-change","data":{"documentId":"m1","changes":[{"type":"position","id":"n1","dragging":false}]}}`)
	require.NoError(t, alice.SendRaw(dragEnd))
	require.NoError(t, alice.SendRaw(dragEnd))
	barrier(t, alice)

	drops := logs.FilterMessage("Dropping malformed batch").All()
	require.Len(t, drops, 2)
	assert.Equal(t, zapcore.InfoLevel, drops[0].Level)
	assert.Equal(t, zapcore.DebugLevel, drops[1].Level)
	assert.Equal(t, alice.ConnectionID, drops[0].ContextMap()["connectionID"])
}

func viewOf(c *syncclient.Client) *changes.View {
	v := c.View()
	return &v
}

// barrier returns once the hub has processed every frame c sent before it.
func barrier(t *testing.T, c *syncclient.Client) {
	t.Helper()
	require.NoError(t, c.SendRaw([]byte(`{"type":"ping"}`)))
	ev, err := c.Next(timeout(t))
	require.NoError(t, err)
	require.Equal(t, protocol.Error, ev.Type)
}
