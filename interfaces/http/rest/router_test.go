package rest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mindsync/application/services"
	"mindsync/domain/mindmap"
	"mindsync/infrastructure/persistence/memory"
	"mindsync/interfaces/http/rest/handlers"
	"mindsync/pkg/auth"
	apperrors "mindsync/pkg/errors"
	"mindsync/pkg/observability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "router-secret"

type routerFixture struct {
	handler http.Handler
	tokens  *auth.JWTGenerator
	ready   bool
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	store := memory.NewDocumentRepository()
	store.Create(mindmap.Document{
		ID:      "m1",
		OwnerID: "alice",
		Title:   "Plano",
		Nodes:   []mindmap.Node{{ID: "n1", Position: mindmap.Position{X: 1, Y: 2}}},
	})
	store.Create(mindmap.Document{ID: "public", OwnerID: "alice", IsPublic: true})
	store.Grant(mindmap.Permission{DocumentID: "m1", UserID: "bob", Level: mindmap.LevelEdit})
	store.Grant(mindmap.Permission{DocumentID: "m1", UserID: "victor", Level: mindmap.LevelView})

	logger := zap.NewNop()
	validator, err := auth.NewJWTValidator(auth.JWTConfig{SecretKey: testSecret})
	require.NoError(t, err)
	tokens, err := auth.NewJWTGenerator(auth.JWTConfig{SecretKey: testSecret}, time.Hour)
	require.NoError(t, err)

	f := &routerFixture{tokens: tokens, ready: true}
	maps := handlers.NewMapHandler(
		services.NewDocumentService(store, logger),
		apperrors.NewErrorHandler(logger, false),
		logger,
	)
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	f.handler = NewRouter(maps, ws, validator, observability.NewCollector("mindsync"),
		[]string{"http://localhost:3000"}, func() bool { return f.ready }, logger).Setup()
	return f
}

func (f *routerFixture) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		token, err := f.tokens.GenerateToken(userID, "")
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestRouter_Probes(t *testing.T) {
	f := newRouterFixture(t)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/ready", "", "").Code)

	f.ready = false
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/ready", "", "").Code)

	rec := f.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mindsync_websocket_connections")
	assert.Contains(t, rec.Body.String(), "mindsync_http_requests_total")

	assert.Equal(t, http.StatusTeapot, f.do(t, http.MethodGet, "/ws", "", "").Code)
}

func TestRouter_GetMap(t *testing.T) {
	f := newRouterFixture(t)

	tests := []struct {
		name   string
		path   string
		userID string
		status int
	}{
		{"owner", "/api/maps/m1", "alice", http.StatusOK},
		{"editor", "/api/maps/m1", "bob", http.StatusOK},
		{"viewer", "/api/maps/m1", "victor", http.StatusOK},
		{"stranger", "/api/maps/m1", "carol", http.StatusForbidden},
		{"stranger on public map", "/api/maps/public", "carol", http.StatusOK},
		{"missing map", "/api/maps/nope", "alice", http.StatusNotFound},
		{"no token", "/api/maps/m1", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tt.path, tt.userID, "")
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec := f.do(t, http.MethodGet, "/api/maps/m1", "alice", "")
	var got handlers.MapResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Plano", got.Title)
	assert.Equal(t, "alice", got.Owner)
	require.Len(t, got.Nodes, 1)
	assert.Equal(t, mindmap.Position{X: 1, Y: 2}, got.Nodes[0].Position)
	assert.Empty(t, got.Connections)
}

func TestRouter_SaveMap(t *testing.T) {
	f := newRouterFixture(t)

	body := `{"title":"","nodes":[{"id":"a","position":{"x":5,"y":6}},{"id":"b","position":{"x":0,"y":0}}],"connections":[{"id":"e1","source":"a","target":"b"}]}`

	t.Run("Editor save overwrites the map", func(t *testing.T) {
		rec := f.do(t, http.MethodPut, "/api/maps/m1", "bob", body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var saved handlers.MapResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
		assert.NotEmpty(t, saved.CreatedAt)
		assert.NotEmpty(t, saved.UpdatedAt)

		rec = f.do(t, http.MethodGet, "/api/maps/m1", "alice", "")
		var got handlers.MapResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, mindmap.DefaultTitle, got.Title)
		assert.Equal(t, "alice", got.Owner)
		require.Len(t, got.Nodes, 2)
		assert.Equal(t, "a", got.Nodes[0].ID)
		require.Len(t, got.Connections, 1)
	})

	t.Run("Last save wins", func(t *testing.T) {
		rec := f.do(t, http.MethodPut, "/api/maps/m1", "alice", `{"title":"Final","nodes":[],"connections":[]}`)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = f.do(t, http.MethodGet, "/api/maps/m1", "bob", "")
		var got handlers.MapResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "Final", got.Title)
		assert.Empty(t, got.Nodes)
	})

	t.Run("Viewer cannot save", func(t *testing.T) {
		rec := f.do(t, http.MethodPut, "/api/maps/m1", "victor", body)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("Invalid body", func(t *testing.T) {
		rec := f.do(t, http.MethodPut, "/api/maps/m1", "alice", `{"nodes":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Duplicate node ids", func(t *testing.T) {
		rec := f.do(t, http.MethodPut, "/api/maps/m1", "alice", `{"nodes":[{"id":"a"},{"id":"a"}]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Missing map", func(t *testing.T) {
		rec := f.do(t, http.MethodPut, "/api/maps/nope", "alice", body)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
