package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/casino-backend/internal/auth"
	"github.com/DoyleJ11/casino-backend/internal/hub"
	"github.com/DoyleJ11/casino-backend/internal/lobby"
	"github.com/DoyleJ11/casino-backend/internal/store"
	"github.com/DoyleJ11/casino-backend/pkg/types"
)

type stubGame struct{ max int }

func (stubGame) Mode() string               { return "blackjack" }
func (g stubGame) MaxClients() int          { return g.max }
func (stubGame) Register(*lobby.Dispatcher) {}

func newRouter(t *testing.T) (http.Handler, *auth.JWT) {
	t.Helper()
	r, jwt, _ := newRouterWithUsers(t)
	return r, jwt
}

func newRouterWithUsers(t *testing.T) (http.Handler, *auth.JWT, *store.Memory) {
	t.Helper()
	h := hub.NewHub(context.Background(), []hub.Mode{
		{Name: "blackjack", New: func(*lobby.Lobby) lobby.Game { return stubGame{max: 5} }},
	}, zap.NewNop())
	t.Cleanup(func() { _ = h.Shutdown(context.Background()) })
	jwt := auth.NewJWT("test-secret", time.Hour)
	gw := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	users := store.NewMemory()
	return SetupRoutes(h, gw, jwt, users, zap.NewNop()), jwt, users
}

func do(t *testing.T, h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateLobby_RequiresToken(t *testing.T) {
	r, _ := newRouter(t)

	assert.Equal(t, http.StatusUnauthorized, do(t, r, http.MethodPost, "/blackjack/", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, r, http.MethodPost, "/blackjack/", "garbage").Code)
}

func TestCreateThenList(t *testing.T) {
	r, jwt := newRouter(t)
	tok, err := jwt.Issue(7)
	require.NoError(t, err)

	rec := do(t, r, http.MethodPost, "/blackjack/", tok)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var created types.LobbyListing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.True(t, hub.ValidCode(created.Code))
	assert.Equal(t, types.LobbyListing{Code: created.Code, MaxClients: 5}, created)

	rec = do(t, r, http.MethodGet, "/blackjack/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []types.LobbyListing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, []types.LobbyListing{created}, list)
}

func TestListEmptyIsArray(t *testing.T) {
	r, _ := newRouter(t)
	rec := do(t, r, http.MethodGet, "/blackjack/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestUnknownMode(t *testing.T) {
	r, jwt := newRouter(t)
	tok, err := jwt.Issue(7)
	require.NoError(t, err)

	rec := do(t, r, http.MethodGet, "/roulette/", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"unknown game mode"}`, rec.Body.String())
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodPost, "/roulette/", tok).Code)
}

func TestRoutes_GatewayAndHealth(t *testing.T) {
	r, _ := newRouter(t)
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusTeapot, do(t, r, http.MethodGet, "/blackjack/ABCDE", "").Code)
}

func TestMe(t *testing.T) {
	r, jwt, users := newRouterWithUsers(t)
	u := users.CreateUser("alice", 250)

	assert.Equal(t, http.StatusUnauthorized, do(t, r, http.MethodGet, "/users/me", "").Code)

	tok, err := jwt.Issue(u.ID)
	require.NoError(t, err)
	rec := do(t, r, http.MethodGet, "/users/me", tok)
	require.Equal(t, http.StatusOK, rec.Code)
	var got types.PublicUser
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, types.PublicUser{ID: u.ID, Username: "alice", Money: 250}, got)

	stranger, err := jwt.Issue(u.ID + 100)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(t, r, http.MethodGet, "/users/me", stranger).Code)
}
