package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/casino-backend/internal/auth"
	"github.com/DoyleJ11/casino-backend/internal/hub"
	"github.com/DoyleJ11/casino-backend/internal/lobby"
	"github.com/DoyleJ11/casino-backend/internal/protocol"
	"github.com/DoyleJ11/casino-backend/internal/slots"
	"github.com/DoyleJ11/casino-backend/internal/store"
	"github.com/DoyleJ11/casino-backend/pkg/types"
)

type env struct {
	gw    *Handler
	srv   *httptest.Server
	hub   *hub.Hub
	jwt   *auth.JWT
	users *store.Memory
}

func newEnv(t *testing.T, identifyTimeout time.Duration) *env {
	t.Helper()
	users := store.NewMemory()
	h := hub.NewHub(context.Background(), []hub.Mode{
		{Name: slots.Mode, New: func(l *lobby.Lobby) lobby.Game { return slots.New(l, users, nil) }},
	}, zap.NewNop())
	jwt := auth.NewJWT("test-secret", time.Hour)
	gw := New(h, jwt, users, Options{
		IdentifyTimeout: identifyTimeout,
		WriteTimeout:    time.Second,
		SendQueueSize:   16,
	}, zap.NewNop())

	r := chi.NewRouter()
	r.Get("/{mode}/{code}", gw.ServeHTTP)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		_ = h.Shutdown(context.Background())
		srv.Close()
	})
	return &env{gw: gw, srv: srv, hub: h, jwt: jwt, users: users}
}

func (e *env) lobby(t *testing.T) string {
	t.Helper()
	info, err := e.hub.Create(context.Background(), slots.Mode)
	require.NoError(t, err)
	return info.Code
}

func (e *env) token(t *testing.T, userID int64) string {
	t.Helper()
	tok, err := e.jwt.Issue(userID)
	require.NoError(t, err)
	return tok
}

func (e *env) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + path
	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func read(t *testing.T, c *websocket.Conn) (protocol.Envelope, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		return protocol.Envelope{}, err
	}
	env, err := protocol.Decode(data)
	require.NoError(t, err)
	return env, nil
}

func mustRead(t *testing.T, c *websocket.Conn) protocol.Envelope {
	t.Helper()
	env, err := read(t, c)
	require.NoError(t, err)
	return env
}

func write(t *testing.T, c *websocket.Conn, raw string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(raw)))
}

func identify(t *testing.T, c *websocket.Conn, token string) {
	t.Helper()
	d, err := json.Marshal(protocol.Identify{Token: token})
	require.NoError(t, err)
	write(t, c, `{"op":2,"d":`+string(d)+`}`)
}

// expectClose reads until the server closes and returns the status.
func expectClose(t *testing.T, c *websocket.Conn) websocket.StatusCode {
	t.Helper()
	for {
		env, err := read(t, c)
		if err != nil {
			return websocket.CloseStatus(err)
		}
		require.NotEqual(t, protocol.OpReady, env.Op, "no READY expected before close")
	}
}

func TestGateway_ReadyAfterIdentify(t *testing.T) {
	e := newEnv(t, time.Second)
	u := e.users.CreateUser("alice", 100)
	code := e.lobby(t)

	c := e.dial(t, "/slots/"+code)
	assert.Equal(t, protocol.OpHello, mustRead(t, c).Op)
	identify(t, c, e.token(t, u.ID))

	ready := mustRead(t, c)
	require.Equal(t, protocol.OpReady, ready.Op)
	var payload types.Ready
	require.NoError(t, json.Unmarshal(ready.Data, &payload))
	assert.Equal(t, types.PublicUser{ID: u.ID, Username: "alice", Money: 100}, payload.User)
	assert.Equal(t, 1, payload.MemberCount)
	assert.NotEmpty(t, payload.SessionID)

	money := mustRead(t, c)
	assert.Equal(t, types.UpdateMoney{}.EventName(), money.Type)

	write(t, c, `{"op":0,"t":"SLOTS_SPIN","d":{}}`)
	assert.Equal(t, slots.SpinResult{}.EventName(), mustRead(t, c).Type)
}

func TestGateway_RejectsUnknownLobby(t *testing.T) {
	e := newEnv(t, time.Second)
	for _, path := range []string{"/slots/ZZZZZ", "/slots/bad", "/roulette/ABCDE"} {
		c := e.dial(t, path)
		assert.Equal(t, websocket.StatusCode(protocol.CloseInvalidLobby), expectClose(t, c), path)
	}
}

func TestGateway_FirstFrameMustIdentify(t *testing.T) {
	e := newEnv(t, time.Second)
	u := e.users.CreateUser("alice", 100)
	code := e.lobby(t)

	c := e.dial(t, "/slots/"+code)
	mustRead(t, c)
	write(t, c, `{"op":0,"t":"SLOTS_SPIN","d":{"token":"`+e.token(t, u.ID)+`"}}`)
	assert.Equal(t, websocket.StatusCode(protocol.CloseNotAuthenticated), expectClose(t, c))
}

func TestGateway_IdentifyTimeout(t *testing.T) {
	e := newEnv(t, 50*time.Millisecond)
	code := e.lobby(t)

	c := e.dial(t, "/slots/"+code)
	mustRead(t, c)
	assert.Equal(t, websocket.StatusCode(protocol.CloseNotAuthenticated), expectClose(t, c))
}

// firingTimer reports that it already fired and runs the timeout callback
// concurrently, as when the deadline lands just after IDENTIFY was read.
type firingTimer struct{ f func() }

func (t firingTimer) Stop() bool {
	go t.f()
	return false
}

func TestGateway_IdentifyLosingToTimeoutIsRejected(t *testing.T) {
	e := newEnv(t, time.Hour)
	e.gw.afterFunc = func(_ time.Duration, f func()) stopper { return firingTimer{f: f} }
	u := e.users.CreateUser("alice", 100)
	code := e.lobby(t)

	c := e.dial(t, "/slots/"+code)
	mustRead(t, c)
	identify(t, c, e.token(t, u.ID))
	assert.Equal(t, websocket.StatusCode(protocol.CloseNotAuthenticated), expectClose(t, c))

	lb, err := e.hub.Get(context.Background(), slots.Mode, code)
	require.NoError(t, err)
	assert.Equal(t, 0, lb.Info().MemberCount)
}

func TestGateway_AuthenticationFailures(t *testing.T) {
	e := newEnv(t, time.Second)
	code := e.lobby(t)

	cases := map[string]string{
		"garbage token": "not-a-jwt",
		"empty token":   "",
		"unknown user":  e.token(t, 999),
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			c := e.dial(t, "/slots/"+code)
			mustRead(t, c)
			identify(t, c, tok)
			assert.Equal(t, websocket.StatusCode(protocol.CloseAuthenticationFailed), expectClose(t, c))
		})
	}
}

func TestGateway_MalformedHandshake(t *testing.T) {
	e := newEnv(t, time.Second)
	code := e.lobby(t)

	c := e.dial(t, "/slots/"+code)
	mustRead(t, c)
	write(t, c, `{"op":2,`)
	assert.Equal(t, websocket.StatusCode(protocol.CloseDecodeError), expectClose(t, c))
}

func TestGateway_LobbyFull(t *testing.T) {
	e := newEnv(t, time.Second)
	alice := e.users.CreateUser("alice", 100)
	bob := e.users.CreateUser("bob", 100)
	code := e.lobby(t)

	first := e.dial(t, "/slots/"+code)
	mustRead(t, first)
	identify(t, first, e.token(t, alice.ID))
	require.Equal(t, protocol.OpReady, mustRead(t, first).Op)

	second := e.dial(t, "/slots/"+code)
	mustRead(t, second)
	identify(t, second, e.token(t, bob.ID))
	assert.Equal(t, websocket.StatusCode(protocol.CloseLobbyFull), expectClose(t, second))
}

func TestGateway_DisconnectFreesSeat(t *testing.T) {
	e := newEnv(t, time.Second)
	u := e.users.CreateUser("alice", 100)
	code := e.lobby(t)

	c := e.dial(t, "/slots/"+code)
	mustRead(t, c)
	identify(t, c, e.token(t, u.ID))
	require.Equal(t, protocol.OpReady, mustRead(t, c).Op)

	lb, err := e.hub.Get(context.Background(), slots.Mode, code)
	require.NoError(t, err)
	assert.Equal(t, 1, lb.Info().MemberCount)

	require.NoError(t, c.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return lb.Info().MemberCount == 0 }, 2*time.Second, 10*time.Millisecond)

	again := e.dial(t, "/slots/"+code)
	mustRead(t, again)
	identify(t, again, e.token(t, u.ID))
	assert.Equal(t, protocol.OpReady, mustRead(t, again).Op)
}

func TestGateway_ShutdownClosesSessions(t *testing.T) {
	e := newEnv(t, time.Second)
	u := e.users.CreateUser("alice", 100)
	code := e.lobby(t)

	c := e.dial(t, "/slots/"+code)
	mustRead(t, c)
	identify(t, c, e.token(t, u.ID))
	require.Equal(t, protocol.OpReady, mustRead(t, c).Op)
	mustRead(t, c) // UPDATE_MONEY

	require.NoError(t, e.hub.Shutdown(context.Background()))
	assert.Equal(t, websocket.StatusGoingAway, expectClose(t, c))
}
