package slots

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/casino-backend/internal/lobby"
	"github.com/DoyleJ11/casino-backend/internal/protocol"
	"github.com/DoyleJ11/casino-backend/internal/store"
)

type fakeClient struct {
	userID int64
	frames chan []byte
}

func (c *fakeClient) ID() string                        { return "s1" }
func (c *fakeClient) UserID() int64                     { return c.userID }
func (c *fakeClient) Username() string                  { return "alice" }
func (c *fakeClient) Close(protocol.CloseCode, string) {}

func (c *fakeClient) SendFrame(frame []byte) error {
	select {
	case c.frames <- frame:
		return nil
	default:
		return errors.New("full")
	}
}

func recv(t *testing.T, c *fakeClient) protocol.Envelope {
	t.Helper()
	select {
	case frame := <-c.frames:
		env, err := protocol.Decode(frame)
		require.NoError(t, err)
		return env
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
		return protocol.Envelope{}
	}
}

func TestPrize(t *testing.T) {
	cases := []struct {
		symbols [3]string
		want    int64
	}{
		{[3]string{"7️⃣", "7️⃣", "7️⃣"}, 500},
		{[3]string{"🍒", "🍒", "🍒"}, 10},
		{[3]string{"🍒", "🍋", "🍒"}, 2},
		{[3]string{"🔔", "🔔", "💎"}, 2},
		{[3]string{"🍒", "🍋", "🔔"}, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Prize(tc.symbols), "%v", tc.symbols)
	}
}

func setup(t *testing.T, money int64) (*lobby.Lobby, *store.Memory, *fakeClient) {
	t.Helper()
	st := store.NewMemory()
	u := st.CreateUser("alice", money)
	l := lobby.New(context.Background(), "SLOTS", func(l *lobby.Lobby) lobby.Game {
		return New(l, st, rand.New(rand.NewPCG(3, 4)))
	}, zap.NewNop())
	t.Cleanup(l.Close)

	c := &fakeClient{userID: u.ID, frames: make(chan []byte, 16)}
	require.NoError(t, l.Join(context.Background(), c, nil))
	return l, st, c
}

func spin(t *testing.T, l *lobby.Lobby, c *fakeClient) {
	t.Helper()
	env, err := protocol.NewDispatch(Spin{}.EventName(), Spin{})
	require.NoError(t, err)
	require.NoError(t, l.Dispatch(context.Background(), env, c))
}

func TestSlots_ReadySendsBalance(t *testing.T) {
	_, _, c := setup(t, 30)

	env := recv(t, c)
	assert.Equal(t, "UPDATE_MONEY", env.Type)
	assert.JSONEq(t, `{"money":30}`, string(env.Data))
}

func TestSlots_SpinChargesAndPays(t *testing.T) {
	l, st, c := setup(t, 30)
	recv(t, c)

	spin(t, l, c)
	res := recv(t, c)
	require.Equal(t, SpinResult{}.EventName(), res.Type)
	var result SpinResult
	require.NoError(t, json.Unmarshal(res.Data, &result))
	require.Len(t, result.Symbols, 3)
	assert.Equal(t, Prize([3]string(result.Symbols)), result.Win)

	money := recv(t, c)
	require.Equal(t, "UPDATE_MONEY", money.Type)

	u, err := st.GetUserByID(context.Background(), c.userID)
	require.NoError(t, err)
	assert.Equal(t, 30-SpinCost+result.Win, u.Money)
}

func TestSlots_NotEnoughMoney(t *testing.T) {
	l, st, c := setup(t, 4)
	recv(t, c)

	spin(t, l, c)
	env := recv(t, c)
	assert.Equal(t, NotEnoughMoney{}.EventName(), env.Type)
	assert.JSONEq(t, `{"cost":5}`, string(env.Data))

	u, _ := st.GetUserByID(context.Background(), c.userID)
	assert.EqualValues(t, 4, u.Money)
}

func TestSlots_SingleSeat(t *testing.T) {
	l, _, _ := setup(t, 30)
	err := l.Join(context.Background(), &fakeClient{userID: 99, frames: make(chan []byte, 1)}, nil)
	require.ErrorIs(t, err, lobby.ErrLobbyFull)
}
