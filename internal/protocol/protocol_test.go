package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_RoundTripEveryOpcode(t *testing.T) {
	cases := []Envelope{
		{Op: OpDispatch, Data: json.RawMessage(`{"bet":25}`), Type: "BLACKJACK_SET_BET"},
		{Op: OpHello, Data: json.RawMessage(`{}`)},
		{Op: OpIdentify, Data: json.RawMessage(`{"token":"abc"}`)},
		{Op: OpReady, Data: json.RawMessage(`{"session_id":"x","member_count":2}`)},
	}

	for _, env := range cases {
		t.Run(env.Op.String(), func(t *testing.T) {
			raw, err := Encode(env)
			require.NoError(t, err)

			got, err := Decode(raw)
			require.NoError(t, err)
			assert.Equal(t, env.Op, got.Op)
			assert.Equal(t, env.Type, got.Type)
			assert.JSONEq(t, string(env.Data), string(got.Data))
		})
	}
}

func TestEncode_OmitsEventNameOutsideDispatch(t *testing.T) {
	raw, err := Encode(Envelope{Op: OpHello, Type: "ignored"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":1,"d":{}}`, string(raw))
}

func TestEncode_DispatchNeedsName(t *testing.T) {
	_, err := Encode(Envelope{Op: OpDispatch})
	require.Error(t, err)
}

func TestDecode_Rejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{"op":`},
		{"array", `[1,2]`},
		{"missing op", `{"d":{}}`},
		{"op not int", `{"op":"2","d":{}}`},
		{"missing d", `{"op":2}`},
		{"null d", `{"op":2,"d":null}`},
		{"d not object", `{"op":2,"d":"token"}`},
		{"dispatch without t", `{"op":0,"d":{}}`},
		{"dispatch empty t", `{"op":0,"d":{},"t":""}`},
		{"t on identify", `{"op":2,"d":{},"t":"X"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.raw))
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("want *DecodeError, got %v", err)
			}
		})
	}
}

func TestDecode_AllowsNullEventNameAndUnknownOpcode(t *testing.T) {
	env, err := Decode([]byte(`{"op":3,"d":{},"t":null}`))
	require.NoError(t, err)
	assert.Equal(t, OpReady, env.Op)

	env, err = Decode([]byte(`{"op":9,"d":{}}`))
	require.NoError(t, err)
	assert.Equal(t, Opcode(9), env.Op)
	assert.Equal(t, "UNKNOWN(9)", env.Op.String())
}

func TestEncodeDispatch(t *testing.T) {
	raw, err := EncodeDispatch("UPDATE_MONEY", struct {
		Money int64 `json:"money"`
	}{Money: 90})
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":0,"d":{"money":90},"t":"UPDATE_MONEY"}`, string(raw))

	raw, err = EncodeDispatch("BLACKJACK_DRAW", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":0,"d":{},"t":"BLACKJACK_DRAW"}`, string(raw))
}

func TestCloseCodeValues(t *testing.T) {
	assert.Equal(t, 1002, int(CloseProtocolError))
	assert.Equal(t, 4003, int(CloseNotAuthenticated))
	assert.Equal(t, 4006, int(CloseInvalidLobby))
	assert.Equal(t, "LOBBY_FULL", CloseLobbyFull.String())
}
