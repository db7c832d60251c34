// Package protocol defines the gateway wire envelope and its JSON codec.
//
// Every frame exchanged with a client is an envelope:
//
//	{"op": <int>, "d": <object>, "t": <string>}
//
// where "t" carries the event name and is present only on DISPATCH frames.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type Opcode int

const (
	OpDispatch Opcode = 0
	OpHello    Opcode = 1
	OpIdentify Opcode = 2
	OpReady    Opcode = 3
)

func (o Opcode) String() string {
	switch o {
	case OpDispatch:
		return "DISPATCH"
	case OpHello:
		return "HELLO"
	case OpIdentify:
		return "IDENTIFY"
	case OpReady:
		return "READY"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(o))
	}
}

// CloseCode is a WebSocket close status sent when the gateway ends a connection.
type CloseCode int

const (
	CloseNormal               CloseCode = 1000
	CloseGoingAway            CloseCode = 1001
	CloseProtocolError        CloseCode = 1002
	CloseUnknownOpcode        CloseCode = 4001
	CloseDecodeError          CloseCode = 4002
	CloseNotAuthenticated     CloseCode = 4003
	CloseAuthenticationFailed CloseCode = 4004
	CloseLobbyFull            CloseCode = 4005
	CloseInvalidLobby         CloseCode = 4006
)

func (c CloseCode) String() string {
	switch c {
	case CloseNormal:
		return "NORMAL"
	case CloseGoingAway:
		return "GOING_AWAY"
	case CloseProtocolError:
		return "PROTOCOL_ERROR"
	case CloseUnknownOpcode:
		return "UNKNOWN_OPCODE"
	case CloseDecodeError:
		return "DECODE_ERROR"
	case CloseNotAuthenticated:
		return "NOT_AUTHENTICATED"
	case CloseAuthenticationFailed:
		return "AUTHENTICATION_FAILED"
	case CloseLobbyFull:
		return "LOBBY_FULL"
	case CloseInvalidLobby:
		return "INVALID_LOBBY"
	default:
		return fmt.Sprintf("CLOSE(%d)", int(c))
	}
}

// Envelope is one decoded frame. Type is set iff Op is OpDispatch.
type Envelope struct {
	Op   Opcode
	Data json.RawMessage
	Type string
}

// DecodeError reports a frame that is not a well-formed envelope.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode envelope: %s: %v", e.Reason, e.Err)
	}
	return "decode envelope: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

type wireEnvelope struct {
	Op   *int            `json:"op"`
	Data json.RawMessage `json:"d"`
	Type *string         `json:"t,omitempty"`
}

var emptyObject = json.RawMessage("{}")

func Encode(env Envelope) ([]byte, error) {
	op := int(env.Op)
	w := wireEnvelope{Op: &op, Data: env.Data}
	if len(w.Data) == 0 {
		w.Data = emptyObject
	}
	if env.Op == OpDispatch {
		if env.Type == "" {
			return nil, fmt.Errorf("encode envelope: dispatch without event name")
		}
		t := env.Type
		w.Type = &t
	}
	return json.Marshal(w)
}

func Decode(raw []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(raw, &w); err != nil {
		return Envelope{}, &DecodeError{Reason: "malformed json", Err: err}
	}
	if w.Op == nil {
		return Envelope{}, &DecodeError{Reason: `missing "op"`}
	}
	data := bytes.TrimSpace(w.Data)
	if len(data) == 0 || data[0] != '{' {
		return Envelope{}, &DecodeError{Reason: `"d" must be an object`}
	}

	env := Envelope{Op: Opcode(*w.Op), Data: json.RawMessage(data)}
	switch {
	case env.Op == OpDispatch && (w.Type == nil || *w.Type == ""):
		return Envelope{}, &DecodeError{Reason: `dispatch without "t"`}
	case env.Op != OpDispatch && w.Type != nil:
		return Envelope{}, &DecodeError{Reason: fmt.Sprintf(`"t" on %s frame`, env.Op)}
	case env.Op == OpDispatch:
		env.Type = *w.Type
	}
	return env, nil
}

// NewDispatch marshals payload into a DISPATCH envelope for event name.
func NewDispatch(name string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	if bytes.Equal(data, []byte("null")) {
		data = emptyObject
	}
	return Envelope{Op: OpDispatch, Data: data, Type: name}, nil
}

// EncodeDispatch serializes a DISPATCH frame once so it can be fanned out.
func EncodeDispatch(name string, payload any) ([]byte, error) {
	env, err := NewDispatch(name, payload)
	if err != nil {
		return nil, err
	}
	return Encode(env)
}

func NewHello() Envelope {
	return Envelope{Op: OpHello, Data: emptyObject}
}

func NewReady(payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal ready payload: %w", err)
	}
	return Envelope{Op: OpReady, Data: data}, nil
}

// Identify is the payload of an IDENTIFY frame.
type Identify struct {
	Token string `json:"token"`
}
