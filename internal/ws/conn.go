// Package ws binds gateway envelopes to a physical WebSocket stream.
package ws

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/casino-backend/internal/protocol"
)

const maxFrameSize = 64 << 10

// Conn owns one WebSocket connection and speaks envelopes over it.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	closing      atomic.Bool
	log          *zap.Logger
}

func NewConn(c *websocket.Conn, writeTimeout time.Duration, log *zap.Logger) *Conn {
	c.SetReadLimit(maxFrameSize)
	return &Conn{ws: c, writeTimeout: writeTimeout, log: log}
}

// ReadFrame returns the next payload. Text and binary frames are both accepted.
func (c *Conn) ReadFrame(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, classifyReadError(err)
	}
	if len(data) == 0 {
		return nil, &TransportError{Reason: "unexpected empty payload"}
	}
	return data, nil
}

func (c *Conn) ReadEnvelope(ctx context.Context) (protocol.Envelope, error) {
	data, err := c.ReadFrame(ctx)
	if err != nil {
		return protocol.Envelope{}, err
	}
	c.log.Debug("received payload", zap.Int("size", len(data)), zap.ByteString("payload", data))
	return protocol.Decode(data)
}

func (c *Conn) WriteFrame(ctx context.Context, data []byte) error {
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	c.log.Debug("sending payload", zap.Int("size", len(data)), zap.ByteString("payload", data))
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *Conn) WriteEnvelope(ctx context.Context, env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	return c.WriteFrame(ctx, data)
}

// Close sends a close frame once; later calls are no-ops.
func (c *Conn) Close(code protocol.CloseCode, reason string) error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	c.log.Debug("sending close frame", zap.Stringer("code", code), zap.String("reason", reason))
	return c.ws.Close(websocket.StatusCode(code), reason)
}

// Abandon drops the connection without a close handshake.
func (c *Conn) Abandon() {
	if c.closing.CompareAndSwap(false, true) {
		_ = c.ws.CloseNow()
	}
}

// Closing reports whether this side has started closing the connection.
func (c *Conn) Closing() bool {
	return c.closing.Load()
}
