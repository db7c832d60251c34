package ws

import (
	"context"
	"errors"
	"fmt"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/casino-backend/internal/protocol"
)

var ErrSessionClosed = errors.New("session closed")
var ErrSlowConsumer = errors.New("session send queue full")

// ConnectionError means the connection went away without a close frame
// from the peer (cancelled I/O, reset, EOF).
type ConnectionError struct {
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to communicate with client: %q", e.Reason)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ClientClosedError means the peer sent a close frame.
type ClientClosedError struct {
	Code   int
	Reason string
}

func (e *ClientClosedError) Error() string {
	return fmt.Sprintf("client closed connection with code %d (%s)", e.Code, e.Reason)
}

// TransportError means a frame arrived in a shape the gateway cannot use.
type TransportError struct {
	Reason string
}

func (e *TransportError) Error() string {
	return "websocket transport error: " + e.Reason
}

func classifyReadError(err error) error {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return &ClientClosedError{Code: int(ce.Code), Reason: ce.Reason}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &ConnectionError{Reason: "client cancelled", Err: err}
	}
	return &ConnectionError{Reason: "client has closed", Err: err}
}

// LogDisconnect logs err at the level matching who ended the connection.
func LogDisconnect(log *zap.Logger, err error) {
	var (
		closed    *ClientClosedError
		conn      *ConnectionError
		transport *TransportError
		decode    *protocol.DecodeError
	)
	switch {
	case errors.As(err, &closed):
		log.Info("client has closed the connection", zap.Int("code", closed.Code), zap.String("reason", closed.Reason))
	case errors.As(err, &conn):
		log.Warn("failed to communicate with client", zap.String("reason", conn.Reason), zap.Error(conn.Err))
	case errors.As(err, &transport):
		log.Warn("encountered transport error", zap.String("reason", transport.Reason))
	case errors.As(err, &decode):
		log.Debug("received malformed payload", zap.Error(err))
	default:
		log.Error("encountered gateway error", zap.Error(err))
	}
}
