package ws

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/casino-backend/internal/protocol"
)

// Session is one authenticated participant bound to a connection.
// Outbound frames are queued and written by a dedicated goroutine so that
// callers (the lobby loop) never block on the network.
type Session struct {
	id       string
	userID   int64
	username string
	conn     *Conn
	log      *zap.Logger

	send     chan []byte
	done     chan struct{}
	finished chan struct{}

	closeOnce   sync.Once
	closeCode   protocol.CloseCode
	closeReason string
}

func NewSession(ctx context.Context, conn *Conn, userID int64, username string, queueSize int, log *zap.Logger) *Session {
	if queueSize <= 0 {
		queueSize = 32
	}
	id := uuid.NewString()
	s := &Session{
		id:       id,
		userID:   userID,
		username: username,
		conn:     conn,
		log:      log.With(zap.String("session", id), zap.Int64("user", userID)),
		send:     make(chan []byte, queueSize),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go s.writePump(ctx)
	return s
}

func (s *Session) ID() string       { return s.id }
func (s *Session) UserID() int64    { return s.userID }
func (s *Session) Username() string { return s.username }

// SendFrame queues pre-serialized bytes. A full queue closes the session.
func (s *Session) SendFrame(frame []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.send <- frame:
		return nil
	default:
		s.log.Warn("send queue full, dropping slow client")
		s.Close(protocol.CloseGoingAway, "Too slow")
		return ErrSlowConsumer
	}
}

func (s *Session) SendEnvelope(env protocol.Envelope) error {
	frame, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	return s.SendFrame(frame)
}

func (s *Session) SendEvent(name string, payload any) error {
	frame, err := protocol.EncodeDispatch(name, payload)
	if err != nil {
		return err
	}
	return s.SendFrame(frame)
}

// ReceiveLoop hands every inbound DISPATCH envelope to fn until the
// connection fails. Other opcodes are dropped. Malformed JSON closes the
// session with DECODE_ERROR.
func (s *Session) ReceiveLoop(ctx context.Context, fn func(protocol.Envelope)) error {
	for {
		env, err := s.conn.ReadEnvelope(ctx)
		if err != nil {
			var de *protocol.DecodeError
			if errors.As(err, &de) {
				s.Close(protocol.CloseDecodeError, "Malformed json sent")
			}
			return err
		}
		if env.Op != protocol.OpDispatch {
			s.log.Debug("dropping non-dispatch frame", zap.Stringer("op", env.Op))
			continue
		}
		fn(env)
	}
}

// Close stops the session. Frames already queued are flushed before the
// close frame is sent. Safe to call from any goroutine, any number of times.
func (s *Session) Close(code protocol.CloseCode, reason string) {
	s.closeOnce.Do(func() {
		s.closeCode = code
		s.closeReason = reason
		close(s.done)
	})
}

// Done is closed once Close has been called.
func (s *Session) Done() <-chan struct{} { return s.done }

// Finished is closed once the writer has sent the close frame.
func (s *Session) Finished() <-chan struct{} { return s.finished }

// ClosedByServer reports whether this side initiated the close.
func (s *Session) ClosedByServer() bool { return s.conn.Closing() }

func (s *Session) writePump(ctx context.Context) {
	defer close(s.finished)
	for {
		select {
		case <-s.done:
			s.flush(ctx)
			if err := s.conn.Close(s.closeCode, s.closeReason); err != nil {
				s.log.Debug("close handshake failed", zap.Error(err))
			}
			return
		case <-ctx.Done():
			s.conn.Abandon()
			return
		case frame := <-s.send:
			if err := s.conn.WriteFrame(ctx, frame); err != nil {
				s.log.Warn("write failed", zap.Error(err))
				s.conn.Abandon()
				s.Close(protocol.CloseGoingAway, "write failed")
				return
			}
		}
	}
}

func (s *Session) flush(ctx context.Context) {
	for {
		select {
		case frame := <-s.send:
			if err := s.conn.WriteFrame(ctx, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}
