// Package gateway runs the connection handshake and hands established
// sessions to their lobby.
//
//	client                         server
//	  | ------- upgrade ------------> |  unknown lobby: close INVALID_LOBBY
//	  | <------ HELLO --------------- |
//	  | ------- IDENTIFY {token} ---> |  anything else: close NOT_AUTHENTICATED
//	  |                               |  bad token / unknown user: AUTHENTICATION_FAILED
//	  |                               |  no seat: LOBBY_FULL
//	  | <------ READY --------------- |
//	  | <------ DISPATCH ... -------> |
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/casino-backend/internal/auth"
	"github.com/DoyleJ11/casino-backend/internal/hub"
	"github.com/DoyleJ11/casino-backend/internal/lobby"
	"github.com/DoyleJ11/casino-backend/internal/protocol"
	"github.com/DoyleJ11/casino-backend/internal/store"
	"github.com/DoyleJ11/casino-backend/internal/ws"
	"github.com/DoyleJ11/casino-backend/pkg/types"
)

type Options struct {
	IdentifyTimeout time.Duration
	WriteTimeout    time.Duration
	SendQueueSize   int
	// OriginPatterns are passed to websocket.Accept. Empty allows only
	// same-origin browsers.
	OriginPatterns []string
}

type stopper interface{ Stop() bool }

type Handler struct {
	hub   *hub.Hub
	auth  auth.Authenticator
	users store.UserStore
	opts  Options
	log   *zap.Logger

	afterFunc func(d time.Duration, f func()) stopper
}

func New(h *hub.Hub, a auth.Authenticator, users store.UserStore, opts Options, log *zap.Logger) *Handler {
	return &Handler{
		hub:   h,
		auth:  a,
		users: users,
		opts:  opts,
		log:   log,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
}

// ServeHTTP upgrades /{mode}/{code} and runs the connection to completion.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mode := chi.URLParam(r, "mode")
	code := chi.URLParam(r, "code")
	log := h.log.With(zap.String("mode", mode), zap.String("lobby", code), zap.String("remote", r.RemoteAddr))

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.opts.OriginPatterns})
	if err != nil {
		log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.serve(r.Context(), ws.NewConn(c, h.opts.WriteTimeout, log), mode, code, log)
}

func (h *Handler) serve(ctx context.Context, conn *ws.Conn, mode, code string, log *zap.Logger) {
	lb, err := h.hub.Get(ctx, mode, code)
	if err != nil {
		log.Debug("rejecting connection to unknown lobby", zap.Error(err))
		closeWith(conn, protocol.CloseInvalidLobby, "Invalid lobby", log)
		return
	}

	if err := conn.WriteEnvelope(ctx, protocol.NewHello()); err != nil {
		ws.LogDisconnect(log, err)
		conn.Abandon()
		return
	}

	user, ok := h.identify(ctx, conn, log)
	if !ok {
		return
	}
	log = log.With(zap.Int64("user", user.ID))

	sess := ws.NewSession(ctx, conn, user.ID, user.Username, h.opts.SendQueueSize, log)
	err = lb.Join(ctx, sess, func(memberCount int) {
		ready, err := protocol.NewReady(types.Ready{
			User:        types.PublicUser{ID: user.ID, Username: user.Username, Money: user.Money},
			SessionID:   sess.ID(),
			MemberCount: memberCount,
		})
		if err != nil {
			log.Error("failed to build READY", zap.Error(err))
			return
		}
		_ = sess.SendEnvelope(ready)
	})
	if err != nil {
		// The lobby may have seated the session before ctx ended.
		lb.Leave(sess.ID())
		switch {
		case errors.Is(err, lobby.ErrLobbyFull), errors.Is(err, lobby.ErrAlreadySeated):
			log.Debug("lobby refused seat", zap.Error(err))
			sess.Close(protocol.CloseLobbyFull, "Lobby is full")
		case errors.Is(err, lobby.ErrLobbyClosed):
			sess.Close(protocol.CloseInvalidLobby, "Invalid lobby")
		default:
			sess.Close(protocol.CloseGoingAway, "Server error")
		}
		<-sess.Finished()
		return
	}

	err = sess.ReceiveLoop(ctx, func(env protocol.Envelope) {
		if err := lb.Dispatch(ctx, env, sess); err != nil {
			log.Debug("dropping event for closed lobby", zap.String("event", env.Type), zap.Error(err))
		}
	})
	if !sess.ClosedByServer() {
		ws.LogDisconnect(log, err)
	}

	lb.Leave(sess.ID())
	sess.Close(protocol.CloseNormal, "")
	<-sess.Finished()
}

// identify waits for IDENTIFY and resolves its token to a user. On failure
// the connection has already been closed with the matching code.
func (h *Handler) identify(ctx context.Context, conn *ws.Conn, log *zap.Logger) (store.User, bool) {
	timer := h.afterFunc(h.opts.IdentifyTimeout, func() {
		closeWith(conn, protocol.CloseNotAuthenticated, "Identify timed out", log)
	})
	env, err := conn.ReadEnvelope(ctx)
	// Stop fails once the close has started, even if a frame made it in.
	expired := !timer.Stop()

	var decodeErr *protocol.DecodeError
	switch {
	case expired:
		log.Debug("client never identified")
		return store.User{}, false
	case errors.As(err, &decodeErr):
		log.Debug("malformed handshake payload", zap.Error(err))
		closeWith(conn, protocol.CloseDecodeError, "Malformed json sent", log)
		return store.User{}, false
	case err != nil:
		ws.LogDisconnect(log, err)
		conn.Abandon()
		return store.User{}, false
	case env.Op != protocol.OpIdentify:
		log.Debug("first frame was not IDENTIFY", zap.Stringer("op", env.Op))
		closeWith(conn, protocol.CloseNotAuthenticated, "Not authenticated", log)
		return store.User{}, false
	}

	var id protocol.Identify
	if err := json.Unmarshal(env.Data, &id); err != nil {
		closeWith(conn, protocol.CloseDecodeError, "Malformed json sent", log)
		return store.User{}, false
	}

	userID, err := h.auth.Decode(id.Token)
	if err != nil {
		log.Debug("token rejected", zap.Error(err))
		closeWith(conn, protocol.CloseAuthenticationFailed, "Authentication failed", log)
		return store.User{}, false
	}

	user, err := h.users.GetUserByID(ctx, userID)
	switch {
	case errors.Is(err, store.ErrUserNotFound):
		log.Debug("token for unknown user", zap.Int64("user", userID))
		closeWith(conn, protocol.CloseAuthenticationFailed, "Authentication failed", log)
		return store.User{}, false
	case err != nil:
		log.Error("failed to load user during handshake", zap.Int64("user", userID), zap.Error(err))
		conn.Abandon()
		return store.User{}, false
	}
	return user, true
}

func closeWith(conn *ws.Conn, code protocol.CloseCode, reason string, log *zap.Logger) {
	if err := conn.Close(code, reason); err != nil {
		log.Debug("close handshake incomplete", zap.Stringer("code", code), zap.Error(err))
	}
}
