package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/DoyleJ11/casino-backend/internal/auth"
	"github.com/DoyleJ11/casino-backend/internal/hub"
	"github.com/DoyleJ11/casino-backend/internal/lobby"
	"github.com/DoyleJ11/casino-backend/internal/store"
	"github.com/DoyleJ11/casino-backend/pkg/types"
)

type userKey struct{}

// UserID returns the caller resolved by RequireAuth.
func UserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userKey{}).(int64)
	return id, ok
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(a auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			id, err := a.Decode(strings.TrimSpace(token))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, id)))
		})
	}
}

// Me returns the caller's public profile, including the current balance.
func Me(users store.UserStore, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := UserID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		u, err := users.GetUserByID(r.Context(), id)
		switch {
		case errors.Is(err, store.ErrUserNotFound):
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		case err != nil:
			log.Error("failed to load user", zap.Int64("user", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load user")
			return
		}
		writeJSON(w, http.StatusOK, types.PublicUser{ID: u.ID, Username: u.Username, Money: u.Money})
	}
}

func CreateLobby(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mode := chi.URLParam(r, "mode")
		info, err := h.Create(r.Context(), mode)
		switch {
		case errors.Is(err, hub.ErrUnknownMode):
			writeError(w, http.StatusNotFound, "unknown game mode")
			return
		case err != nil:
			log.Error("failed to create lobby", zap.String("mode", mode), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to create lobby")
			return
		}
		id, _ := UserID(r.Context())
		log.Info("lobby requested", zap.String("mode", mode), zap.String("lobby", info.Code), zap.Int64("user", id))
		writeJSON(w, http.StatusCreated, listing(info))
	}
}

func ListLobbies(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mode := chi.URLParam(r, "mode")
		infos, err := h.List(r.Context(), mode)
		switch {
		case errors.Is(err, hub.ErrUnknownMode):
			writeError(w, http.StatusNotFound, "unknown game mode")
			return
		case err != nil:
			log.Error("failed to list lobbies", zap.String("mode", mode), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to list lobbies")
			return
		}
		writeJSON(w, http.StatusOK, lo.Map(infos, func(i lobby.Info, _ int) types.LobbyListing { return listing(i) }))
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func listing(i lobby.Info) types.LobbyListing {
	return types.LobbyListing{Code: i.Code, MemberCount: i.MemberCount, MaxClients: i.MaxClients, Full: i.Full()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.Error{Error: msg})
}
