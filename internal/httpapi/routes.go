package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/casino-backend/internal/auth"
	"github.com/DoyleJ11/casino-backend/internal/hub"
	"github.com/DoyleJ11/casino-backend/internal/store"
)

func SetupRoutes(h *hub.Hub, gateway http.Handler, a auth.Authenticator, users store.UserStore, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.With(RequireAuth(a)).Get("/users/me", Me(users, log))
	r.Route("/{mode}", func(r chi.Router) {
		r.Get("/", ListLobbies(h, log))
		r.With(RequireAuth(a)).Post("/", CreateLobby(h, log))
		// WebSocket upgrade into a lobby.
		r.Get("/{code}", gateway.ServeHTTP)
	})
	return r
}
