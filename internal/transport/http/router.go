// http собирает REST API users-service на chi.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pribylovaa/go-video-platform/internal/ratelimit"
	"github.com/pribylovaa/go-video-platform/internal/transport/http/handlers"
	"github.com/pribylovaa/go-video-platform/internal/transport/http/middleware"
	"github.com/pribylovaa/go-video-platform/internal/transport/http/response"
)

// Options — параметры сборки HTTP-роутера.
type Options struct {
	Logger   *slog.Logger
	Timeout  time.Duration
	BasePath string // например, "/api/v1/users"; пустой — маршруты на корне.

	Handlers handlers.Options
	Metrics  middleware.RequestObserver

	// Limiter применяется к login и refresh-token; nil отключает ограничение.
	Limiter         ratelimit.Limiter
	RateLimitN      int
	RateLimitWindow time.Duration
	// ClientKey — ключ лимитера; nil означает middleware.ClientIP (адрес соединения).
	ClientKey func(*http.Request) string
}

// NewRouter собирает http.Handler с middleware и маршрутами.
func NewRouter(svc handlers.AuthService, opts Options) http.Handler {
	root := chi.NewRouter()

	root.Use(
		middleware.Recover(),
		middleware.RequestID(),
		middleware.Logging(opts.Logger),
		middleware.Metrics(opts.Metrics),
		middleware.Timeout(opts.Timeout),
	)

	root.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.WriteError(w, r, response.ErrRouteNotFound)
	})
	root.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.WriteError(w, r, response.ErrMethodNotAllowed)
	})

	h := handlers.New(svc, opts.Handlers)
	limit := middleware.RateLimit(opts.Limiter, opts.RateLimitN, opts.RateLimitWindow, opts.ClientKey)
	session := middleware.VerifyJWT(svc)

	if opts.BasePath != "" && opts.BasePath != "/" {
		root.Route(opts.BasePath, func(r chi.Router) {
			registerRoutes(r, h, limit, session)
		})
		return root
	}

	registerRoutes(root, h, limit, session)
	return root
}

// registerRoutes — единая точка регистрации REST-эндпойнтов.
func registerRoutes(r chi.Router, h *handlers.Handlers, limit, session middleware.Middleware) {
	r.Post("/register", h.Register)
	r.With(limit).Post("/login", h.Login)
	r.With(limit).Post("/refresh-token", h.RefreshToken)

	r.Group(func(r chi.Router) {
		r.Use(session)

		r.Post("/logout", h.Logout)
		r.Post("/change-password", h.ChangePassword)
		r.Get("/current-user", h.CurrentUser)
		r.Patch("/update-account", h.UpdateAccount)
		r.Patch("/avatar", h.UpdateAvatar)
		r.Patch("/cover-image", h.UpdateCoverImage)
	})
}
