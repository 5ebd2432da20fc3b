package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"logistics-auth/internal/config"
	"logistics-auth/internal/handler"
	"logistics-auth/internal/middleware"
	"logistics-auth/internal/model"
)

type Handlers struct {
	Auth   *handler.AuthHandler
	User   *handler.UserHandler
	Audit  *handler.AuditHandler
	Health *handler.HealthHandler
}

// New builds the HTTP surface. Every API route is served both at the root
// and under /api. A nil limitStore keeps rate limiting in process.
func New(cfg *config.Config, authMiddleware *middleware.AuthMiddleware, h Handlers, limitStore middleware.LimitStore) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cfg.RateLimit.RPM, cfg.RateLimit.AuthRPM).WithStore(limitStore)

	r.Use(middleware.Recovery)
	r.Use(middleware.NewClientIPResolver(cfg.Server.TrustedProxyPrefixes()).Handler)
	r.Use(middleware.Logging)
	r.Use(middleware.Metrics)
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(rateLimitMiddleware.Handler)

	r.Get("/health", h.Health.Check)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(root chi.Router) {
		mountAPI(root, cfg, authMiddleware, h)
	})
	r.Route("/api", func(api chi.Router) {
		mountAPI(api, cfg, authMiddleware, h)
		api.Get("/health", h.Health.Check)
	})

	return r
}

func mountAPI(api chi.Router, cfg *config.Config, authMiddleware *middleware.AuthMiddleware, h Handlers) {
	api.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	api.Route("/auth", func(auth chi.Router) {
		auth.Post("/login", h.Auth.Login)
		auth.Post("/signin", h.Auth.Login)
		auth.Post("/signup", h.Auth.Register)
		auth.Post("/register", h.Auth.Register)
		auth.Post("/refresh", h.Auth.Refresh)
		auth.Post("/logout", h.Auth.Logout)
		auth.Post("/signout", h.Auth.Logout)
		auth.With(authMiddleware.RequireAuth).Get("/me", h.Auth.Me)
	})

	api.With(authMiddleware.RequireAuth).Get("/customer/profile", h.Auth.Me)

	api.Route("/admin", func(admin chi.Router) {
		admin.Use(authMiddleware.RequireAuth, authMiddleware.RequireRoles(model.RoleAdmin))
		admin.Get("/users", h.User.List)
		admin.Patch("/users/{id}/status", h.User.UpdateStatus)
		admin.Get("/audit", h.Audit.List)
	})
}
