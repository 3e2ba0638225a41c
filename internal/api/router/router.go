package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/DoubleG2s/agente-ia-contabilidade/internal/auth"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/http/handlers"
	httpmiddleware "github.com/DoubleG2s/agente-ia-contabilidade/internal/http/middleware"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/observability/metrics"
)

// Config 路由依赖
type Config struct {
	Logger             *slog.Logger
	HTTPMetrics        *metrics.HTTPMetrics
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	AppName    string
	AppVersion string

	Tokens   *auth.Tokens
	Users    httpmiddleware.UserLookup
	Messages *handlers.MessagesHandler
	Auth     *handlers.AuthHandler
}

// New 创建 chi 路由
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger, cfg.HTTPMetrics))

	r.Get("/health", handlers.Health(cfg.AppName, cfg.AppVersion))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	authenticate := httpmiddleware.Authenticate(cfg.Tokens, cfg.Users)

	if cfg.Auth != nil {
		r.Route("/api/auth", func(r chi.Router) {
			r.Post("/register", cfg.Auth.Register)
			r.Post("/login", cfg.Auth.Login)

			r.Group(func(r chi.Router) {
				r.Use(authenticate)
				r.Get("/me", cfg.Auth.Me)
				r.Put("/me", cfg.Auth.UpdateMe)
				r.Post("/change-password", cfg.Auth.ChangePassword)

				r.Group(func(admin chi.Router) {
					admin.Use(httpmiddleware.RequireRole(auth.RoleAdmin))
					admin.Get("/users", cfg.Auth.ListUsers)
					admin.Patch("/users/{id}/toggle-active", cfg.Auth.ToggleActive)
					admin.Delete("/users/{id}", cfg.Auth.DeleteUser)
				})
			})
		})
	}

	if cfg.Messages != nil {
		r.Route("/api/messages", func(r chi.Router) {
			r.Use(authenticate)
			r.Post("/send", cfg.Messages.Send)
			r.Post("/send-stream", cfg.Messages.SendStream)
			r.Get("/history/{session_id}", cfg.Messages.History)
			r.Delete("/history/{session_id}", cfg.Messages.ClearHistory)
		})
	}

	return r
}
