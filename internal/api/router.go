package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"dhatri/internal/apperr"
	"dhatri/internal/audit"
	"dhatri/internal/config"
	"dhatri/internal/logging"
	"dhatri/internal/middleware"
	"dhatri/internal/models"
	"dhatri/internal/rate"
	"dhatri/internal/service"
)

// Deps are the collaborators the router shares with the rest of the process.
type Deps struct {
	Users   middleware.UserLoader
	Audit   audit.Logger
	Counter rate.AttemptCounter
	Limiter *rate.Limiter
	Log     *zap.Logger
}

type Handlers struct {
	cfg  config.Config
	svc  *service.Service
	resp middleware.Responder
}

func NewRouter(cfg config.Config, svc *service.Service, d Deps) http.Handler {
	log := logging.OrNop(d.Log)
	if d.Audit == nil {
		d.Audit = audit.Nop{}
	}
	if d.Limiter == nil {
		d.Limiter = rate.NewLimiter()
	}
	if d.Counter == nil {
		d.Counter = rate.NewMemoryCounter(cfg.BruteForceMaxAttempts, cfg.BruteForceWindow, nil)
	}
	resp := middleware.Responder{Audit: d.Audit, Log: log, Production: cfg.IsProduction()}
	gate := middleware.Gate{
		Codec:  svc.Codec(),
		Users:  d.Users,
		Strict: cfg.StrictTokenCheck,
		Audit:  d.Audit,
		Resp:   resp,
	}
	h := &Handlers{cfg: cfg, svc: svc, resp: resp}

	general := middleware.Rule{Name: "api", Limit: cfg.RateLimitMaxRequests, Window: cfg.RateLimitWindow,
		Kind: apperr.RateLimited, Message: "Too many requests from this IP, please try again later"}
	login := middleware.Rule{Name: "login", Limit: cfg.LoginRateLimitMax, Window: 15 * time.Minute,
		Kind: apperr.AuthRateLimited, Message: "Too many authentication attempts, please try again after 15 minutes", FailuresOnly: true}
	register := middleware.Rule{Name: "register", Limit: cfg.RegisterRateLimitMax, Window: time.Hour,
		Kind: apperr.RegistrationRateLimited, Message: "Too many accounts created from this IP, please try again after an hour"}
	refresh := middleware.Rule{Name: "refresh", Limit: cfg.RefreshRateLimitMax, Window: 15 * time.Minute,
		Kind: apperr.RefreshRateLimited, Message: "Too many token refresh requests, please try again later"}
	limit := func(rule middleware.Rule) func(http.Handler) http.Handler {
		return middleware.RateLimit(d.Limiter, rule, resp)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer(resp))
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.RealIP(cfg.TrustProxy))
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	r.Use(chimw.CleanPath)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
		}))
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		resp.Fail(w, r, apperr.New(apperr.NotFound, "Route not found"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(limit(general))

		r.Route("/auth", func(r chi.Router) {
			r.Get("/health", h.Health)
			r.With(limit(register)).Post("/register", h.Register)
			r.With(middleware.BruteForce(d.Counter, resp), limit(login)).Post("/login", h.Login)
			r.With(limit(refresh)).Post("/refresh", h.Refresh)
			r.Post("/logout", h.Logout)

			r.Group(func(r chi.Router) {
				r.Use(gate.Authenticate)
				r.Post("/logout-all", h.LogoutAll)
				r.Get("/me", h.Me)
				r.Post("/change-password", h.ChangePassword)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(gate.Authenticate, gate.Authorize(models.RoleAdmin))
			r.Post("/users/{userId}/unlock", h.AdminUnlockUser)
			r.Post("/users/{userId}/deactivate", h.AdminDeactivateUser)
			r.Post("/users/{userId}/activate", h.AdminActivateUser)
			r.Get("/audit/failed-logins", h.AdminFailedLogins)
		})

		r.Route("/users/{userId}", func(r chi.Router) {
			r.Use(gate.Authenticate)
			r.With(gate.CheckOwnershipOrRole("userId", models.RoleAdmin)).Get("/sessions", h.ListSessions)
			r.With(gate.CheckOwnershipOrRole("userId", models.RoleAdmin)).Delete("/sessions/{sessionId}", h.RevokeSession)
			r.With(gate.CheckOwnership("userId")).Get("/activity", h.Activity)
		})
	})

	return r
}
