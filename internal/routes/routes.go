package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"wattmate/internal/handlers"
	"wattmate/internal/metrics"
	"wattmate/internal/middleware"
)

type Deps struct {
	Auth           *handlers.AuthHandler
	Password       *handlers.PasswordHandler
	Health         *handlers.HealthHandler
	Authenticator  middleware.Authenticator
	GeneralLimiter *middleware.RateLimiter // optional
	LoginLimiter   *middleware.RateLimiter
	ForgotLimiter  *middleware.RateLimiter
	MetricsHandler http.Handler
}

func InitRoutes(router *mux.Router, d Deps) {
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Logging)
	router.Use(metrics.Instrument)
	if d.GeneralLimiter != nil {
		router.Use(d.GeneralLimiter.Middleware)
	}

	router.HandleFunc("/", d.Health.Root).Methods("GET")
	router.HandleFunc("/healthz", d.Health.Healthz).Methods("GET")
	if d.MetricsHandler != nil {
		router.Handle("/metrics", d.MetricsHandler).Methods("GET")
	}

	auth := router.PathPrefix("/api/auth").Subrouter()

	// --- public ---
	auth.HandleFunc("/register", d.Auth.Register).Methods("POST")
	auth.Handle("/login", d.LoginLimiter.Middleware(http.HandlerFunc(d.Auth.Login))).Methods("POST")
	auth.HandleFunc("/refresh-token", d.Auth.RefreshToken).Methods("POST")
	auth.Handle("/forgot-password", d.ForgotLimiter.Middleware(http.HandlerFunc(d.Password.ForgotPassword))).Methods("POST")
	auth.HandleFunc("/reset-password", d.Password.ResetPassword).Methods("POST")

	// --- JWT protected ---
	protected := auth.PathPrefix("").Subrouter()
	protected.Use(func(next http.Handler) http.Handler {
		return middleware.JWTAuth(d.Authenticator, next)
	})

	protected.HandleFunc("/profile", d.Auth.Profile).Methods("GET")
	protected.HandleFunc("/profile", d.Auth.UpdateProfile).Methods("PUT")
	protected.HandleFunc("/change-password", d.Password.ChangePassword).Methods("POST")
	protected.HandleFunc("/logout", d.Auth.Logout).Methods("POST")
	protected.HandleFunc("/logout-all", d.Auth.LogoutAll).Methods("POST")
}
