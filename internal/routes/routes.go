package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/secureshare/secureshare/internal/auth"
	"github.com/secureshare/secureshare/internal/handlers"
	"github.com/secureshare/secureshare/internal/middleware"
)

// HealthChecker reports backing-store health for the health endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Options carries everything the router needs beyond the handlers.
type Options struct {
	TokenManager      *auth.TokenManager
	CSRFManager       *auth.CSRFTokenManager
	RevocationChecker auth.TokenRevocationChecker
	AllowedOrigins    []string
	Production        bool
	Logger            *slog.Logger
	Health            HealthChecker
}

// NewRouter builds the full route tree. Middleware ordering matters: request
// ID and logging wrap everything, security headers and origin checks run
// before any handler, and the per-IP limiter sits only on the public auth
// surface where anonymous abuse is possible.
func NewRouter(
	authHandler *handlers.AuthHandler,
	twoFactorHandler *handlers.TwoFactorHandler,
	accountHandler *handlers.AccountHandler,
	verificationHandler *handlers.VerificationHandler,
	opts Options,
) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecureLogger(opts.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{Production: opts.Production}))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig(opts.AllowedOrigins)))
	r.Use(middleware.RequireTrustedOrigin(opts.AllowedOrigins))

	r.Get("/health", healthCheck(opts.Health))

	authn := auth.AuthMiddleware(opts.TokenManager, opts.RevocationChecker)
	csrf := middleware.CSRFProtection(opts.CSRFManager, opts.Logger)

	// Public auth endpoints. The service layer adds per-account limits on
	// top of this per-IP one.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(middleware.DefaultAuthRateLimit()))

		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/2fa/complete", authHandler.Complete2FA)
		r.Post("/auth/refresh", authHandler.Refresh)
		// Verification links in emails are plain GETs; SPA clients POST.
		r.Get("/auth/verify-email", verificationHandler.VerifyEmail)
		r.Post("/auth/verify-email", verificationHandler.VerifyEmail)
		r.Post("/auth/resend-verification", verificationHandler.ResendVerification)
		r.Post("/auth/forgot-password", verificationHandler.ForgotPassword)
		r.Post("/auth/reset-password", verificationHandler.ResetPassword)
	})

	// Logout accepts expired or garbage cookies, so it sits outside the
	// authenticated group.
	r.Post("/auth/logout", authHandler.Logout)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(middleware.DefaultAPIRateLimit()))
		r.Use(authn)

		r.Get("/csrf", authHandler.CSRFToken)
		r.Get("/auth/me", accountHandler.Me)

		// State-changing routes additionally require a CSRF token.
		r.Group(func(r chi.Router) {
			r.Use(csrf)

			r.Put("/auth/profile", accountHandler.UpdateProfile)
			r.Post("/auth/password", accountHandler.ChangePassword)
			r.Delete("/auth/account", accountHandler.DeleteAccount)

			r.Post("/auth/2fa/setup", twoFactorHandler.Setup)
			r.Post("/auth/2fa/verify", twoFactorHandler.Verify)
			r.Post("/auth/2fa/disable", twoFactorHandler.Disable)
			r.Post("/auth/2fa/backup-codes", twoFactorHandler.RegenerateBackupCodes)
		})
	})

	return r
}

func healthCheck(db HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.HealthCheck(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	}
}
