package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// Action names rate-limited by the guard. Budgets are deliberately
// asymmetric: destructive actions get far stricter limits than reads.
const (
	ActionLoginAttempt         = "login_attempt"
	ActionTwoFactorVerify      = "two_factor_verify"
	ActionPasswordResetRequest = "password_reset_request"
	ActionResendVerification   = "resend_verification"
	ActionAccountDeletion      = "account_deletion"
	ActionProfileUpdate        = "profile_update"
	ActionGetProfile           = "get_profile"
	ActionGeneric              = "generic"
)

// Limit is a fixed-window budget for one action.
type Limit struct {
	MaxAttempts int
	Window      time.Duration
}

// DefaultLimits returns the per-action budget table.
func DefaultLimits() map[string]Limit {
	return map[string]Limit{
		// Looser than the per-account lockout threshold so a locked account
		// reports 423 instead of hiding behind 429.
		ActionLoginAttempt: {MaxAttempts: 10, Window: 15 * time.Minute},
		ActionTwoFactorVerify:      {MaxAttempts: 10, Window: 15 * time.Minute},
		ActionPasswordResetRequest: {MaxAttempts: 3, Window: time.Hour},
		ActionResendVerification:   {MaxAttempts: 3, Window: 15 * time.Minute},
		ActionAccountDeletion:      {MaxAttempts: 2, Window: 24 * time.Hour},
		ActionProfileUpdate:        {MaxAttempts: 10, Window: time.Hour},
		ActionGetProfile:           {MaxAttempts: 100, Window: time.Minute},
		ActionGeneric:              {MaxAttempts: 60, Window: time.Minute},
	}
}

// Result reports the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetTime time.Time
}

// Store counts attempts per (identifier, action) key within a fixed window.
// Increment returns the new count and the window expiry. The window does not
// slide; a burst at the boundary can admit up to twice the budget, an
// accepted tradeoff for counter simplicity.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int64, resetTime time.Time, err error)
	Reset(ctx context.Context, key string) error
}

// Guard enforces fixed-window rate limits keyed by (identifier, action).
type Guard struct {
	store  Store
	limits map[string]Limit
	logger *slog.Logger
}

// NewGuard creates a rate limit guard over the given store.
func NewGuard(store Store, limits map[string]Limit, logger *slog.Logger) *Guard {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &Guard{
		store:  store,
		limits: limits,
		logger: logger,
	}
}

// Check counts an attempt for (identifier, action) and reports whether it is
// within budget. Unknown actions fall back to the generic budget. Store
// errors fail open: rate limiting is a deterrence mechanism, and a store
// outage should not lock every user out.
func (g *Guard) Check(ctx context.Context, identifier, action string) Result {
	limit, ok := g.limits[action]
	if !ok {
		limit = g.limits[ActionGeneric]
	}

	key := identifier + ":" + action
	count, resetTime, err := g.store.Increment(ctx, key, limit.Window)
	if err != nil {
		g.logger.Error("rate limit store unavailable, failing open",
			slog.String("action", action),
			slog.Any("error", err))
		return Result{Allowed: true, Remaining: limit.MaxAttempts, ResetTime: time.Now().Add(limit.Window)}
	}

	remaining := limit.MaxAttempts - int(count)
	if remaining < 0 {
		remaining = 0
	}

	if count > int64(limit.MaxAttempts) {
		g.logger.Warn("rate limit exceeded",
			slog.String("action", action),
			slog.Int64("count", count),
			slog.Time("reset_time", resetTime))
		return Result{Allowed: false, Remaining: 0, ResetTime: resetTime}
	}

	return Result{Allowed: true, Remaining: remaining, ResetTime: resetTime}
}

// Reset clears the counter for (identifier, action), e.g. after a
// successful login.
func (g *Guard) Reset(ctx context.Context, identifier, action string) {
	if err := g.store.Reset(ctx, identifier+":"+action); err != nil {
		g.logger.Error("failed to reset rate limit counter",
			slog.String("action", action),
			slog.Any("error", err))
	}
}
