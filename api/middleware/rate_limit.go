package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trialhub/trialhub-backend/api/responses"
	"github.com/trialhub/trialhub-backend/pkg/config"
	pkgerrors "github.com/trialhub/trialhub-backend/pkg/errors"
	"github.com/trialhub/trialhub-backend/pkg/logger"
)

// RateLimiter is the fixed window counter backed by redis.
type RateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// PaymentRateLimit throttles money-moving requests per authenticated user and per client IP.
// Counter failures let the request through.
func PaymentRateLimit(limiter RateLimiter, cfg config.RateLimitConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	window := cfg.PaymentWindow
	if window <= 0 {
		window = time.Minute
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			scopes := make([]rateScope, 0, 2)
			if ip := clientIP(r); ip != "" && cfg.PaymentIPLimit > 0 {
				scopes = append(scopes, rateScope{key: "payment:ip:" + ip, limit: cfg.PaymentIPLimit})
			}
			if userID := UserIDFromContext(ctx); userID != uuid.Nil && cfg.PaymentUserLimit > 0 {
				scopes = append(scopes, rateScope{key: "payment:user:" + userID.String(), limit: cfg.PaymentUserLimit})
			}

			for _, scope := range scopes {
				allowed, _, err := limiter.FixedWindowAllow(ctx, scope.key, int64(scope.limit), window)
				if err != nil {
					logError(ctx, logg, "payment rate limit check failed", err)
					continue
				}
				if !allowed {
					w.Header().Set("Retry-After", retryAfterSeconds(window))
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many payment requests"))
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

type rateScope struct {
	key   string
	limit int
}

func retryAfterSeconds(window time.Duration) string {
	return strconv.Itoa(max(int(window.Seconds()), 1))
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first, _, _ := strings.Cut(forwarded, ","); strings.TrimSpace(first) != "" {
			return strings.TrimSpace(first)
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
