package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/A1anMc/GrantSGE/internal/apierr"
	"github.com/A1anMc/GrantSGE/internal/logger"
	"github.com/A1anMc/GrantSGE/internal/ratelimit"
	"golang.org/x/time/rate"
)

// Throttle caps total request throughput for this process with a token
// bucket. It protects the process itself; per-client limits are enforced by
// FixedWindow against the shared store.
func Throttle(requestsPerSecond float64, burst int) func(http.Handler) http.Handler {
	global := rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !global.Allow() {
				w.Header().Set("Retry-After", "1")
				apierr.WriteErrorWithContext(w, r, apierr.RateLimitGlobal())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// KeyFunc picks the identifier a request is counted against.
type KeyFunc func(r *http.Request) string

// ClientKey counts authenticated requests per user and everything else per
// client IP.
func ClientKey(r *http.Request) string {
	if userID, ok := r.Context().Value(logger.UserIDKey).(int64); ok && userID != 0 {
		return "user:" + strconv.FormatInt(userID, 10)
	}
	return "ip:" + getClientIP(r)
}

// IPKey counts requests per client IP regardless of authentication.
func IPKey(r *http.Request) string { return "ip:" + getClientIP(r) }

// FixedWindow enforces limiter per key. Rate limit headers are written on
// every response; rejected requests get 429 with Retry-After. Store errors
// that the limiter does not absorb are logged and the request is let through.
func FixedWindow(limiter *ratelimit.Limiter, key KeyFunc) func(http.Handler) http.Handler {
	if key == nil {
		key = ClientKey
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := limiter.Allow(r.Context(), key(r))
			if err != nil {
				logger.WarnContext(r.Context(), "rate limit check failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				secs := retryAfterSeconds(d, limiter)
				h.Set("Retry-After", strconv.FormatInt(secs, 10))
				apierr.WriteErrorWithContext(w, r, apierr.RateLimitExceeded(secs))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfterSeconds(d ratelimit.Decision, limiter *ratelimit.Limiter) int64 {
	secs := int64(math.Ceil(d.RetryAfter(limiter.Now()).Seconds()))
	return max(secs, 1)
}

// getClientIP extracts the client IP from the request, checking common proxy headers.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
