package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/kuitang/user-notes/internal/errs"
)

// DefaultRetryAfterSeconds is the default value for the Retry-After header
// when a rate limit is exceeded.
const DefaultRetryAfterSeconds = 1

// KeyFunc extracts the client key a request is limited by.
type KeyFunc func(r *http.Request) string

// ClientKeyFunc keys requests by client address. With trustXFF the first
// X-Forwarded-For entry wins; otherwise the host part of RemoteAddr is used.
func ClientKeyFunc(trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if trustXFF {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// RateLimitMiddleware creates HTTP middleware that enforces rate limits.
//
// The middleware returns 429 Too Many Requests with a JSON error body when the
// rate limit is exceeded, including:
//   - Retry-After header with the recommended wait time in seconds
//   - X-RateLimit-Remaining header with the approximate remaining requests
//
// onReject is called with the client key of each rejected request and may be nil.
func RateLimitMiddleware(limiter *RateLimiter, keyFn KeyFunc, onReject func(key string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			rateLimiter := limiter.GetLimiter(key)

			if !rateLimiter.Allow() {
				if onReject != nil {
					onReject(key)
				}
				w.Header().Set("Retry-After", strconv.Itoa(DefaultRetryAfterSeconds))
				w.Header().Set("X-RateLimit-Remaining", "0")
				writeError(w, errs.New(errs.ResourceExhausted, errs.MsgTooManyRequests))
				return
			}

			remaining := int(rateLimiter.Tokens())
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			next.ServeHTTP(w, r)
		})
	}
}

// writeError writes err as the service's JSON error body.
func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errs.HTTPStatus(errs.CodeOf(err)))
	_ = json.NewEncoder(w).Encode(map[string]string{"error": errs.MessageOf(err)})
}
