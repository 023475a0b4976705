package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/noah-isme/backend-5elm/internal/common"
)

// Handler enforces a limit before delegating. Limiter failures fail open.
type Handler struct {
	Limiter Limiter
	Key     func(*http.Request) string
	Window  time.Duration
	Max     int
	OnError func(error)
}

// Middleware implements chi-compatible middleware.
func (h Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Limiter == nil || h.Key == nil {
			next.ServeHTTP(w, r)
			return
		}
		d, err := h.Limiter.Allow(r.Context(), h.Key(r), h.Window, h.Max)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}

		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
		if !d.Allowed {
			retry := int(time.Until(d.ResetAt).Round(time.Second).Seconds())
			if retry < 1 {
				retry = 1
			}
			headers.Set("Retry-After", strconv.Itoa(retry))
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ByClientIP keys requests by caller address.
func ByClientIP(prefix string) func(*http.Request) string {
	return func(r *http.Request) string {
		return prefix + ":ip:" + common.ClientIP(r)
	}
}

// ByUserOrIP keys authenticated requests by user id and anonymous ones by address.
func ByUserOrIP(prefix string) func(*http.Request) string {
	return func(r *http.Request) string {
		if uid := common.UserID(r.Context()); uid != nil {
			return prefix + ":user:" + uid.String()
		}
		return prefix + ":ip:" + common.ClientIP(r)
	}
}
