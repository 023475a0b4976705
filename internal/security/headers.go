// Package security sets response hardening headers for the JSON API.
package security

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Headers attaches security headers to every response.
type Headers struct {
	// HSTS is the Strict-Transport-Security max-age. Zero disables the header.
	HSTS              time.Duration
	IncludeSubdomains bool
	// NoStore marks responses uncacheable. Cart payloads carry per-caller prices.
	NoStore bool
}

// Middleware implements chi-compatible middleware.
func (h Headers) Middleware(next http.Handler) http.Handler {
	hsts := ""
	if h.HSTS > 0 {
		hsts = "max-age=" + strconv.FormatInt(int64(h.HSTS/time.Second), 10)
		if h.IncludeSubdomains {
			hsts += "; includeSubDomains"
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "DENY")
		headers.Set("Referrer-Policy", "no-referrer")
		headers.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		if h.NoStore {
			headers.Set("Cache-Control", "no-store")
		}
		if hsts != "" && secure(r) {
			headers.Set("Strict-Transport-Security", hsts)
		}
		next.ServeHTTP(w, r)
	})
}

func secure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https")
}
