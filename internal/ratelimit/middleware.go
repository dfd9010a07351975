package ratelimit

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxPeekBytes bounds how much of a request body the middleware will read
// when extracting the per-email sub-key.
const maxPeekBytes = 64 << 10

// Middleware enforces the sliding window per ip:route key. When withEmail is
// set (registration), the email from the JSON body is appended to the key so
// callers behind a shared IP cannot exhaust each other's quota.
func Middleware(limiter *Limiter, withEmail bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r) + ":" + r.URL.Path
			if withEmail {
				if email := peekEmail(r); email != "" {
					key += ":" + email
				}
			}

			allowed, retryAfter := limiter.Allow(key, time.Now())
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"code":        "RATE_LIMITED",
					"retry_after": retryAfter,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	// RealIP middleware rewrites RemoteAddr from X-Forwarded-For upstream.
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// peekEmail reads the email field out of a JSON body and restores the body
// so the handler can decode it again.
func peekEmail(r *http.Request) string {
	if r.Body == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBytes))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	var probe struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(probe.Email))
}
