package ratelimit

import (
	"net"
	"net/http"
	"strconv"

	"github.com/kuitang/carsphere-qa/internal/obs"
)

// RetryAfterSeconds is sent in the Retry-After header of a 429.
const RetryAfterSeconds = 1

// ClientKey identifies the client a request counts against: the suite session
// when the request carries obs.SessionHeader, the remote IP otherwise.
func ClientKey(r *http.Request) string {
	if id := r.Header.Get(obs.SessionHeader); id != "" {
		return "session:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// Middleware answers 429 Too Many Requests once a client exhausts its bucket.
// Allowed responses carry X-RateLimit-Remaining.
func Middleware(l *Limiter, clientKey func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bucket := l.For(clientKey(r))
			if !bucket.Allow() {
				w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte("Too Many Requests"))
				return
			}

			remaining := int(bucket.Tokens())
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			next.ServeHTTP(w, r)
		})
	}
}
