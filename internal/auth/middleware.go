package auth

import (
	"context"
	"net/http"

	"github.com/kuitang/carsphere-qa/internal/db"
	"github.com/kuitang/carsphere-qa/internal/obs"
)

type contextKey string

const userKey contextKey = "user"

// Middleware loads the signed-in user for handlers.
type Middleware struct {
	sessions *SessionService
}

// NewMiddleware creates auth middleware backed by sessions.
func NewMiddleware(sessions *SessionService) *Middleware {
	return &Middleware{sessions: sessions}
}

// OptionalAuth adds the user to the context when the session is valid and
// continues either way.
func (m *Middleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.sessions.Validate(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// RequireAuthWithRedirect sends anonymous visitors to /login.
func (m *Middleware) RequireAuthWithRedirect(next http.Handler) http.Handler {
	return m.OptionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserFrom(r.Context()) == nil {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// RequireAdmin lets only admins through. Anonymous visitors go to /login;
// signed-in non-admins get 403.
func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return m.RequireAuthWithRedirect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := UserFrom(r.Context())
		if !user.IsAdmin() {
			obs.From(r.Context()).With("pkg", "auth").Info("admin_denied", "username", user.Username, "path", r.URL.Path)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// WithUser stores user in ctx.
func WithUser(ctx context.Context, user *db.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFrom returns the signed-in user, or nil.
func UserFrom(ctx context.Context) *db.User {
	user, _ := ctx.Value(userKey).(*db.User)
	return user
}
