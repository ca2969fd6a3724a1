package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kuitang/carsphere-qa/internal/db"
	"github.com/kuitang/carsphere-qa/internal/errs"
)

// Cookie names.
const (
	SessionCookieName = "carsphere_session"
	FlashCookieName   = "carsphere_flash"
)

// ErrNoSession is returned when the request carries no session cookie.
var ErrNoSession = errs.New(errs.PermissionDenied, "no session")

// SessionService keeps login sessions in the catalog database.
type SessionService struct {
	store  *db.Store
	ttl    time.Duration
	secure bool
}

// NewSessionService returns a service issuing sessions that last ttl.
// secure marks cookies Secure; set it only when the site is served over HTTPS.
func NewSessionService(store *db.Store, ttl time.Duration, secure bool) *SessionService {
	return &SessionService{store: store, ttl: ttl, secure: secure}
}

// Create starts a session for userID and sets its cookie.
func (s *SessionService) Create(ctx context.Context, w http.ResponseWriter, userID int64) error {
	id, err := s.store.CreateSession(ctx, userID, s.ttl)
	if err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.ttl.Seconds()),
	})
	return nil
}

// Validate returns the user behind the request's session cookie.
func (s *SessionService) Validate(r *http.Request) (*db.User, error) {
	id, err := GetFromRequest(r)
	if err != nil {
		return nil, err
	}
	return s.store.SessionUser(r.Context(), id)
}

// End deletes the request's session, if any, and clears the cookie.
func (s *SessionService) End(w http.ResponseWriter, r *http.Request) error {
	s.clearCookie(w)
	id, err := GetFromRequest(r)
	if err != nil {
		return nil
	}
	return s.store.DeleteSession(r.Context(), id)
}

// Cleanup removes expired sessions.
func (s *SessionService) Cleanup(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return n, nil
}

func (s *SessionService) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// GetFromRequest returns the session id from the request cookie.
func GetFromRequest(r *http.Request) (string, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return "", ErrNoSession
		}
		return "", err
	}
	return cookie.Value, nil
}

// Flash kinds map to the alert-success and alert-danger classes.
const (
	FlashSuccess = "success"
	FlashDanger  = "danger"
)

// Flash is a one-shot message shown on the next rendered page. Lines are
// rendered separated by line breaks.
type Flash struct {
	Kind  string   `json:"k"`
	Lines []string `json:"l"`
}

// SetFlash stores f for the next page the browser renders.
func SetFlash(w http.ResponseWriter, f Flash) {
	raw, err := json.Marshal(f)
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     FlashCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(raw),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// PopFlash returns the pending flash, if any, and clears it.
func PopFlash(w http.ResponseWriter, r *http.Request) (Flash, bool) {
	cookie, err := r.Cookie(FlashCookieName)
	if err != nil || cookie.Value == "" {
		return Flash{}, false
	}
	http.SetCookie(w, &http.Cookie{Name: FlashCookieName, Value: "", Path: "/", MaxAge: -1})

	raw, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return Flash{}, false
	}
	var f Flash
	if err := json.Unmarshal(raw, &f); err != nil || len(f.Lines) == 0 {
		return Flash{}, false
	}
	if f.Kind != FlashSuccess {
		f.Kind = FlashDanger
	}
	return f, true
}
