package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kuitang/carsphere-qa/internal/auth"
	"github.com/kuitang/carsphere-qa/internal/db"
	"github.com/kuitang/carsphere-qa/internal/errs"
	"github.com/kuitang/carsphere-qa/internal/obs"
)

// Flash texts the suites assert on.
const (
	msgLoginFailed   = "Login Unsuccessful. Please check username and password"
	msgLoggedOut     = "You have been logged out."
	msgRegisterBegin = "!!! You're already logged-in. Let's Begin !!!"
	msgFieldsMissing = "All fields are required."
)

func welcomeMessage(u *db.User) string {
	return fmt.Sprintf("Welcome, %s %s!", u.FirstName, u.LastName)
}

func registeredMessage(u *db.User) string {
	return fmt.Sprintf("Welcome, %s %s and thanks for registration!", u.FirstName, u.LastName)
}

func usernameTakenMessage(username string) string {
	return fmt.Sprintf("Username '%s' already exist, please try another username.", username)
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "login.html", s.pageData(w, r, "Sign In"))
}

// handleLogin handles POST /login.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderer.RenderError(w, http.StatusBadRequest, "Invalid form data")
		return
	}
	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")
	log := obs.From(r.Context()).With("pkg", "sandbox")

	user, err := s.store.UserByUsername(r.Context(), username)
	if err != nil && !errs.Is(err, errs.NotFound) {
		s.fail(w, r, err)
		return
	}
	if user == nil || !s.hasher.VerifyPassword(password, user.PasswordHash) {
		log.Info("login_failed", "username", username)
		pd := s.pageData(w, r, "Sign In")
		pd.Flash = &auth.Flash{Kind: auth.FlashDanger, Lines: []string{msgLoginFailed}}
		s.render(w, r, http.StatusOK, "login.html", pd)
		return
	}

	if err := s.sessions.Create(r.Context(), w, user.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	log.Info("login", "username", user.Username, "role", user.Role)
	redirectWithFlash(w, r, "/", auth.Flash{Kind: auth.FlashSuccess, Lines: []string{welcomeMessage(user)}})
}

// handleLogout handles GET /logout.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.End(w, r); err != nil {
		s.fail(w, r, err)
		return
	}
	redirectWithFlash(w, r, "/login", auth.Flash{Kind: auth.FlashSuccess, Lines: []string{msgLoggedOut}})
}

type registerForm struct {
	FirstName string
	LastName  string
	Username  string
}

type registerData struct {
	PageData
	Form     registerForm
	Mismatch bool
}

func (s *Server) handleRegisterPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "register.html", registerData{PageData: s.pageData(w, r, "Sign Up")})
}

// handleRegister handles POST /register. Invalid submissions re-render the
// form; success signs the new user in and lands on the catalog.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderer.RenderError(w, http.StatusBadRequest, "Invalid form data")
		return
	}
	form := registerForm{
		FirstName: strings.TrimSpace(r.FormValue("firstname")),
		LastName:  strings.TrimSpace(r.FormValue("lastname")),
		Username:  strings.TrimSpace(r.FormValue("username")),
	}
	password := r.FormValue("password")
	confirm := r.FormValue("confirm_password")

	data := registerData{PageData: s.pageData(w, r, "Sign Up"), Form: form}
	reject := func(message string) {
		if message != "" {
			data.Flash = &auth.Flash{Kind: auth.FlashDanger, Lines: []string{message}}
		}
		s.render(w, r, http.StatusOK, "register.html", data)
	}

	if password != confirm {
		data.Mismatch = true
		reject("")
		return
	}
	if form.FirstName == "" || form.LastName == "" || form.Username == "" || password == "" {
		reject(msgFieldsMissing)
		return
	}

	hash, err := s.hasher.HashPassword(password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := s.store.CreateUser(r.Context(), db.User{
		Username:     form.Username,
		PasswordHash: hash,
		FirstName:    form.FirstName,
		LastName:     form.LastName,
		Role:         db.RoleUser,
	})
	if errors.Is(err, db.ErrUsernameTaken) {
		reject(usernameTakenMessage(form.Username))
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if err := s.sessions.Create(r.Context(), w, user.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	obs.From(r.Context()).With("pkg", "sandbox").Info("registered", "username", user.Username)
	redirectWithFlash(w, r, "/", auth.Flash{
		Kind:  auth.FlashSuccess,
		Lines: []string{registeredMessage(user), msgRegisterBegin},
	})
}

// handleGetUsers handles GET /get-users: a JSON array of every username.
func (s *Server) handleGetUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Username)
	}
	writeJSON(w, http.StatusOK, names)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
