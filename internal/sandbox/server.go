// Package sandbox is a local stand-in for the CarSphere site. It serves the
// same routes, markup and flash messages the page objects drive, backed by
// the SQLite store, S3 photo storage and an AI reviewer.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kuitang/carsphere-qa/internal/auth"
	"github.com/kuitang/carsphere-qa/internal/config"
	"github.com/kuitang/carsphere-qa/internal/db"
	"github.com/kuitang/carsphere-qa/internal/errs"
	"github.com/kuitang/carsphere-qa/internal/obs"
	"github.com/kuitang/carsphere-qa/internal/ratelimit"
	"github.com/kuitang/carsphere-qa/internal/s3client"
)

// PhotoBucket is the bucket the in-memory photo store creates.
const PhotoBucket = "carsphere-photos"

// PhotoStore holds listing images. *s3client.Client satisfies it.
type PhotoStore interface {
	Put(ctx context.Context, p s3client.Photo) error
	Get(ctx context.Context, key string) (s3client.Photo, error)
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Options configures New. Nil fields are built from Config.
type Options struct {
	Config   *config.Sandbox
	Store    *db.Store
	Hasher   auth.PasswordHasher
	Reviewer Reviewer
	Photos   PhotoStore
}

// Server is the sandbox site.
type Server struct {
	cfg      *config.Sandbox
	store    *db.Store
	hasher   auth.PasswordHasher
	reviewer Reviewer
	photos   PhotoStore
	renderer *Renderer
	sessions *auth.SessionService
	authMW   *auth.Middleware
	limiter  *ratelimit.Limiter
	assets   map[string]staticAsset
	handler  http.Handler
	log      *slog.Logger

	closers []func() error
}

// New builds the site, seeds an empty store and registers every route.
func New(ctx context.Context, opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errs.New(errs.InvalidArgument, "sandbox config is required")
	}
	s := &Server{
		cfg:      opts.Config,
		store:    opts.Store,
		hasher:   opts.Hasher,
		reviewer: opts.Reviewer,
		photos:   opts.Photos,
		log:      obs.Pkg("sandbox"),
	}
	if err := s.init(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) init(ctx context.Context) error {
	if s.store == nil {
		store, err := db.OpenInMemory()
		if err != nil {
			return fmt.Errorf("open sandbox store: %w", err)
		}
		s.store = store
		s.closers = append(s.closers, store.Close)
	}
	if s.hasher == nil {
		s.hasher = auth.Argon2Hasher{}
	}
	if s.reviewer == nil {
		if s.cfg.NoAI || s.cfg.OpenAIAPIKey == "" {
			s.reviewer = CannedReviewer{}
		} else {
			s.reviewer = NewOpenAIReviewer(s.cfg.OpenAIAPIKey, s.cfg.OpenAIModel)
		}
	}
	if s.photos == nil {
		photos, err := s.openPhotos(ctx)
		if err != nil {
			return err
		}
		s.photos = photos
	}

	renderer, err := NewRenderer()
	if err != nil {
		return err
	}
	s.renderer = renderer

	if s.assets, err = renderStaticAssets(); err != nil {
		return err
	}

	s.sessions = auth.NewSessionService(s.store, s.cfg.SessionDuration, strings.HasPrefix(s.cfg.BaseURL, "https://"))
	s.authMW = auth.NewMiddleware(s.sessions)
	s.limiter = ratelimit.New(ratelimit.Config{RPS: s.cfg.ClientRPS, Burst: s.cfg.ClientBurst})
	s.closers = append(s.closers, func() error { s.limiter.Stop(); return nil })

	if err := s.seed(ctx); err != nil {
		return fmt.Errorf("seed sandbox: %w", err)
	}

	mux := http.NewServeMux()
	s.routes(mux)
	var h http.Handler = mux
	h = ratelimit.Middleware(s.limiter, ratelimit.ClientKey)(h)
	h = obs.Middleware("sandbox", h)
	s.handler = h
	return nil
}

func (s *Server) openPhotos(ctx context.Context) (PhotoStore, error) {
	if s.cfg.NoS3 {
		mem, err := s3client.NewInMemory(ctx, PhotoBucket)
		if err != nil {
			return nil, fmt.Errorf("start in-memory photo store: %w", err)
		}
		s.closers = append(s.closers, func() error { mem.Close(); return nil })
		return mem, nil
	}
	client, err := s3client.New(ctx, s3client.Config{
		Endpoint:        s.cfg.AWSEndpointS3,
		Region:          s.cfg.AWSRegion,
		AccessKeyID:     s.cfg.AWSAccessKeyID,
		SecretAccessKey: s.cfg.AWSSecretAccessKey,
		Bucket:          s.cfg.AWSBucketName,
		UsePathStyle:    s.cfg.AWSEndpointS3 != "",
	})
	if err != nil {
		return nil, fmt.Errorf("connect photo store: %w", err)
	}
	return client, nil
}

func (s *Server) routes(mux *http.ServeMux) {
	mw := s.authMW

	mux.Handle("GET /{$}", mw.OptionalAuth(http.HandlerFunc(s.handleDashboard)))

	mux.Handle("GET /login", mw.OptionalAuth(http.HandlerFunc(s.handleLoginPage)))
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("GET /logout", s.handleLogout)
	mux.Handle("GET /register", mw.OptionalAuth(http.HandlerFunc(s.handleRegisterPage)))
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("GET /get-users", s.handleGetUsers)

	mux.Handle("GET /add_car", mw.RequireAdmin(http.HandlerFunc(s.handleAddCarPage)))
	mux.Handle("POST /add_car", mw.RequireAdmin(http.HandlerFunc(s.handleAddCar)))
	mux.Handle("POST /delete_car/{id}", mw.RequireAdmin(http.HandlerFunc(s.handleDeleteCar)))
	mux.Handle("GET /admin", mw.RequireAdmin(http.HandlerFunc(s.handleAdmin)))

	mux.Handle("GET /car/{id}", mw.OptionalAuth(http.HandlerFunc(s.handleCar)))
	mux.Handle("POST /car/{id}/review", mw.RequireAuthWithRedirect(http.HandlerFunc(s.handleReview)))
	mux.Handle("POST /car/{id}/photos", mw.RequireAuthWithRedirect(http.HandlerFunc(s.handleUploadPhoto)))
	mux.Handle("GET /ai-review/{id}", mw.RequireAuthWithRedirect(http.HandlerFunc(s.handleAIReview)))

	mux.HandleFunc("GET /api/cars", s.handleAPICars)
	mux.HandleFunc("GET /images/{key...}", s.handleImage)
	mux.HandleFunc("GET /static/background_image/{name}", s.handleStatic)
	mux.Handle("GET /in/{profile}", mw.OptionalAuth(http.HandlerFunc(s.handleProfile)))
	mux.HandleFunc("GET /health", s.handleHealth)
}

// Handler returns the site with its middleware chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Store returns the backing store.
func (s *Server) Store() *db.Store {
	return s.store
}

// CleanupSessions deletes expired sessions every interval until ctx ends.
func (s *Server) CleanupSessions(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.sessions.Cleanup(ctx)
			if err != nil {
				s.log.Warn("session_cleanup_failed", "error", err)
				continue
			}
			if n > 0 {
				s.log.Info("sessions_expired", "count", n)
			}
		}
	}
}

// Close releases everything New opened, in reverse order.
func (s *Server) Close() error {
	var errList []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errList = append(errList, err)
		}
	}
	s.closers = nil
	return errors.Join(errList...)
}

// PageData is what every template receives.
type PageData struct {
	Title   string
	User    *db.User
	IsAdmin bool
	Flash   *auth.Flash
}

func (s *Server) pageData(w http.ResponseWriter, r *http.Request, title string) PageData {
	user := auth.UserFrom(r.Context())
	pd := PageData{Title: title, User: user, IsAdmin: user.IsAdmin()}
	if f, ok := auth.PopFlash(w, r); ok {
		pd.Flash = &f
	}
	return pd
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	if err := s.renderer.Render(w, status, name, data); err != nil {
		obs.From(r.Context()).With("pkg", "sandbox").Error("render_failed", "template", name, "error", err)
		s.renderer.RenderError(w, http.StatusInternalServerError, "Failed to render page")
	}
}

// fail logs err and answers with the status its code maps to.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := errs.CodeOf(err)
	status := errs.HTTPStatus(code)
	log := obs.From(r.Context()).With("pkg", "sandbox")
	if status >= http.StatusInternalServerError {
		log.Error("request_failed", "path", r.URL.Path, "error", err)
	} else {
		log.Info("request_rejected", "path", r.URL.Path, "code", string(code), "error", err)
	}
	s.renderer.RenderError(w, status, errs.MessageOf(err))
}

// redirectWithFlash stores a flash and sends the browser to target.
func redirectWithFlash(w http.ResponseWriter, r *http.Request, target string, f auth.Flash) {
	auth.SetFlash(w, f)
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func carID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errs.New(errs.NotFound, "car not found")
	}
	return id, nil
}
