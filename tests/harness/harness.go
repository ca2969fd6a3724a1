// Package harness provides the shared fixture every CarSphere suite runs on.
// All suites use Env via Setup(t) and end their TestMain with Main(m).
//
// The fixture is created once per test binary: configuration, the users
// file, staged images, the API client and, when CARSPHERE_BASE_URL is unset,
// a local sandbox site. The browser process starts lazily on the first
// NewSession and is shared; every test gets its own isolated session.
package harness

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kuitang/carsphere-qa/internal/apiclient"
	"github.com/kuitang/carsphere-qa/internal/auth"
	"github.com/kuitang/carsphere-qa/internal/browser"
	"github.com/kuitang/carsphere-qa/internal/config"
	"github.com/kuitang/carsphere-qa/internal/obs"
	"github.com/kuitang/carsphere-qa/internal/pages"
	"github.com/kuitang/carsphere-qa/internal/sandbox"
	"github.com/kuitang/carsphere-qa/internal/testdata"
)

// Env is the fixture a suite works against.
type Env struct {
	Config  *config.Harness
	BaseURL string
	Users   *testdata.Users
	Images  *testdata.Images
	Ledger  *testdata.Ledger
	API     *apiclient.Client

	fx *fixture
}

type fixture struct {
	env *Env

	site      *sandbox.Server
	server    *httptest.Server
	imagesDir string // removed on teardown when the fixture created it

	launcherMu sync.Mutex
	launcher   *browser.Launcher
	browserErr error
}

var (
	fixtureMu sync.Mutex
	shared    *fixture
)

// Setup returns the shared fixture, creating it on first use.
func Setup(t *testing.T) *Env {
	t.Helper()

	fixtureMu.Lock()
	defer fixtureMu.Unlock()
	if shared != nil {
		return shared.env
	}

	fx, err := newFixture()
	if err != nil {
		t.Fatalf("Failed to set up CarSphere fixture: %v", err)
	}
	shared = fx
	return fx.env
}

func newFixture() (_ *fixture, err error) {
	obs.Init()
	cfg, err := config.LoadHarness()
	if err != nil {
		return nil, err
	}

	fx := &fixture{}
	defer func() {
		if err != nil {
			fx.close()
		}
	}()

	baseURL := cfg.BaseURL
	if cfg.UsesSandbox() {
		if baseURL, err = fx.startSandbox(); err != nil {
			return nil, err
		}
	}

	usersFile := cfg.UsersFile
	if usersFile == "" {
		usersFile = filepath.Join(repositoryRoot(), "testdata", "users.txt")
	}
	users, err := testdata.LoadUsers(usersFile)
	if err != nil {
		return nil, err
	}

	imagesDir := cfg.ImagesDir
	if imagesDir == "" {
		if imagesDir, err = os.MkdirTemp("", "carsphere-images-*"); err != nil {
			return nil, err
		}
		fx.imagesDir = imagesDir
	}
	images, err := testdata.NewImages(imagesDir)
	if err != nil {
		return nil, err
	}

	fx.launcher = browser.NewLauncher(cfg)
	fx.env = &Env{
		Config:  cfg,
		BaseURL: baseURL,
		Users:   users,
		Images:  images,
		Ledger:  testdata.NewLedger(cfg.LedgerFile),
		API:     apiclient.NewFromConfig(cfg, baseURL),
		fx:      fx,
	}
	obs.Pkg("harness").Info("fixture_ready", "base_url", baseURL, "sandbox", cfg.UsesSandbox(), "users", len(users.All()))
	return fx, nil
}

func (fx *fixture) startSandbox() (string, error) {
	var handler http.Handler
	fx.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))

	site, err := sandbox.New(context.Background(), sandbox.Options{
		Config: &config.Sandbox{
			BaseURL:         fx.server.URL,
			NoS3:            true,
			NoAI:            true,
			SessionDuration: config.DefaultSandboxSessionDuration,
			ClientRPS:       config.DefaultSandboxClientRPS,
			ClientBurst:     config.DefaultSandboxClientBurst,
		},
		Hasher: auth.FakeInsecureHasher{},
	})
	if err != nil {
		return "", err
	}
	fx.site = site
	handler = site.Handler()
	return fx.server.URL, nil
}

func (fx *fixture) close() {
	if fx.launcher != nil {
		_ = fx.launcher.Close()
	}
	if fx.server != nil {
		fx.server.Close()
	}
	if fx.site != nil {
		_ = fx.site.Close()
	}
	if fx.imagesDir != "" {
		_ = os.RemoveAll(fx.imagesDir)
	}
}

// Teardown stops the browser and the sandbox.
func Teardown() {
	fixtureMu.Lock()
	defer fixtureMu.Unlock()
	if shared == nil {
		return
	}
	shared.close()
	shared = nil
}

// Main runs the suite and tears the fixture down. Call it from TestMain.
func Main(m *testing.M) {
	code := m.Run()
	Teardown()
	os.Exit(code)
}

func repositoryRoot() string {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		panic("cannot resolve repository root in tests/harness")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
}

// =============================================================================
// Browser sessions
// =============================================================================

// NewSession opens an isolated browser session for t. The test is skipped in
// -short mode and when Playwright is missing, unless CARSPHERE_REQUIRE_BROWSER
// is set. A failing test leaves a screenshot and its console log in the
// artifacts directory.
func (e *Env) NewSession(t *testing.T) *browser.Session {
	t.Helper()
	if testing.Short() {
		t.Skip("browser suite skipped in -short mode")
	}

	fx := e.fx
	fx.launcherMu.Lock()
	if fx.browserErr == nil {
		fx.browserErr = fx.launcher.Start()
	}
	startErr := fx.browserErr
	fx.launcherMu.Unlock()
	if startErr != nil {
		if e.Config.RequireBrowser {
			t.Fatalf("Browser required but unavailable: %v", startErr)
		}
		t.Skip("Playwright not available:", startErr)
	}

	s, err := fx.launcher.NewSession(context.Background(), browser.SessionOptions{
		BaseURL:  e.BaseURL,
		TestName: t.Name(),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		if t.Failed() {
			paths, err := s.SaveArtifacts(e.Config.ArtifactsDir, t.Name())
			if err != nil {
				t.Logf("saving artifacts: %v", err)
			}
			for _, p := range paths {
				t.Logf("artifact: %s", p)
			}
		}
		if err := s.Close(); err != nil {
			t.Logf("closing session: %v", err)
		}
	})
	return s
}

// Home opens the catalog in s.
func (e *Env) Home(t *testing.T, s *browser.Session) *pages.DashboardPage {
	t.Helper()
	p, err := pages.OpenDashboard(pages.NewBase(s))
	require.NoError(t, err)
	return p
}

// LoginPage opens the sign-in page in s.
func (e *Env) LoginPage(t *testing.T, s *browser.Session) *pages.LoginPage {
	t.Helper()
	p, err := pages.OpenLogin(pages.NewBase(s))
	require.NoError(t, err)
	return p
}

// LoginAs signs u in through the login form and returns the catalog.
func (e *Env) LoginAs(t *testing.T, s *browser.Session, u testdata.User) *pages.DashboardPage {
	t.Helper()
	next, err := e.LoginPage(t, s).Login(u.Username, u.Password)
	require.NoError(t, err)
	dash, err := pages.AsDashboard(next)
	require.NoError(t, err, "login as %s", u.Username)
	return dash
}

// Account returns the first accepted record with role.
func (e *Env) Account(t *testing.T, role string) testdata.User {
	t.Helper()
	for _, u := range e.Users.ByRole(role) {
		if u.Valid() {
			return u
		}
	}
	t.Fatalf("users file has no accepted %s account", role)
	return testdata.User{}
}

// UniqueName returns prefix plus digits, unused by any registered account.
func (e *Env) UniqueName(prefix string) string {
	existing, err := e.API.GetUsers(context.Background())
	if err != nil {
		obs.Pkg("harness").Warn("list_users_failed", "error", err)
	}
	return testdata.NewUsername(prefix, append(existing, e.Users.Usernames()...))
}

// StageImage writes the named test image and returns its path.
func (e *Env) StageImage(t *testing.T, name string, format testdata.ImageFormat) string {
	t.Helper()
	path, err := e.Images.Stage(name, format)
	require.NoError(t, err)
	return path
}

// NewAPIClient returns an API client with its own cookie jar, for tests that
// sign in over HTTP without touching the shared client.
func (e *Env) NewAPIClient() *apiclient.Client {
	return apiclient.NewFromConfig(e.Config, e.BaseURL)
}

// AddCarAsAdmin lists a car over HTTP and returns its catalog title.
func (e *Env) AddCarAsAdmin(t *testing.T, car apiclient.NewCar) string {
	t.Helper()
	ctx := context.Background()
	admin := e.Account(t, testdata.RoleAdmin)
	c := e.NewAPIClient()
	require.NoError(t, c.Login(ctx, admin.Username, admin.Password))
	require.NoError(t, c.AddCar(ctx, car))
	return car.Make + " " + car.Model
}
