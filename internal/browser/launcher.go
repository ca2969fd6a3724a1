// Package browser owns the Playwright browser process and the isolated
// sessions the suites drive it through.
//
// One Launcher is shared by every test in a package; each test gets its own
// Session (a fresh BrowserContext and Page), so cookies and storage never
// leak between tests.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/carsphere-qa/internal/config"
	"github.com/kuitang/carsphere-qa/internal/errs"
	"github.com/kuitang/carsphere-qa/internal/obs"
)

// Launcher starts the browser on first use and hands out sessions.
type Launcher struct {
	cfg *config.Harness
	log *slog.Logger

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

// NewLauncher returns a launcher for cfg. Nothing starts until Start or NewSession.
func NewLauncher(cfg *config.Harness) *Launcher {
	return &Launcher{
		cfg: cfg,
		log: obs.Pkg("browser"),
	}
}

// Start runs the Playwright driver and launches the configured engine.
// Failures are SessionSetupFailed.
func (l *Launcher) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startLocked()
}

func (l *Launcher) startLocked() error {
	if l.browser != nil && l.browser.IsConnected() {
		return nil
	}
	if l.browser != nil {
		l.log.Warn("browser_disconnected_relaunching", "engine", l.cfg.Browser)
		l.stopLocked()
	}

	pw, err := playwright.Run()
	if err != nil {
		return errs.Wrap(errs.SessionSetupFailed, "playwright not available", err)
	}

	engine, err := engineFor(pw, l.cfg.Browser)
	if err != nil {
		_ = pw.Stop()
		return err
	}
	browser, err := engine.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(l.cfg.Headless),
	})
	if err != nil {
		_ = pw.Stop()
		return errs.Wrap(errs.SessionSetupFailed, fmt.Sprintf("could not launch %s", l.cfg.Browser), err)
	}

	l.pw = pw
	l.browser = browser
	l.log.Info("browser_started", "engine", l.cfg.Browser, "headless", l.cfg.Headless, "version", browser.Version())
	return nil
}

func engineFor(pw *playwright.Playwright, name string) (playwright.BrowserType, error) {
	switch name {
	case config.BrowserChromium:
		return pw.Chromium, nil
	case config.BrowserFirefox:
		return pw.Firefox, nil
	case config.BrowserWebKit:
		return pw.WebKit, nil
	default:
		return nil, errs.New(errs.SessionSetupFailed, fmt.Sprintf("unknown browser engine %q", name))
	}
}

// SessionOptions describe one test's session.
type SessionOptions struct {
	// BaseURL is the site under test; relative navigation resolves against it.
	BaseURL string
	// TestName tags logs and the obs.TestHeader request header.
	TestName string
}

// NewSession creates an isolated context and page bounded by the configured timeout.
func (l *Launcher) NewSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	l.mu.Lock()
	if err := l.startLocked(); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	browser := l.browser
	l.mu.Unlock()

	id := uuid.NewString()
	headers := map[string]string{obs.SessionHeader: id}
	if opts.TestName != "" {
		headers[obs.TestHeader] = opts.TestName
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  l.cfg.ViewportWidth,
			Height: l.cfg.ViewportHeight,
		},
		ExtraHttpHeaders: headers,
	})
	if err != nil {
		return nil, errs.Wrap(errs.SessionSetupFailed, "could not create browser context", err)
	}
	bctx.SetDefaultTimeout(l.cfg.TimeoutMS())
	bctx.SetDefaultNavigationTimeout(l.cfg.TimeoutMS())

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, errs.Wrap(errs.SessionSetupFailed, "could not create page", err)
	}

	ctx = obs.WithCorrelation(ctx, obs.Correlation{SessionID: id, TestName: opts.TestName})
	s := newSession(ctx, id, opts.BaseURL, l.cfg.Timeout, bctx, page)
	s.log.Debug("session_opened", "base_url", opts.BaseURL)
	return s, nil
}

// Close shuts the browser and the Playwright driver down.
func (l *Launcher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopLocked()
}

func (l *Launcher) stopLocked() error {
	var firstErr error
	if l.browser != nil {
		if err := l.browser.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close browser: %w", err)
		}
		l.browser = nil
	}
	if l.pw != nil {
		if err := l.pw.Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stop playwright: %w", err)
		}
		l.pw = nil
	}
	return firstErr
}
