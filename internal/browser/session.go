package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/carsphere-qa/internal/obs"
	"github.com/kuitang/carsphere-qa/internal/urlutil"
)

// ConsoleEntry is one browser console message.
type ConsoleEntry struct {
	At   time.Time
	Type string
	Text string
}

// Session is one test's isolated browser context and page.
// It is not safe for concurrent use.
type Session struct {
	ID             string
	BrowserContext playwright.BrowserContext
	Page           playwright.Page
	BaseURL        string
	Timeout        time.Duration

	ctx context.Context
	log *slog.Logger

	mu      sync.Mutex
	console []ConsoleEntry
	closed  bool
}

func newSession(ctx context.Context, id, baseURL string, timeout time.Duration, bctx playwright.BrowserContext, page playwright.Page) *Session {
	s := &Session{
		ID:             id,
		BrowserContext: bctx,
		Page:           page,
		BaseURL:        strings.TrimRight(baseURL, "/"),
		Timeout:        timeout,
		ctx:            ctx,
		log:            obs.From(ctx).With("pkg", "browser"),
	}
	page.OnConsole(func(msg playwright.ConsoleMessage) {
		s.mu.Lock()
		s.console = append(s.console, ConsoleEntry{At: time.Now().UTC(), Type: msg.Type(), Text: msg.Text()})
		s.mu.Unlock()
	})
	return s
}

// Context carries the session's log correlation fields.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Logger returns the session-scoped logger.
func (s *Session) Logger() *slog.Logger {
	return s.log
}

// TimeoutMS is the wait bound in the float milliseconds Playwright expects.
func (s *Session) TimeoutMS() float64 {
	return float64(s.Timeout.Milliseconds())
}

// URL resolves path against the base URL. Absolute URLs pass through.
func (s *Session) URL(path string) string {
	return urlutil.BuildAbsolute(s.BaseURL, path)
}

// ConsoleLog returns the console messages seen so far.
func (s *Session) ConsoleLog() []ConsoleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ConsoleEntry(nil), s.console...)
}

// Screenshot writes a full-page PNG to path.
func (s *Session) Screenshot(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create screenshot dir: %w", err)
	}
	_, err := s.Page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("screenshot %s: %w", path, err)
	}
	return nil
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SaveArtifacts writes a screenshot and the console log for name into dir
// and returns the paths written.
func (s *Session) SaveArtifacts(dir, name string) ([]string, error) {
	base := filepath.Join(dir, unsafeFileChars.ReplaceAllString(name, "_"))
	var written []string

	shot := base + ".png"
	shotErr := s.Screenshot(shot)
	if shotErr == nil {
		written = append(written, shot)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "url: %s\n", s.Page.URL())
	for _, entry := range s.ConsoleLog() {
		fmt.Fprintf(&b, "%s [%s] %s\n", entry.At.Format(time.RFC3339Nano), entry.Type, entry.Text)
	}
	consolePath := base + ".console.log"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return written, fmt.Errorf("create artifacts dir: %w", err)
	}
	if err := os.WriteFile(consolePath, []byte(b.String()), 0o644); err != nil {
		return written, fmt.Errorf("write console log: %w", err)
	}
	written = append(written, consolePath)

	if shotErr != nil {
		return written, shotErr
	}
	s.log.Info("artifacts_saved", "paths", written)
	return written, nil
}

// Close closes the page and its context. Calling it twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	// Closing the context also closes its pages, including popups.
	if err := s.BrowserContext.Close(); err != nil {
		return fmt.Errorf("close browser context: %w", err)
	}
	s.log.Debug("session_closed")
	return nil
}
