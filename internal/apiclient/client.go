// Package apiclient drives the CarSphere site over plain HTTP for the API and
// server-side suites. It keeps its own cookie jar, never follows redirects
// (so tests can assert on them), throttles itself with a token bucket and
// logs every exchange with credentials redacted.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/kuitang/carsphere-qa/internal/config"
	"github.com/kuitang/carsphere-qa/internal/errs"
	"github.com/kuitang/carsphere-qa/internal/logutil"
	"github.com/kuitang/carsphere-qa/internal/obs"
	"github.com/kuitang/carsphere-qa/internal/urlutil"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxLoggedBody      = 2048
)

// Client talks to one CarSphere deployment. Each Client has its own cookie
// jar, so signing in affects only that client.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// New returns a client for baseURL throttled to rps requests per second.
func New(baseURL string, rps float64, burst int) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: defaultHTTPTimeout,
			Jar:     jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// NewFromConfig returns a client for baseURL using the harness throttle.
func NewFromConfig(cfg *config.Harness, baseURL string) *Client {
	return New(baseURL, cfg.APIRequestsPerSecond, cfg.APIBurst)
}

// BaseURL returns the deployment root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Response is a fully read HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Location returns the redirect target path, or "" when not a redirect.
func (r *Response) Location() string {
	return urlutil.RequestPath(r.Header.Get("Location"))
}

// IsRedirect reports a 3xx response.
func (r *Response) IsRedirect() bool {
	return r.Status >= 300 && r.Status < 400
}

// ExpectStatus fails with AssertionFailed unless resp has one of want.
func ExpectStatus(resp *Response, want ...int) error {
	for _, w := range want {
		if resp.Status == w {
			return nil
		}
	}
	return errs.New(errs.AssertionFailed, fmt.Sprintf("expected status %v, got %d: %s",
		want, resp.Status, logutil.TruncateForLog(string(resp.Body), 200)))
}

// Do sends one request. Transport failures and 429s are Unavailable; other
// statuses are returned for the caller to judge.
func (c *Client) Do(ctx context.Context, method, path string, body []byte, contentType string) (*Response, error) {
	log := obs.From(ctx).With("pkg", "apiclient")

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errs.Wrap(errs.Unavailable, "rate limiter wait", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, urlutil.BuildAbsolute(c.baseURL, path), reader)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, fmt.Sprintf("build %s %s", method, path), err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	corr := obs.CorrelationFromContext(ctx)
	if corr.SessionID != "" {
		req.Header.Set(obs.SessionHeader, corr.SessionID)
	}
	if corr.TestName != "" {
		req.Header.Set(obs.TestHeader, corr.TestName)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn("api_request_failed", "method", method, "path", path, "error", err)
		return nil, errs.Wrap(errs.Unavailable, fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, fmt.Sprintf("read %s %s", method, path), err)
	}

	log.Debug("api_request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
		"req_headers", logutil.FormatHeadersForLog(req.Header),
		"req_body", logutil.FormatBodyForLog(contentType, body, maxLoggedBody),
		"resp_body", logutil.FormatBodyForLog(resp.Header.Get("Content-Type"), respBody, maxLoggedBody),
	)

	out := &Response{Status: resp.StatusCode, Header: resp.Header, Body: respBody}
	if resp.StatusCode == http.StatusTooManyRequests {
		return out, errs.New(errs.Unavailable, fmt.Sprintf("%s %s throttled, retry after %ss", method, path, resp.Header.Get("Retry-After")))
	}
	return out, nil
}

// Get sends a GET.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil, "")
}

// PostForm sends an urlencoded form.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, []byte(form.Encode()), "application/x-www-form-urlencoded")
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.Get(ctx, path)
	if err != nil {
		return err
	}
	if err := ExpectStatus(resp, http.StatusOK); err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return errs.Wrap(errs.AssertionFailed, fmt.Sprintf("GET %s returned invalid JSON", path), err)
	}
	return nil
}

// GetUsers returns every registered username from /get-users.
func (c *Client) GetUsers(ctx context.Context) ([]string, error) {
	var users []string
	if err := c.getJSON(ctx, "/get-users", &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Car is one entry of /api/cars.
type Car struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Make   string `json:"make"`
	Model  string `json:"model"`
	Year   int    `json:"year"`
	Owner  string `json:"owner"`
	Photos int    `json:"photos"`
}

// ListCars returns the catalog from /api/cars.
func (c *Client) ListCars(ctx context.Context) ([]Car, error) {
	var cars []Car
	if err := c.getJSON(ctx, "/api/cars", &cars); err != nil {
		return nil, err
	}
	return cars, nil
}

// Login signs the client in. Rejected credentials are PermissionDenied.
func (c *Client) Login(ctx context.Context, username, password string) error {
	resp, err := c.PostForm(ctx, "/login", url.Values{"username": {username}, "password": {password}})
	if err != nil {
		return err
	}
	if resp.IsRedirect() && !strings.HasPrefix(resp.Location(), "/login") {
		return nil
	}
	return errs.New(errs.PermissionDenied, fmt.Sprintf("login rejected for %q (status %d)", username, resp.Status))
}

// Logout ends the client's session.
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.Get(ctx, "/logout")
	if err != nil {
		return err
	}
	return ExpectStatus(resp, http.StatusSeeOther, http.StatusFound)
}

// GetHTML fetches path and parses the body for server-side markup checks.
func (c *Client) GetHTML(ctx context.Context, path string) (*goquery.Document, *Response, error) {
	resp, err := c.Get(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, resp, errs.Wrap(errs.AssertionFailed, fmt.Sprintf("GET %s returned unparseable HTML", path), err)
	}
	return doc, resp, nil
}

// NewCar is the add-car form as posted by a script.
type NewCar struct {
	Make         string
	Model        string
	Year         int
	Director     string
	MainSettings string
	Description  string
	ImagePath    string
}

// AddCar posts the add-car form as the signed-in user.
func (c *Client) AddCar(ctx context.Context, car NewCar) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"make", car.Make},
		{"model", car.Model},
		{"year", strconv.Itoa(car.Year)},
		{"director", car.Director},
		{"main_settings", car.MainSettings},
		{"description", car.Description},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return fmt.Errorf("write field %s: %w", f[0], err)
		}
	}
	if car.ImagePath != "" {
		content, err := os.ReadFile(car.ImagePath)
		if err != nil {
			return fmt.Errorf("read car image: %w", err)
		}
		part, err := mw.CreateFormFile("image_file", filepath.Base(car.ImagePath))
		if err != nil {
			return fmt.Errorf("create image part: %w", err)
		}
		if _, err := part.Write(content); err != nil {
			return fmt.Errorf("write image part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart body: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, "/add_car", buf.Bytes(), mw.FormDataContentType())
	if err != nil {
		return err
	}
	if resp.IsRedirect() && resp.Location() == "/" {
		return nil
	}
	return errs.New(errs.AssertionFailed, fmt.Sprintf("add car %s %s: status %d, location %q", car.Make, car.Model, resp.Status, resp.Location()))
}

// DeleteCar deletes listing id as the signed-in user.
func (c *Client) DeleteCar(ctx context.Context, id int64) error {
	resp, err := c.PostForm(ctx, fmt.Sprintf("/delete_car/%d", id), url.Values{})
	if err != nil {
		return err
	}
	return ExpectStatus(resp, http.StatusSeeOther)
}

// Health checks /health.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.Get(ctx, "/health")
	if err != nil {
		return err
	}
	return ExpectStatus(resp, http.StatusOK)
}
