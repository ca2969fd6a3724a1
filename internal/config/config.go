// Package config loads configuration for the CarSphere QA harness and for the
// local sandbox site it drives when no external target is configured.
//
// Both configurations come from environment variables with defaults. The
// sandbox binary additionally accepts CLI flags (--addr, --no-s3, --no-ai).
// Configuration values are passed explicitly to the launcher, sessions and
// fixtures; no package keeps driver settings in global state.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTimeout           = 5 * time.Second
	defaultUsersFile         = "testdata/users.txt"
	defaultProtectedListings = 6
	defaultOpenAIModel       = "gpt-5-mini"
)

// Sandbox defaults, shared with fixtures that build a Sandbox directly.
const (
	DefaultSandboxSessionDuration = 12 * time.Hour
	DefaultSandboxClientRPS       = 50
	DefaultSandboxClientBurst     = 100
)

// Browser engines supported by the launcher.
const (
	BrowserChromium = "chromium"
	BrowserFirefox  = "firefox"
	BrowserWebKit   = "webkit"
)

// Harness holds the settings every suite needs.
type Harness struct {
	// Target
	BaseURL string // CARSPHERE_BASE_URL; empty starts the local sandbox

	// Browser
	Browser        string        // CARSPHERE_BROWSER
	Headless       bool          // CARSPHERE_HEADLESS
	Timeout        time.Duration // CARSPHERE_TIMEOUT, bound for every wait
	ViewportWidth  int           // CARSPHERE_VIEWPORT_WIDTH
	ViewportHeight int           // CARSPHERE_VIEWPORT_HEIGHT
	RequireBrowser bool          // CARSPHERE_REQUIRE_BROWSER; fail instead of skip

	// Test data and artifacts
	UsersFile    string // CARSPHERE_USERS_FILE
	LedgerFile   string // CARSPHERE_LEDGER_FILE
	ArtifactsDir string // CARSPHERE_ARTIFACTS_DIR
	ImagesDir    string // CARSPHERE_IMAGES_DIR

	// Catalog listings the delete scenarios must never remove.
	ProtectedListings int // CARSPHERE_PROTECTED_LISTINGS

	// API client throttling
	APIRequestsPerSecond float64 // CARSPHERE_API_RPS
	APIBurst             int     // CARSPHERE_API_BURST
}

// Sandbox holds the settings of the local CarSphere stand-in.
type Sandbox struct {
	ListenAddr string
	BaseURL    string
	DataDir    string

	NoS3 bool // in-memory S3 (--no-s3)
	NoAI bool // canned AI reviews (--no-ai)

	// S3 photo storage (AWS_ env vars)
	AWSEndpointS3      string
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSBucketName      string

	// AI reviews
	OpenAIAPIKey string
	OpenAIModel  string

	// SessionDuration bounds how long a login cookie stays valid.
	SessionDuration time.Duration

	// Per-client request throttling
	ClientRPS   float64 // SANDBOX_CLIENT_RPS
	ClientBurst int     // SANDBOX_CLIENT_BURST

	// DBMasterKey is the hex master key the SQLCipher key is derived from.
	// Empty leaves the store unencrypted.
	DBMasterKey string // DB_MASTER_KEY
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// LoadHarness loads the harness configuration from the environment.
func LoadHarness() (*Harness, error) {
	cfg := &Harness{
		BaseURL:              strings.TrimRight(getEnvOrDefault("CARSPHERE_BASE_URL", ""), "/"),
		Browser:              strings.ToLower(getEnvOrDefault("CARSPHERE_BROWSER", BrowserChromium)),
		Headless:             parseBoolOrDefault("CARSPHERE_HEADLESS", true),
		Timeout:              parseDurationOrDefault("CARSPHERE_TIMEOUT", defaultTimeout),
		ViewportWidth:        parseIntOrDefault("CARSPHERE_VIEWPORT_WIDTH", 1280),
		ViewportHeight:       parseIntOrDefault("CARSPHERE_VIEWPORT_HEIGHT", 800),
		RequireBrowser:       parseBoolOrDefault("CARSPHERE_REQUIRE_BROWSER", false),
		UsersFile:            getEnvOrDefault("CARSPHERE_USERS_FILE", ""),
		LedgerFile:           getEnvOrDefault("CARSPHERE_LEDGER_FILE", ""),
		ArtifactsDir:         getEnvOrDefault("CARSPHERE_ARTIFACTS_DIR", filepath.Join(os.TempDir(), "carsphere-artifacts")),
		ImagesDir:            getEnvOrDefault("CARSPHERE_IMAGES_DIR", ""),
		ProtectedListings:    parseIntOrDefault("CARSPHERE_PROTECTED_LISTINGS", defaultProtectedListings),
		APIRequestsPerSecond: parseFloat64OrDefault("CARSPHERE_API_RPS", 20),
		APIBurst:             parseIntOrDefault("CARSPHERE_API_BURST", 40),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every harness setting and reports all problems at once.
func (c *Harness) Validate() error {
	var errs []string

	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, "CARSPHERE_BASE_URL must be an absolute http(s) URL")
		}
	}

	switch c.Browser {
	case BrowserChromium, BrowserFirefox, BrowserWebKit:
	default:
		errs = append(errs, fmt.Sprintf("CARSPHERE_BROWSER must be one of chromium, firefox, webkit (got %q)", c.Browser))
	}

	if c.Timeout <= 0 {
		errs = append(errs, "CARSPHERE_TIMEOUT must be positive")
	}
	if c.ViewportWidth <= 0 || c.ViewportHeight <= 0 {
		errs = append(errs, "CARSPHERE_VIEWPORT_WIDTH and CARSPHERE_VIEWPORT_HEIGHT must be positive")
	}
	if c.ProtectedListings < 0 {
		errs = append(errs, "CARSPHERE_PROTECTED_LISTINGS must not be negative")
	}
	if c.APIRequestsPerSecond <= 0 {
		errs = append(errs, "CARSPHERE_API_RPS must be positive")
	}
	if c.APIBurst <= 0 {
		errs = append(errs, "CARSPHERE_API_BURST must be positive")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// UsesSandbox reports whether the suites run against the local sandbox.
func (c *Harness) UsesSandbox() bool {
	return c.BaseURL == ""
}

// TimeoutMS returns the wait bound in the float milliseconds Playwright expects.
func (c *Harness) TimeoutMS() float64 {
	return float64(c.Timeout.Milliseconds())
}

// ParseSandboxFlags registers and parses the sandbox CLI flags.
func ParseSandboxFlags() (noS3, noAI bool, addr string) {
	var testMode bool
	flag.BoolVar(&noS3, "no-s3", false, "Use in-memory S3 for listing photos")
	flag.BoolVar(&noAI, "no-ai", false, "Serve canned AI reviews instead of calling OpenAI")
	flag.BoolVar(&testMode, "test", false, "Shorthand for --no-s3 --no-ai")
	flag.StringVar(&addr, "addr", "", "Listen address (default :5000, overrides LISTEN_ADDR env var)")
	flag.Parse()

	if testMode {
		noS3 = true
		noAI = true
	}
	return noS3, noAI, addr
}

// LoadSandbox loads the sandbox configuration from the environment and flag values.
func LoadSandbox(noS3, noAI bool, addr string) (*Sandbox, error) {
	cfg := &Sandbox{
		NoS3: noS3,
		NoAI: noAI,
	}

	cfg.ListenAddr = getEnvOrDefault("LISTEN_ADDR", ":5000")
	if addr != "" {
		cfg.ListenAddr = addr
	}
	cfg.BaseURL = strings.TrimRight(getEnvOrDefault("BASE_URL", ""), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost" + cfg.ListenAddr
	}
	cfg.DataDir = getEnvOrDefault("DATA_DIR", filepath.Join(os.TempDir(), "carsphere-sandbox"))
	cfg.SessionDuration = parseDurationOrDefault("SESSION_DURATION", DefaultSandboxSessionDuration)
	cfg.ClientRPS = parseFloat64OrDefault("SANDBOX_CLIENT_RPS", DefaultSandboxClientRPS)
	cfg.ClientBurst = parseIntOrDefault("SANDBOX_CLIENT_BURST", DefaultSandboxClientBurst)
	cfg.DBMasterKey = getEnvOrDefault("DB_MASTER_KEY", "")

	cfg.AWSEndpointS3 = getEnvOrDefault("AWS_ENDPOINT_URL_S3", "")
	cfg.AWSRegion = getEnvOrDefault("AWS_REGION", "us-east-1")
	cfg.AWSAccessKeyID = getEnvOrDefault("AWS_ACCESS_KEY_ID", "")
	cfg.AWSSecretAccessKey = getEnvOrDefault("AWS_SECRET_ACCESS_KEY", "")
	cfg.AWSBucketName = getEnvOrDefault("BUCKET_NAME", "")

	cfg.OpenAIAPIKey = getEnvOrDefault("OPENAI_API_KEY", "")
	cfg.OpenAIModel = getEnvOrDefault("OPENAI_MODEL", defaultOpenAIModel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required sandbox configuration is present.
// When a mock is NOT active for a service, its credentials are required.
func (c *Sandbox) Validate() error {
	var errs []string

	if !c.NoS3 {
		if c.AWSEndpointS3 == "" {
			errs = append(errs, "AWS_ENDPOINT_URL_S3 is required (set env var or use --no-s3)")
		}
		if c.AWSBucketName == "" {
			errs = append(errs, "BUCKET_NAME is required (set env var or use --no-s3)")
		}
		if c.AWSAccessKeyID == "" {
			errs = append(errs, "AWS_ACCESS_KEY_ID is required (set env var or use --no-s3)")
		}
		if c.AWSSecretAccessKey == "" {
			errs = append(errs, "AWS_SECRET_ACCESS_KEY is required (set env var or use --no-s3)")
		}
	}

	if !c.NoAI && c.OpenAIAPIKey == "" {
		errs = append(errs, "OPENAI_API_KEY is required (set env var or use --no-ai)")
	}

	if c.SessionDuration <= 0 {
		errs = append(errs, "SESSION_DURATION must be positive")
	}
	if c.ClientRPS <= 0 || c.ClientBurst <= 0 {
		errs = append(errs, "SANDBOX_CLIENT_RPS and SANDBOX_CLIENT_BURST must be positive")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// PrintStartupSummary prints a human-readable summary of the sandbox configuration to stderr.
func (c *Sandbox) PrintStartupSummary() {
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "carsphere sandbox starting...")
	if c.NoS3 {
		fmt.Fprintln(os.Stderr, "  Photos:  In-memory S3 (--no-s3)")
	} else {
		fmt.Fprintf(os.Stderr, "  Photos:  S3 (endpoint: %s, bucket: %s)\n", c.AWSEndpointS3, c.AWSBucketName)
	}
	if c.NoAI {
		fmt.Fprintln(os.Stderr, "  Reviews: Canned AI reviews (--no-ai)")
	} else {
		fmt.Fprintf(os.Stderr, "  Reviews: OpenAI (model: %s)\n", c.OpenAIModel)
	}
	if c.DBMasterKey != "" {
		fmt.Fprintf(os.Stderr, "  Data:    %s (encrypted)\n", c.DataDir)
	} else {
		fmt.Fprintf(os.Stderr, "  Data:    %s\n", c.DataDir)
	}
	fmt.Fprintf(os.Stderr, "  Listen:  %s\n", c.ListenAddr)
	fmt.Fprintf(os.Stderr, "  Base:    %s\n", c.BaseURL)
	fmt.Fprintln(os.Stderr, "")
}

// MustLoadSandbox loads the sandbox configuration and panics if validation fails.
func MustLoadSandbox(noS3, noAI bool, addr string) *Sandbox {
	cfg, err := LoadSandbox(noS3, noAI, addr)
	if err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			panic(fmt.Sprintf("Configuration validation failed:\n  - %s", strings.Join(validationErr.Errors, "\n  - ")))
		}
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func parseIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}
