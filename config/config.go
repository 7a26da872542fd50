package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Browser     BrowserConfig     `yaml:"browser"`
	Session     SessionConfig     `yaml:"session"`
	Interaction InteractionConfig `yaml:"interaction"`
	Pagination  PaginationConfig  `yaml:"pagination"`
	Run         RunConfig         `yaml:"run"`
	Output      OutputConfig      `yaml:"output"`
	Status      StatusConfig      `yaml:"status"`
	Webhook     WebhookConfig     `yaml:"webhook"`
	Log         LogConfig         `yaml:"log"`
}

// BrowserConfig controls the Rod browser instance.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool `yaml:"headless"` // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool `yaml:"no_sandbox"` // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string `yaml:"bin"`

	// Proxy is the proxy URL for all requests.
	Proxy string `yaml:"proxy"`

	// Stealth injects the stealth evasion script into every page.
	Stealth bool `yaml:"stealth"` // default: true

	// NavigationTimeout is the max time for page.Navigate alone.
	NavigationTimeout time.Duration `yaml:"navigation_timeout"` // default: 20s

	// BlockedResourceTypes lists resource types to block.
	// default: ["Image", "Font", "Media"]
	BlockedResourceTypes []string `yaml:"blocked_resources"`

	// BlockedHosts are host suffixes whose requests are failed (trackers, chat widgets).
	BlockedHosts []string `yaml:"blocked_hosts"`

	// Headers are extra HTTP headers sent with every request ("Name: value").
	Headers []string `yaml:"headers"`
}

// SessionConfig controls authentication.
type SessionConfig struct {
	// LoginURL is the page hosting the login form.
	LoginURL string `yaml:"login_url"`

	// Credentials come from the environment only.
	Email    string `yaml:"-"`
	Password string `yaml:"-"`

	UserSelector     string `yaml:"user_selector"`     // default: "#emailUid"
	PasswordSelector string `yaml:"password_selector"` // default: "#password"
	SubmitSelector   string `yaml:"submit_selector"`   // default: "button[type=submit]"

	// SuccessURLFragment must appear in the URL once authenticated.
	SuccessURLFragment string `yaml:"success_url_fragment"` // default: "dashboard"

	// SuccessSelector, when set, must also be present once authenticated.
	SuccessSelector string `yaml:"success_selector"`

	// AuthTimeout bounds the wait for the post-login marker.
	AuthTimeout time.Duration `yaml:"auth_timeout"` // default: 20s

	// CookieFile persists session cookies between runs. Empty disables it.
	CookieFile string `yaml:"cookie_file"`

	// ProbeURL is visited to check liveness. Defaults to LoginURL, which the
	// site redirects away from while a session is valid.
	ProbeURL string `yaml:"probe_url"`

	// IdleCheck is the gap after which liveness is probed before the next target.
	IdleCheck time.Duration `yaml:"idle_check"` // default: 5m
}

// InteractionConfig controls the bounded-retry UI primitive.
type InteractionConfig struct {
	// ActionTimeout is the per-attempt deadline.
	ActionTimeout time.Duration `yaml:"action_timeout"` // default: 10s

	// SettleDelay is slept after every state-changing action.
	SettleDelay time.Duration `yaml:"settle_delay"` // default: 300ms

	// MaxAttempts caps attempts per action: a natural one, then a scripted
	// fallback. Values above 2 are rejected.
	MaxAttempts int `yaml:"max_attempts"` // default: 2
}

// PaginationConfig controls the reveal loop.
type PaginationConfig struct {
	// StableRounds is the number of unchanged counts that ends the loop.
	StableRounds int `yaml:"stable_rounds"` // default: 3

	// MaxIterations is the hard ceiling on reveal iterations.
	MaxIterations int `yaml:"max_iterations"` // default: 50

	// RevealDelay is slept after each reveal so new items can render.
	RevealDelay time.Duration `yaml:"reveal_delay"` // default: 1.2s
}

// RunConfig controls the orchestrator.
type RunConfig struct {
	// TargetsFile is the JSON/JSON5 target list.
	TargetsFile string `yaml:"targets"`

	// SchemaFile is the YAML extraction schema.
	SchemaFile string `yaml:"schema"`

	// TargetTimeout bounds one target end to end.
	TargetTimeout time.Duration `yaml:"target_timeout"` // default: 3m

	// Rate is the maximum number of target navigations per second.
	Rate float64 `yaml:"rate"` // default: 1

	// SnapshotDir receives HTML and screenshots of failed targets. Empty disables it.
	SnapshotDir string `yaml:"snapshot_dir"`

	// Limit stops after this many targets. Zero means no limit.
	Limit int `yaml:"limit"`
}

// OutputConfig controls the checkpointed writer.
type OutputConfig struct {
	// Path is the output file.
	Path string `yaml:"path"` // default: "output.jsonl"

	// Format is "jsonl" or "sqlite".
	Format string `yaml:"format"` // default: "jsonl"
}

// StatusConfig controls the optional status server.
type StatusConfig struct {
	// Addr enables the server when non-empty, e.g. "127.0.0.1:8090".
	Addr string `yaml:"addr"`

	// Mode is the gin mode: "debug", "release", "test".
	Mode string `yaml:"mode"` // default: "release"

	// APIKeys restricts /api/v1/run; empty means open.
	APIKeys []string `yaml:"-"`

	// RequestsPerSecond and Burst bound each caller of the protected routes.
	RequestsPerSecond float64 `yaml:"requests_per_second"` // default: 5
	Burst             int     `yaml:"burst"`               // default: 10
}

// WebhookConfig controls run notifications.
type WebhookConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"-"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // default: "info"
	Format string `yaml:"format"` // "json" or "text"; default: "text"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Browser: BrowserConfig{
			Headless:          envBoolOr("HARVEST_HEADLESS", true),
			NoSandbox:         envBoolOr("HARVEST_NO_SANDBOX", false),
			BrowserBin:        os.Getenv("HARVEST_BROWSER_BIN"),
			Proxy:             os.Getenv("HARVEST_PROXY"),
			Stealth:           envBoolOr("HARVEST_STEALTH", true),
			NavigationTimeout: envDurationOr("HARVEST_NAV_TIMEOUT", 20*time.Second),
			BlockedResourceTypes: envSliceOr("HARVEST_BLOCKED_RESOURCES", []string{
				"Image", "Font", "Media",
			}),
			BlockedHosts: envSliceOr("HARVEST_BLOCKED_HOSTS", []string{
				"google-analytics.com", "googletagmanager.com", "doubleclick.net", "hotjar.com",
			}),
			Headers: envSliceOr("HARVEST_HEADERS", nil),
		},
		Session: SessionConfig{
			LoginURL:           os.Getenv("HARVEST_LOGIN_URL"),
			Email:              os.Getenv("HARVEST_EMAIL"),
			Password:           os.Getenv("HARVEST_PASSWORD"),
			UserSelector:       envOr("HARVEST_USER_SELECTOR", "#emailUid"),
			PasswordSelector:   envOr("HARVEST_PASSWORD_SELECTOR", "#password"),
			SubmitSelector:     envOr("HARVEST_SUBMIT_SELECTOR", "button[type=submit]"),
			SuccessURLFragment: envOr("HARVEST_SUCCESS_URL", "dashboard"),
			SuccessSelector:    os.Getenv("HARVEST_SUCCESS_SELECTOR"),
			AuthTimeout:        envDurationOr("HARVEST_AUTH_TIMEOUT", 20*time.Second),
			CookieFile:         os.Getenv("HARVEST_COOKIE_FILE"),
			ProbeURL:           os.Getenv("HARVEST_PROBE_URL"),
			IdleCheck:          envDurationOr("HARVEST_IDLE_CHECK", 5*time.Minute),
		},
		Interaction: InteractionConfig{
			ActionTimeout: envDurationOr("HARVEST_ACTION_TIMEOUT", 10*time.Second),
			SettleDelay:   envDurationOr("HARVEST_SETTLE_DELAY", 300*time.Millisecond),
			MaxAttempts:   envIntOr("HARVEST_MAX_ATTEMPTS", 2),
		},
		Pagination: PaginationConfig{
			StableRounds:  envIntOr("HARVEST_STABLE_ROUNDS", 3),
			MaxIterations: envIntOr("HARVEST_MAX_ITERATIONS", 50),
			RevealDelay:   envDurationOr("HARVEST_REVEAL_DELAY", 1200*time.Millisecond),
		},
		Run: RunConfig{
			TargetsFile:   os.Getenv("HARVEST_TARGETS"),
			SchemaFile:    os.Getenv("HARVEST_SCHEMA"),
			TargetTimeout: envDurationOr("HARVEST_TARGET_TIMEOUT", 3*time.Minute),
			Rate:          envFloatOr("HARVEST_RATE", 1.0),
			SnapshotDir:   os.Getenv("HARVEST_SNAPSHOT_DIR"),
			Limit:         envIntOr("HARVEST_LIMIT", 0),
		},
		Output: OutputConfig{
			Path:   envOr("HARVEST_OUTPUT", "output.jsonl"),
			Format: envOr("HARVEST_OUTPUT_FORMAT", "jsonl"),
		},
		Status: StatusConfig{
			Addr:              os.Getenv("HARVEST_STATUS_ADDR"),
			Mode:              envOr("HARVEST_STATUS_MODE", "release"),
			APIKeys:           envSliceOr("HARVEST_STATUS_API_KEYS", nil),
			RequestsPerSecond: envFloatOr("HARVEST_STATUS_RPS", 5),
			Burst:             envIntOr("HARVEST_STATUS_BURST", 10),
		},
		Webhook: WebhookConfig{
			URL:    os.Getenv("HARVEST_WEBHOOK_URL"),
			Secret: os.Getenv("HARVEST_WEBHOOK_SECRET"),
		},
		Log: LogConfig{
			Level:  envOr("HARVEST_LOG_LEVEL", "info"),
			Format: envOr("HARVEST_LOG_FORMAT", "text"),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
