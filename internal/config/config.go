// Package config loads process configuration. Values are resolved in the
// order defaults, YAML file, environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shehryarbajwa/browserflow/internal/selector"
)

// EnvPrefix prefixes every environment override, e.g. BROWSERFLOW_SERVER_ADDR.
const EnvPrefix = "BROWSERFLOW"

// PathEnv names the environment variable holding the YAML file path.
const PathEnv = "BROWSERFLOW_CONFIG"

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Browser   BrowserConfig   `yaml:"browser" env:"BROWSER"`
	Session   SessionConfig   `yaml:"session" env:"SESSION"`
	Selector  SelectorConfig  `yaml:"selector" env:"SELECTOR"`
	Store     StoreConfig     `yaml:"store" env:"STORE"`
	Security  SecurityConfig  `yaml:"security" env:"SECURITY"`
	RateLimit RateLimitConfig `yaml:"rate_limit" env:"RATE_LIMIT"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr             string        `yaml:"addr" env:"ADDR"`
	ReadTimeout      time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout     time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout      time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	MetricsNamespace string        `yaml:"metrics_namespace" env:"METRICS_NAMESPACE"`
	AllowedOrigins   []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
}

// BrowserConfig selects and tunes the browser launcher.
type BrowserConfig struct {
	// Launcher is one of local, docker or remote.
	Launcher       string        `yaml:"launcher" env:"LAUNCHER"`
	ControlURL     string        `yaml:"control_url" env:"CONTROL_URL"`
	Bin            string        `yaml:"bin" env:"BIN"`
	Headless       bool          `yaml:"headless" env:"HEADLESS"`
	Image          string        `yaml:"image" env:"IMAGE"`
	MaxConcurrent  int64         `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
	StartupTimeout time.Duration `yaml:"startup_timeout" env:"STARTUP_TIMEOUT"`
}

// SessionConfig tunes remote browser sessions.
type SessionConfig struct {
	LaunchAttempts       uint          `yaml:"launch_attempts" env:"LAUNCH_ATTEMPTS"`
	LaunchBackoff        time.Duration `yaml:"launch_backoff" env:"LAUNCH_BACKOFF"`
	IdleTimeout          time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ViewportWidth        int           `yaml:"viewport_width" env:"VIEWPORT_WIDTH"`
	ViewportHeight       int           `yaml:"viewport_height" env:"VIEWPORT_HEIGHT"`
	ScreencastQuality    int           `yaml:"screencast_quality" env:"SCREENCAST_QUALITY"`
	EveryNthFrame        int           `yaml:"every_nth_frame" env:"EVERY_NTH_FRAME"`
	OptimizeDeadline     time.Duration `yaml:"optimize_deadline" env:"OPTIMIZE_DEADLINE"`
	OptimizeMaxWidth     int           `yaml:"optimize_max_width" env:"OPTIMIZE_MAX_WIDTH"`
	NavigationWait       time.Duration `yaml:"navigation_wait" env:"NAVIGATION_WAIT"`
	MemorySoftLimitMB    uint64        `yaml:"memory_soft_limit_mb" env:"MEMORY_SOFT_LIMIT_MB"`
	WatchdogInterval     time.Duration `yaml:"watchdog_interval" env:"WATCHDOG_INTERVAL"`
	BlockedURLPatterns   []string      `yaml:"blocked_url_patterns" env:"BLOCKED_URL_PATTERNS"`
	MaxRepeats           int           `yaml:"max_repeats" env:"MAX_REPEATS"`
	InterpretStepTimeout time.Duration `yaml:"interpret_step_timeout" env:"INTERPRET_STEP_TIMEOUT"`
}

// SelectorConfig exposes the selector synthesis constants.
type SelectorConfig struct {
	SeedMinLength      int `yaml:"seed_min_length" env:"SEED_MIN_LENGTH"`
	OptimizedMinLength int `yaml:"optimized_min_length" env:"OPTIMIZED_MIN_LENGTH"`
	Threshold          int `yaml:"threshold" env:"THRESHOLD"`
	MaxNumberOfTries   int `yaml:"max_number_of_tries" env:"MAX_NUMBER_OF_TRIES"`
	MaxDepth           int `yaml:"max_depth" env:"MAX_DEPTH"`
	ListDepth          int `yaml:"list_depth" env:"LIST_DEPTH"`
}

// Options converts the section to selector options.
func (c SelectorConfig) Options() selector.Options {
	return selector.Options{
		SeedMinLength:      c.SeedMinLength,
		OptimizedMinLength: c.OptimizedMinLength,
		Threshold:          c.Threshold,
		MaxNumberOfTries:   c.MaxNumberOfTries,
		MaxDepth:           c.MaxDepth,
		ListDepth:          c.ListDepth,
	}
}

// StoreConfig configures persistence.
type StoreConfig struct {
	DSN         string `yaml:"dsn" env:"DSN"`
	ArtifactDir string `yaml:"artifact_dir" env:"ARTIFACT_DIR"`
}

// SecurityConfig holds key material.
type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key" env:"ENCRYPTION_KEY"`
}

// RateLimitConfig configures per-user request limits.
type RateLimitConfig struct {
	RequestsPerHour int           `yaml:"requests_per_hour" env:"REQUESTS_PER_HOUR"`
	Burst           int           `yaml:"burst" env:"BURST"`
	IdleEviction    time.Duration `yaml:"idle_eviction" env:"IDLE_EVICTION"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string   `yaml:"level" env:"LEVEL"`
	Format      string   `yaml:"format" env:"FORMAT"`
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// Default returns the built-in configuration.
func Default() *Config {
	opts := selector.DefaultOptions()
	return &Config{
		Server: ServerConfig{
			Addr:             ":8080",
			ReadTimeout:      15 * time.Second,
			WriteTimeout:     15 * time.Second,
			IdleTimeout:      60 * time.Second,
			ShutdownTimeout:  10 * time.Second,
			MetricsNamespace: "browserflow",
			AllowedOrigins:   []string{"*"},
		},
		Browser: BrowserConfig{
			Launcher:       "local",
			Headless:       true,
			Image:          "browserless/chrome:latest",
			MaxConcurrent:  10,
			StartupTimeout: 30 * time.Second,
		},
		Session: SessionConfig{
			LaunchAttempts:       3,
			LaunchBackoff:        500 * time.Millisecond,
			IdleTimeout:          30 * time.Minute,
			ViewportWidth:        1280,
			ViewportHeight:       720,
			ScreencastQuality:    75,
			EveryNthFrame:        1,
			OptimizeDeadline:     150 * time.Millisecond,
			OptimizeMaxWidth:     900,
			NavigationWait:       2 * time.Second,
			MemorySoftLimitMB:    512,
			WatchdogInterval:     30 * time.Second,
			BlockedURLPatterns:   []string{"*doubleclick.net*", "*googlesyndication.com*", "*google-analytics.com*", "*adservice.google.*"},
			MaxRepeats:           30,
			InterpretStepTimeout: 30 * time.Second,
		},
		Selector: SelectorConfig{
			SeedMinLength:      opts.SeedMinLength,
			OptimizedMinLength: opts.OptimizedMinLength,
			Threshold:          opts.Threshold,
			MaxNumberOfTries:   opts.MaxNumberOfTries,
			MaxDepth:           opts.MaxDepth,
			ListDepth:          opts.ListDepth,
		},
		Store: StoreConfig{
			DSN:         "browserflow.db",
			ArtifactDir: "./storage/artifacts",
		},
		RateLimit: RateLimitConfig{
			RequestsPerHour: 100,
			Burst:           10,
			IdleEviction:    time.Hour,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
	}
}

// Loader resolves a Config.
type Loader struct {
	path      string
	envPrefix string
	lookup    func(string) (string, bool)
}

// NewLoader returns a loader reading the process environment.
func NewLoader() *Loader {
	return &Loader{envPrefix: EnvPrefix, lookup: os.LookupEnv}
}

// WithPath sets the YAML file. A missing file is not an error.
func (l *Loader) WithPath(path string) *Loader {
	l.path = path
	return l
}

// WithLookup replaces the environment lookup.
func (l *Loader) WithLookup(fn func(string) (string, bool)) *Loader {
	l.lookup = fn
	return l
}

// Load resolves and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()
	if l.path != "" {
		if err := l.loadFile(cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := l.setFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("load config env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) loadFile(cfg *Config) error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func (l *Loader) setFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag
		if field.Kind() == reflect.Struct {
			if err := l.setFromEnv(field, key); err != nil {
				return err
			}
			continue
		}
		value, ok := l.lookup(key)
		if !ok || value == "" {
			continue
		}
		if err := setField(field, value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Browser.Launcher {
	case "local", "docker":
	case "remote":
		if c.Browser.ControlURL == "" {
			errs = append(errs, errors.New("browser.control_url is required for the remote launcher"))
		}
	default:
		errs = append(errs, fmt.Errorf("browser.launcher %q: want local, docker or remote", c.Browser.Launcher))
	}
	if c.Browser.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("browser.max_concurrent must be positive"))
	}
	if c.Session.LaunchAttempts == 0 {
		errs = append(errs, errors.New("session.launch_attempts must be positive"))
	}
	if c.Session.ScreencastQuality < 1 || c.Session.ScreencastQuality > 100 {
		errs = append(errs, errors.New("session.screencast_quality must be within 1..100"))
	}
	if c.Security.EncryptionKey == "" {
		errs = append(errs, errors.New("security.encryption_key is required"))
	}
	if c.RateLimit.RequestsPerHour <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("rate_limit requests_per_hour and burst must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
