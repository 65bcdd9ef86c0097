// Package config loads dashboard settings from defaults, an optional YAML file, a .env file
// and PGBOARD_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Refresh modes
const (
	// ModeWatch feeds the snapshot from long-running watch streams
	ModeWatch = "watch"
	// ModePoll lists every resource on each refresh
	ModePoll = "poll"
)

// Log encodings
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

const envPrefix = "PGBOARD_"

// Config is the complete runtime configuration
type Config struct {
	Kubeconfig string   `yaml:"kubeconfig"`
	Contexts   []string `yaml:"contexts"`
	Mode       string   `yaml:"mode"`
	ListenAddr string   `yaml:"listen_addr"`

	// AllowOrigins is the comma separated CORS origin list; empty allows any origin
	AllowOrigins string `yaml:"allow_origins"`
	AccessLog    bool   `yaml:"access_log"`

	RefreshInterval     time.Duration `yaml:"refresh_interval"`
	Debounce            time.Duration `yaml:"debounce"`
	DebounceMaxWait     time.Duration `yaml:"debounce_max_wait"`
	FetchTimeout        time.Duration `yaml:"fetch_timeout"`
	ExecTimeout         time.Duration `yaml:"exec_timeout"`
	WatchBackoffInitial time.Duration `yaml:"watch_backoff_initial"`
	WatchBackoffMax     time.Duration `yaml:"watch_backoff_max"`
	EnrichParallelism   int           `yaml:"enrich_parallelism"`

	// LogsURLTemplate links workloads to a log viewer; {namespace} and {app} are substituted
	LogsURLTemplate string `yaml:"logs_url_template"`

	Dumps DumpsConfig `yaml:"dumps"`
	Log   LogConfig   `yaml:"log"`
}

// DumpsConfig controls listing of logical dumps in each cluster's object store.
// Endpoint and Region are used only when the cluster does not declare its own.
type DumpsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Region   string `yaml:"region"`
	Match    string `yaml:"match"`
}

// LogConfig selects the zap level and encoding
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Mode:                ModeWatch,
		ListenAddr:          ":8080",
		RefreshInterval:     10 * time.Second,
		Debounce:            time.Second,
		DebounceMaxWait:     time.Second,
		FetchTimeout:        30 * time.Second,
		ExecTimeout:         10 * time.Second,
		WatchBackoffInitial: time.Second,
		WatchBackoffMax:     30 * time.Second,
		EnrichParallelism:   8,
		Dumps: DumpsConfig{
			Region: "us-east-1",
			Match:  ".dump",
		},
		Log: LogConfig{
			Level:  "info",
			Format: FormatJSON,
		},
	}
}

// Load builds the configuration. path names an optional YAML file; dotenv names the .env
// files to read, ".env" when none are given. Missing .env files are ignored.
func Load(path string, dotenv ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if len(dotenv) == 0 {
		dotenv = []string{".env"}
	}
	for _, file := range dotenv {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeWatch, ModePoll:
	default:
		return fmt.Errorf("invalid mode %q: must be %s or %s", c.Mode, ModeWatch, ModePoll)
	}
	if c.ListenAddr == "" {
		return errors.New("listen_addr must not be empty")
	}
	if c.RefreshInterval < 0 {
		return errors.New("refresh_interval must not be negative")
	}
	if c.Mode == ModePoll && c.RefreshInterval == 0 {
		return errors.New("refresh_interval must be set in poll mode")
	}
	if c.Debounce < 0 || c.DebounceMaxWait < 0 {
		return errors.New("debounce settings must not be negative")
	}
	if c.DebounceMaxWait != 0 && c.DebounceMaxWait < c.Debounce {
		return fmt.Errorf("debounce_max_wait (%s) must not be shorter than debounce (%s)", c.DebounceMaxWait, c.Debounce)
	}
	if c.FetchTimeout < 0 || c.ExecTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.WatchBackoffInitial <= 0 || c.WatchBackoffMax < c.WatchBackoffInitial {
		return errors.New("watch backoff must be positive with watch_backoff_max >= watch_backoff_initial")
	}
	if c.EnrichParallelism < 1 {
		return errors.New("enrich_parallelism must be at least 1")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	switch c.Log.Format {
	case FormatJSON, FormatConsole:
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Kubeconfig = getEnvOrDefault(envPrefix+"KUBECONFIG", getEnvOrDefault("KUBECONFIG", c.Kubeconfig))
	c.Mode = getEnvOrDefault(envPrefix+"MODE", c.Mode)
	c.ListenAddr = getEnvOrDefault(envPrefix+"LISTEN_ADDR", c.ListenAddr)
	c.AllowOrigins = getEnvOrDefault(envPrefix+"ALLOW_ORIGINS", c.AllowOrigins)
	c.LogsURLTemplate = getEnvOrDefault(envPrefix+"LOGS_URL_TEMPLATE", c.LogsURLTemplate)
	c.Dumps.Endpoint = getEnvOrDefault(envPrefix+"DUMPS_ENDPOINT", c.Dumps.Endpoint)
	c.Dumps.Region = getEnvOrDefault(envPrefix+"DUMPS_REGION", c.Dumps.Region)
	c.Dumps.Match = getEnvOrDefault(envPrefix+"DUMPS_MATCH", c.Dumps.Match)
	c.Log.Level = getEnvOrDefault(envPrefix+"LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnvOrDefault(envPrefix+"LOG_FORMAT", c.Log.Format)

	if v := os.Getenv(envPrefix + "CONTEXTS"); v != "" {
		c.Contexts = splitList(v)
	}

	durations := map[string]*time.Duration{
		"REFRESH_INTERVAL":      &c.RefreshInterval,
		"DEBOUNCE":              &c.Debounce,
		"DEBOUNCE_MAX_WAIT":     &c.DebounceMaxWait,
		"FETCH_TIMEOUT":         &c.FetchTimeout,
		"EXEC_TIMEOUT":          &c.ExecTimeout,
		"WATCH_BACKOFF_INITIAL": &c.WatchBackoffInitial,
		"WATCH_BACKOFF_MAX":     &c.WatchBackoffMax,
	}
	for key, dst := range durations {
		v := os.Getenv(envPrefix + key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
		}
		*dst = d
	}

	if v := os.Getenv(envPrefix + "ENRICH_PARALLELISM"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sENRICH_PARALLELISM: %w", envPrefix, err)
		}
		c.EnrichParallelism = n
	}
	bools := map[string]*bool{
		"DUMPS_ENABLED": &c.Dumps.Enabled,
		"ACCESS_LOG":    &c.AccessLog,
	}
	for key, dst := range bools {
		v := os.Getenv(envPrefix + key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
		}
		*dst = b
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
