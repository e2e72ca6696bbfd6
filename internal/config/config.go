package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultStatePath        = "last_published_ip.txt"
	defaultBadgerStatePath  = "ipsync.db"
	defaultStateBackend     = StateBackendFile
	defaultLogLevel         = "info"
	defaultLogEnv           = "prod"
	defaultLogMaxSizeMB     = 10
	defaultLogMaxBackups    = 3
	defaultLogMaxAgeDays    = 28
	defaultMetricsAddress   = ":9090"
	defaultResolverTimeout  = 10 * time.Second
	defaultInterval         = time.Minute
	defaultRetryInterval    = 5 * time.Minute
	defaultBackoffInterval  = 5 * time.Minute
	defaultFailureThreshold = 3
	defaultDNSProvider      = ProviderPanel
	defaultDNSTTL           = 300
	defaultPanelTimeout     = 60 * time.Second
)

const (
	StateBackendFile   = "file"
	StateBackendBadger = "badger"

	ProviderPanel      = "panel"
	ProviderCloudflare = "cloudflare"
)

var defaultResolverURLs = []string{
	"https://api.ipify.org",
	"https://icanhazip.com",
	"https://ifconfig.me/ip",
}

// ErrInvalid is returned by Validate when the configuration cannot be used
// to start the agent.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	StatePath    string   `yaml:"statePath"`
	StateBackend string   `yaml:"stateBackend"`
	Log          Log      `yaml:"log"`
	Metrics      Metrics  `yaml:"metrics"`
	Resolver     Resolver `yaml:"resolver"`
	Schedule     Schedule `yaml:"schedule"`
	DNS          DNS      `yaml:"dns"`
	Panel        Panel    `yaml:"panel"`
	Monitor      Monitor  `yaml:"monitor"`
}

type Log struct {
	Level      string `yaml:"level"`
	Env        string `yaml:"env"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

type Metrics struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
}

// IsEnabled reports whether the metrics server should run. Metrics are on
// unless explicitly disabled.
func (m Metrics) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

type Resolver struct {
	URLs    []string      `yaml:"urls"`
	Timeout time.Duration `yaml:"timeout"`
	Retries int           `yaml:"retries"`
}

type Schedule struct {
	Interval         time.Duration `yaml:"interval"`
	RetryInterval    time.Duration `yaml:"retryInterval"`
	BackoffInterval  time.Duration `yaml:"backoffInterval"`
	FailureThreshold int           `yaml:"failureThreshold"`
}

type DNS struct {
	Provider string `yaml:"provider"`
	Name     string `yaml:"name"`
	Zone     string `yaml:"zone"`
	Token    string `yaml:"token"`
	TTL      int    `yaml:"ttl"`
}

type Panel struct {
	URL      string        `yaml:"url"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Headless *bool         `yaml:"headless"`
	Timeout  time.Duration `yaml:"timeout"`
}

// IsHeadless reports whether the browser runs without a window. Headless
// unless explicitly disabled.
func (p Panel) IsHeadless() bool {
	return p.Headless == nil || *p.Headless
}

type Monitor struct {
	HealthchecksURL string `yaml:"healthchecksUrl"`
}

// Load reads the yaml file at path, fills in defaults and applies
// environment overrides. A missing file is not an error. The result is not
// validated; callers run Validate before using it.
func Load(path string) (*Config, error) {
	configFile := true
	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Default().Warn("fail find config file, proceeding", "path", path)
		configFile = false
	}

	var cfg Config
	if configFile {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}

		decoder := yaml.NewDecoder(f)
		if err := decoder.Decode(&cfg); err != nil {
			f.Close()
			return nil, fmt.Errorf("decode config file %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			slog.Default().Warn("fail close config file", "path", path, "error", err)
		}
	}

	cfg.setDefaults()
	cfg.applyEnv()
	cfg.setStatePathDefault()
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.StateBackend == "" {
		cfg.StateBackend = defaultStateBackend
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = defaultLogLevel
	}
	if cfg.Log.Env == "" {
		cfg.Log.Env = defaultLogEnv
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = defaultLogMaxSizeMB
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = defaultLogMaxBackups
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = defaultLogMaxAgeDays
	}

	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = defaultMetricsAddress
	}

	if len(cfg.Resolver.URLs) == 0 {
		cfg.Resolver.URLs = append([]string(nil), defaultResolverURLs...)
	}
	if cfg.Resolver.Timeout == 0 {
		cfg.Resolver.Timeout = defaultResolverTimeout
	}

	if cfg.Schedule.Interval == 0 {
		cfg.Schedule.Interval = defaultInterval
	}
	if cfg.Schedule.RetryInterval == 0 {
		cfg.Schedule.RetryInterval = defaultRetryInterval
	}
	if cfg.Schedule.BackoffInterval == 0 {
		cfg.Schedule.BackoffInterval = defaultBackoffInterval
	}
	if cfg.Schedule.FailureThreshold == 0 {
		cfg.Schedule.FailureThreshold = defaultFailureThreshold
	}

	if cfg.DNS.Provider == "" {
		cfg.DNS.Provider = defaultDNSProvider
	}
	if cfg.DNS.TTL == 0 {
		cfg.DNS.TTL = defaultDNSTTL
	}

	if cfg.Panel.Timeout == 0 {
		cfg.Panel.Timeout = defaultPanelTimeout
	}
}

// setStatePathDefault runs after env overrides so the default follows the
// chosen backend. Badger needs a directory, the file backend a file.
func (cfg *Config) setStatePathDefault() {
	if cfg.StatePath != "" {
		return
	}
	if cfg.StateBackend == StateBackendBadger {
		cfg.StatePath = defaultBadgerStatePath
		return
	}
	cfg.StatePath = defaultStatePath
}

func (cfg *Config) applyEnv() {
	if statePath := os.Getenv("IPSYNC_STATE_PATH"); statePath != "" {
		cfg.StatePath = statePath
	}
	if backend := os.Getenv("IPSYNC_STATE_BACKEND"); backend != "" {
		cfg.StateBackend = backend
	}

	if loglevel := os.Getenv("IPSYNC_LOG_LEVEL"); loglevel != "" {
		cfg.Log.Level = loglevel
	}
	if logenv := os.Getenv("IPSYNC_LOG_ENV"); logenv != "" {
		cfg.Log.Env = logenv
	}
	if logfile := os.Getenv("IPSYNC_LOG_FILE"); logfile != "" {
		cfg.Log.File = logfile
	}

	if enabled := os.Getenv("IPSYNC_METRICS_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			cfg.Metrics.Enabled = &b
		} else {
			slog.Default().Warn("fail parse metrics enabled to bool from string", "enabled", enabled, "error", err)
		}
	}
	if addr := os.Getenv("IPSYNC_METRICS_ADDRESS"); addr != "" {
		cfg.Metrics.Address = addr
	}

	if urls := os.Getenv("IPSYNC_RESOLVER_URLS"); urls != "" {
		cfg.Resolver.URLs = splitList(urls)
	}

	setDuration("IPSYNC_INTERVAL", &cfg.Schedule.Interval)
	setDuration("IPSYNC_RETRY_INTERVAL", &cfg.Schedule.RetryInterval)
	setDuration("IPSYNC_BACKOFF_INTERVAL", &cfg.Schedule.BackoffInterval)
	setInt("IPSYNC_FAILURE_THRESHOLD", &cfg.Schedule.FailureThreshold)

	if provider := os.Getenv("IPSYNC_DNS_PROVIDER"); provider != "" {
		cfg.DNS.Provider = provider
	}
	if name := os.Getenv("IPSYNC_DNS_NAME"); name != "" {
		cfg.DNS.Name = name
	}
	if zone := os.Getenv("IPSYNC_DNS_ZONE"); zone != "" {
		cfg.DNS.Zone = zone
	}
	if token := os.Getenv("IPSYNC_CLOUDFLARE_TOKEN"); token != "" {
		cfg.DNS.Token = token
	}
	setInt("IPSYNC_DNS_TTL", &cfg.DNS.TTL)

	if url := os.Getenv("IPSYNC_PANEL_URL"); url != "" {
		cfg.Panel.URL = url
	}
	if username := os.Getenv("IPSYNC_PANEL_USERNAME"); username != "" {
		cfg.Panel.Username = username
	}
	if password := os.Getenv("IPSYNC_PANEL_PASSWORD"); password != "" {
		cfg.Panel.Password = password
	}

	if hc := os.Getenv("IPSYNC_HEALTHCHECKS_URL"); hc != "" {
		cfg.Monitor.HealthchecksURL = hc
	}
}

// Validate checks that every field needed to enter the sync loop is present.
// All errors wrap ErrInvalid.
func (cfg *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if strings.TrimSpace(cfg.DNS.Name) == "" {
		invalid("dns name is required")
	}

	switch cfg.DNS.Provider {
	case ProviderPanel:
		if cfg.Panel.URL == "" {
			invalid("panel url is required")
		}
		if cfg.Panel.Username == "" {
			invalid("panel username is required")
		}
		if cfg.Panel.Password == "" {
			invalid("panel password is required")
		}
	case ProviderCloudflare:
		if cfg.DNS.Token == "" {
			invalid("cloudflare API token is required")
		}
		if cfg.DNS.Zone == "" {
			invalid("dns zone is required for cloudflare")
		}
	default:
		invalid("unknown dns provider %q", cfg.DNS.Provider)
	}

	switch cfg.StateBackend {
	case StateBackendFile, StateBackendBadger:
	default:
		invalid("unknown state backend %q", cfg.StateBackend)
	}
	if cfg.StatePath == "" {
		invalid("state path is required")
	}

	if cfg.Schedule.Interval <= 0 || cfg.Schedule.RetryInterval <= 0 || cfg.Schedule.BackoffInterval <= 0 {
		invalid("schedule intervals must be positive")
	}
	if cfg.Schedule.FailureThreshold < 1 {
		invalid("failure threshold must be at least 1")
	}
	if cfg.Resolver.Timeout <= 0 {
		invalid("resolver timeout must be positive")
	}
	if cfg.Resolver.Retries < 0 {
		invalid("resolver retries cannot be negative")
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func setDuration(key string, dst *time.Duration) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Default().Warn("fail parse duration from string", "key", key, "value", raw, "error", err)
		return
	}
	*dst = d
}

func setInt(key string, dst *int) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		slog.Default().Warn("fail parse int from string", "key", key, "value", raw, "error", err)
		return
	}
	*dst = n
}
