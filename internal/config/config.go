package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	QueueBackendLevelDB = "leveldb"
	QueueBackendSQLite  = "sqlite"

	CacheBackendLevelDB = "leveldb"
	CacheBackendMemory  = "memory"
)

type Config struct {
	Server struct {
		Port          int    `yaml:"port"`
		Origin        string `yaml:"origin"`
		ControlPrefix string `yaml:"controlPrefix"`
	} `yaml:"server"`

	// Version names the current cache generation together with CacheNamePrefix.
	Version         string `yaml:"version"`
	CacheNamePrefix string `yaml:"cacheNamePrefix"`

	Storage struct {
		Dir          string `yaml:"dir"`
		QueueBackend string `yaml:"queueBackend"`
		Cache        string `yaml:"cache"`
	} `yaml:"storage"`

	Shell struct {
		Paths           []string `yaml:"paths"`
		OfflineFallback string   `yaml:"offlineFallback"`
	} `yaml:"shell"`

	Routes struct {
		API       string `yaml:"api"`
		Reference string `yaml:"reference"`

		apiMatchers []Matcher
		refMatchers []Matcher
	} `yaml:"routes"`

	Queue struct {
		SyncTag              string `yaml:"syncTag"`
		MaxServerRetries     *int   `yaml:"maxServerRetries"`
		MaxTransportAttempts *int   `yaml:"maxTransportAttempts"`
		BackoffBase          string `yaml:"backoffBase"`

		backoffBaseDur time.Duration
	} `yaml:"queue"`

	Fetch struct {
		Timeout string `yaml:"timeout"`

		timeoutDur time.Duration
	} `yaml:"fetch"`

	Connectivity struct {
		ProbePath  string `yaml:"probePath"`
		ProbeEvery string `yaml:"probeEvery"`

		probeEveryDur time.Duration
	} `yaml:"connectivity"`

	Lifecycle struct {
		SkipWaiting *bool `yaml:"skipWaiting"`
	} `yaml:"lifecycle"`

	Limits struct {
		MaxBodySize string `yaml:"maxBodySize"`

		maxBodyBytes int64
	} `yaml:"limits"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes a yaml document, applies defaults and compiles matchers,
// durations and sizes.
func Parse(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() error {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Origin == "" {
		return fmt.Errorf("server.origin is required")
	}
	cfg.Server.Origin = strings.TrimRight(cfg.Server.Origin, "/")
	if cfg.Server.ControlPrefix == "" {
		cfg.Server.ControlPrefix = "/_edge"
	}
	if !strings.HasPrefix(cfg.Server.ControlPrefix, "/") {
		return fmt.Errorf("server.controlPrefix must start with /")
	}
	cfg.Server.ControlPrefix = strings.TrimRight(cfg.Server.ControlPrefix, "/")

	if cfg.Version == "" {
		cfg.Version = "v1"
	}
	if cfg.CacheNamePrefix == "" {
		cfg.CacheNamePrefix = "minute-hr-"
	}

	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "./data"
	}
	switch cfg.Storage.QueueBackend {
	case "":
		cfg.Storage.QueueBackend = QueueBackendLevelDB
	case QueueBackendLevelDB, QueueBackendSQLite:
	default:
		return fmt.Errorf("storage.queueBackend: unsupported backend %q", cfg.Storage.QueueBackend)
	}
	switch cfg.Storage.Cache {
	case "":
		cfg.Storage.Cache = CacheBackendLevelDB
	case CacheBackendLevelDB, CacheBackendMemory:
	default:
		return fmt.Errorf("storage.cache: unsupported backend %q", cfg.Storage.Cache)
	}

	if len(cfg.Shell.Paths) == 0 {
		cfg.Shell.Paths = []string{"/", "/offline.html", "/manifest.json"}
	}
	for i, p := range cfg.Shell.Paths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("shell.paths[%d]: %q must start with /", i, p)
		}
	}
	if cfg.Shell.OfflineFallback == "" {
		cfg.Shell.OfflineFallback = "/offline.html"
	}

	if cfg.Routes.API == "" {
		cfg.Routes.API = "PathPrefix(/api/)"
	}
	if cfg.Routes.Reference == "" {
		cfg.Routes.Reference = "Contains(/users)|Contains(/teams)|Contains(/departments)"
	}
	ms, err := ParseMatch(cfg.Routes.API)
	if err != nil {
		return fmt.Errorf("routes.api: %w", err)
	}
	cfg.Routes.apiMatchers = ms
	ms, err = ParseMatch(cfg.Routes.Reference)
	if err != nil {
		return fmt.Errorf("routes.reference: %w", err)
	}
	cfg.Routes.refMatchers = ms

	if cfg.Queue.SyncTag == "" {
		cfg.Queue.SyncTag = "offline-sync"
	}
	if cfg.Queue.MaxServerRetries == nil {
		n := 3
		cfg.Queue.MaxServerRetries = &n
	}
	if *cfg.Queue.MaxServerRetries < 0 {
		return fmt.Errorf("queue.maxServerRetries must not be negative")
	}
	if cfg.Queue.MaxTransportAttempts == nil {
		n := 5
		cfg.Queue.MaxTransportAttempts = &n
	}
	if *cfg.Queue.MaxTransportAttempts < 1 {
		return fmt.Errorf("queue.maxTransportAttempts must be at least 1")
	}
	if cfg.Queue.backoffBaseDur, err = parseDurationDefault(cfg.Queue.BackoffBase, 2*time.Second); err != nil {
		return fmt.Errorf("queue.backoffBase: %w", err)
	}

	if cfg.Fetch.timeoutDur, err = parseDurationDefault(cfg.Fetch.Timeout, 30*time.Second); err != nil {
		return fmt.Errorf("fetch.timeout: %w", err)
	}

	if cfg.Connectivity.ProbePath == "" {
		cfg.Connectivity.ProbePath = "/"
	}
	if cfg.Connectivity.probeEveryDur, err = parseDurationDefault(cfg.Connectivity.ProbeEvery, 15*time.Second); err != nil {
		return fmt.Errorf("connectivity.probeEvery: %w", err)
	}

	if cfg.Lifecycle.SkipWaiting == nil {
		skip := true
		cfg.Lifecycle.SkipWaiting = &skip
	}

	if cfg.Limits.MaxBodySize == "" {
		cfg.Limits.MaxBodySize = "10mb"
	}
	if cfg.Limits.maxBodyBytes, err = parseBytes(cfg.Limits.MaxBodySize); err != nil {
		return fmt.Errorf("limits.maxBodySize: %w", err)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	return nil
}

func parseDurationDefault(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

// CacheName is the name of the current cache generation.
func (cfg Config) CacheName() string { return cfg.CacheNamePrefix + cfg.Version }

func (cfg Config) APIMatchers() []Matcher       { return cfg.Routes.apiMatchers }
func (cfg Config) ReferenceMatchers() []Matcher { return cfg.Routes.refMatchers }
func (cfg Config) BackoffBase() time.Duration   { return cfg.Queue.backoffBaseDur }
func (cfg Config) MaxServerRetries() int        { return *cfg.Queue.MaxServerRetries }
func (cfg Config) MaxTransportAttempts() int    { return *cfg.Queue.MaxTransportAttempts }
func (cfg Config) FetchTimeout() time.Duration  { return cfg.Fetch.timeoutDur }
func (cfg Config) ProbeEvery() time.Duration    { return cfg.Connectivity.probeEveryDur }
func (cfg Config) MaxBodyBytes() int64          { return cfg.Limits.maxBodyBytes }
func (cfg Config) SkipWaiting() bool            { return cfg.Lifecycle.SkipWaiting != nil && *cfg.Lifecycle.SkipWaiting }
