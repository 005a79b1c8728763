package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  origin: https://hr.example.com/\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Origin != "https://hr.example.com" {
		t.Fatalf("origin not trimmed: %q", cfg.Server.Origin)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
	if cfg.CacheName() != "minute-hr-v1" {
		t.Fatalf("cache name = %q", cfg.CacheName())
	}
	if cfg.Queue.SyncTag != "offline-sync" {
		t.Fatalf("sync tag = %q", cfg.Queue.SyncTag)
	}
	if cfg.MaxServerRetries() != 3 || cfg.MaxTransportAttempts() != 5 {
		t.Fatalf("retry limits = %d/%d", cfg.MaxServerRetries(), cfg.MaxTransportAttempts())
	}
	if cfg.BackoffBase() != 2*time.Second {
		t.Fatalf("backoff base = %s", cfg.BackoffBase())
	}
	if !cfg.SkipWaiting() {
		t.Fatal("skipWaiting should default to true")
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("log level = %q", cfg.Logging.Level)
	}
	if cfg.MaxBodyBytes() != 10<<20 {
		t.Fatalf("max body = %d", cfg.MaxBodyBytes())
	}
	if !MatchAny(cfg.APIMatchers(), "/api/absence/requests") {
		t.Fatal("api matcher should match /api/absence/requests")
	}
	if !MatchAny(cfg.ReferenceMatchers(), "/rest/v1/users") {
		t.Fatal("reference matcher should match /rest/v1/users")
	}
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"missing origin": "server:\n  port: 9000\n",
		"bad backend":    "server:\n  origin: http://o\nstorage:\n  queueBackend: redis\n",
		"bad duration":   "server:\n  origin: http://o\nqueue:\n  backoffBase: soon\n",
		"bad match":      "server:\n  origin: http://o\nroutes:\n  api: Regex(.*)\n",
		"bad size":       "server:\n  origin: http://o\nlimits:\n  maxBodySize: lots\n",
		"relative shell": "server:\n  origin: http://o\nshell:\n  paths: [index.html]\n",
		"no attempts":    "server:\n  origin: http://o\nqueue:\n  maxTransportAttempts: 0\n",
		"negative retry": "server:\n  origin: http://o\nqueue:\n  maxServerRetries: -1\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); err == nil {
				t.Fatalf("expected error for %q", doc)
			}
		})
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	doc := strings.Join([]string{
		"server:",
		"  origin: http://localhost:3000",
		"  port: 9090",
		"version: v7",
		"lifecycle:",
		"  skipWaiting: false",
		"storage:",
		"  queueBackend: sqlite",
		"queue:",
		"  backoffBase: 500ms",
	}, "\n")
	path := filepath.Join(t.TempDir(), "edge.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.CacheName() != "minute-hr-v7" {
		t.Fatalf("unexpected config %+v", cfg.Server)
	}
	if cfg.SkipWaiting() {
		t.Fatal("skipWaiting should be false")
	}
	if cfg.Storage.QueueBackend != QueueBackendSQLite {
		t.Fatalf("backend = %q", cfg.Storage.QueueBackend)
	}
	if cfg.BackoffBase() != 500*time.Millisecond {
		t.Fatalf("backoff = %s", cfg.BackoffBase())
	}
}

func TestExplicitZeroServerRetries(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  origin: http://o\nqueue:\n  maxServerRetries: 0\n  maxTransportAttempts: 2\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxServerRetries() != 0 || cfg.MaxTransportAttempts() != 2 {
		t.Fatalf("retry limits = %d/%d", cfg.MaxServerRetries(), cfg.MaxTransportAttempts())
	}
}

func TestExampleConfigMatchesDefaults(t *testing.T) {
	example, err := LoadConfig(filepath.Join("..", "..", "minute-edge.example.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	defaults, err := Parse([]byte("server:\n  origin: " + example.Server.Origin + "\n"))
	if err != nil {
		t.Fatal(err)
	}
	if example.Logging != defaults.Logging {
		t.Fatalf("logging = %+v, defaults %+v", example.Logging, defaults.Logging)
	}
	if example.MaxServerRetries() != defaults.MaxServerRetries() ||
		example.MaxTransportAttempts() != defaults.MaxTransportAttempts() ||
		example.BackoffBase() != defaults.BackoffBase() ||
		example.FetchTimeout() != defaults.FetchTimeout() ||
		example.ProbeEvery() != defaults.ProbeEvery() ||
		example.MaxBodyBytes() != defaults.MaxBodyBytes() ||
		example.SkipWaiting() != defaults.SkipWaiting() ||
		example.CacheName() != defaults.CacheName() ||
		example.Server != defaults.Server ||
		example.Storage != defaults.Storage ||
		example.Queue.SyncTag != defaults.Queue.SyncTag ||
		example.Routes.API != defaults.Routes.API ||
		example.Routes.Reference != defaults.Routes.Reference {
		t.Fatal("minute-edge.example.yaml drifted from the defaults")
	}
}

func TestParseMatch(t *testing.T) {
	ms, err := ParseMatch("Path(/) | PathPrefix(/api/) | Contains(/teams)")
	if err != nil {
		t.Fatal(err)
	}
	cases := map[string]bool{
		"/":                  true,
		"/index.html":        false,
		"/api/payroll/runs":  true,
		"/rest/v1/teams?x=1": true,
		"/rest/v1/goals":     false,
	}
	for path, want := range cases {
		if got := MatchAny(ms, path); got != want {
			t.Errorf("MatchAny(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestParseBytes(t *testing.T) {
	cases := map[string]int64{
		"512":    512,
		"64k":    64 << 10,
		"10mb":   10 << 20,
		"1.5 GB": 3 << 29,
		"100b":   100,
	}
	for in, want := range cases {
		got, err := parseBytes(in)
		if err != nil {
			t.Fatalf("parseBytes(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("parseBytes(%q) = %d, want %d", in, got, want)
		}
	}
	for _, bad := range []string{"", "mb", "-3k", "x"} {
		if _, err := parseBytes(bad); err == nil {
			t.Errorf("parseBytes(%q) should fail", bad)
		}
	}
}
