package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/cachestore"
	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/config"
	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/queue"
)

func writeConfig(t *testing.T, backend string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "minute-edge.yaml")
	yaml := "server:\n  origin: http://origin.test\nstorage:\n  dir: " + filepath.Join(dir, "data") +
		"\n  queueBackend: " + backend + "\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out.String()
}

func TestInspectCommands(t *testing.T) {
	for _, backend := range []string{config.QueueBackendLevelDB, config.QueueBackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			path := writeConfig(t, backend)
			configPath = path
			cfg, err := loadConfig()
			if err != nil {
				t.Fatal(err)
			}

			caches, store, err := openStores(cfg)
			if err != nil {
				t.Fatal(err)
			}
			req := httptest.NewRequest("POST", "http://origin.test/api/absence/requests", strings.NewReader(`{}`))
			if _, err := queue.New(store).Enqueue(context.Background(), req, []byte(`{}`)); err != nil {
				t.Fatal(err)
			}
			gen, _ := caches.Open(cfg.CacheName())
			gen.Put("GET http://origin.test/", cachestore.Entry{Status: 200, Body: []byte("<app>")})
			caches.Open("minute-hr-v0")
			store.Close()
			caches.Close()

			out := run(t, "--config", path, "queue", "ls")
			if !strings.Contains(out, "POST") || !strings.Contains(out, "http://origin.test/api/absence/requests") {
				t.Fatalf("queue ls:\n%s", out)
			}

			out = run(t, "--config", path, "cache", "ls", "--keys")
			if !strings.Contains(out, "minute-hr-v1 (current): 1 entries") ||
				!strings.Contains(out, "minute-hr-v0: 0 entries") ||
				!strings.Contains(out, "GET http://origin.test/") {
				t.Fatalf("cache ls:\n%s", out)
			}
		})
	}
}
