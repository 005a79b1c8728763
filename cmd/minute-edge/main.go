package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/cachestore"
	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/config"
	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/queue"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "minute-edge",
	Short: "Offline-first edge for the MINUTE HR app",
	Long: "minute-edge sits between the MINUTE HR web app and its backend. It serves the app shell\n" +
		"from cache, queues writes while the backend is unreachable and replays them once it is back.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config",
		getenvDefault("MINUTE_EDGE_CONFIG", "/minute-edge.yaml"), "path to minute-edge.yaml")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config %s: %w", configPath, err)
	}
	return cfg, nil
}

// openStores opens the cache and queue databases. They live in separate
// directories so evicting cache generations can never touch queued writes.
func openStores(cfg config.Config) (cachestore.Storage, queue.Store, error) {
	if err := os.MkdirAll(cfg.Storage.Dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create storage dir: %w", err)
	}

	var caches cachestore.Storage
	switch cfg.Storage.Cache {
	case config.CacheBackendMemory:
		caches = cachestore.NewMemory()
	default:
		ldb, err := cachestore.OpenLevelDB(filepath.Join(cfg.Storage.Dir, "cache"))
		if err != nil {
			return nil, nil, fmt.Errorf("open cache store: %w", err)
		}
		caches = ldb
	}

	var (
		store queue.Store
		err   error
	)
	switch cfg.Storage.QueueBackend {
	case config.QueueBackendSQLite:
		store, err = queue.OpenSQLiteStore(filepath.Join(cfg.Storage.Dir, "queue.db"))
	default:
		store, err = queue.OpenLevelDBStore(filepath.Join(cfg.Storage.Dir, "queue"))
	}
	if err != nil {
		caches.Close()
		return nil, nil, err
	}
	return caches, store, nil
}

func getenvDefault(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}
