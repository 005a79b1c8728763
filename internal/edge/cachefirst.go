package edge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/cachestore"
	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/obs"
)

// CacheController owns the cache generations: it pre-warms the application
// shell into the current generation and evicts every other generation on
// activation.
type CacheController struct {
	storage cachestore.Storage
	name    string
	origin  string
	shell   []string
	fetch   *origin
	log     zerolog.Logger
	metrics *obs.Metrics
	now     func() time.Time

	mu      sync.Mutex
	current cachestore.Cache
}

type InstallResult struct {
	Stored int
	Failed []string
}

// Current returns the current generation, creating it on first use.
func (c *CacheController) Current() (cachestore.Cache, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		return c.current, nil
	}
	cache, err := c.storage.Open(c.name)
	if err != nil {
		return nil, fmt.Errorf("open cache generation %s: %w", c.name, err)
	}
	c.current = cache
	return cache, nil
}

func (c *CacheController) Name() string { return c.name }

func (c *CacheController) IsShell(path string) bool {
	for _, p := range c.shell {
		if p == path {
			return true
		}
	}
	return false
}

// Install fetches every shell path into the current generation. A path that
// cannot be fetched is logged and skipped; only failing to open the
// generation is an error.
func (c *CacheController) Install(ctx context.Context) (InstallResult, error) {
	var res InstallResult
	cache, err := c.Current()
	if err != nil {
		return res, err
	}
	for _, p := range c.shell {
		if err := c.installOne(ctx, cache, p); err != nil {
			c.log.Warn().Err(err).Str("path", p).Msg("shell path not cached")
			res.Failed = append(res.Failed, p)
			continue
		}
		res.Stored++
	}
	c.log.Info().Str("cache", c.name).Int("stored", res.Stored).Int("failed", len(res.Failed)).Msg("shell installed")
	return res, nil
}

func (c *CacheController) installOne(ctx context.Context, cache cachestore.Cache, path string) error {
	req, err := c.shellRequest(path)
	if err != nil {
		return err
	}
	res, err := c.fetch.fetch(ctx, req)
	if err != nil {
		return err
	}
	if !isSuccess(res.StatusCode) {
		_, _ = io.Copy(io.Discard, res.Body)
		res.Body.Close()
		return fmt.Errorf("origin answered %d", res.StatusCode)
	}
	ent, err := cachestore.EntryFromResponse(res, c.now())
	if err != nil {
		return err
	}
	return cache.Put(req.Identity(), ent)
}

func (c *CacheController) shellRequest(path string) (*Request, error) {
	in, err := http.NewRequest(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return newRequest(in, c.origin, nil)
}

// Resolve serves a shell path from the cache, falling back to a live fetch
// that is not stored: the shell only changes on reinstall.
func (c *CacheController) Resolve(ctx context.Context, req *Request) (*http.Response, Outcome, error) {
	if res, ok := c.lookup(req); ok {
		return res, OutcomeHit, nil
	}
	res, err := c.fetch.fetch(ctx, req)
	if err != nil {
		return nil, "", err
	}
	return res, OutcomeNetwork, nil
}

func (c *CacheController) lookup(req *Request) (*http.Response, bool) {
	cache, err := c.Current()
	if err != nil {
		c.log.Error().Err(err).Msg("cache unavailable")
		return nil, false
	}
	ent, ok, err := cache.Match(req.Identity())
	if err != nil {
		c.log.Error().Err(err).Str("key", req.Identity()).Msg("cache read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	out, err := req.Outbound(context.Background())
	if err != nil {
		return nil, false
	}
	return ent.Response(out), true
}

// offlinePage returns the cached fallback page for a failed navigation.
func (c *CacheController) offlinePage(req *Request, page string) (*http.Response, bool) {
	if page == "" || req.Method != http.MethodGet || !req.wantsHTML() {
		return nil, false
	}
	pr, err := c.shellRequest(page)
	if err != nil {
		return nil, false
	}
	return c.lookup(pr)
}

// store writes a successful GET response into the current generation.
func (c *CacheController) store(req *Request, res *http.Response) {
	if req.Method != http.MethodGet || !isSuccess(res.StatusCode) || noStore(res) {
		return
	}
	cache, err := c.Current()
	if err != nil {
		c.log.Error().Err(err).Msg("cache unavailable")
		return
	}
	ent, err := cachestore.EntryFromResponse(res, c.now())
	if err != nil {
		c.log.Warn().Err(err).Str("key", req.Identity()).Msg("failed to buffer response")
		return
	}
	if err := cache.Put(req.Identity(), ent); err != nil {
		c.log.Error().Err(err).Str("key", req.Identity()).Msg("cache write failed")
	}
}

func noStore(res *http.Response) bool {
	return strings.Contains(strings.ToLower(res.Header.Get("Cache-Control")), "no-store")
}

// Activate deletes every generation other than the current one. Failures
// are logged; activation always completes.
func (c *CacheController) Activate(ctx context.Context) int {
	names, err := c.storage.Names()
	if err != nil {
		c.log.Error().Err(err).Msg("listing cache generations failed")
		return 0
	}
	evicted := 0
	for _, name := range names {
		if name == c.name || ctx.Err() != nil {
			continue
		}
		if _, err := c.storage.Delete(name); err != nil {
			c.log.Error().Err(err).Str("cache", name).Msg("failed to delete stale cache generation")
			continue
		}
		evicted++
		c.metrics.RecordEviction()
		c.log.Info().Str("cache", name).Msg("stale cache generation deleted")
	}
	return evicted
}
