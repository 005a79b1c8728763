package edge

import (
	"context"
	"net/http"

	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/config"
)

// Outcome says how a request was answered. It is reported in the
// X-Minute-Edge response header and in metrics.
type Outcome string

const (
	OutcomeHit         Outcome = "hit"
	OutcomeMiss        Outcome = "miss"
	OutcomeStale       Outcome = "stale"
	OutcomeNetwork     Outcome = "network"
	OutcomeFallback    Outcome = "fallback"
	OutcomeOfflinePage Outcome = "offline-page"
	OutcomeQueued      Outcome = "queued"
	OutcomePassthrough Outcome = "passthrough"
)

// Resolver answers an intercepted request.
type Resolver interface {
	Resolve(ctx context.Context, req *Request) (*http.Response, Outcome, error)
}

type Strategy int

const (
	StrategyCacheFirst Strategy = iota
	StrategyNetworkFirstQueue
	StrategyStaleWhileRevalidate
	StrategyNetworkFirst
)

func (s Strategy) String() string {
	switch s {
	case StrategyCacheFirst:
		return "cache-first"
	case StrategyNetworkFirstQueue:
		return "network-first-queue"
	case StrategyStaleWhileRevalidate:
		return "stale-while-revalidate"
	case StrategyNetworkFirst:
		return "network-first"
	}
	return "unknown"
}

// Router picks a strategy by path. Buckets are checked in a fixed order:
// shell paths, API root, reference data, everything else.
type Router struct {
	shell map[string]struct{}
	api   []config.Matcher
	ref   []config.Matcher
}

func NewRouter(shell []string, api, ref []config.Matcher) Router {
	rt := Router{shell: make(map[string]struct{}, len(shell)), api: api, ref: ref}
	for _, p := range shell {
		rt.shell[p] = struct{}{}
	}
	return rt
}

func (rt Router) Classify(method, path string) Strategy {
	safe := method == http.MethodGet
	if _, ok := rt.shell[path]; ok && safe {
		return StrategyCacheFirst
	}
	if config.MatchAny(rt.api, path) {
		return StrategyNetworkFirstQueue
	}
	if config.MatchAny(rt.ref, path) && safe {
		return StrategyStaleWhileRevalidate
	}
	return StrategyNetworkFirst
}
