// Package edge is the interception point between the application and its
// origin: it picks a caching strategy per request, queues writes while the
// origin is unreachable and drives the install/activate lifecycle.
package edge

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/cachestore"
	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/config"
	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/connectivity"
	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/obs"
	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/queue"
)

const backgroundLimit = 32

// Deps are the collaborators a Service needs. The caller owns the stores
// and closes them after Service.Close.
type Deps struct {
	Caches  cachestore.Storage
	Queue   queue.Store
	Client  Doer // defaults to an http.Client with the configured fetch timeout
	Logger  zerolog.Logger
	Metrics *obs.Metrics
	Now     func() time.Time
}

type Service struct {
	cfg     config.Config
	log     zerolog.Logger
	metrics *obs.Metrics

	dispatcher *Dispatcher
	lifecycle  *Lifecycle
	monitor    *connectivity.Monitor
	queue      *queue.Queue
	replayer   *queue.Replayer
	caches     *CacheController
	messages   *messageHandler

	router    Router
	resolvers map[Strategy]Resolver
	fetch     *origin

	bg  *background
	now func() time.Time

	retryMu sync.Mutex
	retryAt time.Time
}

func NewService(cfg config.Config, deps Deps) (*Service, error) {
	if deps.Caches == nil || deps.Queue == nil {
		return nil, errors.New("edge: cache and queue storage are required")
	}
	client := deps.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.FetchTimeout()}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	base := deps.Logger
	originURL := strings.TrimRight(cfg.Server.Origin, "/")

	s := &Service{
		cfg:        cfg,
		log:        base.With().Str("component", "edge").Logger(),
		metrics:    deps.Metrics,
		dispatcher: NewDispatcher(),
		bg:         newBackground(backgroundLimit),
		now:        now,
	}
	s.lifecycle = NewLifecycle(s.dispatcher, base)
	s.monitor = connectivity.NewMonitor(connectivity.Config{
		Probe:     connectivity.HTTPProbe(client, originURL+cfg.Connectivity.ProbePath),
		OnChange:  deps.Metrics.SetOnline,
		OnRecover: s.onRecover,
		Logger:    base,
	})
	s.fetch = &origin{
		client:  client,
		monitor: s.monitor,
		metrics: deps.Metrics,
		warn:    obs.NewRateLimitedLogger(s.log, time.Minute),
	}
	s.queue = queue.New(deps.Queue,
		queue.WithLogger(base),
		queue.WithMetrics(deps.Metrics),
		queue.WithClock(now),
	)
	s.replayer = queue.NewReplayer(s.queue, observedClient{client: client, monitor: s.monitor}, queue.Policy{
		MaxServerRetries:     cfg.MaxServerRetries(),
		MaxTransportAttempts: cfg.MaxTransportAttempts(),
		BackoffBase:          cfg.BackoffBase(),
	})
	s.caches = &CacheController{
		storage: deps.Caches,
		name:    cfg.CacheName(),
		origin:  originURL,
		shell:   cfg.Shell.Paths,
		fetch:   s.fetch,
		log:     base.With().Str("component", "cache").Logger(),
		metrics: deps.Metrics,
		now:     now,
	}
	s.messages = &messageHandler{lifecycle: s.lifecycle, monitor: s.monitor, queue: s.queue}

	s.router = NewRouter(cfg.Shell.Paths, cfg.APIMatchers(), cfg.ReferenceMatchers())
	s.resolvers = map[Strategy]Resolver{
		StrategyCacheFirst: s.caches,
		StrategyNetworkFirstQueue: &NetworkFirst{
			caches: s.caches, fetch: s.fetch, queue: s.queue,
			offlinePage: cfg.Shell.OfflineFallback, log: s.log,
		},
		StrategyStaleWhileRevalidate: &StaleWhileRevalidate{
			caches: s.caches, fetch: s.fetch, bg: s.bg,
			timeout: cfg.FetchTimeout(), log: s.log,
		},
		StrategyNetworkFirst: &NetworkFirst{
			caches: s.caches, fetch: s.fetch,
			offlinePage: cfg.Shell.OfflineFallback, log: s.log,
		},
	}

	s.dispatcher.On(EventInstall, s.onInstall)
	s.dispatcher.On(EventActivate, s.onActivate)
	s.dispatcher.On(EventSync, s.onSync)
	s.dispatcher.On(EventMessage, s.messages.handle)
	return s, nil
}

// Start installs the edge, starts the connectivity probe and replays
// anything left queued by a previous run.
func (s *Service) Start(ctx context.Context) error {
	s.metrics.SetOnline(s.monitor.Online())
	if err := s.lifecycle.Install(ctx); err != nil {
		return err
	}
	if every := s.cfg.ProbeEvery(); every > 0 {
		s.bg.Spawn(func(ctx context.Context) { s.monitor.Run(ctx, every) })
	}
	if n, err := s.queue.Len(ctx); err == nil && n > 0 {
		s.log.Info().Int("queued", n).Msg("queued requests from a previous run")
		s.triggerSync()
	}
	return nil
}

// Close stops background work. Stores stay open.
func (s *Service) Close() {
	s.bg.stop()
}

func (s *Service) Dispatcher() *Dispatcher           { return s.dispatcher }
func (s *Service) Lifecycle() *Lifecycle             { return s.lifecycle }
func (s *Service) Monitor() *connectivity.Monitor    { return s.monitor }
func (s *Service) Queue() *queue.Queue               { return s.queue }
func (s *Service) CacheController() *CacheController { return s.caches }

// PostMessage delivers a control message and returns its reply, if any.
func (s *Service) PostMessage(ctx context.Context, msg Message) (any, error) {
	var reply any
	err := s.dispatcher.Dispatch(ctx, Event{
		Type:    EventMessage,
		Message: msg,
		Reply:   func(v any) error { reply = v; return nil },
	})
	return reply, err
}

func (s *Service) Status(ctx context.Context) (OfflineStatus, error) {
	return s.messages.status(ctx)
}

// Sync delivers a background-sync signal. Only the configured tag replays
// the queue; other tags are ignored.
func (s *Service) Sync(ctx context.Context, tag string) error {
	return s.dispatcher.Dispatch(ctx, Event{Type: EventSync, Tag: tag})
}

func (s *Service) onInstall(ctx context.Context, _ Event) error {
	if _, err := s.caches.Install(ctx); err != nil {
		return err
	}
	if s.cfg.SkipWaiting() {
		return s.lifecycle.SkipWaiting(ctx)
	}
	return nil
}

func (s *Service) onActivate(ctx context.Context, _ Event) error {
	s.caches.Activate(ctx)
	s.lifecycle.Claim()
	return nil
}

func (s *Service) onSync(ctx context.Context, ev Event) error {
	if ev.Tag != s.cfg.Queue.SyncTag {
		s.log.Debug().Str("tag", ev.Tag).Msg("ignoring sync for unknown tag")
		return nil
	}
	res, err := s.replayer.Replay(ctx)
	if !res.NextRetry.IsZero() {
		s.scheduleSync(res.NextRetry)
	}
	return err
}

// scheduleSync arranges one more pass once the earliest backoff ends, so a
// record whose window outlasts the recovery pass is not left waiting for the
// next outage.
func (s *Service) scheduleSync(at time.Time) {
	s.retryMu.Lock()
	if !s.retryAt.IsZero() && !at.Before(s.retryAt) {
		s.retryMu.Unlock()
		return
	}
	s.retryAt = at
	s.retryMu.Unlock()

	delay := at.Sub(s.now())
	s.bg.Spawn(func(ctx context.Context) {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		s.retryMu.Lock()
		if s.retryAt.Equal(at) {
			s.retryAt = time.Time{}
		}
		s.retryMu.Unlock()
		if err := s.Sync(ctx, s.cfg.Queue.SyncTag); err != nil && ctx.Err() == nil {
			s.log.Error().Err(err).Msg("scheduled replay failed")
		}
	})
}

func (s *Service) onRecover() { s.triggerSync() }

func (s *Service) triggerSync() {
	s.bg.Spawn(func(ctx context.Context) {
		if err := s.Sync(ctx, s.cfg.Queue.SyncTag); err != nil && ctx.Err() == nil {
			s.log.Error().Err(err).Msg("replay failed")
		}
	})
}

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, s.cfg.MaxBodyBytes())
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			setEdgeHeaders(w.Header(), "too-large")
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	req, err := newRequest(r, s.cfg.Server.Origin, body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if !s.lifecycle.Controlling() {
		res, err := s.fetch.fetch(r.Context(), req)
		if err != nil {
			s.badGateway(w)
			return
		}
		writeResponse(w, res, string(OutcomePassthrough), s.log)
		return
	}

	strategy := s.router.Classify(r.Method, r.URL.Path)
	res, outcome, err := s.resolvers[strategy].Resolve(r.Context(), req)
	if err != nil {
		s.metrics.RecordResolution(strategy.String(), "error")
		s.badGateway(w)
		return
	}
	s.metrics.RecordResolution(strategy.String(), string(outcome))
	writeResponse(w, res, string(outcome), s.log)
}

func (s *Service) badGateway(w http.ResponseWriter) {
	setEdgeHeaders(w.Header(), "bad-gateway")
	http.Error(w, "bad gateway", http.StatusBadGateway)
}

func readBody(w http.ResponseWriter, r *http.Request, max int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	var rd io.Reader = r.Body
	if max > 0 {
		rd = http.MaxBytesReader(w, r.Body, max)
	}
	return io.ReadAll(rd)
}
