// Package connectivity tracks whether the origin is reachable and signals
// when it becomes reachable again.
package connectivity

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

type Config struct {
	// Probe checks reachability; nil disables the probe loop.
	Probe func(ctx context.Context) error
	// OnChange runs after every transition.
	OnChange func(online bool)
	// OnRecover runs after every offline -> online transition.
	OnRecover func()
	Logger    zerolog.Logger
}

type Monitor struct {
	mu        sync.Mutex
	online    bool
	changedAt time.Time

	probe     func(ctx context.Context) error
	onChange  func(bool)
	onRecover func()
	log       zerolog.Logger
}

// NewMonitor starts in the online state.
func NewMonitor(cfg Config) *Monitor {
	return &Monitor{
		online:    true,
		probe:     cfg.Probe,
		onChange:  cfg.OnChange,
		onRecover: cfg.OnRecover,
		log:       cfg.Logger.With().Str("component", "connectivity").Logger(),
	}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Observe feeds the outcome of a network exchange into the monitor. A nil
// error means the origin answered. Cancellations by the caller say nothing
// about the network and are ignored.
func (m *Monitor) Observe(err error) {
	if err != nil && errors.Is(err, context.Canceled) {
		return
	}
	m.Set(err == nil)
}

// ChangedAt is the time of the last transition, zero if none happened yet.
func (m *Monitor) ChangedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changedAt
}

func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.changedAt = time.Now()
	m.mu.Unlock()

	if online {
		m.log.Info().Msg("origin reachable again")
	} else {
		m.log.Warn().Msg("origin unreachable, going offline")
	}
	if m.onChange != nil {
		m.onChange(online)
	}
	if online && m.onRecover != nil {
		m.onRecover()
	}
}

// Run probes the origin every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, every time.Duration) {
	if m.probe == nil || every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, every)
			err := m.probe(pctx)
			cancel()
			if ctx.Err() != nil {
				return
			}
			m.Observe(err)
		}
	}
}

// HTTPProbe treats any HTTP response from url as reachability.
func HTTPProbe(client Doer, url string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.Body.Close()
	}
}

// Classify names the kind of transport failure for logs and metrics.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return "dial"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return "refused"
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return "reset"
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return "eof"
	}
	return "other"
}
