package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry       *prometheus.Registry
	resolutions    *prometheus.CounterVec
	fetchErrors    *prometheus.CounterVec
	enqueued       prometheus.Counter
	replayAttempts *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	queueDepth     prometheus.Gauge
	online         prometheus.Gauge
	evictions      prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	resolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_resolutions_total",
		Help: "Requests resolved by the edge, by strategy and outcome",
	}, []string{"strategy", "outcome"})

	fetchErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_fetch_errors_total",
		Help: "Transport failures talking to the origin",
	}, []string{"category"})

	enqueued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "edge_queue_enqueued_total",
		Help: "Mutating requests diverted into the offline queue",
	})

	replayAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_replay_attempts_total",
		Help: "Replay attempts of queued requests, by result",
	}, []string{"result"})

	dropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_queue_dropped_total",
		Help: "Queued requests dropped after exhausting retries",
	}, []string{"reason"})

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "edge_queue_depth",
		Help: "Queued requests awaiting replay",
	})

	online := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "edge_online",
		Help: "1 when the origin is reachable",
	})

	evictions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "edge_cache_generations_evicted_total",
		Help: "Stale cache generations deleted on activation",
	})

	registry.MustRegister(resolutions, fetchErrors, enqueued, replayAttempts, dropped, queueDepth, online, evictions)
	// process RSS, open fds and Go runtime stats
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	return &Metrics{
		registry:       registry,
		resolutions:    resolutions,
		fetchErrors:    fetchErrors,
		enqueued:       enqueued,
		replayAttempts: replayAttempts,
		dropped:        dropped,
		queueDepth:     queueDepth,
		online:         online,
		evictions:      evictions,
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordResolution(strategy, outcome string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(strategy, outcome).Inc()
}

func (m *Metrics) RecordFetchError(category string) {
	if m == nil {
		return
	}
	m.fetchErrors.WithLabelValues(category).Inc()
}

func (m *Metrics) RecordEnqueue() {
	if m == nil {
		return
	}
	m.enqueued.Inc()
}

func (m *Metrics) RecordReplay(result string) {
	if m == nil {
		return
	}
	m.replayAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordDrop(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	v := 0.0
	if online {
		v = 1
	}
	m.online.Set(v)
}

func (m *Metrics) RecordEviction() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}
