package queue

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/obs"
)

var ErrNotMutating = errors.New("only mutating requests can be queued")

type Queue struct {
	store   Store
	base    zerolog.Logger
	log     zerolog.Logger
	metrics *obs.Metrics
	now     func() time.Time
	random  io.Reader

	clockMu sync.Mutex
	last    time.Time
}

type Option func(*Queue)

func WithClock(now func() time.Time) Option { return func(q *Queue) { q.now = now } }

func WithRandom(r io.Reader) Option { return func(q *Queue) { q.random = r } }

func WithLogger(l zerolog.Logger) Option {
	return func(q *Queue) { q.base = l }
}

func WithMetrics(m *obs.Metrics) Option { return func(q *Queue) { q.metrics = m } }

func New(store Store, opts ...Option) *Queue {
	q := &Queue{
		store:  store,
		base:   zerolog.Nop(),
		now:    time.Now,
		random: rand.Reader,
	}
	for _, o := range opts {
		o(q)
	}
	q.log = q.base.With().Str("component", "queue").Logger()
	return q
}

// stamp returns a strictly increasing time so that timestamp order equals
// insertion order even when the wall clock stalls or steps back.
func (q *Queue) stamp() time.Time {
	q.clockMu.Lock()
	defer q.clockMu.Unlock()
	now := q.now().Round(0)
	if !now.After(q.last) {
		now = q.last.Add(time.Nanosecond)
	}
	q.last = now
	return now
}

// Enqueue persists req for later delivery. It returns only after the record
// is durable.
func (q *Queue) Enqueue(ctx context.Context, req *http.Request, body []byte) (QueuedRequest, error) {
	if !IsMutating(req.Method) {
		return QueuedRequest{}, fmt.Errorf("%w: %s", ErrNotMutating, req.Method)
	}
	ts := q.stamp()
	id, err := GenerateID(ts, q.random)
	if err != nil {
		return QueuedRequest{}, err
	}
	rec := QueuedRequest{
		ID:        id,
		URL:       req.URL.String(),
		Method:    req.Method,
		Headers:   captureHeaders(req.Header),
		Body:      captureBody(req.Method, body),
		Timestamp: ts,
	}
	if err := q.store.Put(ctx, rec); err != nil {
		return QueuedRequest{}, fmt.Errorf("enqueue %s %s: %w", rec.Method, rec.URL, err)
	}
	q.metrics.RecordEnqueue()
	q.refreshDepth(ctx)
	q.log.Info().Str("id", rec.ID).Str("method", rec.Method).Str("url", rec.URL).Msg("request queued")
	return rec, nil
}

func (q *Queue) Len(ctx context.Context) (int, error) { return q.store.Count(ctx) }

func (q *Queue) HasPending(ctx context.Context) (bool, error) {
	n, err := q.store.Count(ctx)
	return n > 0, err
}

// List returns the queued records in insertion order.
func (q *Queue) List(ctx context.Context) ([]QueuedRequest, error) { return q.store.All(ctx) }

func (q *Queue) refreshDepth(ctx context.Context) {
	if q.metrics == nil {
		return
	}
	if n, err := q.store.Count(ctx); err == nil {
		q.metrics.SetQueueDepth(n)
	}
}
