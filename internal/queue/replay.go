package queue

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/connectivity"
	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/obs"
)

type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Policy bounds how often a record is retried.
//
// A record rejected by the server is kept while its retry count is at most
// MaxServerRetries. A record that fails in transport is dropped once its
// retry count reaches MaxTransportAttempts; until then it waits
// BackoffBase * 2^(retryCount-1) before the next attempt.
type Policy struct {
	MaxServerRetries     int
	MaxTransportAttempts int
	BackoffBase          time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxServerRetries: 3, MaxTransportAttempts: 5, BackoffBase: 2 * time.Second}
}

// Backoff is the delay after the retries-th transport failure.
func (p Policy) Backoff(retries int) time.Duration {
	if retries < 1 {
		retries = 1
	}
	shift := retries - 1
	if shift > 30 {
		shift = 30
	}
	return p.BackoffBase << shift
}

// Result summarizes one replay pass.
type Result struct {
	Attempted int
	Delivered int
	Retrying  int
	Dropped   int
	// Skipped records were still inside their backoff window.
	Skipped int
	// NextRetry is the earliest backoff deadline among the records left
	// waiting, zero when none is waiting.
	NextRetry time.Time
}

func (r *Result) due(t time.Time) {
	if r.NextRetry.IsZero() || t.Before(r.NextRetry) {
		r.NextRetry = t
	}
}

type Replayer struct {
	queue   *Queue
	client  Doer
	policy  Policy
	log     zerolog.Logger
	metrics *obs.Metrics

	// one pass at a time; a concurrent trigger waits and then runs its own
	// pass over whatever is left
	mu sync.Mutex
}

func NewReplayer(q *Queue, client Doer, policy Policy) *Replayer {
	return &Replayer{
		queue:   q,
		client:  client,
		policy:  policy,
		log:     q.base.With().Str("component", "replay").Logger(),
		metrics: q.metrics,
	}
}

// Replay walks the queue in insertion order and attempts every eligible
// record once. Records are removed only after a 2xx answer.
func (r *Replayer) Replay(ctx context.Context) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res Result
	records, err := r.queue.store.All(ctx)
	if err != nil {
		return res, err
	}
	if len(records) > 0 {
		r.log.Info().Int("queued", len(records)).Msg("replaying queued requests")
	}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !rec.Eligible(r.queue.now()) {
			res.Skipped++
			res.due(*rec.NextRetry)
			continue
		}
		res.Attempted++
		if err := r.attempt(ctx, rec, &res); err != nil {
			return res, err
		}
	}
	r.queue.refreshDepth(ctx)
	if res.Attempted > 0 {
		r.log.Info().
			Int("delivered", res.Delivered).
			Int("retrying", res.Retrying).
			Int("dropped", res.Dropped).
			Int("skipped", res.Skipped).
			Msg("replay pass finished")
	}
	return res, nil
}

// attempt returns an error only for storage failures and cancellation;
// delivery problems are recorded on the record itself.
func (r *Replayer) attempt(ctx context.Context, rec QueuedRequest, res *Result) error {
	log := r.log.With().Str("id", rec.ID).Str("method", rec.Method).Str("url", rec.URL).Logger()

	req, err := rec.Request(ctx)
	if err != nil {
		// can never be sent
		log.Error().Err(err).Msg("dropping malformed queued request")
		res.Dropped++
		r.metrics.RecordDrop("malformed")
		return r.queue.store.Delete(ctx, rec.ID)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return r.transportFailure(ctx, log, rec, err, res)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := r.queue.store.Delete(ctx, rec.ID); err != nil {
			// delivered but still stored: it will be sent again
			log.Error().Err(err).Msg("failed to remove delivered request")
			return err
		}
		res.Delivered++
		r.metrics.RecordReplay("delivered")
		log.Info().Int("status", resp.StatusCode).Msg("queued request delivered")
		return nil
	}
	return r.serverFailure(ctx, log, rec, resp.StatusCode, res)
}

func (r *Replayer) serverFailure(ctx context.Context, log zerolog.Logger, rec QueuedRequest, status int, res *Result) error {
	rec.RetryCount++
	rec.NextRetry = nil
	r.metrics.RecordReplay("rejected")
	if rec.RetryCount > r.policy.MaxServerRetries {
		log.Error().Int("status", status).Int("retries", rec.RetryCount).Msg("server kept rejecting queued request, dropping it")
		res.Dropped++
		r.metrics.RecordDrop("rejected")
		return r.queue.store.Delete(ctx, rec.ID)
	}
	log.Warn().Int("status", status).Int("retries", rec.RetryCount).Msg("server rejected queued request")
	res.Retrying++
	return r.update(ctx, log, rec)
}

func (r *Replayer) transportFailure(ctx context.Context, log zerolog.Logger, rec QueuedRequest, cause error, res *Result) error {
	rec.RetryCount++
	r.metrics.RecordReplay("unreachable")
	if rec.RetryCount >= r.policy.MaxTransportAttempts {
		log.Error().Err(cause).Int("attempts", rec.RetryCount).Msg("origin unreachable too many times, dropping queued request")
		res.Dropped++
		r.metrics.RecordDrop("unreachable")
		return r.queue.store.Delete(ctx, rec.ID)
	}
	next := r.queue.now().Add(r.policy.Backoff(rec.RetryCount))
	rec.NextRetry = &next
	log.Warn().Err(cause).
		Str("category", connectivity.Classify(cause)).
		Int("attempts", rec.RetryCount).
		Time("next_retry", next).
		Msg("queued request not delivered")
	res.Retrying++
	res.due(next)
	return r.update(ctx, log, rec)
}

func (r *Replayer) update(ctx context.Context, log zerolog.Logger, rec QueuedRequest) error {
	err := r.queue.store.Update(ctx, rec)
	if errors.Is(err, ErrNotFound) {
		log.Debug().Msg("queued request removed during replay")
		return nil
	}
	return err
}
