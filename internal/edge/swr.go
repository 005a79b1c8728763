package edge

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// StaleWhileRevalidate answers reference-data reads from the cache at once
// and refreshes the entry in the background.
type StaleWhileRevalidate struct {
	caches  *CacheController
	fetch   *origin
	bg      *background
	timeout time.Duration
	log     zerolog.Logger
}

func (s *StaleWhileRevalidate) Resolve(ctx context.Context, req *Request) (*http.Response, Outcome, error) {
	if res, ok := s.caches.lookup(req); ok {
		s.revalidateAsync(req)
		return res, OutcomeStale, nil
	}
	res, err := s.fetch.fetch(ctx, req)
	if err != nil {
		return nil, "", err
	}
	s.caches.store(req, res)
	return res, OutcomeMiss, nil
}

// revalidateAsync refreshes the entry unless the background pool is
// saturated. A failed refresh leaves the cached entry untouched.
func (s *StaleWhileRevalidate) revalidateAsync(req *Request) {
	key := req.Identity()
	ok := s.bg.Go(s.timeout, func(ctx context.Context) {
		res, err := s.fetch.fetch(ctx, req)
		if err != nil {
			s.log.Debug().Err(err).Str("key", key).Msg("refresh failed, keeping cached entry")
			return
		}
		defer res.Body.Close()
		if !isSuccess(res.StatusCode) {
			_, _ = io.Copy(io.Discard, res.Body)
			s.log.Debug().Int("status", res.StatusCode).Str("key", key).Msg("refresh rejected, keeping cached entry")
			return
		}
		s.caches.store(req, res)
	})
	if !ok {
		s.log.Debug().Str("key", key).Msg("refresh skipped, background pool busy")
	}
}
