package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/queue"
)

// NetworkFirst always tries the origin first. Successful reads are cached.
// When the origin is unreachable, writes are queued (if a queue is set) and
// reads fall back to the cache.
type NetworkFirst struct {
	caches      *CacheController
	fetch       *origin
	queue       *queue.Queue // nil disables queueing
	offlinePage string
	log         zerolog.Logger
}

type queuedBody struct {
	Success bool   `json:"success"`
	Offline bool   `json:"offline"`
	Message string `json:"message"`
}

const queuedMessage = "Request queued for when online"

func (n *NetworkFirst) Resolve(ctx context.Context, req *Request) (*http.Response, Outcome, error) {
	res, err := n.fetch.fetch(ctx, req)
	if err == nil {
		n.caches.store(req, res)
		return res, OutcomeNetwork, nil
	}
	if ctx.Err() != nil {
		return nil, "", err
	}

	if queue.IsMutating(req.Method) {
		if n.queue == nil {
			return nil, "", err
		}
		return n.enqueue(ctx, req, err)
	}

	if res, ok := n.caches.lookup(req); ok {
		return res, OutcomeFallback, nil
	}
	if res, ok := n.caches.offlinePage(req, n.offlinePage); ok {
		return res, OutcomeOfflinePage, nil
	}
	return nil, "", err
}

// enqueue persists the request and answers with a synthetic acknowledgement.
// If the request cannot be persisted the caller sees the original failure.
func (n *NetworkFirst) enqueue(ctx context.Context, req *Request, cause error) (*http.Response, Outcome, error) {
	// the client may hang up; the write must still land
	ctx = context.WithoutCancel(ctx)
	out, err := req.Outbound(ctx)
	if err != nil {
		return nil, "", cause
	}
	rec, err := n.queue.Enqueue(ctx, out, req.Body)
	if err != nil {
		n.log.Error().Err(err).Str("method", req.Method).Str("url", req.URL.String()).Msg("failed to queue request")
		return nil, "", cause
	}
	return queuedResponse(out, rec.ID), OutcomeQueued, nil
}

func queuedResponse(req *http.Request, id string) *http.Response {
	body, _ := json.Marshal(queuedBody{Success: true, Offline: true, Message: queuedMessage})
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set(headerQueueID, id)
	ensureExposedHeader(h, headerQueueID)
	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
