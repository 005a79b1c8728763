package edge

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/connectivity"
	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/obs"
)

const (
	headerEdge    = "X-Minute-Edge"
	headerQueueID = "X-Minute-Edge-Queue-Id"
)

type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Request is an intercepted request rewritten to target the origin. The
// body is buffered so the request can be sent, cached and queued.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

func newRequest(in *http.Request, origin string, body []byte) (*Request, error) {
	u, err := url.Parse(strings.TrimRight(origin, "/") + in.URL.RequestURI())
	if err != nil {
		return nil, err
	}
	h := make(http.Header, len(in.Header))
	copyHeaders(h, in.Header)
	h.Set("Accept-Encoding", "identity")
	return &Request{Method: in.Method, URL: u, Header: h, Body: body}, nil
}

// Outbound builds a fresh *http.Request; every call gets its own body reader.
func (r *Request) Outbound(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header = r.Header.Clone()
	return req, nil
}

// Identity is the cache key of the request.
func (r *Request) Identity() string { return r.Method + " " + r.URL.String() }

func (r *Request) wantsHTML() bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// hop-by-hop headers are never forwarded
var hopHeaders = map[string]bool{
	"Host":                true,
	"Connection":          true,
	"Proxy-Connection":    true,
	"Keep-Alive":          true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Proxy-Authorization": true,
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if hopHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

// origin performs live fetches and feeds their outcome to the connectivity
// monitor and metrics.
type origin struct {
	client  Doer
	monitor *connectivity.Monitor
	metrics *obs.Metrics
	warn    *obs.RateLimitedLogger
}

func (o *origin) fetch(ctx context.Context, req *Request) (*http.Response, error) {
	out, err := req.Outbound(ctx)
	if err != nil {
		return nil, err
	}
	res, err := o.client.Do(out)
	if err != nil {
		if ctx.Err() == nil {
			category := connectivity.Classify(err)
			o.metrics.RecordFetchError(category)
			o.warn.Warn().Err(err).Str("category", category).Str("url", req.URL.String()).Msg("origin fetch failed")
			o.monitor.Observe(err)
		}
		return nil, err
	}
	o.monitor.Observe(nil)
	return res, nil
}

// observedClient reports replay traffic to the monitor so a successful
// replay also counts as proof of connectivity.
type observedClient struct {
	client  Doer
	monitor *connectivity.Monitor
}

func (c observedClient) Do(req *http.Request) (*http.Response, error) {
	res, err := c.client.Do(req)
	if err == nil || req.Context().Err() == nil {
		c.monitor.Observe(err)
	}
	return res, err
}

func isSuccess(status int) bool { return status >= 200 && status < 300 }

func writeResponse(w http.ResponseWriter, res *http.Response, edge string, log zerolog.Logger) {
	defer res.Body.Close()
	h := w.Header()
	copyHeaders(h, res.Header)
	h.Del("Content-Length")
	setEdgeHeaders(h, edge)
	w.WriteHeader(res.StatusCode)
	if _, err := io.Copy(w, res.Body); err != nil {
		log.Debug().Err(err).Msg("client went away while writing response")
	}
}

func setEdgeHeaders(h http.Header, edge string) {
	if edge != "" {
		h.Set(headerEdge, edge)
	}
	ensureExposedHeader(h, headerEdge)
}

// ensureExposedHeader makes a custom header readable from browser JS in a
// CORS context.
func ensureExposedHeader(h http.Header, name string) {
	const expose = "Access-Control-Expose-Headers"
	cur := h.Values(expose)
	if len(cur) == 0 {
		h.Set(expose, name)
		return
	}
	merged := strings.Join(cur, ",")
	for _, part := range strings.Split(merged, ",") {
		if strings.EqualFold(strings.TrimSpace(part), name) {
			return
		}
	}
	h.Set(expose, strings.TrimSpace(merged)+", "+name)
}
