// Package queue persists mutating requests that could not reach the origin
// and replays them once it is reachable again.
package queue

import (
	"bytes"
	"context"
	"encoding/base32"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// QueuedRequest is a mutating request waiting to be delivered.
type QueuedRequest struct {
	ID         string     `json:"id"`
	URL        string     `json:"url"`
	Method     string     `json:"method"`
	Headers    []Header   `json:"headers"`
	Body       []byte     `json:"body,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
	RetryCount int        `json:"retryCount"`
	NextRetry  *time.Time `json:"nextRetry,omitempty"`
}

// Eligible reports whether the record may be attempted at now.
func (q QueuedRequest) Eligible(now time.Time) bool {
	return q.NextRetry == nil || !q.NextRetry.After(now)
}

// Request rebuilds the stored request.
func (q QueuedRequest) Request(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if q.Body != nil {
		body = bytes.NewReader(q.Body)
	}
	req, err := http.NewRequestWithContext(ctx, q.Method, q.URL, body)
	if err != nil {
		return nil, fmt.Errorf("queued request %s: %w", q.ID, err)
	}
	for _, h := range q.Headers {
		req.Header.Add(h.Name, h.Value)
	}
	return req, nil
}

// IsMutating reports whether requests with method change server state.
func IsMutating(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

var idEncoding = base32.NewEncoding("0123456789abcdefghijklmnopqrstuv").WithPadding(base32.NoPadding)

// GenerateID returns "<19-digit unix nanos>-<8 random chars>". IDs from
// increasing instants sort in the same order as strings.
func GenerateID(now time.Time, random io.Reader) (string, error) {
	var b [5]byte
	if _, err := io.ReadFull(random, b[:]); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return fmt.Sprintf("%019d-%s", now.UnixNano(), idEncoding.EncodeToString(b[:])), nil
}

// captureHeaders flattens h in a stable order, dropping headers the
// transport recomputes on replay.
func captureHeaders(h http.Header) []Header {
	var out []Header
	for _, name := range sortedKeys(h) {
		if skipHeader(name) {
			continue
		}
		for _, v := range h[name] {
			out = append(out, Header{Name: name, Value: v})
		}
	}
	return out
}

func skipHeader(name string) bool {
	switch http.CanonicalHeaderKey(name) {
	case "Host", "Content-Length", "Connection", "Transfer-Encoding", "Keep-Alive", "Te", "Trailer", "Upgrade", "Proxy-Connection":
		return true
	}
	return false
}

func sortedKeys(h http.Header) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func captureBody(method string, body []byte) []byte {
	if strings.EqualFold(method, http.MethodGet) || len(body) == 0 {
		return nil
	}
	return append([]byte(nil), body...)
}
