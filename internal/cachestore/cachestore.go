// Package cachestore keeps named, versioned collections of HTTP responses
// ("cache generations"). Only safe requests are stored; entries are keyed by
// request identity.
package cachestore

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"
)

var ErrNotFound = errors.New("cachestore: not found")

// Storage manages the set of generations.
//
// Implementations must be safe for concurrent use.
type Storage interface {
	// Open returns the generation with the given name, creating it if needed.
	Open(name string) (Cache, error)
	// Has reports whether a generation exists.
	Has(name string) (bool, error)
	// Names lists existing generations in lexical order.
	Names() ([]string, error)
	// Delete removes a generation and all of its entries.
	// It reports whether the generation existed.
	Delete(name string) (bool, error)
	Close() error
}

// Cache is one generation.
type Cache interface {
	Name() string
	// Match returns the entry stored for identity. ok is false on a miss.
	Match(identity string) (ent Entry, ok bool, err error)
	Put(identity string, ent Entry) error
	Delete(identity string) error
	Keys() ([]string, error)
}

type Entry struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt int64 // unix seconds
}

// Identity is the key a request is cached under.
func Identity(r *http.Request) string {
	return r.Method + " " + r.URL.String()
}

// EntryFromResponse buffers res.Body into an entry and rewinds res.Body so
// the response can still be handed to a caller.
func EntryFromResponse(res *http.Response, now time.Time) (Entry, error) {
	var body []byte
	if res.Body != nil {
		b, err := io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			return Entry{}, err
		}
		body = b
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	ent := Entry{
		Status:   res.StatusCode,
		Header:   res.Header.Clone(),
		Body:     body,
		StoredAt: now.Unix(),
	}
	if ent.Header == nil {
		ent.Header = make(http.Header)
	}
	ent.Header.Del("Content-Length")
	return ent, nil
}

// Response materializes the entry as a fresh response for req.
func (e Entry) Response(req *http.Request) *http.Response {
	h := e.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	h.Set("Content-Length", strconv.Itoa(len(e.Body)))
	return &http.Response{
		Status:        strconv.Itoa(e.Status) + " " + http.StatusText(e.Status),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}
