package cachestore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

var (
	// ErrNotCacheable is returned by Put for responses that must never be
	// stored: anything other than a 200.
	ErrNotCacheable = errors.New("response is not cacheable")
	// ErrRetired is returned by writes to a release that has been retired.
	ErrRetired = errors.New("release retired")
	// ErrInvalidKey is returned for request identities that cannot be keys.
	ErrInvalidKey = errors.New("invalid cache key")
)

// RequestKey returns the identity of a request within a partition. Only GET
// requests have one.
func RequestKey(method, rawURL string) (string, error) {
	if method != http.MethodGet {
		return "", fmt.Errorf("%w: method %s", ErrInvalidKey, method)
	}
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() {
		return "", fmt.Errorf("%w: url %q must be absolute", ErrInvalidKey, rawURL)
	}
	u.Fragment = ""
	return method + " " + u.String(), nil
}

// KeyFor returns the request key of req.
func KeyFor(req *http.Request) (string, error) {
	if req.URL == nil {
		return "", ErrInvalidKey
	}
	return RequestKey(req.Method, req.URL.String())
}

// Snapshot is a stored response.
type Snapshot struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Response builds a fresh *http.Response from the snapshot. Every call gets
// its own body reader.
func (s *Snapshot) Response(req *http.Request) *http.Response {
	header := s.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(s.Body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", s.Status, http.StatusText(s.Status)),
		StatusCode:    s.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(s.Body)),
		ContentLength: int64(len(s.Body)),
		Request:       req,
	}
}

// Capture drains resp into a snapshot and replaces resp.Body with a reader
// over the same bytes, so the caller can both store and return it.
func Capture(resp *http.Response) (*Snapshot, error) {
	var body []byte
	if resp.Body != nil {
		b, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
		body = b
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))

	snapURL := ""
	if resp.Request != nil && resp.Request.URL != nil {
		snapURL = resp.Request.URL.String()
	}
	return &Snapshot{
		URL:      snapURL,
		Status:   resp.StatusCode,
		Header:   storableHeader(resp.Header),
		Body:     body,
		StoredAt: time.Now(),
	}, nil
}

// Synthesize builds a response that never touched the network. An empty
// statusText uses the standard one for status.
func Synthesize(req *http.Request, status int, statusText, body string) *http.Response {
	snap := &Snapshot{Status: status, Body: []byte(body), Header: http.Header{}}
	if body != "" {
		snap.Header.Set("Content-Type", "text/plain; charset=utf-8")
	}
	resp := snap.Response(req)
	if statusText != "" {
		resp.Status = fmt.Sprintf("%d %s", status, statusText)
	}
	return resp
}

// storableHeader drops headers that describe the original transfer rather
// than the representation.
func storableHeader(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		return http.Header{}
	}
	for _, k := range []string{"Connection", "Keep-Alive", "Transfer-Encoding", "Set-Cookie", "Content-Length"} {
		out.Del(k)
	}
	return out
}
