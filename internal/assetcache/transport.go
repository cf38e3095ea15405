package assetcache

import (
	"bufio"
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"strings"
)

// transport applies the network-first, cache-fallback fetch policy to
// in-scope requests
type transport struct {
	cache *Cache
	inner http.RoundTripper
}

// Transport wraps an HTTP transport with the cache's fetch policy. Passing
// nil wraps http.DefaultTransport. Each intercepted request proceeds
// independently; concurrent fetches have no ordering guarantee.
func (c *Cache) Transport(inner http.RoundTripper) http.RoundTripper {
	if inner == nil {
		inner = http.DefaultTransport
	}
	return &transport{
		cache: c,
		inner: inner,
	}
}

// RoundTrip implements http.RoundTripper. Only idempotent GET requests
// outside the dynamic API namespace are intercepted: the network is tried
// first, successful responses are recorded into the current generation, and
// a transport failure falls back to the cached entry for the exact resource
// key. A miss on a dead network propagates the original failure unchanged.
func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.cache.intercepts(req) {
		return t.inner.RoundTrip(req)
	}

	resp, err := t.inner.RoundTrip(req)
	if err == nil {
		if resp.StatusCode == http.StatusOK {
			// Bookkeeping failures never break the fetch path
			if storeErr := t.storeResponse(req, resp); storeErr != nil {
				slog.Warn("Failed to cache asset response", "url", req.URL.String(), "error", storeErr)
			}
		}
		return resp, nil
	}

	if cached, ok := t.loadResponse(req); ok {
		return cached, nil
	}
	return nil, err
}

// intercepts reports whether a request is in scope for the cache policy:
// an idempotent read that is not under the dynamic API path prefix
func (c *Cache) intercepts(req *http.Request) bool {
	if req.Method != http.MethodGet {
		return false
	}
	return !strings.HasPrefix(req.URL.Path, c.apiPrefix)
}

// storeResponse records a successful response in the current generation,
// leaving the response readable by the caller
func (t *transport) storeResponse(req *http.Request, resp *http.Response) error {
	// DumpResponse replaces resp.Body with a fresh reader over the same bytes
	dump, err := httputil.DumpResponse(resp, true)
	if err != nil {
		return err
	}
	return t.cache.put(req.URL.String(), dump)
}

// loadResponse rebuilds a cached response for the exact resource key
func (t *transport) loadResponse(req *http.Request) (*http.Response, bool) {
	data, ok := t.cache.get(req.URL.String())
	if !ok {
		return nil, false
	}

	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(data)), req)
	if err != nil {
		slog.Warn("Discarding unreadable cache entry", "url", req.URL.String(), "error", err)
		return nil, false
	}
	return resp, true
}
