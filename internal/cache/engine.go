// Package cache provides the request-interception layer of the offline core.
// Every intercepted request is answered with a well-formed response: from the
// network, from the durable response cache, or synthesized when both fail.
package cache

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/ticketnest/core/internal/logging"
	"github.com/ticketnest/core/internal/models"
	"github.com/ticketnest/core/internal/store"
)

// Request is the intercepted outgoing call.
type Request struct {
	Method string
	URL    string
	Header map[string]string
	Body   []byte
}

// Response is what interception always yields. Offline marks a synthesized
// response produced because the network was unreachable; FromCache marks a
// response served from the durable cache.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
	Offline     bool
	FromCache   bool
}

// OK reports whether the response carries a success status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Fetcher performs the actual network call. A nil response with a non-nil
// error means transport failure (timeout, DNS, abort); an HTTP error status
// comes back as a response, not an error.
type Fetcher interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// MutationHandler receives non-GET API requests. The sync queue manager
// implements this: it forwards online, queues offline, and always returns a
// well-formed (possibly optimistic) response.
type MutationHandler interface {
	HandleMutation(ctx context.Context, req *Request) *Response
}

// Config holds the per-route policy tables.
type Config struct {
	APIPrefix      string   // paths under this prefix belong to the remote API
	CacheablePaths []string // API path prefixes whose GET responses are cached
	AssetPrefixes  []string // static/versioned asset paths served cache-first
	OfflinePage    []byte   // designated offline landing document
}

// DefaultConfig returns the default routing policy.
func DefaultConfig() *Config {
	return &Config{
		APIPrefix: "/api/",
		CacheablePaths: []string{
			"/api/events",
			"/api/orders",
			"/api/tickets",
		},
		AssetPrefixes: []string{"/static/", "/assets/"},
		OfflinePage:   []byte("<!doctype html><title>Offline</title><h1>You are offline</h1>"),
	}
}

// Engine decides, per intercepted request, whether to read from cache, fetch
// from network, or both, and how to update the cache afterward.
type Engine struct {
	store     *store.Store
	fetcher   Fetcher
	mutations MutationHandler

	mu  sync.RWMutex // guards cfg route tables, mutable at runtime
	cfg *Config
}

// NewEngine creates a cache strategy engine.
func NewEngine(st *store.Store, fetcher Fetcher, mutations MutationHandler, cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Engine{
		store:     st,
		fetcher:   fetcher,
		mutations: mutations,
		cfg:       cfg,
	}
}

// routeKind is the outcome of route classification.
type routeKind int

const (
	routeMutation routeKind = iota
	routeAPI
	routeAsset
	routeNavigation
	routePassthrough
)

// AddCacheRoute registers an additional API path prefix whose GET responses
// are cached. Used by the runtime control channel.
func (e *Engine) AddCacheRoute(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.cfg.CacheablePaths {
		if p == path {
			return
		}
	}
	e.cfg.CacheablePaths = append(e.cfg.CacheablePaths, path)
	logging.Info("Cache route registered", map[string]interface{}{"path": path})
}

// ClearCache drops every cached response. Entity partitions and the sync
// queue are untouched.
func (e *Engine) ClearCache(ctx context.Context) error {
	return e.store.ClearCachedResponses(ctx)
}

// classify applies the routing rules in order: mutations first, then API
// GETs, then assets, then document navigations.
func (e *Engine) classify(req *Request) routeKind {
	e.mu.RLock()
	defer e.mu.RUnlock()

	path := requestPath(req.URL)

	if req.Method != "GET" {
		if strings.HasPrefix(path, e.cfg.APIPrefix) {
			return routeMutation
		}
		return routePassthrough
	}

	if strings.HasPrefix(path, e.cfg.APIPrefix) {
		return routeAPI
	}

	for _, prefix := range e.cfg.AssetPrefixes {
		if strings.HasPrefix(path, prefix) {
			return routeAsset
		}
	}

	if accept, ok := req.Header["Accept"]; ok && strings.Contains(accept, "text/html") {
		return routeNavigation
	}

	return routePassthrough
}

// Handle intercepts a request and always returns a well-formed response.
// Network and storage errors never propagate to the caller.
func (e *Engine) Handle(ctx context.Context, req *Request) *Response {
	switch e.classify(req) {
	case routeMutation:
		return e.mutations.HandleMutation(ctx, req)
	case routeAPI:
		return e.networkFirst(ctx, req)
	case routeAsset:
		return e.cacheFirst(ctx, req)
	case routeNavigation:
		return e.navigationFallback(ctx, req)
	default:
		resp, err := e.fetcher.Do(ctx, req)
		if err != nil {
			return offlineAPIResponse(req.URL)
		}
		return resp
	}
}

// networkFirst attempts the network; on success it caches allow-listed
// responses, on transport failure it falls back to the last cached response
// for the exact URL, and with no cache it synthesizes an offline error.
func (e *Engine) networkFirst(ctx context.Context, req *Request) *Response {
	key := NormalizeURL(req.URL)

	resp, err := e.fetcher.Do(ctx, req)
	if err == nil {
		if resp.OK() && e.isCacheable(req.URL) {
			e.writeCache(ctx, key, resp)
		}
		return resp
	}

	cached, cerr := e.store.GetCachedResponse(ctx, key)
	if cerr == nil {
		return &Response{
			Status:      cached.Status,
			ContentType: cached.ContentType,
			Body:        cached.Body,
			FromCache:   true,
		}
	}

	return offlineAPIResponse(req.URL)
}

// cacheFirst serves assets from cache when present, otherwise fetches and
// populates the cache. Total failure yields a distinguishable offline status
// rather than an error.
func (e *Engine) cacheFirst(ctx context.Context, req *Request) *Response {
	key := NormalizeURL(req.URL)

	cached, err := e.store.GetCachedResponse(ctx, key)
	if err == nil {
		return &Response{
			Status:      cached.Status,
			ContentType: cached.ContentType,
			Body:        cached.Body,
			FromCache:   true,
		}
	}

	resp, ferr := e.fetcher.Do(ctx, req)
	if ferr != nil {
		return offlineAssetResponse(req.URL)
	}
	if resp.OK() {
		e.writeCache(ctx, key, resp)
	}
	return resp
}

// navigationFallback tries the network, then the cache, then the designated
// offline landing document.
func (e *Engine) navigationFallback(ctx context.Context, req *Request) *Response {
	key := NormalizeURL(req.URL)

	resp, err := e.fetcher.Do(ctx, req)
	if err == nil {
		if resp.OK() {
			e.writeCache(ctx, key, resp)
		}
		return resp
	}

	cached, cerr := e.store.GetCachedResponse(ctx, key)
	if cerr == nil {
		return &Response{
			Status:      cached.Status,
			ContentType: cached.ContentType,
			Body:        cached.Body,
			FromCache:   true,
		}
	}

	return &Response{
		Status:      200,
		ContentType: "text/html",
		Body:        e.cfg.OfflinePage,
		Offline:     true,
	}
}

// writeCache stores a response under the normalized URL. Storage failures
// are logged and dropped: the system degrades to cache-miss behavior.
func (e *Engine) writeCache(ctx context.Context, key string, resp *Response) {
	err := e.store.PutCachedResponse(ctx, &models.CachedResponse{
		URL:         key,
		Status:      resp.Status,
		ContentType: resp.ContentType,
		Body:        resp.Body,
	})
	if err != nil {
		logging.Error("Cache write failed", err,
			map[string]interface{}{"url": key})
	}
}

// isCacheable reports whether a GET response for this URL belongs in the
// durable cache.
func (e *Engine) isCacheable(rawURL string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	path := requestPath(rawURL)
	for _, prefix := range e.cfg.CacheablePaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// NormalizeURL produces the cache key for a request URL: query parameters
// sorted, fragment stripped.
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Fragment = ""

	q := u.Query()
	if len(q) > 0 {
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var b strings.Builder
		for _, k := range keys {
			vals := q[k]
			sort.Strings(vals)
			for _, v := range vals {
				if b.Len() > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(k))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
		u.RawQuery = b.String()
	}
	return u.String()
}

func requestPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Path
}
