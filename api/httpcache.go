package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"
)

// CacheAdaptor stores dumped HTTP responses. A nil adaptor disables caching.
type CacheAdaptor interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

type cacheTtlContextKey struct{}

type cachingTransport struct {
	next     http.RoundTripper
	cacheKey func(*http.Request) string
	cache    CacheAdaptor
}

func (c *cachingTransport) RoundTrip(request *http.Request) (*http.Response, error) {
	// only cache idempotent requests
	if c.cache == nil || (request.Method != http.MethodGet && request.Method != http.MethodHead) {
		return c.next.RoundTrip(request)
	}

	ctx := request.Context()

	ttl, ttlOk := ctx.Value(cacheTtlContextKey{}).(time.Duration)
	if !ttlOk || ttl == 0 {
		return c.next.RoundTrip(request)
	}

	requestKey := c.cacheKey(request)
	cachedResponse, cacheErr := c.cache.Get(ctx, requestKey)
	if cacheErr == nil {
		reader := bufio.NewReader(strings.NewReader(cachedResponse))

		response, readErr := http.ReadResponse(reader, request)
		if readErr == nil {
			return response, nil
		}
	}

	response, err := c.next.RoundTrip(request)
	if err != nil {
		return nil, err
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return response, nil
	}

	// best-effort store
	_ = c.cacheResponse(ctx, requestKey, response, ttl)

	return response, nil
}

func (c *cachingTransport) cacheResponse(
	ctx context.Context,
	key string,
	response *http.Response,
	ttl time.Duration,
) error {
	responseDump, dumpErr := httputil.DumpResponse(response, true)
	if dumpErr != nil {
		return dumpErr
	}

	return c.cache.Set(ctx, key, string(responseDump), ttl)
}

func ContextWithCachingTtl(ctx context.Context, ttl time.Duration) context.Context {
	return context.WithValue(ctx, cacheTtlContextKey{}, ttl)
}

func newCachingTransport(next http.RoundTripper, cache CacheAdaptor) http.RoundTripper {
	return &cachingTransport{
		next:     next,
		cacheKey: func(request *http.Request) string { return request.URL.String() },
		cache:    cache,
	}
}
