// Package fetch performs upstream HTTP requests for the pipeline. Responses
// can be cached for a bounded interval so that replicas executing the same
// step within that window observe the same body.
package fetch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/retropick/internal/domain"
)

// maxBodyBytes caps how much of an upstream body is read.
const maxBodyBytes = 4 << 20

// Request describes one upstream call. CacheMaxAge > 0 makes successful
// responses cache-eligible for that long.
type Request struct {
	Method      string
	URL         string
	Headers     map[string]string
	Body        []byte
	CacheMaxAge time.Duration
}

// Response is the observed result of a request.
type Response struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"body"`
}

// OK reports whether the status code is 2xx.
func (r Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// StatusError is returned by callers that require a 2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: upstream status %d: %s", e.StatusCode, truncate(e.Body, 256))
}

// Client executes requests with optional caching and rate limiting.
type Client struct {
	http    *http.Client
	cache   domain.ResponseCache
	limiter domain.RateLimiter
	group   singleflight.Group
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithCache sets the response cache.
func WithCache(c domain.ResponseCache) Option { return func(cl *Client) { cl.cache = c } }

// WithRateLimiter throttles requests per upstream host.
func WithRateLimiter(l domain.RateLimiter) Option { return func(cl *Client) { cl.limiter = l } }

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(cl *Client) { cl.http = h } }

// New creates a Client.
func New(logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger.With(slog.String("component", "fetch")),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Do executes req. Non-2xx responses are returned, not turned into errors,
// and are never cached.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	key := cacheKey(req)

	cacheable := req.CacheMaxAge > 0 && c.cache != nil
	if cacheable {
		if resp, ok := c.cached(ctx, key); ok {
			return resp, nil
		}
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// A flight that finished just before this one may have filled the cache.
		if cacheable {
			if resp, ok := c.cached(ctx, key); ok {
				return resp, nil
			}
		}
		resp, err := c.roundTrip(ctx, req)
		if err != nil {
			return Response{}, err
		}
		if resp.OK() && cacheable {
			if err := c.cache.Set(ctx, key, []byte(resp.Body), req.CacheMaxAge); err != nil {
				c.logger.WarnContext(ctx, "response cache write failed", slog.String("error", err.Error()))
			}
		}
		return resp, nil
	})
	if err != nil {
		return Response{}, err
	}
	return v.(Response), nil
}

func (c *Client) cached(ctx context.Context, key string) (Response, bool) {
	body, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.logger.WarnContext(ctx, "response cache read failed", slog.String("error", err.Error()))
		}
		return Response{}, false
	}
	return Response{StatusCode: http.StatusOK, Body: string(body)}, true
}

func (c *Client) roundTrip(ctx context.Context, req Request) (Response, error) {
	if c.limiter != nil {
		if u, err := url.Parse(req.URL); err == nil && u.Host != "" {
			if err := c.limiter.Wait(ctx, "fetch:"+u.Host); err != nil {
				return Response{}, fmt.Errorf("fetch: %w", err)
			}
		}
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return Response{}, fmt.Errorf("fetch: build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("fetch: %s %s: %w", req.Method, redactURL(req.URL), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Response{}, fmt.Errorf("fetch: read body: %w", err)
	}

	c.logger.DebugContext(ctx, "upstream request",
		slog.String("method", req.Method),
		slog.String("url", redactURL(req.URL)),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)
	return Response{StatusCode: resp.StatusCode, Body: string(data)}, nil
}

// cacheKey hashes everything that identifies a request.
func cacheKey(req Request) string {
	h := sha256.New()
	h.Write([]byte(req.Method))
	h.Write([]byte{0})
	h.Write([]byte(req.URL))
	h.Write([]byte{0})
	names := make([]string, 0, len(req.Headers))
	for k := range req.Headers {
		names = append(names, http.CanonicalHeaderKey(k))
	}
	sort.Strings(names)
	for _, k := range names {
		h.Write([]byte(k))
		h.Write([]byte{':'})
		h.Write([]byte(headerValue(req.Headers, k)))
		h.Write([]byte{0})
	}
	h.Write(req.Body)
	return "fetch:" + hex.EncodeToString(h.Sum(nil))
}

func headerValue(h map[string]string, canonical string) string {
	for k, v := range h {
		if http.CanonicalHeaderKey(k) == canonical {
			return v
		}
	}
	return ""
}

// redactURL drops the query string, which frequently carries API keys.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
