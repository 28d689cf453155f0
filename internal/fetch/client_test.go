package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/retropick/internal/domain"
)

func TestDoCachesSuccessfulResponses(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "secret", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"bitcoin":{"usd":30000}}`)
	}))
	defer srv.Close()

	c := New(nil, WithCache(NewMemoryCache()))
	req := Request{URL: srv.URL, Headers: map[string]string{"authorization": "secret"}, CacheMaxAge: time.Minute}

	first, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	second, err := c.Do(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, first.OK())
	assert.Equal(t, int32(1), hits.Load())
}

func TestDoDoesNotCacheErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, "slow down")
	}))
	defer srv.Close()

	c := New(nil, WithCache(NewMemoryCache()))
	req := Request{Method: http.MethodPost, URL: srv.URL, Body: []byte(`{}`), CacheMaxAge: time.Minute}

	for i := 0; i < 2; i++ {
		resp, err := c.Do(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		assert.Equal(t, "slow down", resp.Body)
		assert.False(t, resp.OK())
	}
	assert.Equal(t, int32(2), hits.Load())
}

func TestDoWithoutMaxAgeSkipsCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	c := New(nil, WithCache(NewMemoryCache()))
	for i := 0; i < 2; i++ {
		_, err := c.Do(context.Background(), Request{URL: srv.URL})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), hits.Load())
}

func TestCacheKeyIgnoresHeaderCase(t *testing.T) {
	a := cacheKey(Request{Method: "GET", URL: "u", Headers: map[string]string{"x-api-key": "k"}})
	b := cacheKey(Request{Method: "GET", URL: "u", Headers: map[string]string{"X-Api-Key": "k"}})
	c := cacheKey(Request{Method: "GET", URL: "u", Headers: map[string]string{"X-Api-Key": "other"}})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestMemoryCacheExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMemoryCache()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(context.Background(), "k", []byte("v"), time.Second))
	got, err := m.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	now = now.Add(time.Second)
	_, err = m.Get(context.Background(), "k")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryCacheSweep(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMemoryCache()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "oracle:q1", []byte("a"), time.Second))
	require.NoError(t, m.Set(ctx, "oracle:q2", []byte("b"), time.Hour))
	now = now.Add(2 * time.Second)

	m.Cleanup()
	m.mu.Lock()
	assert.Len(t, m.entries, 1)
	assert.Contains(t, m.entries, "oracle:q2")
	m.mu.Unlock()
}

func TestMemoryCacheRunSweepsUntilCancelled(t *testing.T) {
	m := NewMemoryCache()
	require.NoError(t, m.Set(context.Background(), "k", []byte("v"), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, 5*time.Millisecond) }()

	assert.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.entries) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://example.com/v1/price", redactURL("https://user:pw@example.com/v1/price?key=abc"))
}
