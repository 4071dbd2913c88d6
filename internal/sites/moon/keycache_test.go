package moon

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scribe-cli/internal/network"
)

func startProxy(t *testing.T, cache *KeyCache) *http.Client {
	t.Helper()
	p, err := network.NewInterceptionProxy("127.0.0.1:0", nil, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	cache.Install(p)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	})
	proxyURL, err := url.Parse(p.URL())
	require.NoError(t, err)
	return &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}, Timeout: 5 * time.Second}
}

func get(t *testing.T, c *http.Client, u string) (int, string) {
	t.Helper()
	resp, err := c.Get(u)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestKeyCache_ReplaysFirstKey(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if n > 1 && r.URL.Query().Get("id") == "1" {
			// The real key server refuses repeats.
			http.Error(w, "already used", http.StatusForbidden)
			return
		}
		fmt.Fprintf(w, "key-%s-%d", r.URL.Query().Get("id"), n)
	}))
	defer upstream.Close()

	cache := NewKeyCache(regexp.MustCompile(`/video/AuthenticateLocal`), 10, zaptest.NewLogger(t))
	client := startProxy(t, cache)
	keyURL := upstream.URL + "/video/AuthenticateLocal?id=1"

	status, body := get(t, client, keyURL)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "key-1-1", body)

	status, body = get(t, client, keyURL)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "key-1-1", body, "repeat is served from the cache")
	assert.EqualValues(t, 1, hits.Load(), "upstream is not contacted again")

	_, body = get(t, client, upstream.URL+"/video/AuthenticateLocal?id=2")
	assert.Equal(t, "key-2-2", body)
	assert.Equal(t, 2, cache.Len())

	_, body = get(t, client, upstream.URL+"/other?id=3")
	assert.Equal(t, "key-3-3", body)
	assert.Equal(t, 2, cache.Len(), "non-key traffic is not cached")
}

func TestKeyCache_SkipsFailures(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "nope", http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, "real-key")
	}))
	defer upstream.Close()

	cache := NewKeyCache(regexp.MustCompile(`/video/AuthenticateLocal`), 10, zaptest.NewLogger(t))
	client := startProxy(t, cache)
	keyURL := upstream.URL + "/video/AuthenticateLocal"

	status, _ := get(t, client, keyURL)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Zero(t, cache.Len())

	fail.Store(false)
	_, body := get(t, client, keyURL)
	assert.Equal(t, "real-key", body)
	assert.Equal(t, 1, cache.Len())
}

func TestKeyCache_Eviction(t *testing.T) {
	cache := NewKeyCache(nil, 2, nil)
	cache.add("a", []byte("1"))
	cache.add("b", []byte("2"))
	cache.add("a", []byte("ignored"))
	cache.add("c", []byte("3"))

	_, ok := cache.get("b")
	assert.False(t, ok, "least recently used entry is evicted")
	v, ok := cache.get("a")
	require.True(t, ok)
	assert.Equal(t, "1", string(v), "the first key wins")
	assert.True(t, defaultKeyPattern.MatchString("https://moonbook.vn/video/AuthenticateLocal?x=1"))
}
