package moon

import (
	"bytes"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"sync"

	"github.com/elazarl/goproxy"
	"github.com/golang/groupcache/lru"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scribe-cli/internal/network"
)

const (
	keyCacheSize = 100
	maxKeySize   = 64 << 10
)

var defaultKeyPattern = regexp.MustCompile(`^https://moonbook\.vn/video/AuthenticateLocal`)

// KeyCache remembers HLS key responses by URL. The key server answers a given
// URL only once, while yt-dlp may request it for every fragment, so repeats are
// served from the cache.
type KeyCache struct {
	pattern *regexp.Regexp
	logger  *zap.Logger

	mu    sync.Mutex
	cache *lru.Cache
}

func NewKeyCache(pattern *regexp.Regexp, size int, logger *zap.Logger) *KeyCache {
	if pattern == nil {
		pattern = defaultKeyPattern
	}
	if size <= 0 {
		size = keyCacheSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyCache{pattern: pattern, logger: logger.Named("key_cache"), cache: lru.New(size)}
}

// Install registers the cache hooks on the proxy.
func (c *KeyCache) Install(p *network.InterceptionProxy) {
	p.AddRequestHook(c.handleRequest)
	p.AddResponseHook(c.handleResponse)
}

func (c *KeyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}

func (c *KeyCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

func (c *KeyCache) add(key string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.cache.Get(key); !ok {
		c.cache.Add(key, body)
	}
}

func (c *KeyCache) matches(r *http.Request) bool {
	return r != nil && r.Method == http.MethodGet && c.pattern.MatchString(r.URL.String())
}

func (c *KeyCache) handleRequest(r *http.Request, _ *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	if !c.matches(r) {
		return r, nil
	}
	body, ok := c.get(r.URL.String())
	if !ok {
		return r, nil
	}
	c.logger.Debug("Replaying cached key.", zap.String("url", r.URL.String()))
	resp := goproxy.NewResponse(r, "application/octet-stream", http.StatusOK, string(body))
	resp.Header.Set("X-Scribe-Cache", "hit")
	return r, resp
}

func (c *KeyCache) handleResponse(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	req := ctx.Req
	if req == nil {
		req = resp.Request
	}
	if resp.StatusCode != http.StatusOK || !c.matches(req) || resp.Header.Get("X-Scribe-Cache") == "hit" {
		return resp
	}
	if err := network.DecompressResponse(resp); err != nil {
		c.logger.Warn("Cannot decode key response.", zap.Error(err))
		return resp
	}

	wire := resp.Body
	body, err := io.ReadAll(io.LimitReader(wire, maxKeySize+1))
	if err != nil || len(body) > maxKeySize {
		c.logger.Warn("Key response not cached.", zap.Int("bytes", len(body)), zap.Error(err))
		resp.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(body), wire), wire}
		return resp
	}
	wire.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	c.add(req.URL.String(), body)
	return resp
}
